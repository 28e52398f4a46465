// Package storage defines the collaborator contract that every fact store
// satisfies: durable, idempotent, atomic-per-batch persistence plus the
// point lookups the matcher needs.
package storage

import (
	"context"
	"strings"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
)

// Storage is implemented by the memory and SQL stores and by the
// notification engine, which decorates a store.
type Storage interface {
	// Save persists envelopes atomically and returns, in input order, the
	// ones that were not already stored. Signatures on already stored facts
	// are merged. Saving the same envelopes again returns nothing.
	Save(ctx context.Context, envelopes []fact.Envelope) ([]fact.Envelope, error)

	// Query walks q from start and returns the ordered result paths.
	Query(ctx context.Context, start fact.Reference, q query.Query) ([]FactPath, error)

	// Read evaluates spec from the given tuple.
	Read(ctx context.Context, given []fact.Reference, spec specification.Specification) ([]ProjectedResult, error)

	// WhichExist returns the subset of refs that are stored, in input order.
	WhichExist(ctx context.Context, refs []fact.Reference) ([]fact.Reference, error)

	// Load returns the records for refs in input order. A ref that is not
	// stored yields an error wrapping ErrNotFound.
	Load(ctx context.Context, refs []fact.Reference) ([]fact.Record, error)

	Close() error
}

// FactPath is one query result: the facts reached by each join, in order.
// The start fact is not included.
type FactPath []fact.Reference

// Last returns the final element of the path.
func (p FactPath) Last() (fact.Reference, bool) {
	if len(p) == 0 {
		return fact.Reference{}, false
	}
	return p[len(p)-1], true
}

// Equal reports element-wise equality.
func (p FactPath) Equal(other FactPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

func (p FactPath) String() string {
	parts := make([]string, len(p))
	for i, ref := range p {
		parts[i] = ref.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ProjectedResult is one row of a specification read. Tuple binds every
// given and unknown label to its fact; Result is the projected value:
//   - fact.Reference for a fact projection
//   - ir.Value for a field projection (ir.Null{} when the field is absent)
//   - string for a hash projection
//   - []ProjectedResult for a nested specification
//   - map[string]any for a composite projection
//   - map[string]fact.Reference of the unknowns when there is no projection
type ProjectedResult struct {
	Tuple  map[string]fact.Reference
	Result any
}
