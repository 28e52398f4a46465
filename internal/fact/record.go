package fact

import (
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/factgraph/internal/ir"
)

// HashDomain versions the canonical payload and digest of a fact.
//
// Payload: RFC 8785 JSON of
//
//	{"fields": {...}, "predecessors": {role: ref | [ref, ...]}, "type": T}
//
// where ref is {"hash": H, "type": T}. List roles are sorted by (type, hash)
// and de-duplicated; empty list roles are dropped.
// Digest: hex(SHA-256(HashDomain || 0x00 || payload)).
const HashDomain = "factgraph/fact/v1"

// Record is an immutable fact. Its hash is computed at construction and the
// fields and predecessors are only reachable through copying accessors, so
// a Record can never disagree with its own hash.
//
// The zero Record is invalid; use NewRecord or Rehydrate.
type Record struct {
	ref          Reference
	fields       ir.Object
	predecessors map[string]Predecessor
}

// NewRecord builds a Record and computes its hash.
func NewRecord(factType string, fields ir.Object, predecessors map[string]Predecessor) (Record, error) {
	if factType == "" {
		return Record{}, fmt.Errorf("fact type is required")
	}
	preds, err := normalizePredecessors(predecessors)
	if err != nil {
		return Record{}, fmt.Errorf("fact %s: %w", factType, err)
	}
	fields = fields.Clone()
	hash, err := computeHash(factType, fields, preds)
	if err != nil {
		return Record{}, fmt.Errorf("fact %s: %w", factType, err)
	}
	return Record{
		ref:          Reference{Type: factType, Hash: hash},
		fields:       fields,
		predecessors: preds,
	}, nil
}

// MustRecord is like NewRecord but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRecord(factType string, fields ir.Object, predecessors map[string]Predecessor) Record {
	r, err := NewRecord(factType, fields, predecessors)
	if err != nil {
		panic(err)
	}
	return r
}

// Rehydrate rebuilds a Record read from storage or the wire and checks that
// its recomputed hash matches the claimed reference.
func Rehydrate(claimed Reference, fields ir.Object, predecessors map[string]Predecessor) (Record, error) {
	r, err := NewRecord(claimed.Type, fields, predecessors)
	if err != nil {
		return Record{}, err
	}
	if r.ref.Hash != claimed.Hash {
		return Record{}, &IntegrityError{Claimed: claimed, Computed: r.ref}
	}
	return r, nil
}

// Reference returns the fact's identity.
func (r Record) Reference() Reference { return r.ref }

// Type returns the fact type.
func (r Record) Type() string { return r.ref.Type }

// Hash returns the content hash.
func (r Record) Hash() string { return r.ref.Hash }

// IsZero reports whether r was never constructed.
func (r Record) IsZero() bool { return r.ref.IsZero() }

// Fields returns a deep copy of the fact's fields.
func (r Record) Fields() ir.Object {
	return r.fields.Clone()
}

// Field returns a copy of one field value.
func (r Record) Field(name string) (ir.Value, bool) {
	v, ok := r.fields[name]
	if !ok {
		return nil, false
	}
	return ir.Clone(v), true
}

// Roles returns predecessor role names in sorted order.
func (r Record) Roles() []string {
	roles := make([]string, 0, len(r.predecessors))
	for role := range r.predecessors {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Predecessor returns the value of one role.
func (r Record) Predecessor(role string) (Predecessor, bool) {
	p, ok := r.predecessors[role]
	return p, ok
}

// Predecessors returns a copy of every role.
func (r Record) Predecessors() map[string]Predecessor {
	out := make(map[string]Predecessor, len(r.predecessors))
	for role, p := range r.predecessors {
		out[role] = p.normalized()
	}
	return out
}

// PredecessorsOf returns the references held by role, or nil.
func (r Record) PredecessorsOf(role string) []Reference {
	return r.predecessors[role].References()
}

// AllPredecessors flattens every role, sorted roles first then list order.
// A reference held by two roles appears twice.
func (r Record) AllPredecessors() []Reference {
	var out []Reference
	for _, role := range r.Roles() {
		out = append(out, r.predecessors[role].refs...)
	}
	return out
}

// Equal reports whether two records are the same fact.
func (r Record) Equal(other Record) bool {
	return r.ref == other.ref
}

func normalizePredecessors(in map[string]Predecessor) (map[string]Predecessor, error) {
	out := make(map[string]Predecessor, len(in))
	for role, p := range in {
		if role == "" {
			return nil, fmt.Errorf("predecessor role name is required")
		}
		for _, ref := range p.refs {
			if err := ref.validate(); err != nil {
				return nil, fmt.Errorf("role %q: %w", role, err)
			}
		}
		if !p.list && len(p.refs) != 1 {
			return nil, fmt.Errorf("role %q: single predecessor has %d references", role, len(p.refs))
		}
		n := p.normalized()
		if n.list && len(n.refs) == 0 {
			continue
		}
		out[role] = n
	}
	return out, nil
}

func computeHash(factType string, fields ir.Object, preds map[string]Predecessor) (string, error) {
	predObj := make(ir.Object, len(preds))
	for role, p := range preds {
		if p.list {
			arr := make(ir.Array, len(p.refs))
			for i, ref := range p.refs {
				arr[i] = refValue(ref)
			}
			predObj[role] = arr
			continue
		}
		predObj[role] = refValue(p.refs[0])
	}
	if fields == nil {
		fields = ir.Object{}
	}
	payload := ir.Object{
		"type":         ir.String(factType),
		"fields":       fields,
		"predecessors": predObj,
	}
	return ir.HashValue(HashDomain, payload)
}

func refValue(ref Reference) ir.Object {
	return ir.Object{"type": ir.String(ref.Type), "hash": ir.String(ref.Hash)}
}

// SortRecords orders records by reference, for stable output.
func SortRecords(records []Record) {
	slices.SortFunc(records, func(a, b Record) int { return Compare(a.ref, b.ref) })
}
