package matcher

import (
	"context"

	"github.com/roach88/factgraph/internal/fact"
)

// Graph is the read surface the matcher walks.
type Graph interface {
	// Load returns records for refs in input order, failing with
	// storage.ErrNotFound for any ref that is not stored.
	Load(ctx context.Context, refs []fact.Reference) ([]fact.Record, error)
	// Predecessors returns the references ref holds under role.
	Predecessors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error)
	// Successors returns the stored facts that reference ref under role,
	// ordered by insertion then hash.
	Successors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error)
}

// session caches records loaded during one evaluation.
type session struct {
	g       Graph
	records map[fact.Reference]fact.Record
}

func newSession(g Graph) *session {
	return &session{g: g, records: map[fact.Reference]fact.Record{}}
}

func (s *session) load(ctx context.Context, ref fact.Reference) (fact.Record, error) {
	if r, ok := s.records[ref]; ok {
		return r, nil
	}
	recs, err := s.g.Load(ctx, []fact.Reference{ref})
	if err != nil {
		return fact.Record{}, err
	}
	s.records[ref] = recs[0]
	return recs[0], nil
}

func (s *session) predecessors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	if r, ok := s.records[ref]; ok {
		return r.PredecessorsOf(role), nil
	}
	return s.g.Predecessors(ctx, ref, role)
}

// follow returns the facts one join away from ref, restricted to factType
// when it is set.
func (s *session) follow(ctx context.Context, ref fact.Reference, role string, successor bool, factType string) ([]fact.Reference, error) {
	var refs []fact.Reference
	var err error
	if successor {
		refs, err = s.g.Successors(ctx, ref, role)
	} else {
		refs, err = s.predecessors(ctx, ref, role)
	}
	if err != nil || factType == "" {
		return refs, err
	}
	out := refs[:0:0]
	for _, r := range refs {
		if r.Type == factType {
			out = append(out, r)
		}
	}
	return out, nil
}
