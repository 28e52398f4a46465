package observable

import (
	"context"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/matcher"
)

// visibility hides facts of the current batch that have not been notified
// yet. Hidden facts are only reachable as successors, so only Successors
// filters.
type visibility struct {
	matcher.Graph
	hidden map[fact.Reference]struct{}
	extra  fact.Reference
}

func (v visibility) isHidden(ref fact.Reference) bool {
	if ref == v.extra {
		return true
	}
	_, ok := v.hidden[ref]
	return ok
}

func (v visibility) Successors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	refs, err := v.Graph.Successors(ctx, ref, role)
	if err != nil {
		return nil, err
	}
	out := refs[:0:0]
	for _, r := range refs {
		if !v.isHidden(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// without also hides ref.
func (v visibility) without(ref fact.Reference) visibility {
	return visibility{Graph: v.Graph, hidden: v.hidden, extra: ref}
}
