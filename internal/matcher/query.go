package matcher

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/storage"
)

// Query walks q from start. Every join extends each path by the fact it
// reaches; property and existential conditions filter paths without
// extending them. A query without joins yields one empty path when its
// conditions hold for start, and none otherwise.
func Query(ctx context.Context, g Graph, start fact.Reference, q query.Query) ([]storage.FactPath, error) {
	return newSession(g).run(ctx, start, q.Steps())
}

type partial struct {
	head fact.Reference
	path storage.FactPath
}

func (s *session) run(ctx context.Context, start fact.Reference, steps []query.Step) ([]storage.FactPath, error) {
	current := []partial{{head: start}}
	for _, step := range steps {
		if len(current) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []partial
		switch st := step.(type) {
		case query.Join:
			for _, p := range current {
				refs, err := s.follow(ctx, p.head, st.Role, st.Direction == query.Successor, "")
				if err != nil {
					return nil, fmt.Errorf("join %s.%s from %s: %w", st.Direction, st.Role, p.head, err)
				}
				for _, ref := range refs {
					path := make(storage.FactPath, len(p.path), len(p.path)+1)
					copy(path, p.path)
					next = append(next, partial{head: ref, path: append(path, ref)})
				}
			}
		case query.PropertyCondition:
			for _, p := range current {
				ok, err := s.property(ctx, p.head, st)
				if err != nil {
					return nil, err
				}
				if ok {
					next = append(next, p)
				}
			}
		case query.ExistentialCondition:
			for _, p := range current {
				sub, err := s.run(ctx, p.head, st.Steps)
				if err != nil {
					return nil, err
				}
				if (len(sub) > 0) == (st.Quantifier == query.Exists) {
					next = append(next, p)
				}
			}
		default:
			return nil, fmt.Errorf("unsupported step %T", step)
		}
		current = next
	}

	paths := make([]storage.FactPath, len(current))
	for i, p := range current {
		if p.path == nil {
			p.path = storage.FactPath{}
		}
		paths[i] = p.path
	}
	return paths, nil
}

// property checks F.type against the reference and any other property
// against the loaded record's field rendered as a string.
func (s *session) property(ctx context.Context, ref fact.Reference, pc query.PropertyCondition) (bool, error) {
	if pc.Name == query.TypeProperty {
		return ref.Type == pc.Value, nil
	}
	r, err := s.load(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("property %s of %s: %w", pc.Name, ref, err)
	}
	v, ok := r.Field(pc.Name)
	if !ok {
		return false, nil
	}
	return fieldEquals(v, pc.Value), nil
}

func fieldEquals(v ir.Value, want string) bool {
	switch val := v.(type) {
	case ir.String:
		return string(val) == want
	case ir.Int:
		return strconv.FormatInt(int64(val), 10) == want
	case ir.Bool:
		return strconv.FormatBool(bool(val)) == want
	default:
		return false
	}
}
