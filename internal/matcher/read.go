package matcher

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
	"github.com/roach88/factgraph/internal/specification"
	"github.com/roach88/factgraph/internal/storage"
)

// tuple binds labels to facts.
type tuple map[string]fact.Reference

func (t tuple) with(name string, ref fact.Reference) tuple {
	out := make(tuple, len(t)+1)
	maps.Copy(out, t)
	out[name] = ref
	return out
}

// Read evaluates spec from given, one reference per given label in order.
//
// Each match extends every tuple with the candidates its first path
// condition produces; further conditions filter candidates. Conditions on
// one match combine with AND. Results are projected per tuple.
func Read(ctx context.Context, g Graph, given []fact.Reference, spec specification.Specification) ([]storage.ProjectedResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if len(given) != len(spec.Given) {
		return nil, fmt.Errorf("read: %d given references for %d given labels", len(given), len(spec.Given))
	}
	start := tuple{}
	for i, l := range spec.Given {
		if given[i].Type != l.Type {
			return nil, fmt.Errorf("read: given %s is %s, label %s expects %s", l.Name, given[i].Type, l.Name, l.Type)
		}
		start[l.Name] = given[i]
	}

	s := newSession(g)
	tuples, err := s.matchAll(ctx, []tuple{start}, spec.Matches)
	if err != nil {
		return nil, err
	}
	return s.projectAll(ctx, tuples, spec.Matches, spec.Projection)
}

func (s *session) matchAll(ctx context.Context, tuples []tuple, matches []specification.Match) ([]tuple, error) {
	for _, m := range matches {
		var next []tuple
		for _, t := range tuples {
			candidates, err := s.match(ctx, t, m)
			if err != nil {
				return nil, err
			}
			for _, c := range candidates {
				next = append(next, t.with(m.Unknown.Name, c))
			}
		}
		tuples = next
		if len(tuples) == 0 {
			break
		}
	}
	return tuples, nil
}

// match returns the facts that satisfy every condition of m in t.
func (s *session) match(ctx context.Context, t tuple, m specification.Match) ([]fact.Reference, error) {
	first := m.Conditions[0].(specification.PathCondition)
	candidates, err := s.walkPath(ctx, t, first, m.Unknown.Type)
	if err != nil {
		return nil, err
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		ok, err := s.satisfies(ctx, t.with(m.Unknown.Name, c), m.Unknown, m.Conditions[1:])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// walkPath produces candidates for the unknown: up RolesRight from the
// right label, then down RolesLeft reversed.
func (s *session) walkPath(ctx context.Context, t tuple, pc specification.PathCondition, unknownType string) ([]fact.Reference, error) {
	current := []fact.Reference{t[pc.LabelRight]}
	for _, r := range pc.RolesRight {
		var err error
		if current, err = s.step(ctx, current, r.Name, false, r.TargetType); err != nil {
			return nil, err
		}
	}
	for i := len(pc.RolesLeft) - 1; i >= 0; i-- {
		reached := unknownType
		if i > 0 {
			reached = pc.RolesLeft[i-1].TargetType
		}
		var err error
		if current, err = s.step(ctx, current, pc.RolesLeft[i].Name, true, reached); err != nil {
			return nil, err
		}
	}
	if len(pc.RolesLeft) == 0 {
		current = filterType(current, unknownType)
	}
	return current, nil
}

// step follows one role from every ref in from, de-duplicating while
// keeping first-seen order.
func (s *session) step(ctx context.Context, from []fact.Reference, role string, successor bool, factType string) ([]fact.Reference, error) {
	seen := map[fact.Reference]struct{}{}
	var out []fact.Reference
	for _, ref := range from {
		refs, err := s.follow(ctx, ref, role, successor, factType)
		if err != nil {
			return nil, fmt.Errorf("follow %s from %s: %w", role, ref, err)
		}
		for _, r := range refs {
			if _, dup := seen[r]; !dup {
				seen[r] = struct{}{}
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func filterType(refs []fact.Reference, factType string) []fact.Reference {
	out := refs[:0:0]
	for _, r := range refs {
		if r.Type == factType {
			out = append(out, r)
		}
	}
	return out
}

func (s *session) satisfies(ctx context.Context, t tuple, unknown specification.Label, conditions []specification.Condition) (bool, error) {
	for _, c := range conditions {
		var ok bool
		var err error
		switch cond := c.(type) {
		case specification.PathCondition:
			ok, err = s.pathHolds(ctx, t, unknown, cond)
		case specification.ExistentialCondition:
			var found []tuple
			found, err = s.matchAll(ctx, []tuple{t}, cond.Matches)
			ok = (len(found) > 0) == cond.Exists
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// pathHolds checks an extra path condition: the predecessor walks from the
// unknown and from the right label must meet.
func (s *session) pathHolds(ctx context.Context, t tuple, unknown specification.Label, pc specification.PathCondition) (bool, error) {
	left := []fact.Reference{t[unknown.Name]}
	for _, r := range pc.RolesLeft {
		var err error
		if left, err = s.step(ctx, left, r.Name, false, r.TargetType); err != nil {
			return false, err
		}
	}
	right := []fact.Reference{t[pc.LabelRight]}
	for _, r := range pc.RolesRight {
		var err error
		if right, err = s.step(ctx, right, r.Name, false, r.TargetType); err != nil {
			return false, err
		}
	}
	for _, l := range left {
		for _, r := range right {
			if l == r {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *session) projectAll(ctx context.Context, tuples []tuple, matches []specification.Match, p specification.Projection) ([]storage.ProjectedResult, error) {
	results := make([]storage.ProjectedResult, 0, len(tuples))
	for _, t := range tuples {
		v, err := s.project(ctx, t, matches, p)
		if err != nil {
			return nil, err
		}
		results = append(results, storage.ProjectedResult{Tuple: map[string]fact.Reference(t), Result: v})
	}
	return results, nil
}

func (s *session) project(ctx context.Context, t tuple, matches []specification.Match, p specification.Projection) (any, error) {
	switch proj := p.(type) {
	case nil:
		unknowns := make(map[string]fact.Reference, len(matches))
		for _, m := range matches {
			unknowns[m.Unknown.Name] = t[m.Unknown.Name]
		}
		return unknowns, nil
	case specification.FactProjection:
		return t[proj.Label], nil
	case specification.HashProjection:
		return t[proj.Label].Hash, nil
	case specification.FieldProjection:
		r, err := s.load(ctx, t[proj.Label])
		if err != nil {
			return nil, fmt.Errorf("project %s.%s: %w", proj.Label, proj.Field, err)
		}
		if v, ok := r.Field(proj.Field); ok {
			return v, nil
		}
		return ir.Null{}, nil
	case specification.SpecificationProjection:
		nested, err := s.matchAll(ctx, []tuple{t}, proj.Matches)
		if err != nil {
			return nil, err
		}
		return s.projectAll(ctx, nested, proj.Matches, proj.Projection)
	case specification.CompositeProjection:
		out := make(map[string]any, len(proj.Components))
		for _, c := range proj.Components {
			v, err := s.project(ctx, t, matches, c.Projection)
			if err != nil {
				return nil, err
			}
			out[c.Name] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported projection %T", p)
	}
}
