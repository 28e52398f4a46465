package inverse

import (
	"fmt"
	"slices"

	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
)

// Invert compiles q, walked from a root of unknown type.
func Invert(q query.Query) ([]Inverse, error) {
	return InvertFrom("", q)
}

// InvertFrom compiles q walked from a root of rootType. A known root type
// adds a type check at the end of every affected walk.
//
// A query with no joins has nothing to invert and is rejected. Predecessor
// joins yield no rule: the facts they reach exist before their successors.
// A successor join must be followed by F.type so the rule knows what
// triggers it.
func InvertFrom(rootType string, q query.Query) ([]Inverse, error) {
	if err := query.Validate(q); err != nil {
		return nil, fmt.Errorf("invert: %w", err)
	}
	if q.PathLength() == 0 {
		return nil, specification.NewMalformedError(specification.CodeNoSteps,
			"query %q has no joins to invert", q.String())
	}
	c := &compiler{}
	root := &position{factType: rootType}
	if err := c.main(q.Steps(), root); err != nil {
		return nil, err
	}
	return c.inverses, nil
}

// InvertSpecification lowers a linear single-given specification and
// compiles it from the given's type.
func InvertSpecification(spec specification.Specification) ([]Inverse, error) {
	q, err := spec.ToQuery()
	if err != nil {
		return nil, err
	}
	return InvertFrom(spec.Given[0].Type, q)
}

// position is the fact a walk has reached.
type position struct {
	factType string
	// filters applied to this fact so far (property and existential
	// conditions), in order.
	filters []query.Step
	// back walks from this fact to the root.
	back []query.Step
}

// stepBack is the walk from a successor of p (reached through join) back
// to the root: undo the join, re-check p, then p's own way back.
func (p *position) stepBack(join query.Join) []query.Step {
	steps := []query.Step{query.Join{Direction: join.Direction.Flip(), Role: join.Role}}
	if p.factType != "" {
		steps = append(steps, query.TypeIs(p.factType))
	}
	steps = append(steps, p.filters...)
	return append(steps, p.back...)
}

type compiler struct {
	inverses []Inverse
}

// typeAfter returns the type asserted right after the join at i, and the
// index of the next step.
func typeAfter(steps []query.Step, i int) (string, int) {
	if i+1 < len(steps) {
		if pc, ok := steps[i+1].(query.PropertyCondition); ok && pc.Name == query.TypeProperty {
			return pc.Value, i + 2
		}
	}
	return "", i + 1
}

func optional(steps []query.Step) *query.Query {
	if len(steps) == 0 {
		return nil
	}
	q := query.New(steps...)
	return &q
}

func (c *compiler) main(steps []query.Step, pos *position) error {
	// pivotRest is what follows the current main-chain fact's type check.
	pivotRest := steps
	for i := 0; i < len(steps); {
		switch s := steps[i].(type) {
		case query.Join:
			factType, next := typeAfter(steps, i)
			if s.Direction == query.Successor && factType == "" {
				return untypedSuccessor(s)
			}
			back := pos.stepBack(s)
			if s.Direction == query.Successor {
				added := query.New(steps[next:]...)
				c.inverses = append(c.inverses, Inverse{
					AppliedToType: factType,
					Affected:      query.New(back...),
					Added:         &added,
				})
			}
			pos = &position{factType: factType, back: back}
			pivotRest = steps[next:]
			i = next
		case query.PropertyCondition:
			pos.filters = append(pos.filters, s)
			i++
		case query.ExistentialCondition:
			w := conditionWalk{
				compiler:  c,
				pivotRest: pivotRest,
			}
			if err := w.walk(s.Steps, pos, polarityOf(s.Quantifier), nil); err != nil {
				return err
			}
			pos.filters = append(pos.filters, s)
			i++
		}
	}
	return nil
}

func polarityOf(q query.Quantifier) int {
	if q == query.Exists {
		return 1
	}
	return -1
}

// conditionWalk compiles the joins inside the conditions attached to one
// pivot.
type conditionWalk struct {
	compiler  *compiler
	pivotRest []query.Step
}

// walk visits steps inside a condition. path holds the joins and type
// checks from the pivot to pos. Filters met before the first join apply to
// pos only within this condition, so pos is copied.
func (w *conditionWalk) walk(steps []query.Step, pos *position, polarity int, path []query.Step) error {
	pos = &position{factType: pos.factType, filters: slices.Clone(pos.filters), back: pos.back}
	for i := 0; i < len(steps); {
		switch s := steps[i].(type) {
		case query.Join:
			factType, next := typeAfter(steps, i)
			if s.Direction == query.Successor && factType == "" {
				return untypedSuccessor(s)
			}
			back := pos.stepBack(s)
			here := append(append([]query.Step(nil), path...), s)
			if factType != "" {
				here = append(here, query.TypeIs(factType))
			}
			if s.Direction == query.Successor {
				recheck := query.New(w.pivotRest...)
				inv := Inverse{
					AppliedToType: factType,
					Affected:      query.New(back...),
					Backtrack:     countJoins(here),
					Guard:         optional(steps[next:]),
					Recheck:       &recheck,
				}
				if polarity > 0 {
					added := query.New(w.pivotRest...)
					inv.Added = &added
				} else {
					removed := query.New(here...)
					inv.Removed = &removed
				}
				w.compiler.inverses = append(w.compiler.inverses, inv)
			}
			pos = &position{factType: factType, back: back}
			path = here
			i = next
		case query.PropertyCondition:
			pos.filters = append(pos.filters, s)
			i++
		case query.ExistentialCondition:
			if err := w.walk(s.Steps, pos, polarity*polarityOf(s.Quantifier), path); err != nil {
				return err
			}
			pos.filters = append(pos.filters, s)
			i++
		}
	}
	return nil
}

func countJoins(steps []query.Step) int {
	n := 0
	for _, s := range steps {
		if _, ok := s.(query.Join); ok {
			n++
		}
	}
	return n
}

func untypedSuccessor(j query.Join) error {
	return specification.NewMalformedError(specification.CodeMissingType,
		"successor join S.%s must be followed by a type condition", j.Role)
}
