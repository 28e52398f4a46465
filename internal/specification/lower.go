package specification

import (
	"github.com/roach88/factgraph/internal/query"
)

// ToQuery lowers a linear specification to the equivalent legacy query
// walked from its single given. Linear means:
//   - exactly one given
//   - each match has one path condition, anchored on the previous unknown
//     (or the given, for the first match)
//   - existential conditions are linear in the same way, anchored on the
//     unknown they constrain
//
// The projection does not take part; the query yields the matched paths.
func (s Specification) ToQuery() (query.Query, error) {
	if err := s.Validate(); err != nil {
		return query.Query{}, err
	}
	if len(s.Given) != 1 {
		return query.Query{}, NewMalformedError(CodeMultiGiven, "expected exactly one given, found %d", len(s.Given))
	}
	if len(s.Matches) == 0 {
		return query.Query{}, NewMalformedError(CodeNoSteps, "specification has no matches")
	}
	steps, err := lowerMatches(s.Matches, s.Given[0])
	if err != nil {
		return query.Query{}, err
	}
	return query.New(steps...), nil
}

func lowerMatches(matches []Match, prev Label) ([]query.Step, error) {
	var steps []query.Step
	for _, m := range matches {
		path := m.Conditions[0].(PathCondition)
		if path.LabelRight != prev.Name {
			return nil, NewMalformedError(CodeNotLinear,
				"match %q is anchored on %q, not on the preceding %q", m.Unknown.Name, path.LabelRight, prev.Name)
		}
		steps = append(steps, lowerPath(path, m.Unknown)...)
		for _, c := range m.Conditions[1:] {
			switch cond := c.(type) {
			case PathCondition:
				return nil, NewMalformedError(CodeNotLinear,
					"match %q has more than one path condition", m.Unknown.Name)
			case ExistentialCondition:
				inner, err := lowerMatches(cond.Matches, m.Unknown)
				if err != nil {
					return nil, err
				}
				q := query.Exists
				if !cond.Exists {
					q = query.NotExists
				}
				steps = append(steps, query.ExistentialCondition{Quantifier: q, Steps: inner})
			}
		}
		prev = m.Unknown
	}
	return steps, nil
}

// lowerPath walks up RolesRight from the anchor, then down RolesLeft to the
// unknown. Each join is followed by the type of the fact it reaches.
func lowerPath(path PathCondition, unknown Label) []query.Step {
	var steps []query.Step
	for _, r := range path.RolesRight {
		steps = append(steps, query.Pred(r.Name), query.TypeIs(r.TargetType))
	}
	for i := len(path.RolesLeft) - 1; i >= 0; i-- {
		reached := unknown.Type
		if i > 0 {
			reached = path.RolesLeft[i-1].TargetType
		}
		steps = append(steps, query.Succ(path.RolesLeft[i].Name), query.TypeIs(reached))
	}
	return steps
}

// RequireSingleGiven rejects specifications that cannot back a single-root
// listener.
func (s Specification) RequireSingleGiven() error {
	if len(s.Given) != 1 {
		return NewMalformedError(CodeMultiGiven, "listeners need exactly one given, found %d", len(s.Given))
	}
	return nil
}
