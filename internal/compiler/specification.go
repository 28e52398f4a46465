package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/factgraph/internal/specification"
)

// CompileSpecification reads one specification from a CUE value of the
// form:
//
//	given: [{name: "p1", type: "Company"}]
//	match: [{
//		name: "u1"
//		type: "Office"
//		conditions: [
//			{path: {left: [{role: "company", type: "Company"}], label: "p1"}},
//			{notExists: [ ...matches ]},
//		]
//	}]
//	select: {field: {label: "u1", name: "identifier"}}
//
// The result is validated before it is returned.
func CompileSpecification(v cue.Value) (specification.Specification, error) {
	if err := v.Err(); err != nil {
		return specification.Specification{}, formatCUEError(fieldOf(v), err)
	}

	var spec specification.Specification
	givenVal := v.LookupPath(cue.ParsePath("given"))
	if !givenVal.Exists() {
		return spec, errorf(fieldOf(v)+".given", v.Pos(), "given is required")
	}
	given, err := parseLabels(givenVal)
	if err != nil {
		return spec, err
	}
	spec.Given = given

	matchVal := v.LookupPath(cue.ParsePath("match"))
	if matchVal.Exists() {
		spec.Matches, err = parseMatches(matchVal)
		if err != nil {
			return spec, err
		}
	}

	selectVal := v.LookupPath(cue.ParsePath("select"))
	if selectVal.Exists() {
		spec.Projection, err = parseProjection(selectVal)
		if err != nil {
			return spec, err
		}
	}

	if err := spec.Validate(); err != nil {
		return spec, &CompileError{Field: fieldOf(v), Message: err.Error(), Pos: v.Pos(), Err: err}
	}
	return spec, nil
}

// fieldOf renders the path of v for error messages.
func fieldOf(v cue.Value) string {
	return v.Path().String()
}

func parseLabels(v cue.Value) ([]specification.Label, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(fieldOf(v), err)
	}
	var labels []specification.Label
	for iter.Next() {
		l, err := parseLabel(iter.Value())
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, nil
}

func parseLabel(v cue.Value) (specification.Label, error) {
	name, err := requiredString(v, "name")
	if err != nil {
		return specification.Label{}, err
	}
	factType, err := requiredString(v, "type")
	if err != nil {
		return specification.Label{}, err
	}
	return specification.L(name, factType), nil
}

func parseMatches(v cue.Value) ([]specification.Match, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(fieldOf(v), err)
	}
	var matches []specification.Match
	for iter.Next() {
		m, err := parseMatch(iter.Value())
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func parseMatch(v cue.Value) (specification.Match, error) {
	unknown, err := parseLabel(v)
	if err != nil {
		return specification.Match{}, err
	}
	m := specification.Match{Unknown: unknown}

	condVal := v.LookupPath(cue.ParsePath("conditions"))
	if !condVal.Exists() {
		return m, errorf(fieldOf(v)+".conditions", v.Pos(), "match %q needs at least a path condition", unknown.Name)
	}
	iter, err := condVal.List()
	if err != nil {
		return m, formatCUEError(fieldOf(condVal), err)
	}
	for iter.Next() {
		c, err := parseCondition(iter.Value())
		if err != nil {
			return m, err
		}
		m.Conditions = append(m.Conditions, c)
	}
	return m, nil
}

// parseCondition accepts exactly one of path, exists or notExists.
func parseCondition(v cue.Value) (specification.Condition, error) {
	var found []string
	for _, key := range []string{"path", "exists", "notExists"} {
		if v.LookupPath(cue.ParsePath(key)).Exists() {
			found = append(found, key)
		}
	}
	if len(found) != 1 {
		return nil, errorf(fieldOf(v), v.Pos(), "condition must have exactly one of path, exists or notExists, found %v", found)
	}

	inner := v.LookupPath(cue.ParsePath(found[0]))
	switch found[0] {
	case "path":
		return parsePath(inner)
	default:
		matches, err := parseMatches(inner)
		if err != nil {
			return nil, err
		}
		return specification.ExistentialCondition{Exists: found[0] == "exists", Matches: matches}, nil
	}
}

func parsePath(v cue.Value) (specification.PathCondition, error) {
	label, err := requiredString(v, "label")
	if err != nil {
		return specification.PathCondition{}, err
	}
	left, err := parseRoles(v, "left")
	if err != nil {
		return specification.PathCondition{}, err
	}
	right, err := parseRoles(v, "right")
	if err != nil {
		return specification.PathCondition{}, err
	}
	return specification.Path(left, label, right...), nil
}

// parseRoles reads an optional list of {role, type} objects.
func parseRoles(v cue.Value, key string) ([]specification.Role, error) {
	rolesVal := v.LookupPath(cue.ParsePath(key))
	if !rolesVal.Exists() {
		return nil, nil
	}
	iter, err := rolesVal.List()
	if err != nil {
		return nil, formatCUEError(fieldOf(rolesVal), err)
	}
	var roles []specification.Role
	for iter.Next() {
		rv := iter.Value()
		name, err := requiredString(rv, "role")
		if err != nil {
			return nil, err
		}
		target, err := requiredString(rv, "type")
		if err != nil {
			return nil, err
		}
		roles = append(roles, specification.R(name, target))
	}
	return roles, nil
}

// parseProjection reads one of:
//
//	{fact: "u1"}
//	{hash: "u1"}
//	{field: {label: "u1", name: "value"}}
//	{match: [...], select: {...}}
//	{composite: {name: <projection>, ...}}
func parseProjection(v cue.Value) (specification.Projection, error) {
	switch {
	case v.LookupPath(cue.ParsePath("fact")).Exists():
		label, err := requiredString(v, "fact")
		return specification.FactProjection{Label: label}, err
	case v.LookupPath(cue.ParsePath("hash")).Exists():
		label, err := requiredString(v, "hash")
		return specification.HashProjection{Label: label}, err
	case v.LookupPath(cue.ParsePath("field")).Exists():
		fv := v.LookupPath(cue.ParsePath("field"))
		label, err := requiredString(fv, "label")
		if err != nil {
			return nil, err
		}
		name, err := requiredString(fv, "name")
		if err != nil {
			return nil, err
		}
		return specification.FieldProjection{Label: label, Field: name}, nil
	case v.LookupPath(cue.ParsePath("match")).Exists():
		matches, err := parseMatches(v.LookupPath(cue.ParsePath("match")))
		if err != nil {
			return nil, err
		}
		p := specification.SpecificationProjection{Matches: matches}
		if sel := v.LookupPath(cue.ParsePath("select")); sel.Exists() {
			p.Projection, err = parseProjection(sel)
			if err != nil {
				return nil, err
			}
		}
		return p, nil
	case v.LookupPath(cue.ParsePath("composite")).Exists():
		return parseComposite(v.LookupPath(cue.ParsePath("composite")))
	default:
		return nil, errorf(fieldOf(v), v.Pos(), "projection must be one of fact, hash, field, match or composite")
	}
}

func parseComposite(v cue.Value) (specification.Projection, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(fieldOf(v), err)
	}
	var comp specification.CompositeProjection
	for iter.Next() {
		p, err := parseProjection(iter.Value())
		if err != nil {
			return nil, err
		}
		comp.Components = append(comp.Components, specification.Component{
			Name:       iter.Label(),
			Projection: p,
		})
	}
	if len(comp.Components) == 0 {
		return nil, errorf(fieldOf(v), v.Pos(), "composite projection has no components")
	}
	return comp, nil
}

func requiredString(v cue.Value, key string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(key))
	if !sv.Exists() {
		return "", errorf(fmt.Sprintf("%s.%s", fieldOf(v), key), v.Pos(), "%s is required", key)
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(fieldOf(sv), err)
	}
	if s == "" {
		return "", errorf(fieldOf(sv), sv.Pos(), "%s must not be empty", key)
	}
	return s, nil
}
