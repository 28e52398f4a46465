package specification

// Validate checks that every label is typed and introduced once, every
// reference resolves to a label in scope, and every match starts with a
// path condition. It returns the first problem as a *MalformedError.
func (s Specification) Validate() error {
	if len(s.Given) == 0 {
		return NewMalformedError(CodeNoGiven, "at least one given label is required")
	}
	scope := map[string]string{}
	for _, g := range s.Given {
		if err := declare(scope, g); err != nil {
			return err
		}
	}
	if err := validateMatches(s.Matches, scope); err != nil {
		return err
	}
	if s.Projection != nil {
		return validateProjection(s.Projection, scope)
	}
	return nil
}

// declare adds l to scope. scope is shared down the match chain so nested
// matches see outer labels.
func declare(scope map[string]string, l Label) error {
	if l.Name == "" {
		return NewMalformedError(CodeUnknownLabel, "label of type %q has no name", l.Type)
	}
	if l.Type == "" {
		return NewMalformedError(CodeMissingType, "label %q has no type", l.Name)
	}
	if _, dup := scope[l.Name]; dup {
		return NewMalformedError(CodeDuplicateLabel, "label %q is declared twice", l.Name)
	}
	scope[l.Name] = l.Type
	return nil
}

func validateMatches(matches []Match, scope map[string]string) error {
	for _, m := range matches {
		if err := declare(scope, m.Unknown); err != nil {
			return err
		}
		if len(m.Conditions) == 0 {
			return NewMalformedError(CodeEmptyMatch, "match %q has no conditions", m.Unknown.Name)
		}
		if _, ok := m.Conditions[0].(PathCondition); !ok {
			return NewMalformedError(CodeEmptyMatch, "match %q must start with a path condition", m.Unknown.Name)
		}
		for _, c := range m.Conditions {
			if err := validateCondition(m.Unknown, c, scope); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateCondition(unknown Label, c Condition, scope map[string]string) error {
	switch cond := c.(type) {
	case PathCondition:
		if _, ok := scope[cond.LabelRight]; !ok || cond.LabelRight == unknown.Name {
			return NewMalformedError(CodeUnknownLabel, "path condition of %q refers to unknown label %q",
				unknown.Name, cond.LabelRight)
		}
		for _, r := range append(append([]Role(nil), cond.RolesLeft...), cond.RolesRight...) {
			if r.Name == "" {
				return NewMalformedError(CodeUnknownLabel, "path condition of %q has an unnamed role", unknown.Name)
			}
			if r.TargetType == "" {
				return NewMalformedError(CodeMissingType, "role %q in path condition of %q has no type", r.Name, unknown.Name)
			}
		}
		if len(cond.RolesLeft) == 0 && len(cond.RolesRight) == 0 {
			return NewMalformedError(CodeEmptyMatch, "path condition of %q has no roles", unknown.Name)
		}
	case ExistentialCondition:
		if len(cond.Matches) == 0 {
			return NewMalformedError(CodeEmptyMatch, "existential condition on %q has no matches", unknown.Name)
		}
		return validateMatches(cond.Matches, cloneScope(scope))
	}
	return nil
}

func validateProjection(p Projection, scope map[string]string) error {
	check := func(label string) error {
		if _, ok := scope[label]; !ok {
			return NewMalformedError(CodeUnknownLabel, "projection refers to unknown label %q", label)
		}
		return nil
	}
	switch proj := p.(type) {
	case FactProjection:
		return check(proj.Label)
	case FieldProjection:
		return check(proj.Label)
	case HashProjection:
		return check(proj.Label)
	case CompositeProjection:
		seen := map[string]bool{}
		for _, c := range proj.Components {
			if seen[c.Name] {
				return NewMalformedError(CodeDuplicateLabel, "projection component %q is declared twice", c.Name)
			}
			seen[c.Name] = true
			if err := validateProjection(c.Projection, scope); err != nil {
				return err
			}
		}
	case SpecificationProjection:
		inner := cloneScope(scope)
		if err := validateMatches(proj.Matches, inner); err != nil {
			return err
		}
		if proj.Projection != nil {
			return validateProjection(proj.Projection, inner)
		}
	}
	return nil
}

func cloneScope(scope map[string]string) map[string]string {
	out := make(map[string]string, len(scope))
	for k, v := range scope {
		out[k] = v
	}
	return out
}
