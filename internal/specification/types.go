// Package specification defines the declarative specification language:
// given labels, a chain of matches with path and existential conditions,
// and a projection.
//
// A Specification is a value. Treat it as immutable once built; every
// function here returns new values instead of modifying its input.
package specification

// Label names a fact and its type.
type Label struct {
	Name string
	Type string
}

// Role is one predecessor step of a path: the role name and the type of the
// fact it points to.
type Role struct {
	Name       string
	TargetType string
}

// Condition constrains the unknown of a Match. The interface is sealed.
type Condition interface {
	condition()
}

// PathCondition equates two predecessor walks:
//
//	unknown->RolesLeft... = LabelRight->RolesRight...
//
// where each arrow follows a predecessor role.
type PathCondition struct {
	RolesLeft  []Role
	LabelRight string
	RolesRight []Role
}

func (PathCondition) condition() {}

// ExistentialCondition keeps the unknown only if the nested matches, with
// the unknown in scope, yield at least one tuple (Exists) or none.
type ExistentialCondition struct {
	Exists  bool
	Matches []Match
}

func (ExistentialCondition) condition() {}

// Match introduces one unknown fact. Its first condition must be a
// PathCondition; it is what produces candidates.
type Match struct {
	Unknown    Label
	Conditions []Condition
}

// Projection shapes the result of each matched tuple. The interface is
// sealed.
type Projection interface {
	projection()
}

// FactProjection projects the reference of a labelled fact.
type FactProjection struct {
	Label string
}

func (FactProjection) projection() {}

// FieldProjection projects one field of a labelled fact.
type FieldProjection struct {
	Label string
	Field string
}

func (FieldProjection) projection() {}

// HashProjection projects the hash of a labelled fact.
type HashProjection struct {
	Label string
}

func (HashProjection) projection() {}

// SpecificationProjection evaluates nested matches for each tuple and
// projects each nested result, grouped under the outer tuple.
type SpecificationProjection struct {
	Matches    []Match
	Projection Projection
}

func (SpecificationProjection) projection() {}

// Component is one named member of a CompositeProjection.
type Component struct {
	Name       string
	Projection Projection
}

// CompositeProjection projects a record of named components.
type CompositeProjection struct {
	Components []Component
}

func (CompositeProjection) projection() {}

// Specification is a traversal from Given labels through Matches, shaped by
// Projection. A nil Projection yields the tuple of unknowns.
type Specification struct {
	Given      []Label
	Matches    []Match
	Projection Projection
}

// L builds a Label.
func L(name, factType string) Label {
	return Label{Name: name, Type: factType}
}

// R builds a Role.
func R(name, targetType string) Role {
	return Role{Name: name, TargetType: targetType}
}

// Path builds a PathCondition with no roles on the right.
//
//	Path([]Role{R("company", "Company")}, "p1")  // u->company: Company = p1
func Path(rolesLeft []Role, labelRight string, rolesRight ...Role) PathCondition {
	return PathCondition{RolesLeft: rolesLeft, LabelRight: labelRight, RolesRight: rolesRight}
}

// Exists builds a positive existential condition.
func Exists(matches ...Match) ExistentialCondition {
	return ExistentialCondition{Exists: true, Matches: matches}
}

// NotExists builds a negative existential condition.
func NotExists(matches ...Match) ExistentialCondition {
	return ExistentialCondition{Exists: false, Matches: matches}
}

// M builds a Match.
func M(unknown Label, conditions ...Condition) Match {
	return Match{Unknown: unknown, Conditions: conditions}
}

// Labels returns the given labels and every top-level unknown, in order.
func (s Specification) Labels() []Label {
	out := append([]Label(nil), s.Given...)
	for _, m := range s.Matches {
		out = append(out, m.Unknown)
	}
	return out
}

// Unknowns returns the labels of the top-level matches.
func (s Specification) Unknowns() []Label {
	out := make([]Label, len(s.Matches))
	for i, m := range s.Matches {
		out[i] = m.Unknown
	}
	return out
}
