package query

import (
	"slices"
	"strings"
)

// Direction of a Join.
type Direction int

const (
	// Predecessor follows a role from a fact to the facts it references.
	Predecessor Direction = iota
	// Successor finds facts that reference the current fact through a role.
	Successor
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Predecessor {
		return Successor
	}
	return Predecessor
}

func (d Direction) String() string {
	if d == Predecessor {
		return "P"
	}
	return "S"
}

// Quantifier of an ExistentialCondition.
type Quantifier int

const (
	// Exists requires at least one path.
	Exists Quantifier = iota
	// NotExists requires no path.
	NotExists
)

// Negate returns the opposite quantifier.
func (q Quantifier) Negate() Quantifier {
	if q == Exists {
		return NotExists
	}
	return Exists
}

func (q Quantifier) String() string {
	if q == Exists {
		return "E"
	}
	return "N"
}

// TypeProperty is the pseudo-property that matches the fact type.
const TypeProperty = "type"

// Step is one element of a Query. The interface is sealed.
type Step interface {
	step()
}

// Join moves from the current fact along Role.
type Join struct {
	Direction Direction
	Role      string
}

func (Join) step() {}

// PropertyCondition filters the current fact on Name == Value.
type PropertyCondition struct {
	Name  string
	Value string
}

func (PropertyCondition) step() {}

// ExistentialCondition filters the current fact on whether Steps, walked
// from it, yield any path.
type ExistentialCondition struct {
	Quantifier Quantifier
	Steps      []Step
}

func (ExistentialCondition) step() {}

// TypeIs is shorthand for the F.type="..." condition.
func TypeIs(factType string) PropertyCondition {
	return PropertyCondition{Name: TypeProperty, Value: factType}
}

// Succ is shorthand for a successor Join.
func Succ(role string) Join { return Join{Direction: Successor, Role: role} }

// Pred is shorthand for a predecessor Join.
func Pred(role string) Join { return Join{Direction: Predecessor, Role: role} }

// Exist builds an E(...) condition.
func Exist(steps ...Step) ExistentialCondition {
	return ExistentialCondition{Quantifier: Exists, Steps: steps}
}

// NotExist builds an N(...) condition.
func NotExist(steps ...Step) ExistentialCondition {
	return ExistentialCondition{Quantifier: NotExists, Steps: steps}
}

// Query is an immutable list of steps.
type Query struct {
	steps []Step
	text  string
}

// New builds a Query from steps.
func New(steps ...Step) Query {
	steps = cloneSteps(steps)
	return Query{steps: steps, text: describe(steps)}
}

// Steps returns a copy of the steps.
func (q Query) Steps() []Step {
	return cloneSteps(q.steps)
}

// Len returns the number of top-level steps.
func (q Query) Len() int {
	return len(q.steps)
}

// IsEmpty reports whether the query has no steps.
func (q Query) IsEmpty() bool {
	return len(q.steps) == 0
}

// PathLength is the number of top-level joins, which is the number of facts
// in each result path.
func (q Query) PathLength() int {
	n := 0
	for _, s := range q.steps {
		if _, ok := s.(Join); ok {
			n++
		}
	}
	return n
}

// Concat returns q followed by other.
func (q Query) Concat(other Query) Query {
	return New(append(cloneSteps(q.steps), other.steps...)...)
}

// String returns the descriptive string.
func (q Query) String() string {
	return q.text
}

// DescriptiveString returns the canonical rendering of the query.
func (q Query) DescriptiveString() string {
	return q.text
}

// Equal reports whether two queries render identically.
func (q Query) Equal(other Query) bool {
	return q.text == other.text
}

func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		if c, ok := s.(ExistentialCondition); ok {
			c.Steps = cloneSteps(c.Steps)
			out[i] = c
			continue
		}
		out[i] = s
	}
	return out
}

// Joins returns the top-level joins in order.
func (q Query) Joins() []Join {
	var joins []Join
	for _, s := range q.steps {
		if j, ok := s.(Join); ok {
			joins = append(joins, j)
		}
	}
	return joins
}

// HasConditions reports whether any existential condition appears at the
// top level.
func (q Query) HasConditions() bool {
	return slices.ContainsFunc(q.steps, func(s Step) bool {
		_, ok := s.(ExistentialCondition)
		return ok
	})
}

func describe(steps []Step) string {
	var b strings.Builder
	writeSteps(&b, steps)
	return b.String()
}
