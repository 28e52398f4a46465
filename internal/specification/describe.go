package specification

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const indentUnit = "    "

// Describe renders the specification in its canonical text form:
//
//	(p1: Company) {
//	    u1: Office [
//	        u1->company: Company = p1
//	    ]
//	} => u1.identifier
//
// Composite components are rendered sorted by name. Two specifications with
// the same description are the same specification.
func (s Specification) Describe() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, g := range s.Given {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", g.Name, g.Type)
	}
	b.WriteString(") {\n")
	writeMatches(&b, s.Matches, 1)
	b.WriteByte('}')
	if s.Projection != nil {
		b.WriteString(" => ")
		writeProjection(&b, s.Projection, 0)
	}
	return b.String()
}

func (s Specification) String() string {
	return s.Describe()
}

// Key is the listener lookup key: the xxhash64 of the description.
func (s Specification) Key() string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s.Describe()))
}

func indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString(indentUnit)
	}
}

func writeMatches(b *strings.Builder, matches []Match, depth int) {
	for _, m := range matches {
		indent(b, depth)
		fmt.Fprintf(b, "%s: %s [\n", m.Unknown.Name, m.Unknown.Type)
		for _, c := range m.Conditions {
			writeCondition(b, m.Unknown.Name, c, depth+1)
		}
		indent(b, depth)
		b.WriteString("]\n")
	}
}

func writeCondition(b *strings.Builder, unknown string, c Condition, depth int) {
	switch cond := c.(type) {
	case PathCondition:
		indent(b, depth)
		b.WriteString(unknown)
		writeRoles(b, cond.RolesLeft)
		b.WriteString(" = ")
		b.WriteString(cond.LabelRight)
		writeRoles(b, cond.RolesRight)
		b.WriteByte('\n')
	case ExistentialCondition:
		indent(b, depth)
		if cond.Exists {
			b.WriteString("E {\n")
		} else {
			b.WriteString("!E {\n")
		}
		writeMatches(b, cond.Matches, depth+1)
		indent(b, depth)
		b.WriteString("}\n")
	}
}

func writeRoles(b *strings.Builder, roles []Role) {
	for _, r := range roles {
		fmt.Fprintf(b, "->%s: %s", r.Name, r.TargetType)
	}
}

func writeProjection(b *strings.Builder, p Projection, depth int) {
	switch proj := p.(type) {
	case FactProjection:
		b.WriteString(proj.Label)
	case FieldProjection:
		b.WriteString(proj.Label)
		b.WriteByte('.')
		b.WriteString(proj.Field)
	case HashProjection:
		b.WriteByte('#')
		b.WriteString(proj.Label)
	case CompositeProjection:
		b.WriteString("{\n")
		for _, c := range sortedComponents(proj.Components) {
			indent(b, depth+1)
			b.WriteString(c.Name)
			b.WriteString(" = ")
			writeProjection(b, c.Projection, depth+1)
			b.WriteByte('\n')
		}
		indent(b, depth)
		b.WriteByte('}')
	case SpecificationProjection:
		b.WriteString("{\n")
		writeMatches(b, proj.Matches, depth+1)
		indent(b, depth)
		b.WriteByte('}')
		if proj.Projection != nil {
			b.WriteString(" => ")
			writeProjection(b, proj.Projection, depth)
		}
	}
}

func sortedComponents(components []Component) []Component {
	out := slices.Clone(components)
	slices.SortStableFunc(out, func(a, b Component) int { return strings.Compare(a.Name, b.Name) })
	return out
}
