package query

import (
	"strings"

	"github.com/roach88/factgraph/internal/ir"
)

// Describe renders steps in the descriptive grammar without building a Query.
func Describe(steps ...Step) string {
	return describe(steps)
}

func writeSteps(b *strings.Builder, steps []Step) {
	for i, s := range steps {
		if i > 0 {
			b.WriteByte(' ')
		}
		writeStep(b, s)
	}
}

func writeStep(b *strings.Builder, s Step) {
	switch st := s.(type) {
	case Join:
		b.WriteString(st.Direction.String())
		b.WriteByte('.')
		b.WriteString(st.Role)
	case PropertyCondition:
		b.WriteString("F.")
		b.WriteString(st.Name)
		b.WriteByte('=')
		b.WriteString(ir.QuoteString(st.Value))
	case ExistentialCondition:
		b.WriteString(st.Quantifier.String())
		b.WriteByte('(')
		writeSteps(b, st.Steps)
		b.WriteByte(')')
	}
}
