package query

import (
	"errors"
	"fmt"
)

// Validate checks structural rules that Parse cannot express:
//   - join roles and property names are non-empty
//   - existential conditions are non-empty
//
// It returns every problem found, joined.
func Validate(q Query) error {
	v := &validator{}
	v.steps(q.steps, "")
	return errors.Join(v.errs...)
}

type validator struct {
	errs []error
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) steps(steps []Step, path string) {
	for i, s := range steps {
		at := fmt.Sprintf("%sstep[%d]", path, i)
		switch st := s.(type) {
		case Join:
			if st.Role == "" {
				v.addf("%s: join has empty role", at)
			}
		case PropertyCondition:
			if st.Name == "" {
				v.addf("%s: property condition has empty name", at)
			}
		case ExistentialCondition:
			if len(st.Steps) == 0 {
				v.addf("%s: empty %s condition", at, st.Quantifier)
			}
			v.steps(st.Steps, at+".")
		case nil:
			v.addf("%s: nil step", at)
		default:
			v.addf("%s: unknown step type %T", at, s)
		}
	}
}
