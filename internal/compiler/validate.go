package compiler

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/factgraph/internal/inverse"
	"github.com/roach88/factgraph/internal/specification"
)

// Validation error codes (E100-E199)
const (
	ErrCUE                = "E100" // the document does not evaluate
	ErrSpecificationShape = "E101" // a specification is missing required fields
	ErrMalformed          = "E102" // a specification fails validation
	ErrQuerySyntax        = "E103" // a query string does not parse
	ErrNotInvertible      = "E104" // a single-given specification has no inverse
	ErrDuplicateName      = "E105" // a name is both a specification and a query
)

// ValidationError is one problem found by Validate.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks every entry of a document and returns all problems found
// (it does not fail fast). Single-given specifications are also inverted,
// since a listener registration would do the same.
func Validate(v cue.Value) []ValidationError {
	if err := v.Err(); err != nil {
		var errs []ValidationError
		for _, e := range cueerrors.Errors(err) {
			errs = append(errs, fromError("cue", ErrCUE, e))
		}
		return errs
	}

	var errs []ValidationError
	names := map[string]string{}

	if specsVal := v.LookupPath(cue.ParsePath("specifications")); specsVal.Exists() {
		iter, err := specsVal.Fields()
		if err != nil {
			return []ValidationError{fromError("specifications", ErrCUE, err)}
		}
		for iter.Next() {
			field := "specifications." + iter.Label()
			names[iter.Label()] = field
			spec, err := CompileSpecification(iter.Value())
			if err != nil {
				errs = append(errs, fromCompileError(field, err))
				continue
			}
			if len(spec.Given) == 1 && len(spec.Matches) > 0 {
				if _, err := inverse.InvertSpecification(spec); err != nil && !specification.HasCode(err, specification.CodeNotLinear) {
					errs = append(errs, fromError(field, ErrNotInvertible, err))
				}
			}
		}
	}

	if queriesVal := v.LookupPath(cue.ParsePath("queries")); queriesVal.Exists() {
		iter, err := queriesVal.Fields()
		if err != nil {
			return append(errs, fromError("queries", ErrCUE, err))
		}
		for iter.Next() {
			field := "queries." + iter.Label()
			if prev, dup := names[iter.Label()]; dup {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("name %q is already used by %s", iter.Label(), prev),
					Code:    ErrDuplicateName,
				})
			}
			if _, err := compileQuery(iter.Value()); err != nil {
				errs = append(errs, fromError(field, ErrQuerySyntax, err))
			}
		}
	}
	return errs
}

// fromCompileError classifies a CompileSpecification failure.
func fromCompileError(field string, err error) ValidationError {
	code := ErrSpecificationShape
	if specification.IsMalformed(err) {
		code = ErrMalformed
	}
	return fromError(field, code, err)
}

func fromError(field, code string, err error) ValidationError {
	ve := ValidationError{Field: field, Message: err.Error(), Code: code}
	var ce *CompileError
	if errors.As(err, &ce) {
		ve.Message = ce.Message
		if ce.Pos.IsValid() {
			ve.Line = ce.Pos.Line()
		}
		return ve
	}
	if positions := cueerrors.Positions(err); len(positions) > 0 {
		ve.Line = positions[0].Line()
	}
	return ve
}
