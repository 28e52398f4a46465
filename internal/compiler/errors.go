package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError reports a document that does not describe a valid
// specification or query. Field is the dotted path of the offending value.
// Err, when set, is the validation error behind Message.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
	Err     error
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *CompileError) Unwrap() error { return e.Err }

func errorf(field string, pos token.Pos, format string, args ...any) *CompileError {
	return &CompileError{Field: field, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// formatCUEError turns the first CUE error into a CompileError carrying its
// position.
func formatCUEError(field string, err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	var pos token.Pos
	if positions := errors.Positions(first); len(positions) > 0 {
		pos = positions[0]
	}
	return &CompileError{Field: field, Message: first.Error(), Pos: pos}
}
