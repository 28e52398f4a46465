package specification

import (
	"errors"
	"fmt"
)

// MalformedCode categorizes a MalformedError.
type MalformedCode string

const (
	// CodeNoGiven: the specification has no given label.
	CodeNoGiven MalformedCode = "NO_GIVEN"
	// CodeMultiGiven: single-root use of a specification with several givens.
	CodeMultiGiven MalformedCode = "MULTI_GIVEN"
	// CodeNoSteps: an inverse was required but there is nothing to invert.
	CodeNoSteps MalformedCode = "NO_STEPS"
	// CodeUnknownLabel: a condition or projection names a label not in scope.
	CodeUnknownLabel MalformedCode = "UNKNOWN_LABEL"
	// CodeDuplicateLabel: a label name is introduced twice.
	CodeDuplicateLabel MalformedCode = "DUPLICATE_LABEL"
	// CodeMissingType: a label or role has no type.
	CodeMissingType MalformedCode = "MISSING_TYPE"
	// CodeEmptyMatch: a match has no path condition to produce candidates.
	CodeEmptyMatch MalformedCode = "EMPTY_MATCH"
	// CodeNotLinear: the specification cannot be expressed as one traversal.
	CodeNotLinear MalformedCode = "NOT_LINEAR"
)

// MalformedError reports a specification rejected at compile or
// registration time.
type MalformedError struct {
	Code    MalformedCode
	Message string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed specification: %s: %s", e.Code, e.Message)
}

// NewMalformedError builds a MalformedError with a formatted message.
func NewMalformedError(code MalformedCode, format string, args ...any) *MalformedError {
	return &MalformedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsMalformed reports whether err wraps a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// HasCode reports whether err wraps a MalformedError with the given code.
func HasCode(err error, code MalformedCode) bool {
	var me *MalformedError
	return errors.As(err, &me) && me.Code == code
}
