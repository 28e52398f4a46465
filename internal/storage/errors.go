package storage

import (
	"errors"
	"fmt"

	"github.com/roach88/factgraph/internal/fact"
)

var (
	// ErrNotFound is returned when a referenced fact is not stored.
	ErrNotFound = errors.New("fact not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage closed")
)

// NotFoundError names the missing reference. It matches ErrNotFound.
type NotFoundError struct {
	Ref fact.Reference
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotFound, e.Ref)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// MissingPredecessorError rejects a batch containing a fact whose
// predecessor is neither stored nor part of the batch.
type MissingPredecessorError struct {
	Fact        fact.Reference
	Predecessor fact.Reference
}

func (e *MissingPredecessorError) Error() string {
	return fmt.Sprintf("fact %s references missing predecessor %s", e.Fact, e.Predecessor)
}

// IsMissingPredecessor reports whether err wraps a MissingPredecessorError.
func IsMissingPredecessor(err error) bool {
	var mp *MissingPredecessorError
	return errors.As(err, &mp)
}
