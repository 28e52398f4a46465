package fact

import (
	"errors"
	"fmt"
)

// IntegrityError reports a record whose recomputed hash disagrees with the
// reference it was stored or sent under. Such a record must not enter the
// graph.
type IntegrityError struct {
	Claimed  Reference
	Computed Reference
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("hash mismatch for %s fact: claimed %s, computed %s",
		e.Claimed.Type, e.Claimed.Hash, e.Computed.Hash)
}

// IsIntegrityError reports whether err wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
