package observable

import "github.com/google/uuid"

// IDGenerator names subscriptions and listener handles.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids, so ids in logs sort
// by registration time.
//
// Safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7. It panics if the system random
// source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
