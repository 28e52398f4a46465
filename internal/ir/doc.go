// Package ir provides the field value model for facts and its canonical
// JSON encoding.
//
// Fact fields are restricted to a sealed set of value types so that a fact
// has exactly one canonical serialization and therefore one hash:
//   - no floats; numbers are int64
//   - no null inside hashed content
//   - object keys ordered by UTF-16 code units (RFC 8785)
//
// ir imports nothing internal.
package ir
