// Package matcher evaluates queries and specifications against a fact
// graph exposed through point lookups.
//
// Both evaluators are deterministic: for a fixed graph state they return
// the same results in the same order. Order follows the Graph's successor
// order (insertion order, then hash) and the record's predecessor order.
//
// Stores implement Graph and delegate their Query and Read operations
// here, so every backend shares one evaluation semantics.
package matcher
