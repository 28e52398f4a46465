// Package inverse compiles a forward query into the reverse rules that let
// the notification engine react to one newly saved fact without
// re-evaluating the whole query.
//
// For a query walked from a root, every successor join introduces a fact
// type T that can appear after the root was subscribed. Saving a T fact can
// change the query result in three ways:
//   - on the main chain it extends result paths (Added, walked from the new
//     fact)
//   - inside conditions whose combined polarity is positive it can make a
//     condition hold for the pivot, the main-chain fact the outermost
//     condition is attached to (Added, walked from the pivot)
//   - inside conditions whose combined polarity is negative it can make a
//     condition fail for the pivot (Removed)
//
// E(...) keeps the polarity and N(...) flips it.
package inverse

import (
	"fmt"
	"strings"

	"github.com/roach88/factgraph/internal/query"
)

// Inverse is a precompiled reverse rule. It is immutable.
type Inverse struct {
	// AppliedToType is the type of fact that triggers the rule.
	AppliedToType string
	// Affected walks from the new fact back to the root. Each path it yields
	// ends at a candidate root.
	Affected query.Query
	// Added, if set, is walked from the pivot. Each resulting path, appended
	// to the trimmed prefix, is an added result. For main-chain rules the
	// pivot is the new fact itself.
	Added *query.Query
	// Removed, if set, is the walk from the pivot to the new fact. Its path
	// length is the number of facts to trim from the prefix; what remains
	// is a removed result.
	Removed *query.Query
	// Backtrack is how many facts lie between the pivot (exclusive) and the
	// new fact (inclusive).
	Backtrack int
	// Guard, if set, is walked from the new fact; the rule only fires when
	// it yields a path. It holds the rest of the innermost condition.
	Guard *query.Query
	// Recheck is set on rules compiled from conditions. It is walked from
	// the pivot with and without the new fact; only rows that differ are
	// delivered, so a second fact satisfying the same condition is silent.
	Recheck *query.Query
}

// String renders the rule for diagnostics and golden tests.
func (inv Inverse) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", inv.AppliedToType)
	fmt.Fprintf(&b, "  affected: %s\n", inv.Affected)
	if inv.Added != nil {
		fmt.Fprintf(&b, "  added: %s\n", *inv.Added)
	}
	if inv.Removed != nil {
		fmt.Fprintf(&b, "  removed: %s\n", *inv.Removed)
	}
	if inv.Guard != nil {
		fmt.Fprintf(&b, "  guard: %s\n", *inv.Guard)
	}
	if inv.Recheck != nil {
		fmt.Fprintf(&b, "  recheck: %s\n", *inv.Recheck)
	}
	fmt.Fprintf(&b, "  backtrack: %d", inv.Backtrack)
	return b.String()
}

// Describe renders a list of inverses separated by blank lines.
func Describe(inverses []Inverse) string {
	parts := make([]string, len(inverses))
	for i, inv := range inverses {
		parts[i] = inv.String()
	}
	return strings.Join(parts, "\n\n")
}

// Signature identifies the rule for listener de-duplication: two listeners
// whose rules share a signature share one affected walk per saved fact.
func (inv Inverse) Signature() string {
	var b strings.Builder
	b.WriteString(inv.Affected.String())
	if inv.Added != nil {
		b.WriteString(" +")
		b.WriteString(inv.Added.String())
	}
	if inv.Removed != nil {
		b.WriteString(" -")
		b.WriteString(inv.Removed.String())
	}
	if inv.Guard != nil {
		b.WriteString(" ?")
		b.WriteString(inv.Guard.String())
	}
	if inv.Recheck != nil {
		b.WriteString(" ~")
		b.WriteString(inv.Recheck.String())
	}
	fmt.Fprintf(&b, " ^%d", inv.Backtrack)
	return b.String()
}
