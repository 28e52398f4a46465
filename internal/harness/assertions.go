package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/factgraph/internal/fact"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, line := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

func validateAssertion(i int, a *Assertion) error {
	switch a.Type {
	case AssertTraceContains, AssertTraceAbsent:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: %s requires line", i, a.Type)
		}
	case AssertTraceCount:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: %s requires line", i, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must not be negative", i)
		}
	case AssertTraceOrder:
		if len(a.Lines) < 2 {
			return fmt.Errorf("assertions[%d]: %s requires at least two lines", i, a.Type)
		}
	case AssertStored:
		if len(a.Facts) == 0 {
			return fmt.Errorf("assertions[%d]: %s requires facts", i, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}

// assertTraceContains checks that some line contains assertion.Line.
func assertTraceContains(trace []string, assertion Assertion) error {
	if indexOf(trace, assertion.Line, 0) >= 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("a line containing %q", assertion.Line),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceAbsent checks that no line contains assertion.Line.
func assertTraceAbsent(trace []string, assertion Assertion) error {
	i := indexOf(trace, assertion.Line, 0)
	if i < 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceAbsent,
		Expected: fmt.Sprintf("no line containing %q", assertion.Line),
		Actual:   fmt.Sprintf("line %d: %s", i+1, trace[i]),
		Trace:    trace,
	}
}

// assertTraceOrder checks that the lines appear in the specified order.
// Lines don't need to be consecutive (intervening lines are allowed).
func assertTraceOrder(trace []string, assertion Assertion) error {
	from := 0
	for _, want := range assertion.Lines {
		i := indexOf(trace, want, from)
		if i < 0 {
			actual := fmt.Sprintf("missing line: %s", want)
			if indexOf(trace, want, 0) >= 0 {
				actual = fmt.Sprintf("%q appears only before line %d", want, from+1)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("lines in order: %v", assertion.Lines),
				Actual:   actual,
				Trace:    trace,
			}
		}
		from = i + 1
	}
	return nil
}

// assertTraceCount checks that exactly assertion.Count lines contain
// assertion.Line.
func assertTraceCount(trace []string, assertion Assertion) error {
	count := 0
	for _, line := range trace {
		if strings.Contains(line, assertion.Line) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d lines containing %q", assertion.Count, assertion.Line),
			Actual:   fmt.Sprintf("%d lines", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertStored checks that every listed fact is in the store.
func assertStored(ctx context.Context, h *Harness, assertion Assertion) error {
	refs := make([]fact.Reference, len(assertion.Facts))
	for i, id := range assertion.Facts {
		ref, err := h.facts.Reference(id)
		if err != nil {
			return fmt.Errorf("%s: %w", AssertStored, err)
		}
		refs[i] = ref
	}
	existing, err := h.source.WhichExist(ctx, refs)
	if err != nil {
		return fmt.Errorf("%s: %w", AssertStored, err)
	}
	found := make(map[fact.Reference]bool, len(existing))
	for _, ref := range existing {
		found[ref] = true
	}
	var missing []string
	for i, ref := range refs {
		if !found[ref] {
			missing = append(missing, assertion.Facts[i])
		}
	}
	if len(missing) > 0 {
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("stored facts %v", assertion.Facts),
			Actual:   fmt.Sprintf("missing %v", missing),
		}
	}
	return nil
}

func indexOf(trace []string, substr string, from int) int {
	for i := from; i < len(trace); i++ {
		if strings.Contains(trace[i], substr) {
			return i
		}
	}
	return -1
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, h *Harness) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceAbsent:
			err = assertTraceAbsent(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertStored:
			if h == nil {
				err = fmt.Errorf("assertion[%d]: stored requires a store", i)
			} else {
				err = assertStored(ctx, h, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
