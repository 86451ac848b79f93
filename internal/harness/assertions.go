package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/statekit/internal/ir"
	"github.com/roach88/statekit/internal/operation"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Subject  string       // Entity key or operation key under test
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	if e.Subject != "" {
		fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Subject)
	} else {
		fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	}
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, ev.Cause)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion against result and returns the
// failure messages, one per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertEntity:
		return assertEntity(result, a)
	case AssertStatus:
		return assertStatus(result, a)
	case AssertTransitions:
		return assertTransitions(result, a)
	case AssertNotifications:
		return assertNotifications(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertEntity compares the entity payload exactly. Subset matching would
// let a stale field from an earlier write slip through.
func assertEntity(result *Result, a Assertion) error {
	got, ok := result.Final.Entity(a.Key)
	if a.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertEntity,
				Subject:  a.Key,
				Expected: "absent",
				Actual:   formatValue(got.Attrs()),
				Trace:    result.Trace,
			}
		}
		return nil
	}

	want, err := ir.ObjectFromAny(a.Expect)
	if err != nil {
		return fmt.Errorf("entity %s: expect: %w", a.Key, err)
	}
	if !ok {
		return &AssertionError{
			Type:     AssertEntity,
			Subject:  a.Key,
			Expected: formatValue(want),
			Actual:   "absent",
			Trace:    result.Trace,
		}
	}
	if !ir.Equal(want, got.Attrs()) {
		return &AssertionError{
			Type:     AssertEntity,
			Subject:  a.Key,
			Expected: formatValue(want),
			Actual:   formatValue(got.Attrs()),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertStatus(result *Result, a Assertion) error {
	key, err := operation.ParseKey(a.Op)
	if err != nil {
		return err
	}
	d := result.Final.Operation(key)
	if string(d.Status) != a.Status {
		return &AssertionError{
			Type:     AssertStatus,
			Subject:  a.Op,
			Expected: a.Status,
			Actual:   string(d.Status),
			Trace:    result.Trace,
		}
	}
	if a.Error != "" && d.Error != a.Error {
		return &AssertionError{
			Type:     AssertStatus,
			Subject:  a.Op,
			Expected: fmt.Sprintf("error %q", a.Error),
			Actual:   fmt.Sprintf("error %q", d.Error),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertTransitions(result *Result, a Assertion) error {
	key, err := operation.ParseKey(a.Op)
	if err != nil {
		return err
	}
	var got []string
	for _, s := range result.Transitions[key.String()] {
		got = append(got, string(s))
	}
	want := a.Statuses
	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     AssertTransitions,
			Subject:  a.Op,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertNotifications(result *Result, a Assertion) error {
	if got := len(result.Trace); got != *a.Count {
		return &AssertionError{
			Type:     AssertNotifications,
			Expected: fmt.Sprintf("%d notifications", *a.Count),
			Actual:   fmt.Sprintf("%d notifications", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func formatValue(v ir.Value) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
