package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", formatEvent(event))
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertDelivered:
		return assertDelivered(result, a)
	case AssertDeliveredOrder:
		return assertDeliveredOrder(result, a)
	case AssertDeliveredCount:
		return assertDeliveredCount(result, a)
	case AssertMutexState:
		return assertMutexState(result, a)
	case AssertClock:
		return assertClock(result, a)
	case AssertLogged:
		return assertLogged(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertDelivered checks the node delivered exactly the listed labels.
func assertDelivered(result *Result, a Assertion) error {
	got := result.Deliveries[a.Node]
	if slices.Equal(got, a.Labels) {
		return nil
	}
	return &AssertionError{
		Type:     AssertDelivered,
		Expected: fmt.Sprintf("%s delivered %v", a.Node, a.Labels),
		Actual:   fmt.Sprintf("%s delivered %v", a.Node, got),
		Trace:    result.Trace,
	}
}

// assertDeliveredOrder checks labels appear in the specified order.
// Labels don't need to be consecutive (intervening deliveries are allowed).
func assertDeliveredOrder(result *Result, a Assertion) error {
	got := result.Deliveries[a.Node]
	pos := 0
	for _, want := range a.Labels {
		i := slices.Index(got[pos:], want)
		if i < 0 {
			return &AssertionError{
				Type:     AssertDeliveredOrder,
				Expected: fmt.Sprintf("%s delivers %v in order", a.Node, a.Labels),
				Actual:   fmt.Sprintf("%s missing or out of order in %v", want, got),
				Trace:    result.Trace,
			}
		}
		pos += i + 1
	}
	return nil
}

// assertDeliveredCount checks a label was delivered exactly Count times.
func assertDeliveredCount(result *Result, a Assertion) error {
	count := 0
	for _, l := range result.Deliveries[a.Node] {
		if l == a.Label {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertDeliveredCount,
			Expected: fmt.Sprintf("%d deliveries of %s at %s", a.Count, a.Label, a.Node),
			Actual:   fmt.Sprintf("%d deliveries", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertMutexState(result *Result, a Assertion) error {
	st, ok := finalState(result, a.Node)
	if !ok {
		return fmt.Errorf("no final state for node %s", a.Node)
	}
	if st.Mutex != a.State {
		return &AssertionError{
			Type:     AssertMutexState,
			Expected: fmt.Sprintf("%s in %s", a.Node, a.State),
			Actual:   fmt.Sprintf("%s in %q", a.Node, st.Mutex),
		}
	}
	return nil
}

func assertClock(result *Result, a Assertion) error {
	st, ok := finalState(result, a.Node)
	if !ok {
		return fmt.Errorf("no final state for node %s", a.Node)
	}
	if st.Clock != a.Clock {
		return &AssertionError{
			Type:     AssertClock,
			Expected: fmt.Sprintf("%s clock %s", a.Node, a.Clock),
			Actual:   fmt.Sprintf("%s clock %s", a.Node, st.Clock),
		}
	}
	return nil
}

func assertLogged(result *Result, a Assertion) error {
	if slices.Equal(result.Logged, a.Labels) {
		return nil
	}
	return &AssertionError{
		Type:     AssertLogged,
		Expected: fmt.Sprintf("logger received %v", a.Labels),
		Actual:   fmt.Sprintf("logger received %v", result.Logged),
		Trace:    result.Trace,
	}
}

func finalState(result *Result, name string) (NodeState, bool) {
	for _, st := range result.Final {
		if st.Name == name {
			return st, true
		}
	}
	return NodeState{}, false
}
