package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Format renders the trace and final state as stable text:
//
//	scenario: causal_holdback
//	step 1: A multicast g "m1"
//	  A <- A/g#1 [1 0 0] "m1"
//	final:
//	  A clock [0 0 0] g [2 0 0] mutex RELEASED voted=false deferred=[]
func (r *Result) Format(name string) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for _, event := range r.Trace {
		if event.Type == EventStep {
			fmt.Fprintf(&buf, "%s\n", formatEvent(event))
			continue
		}
		fmt.Fprintf(&buf, "  %s\n", formatEvent(event))
	}

	buf.WriteString("final:\n")
	for _, st := range r.Final {
		fmt.Fprintf(&buf, "  %s clock %s", st.Name, st.Clock)
		for _, g := range st.Groups {
			fmt.Fprintf(&buf, " %s %s", g.Group, g.Clock)
		}
		if st.Mutex == "" {
			buf.WriteString(" mutex -\n")
			continue
		}
		fmt.Fprintf(&buf, " mutex %s voted=%t deferred=[%s]\n", st.Mutex, st.Voted, strings.Join(st.Deferred, " "))
	}
	return buf.String()
}

func formatEvent(e TraceEvent) string {
	switch e.Type {
	case EventStep:
		return fmt.Sprintf("step %d: %s %s", e.Step, e.Node, e.Detail)
	case EventLog:
		return fmt.Sprintf("logger <- %s %s %q", e.Label, e.Timestamp, e.Body)
	default:
		return fmt.Sprintf("%s <- %s %s %q", e.Node, e.Label, e.Timestamp, e.Body)
	}
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, []byte(result.Format(scenarioName)))
}
