package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/msgpass/internal/config"
)

// Scenario defines a multi-node test scenario.
// Each step runs one operator command on one node; the network is then
// drained before the next step, so a scenario is fully reproducible.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Logical runs every node on a Lamport clock instead of vector clocks.
	Logical bool `yaml:"logical,omitempty"`

	// Config is an inline configuration document in the file format read
	// by the node command. Its rules are loaded into every node.
	Config string `yaml:"config"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate deliveries and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operator command. Exactly one action field must be set.
type Step struct {
	// Node runs the command.
	Node string `yaml:"node"`

	Send      *SendStep      `yaml:"send,omitempty"`
	Multicast *MulticastStep `yaml:"multicast,omitempty"`
	Request   bool           `yaml:"request,omitempty"`
	Release   bool           `yaml:"release,omitempty"`
	Mark      bool           `yaml:"mark,omitempty"`
	Rules     *RulesStep     `yaml:"rules,omitempty"`

	// ExpectError is the node error code the command must fail with.
	// Empty means the command must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// SendStep is an ordinary send.
type SendStep struct {
	Dest string `yaml:"dest"`
	Kind string `yaml:"kind"`
	Body string `yaml:"body,omitempty"`
	Log  bool   `yaml:"log,omitempty"`
}

// MulticastStep is a causally ordered group multicast.
type MulticastStep struct {
	Group string `yaml:"group"`
	Body  string `yaml:"body,omitempty"`
	Log   bool   `yaml:"log,omitempty"`
}

// RulesStep replaces the node's fault rules, as a reload would.
type RulesStep struct {
	Send    []config.RuleSpec `yaml:"send"`
	Receive []config.RuleSpec `yaml:"receive"`
}

// Assertion validates the deliveries or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "delivered": the node delivered exactly Labels, in order
	// - "delivered_order": Labels appear at the node in this order
	// - "delivered_count": Label was delivered Count times at the node
	// - "mutex_state": the node's mutual-exclusion state is State
	// - "clock": the node's main clock renders as Clock
	// - "logged": the log collector received exactly Labels, in order
	Type string `yaml:"type"`

	Node   string   `yaml:"node,omitempty"`
	Labels []string `yaml:"labels,omitempty"`
	Label  string   `yaml:"label,omitempty"`
	Count  int      `yaml:"count,omitempty"`
	State  string   `yaml:"state,omitempty"`
	Clock  string   `yaml:"clock,omitempty"`
}

// Assertion type constants.
const (
	AssertDelivered      = "delivered"
	AssertDeliveredOrder = "delivered_order"
	AssertDeliveredCount = "delivered_count"
	AssertMutexState     = "mutex_state"
	AssertClock          = "clock"
	AssertLogged         = "logged"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Node == "" {
			return fmt.Errorf("steps[%d]: node is required", i)
		}
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
		}
		if step.Send != nil && (step.Send.Dest == "" || step.Send.Kind == "") {
			return fmt.Errorf("steps[%d].send: dest and kind are required", i)
		}
		if step.Multicast != nil && step.Multicast.Group == "" {
			return fmt.Errorf("steps[%d].multicast: group is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{s.Send != nil, s.Multicast != nil, s.Request, s.Release, s.Mark, s.Rules != nil} {
		if set {
			n++
		}
	}
	return n
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Type != AssertLogged && a.Node == "" {
		return fmt.Errorf("assertions[%d]: node is required for %s", index, a.Type)
	}

	switch a.Type {
	case AssertDelivered, AssertLogged:
		// An empty label list asserts that nothing arrived.
	case AssertDeliveredOrder:
		if len(a.Labels) == 0 {
			return fmt.Errorf("assertions[%d]: labels list is required for delivered_order", index)
		}
	case AssertDeliveredCount:
		if a.Label == "" {
			return fmt.Errorf("assertions[%d]: label is required for delivered_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for delivered_count", index)
		}
	case AssertMutexState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for mutex_state", index)
		}
	case AssertClock:
		if a.Clock == "" {
			return fmt.Errorf("assertions[%d]: clock is required for clock", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
