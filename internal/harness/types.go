package harness

import (
	"fmt"

	"github.com/roach88/msgpass/internal/message"
)

// Trace event types.
const (
	EventStep    = "step"
	EventDeliver = "deliver"
	EventLog     = "log"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Step      int    `json:"step"`
	Type      string `json:"type"`
	Node      string `json:"node,omitempty"`
	Label     string `json:"label,omitempty"`
	Timestamp string `json:"ts,omitempty"`
	Body      string `json:"body,omitempty"`

	// Detail is the command text for step events, with the error code
	// appended when the command failed.
	Detail string `json:"detail,omitempty"`
}

// GroupClock is one group clock in a final snapshot.
type GroupClock struct {
	Group string `json:"group"`
	Clock string `json:"clock"`
}

// NodeState is the final state of one node.
type NodeState struct {
	Name   string       `json:"name"`
	Clock  string       `json:"clock"`
	Groups []GroupClock `json:"groups"`

	// Mutex is empty when the node has no mutual-exclusion group.
	Mutex    string   `json:"mutex,omitempty"`
	Voted    bool     `json:"voted"`
	Deferred []string `json:"deferred"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step and assertion matched.
	Pass bool `json:"pass"`

	// Trace lists steps, deliveries and log copies in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Deliveries maps node name to delivered labels, in delivery order.
	Deliveries map[string][]string `json:"deliveries"`

	// Logged lists labels received by the log collector.
	Logged []string `json:"logged"`

	// Final holds every node's state after the last step, in process order.
	Final []NodeState `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Deliveries: make(map[string][]string),
		Logged:     []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep records the command run by a step.
func (r *Result) AddStep(step int, node, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Type: EventStep, Node: node, Detail: detail})
}

// AddDelivery records a message handed to the application at node.
func (r *Result) AddDelivery(step int, node string, m message.TimedMessage) {
	label := Label(m)
	r.Deliveries[node] = append(r.Deliveries[node], label)
	r.Trace = append(r.Trace, TraceEvent{
		Step:      step,
		Type:      EventDeliver,
		Node:      node,
		Label:     label,
		Timestamp: m.Timestamp.String(),
		Body:      m.Body(),
	})
}

// AddLog records a copy received by the log collector.
func (r *Result) AddLog(step int, m message.TimedMessage) {
	label := Label(m)
	r.Logged = append(r.Logged, label)
	r.Trace = append(r.Trace, TraceEvent{
		Step:      step,
		Type:      EventLog,
		Label:     label,
		Timestamp: m.Timestamp.String(),
		Body:      m.Body(),
	})
}

// Label names a delivered message independently of the route it took:
// "A/g#3" for a multicast (whoever forwarded it), "A:ping#1" for an
// ordinary message. Duplicates carry a "+dup" suffix.
func Label(m message.TimedMessage) string {
	var l string
	if m.Multicast != nil {
		l = fmt.Sprintf("%s/%s#%d", m.Multicast.Multicaster, m.Multicast.Group, m.Multicast.Seq)
	} else {
		l = fmt.Sprintf("%s:%s#%d", m.Source, m.Kind, m.Seq)
	}
	if m.Duplicate {
		l += "+dup"
	}
	return l
}
