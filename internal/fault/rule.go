package fault

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/roach88/msgpass/internal/message"
)

// Action is what a matching rule does to a message.
type Action string

const (
	ActionDrop      Action = "drop"
	ActionDelay     Action = "delay"
	ActionDuplicate Action = "duplicate"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(s)); a {
	case ActionDrop, ActionDelay, ActionDuplicate:
		return a, nil
	default:
		return "", fmt.Errorf("unknown rule action %q (want drop, delay or duplicate)", s)
	}
}

// Rule is a predicate plus an action. Nil fields are wildcards.
type Rule struct {
	Action    Action
	Src       *string
	Dest      *string
	Kind      *string
	Seq       *int64
	Duplicate *bool
}

// Matches reports whether every specified field equals the message field.
func (r Rule) Matches(m message.Message) bool {
	if r.Src != nil && *r.Src != m.Source {
		return false
	}
	if r.Dest != nil && *r.Dest != m.Destination {
		return false
	}
	if r.Kind != nil && *r.Kind != m.Kind {
		return false
	}
	if r.Seq != nil && *r.Seq != m.Seq {
		return false
	}
	if r.Duplicate != nil && *r.Duplicate != m.Duplicate {
		return false
	}
	return true
}

func (r Rule) String() string {
	var b strings.Builder
	b.WriteString(string(r.Action))
	if r.Src != nil {
		fmt.Fprintf(&b, " src=%s", *r.Src)
	}
	if r.Dest != nil {
		fmt.Fprintf(&b, " dest=%s", *r.Dest)
	}
	if r.Kind != nil {
		fmt.Fprintf(&b, " kind=%s", *r.Kind)
	}
	if r.Seq != nil {
		fmt.Fprintf(&b, " seq=%d", *r.Seq)
	}
	if r.Duplicate != nil {
		fmt.Fprintf(&b, " dup=%t", *r.Duplicate)
	}
	return b.String()
}

// Match scans rules in order and returns the first match.
//
// Pure and deterministic: the same message and rule list always yield the
// same rule.
func Match(m message.Message, rules []Rule) (Rule, bool) {
	for _, r := range rules {
		if r.Matches(m) {
			return r, true
		}
	}
	return Rule{}, false
}

// Table holds the current rule list for one path (send or receive).
//
// The list is replaced wholesale by Store and never mutated in place, so a
// decision always sees one consistent snapshot.
//
// Thread-safety: Table is safe for concurrent use.
type Table struct {
	rules atomic.Pointer[[]Rule]
}

// NewTable creates a table holding a copy of rules.
func NewTable(rules []Rule) *Table {
	t := &Table{}
	t.Store(rules)
	return t
}

// Store swaps in a copy of rules.
func (t *Table) Store(rules []Rule) {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	t.rules.Store(&cp)
}

// Load returns the current snapshot. Callers must not modify it.
func (t *Table) Load() []Rule {
	p := t.rules.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Match evaluates m against the current snapshot.
func (t *Table) Match(m message.Message) (Rule, bool) {
	return Match(m, t.Load())
}

// Helpers for building rules in code and tests.

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int64) *int64 { return &n }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }
