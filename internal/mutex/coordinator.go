// Package mutex implements the permission-based mutual-exclusion protocol
// layered on causal multicast.
//
// A requester multicasts REQUEST to its mutual-exclusion group and enters
// the critical section once every member (itself included) has replied.
// A member votes for one request at a time; requests that arrive while it
// holds the section or has already voted are deferred in timestamp order
// and granted one per RELEASE.
//
// The Coordinator performs no I/O. Delivery callbacks return a Grant that
// the caller turns into a REPLY message, so the state machine can run under
// the node's critical section while transmission happens outside it.
package mutex

import (
	"fmt"
	"slices"

	"github.com/roach88/msgpass/internal/clock"
)

// State is the local mutual-exclusion state.
type State int

const (
	Released State = iota
	Wanted
	Held
)

func (s State) String() string {
	switch s {
	case Released:
		return "RELEASED"
	case Wanted:
		return "WANTED"
	case Held:
		return "HELD"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Request is a REQUEST as seen by a voter.
type Request struct {
	Requester string
	Timestamp clock.Timestamp
}

// Grant tells the caller to send a REPLY to Requester.
type Grant struct {
	Requester string
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State    State
	Voted    bool
	Replies  int
	Quorum   int
	Deferred []string
}

// Coordinator is the per-node mutual-exclusion state machine.
//
// Thread-safety: Coordinator is not safe for concurrent use. The node
// session calls it only while holding its critical section.
type Coordinator struct {
	self     string
	group    string
	members  []string
	state    State
	voted    bool
	replies  map[string]struct{}
	deferred []Request
}

// New creates a coordinator for self voting in group.
func New(self, group string, members []string) (*Coordinator, error) {
	if !slices.Contains(members, self) {
		return nil, fmt.Errorf("%s is not a member of mutual-exclusion group %q", self, group)
	}
	return &Coordinator{
		self:    self,
		group:   group,
		members: slices.Clone(members),
		replies: make(map[string]struct{}),
	}, nil
}

// Group returns the mutual-exclusion group name.
func (c *Coordinator) Group() string { return c.group }

// State returns the current state.
func (c *Coordinator) State() State { return c.state }

// Request moves RELEASED to WANTED and clears the reply set. The caller
// multicasts the REQUEST after a nil return.
func (c *Coordinator) Request() error {
	if c.state != Released {
		return &TransitionError{Op: "request", State: c.state}
	}
	c.state = Wanted
	clear(c.replies)
	return nil
}

// Release moves HELD to RELEASED. The caller multicasts the RELEASE after
// a nil return.
func (c *Coordinator) Release() error {
	if c.state != Held {
		return &TransitionError{Op: "release", State: c.state}
	}
	c.state = Released
	return nil
}

// OnRequest handles the causal delivery of a REQUEST.
//
// If this node holds the section or has already voted, the request is
// deferred and no grant is returned. Otherwise the node votes for it.
// A timestamp of the wrong kind fails without changing state.
func (c *Coordinator) OnRequest(req Request) (Grant, bool, error) {
	if c.state == Held || c.voted {
		if err := c.enqueue(req); err != nil {
			return Grant{}, false, err
		}
		return Grant{}, false, nil
	}
	c.voted = true
	return Grant{Requester: req.Requester}, true, nil
}

// OnRelease handles the causal delivery of a RELEASE. The earliest
// deferred request, if any, receives this node's vote.
func (c *Coordinator) OnRelease() (Grant, bool) {
	if len(c.deferred) == 0 {
		c.voted = false
		return Grant{}, false
	}
	next := c.deferred[0]
	c.deferred = slices.Delete(c.deferred, 0, 1)
	c.voted = true
	return Grant{Requester: next.Requester}, true
}

// OnReply records a REPLY from replier. It reports whether this reply
// completed the quorum and moved the node to HELD. Replies that arrive
// while no request is outstanding are ignored.
func (c *Coordinator) OnReply(replier string) bool {
	if c.state != Wanted {
		return false
	}
	c.replies[replier] = struct{}{}
	if len(c.replies) == len(c.members) {
		c.state = Held
		return true
	}
	return false
}

// Status returns a snapshot for display.
func (c *Coordinator) Status() Status {
	deferred := make([]string, len(c.deferred))
	for i, r := range c.deferred {
		deferred[i] = r.Requester
	}
	return Status{
		State:    c.state,
		Voted:    c.voted,
		Replies:  len(c.replies),
		Quorum:   len(c.members),
		Deferred: deferred,
	}
}

// enqueue inserts req before the first queued request it precedes.
func (c *Coordinator) enqueue(req Request) error {
	at := len(c.deferred)
	for i, q := range c.deferred {
		before, err := Precedes(req, q)
		if err != nil {
			return err
		}
		if before {
			at = i
			break
		}
	}
	c.deferred = slices.Insert(c.deferred, at, req)
	return nil
}

// Precedes orders two requests for the deferred queue.
//
// Logical timestamps compare numerically. A vector timestamp precedes
// another iff it is component-wise <= it. Ties, equal vectors and
// concurrent vectors fall back to ascending requester name. Mixing
// timestamp kinds fails with clock.ErrKindMismatch.
func Precedes(a, b Request) (bool, error) {
	ord, err := clock.Compare(a.Timestamp, b.Timestamp)
	if err != nil {
		return false, fmt.Errorf("order requests from %s and %s: %w", a.Requester, b.Requester, err)
	}
	switch ord {
	case clock.Before:
		return true, nil
	case clock.After:
		return false, nil
	default:
		return a.Requester < b.Requester, nil
	}
}
