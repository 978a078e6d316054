package causal

import (
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/msgpass/internal/clock"
	"github.com/roach88/msgpass/internal/message"
)

// Result is what one Receive call produced.
type Result struct {
	// Delivered holds messages ready for the application, in delivery order.
	Delivered []message.TimedMessage

	// Forward holds messages this node must re-broadcast to the rest of the
	// group. Forwarding reuses the original timestamp and metadata.
	Forward []message.TimedMessage

	// Duplicate is set when the message was already R-delivered.
	Duplicate bool
}

// group is the per-group delivery state.
type group struct {
	name     string
	members  []string
	member   bool
	clock    *clock.VectorClock
	holdback []message.TimedMessage
}

// Engine implements reliable, causally ordered multicast delivery.
//
// Engine is not safe for concurrent use. The node session owns it and
// calls it only from inside its critical section, which makes each
// Receive (including the whole hold-back scan) atomic with respect to
// other inbound messages.
type Engine struct {
	self      string
	index     map[string]int
	n         int
	groups    map[string]*group
	delivered map[message.MulticastID]struct{}
}

// New creates an engine for process self.
//
// processes lists every node name in global process-index order; groups
// maps group names to their members.
func New(self string, processes []string, groups map[string][]string) (*Engine, error) {
	index := make(map[string]int, len(processes))
	for i, p := range processes {
		if _, dup := index[p]; dup {
			return nil, fmt.Errorf("duplicate process name %q", p)
		}
		index[p] = i
	}
	selfIdx, ok := index[self]
	if !ok {
		return nil, fmt.Errorf("local process %q is not in the process list", self)
	}

	e := &Engine{
		self:      self,
		index:     index,
		n:         len(processes),
		groups:    make(map[string]*group, len(groups)),
		delivered: make(map[message.MulticastID]struct{}),
	}
	for name, members := range groups {
		vc, err := clock.NewVector(len(processes), selfIdx)
		if err != nil {
			return nil, err
		}
		g := &group{name: name, members: append([]string(nil), members...), clock: vc}
		for _, m := range members {
			if _, ok := index[m]; !ok {
				return nil, fmt.Errorf("group %q: unknown member %q", name, m)
			}
			if m == self {
				g.member = true
			}
		}
		e.groups[name] = g
	}
	return e, nil
}

// Stamp advances this node's own component of the group clock for a new
// multicast and returns the timestamp the multicast carries.
func (e *Engine) Stamp(groupName string) (clock.Timestamp, error) {
	g, err := e.memberGroup(groupName)
	if err != nil {
		return clock.Timestamp{}, err
	}
	return g.clock.Tick(), nil
}

// Receive runs one multicast through R-deliver and CO-deliver.
//
//  1. Already delivered identities are discarded; new ones are recorded.
//  2. The node's own multicast is delivered directly and never forwarded.
//  3. Anything else joins the hold-back queue, which is scanned to a fixed
//     point: a held message from multicaster j is deliverable iff
//     Vm[j] == Vi[j]+1 and Vm[k] <= Vi[k] for every k != j. Each delivery
//     bumps Vi[j] and queues the message for forwarding.
//
// Malformed metadata fails with an error and leaves the state untouched.
func (e *Engine) Receive(m message.TimedMessage) (Result, error) {
	id, err := m.MulticastID()
	if err != nil {
		return Result{}, err
	}
	g, err := e.memberGroup(id.Group)
	if err != nil {
		return Result{}, err
	}
	if _, ok := e.index[id.Multicaster]; !ok {
		return Result{}, fmt.Errorf("multicast %s: unknown multicaster", id)
	}
	if m.Timestamp.Kind() != clock.KindVector || m.Timestamp.Len() != e.n {
		return Result{}, fmt.Errorf("multicast %s: want a %d-component vector timestamp, got %s",
			id, e.n, m.Timestamp)
	}

	if _, seen := e.delivered[id]; seen {
		return Result{Duplicate: true}, nil
	}
	e.delivered[id] = struct{}{}

	if m.Source == e.self {
		return Result{Delivered: []message.TimedMessage{m}}, nil
	}

	g.holdback = append(g.holdback, m)

	var res Result
	for progress := true; progress; {
		progress = false
		for i := 0; i < len(g.holdback); {
			h := g.holdback[i]
			j := e.index[h.Multicast.Multicaster]
			if !g.deliverable(h.Timestamp, j) {
				i++
				continue
			}
			g.holdback = slices.Delete(g.holdback, i, i+1)
			if err := g.clock.Bump(j); err != nil {
				return res, err
			}
			res.Delivered = append(res.Delivered, h)
			res.Forward = append(res.Forward, h)
			progress = true
		}
	}
	return res, nil
}

// deliverable checks the CBCAST delivery condition against the live clock.
func (g *group) deliverable(vm clock.Timestamp, j int) bool {
	vi := g.clock.Snapshot()
	if vm.At(j) != vi.At(j)+1 {
		return false
	}
	for k := 0; k < vi.Len(); k++ {
		if k != j && vm.At(k) > vi.At(k) {
			return false
		}
	}
	return true
}

func (e *Engine) memberGroup(name string) (*group, error) {
	g, ok := e.groups[name]
	if !ok {
		return nil, fmt.Errorf("unknown group %q", name)
	}
	if !g.member {
		return nil, fmt.Errorf("%s is not a member of group %q", e.self, name)
	}
	return g, nil
}

// Members returns the members of a group in configured order.
func (e *Engine) Members(groupName string) ([]string, bool) {
	g, ok := e.groups[groupName]
	if !ok {
		return nil, false
	}
	return append([]string(nil), g.members...), true
}

// IsMember reports whether the local process belongs to the group.
func (e *Engine) IsMember(groupName string) bool {
	g, ok := e.groups[groupName]
	return ok && g.member
}

// GroupClock returns a snapshot of a group's vector clock.
func (e *Engine) GroupClock(groupName string) (clock.Timestamp, bool) {
	g, ok := e.groups[groupName]
	if !ok {
		return clock.Timestamp{}, false
	}
	return g.clock.Snapshot(), true
}

// Groups returns the group names in sorted order.
func (e *Engine) Groups() []string {
	names := make([]string, 0, len(e.groups))
	for name := range e.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Held returns the number of messages waiting in a group's hold-back queue.
func (e *Engine) Held(groupName string) int {
	if g, ok := e.groups[groupName]; ok {
		return len(g.holdback)
	}
	return 0
}

// HeldTotal returns the number of held messages across all groups.
func (e *Engine) HeldTotal() int {
	total := 0
	for _, g := range e.groups {
		total += len(g.holdback)
	}
	return total
}
