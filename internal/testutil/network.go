// Package testutil provides in-memory collaborators for tests: a
// concurrent network and a single-threaded scheduler standing in for TCP,
// a log collector sink and a sequential ID generator.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roach88/msgpass/internal/message"
)

// Receiver is the inbound side of a node (node.Session satisfies it).
type Receiver interface {
	HandleIncoming(ctx context.Context, m message.TimedMessage) error
}

// Envelope records one transmission on the network.
type Envelope struct {
	From string
	To   string
	Msg  message.TimedMessage
}

type link struct{ from, to string }

type linkQueue struct {
	pending []message.TimedMessage
	running bool
}

// Network is an in-memory point-to-point network.
//
// Every (from, to) link is FIFO and drained by its own goroutine, so a
// receiver that transmits while handling a message never blocks its
// sender. Messages are JSON round-tripped to mimic the wire.
//
// Thread-safety: all methods are safe for concurrent use.
type Network struct {
	mu       sync.Mutex
	idle     *sync.Cond
	nodes    map[string]Receiver
	links    map[link]*linkQueue
	down     map[string]bool
	inflight int
	sent     []Envelope
	errs     []error
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	n := &Network{
		nodes: make(map[string]Receiver),
		links: make(map[link]*linkQueue),
		down:  make(map[string]bool),
	}
	n.idle = sync.NewCond(&n.mu)
	return n
}

// Attach registers the receiver for name.
func (n *Network) Attach(name string, r Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[name] = r
}

// SetDown makes name unreachable (sends to it fail) or reachable again.
func (n *Network) SetDown(name string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[name] = down
}

// Endpoint returns the transport used by node from.
func (n *Network) Endpoint(from string) *Endpoint {
	return &Endpoint{net: n, from: from}
}

// WaitIdle blocks until no message is in flight.
func (n *Network) WaitIdle() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.inflight > 0 {
		n.idle.Wait()
	}
}

// Sent returns every successful transmission in order.
func (n *Network) Sent() []Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Envelope(nil), n.sent...)
}

// Errors returns errors reported by receivers.
func (n *Network) Errors() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.errs...)
}

// wireCopy round-trips m through JSON as the TCP codec would.
func wireCopy(m message.TimedMessage) (message.TimedMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return message.TimedMessage{}, fmt.Errorf("encode message: %w", err)
	}
	var wire message.TimedMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return message.TimedMessage{}, fmt.Errorf("decode message: %w", err)
	}
	return wire, nil
}

func (n *Network) send(from, to string, m message.TimedMessage) error {
	wire, err := wireCopy(m)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.nodes[to]; !ok || n.down[to] {
		return fmt.Errorf("dial %s: connection refused", to)
	}
	n.sent = append(n.sent, Envelope{From: from, To: to, Msg: wire})

	l := link{from: from, to: to}
	q, ok := n.links[l]
	if !ok {
		q = &linkQueue{}
		n.links[l] = q
	}
	q.pending = append(q.pending, wire)
	n.inflight++
	if !q.running {
		q.running = true
		go n.drain(l, q)
	}
	return nil
}

func (n *Network) drain(l link, q *linkQueue) {
	for {
		n.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			n.mu.Unlock()
			return
		}
		m := q.pending[0]
		q.pending = q.pending[1:]
		r := n.nodes[l.to]
		n.mu.Unlock()

		err := r.HandleIncoming(context.Background(), m)

		n.mu.Lock()
		if err != nil {
			n.errs = append(n.errs, fmt.Errorf("%s -> %s: %w", l.from, l.to, err))
		}
		n.inflight--
		if n.inflight == 0 {
			n.idle.Broadcast()
		}
		n.mu.Unlock()
	}
}

type sender interface {
	send(from, to string, m message.TimedMessage) error
}

// Endpoint is one node's view of a Network or Scheduler; it implements
// node.Transport.
type Endpoint struct {
	net  sender
	from string
}

// Send queues m for delivery to peer.
func (e *Endpoint) Send(_ context.Context, peer string, m message.TimedMessage) error {
	return e.net.send(e.from, peer, m)
}

// LogRecorder is an in-memory log collector sink.
type LogRecorder struct {
	mu      sync.Mutex
	entries []message.TimedMessage
	err     error
}

// Log records m, or fails with the error set by Fail.
func (r *LogRecorder) Log(_ context.Context, m message.TimedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, m.Clone())
	return nil
}

// Fail makes subsequent Log calls return err (nil restores success).
func (r *LogRecorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Entries returns the recorded messages.
func (r *LogRecorder) Entries() []message.TimedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.TimedMessage(nil), r.entries...)
}
