package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/msgpass/internal/message"
)

// Scheduler is a single-threaded in-memory network.
//
// Sends are queued in one global FIFO and nothing is delivered until
// Flush, which hands messages to receivers one at a time on the calling
// goroutine. Messages sent while handling are appended to the same queue,
// so a run is fully reproducible. Per-link FIFO order follows from the
// global order.
//
// Thread-safety: all methods are safe for concurrent use, but Flush must
// not be called from a receiver.
type Scheduler struct {
	mu    sync.Mutex
	nodes map[string]Receiver
	down  map[string]bool
	queue []Envelope
	sent  []Envelope
	errs  []error
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		nodes: make(map[string]Receiver),
		down:  make(map[string]bool),
	}
}

// Attach registers the receiver for name.
func (s *Scheduler) Attach(name string, r Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[name] = r
}

// SetDown makes name unreachable (sends to it fail) or reachable again.
func (s *Scheduler) SetDown(name string, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down[name] = down
}

// Endpoint returns the transport used by node from.
func (s *Scheduler) Endpoint(from string) *Endpoint {
	return &Endpoint{net: s, from: from}
}

// Pending returns the number of queued messages.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush delivers queued messages until the queue is empty and returns how
// many were delivered. limit bounds the run; Flush fails if it is reached,
// which catches message storms.
func (s *Scheduler) Flush(ctx context.Context, limit int) (int, error) {
	delivered := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return delivered, nil
		}
		if delivered >= limit {
			n := len(s.queue)
			s.mu.Unlock()
			return delivered, fmt.Errorf("flush: %d messages still queued after %d deliveries", n, limit)
		}
		env := s.queue[0]
		s.queue = s.queue[1:]
		r := s.nodes[env.To]
		s.mu.Unlock()

		err := r.HandleIncoming(ctx, env.Msg)
		delivered++

		if err != nil {
			s.mu.Lock()
			s.errs = append(s.errs, fmt.Errorf("%s -> %s: %w", env.From, env.To, err))
			s.mu.Unlock()
		}
	}
}

// Sent returns every successful transmission in order.
func (s *Scheduler) Sent() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.sent...)
}

// Errors returns errors reported by receivers.
func (s *Scheduler) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func (s *Scheduler) send(from, to string, m message.TimedMessage) error {
	wire, err := wireCopy(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[to]; !ok || s.down[to] {
		return fmt.Errorf("dial %s: connection refused", to)
	}
	env := Envelope{From: from, To: to, Msg: wire}
	s.sent = append(s.sent, env)
	s.queue = append(s.queue, env)
	return nil
}
