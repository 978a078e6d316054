package node

import (
	"sync"

	"github.com/roach88/msgpass/internal/message"
)

// deliveryQueue is the application delivery queue: an unbounded,
// thread-safe FIFO of delivered messages.
//
// Producers are the session's inbound handlers (under the session lock);
// the consumer is whoever calls Session.Next. A buffered channel of size 1
// signals availability so the consumer can wait on it together with a
// context instead of polling.
type deliveryQueue struct {
	mu     sync.Mutex
	items  []message.TimedMessage
	closed bool
	signal chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		items:  make([]message.TimedMessage, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds m to the back of the queue.
// Returns false if the queue is closed.
func (q *deliveryQueue) Enqueue(m message.TimedMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, m)

	// Non-blocking; the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front message without blocking.
func (q *deliveryQueue) TryDequeue() (message.TimedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return message.TimedMessage{}, false
	}
	m := q.items[0]
	q.items[0] = message.TimedMessage{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return m, true
}

// Wait returns a channel that signals when messages may be available.
// It is closed when the queue is closed.
func (q *deliveryQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *deliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *deliveryQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes any waiter.
func (q *deliveryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
