package clock

import (
	"fmt"
	"sync"
)

// Clock is the capability every node clock offers.
//
// Implementations are safe for concurrent use; each instance is its own
// mutual-exclusion domain.
type Clock interface {
	// Tick advances local time for a send event and returns the new time.
	Tick() Timestamp
	// Merge folds a received timestamp into local time.
	Merge(incoming Timestamp) error
	// Snapshot returns the current time without advancing it.
	Snapshot() Timestamp
}

// LogicalClock is a Lamport scalar clock.
//
// A new clock reads 0; the first Tick returns 1.
type LogicalClock struct {
	mu  sync.Mutex
	now int64
}

// NewLogical creates a logical clock starting at 0.
func NewLogical() *LogicalClock {
	return &LogicalClock{}
}

// Tick increments and returns the new value.
func (c *LogicalClock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return Logical(c.now)
}

// Merge sets local = max(local, incoming) + 1.
func (c *LogicalClock) Merge(incoming Timestamp) error {
	if incoming.kind != KindLogical {
		return fmt.Errorf("merge %s into logical clock: %w", incoming.kind, ErrKindMismatch)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = max(c.now, incoming.scalar) + 1
	return nil
}

// Snapshot returns the current value.
func (c *LogicalClock) Snapshot() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Logical(c.now)
}

// VectorClock is a per-process vector clock of fixed length.
//
// Components never decrease: Tick, Merge and Bump only add to or raise them.
type VectorClock struct {
	mu   sync.Mutex
	self int
	v    []int64
}

// NewVector creates a zeroed vector clock of size n owned by process self.
func NewVector(n, self int) (*VectorClock, error) {
	if n <= 0 {
		return nil, fmt.Errorf("vector clock size must be positive, got %d", n)
	}
	if self < 0 || self >= n {
		return nil, fmt.Errorf("vector clock index %d out of range [0, %d)", self, n)
	}
	return &VectorClock{self: self, v: make([]int64, n)}, nil
}

// Self returns the index of the owning process.
func (c *VectorClock) Self() int { return c.self }

// Len returns the number of processes tracked.
func (c *VectorClock) Len() int { return len(c.v) }

// Tick increments the local component and returns a snapshot.
func (c *VectorClock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v[c.self]++
	return Vector(c.v...)
}

// Merge increments the local component by one and raises every component
// to at least the incoming value.
func (c *VectorClock) Merge(incoming Timestamp) error {
	if incoming.kind != KindVector {
		return fmt.Errorf("merge %s into vector clock: %w", incoming.kind, ErrKindMismatch)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(incoming.vector) != len(c.v) {
		return fmt.Errorf("merge %d components into %d: %w", len(incoming.vector), len(c.v), ErrLengthMismatch)
	}
	c.v[c.self]++
	for i, x := range incoming.vector {
		c.v[i] = max(c.v[i], x)
	}
	return nil
}

// Bump increments a single component, leaving the others untouched.
// The causal delivery engine uses it when it delivers on behalf of
// another process.
func (c *VectorClock) Bump(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.v) {
		return fmt.Errorf("bump index %d out of range [0, %d)", i, len(c.v))
	}
	c.v[i]++
	return nil
}

// Get returns component i.
func (c *VectorClock) Get(i int) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v[i]
}

// Snapshot returns a copy of the whole vector.
func (c *VectorClock) Snapshot() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Vector(c.v...)
}

// New builds the main clock for a node: logical when useLogical is set,
// otherwise a vector of size n owned by self.
func New(useLogical bool, n, self int) (Clock, error) {
	if useLogical {
		return NewLogical(), nil
	}
	return NewVector(n, self)
}
