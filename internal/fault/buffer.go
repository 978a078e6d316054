package fault

import "sync"

// Buffer is the FIFO delay buffer for one path.
//
// Messages are pushed when a delay rule matches and drained, in order,
// right after the next message on the same path finishes processing.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push appends v to the back of the buffer.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, v)
}

// Pop removes the front element.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	if len(b.items) == 0 {
		return zero, false
	}
	v := b.items[0]
	b.items[0] = zero
	b.items = b.items[1:]
	if len(b.items) == 0 {
		b.items = nil
	}
	return v, true
}

// Len returns the number of buffered messages.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
