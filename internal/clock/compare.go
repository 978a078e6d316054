package clock

import "fmt"

// Ordering is the result of comparing two timestamps.
type Ordering int

const (
	// Before means a happened before b (a <= b component-wise, a != b).
	Before Ordering = iota - 1
	// Equal means both timestamps hold the same value.
	Equal
	// After means b happened before a.
	After
	// Concurrent means neither vector dominates the other.
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case Equal:
		return "equal"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// Compare orders two timestamps of the same kind.
//
// Logical timestamps are totally ordered by value. Vector timestamps are
// partially ordered: a precedes b iff every component of a is <= the
// matching component of b. When neither dominates the result is Concurrent.
//
// Comparing a logical timestamp with a vector one is a programming error
// and fails with ErrKindMismatch rather than guessing an order.
func Compare(a, b Timestamp) (Ordering, error) {
	if a.kind != b.kind {
		return Concurrent, fmt.Errorf("compare %s with %s: %w", a.kind, b.kind, ErrKindMismatch)
	}
	switch a.kind {
	case KindLogical:
		switch {
		case a.scalar < b.scalar:
			return Before, nil
		case a.scalar > b.scalar:
			return After, nil
		default:
			return Equal, nil
		}
	case KindVector:
		if len(a.vector) != len(b.vector) {
			return Concurrent, fmt.Errorf("compare %d with %d components: %w",
				len(a.vector), len(b.vector), ErrLengthMismatch)
		}
		le, ge := true, true
		for i := range a.vector {
			if a.vector[i] > b.vector[i] {
				le = false
			}
			if a.vector[i] < b.vector[i] {
				ge = false
			}
		}
		switch {
		case le && ge:
			return Equal, nil
		case le:
			return Before, nil
		case ge:
			return After, nil
		default:
			return Concurrent, nil
		}
	default:
		return Concurrent, fmt.Errorf("compare unset timestamps: %w", ErrKindMismatch)
	}
}
