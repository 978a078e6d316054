package clock

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes the two timestamp variants.
type Kind int

const (
	// KindNone is the zero value: a message that was never stamped.
	KindNone Kind = iota
	// KindLogical is a single Lamport scalar.
	KindLogical
	// KindVector is a fixed-length vector indexed by process index.
	KindVector
)

func (k Kind) String() string {
	switch k {
	case KindLogical:
		return "logical"
	case KindVector:
		return "vector"
	default:
		return "none"
	}
}

var (
	// ErrKindMismatch is returned when a logical timestamp is compared
	// or merged with a vector timestamp.
	ErrKindMismatch = errors.New("timestamp kinds differ")

	// ErrLengthMismatch is returned when two vectors of different length meet.
	ErrLengthMismatch = errors.New("vector timestamp lengths differ")
)

// Timestamp is a tagged variant: Logical(int) | Vector([]int).
//
// A Timestamp is a value. Vector returns a copy, so holders can never
// mutate the clock that produced it.
type Timestamp struct {
	kind   Kind
	scalar int64
	vector []int64
}

// Logical returns a scalar timestamp.
func Logical(v int64) Timestamp {
	return Timestamp{kind: KindLogical, scalar: v}
}

// Vector returns a vector timestamp holding a copy of v.
func Vector(v ...int64) Timestamp {
	return Timestamp{kind: KindVector, vector: append([]int64(nil), v...)}
}

// Kind reports which variant t holds.
func (t Timestamp) Kind() Kind { return t.kind }

// IsZero reports whether t was never set.
func (t Timestamp) IsZero() bool { return t.kind == KindNone }

// Scalar returns the logical value. It is 0 for non-logical timestamps.
func (t Timestamp) Scalar() int64 { return t.scalar }

// Components returns a copy of the vector components (nil for logical).
func (t Timestamp) Components() []int64 {
	if t.kind != KindVector {
		return nil
	}
	return append([]int64(nil), t.vector...)
}

// Len returns the vector length, or 0 for non-vector timestamps.
func (t Timestamp) Len() int { return len(t.vector) }

// At returns component i of a vector timestamp.
func (t Timestamp) At(i int) int64 { return t.vector[i] }

// String renders "7" for logical and "[1 0 2]" for vector timestamps.
func (t Timestamp) String() string {
	switch t.kind {
	case KindLogical:
		return strconv.FormatInt(t.scalar, 10)
	case KindVector:
		parts := make([]string, len(t.vector))
		for i, c := range t.vector {
			parts[i] = strconv.FormatInt(c, 10)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return "<none>"
	}
}

// Equal reports whether a and b hold the same variant and value.
func (t Timestamp) Equal(o Timestamp) bool {
	if t.kind != o.kind {
		return false
	}
	switch t.kind {
	case KindLogical:
		return t.scalar == o.scalar
	case KindVector:
		if len(t.vector) != len(o.vector) {
			return false
		}
		for i := range t.vector {
			if t.vector[i] != o.vector[i] {
				return false
			}
		}
	}
	return true
}

// wireTimestamp is the JSON form: exactly one of the fields is set.
type wireTimestamp struct {
	Logical *int64  `json:"logical,omitempty"`
	Vector  []int64 `json:"vector,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	switch t.kind {
	case KindLogical:
		v := t.scalar
		return json.Marshal(wireTimestamp{Logical: &v})
	case KindVector:
		v := t.vector
		if v == nil {
			v = []int64{}
		}
		return json.Marshal(struct {
			Vector []int64 `json:"vector"`
		}{v})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var w wireTimestamp
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	switch {
	case w.Logical != nil && w.Vector != nil:
		return fmt.Errorf("decode timestamp: both logical and vector set")
	case w.Logical != nil:
		if *w.Logical < 0 {
			return fmt.Errorf("decode timestamp: negative logical time %d", *w.Logical)
		}
		*t = Logical(*w.Logical)
	case w.Vector != nil:
		for i, c := range w.Vector {
			if c < 0 {
				return fmt.Errorf("decode timestamp: negative component %d at %d", c, i)
			}
		}
		*t = Vector(w.Vector...)
	default:
		*t = Timestamp{}
	}
	return nil
}
