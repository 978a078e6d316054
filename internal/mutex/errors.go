package mutex

import (
	"errors"
	"fmt"
)

// TransitionError reports an operator call that is invalid in the current
// state. The coordinator state is unchanged when it is returned.
type TransitionError struct {
	// Op is the attempted operation ("request" or "release").
	Op string

	// State is the state the coordinator was in.
	State State
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	switch e.Op {
	case "release":
		return fmt.Sprintf("cannot release from %s: you are not holding the critical section", e.State)
	default:
		return fmt.Sprintf("cannot %s from %s: a request is already outstanding or held", e.Op, e.State)
	}
}

// IsTransitionError reports whether err is (or wraps) a TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
