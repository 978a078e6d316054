package node

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes session errors.
type ErrorCode string

const (
	// CodeUnknownDestination indicates a send to a node that is not configured.
	CodeUnknownDestination ErrorCode = "UNKNOWN_DESTINATION"

	// CodeUnknownGroup indicates a multicast to a group that is not configured,
	// or a mutual-exclusion call on a node without a mutual-exclusion group.
	CodeUnknownGroup ErrorCode = "UNKNOWN_GROUP"

	// CodeNotAMember indicates a multicast to a group this node is not in.
	CodeNotAMember ErrorCode = "NOT_A_MEMBER"

	// CodeClockMode indicates an operation that needs vector time on a node
	// running a logical clock.
	CodeClockMode ErrorCode = "CLOCK_MODE"

	// CodeInvalidTransition indicates request/release from the wrong state.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// CodeProtocol indicates malformed inbound metadata or a timestamp
	// mismatch. The offending message is discarded.
	CodeProtocol ErrorCode = "PROTOCOL"
)

// Error is returned by session operations. Operator usage errors leave the
// session state unchanged.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of a session error, or "" if err is not one.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsUsageError reports whether err is an operator usage error, as opposed
// to a protocol error.
func IsUsageError(err error) bool {
	switch CodeOf(err) {
	case CodeUnknownDestination, CodeUnknownGroup, CodeNotAMember, CodeClockMode, CodeInvalidTransition:
		return true
	default:
		return false
	}
}

// IsProtocolError reports whether err is a protocol error.
func IsProtocolError(err error) bool {
	return CodeOf(err) == CodeProtocol
}
