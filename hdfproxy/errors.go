package hdfproxy

import (
	"errors"
	"fmt"
	"time"
)

// Error sentinel values for common conditions.
var (
	// ErrTimeout indicates a blocking wait exceeded its budget.
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrUnsupportedDatatype indicates a datatype outside the fixed
	// datatype/transport mapping.
	ErrUnsupportedDatatype = errors.New("unsupported datatype")

	// ErrNotImplemented indicates an array-file operation the proxy
	// deliberately does not provide.
	ErrNotImplemented = errors.New("not implemented")

	// ErrProtocol indicates a channel-level failure or an exception
	// reported by the remote service.
	ErrProtocol = errors.New("protocol error")

	// ErrInvalidChunk indicates starts/counts/totalCounts that do not
	// describe a box inside the array.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrCeilingTooSmall indicates a message size ceiling below the size
	// of one element, which no split can ever satisfy.
	ErrCeilingTooSmall = errors.New("max array size smaller than one element")

	// ErrInvalidArgument indicates a malformed call argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// TimeoutError reports a request whose response did not arrive in time.
type TimeoutError struct {
	RequestID int64
	Budget    time.Duration

	// StillProcessing records whether the channel still considered the
	// request in flight when the budget elapsed.
	StillProcessing bool
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for response to message id %d", e.Budget, e.RequestID)
}

// Is reports ErrTimeout as a match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ProtocolError wraps a send failure or a remote ProtocolException.
type ProtocolError struct {
	// Op names the message or operation that failed.
	Op string

	// Code and Message are set when the remote side answered with an exception.
	Code    int32
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: remote exception %d: %s", e.Op, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: remote exception %d", e.Op, e.Code)
	}
}

// Is reports ErrProtocol as a match.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

func (e *ProtocolError) Unwrap() error { return e.Err }

func notImplemented(op string) error {
	return fmt.Errorf("hdfproxy: %s: %w", op, ErrNotImplemented)
}
