package channel

import (
	"errors"
	"fmt"
)

// ErrNoReceiver is the cause of a TransportFault when no listener is
// registered for the sent type.
var ErrNoReceiver = errors.New("channel: receiving end does not exist")

// ErrClosed is the cause of a TransportFault on a closed hub or port.
var ErrClosed = errors.New("channel: closed")

// ErrNoValue is returned by Reply.Decode for an empty reply.
var ErrNoValue = errors.New("channel: reply carries no value")

// ErrTransport reports that a message could not be delivered.
type ErrTransport struct {
	Type  string
	Cause error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("channel: deliver %s: %v", e.Type, e.Cause)
}

func (e *ErrTransport) Unwrap() error { return e.Cause }

// ErrMalformed reports a payload or reply that does not decode as expected.
type ErrMalformed struct {
	Type  string
	Cause error
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("channel: malformed %s payload: %v", e.Type, e.Cause)
}

func (e *ErrMalformed) Unwrap() error { return e.Cause }
