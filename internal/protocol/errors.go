// File: internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedFrame marks an inbound frame the transport could not decode.
// The connection logs and drops such frames; they are never fatal to the
// receive loop.
var ErrMalformedFrame = errors.New("malformed protocol frame")

// ConnectionClosedError reports that the transport to the browser process is
// gone. It is fatal to every operation pending on the connection.
type ConnectionClosedError struct {
	Cause error
}

func (e *ConnectionClosedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection closed: %v", e.Cause)
	}
	return "connection closed"
}

func (e *ConnectionClosedError) Unwrap() error { return e.Cause }

// UnknownChannelError reports a message referencing a guid the registry has
// never seen. This is a protocol-level invariant violation, never a user
// error, and is logged loudly where it is caught.
type UnknownChannelError struct {
	GUID string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel %q", e.GUID)
}

// UnknownKindError reports a create descriptor carrying a type tag outside
// the closed set of known channel kinds.
type UnknownKindError struct {
	Tag string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown channel kind %q", e.Tag)
}

// DetachedError reports use of a channel after it was disposed. The caller
// should re-query for a fresh handle.
type DetachedError struct {
	GUID string
	Kind Kind
}

func (e *DetachedError) Error() string {
	if e.GUID == "" {
		return "element is detached"
	}
	return fmt.Sprintf("%s %q is detached", e.Kind, e.GUID)
}

// TimeoutError reports that an operation exceeded its budget. Recoverable:
// the caller may retry with a larger budget.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout %v exceeded", e.Op, e.Timeout)
}

// TargetClosedError reports that the page or context owning an awaited event
// closed while the wait was outstanding.
type TargetClosedError struct {
	GUID string
}

func (e *TargetClosedError) Error() string {
	return fmt.Sprintf("target %q closed while waiting", e.GUID)
}

// ProtocolError is a browser-reported command failure. Message, name and
// stack are passed through verbatim.
type ProtocolError struct {
	Name    string
	Message string
	Stack   string
}

func (e *ProtocolError) Error() string {
	if e.Name != "" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}
