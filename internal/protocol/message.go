// File: internal/protocol/message.go
package protocol

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
)

// codec is the JSON configuration used for every wire message. The protocol
// is chatty (one envelope per command, response and event), so the faster
// drop-in encoder pays for itself.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is the wire envelope. Commands carry {id, guid, method, params};
// the matching terminal response carries {id, result|error}; unsolicited
// events carry {guid, method, params} without an id.
type Message struct {
	ID     uint32          `json:"id,omitempty"`
	GUID   string          `json:"guid,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`

	// Creates lists remote objects brought to life by this command. The
	// connection applies these to the registry before resolving the pending
	// request, so a returned handle never references an object the caller
	// has not yet seen.
	Creates []CreateDescriptor `json:"__create__,omitempty"`
}

// CreateDescriptor announces a new remote object under a known parent.
type CreateDescriptor struct {
	Type        string          `json:"type"`
	GUID        string          `json:"guid"`
	Initializer json.RawMessage `json:"initializer,omitempty"`
}

// ErrorPayload is the browser-reported error body, passed through verbatim.
type ErrorPayload struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// toError converts the payload into the engine's error taxonomy.
func (p *ErrorPayload) toError() error {
	return &ProtocolError{Name: p.Name, Message: p.Message, Stack: p.Stack}
}

// EncodeMessage serializes one envelope for the transport.
func EncodeMessage(msg *Message) ([]byte, error) {
	return codec.Marshal(msg)
}

// DecodeMessage parses one inbound frame. Decode failures are reported as
// ErrMalformedFrame so the receive loop can drop the frame without dying.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := codec.Unmarshal(data, &msg); err != nil {
		return nil, &malformedFrameError{cause: err}
	}
	return &msg, nil
}

type malformedFrameError struct {
	cause error
}

func (e *malformedFrameError) Error() string {
	return "malformed protocol frame: " + e.cause.Error()
}

func (e *malformedFrameError) Is(target error) bool { return target == ErrMalformedFrame }

func (e *malformedFrameError) Unwrap() error { return e.cause }
