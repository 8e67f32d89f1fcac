// File: internal/protocol/loopback.go
package protocol

import (
	"io"
	"sync"
)

// LoopbackTransport is an in-process Transport half. A pair of halves shares
// two message channels and a common close signal, so either side closing
// tears both down. It exists for in-process endpoints and for tests; frames
// still pass through the wire codec so encode/decode behavior is exercised.
type LoopbackTransport struct {
	out  chan<- []byte
	in   <-chan []byte
	done chan struct{}
	once *sync.Once
}

// NewLoopbackPair returns two connected transports. Messages sent on one
// side are received on the other.
func NewLoopbackPair() (*LoopbackTransport, *LoopbackTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &LoopbackTransport{out: ab, in: ba, done: done, once: once}
	b := &LoopbackTransport{out: ba, in: ab, done: done, once: once}
	return a, b
}

func (t *LoopbackTransport) Send(msg *Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	select {
	case t.out <- data:
		return nil
	case <-t.done:
		return io.ErrClosedPipe
	}
}

// SendRaw injects a pre-encoded frame, bypassing the codec. Tests use it to
// deliver deliberately malformed frames.
func (t *LoopbackTransport) SendRaw(data []byte) error {
	select {
	case t.out <- data:
		return nil
	case <-t.done:
		return io.ErrClosedPipe
	}
}

func (t *LoopbackTransport) Recv() (*Message, error) {
	select {
	case data := <-t.in:
		return DecodeMessage(data)
	case <-t.done:
		// Drain anything that raced with the close signal.
		select {
		case data := <-t.in:
			return DecodeMessage(data)
		default:
			return nil, io.EOF
		}
	}
}

func (t *LoopbackTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

// Done exposes the shared close signal.
func (t *LoopbackTransport) Done() <-chan struct{} { return t.done }
