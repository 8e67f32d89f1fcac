// File: internal/protocol/transport_test.go
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pipePair(t *testing.T) (*PipeTransport, *PipeTransport) {
	t.Helper()
	a, b := net.Pipe()
	ta := NewPipeTransport(a, zap.NewNop())
	tb := NewPipeTransport(b, zap.NewNop())
	t.Cleanup(func() {
		_ = ta.Close()
		_ = tb.Close()
	})
	return ta, tb
}

func TestPipeTransportRoundTrip(t *testing.T) {
	ta, tb := pipePair(t)

	sent := &Message{
		ID:     7,
		GUID:   "page-1",
		Method: "click",
		Params: json.RawMessage(`{"selector":"#go"}`),
	}
	go func() { _ = ta.Send(sent) }()

	got, err := tb.Recv()
	require.NoError(t, err)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.GUID, got.GUID)
	assert.Equal(t, sent.Method, got.Method)
	assert.JSONEq(t, string(sent.Params), string(got.Params))
}

func TestPipeTransportSequentialFrames(t *testing.T) {
	ta, tb := pipePair(t)

	go func() {
		for i := uint32(1); i <= 5; i++ {
			_ = ta.Send(&Message{ID: i, Method: "ping"})
		}
	}()

	for i := uint32(1); i <= 5; i++ {
		got, err := tb.Recv()
		require.NoError(t, err)
		assert.Equal(t, i, got.ID)
	}
}

func TestPipeTransportMalformedPayload(t *testing.T) {
	a, b := net.Pipe()
	tb := NewPipeTransport(b, zap.NewNop())
	t.Cleanup(func() {
		_ = a.Close()
		_ = tb.Close()
	})

	// Well-framed garbage: the framing survives, the payload does not.
	payload := []byte("not json at all")
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	go func() {
		_, _ = a.Write(prefix[:])
		_, _ = a.Write(payload)
	}()

	_, err := tb.Recv()
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestPipeTransportOversizedFrameIsFatal(t *testing.T) {
	a, b := net.Pipe()
	tb := NewPipeTransport(b, zap.NewNop())
	t.Cleanup(func() {
		_ = a.Close()
		_ = tb.Close()
	})

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], maxFrameSize+1)
	go func() { _, _ = a.Write(prefix[:]) }()

	_, err := tb.Recv()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedFrame)
}

func TestPipeTransportPeerClose(t *testing.T) {
	a, b := net.Pipe()
	tb := NewPipeTransport(b, zap.NewNop())
	t.Cleanup(func() { _ = tb.Close() })

	require.NoError(t, a.Close())
	_, err := tb.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLoopbackRoundTrip(t *testing.T) {
	a, b := NewLoopbackPair()
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Send(&Message{ID: 1, Method: "ping"}))
	got, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.ID)

	require.NoError(t, b.Close())
	_, err = a.Recv()
	assert.ErrorIs(t, err, io.EOF)
}
