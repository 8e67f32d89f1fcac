// File: internal/protocol/transport.go
package protocol

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// maxFrameSize guards against a corrupted length prefix allocating
// arbitrary memory. 256 MiB comfortably covers screenshot payloads.
const maxFrameSize = 256 << 20

// Transport is a bidirectional framed message channel to a browser-process
// endpoint. Send is safe for concurrent use; Recv must be called from a
// single reader. A Recv error matching ErrMalformedFrame is per-frame and
// recoverable; any other error is fatal to the transport.
type Transport interface {
	Send(msg *Message) error
	Recv() (*Message, error)
	Close() error
}

// -- Pipe transport --

// PipeTransport frames messages over a byte stream (typically the stdio pipe
// pair of a browser process) as a 4-byte little-endian length prefix
// followed by one JSON envelope.
type PipeTransport struct {
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewPipeTransport wraps an open byte stream with length-prefixed framing.
func NewPipeTransport(rw io.ReadWriteCloser, logger *zap.Logger) *PipeTransport {
	return &PipeTransport{
		rw:     rw,
		reader: bufio.NewReader(rw),
		logger: logger.Named("pipe"),
	}
}

func (t *PipeTransport) Send(msg *Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.rw.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write frame prefix: %w", err)
	}
	if _, err := t.rw.Write(data); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

func (t *PipeTransport) Recv() (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(t.reader, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		// A bogus length prefix means framing is lost for good.
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(t.reader, payload); err != nil {
		return nil, err
	}
	return DecodeMessage(payload)
}

func (t *PipeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.rw.Close()
	})
	return t.closeErr
}

// -- WebSocket transport --

// WebSocketTransport carries one JSON envelope per websocket text message.
type WebSocketTransport struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// DialWebSocket connects to a ws:// or wss:// browser endpoint.
func DialWebSocket(ctx context.Context, url string, logger *zap.Logger) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %q: %w", url, err)
	}
	return NewWebSocketTransport(conn, logger), nil
}

// NewWebSocketTransport wraps an established websocket connection.
func NewWebSocketTransport(conn *websocket.Conn, logger *zap.Logger) *WebSocketTransport {
	return &WebSocketTransport{conn: conn, logger: logger.Named("ws")}
}

func (t *WebSocketTransport) Send(msg *Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) Recv() (*Message, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			// Normalize a clean peer close to EOF so the connection treats
			// both transports uniformly.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			var netErr net.Error
			if errors.As(err, &netErr) {
				return nil, netErr
			}
			return nil, err
		}
		if msgType != websocket.TextMessage {
			t.logger.Warn("Dropping non-text websocket message.", zap.Int("type", msgType))
			continue
		}
		return DecodeMessage(data)
	}
}

func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
