// File: internal/protocol/connection.go
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	methodCreate  = "__create__"
	methodDispose = "__dispose__"
)

// pendingRequest correlates one in-flight command to its terminal response.
type pendingRequest struct {
	id      uint32
	guid    string
	method  string
	created time.Time
	ch      chan pendingResult // buffered, capacity 1
}

type pendingResult struct {
	result json.RawMessage
	err    error
}

// Connection multiplexes commands, responses and events over one Transport.
// Commands may be issued concurrently from any goroutine; all inbound
// traffic is processed by a single receive loop so per-channel event
// ordering matches browser emission order.
type Connection struct {
	logger     *zap.Logger
	transport  Transport
	registry   *Registry
	dispatcher *Dispatcher

	onCreate  func(*Channel)
	onDispose func(*Channel)

	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]*pendingRequest
	closed  bool
	cause   error

	group *errgroup.Group
	done  chan struct{}
}

// NewConnection wires a connection over the given transport. Call SetHooks
// (optional) and then Start before sending.
func NewConnection(transport Transport, logger *zap.Logger) *Connection {
	log := logger.Named("connection")
	c := &Connection{
		logger:     log,
		transport:  transport,
		registry:   NewRegistry(log),
		dispatcher: NewDispatcher(log),
		pending:    make(map[uint32]*pendingRequest),
		group:      &errgroup.Group{},
		done:       make(chan struct{}),
	}
	c.registry.SetDisposeHook(func(ch *Channel) {
		c.dispatcher.ChannelDisposed(ch.GUID())
		if c.onDispose != nil {
			c.onDispose(ch)
		}
	})
	return c
}

// SetHooks installs lifecycle callbacks for channel creation and disposal.
// Hooks run on the receive loop; creation hooks fire before the command
// that produced the object resolves. Must be called before Start.
func (c *Connection) SetHooks(onCreate, onDispose func(*Channel)) {
	c.onCreate = onCreate
	c.onDispose = onDispose
}

// Registry exposes the connection's channel registry.
func (c *Connection) Registry() *Registry { return c.registry }

// Dispatcher exposes the connection's event bus.
func (c *Connection) Dispatcher() *Dispatcher { return c.dispatcher }

// Start launches the receive loop.
func (c *Connection) Start() {
	c.group.Go(func() error {
		c.recvLoop()
		return nil
	})
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Send issues one command on the channel identified by guid (empty for the
// root object) and blocks until the terminal response, ctx cancellation, or
// connection closure. Each call gets a fresh correlation id; concurrent
// senders never block each other.
func (c *Connection) Send(ctx context.Context, guid, method string, params any) (json.RawMessage, error) {
	var rawParams json.RawMessage
	if params != nil {
		data, err := codec.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params for %s: %w", method, err)
		}
		rawParams = data
	}

	c.mu.Lock()
	if c.closed {
		err := c.cause
		c.mu.Unlock()
		return nil, &ConnectionClosedError{Cause: err}
	}
	c.nextID++
	req := &pendingRequest{
		id:      c.nextID,
		guid:    guid,
		method:  method,
		created: time.Now(),
		ch:      make(chan pendingResult, 1),
	}
	c.pending[req.id] = req
	c.mu.Unlock()

	msg := &Message{ID: req.id, GUID: guid, Method: method, Params: rawParams}
	if err := c.transport.Send(msg); err != nil {
		c.forgetPending(req.id)
		// A write failure means the transport is unusable for everyone.
		c.shutdown(err)
		return nil, &ConnectionClosedError{Cause: err}
	}

	select {
	case res := <-req.ch:
		return res.result, res.err
	case <-ctx.Done():
		c.forgetPending(req.id)
		return nil, ctx.Err()
	}
}

// Close tears the connection down deliberately: outstanding requests fail
// with ConnectionClosedError and every channel is cascade-disposed.
func (c *Connection) Close() error {
	c.shutdown(nil)
	return c.group.Wait()
}

func (c *Connection) forgetPending(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// recvLoop is the single logical reader for the connection's lifetime.
func (c *Connection) recvLoop() {
	for {
		msg, err := c.transport.Recv()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				// One bad frame must not take down all pending callers.
				c.logger.Warn("Dropping malformed inbound frame.", zap.Error(err))
				continue
			}
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("Transport receive failed.", zap.Error(err))
			}
			c.shutdown(err)
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Connection) handleMessage(msg *Message) {
	if msg.ID != 0 {
		c.handleResponse(msg)
		return
	}

	switch msg.Method {
	case methodCreate:
		var desc CreateDescriptor
		if err := codec.Unmarshal(msg.Params, &desc); err != nil {
			c.logger.Warn("Dropping undecodable create event.", zap.Error(err))
			return
		}
		c.applyCreate(msg.GUID, desc)
	case methodDispose:
		if err := c.registry.Dispose(msg.GUID); err != nil {
			c.logger.Error("Dispose event for unknown channel.", zap.String("guid", msg.GUID), zap.Error(err))
		}
	default:
		if _, err := c.registry.Resolve(msg.GUID); err != nil {
			// Events for unknown channels indicate a protocol bug on the
			// browser side; surface loudly, never crash the loop.
			c.logger.Error("Event for unknown channel.",
				zap.String("guid", msg.GUID),
				zap.String("method", msg.Method),
				zap.Error(err))
			return
		}
		c.dispatcher.Emit(msg.GUID, msg.Method, msg.Params)
	}
}

func (c *Connection) handleResponse(msg *Message) {
	// Object creation descriptors embedded in a response are applied first
	// so the caller observes new children before the command's own result.
	for _, desc := range msg.Creates {
		c.applyCreate(msg.GUID, desc)
	}

	c.mu.Lock()
	req, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("Response with no pending request.", zap.Uint32("id", msg.ID))
		return
	}

	if msg.Error != nil {
		req.ch <- pendingResult{err: msg.Error.toError()}
		return
	}
	req.ch <- pendingResult{result: msg.Result}
}

// applyCreate registers a newly announced remote object and runs the
// creation hook. parentGUID is the channel the descriptor arrived on.
func (c *Connection) applyCreate(parentGUID string, desc CreateDescriptor) {
	ch, err := c.registry.Create(parentGUID, desc.GUID, desc.Type, desc.Initializer)
	if err != nil {
		// Duplicate guids and unknown kinds are browser-side bugs; the
		// protocol is trusted but defensively checked.
		c.logger.Error("Failed to register created channel.",
			zap.String("parent", parentGUID),
			zap.String("guid", desc.GUID),
			zap.String("type", desc.Type),
			zap.Error(err))
		return
	}
	if c.onCreate != nil {
		c.onCreate(ch)
	}
}

// shutdown completes every outstanding request with ConnectionClosedError,
// cascade-disposes the registry, and closes the transport. Idempotent.
func (c *Connection) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cause != nil && !errors.Is(cause, io.EOF) {
		c.cause = cause
	}
	outstanding := make([]*pendingRequest, 0, len(c.pending))
	for _, req := range c.pending {
		outstanding = append(outstanding, req)
	}
	c.pending = make(map[uint32]*pendingRequest)
	closedErr := &ConnectionClosedError{Cause: c.cause}
	c.mu.Unlock()

	for _, req := range outstanding {
		req.ch <- pendingResult{err: closedErr}
	}

	c.registry.DisposeAll()
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("Transport close failed.", zap.Error(err))
	}
	close(c.done)
}
