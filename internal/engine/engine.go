// File: internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionet/internal/actions"
	"github.com/xkilldash9x/marionet/internal/config"
	"github.com/xkilldash9x/marionet/internal/protocol"
)

// Engine is the client side of one browser endpoint. It owns the protocol
// connection and maintains the proxy object for every live channel, built
// eagerly from __create__ announcements so command results can reference
// objects by guid alone.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.Config
	conn     *protocol.Connection
	actions  *actions.Engine
	timeouts *TimeoutSettings

	mu      sync.RWMutex
	objects map[string]any
	browser *Browser
}

// Connect starts a connection over the given transport and performs the
// initialize handshake. On success the endpoint has announced its Browser
// root object.
func Connect(ctx context.Context, transport protocol.Transport, logger *zap.Logger, cfg *config.Config) (*Engine, error) {
	e := &Engine{
		logger:   logger.Named("engine"),
		cfg:      cfg,
		actions:  actions.New(logger, cfg.Actions),
		timeouts: NewTimeoutSettings(nil, cfg.Engine.DefaultTimeout, cfg.Engine.NavigationTimeout),
		objects:  make(map[string]any),
	}

	conn := protocol.NewConnection(transport, logger)
	conn.SetHooks(e.onCreate, e.onDispose)
	e.conn = conn
	conn.Start()

	res, err := conn.Send(ctx, "", "initialize", nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize handshake failed: %w", err)
	}

	var init struct {
		Browser guidRef `json:"browser"`
	}
	if err := codec.Unmarshal(res, &init); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to decode initialize result: %w", err)
	}
	browser, ok := e.object(init.Browser.GUID).(*Browser)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("endpoint did not announce a browser (guid %q)", init.Browser.GUID)
	}

	e.mu.Lock()
	e.browser = browser
	e.mu.Unlock()

	e.logger.Info("Connected to browser endpoint.", zap.String("browser_guid", browser.GUID()))
	return e, nil
}

// Browser returns the root browser proxy.
func (e *Engine) Browser() *Browser {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.browser
}

// Connection exposes the underlying protocol connection.
func (e *Engine) Connection() *protocol.Connection { return e.conn }

// Timeouts returns the engine-level timeout settings, the root of the
// context and page chains.
func (e *Engine) Timeouts() *TimeoutSettings { return e.timeouts }

// Close tears down the connection; every proxy becomes detached.
func (e *Engine) Close() error {
	e.logger.Debug("Closing engine.")
	return e.conn.Close()
}

// Done is closed once the underlying connection has shut down.
func (e *Engine) Done() <-chan struct{} { return e.conn.Done() }

// object looks up the proxy for a guid, or nil.
func (e *Engine) object(guid string) any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.objects[guid]
}

// onCreate runs on the receive loop for every announced channel, before the
// command that produced it resolves.
func (e *Engine) onCreate(ch *protocol.Channel) {
	obj := e.construct(ch)
	if obj == nil {
		return
	}
	e.mu.Lock()
	e.objects[ch.GUID()] = obj
	e.mu.Unlock()
}

// onDispose runs on the receive loop for every disposed channel, children
// before parents.
func (e *Engine) onDispose(ch *protocol.Channel) {
	e.mu.Lock()
	obj := e.objects[ch.GUID()]
	delete(e.objects, ch.GUID())
	e.mu.Unlock()

	switch o := obj.(type) {
	case *Page:
		o.closed()
	case *BrowserContext:
		o.closedLocally()
	}
}

// construct builds the typed proxy for a freshly announced channel. The
// parent proxy always exists already because the registry rejects creates
// whose parent is unknown.
func (e *Engine) construct(ch *protocol.Channel) any {
	switch ch.Kind() {
	case protocol.KindBrowser:
		return newBrowser(e, ch)
	case protocol.KindBrowserContext:
		return newBrowserContext(e, ch)
	case protocol.KindPage:
		parent, ok := e.object(parentGUID(ch)).(*BrowserContext)
		if !ok {
			e.logger.Error("Page announced outside a browser context.", zap.String("guid", ch.GUID()))
			return nil
		}
		return newPage(e, ch, parent)
	case protocol.KindFrame:
		return e.constructFrame(ch)
	case protocol.KindElementHandle:
		parent, ok := e.object(parentGUID(ch)).(*Frame)
		if !ok {
			e.logger.Error("Element handle announced outside a frame.", zap.String("guid", ch.GUID()))
			return nil
		}
		return newElementHandle(e, ch, parent)
	case protocol.KindRequest:
		return newRequest(e, ch)
	case protocol.KindResponse:
		return newResponse(e, ch)
	default:
		return newRemoteObject(e, ch)
	}
}

func (e *Engine) constructFrame(ch *protocol.Channel) any {
	switch parent := e.object(parentGUID(ch)).(type) {
	case *Page:
		return newFrame(e, ch, parent)
	case *Frame:
		return newFrame(e, ch, parent.page)
	default:
		e.logger.Error("Frame announced outside a page.", zap.String("guid", ch.GUID()))
		return nil
	}
}

func parentGUID(ch *protocol.Channel) string {
	if p := ch.Parent(); p != nil {
		return p.GUID()
	}
	return ""
}
