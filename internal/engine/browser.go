// File: internal/engine/browser.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionet/internal/protocol"
	"github.com/xkilldash9x/marionet/internal/routing"
)

// Browser is the proxy of the root browser object.
type Browser struct {
	object
}

func newBrowser(e *Engine, ch *protocol.Channel) *Browser {
	return &Browser{object: newObject(e, ch)}
}

// NewContext creates an isolated browser context.
func (b *Browser) NewContext(ctx context.Context) (*BrowserContext, error) {
	res, err := b.send(ctx, "newContext", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	var out struct {
		Context guidRef `json:"context"`
	}
	if err := codec.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("failed to decode newContext result: %w", err)
	}
	bc, ok := b.eng.object(out.Context.GUID).(*BrowserContext)
	if !ok {
		return nil, &protocol.UnknownChannelError{GUID: out.Context.GUID}
	}
	return bc, nil
}

// Close shuts the browser down. Every context and page underneath it is
// cascade-disposed by the endpoint's __dispose__ announcement.
func (b *Browser) Close(ctx context.Context) error {
	if _, err := b.send(ctx, "close", nil); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

// BrowserContext is the proxy of one isolated context. It owns the route
// table shared by itself and its pages.
type BrowserContext struct {
	object

	router   *routing.Router
	timeouts *TimeoutSettings

	mu           sync.Mutex
	intercepting bool
}

func newBrowserContext(e *Engine, ch *protocol.Channel) *BrowserContext {
	bc := &BrowserContext{
		object:   newObject(e, ch),
		router:   routing.NewRouter(e.logger),
		timeouts: NewTimeoutSettings(e.timeouts, 0, 0),
	}
	// Route events for every page in the context arrive on the context
	// channel; the payload names the originating page.
	bc.on("route", bc.onRouteEvent)
	return bc
}

// Timeouts returns the context-level timeout settings.
func (bc *BrowserContext) Timeouts() *TimeoutSettings { return bc.timeouts }

// NewPage opens a page in this context.
func (bc *BrowserContext) NewPage(ctx context.Context) (*Page, error) {
	res, err := bc.send(ctx, "newPage", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	var out struct {
		Page guidRef `json:"page"`
	}
	if err := codec.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("failed to decode newPage result: %w", err)
	}
	p, ok := bc.eng.object(out.Page.GUID).(*Page)
	if !ok {
		return nil, &protocol.UnknownChannelError{GUID: out.Page.GUID}
	}
	return p, nil
}

// Route registers a context-scoped interception handler for URLs matching
// the glob pattern. The returned function removes the registration.
func (bc *BrowserContext) Route(ctx context.Context, pattern string, handler routing.HandlerFunc) (func(), error) {
	matcher, err := routing.NewGlobMatcher(pattern)
	if err != nil {
		return nil, err
	}
	remove := bc.router.Add(routing.ScopeContext, bc.GUID(), matcher, handler)
	if err := bc.ensureInterception(ctx); err != nil {
		remove()
		return nil, err
	}
	return remove, nil
}

// routePage registers a page-scoped handler on the shared table. Page-scoped
// handlers take priority over context-scoped ones.
func (bc *BrowserContext) routePage(ctx context.Context, pageGUID, pattern string, handler routing.HandlerFunc) (func(), error) {
	matcher, err := routing.NewGlobMatcher(pattern)
	if err != nil {
		return nil, err
	}
	remove := bc.router.Add(routing.ScopePage, pageGUID, matcher, handler)
	if err := bc.ensureInterception(ctx); err != nil {
		remove()
		return nil, err
	}
	return remove, nil
}

// ensureInterception asks the endpoint to start emitting route events for
// this context. Idempotent; only the first registration pays the round trip.
func (bc *BrowserContext) ensureInterception(ctx context.Context) error {
	bc.mu.Lock()
	already := bc.intercepting
	bc.intercepting = true
	bc.mu.Unlock()
	if already {
		return nil
	}

	_, err := bc.send(ctx, "setNetworkInterceptionEnabled", map[string]bool{"enabled": true})
	if err != nil {
		bc.mu.Lock()
		bc.intercepting = false
		bc.mu.Unlock()
		return fmt.Errorf("failed to enable network interception: %w", err)
	}
	return nil
}

// Close shuts the context down. Local bookkeeping (stalled routes, route
// table) is settled first so no handler is left waiting on a request the
// endpoint is about to drop.
func (bc *BrowserContext) Close(ctx context.Context) error {
	bc.router.OwnerClosed(bc.GUID())
	if _, err := bc.send(ctx, "close", nil); err != nil {
		return fmt.Errorf("failed to close browser context: %w", err)
	}
	return nil
}

// closedLocally runs on the receive loop when the endpoint disposes the
// context channel.
func (bc *BrowserContext) closedLocally() {
	bc.router.OwnerClosed(bc.GUID())
}

// onRouteEvent runs on the receive loop for every intercepted request. The
// handler is dispatched on its own goroutine: it issues protocol commands,
// which must never block the loop that resolves them.
func (bc *BrowserContext) onRouteEvent(params json.RawMessage) {
	var ev struct {
		Route   guidRef `json:"route"`
		Request guidRef `json:"request"`
		URL     string  `json:"url"`
		Page    guidRef `json:"page"`
	}
	if err := codec.Unmarshal(params, &ev); err != nil {
		bc.logger.Error("Undecodable route event.", zap.Error(err))
		return
	}

	rt := routing.NewRoute(bc.logger, bc.eng.conn, ev.Route.GUID, ev.Request.GUID, ev.URL, ev.Page.GUID, bc.GUID())
	go func() {
		if bc.router.Dispatch(rt) {
			return
		}
		// No registered handler matched; the request proceeds unmodified.
		ctx, cancel := context.WithTimeout(context.Background(), bc.timeouts.Timeout())
		defer cancel()
		if err := rt.Continue(ctx, routing.ContinueOptions{}); err != nil {
			bc.logger.Warn("Failed to release unmatched route.",
				zap.String("url", ev.URL), zap.Error(err))
		}
	}()
}
