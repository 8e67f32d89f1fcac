// File: internal/engine/page.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xkilldash9x/marionet/internal/actions"
	"github.com/xkilldash9x/marionet/internal/protocol"
	"github.com/xkilldash9x/marionet/internal/routing"
)

// Page is the proxy of one page. Frame-level operations delegate to the main
// frame; interception registrations land on the owning context's route table
// under page scope.
type Page struct {
	object

	context  *BrowserContext
	timeouts *TimeoutSettings

	mu        sync.Mutex
	mainFrame *Frame
}

func newPage(e *Engine, ch *protocol.Channel, bc *BrowserContext) *Page {
	return &Page{
		object:   newObject(e, ch),
		context:  bc,
		timeouts: NewTimeoutSettings(bc.timeouts, 0, 0),
	}
}

// Context returns the owning browser context.
func (p *Page) Context() *BrowserContext { return p.context }

// Timeouts returns the page-level timeout settings.
func (p *Page) Timeouts() *TimeoutSettings { return p.timeouts }

// MainFrame returns the page's main frame, or nil before the endpoint has
// announced it.
func (p *Page) MainFrame() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mainFrame
}

func (p *Page) setMainFrame(f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mainFrame = f
}

func (p *Page) mainFrameOrErr() (*Frame, error) {
	if f := p.MainFrame(); f != nil {
		return f, nil
	}
	return nil, fmt.Errorf("page %q has no main frame yet", p.GUID())
}

// URL returns the main frame's current URL.
func (p *Page) URL() string {
	if f := p.MainFrame(); f != nil {
		return f.URL()
	}
	return ""
}

// Goto navigates the main frame and waits for the response.
func (p *Page) Goto(ctx context.Context, url string) (*Response, error) {
	f, err := p.mainFrameOrErr()
	if err != nil {
		return nil, err
	}
	return f.Goto(ctx, url)
}

// QuerySelector resolves a selector in the main frame. A nil handle with a
// nil error means no element matched.
func (p *Page) QuerySelector(ctx context.Context, selector string) (*ElementHandle, error) {
	f, err := p.mainFrameOrErr()
	if err != nil {
		return nil, err
	}
	return f.QuerySelector(ctx, selector)
}

// Click clicks the first element matching selector, waiting for it to become
// actionable first.
func (p *Page) Click(ctx context.Context, selector string, opts *actions.Options) error {
	return p.frameAction(ctx, actions.ActionClick, selector, nil, opts)
}

// Tap performs a touch tap on the matching element.
func (p *Page) Tap(ctx context.Context, selector string, opts *actions.Options) error {
	return p.frameAction(ctx, actions.ActionTap, selector, nil, opts)
}

// Hover moves the pointer over the matching element.
func (p *Page) Hover(ctx context.Context, selector string, opts *actions.Options) error {
	return p.frameAction(ctx, actions.ActionHover, selector, nil, opts)
}

// Fill replaces the value of the matching input.
func (p *Page) Fill(ctx context.Context, selector, value string, opts *actions.Options) error {
	return p.frameAction(ctx, actions.ActionFill, selector, map[string]any{"value": value}, opts)
}

// TypeText sends individual key events for each rune of text.
func (p *Page) TypeText(ctx context.Context, selector, text string, opts *actions.Options) error {
	return p.frameAction(ctx, actions.ActionType, selector, map[string]any{"text": text}, opts)
}

// Press sends a single key chord to the matching element.
func (p *Page) Press(ctx context.Context, selector, key string, opts *actions.Options) error {
	return p.frameAction(ctx, actions.ActionPress, selector, map[string]any{"key": key}, opts)
}

// Check ensures the matching checkbox ends up checked. Already-checked
// elements are left untouched.
func (p *Page) Check(ctx context.Context, selector string, opts *actions.Options) error {
	return p.toggle(ctx, actions.ActionCheck, selector, true, opts)
}

// Uncheck ensures the matching checkbox ends up unchecked.
func (p *Page) Uncheck(ctx context.Context, selector string, opts *actions.Options) error {
	return p.toggle(ctx, actions.ActionUncheck, selector, false, opts)
}

// SelectOption selects the given option values in the matching <select>.
func (p *Page) SelectOption(ctx context.Context, selector string, values []string, opts *actions.Options) error {
	return p.frameAction(ctx, actions.ActionSelectOption, selector, map[string]any{"values": values}, opts)
}

func (p *Page) frameAction(ctx context.Context, kind actions.Kind, selector string, params map[string]any, opts *actions.Options) error {
	f, err := p.mainFrameOrErr()
	if err != nil {
		return err
	}
	return f.perform(ctx, kind, selector, params, opts)
}

func (p *Page) toggle(ctx context.Context, kind actions.Kind, selector string, checked bool, opts *actions.Options) error {
	o := actions.Options{}
	if opts != nil {
		o = *opts
	}
	o.Checked = checked
	return p.frameAction(ctx, kind, selector, nil, &o)
}

// On registers a persistent handler for one of the page's events. The
// handler runs on the receive loop and must not block.
func (p *Page) On(event string, fn protocol.EventHandler) *protocol.Subscription {
	return p.on(event, fn)
}

// WaitForEvent blocks until the page emits a matching event. A nil predicate
// matches the first occurrence. The page's default timeout bounds the wait.
func (p *Page) WaitForEvent(ctx context.Context, event string, pred protocol.EventPredicate) (json.RawMessage, error) {
	return p.eng.conn.Dispatcher().WaitForEvent(ctx, p.GUID(), event, pred, p.timeouts.Timeout())
}

// ExpectEvent arms a one-shot wait, runs action, then collects the event.
// Registration happens before action runs, so an event fired synchronously
// by the action cannot be missed.
func (p *Page) ExpectEvent(ctx context.Context, event string, pred protocol.EventPredicate, action func() error) (json.RawMessage, error) {
	w := p.eng.conn.Dispatcher().RegisterWaiter(p.GUID(), event, pred)
	if err := action(); err != nil {
		w.Cancel()
		return nil, err
	}
	return w.Wait(ctx, p.timeouts.Timeout())
}

// Route registers a page-scoped interception handler. Page-scoped handlers
// are consulted before any context-scoped handler, regardless of
// registration order.
func (p *Page) Route(ctx context.Context, pattern string, handler routing.HandlerFunc) (func(), error) {
	return p.context.routePage(ctx, p.GUID(), pattern, handler)
}

// Close closes the page. Undecided routes owned by the page are aborted
// before the endpoint is told.
func (p *Page) Close(ctx context.Context) error {
	p.context.router.OwnerClosed(p.GUID())
	if _, err := p.send(ctx, "close", nil); err != nil {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}

// closed runs on the receive loop when the endpoint disposes the page.
func (p *Page) closed() {
	p.context.router.OwnerClosed(p.GUID())
}
