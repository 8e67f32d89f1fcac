// File: internal/engine/frame.go
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionet/internal/actions"
	"github.com/xkilldash9x/marionet/internal/protocol"
)

// Frame is the proxy of one frame in a page's frame tree.
type Frame struct {
	object

	page   *Page
	isMain bool

	mu   sync.RWMutex
	url  string
	name string
}

func newFrame(e *Engine, ch *protocol.Channel, page *Page) *Frame {
	f := &Frame{object: newObject(e, ch), page: page}

	var init struct {
		URL    string `json:"url"`
		Name   string `json:"name"`
		IsMain bool   `json:"isMain"`
	}
	if err := codec.Unmarshal(ch.Initializer(), &init); err != nil {
		f.logger.Warn("Undecodable frame initializer.", zap.Error(err))
	}
	f.url = init.URL
	f.name = init.Name
	f.isMain = init.IsMain
	if f.isMain {
		page.setMainFrame(f)
	}

	f.on("navigated", f.onNavigated)
	return f
}

// Page returns the owning page.
func (f *Frame) Page() *Page { return f.page }

// IsMain reports whether this is the page's main frame.
func (f *Frame) IsMain() bool { return f.isMain }

// URL returns the frame's last known URL, updated on every navigated event.
func (f *Frame) URL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.url
}

// Name returns the frame's name attribute.
func (f *Frame) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

func (f *Frame) onNavigated(params json.RawMessage) {
	var ev struct {
		URL string `json:"url"`
	}
	if err := codec.Unmarshal(params, &ev); err != nil {
		f.logger.Warn("Undecodable navigated event.", zap.Error(err))
		return
	}
	f.mu.Lock()
	f.url = ev.URL
	f.mu.Unlock()
}

// Goto navigates the frame and waits for the main response. The result is
// nil for navigations that produce no response (about:blank, same-document).
func (f *Frame) Goto(ctx context.Context, url string) (*Response, error) {
	navCtx, cancel := context.WithTimeout(ctx, f.page.timeouts.NavigationTimeout())
	defer cancel()

	res, err := f.send(navCtx, "goto", map[string]string{"url": url})
	if err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	var out struct {
		Response *guidRef `json:"response"`
	}
	if err := codec.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("failed to decode goto result: %w", err)
	}
	if out.Response == nil {
		return nil, nil
	}
	resp, _ := f.eng.object(out.Response.GUID).(*Response)
	return resp, nil
}

// WaitForLoadState blocks until the frame reports the given load state
// ("load", "domcontentloaded", "networkidle").
func (f *Frame) WaitForLoadState(ctx context.Context, state string) error {
	pred := func(params json.RawMessage) bool {
		var ev struct {
			State string `json:"state"`
		}
		if err := codec.Unmarshal(params, &ev); err != nil {
			return false
		}
		return ev.State == state
	}
	_, err := f.eng.conn.Dispatcher().WaitForEvent(ctx, f.GUID(), "loadstate", pred, f.page.timeouts.NavigationTimeout())
	return err
}

// QuerySelector resolves a CSS selector to an element handle. A nil handle
// with a nil error means no element matched.
func (f *Frame) QuerySelector(ctx context.Context, selector string) (*ElementHandle, error) {
	res, err := f.send(ctx, "querySelector", map[string]string{"selector": selector})
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	var out struct {
		Element *guidRef `json:"element"`
	}
	if err := codec.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("failed to decode querySelector result: %w", err)
	}
	if out.Element == nil {
		return nil, nil
	}
	h, ok := f.eng.object(out.Element.GUID).(*ElementHandle)
	if !ok {
		return nil, &protocol.UnknownChannelError{GUID: out.Element.GUID}
	}
	return h, nil
}

// Click clicks the first element matching selector.
func (f *Frame) Click(ctx context.Context, selector string, opts *actions.Options) error {
	return f.perform(ctx, actions.ActionClick, selector, nil, opts)
}

// Fill replaces the value of the matching input.
func (f *Frame) Fill(ctx context.Context, selector, value string, opts *actions.Options) error {
	return f.perform(ctx, actions.ActionFill, selector, map[string]any{"value": value}, opts)
}

// perform routes one selector-addressed action through the actionability
// engine. The selector is re-resolved after a detach, so actions survive
// DOM churn between resolution and dispatch.
func (f *Frame) perform(ctx context.Context, kind actions.Kind, selector string, params map[string]any, opts *actions.Options) error {
	o := actions.Options{}
	if opts != nil {
		o = *opts
	}
	if o.Timeout <= 0 {
		o.Timeout = f.page.timeouts.Timeout()
	}
	req := actions.Request{
		Action: kind,
		Opts:   o,
		Resolver: &selectorResolver{
			frame:    f,
			selector: selector,
			action:   kind,
			params:   params,
		},
	}
	return f.eng.actions.Perform(ctx, req)
}

// settleAfterAction briefly waits for a navigation the action may have
// started; if one begins, it waits for the load event. ctx carries the
// grace deadline, so a quiet page returns a timeout the caller treats as
// "no navigation".
func (f *Frame) settleAfterAction(ctx context.Context) error {
	_, err := f.eng.conn.Dispatcher().WaitForEvent(ctx, f.GUID(), "navigated", nil, 0)
	if err != nil {
		var tc *protocol.TargetClosedError
		if errors.As(err, &tc) {
			// The action closed its own page. Nothing left to settle.
			return nil
		}
		return err
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), f.page.timeouts.NavigationTimeout())
	defer cancel()
	return f.WaitForLoadState(loadCtx, "load")
}

// selectorResolver adapts a (frame, selector) pair to the actionability
// engine. Each Resolve issues a fresh query, so a re-rendered element is
// found again under its new identity.
type selectorResolver struct {
	frame    *Frame
	selector string
	action   actions.Kind
	params   map[string]any
}

func (r *selectorResolver) Reresolvable() bool { return true }

func (r *selectorResolver) Resolve(ctx context.Context) (actions.Element, error) {
	h, err := r.frame.QuerySelector(ctx, r.selector)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, actions.ErrElementNotFound
	}
	return &boundElement{handle: h, action: r.action, params: r.params}, nil
}

// handleResolver adapts a pre-resolved element handle. Not re-resolvable: a
// detached handle is a terminal failure for handle-addressed actions.
type handleResolver struct {
	el *boundElement
}

func (r *handleResolver) Reresolvable() bool { return false }

func (r *handleResolver) Resolve(ctx context.Context) (actions.Element, error) {
	return r.el, nil
}

// boundElement pairs an element handle with the action it will perform.
type boundElement struct {
	handle *ElementHandle
	action actions.Kind
	params map[string]any
}

func (b *boundElement) Snapshot(ctx context.Context) (*actions.State, error) {
	return b.handle.stateSample(ctx)
}

func (b *boundElement) Checked(ctx context.Context) (bool, error) {
	return b.handle.IsChecked(ctx)
}

func (b *boundElement) Perform(ctx context.Context) error {
	return b.handle.performAction(ctx, b.action, b.params)
}

func (b *boundElement) Settle(ctx context.Context) error {
	return b.handle.frame.settleAfterAction(ctx)
}
