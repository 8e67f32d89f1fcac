// File: internal/engine/element.go
package engine

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/marionet/internal/actions"
	"github.com/xkilldash9x/marionet/internal/protocol"
)

// ElementHandle is the proxy of one DOM element. Unlike selector-addressed
// actions, a handle is pinned to a specific node: if the node leaves the
// DOM, operations on the handle fail with DetachedError instead of
// re-resolving.
type ElementHandle struct {
	object

	frame *Frame
}

func newElementHandle(e *Engine, ch *protocol.Channel, frame *Frame) *ElementHandle {
	return &ElementHandle{object: newObject(e, ch), frame: frame}
}

// Frame returns the frame the element belongs to.
func (h *ElementHandle) Frame() *Frame { return h.frame }

// stateSample fetches one actionability sample from the endpoint.
func (h *ElementHandle) stateSample(ctx context.Context) (*actions.State, error) {
	res, err := h.send(ctx, "elementState", nil)
	if err != nil {
		return nil, err
	}
	var st actions.State
	if err := codec.Unmarshal(res, &st); err != nil {
		return nil, fmt.Errorf("failed to decode element state: %w", err)
	}
	return &st, nil
}

// IsChecked reports the element's checked state.
func (h *ElementHandle) IsChecked(ctx context.Context) (bool, error) {
	res, err := h.send(ctx, "isChecked", nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Value bool `json:"value"`
	}
	if err := codec.Unmarshal(res, &out); err != nil {
		return false, fmt.Errorf("failed to decode isChecked result: %w", err)
	}
	return out.Value, nil
}

// performAction dispatches the raw input operation, bypassing actionability.
// Callers go through the action engine; this is its act step.
func (h *ElementHandle) performAction(ctx context.Context, kind actions.Kind, params map[string]any) error {
	if _, err := h.send(ctx, string(kind), params); err != nil {
		return err
	}
	return nil
}

// Click clicks this element, waiting for actionability first.
func (h *ElementHandle) Click(ctx context.Context, opts *actions.Options) error {
	return h.perform(ctx, actions.ActionClick, nil, opts)
}

// Hover moves the pointer over this element.
func (h *ElementHandle) Hover(ctx context.Context, opts *actions.Options) error {
	return h.perform(ctx, actions.ActionHover, nil, opts)
}

// Fill replaces this element's value.
func (h *ElementHandle) Fill(ctx context.Context, value string, opts *actions.Options) error {
	return h.perform(ctx, actions.ActionFill, map[string]any{"value": value}, opts)
}

// Check ensures this element ends up checked.
func (h *ElementHandle) Check(ctx context.Context, opts *actions.Options) error {
	o := actions.Options{}
	if opts != nil {
		o = *opts
	}
	o.Checked = true
	return h.perform(ctx, actions.ActionCheck, nil, &o)
}

// Uncheck ensures this element ends up unchecked.
func (h *ElementHandle) Uncheck(ctx context.Context, opts *actions.Options) error {
	o := actions.Options{}
	if opts != nil {
		o = *opts
	}
	o.Checked = false
	return h.perform(ctx, actions.ActionUncheck, nil, &o)
}

func (h *ElementHandle) perform(ctx context.Context, kind actions.Kind, params map[string]any, opts *actions.Options) error {
	o := actions.Options{}
	if opts != nil {
		o = *opts
	}
	if o.Timeout <= 0 {
		o.Timeout = h.frame.page.timeouts.Timeout()
	}
	req := actions.Request{
		Action:   kind,
		Opts:     o,
		Resolver: &handleResolver{el: &boundElement{handle: h, action: kind, params: params}},
	}
	return h.eng.actions.Perform(ctx, req)
}

// Dispose releases the remote element. The endpoint answers with a
// __dispose__ announcement that detaches this handle.
func (h *ElementHandle) Dispose(ctx context.Context) error {
	if _, err := h.send(ctx, "dispose", nil); err != nil {
		return fmt.Errorf("failed to dispose element handle: %w", err)
	}
	return nil
}
