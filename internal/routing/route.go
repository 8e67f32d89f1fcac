// File: internal/routing/route.go
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrAlreadyHandled is returned when a second terminal operation is called
// on a route whose fate is already decided.
var ErrAlreadyHandled = errors.New("route already handled")

// CommandSender issues protocol commands on a channel. Satisfied by
// *protocol.Connection; the indirection keeps this package free of a
// dependency on the connection internals.
type CommandSender interface {
	Send(ctx context.Context, guid, method string, params any) (json.RawMessage, error)
}

// FulfillOptions describes a synthetic response served in place of the
// network.
type FulfillOptions struct {
	Status      int               `json:"status,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Body        string            `json:"body,omitempty"`
}

// ContinueOptions overrides parts of the request before it goes to the
// network. Zero values leave the original request untouched.
type ContinueOptions struct {
	URL      string            `json:"url,omitempty"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	PostData string            `json:"postData,omitempty"`
}

// Route is the capability handed to an interception handler. The underlying
// request stalls until exactly one of Abort, Fulfill or Continue is called;
// a second terminal call fails with ErrAlreadyHandled.
type Route struct {
	logger *zap.Logger
	sender CommandSender

	guid        string
	requestGUID string
	url         string
	pageGUID    string
	contextGUID string

	mu        sync.Mutex
	decided   bool
	onDecided func(*Route)
}

// NewRoute builds the capability for one intercepted request. onDecided, if
// set, fires once when the fate is decided (used by the router for
// outstanding-route bookkeeping).
func NewRoute(logger *zap.Logger, sender CommandSender, guid, requestGUID, url, pageGUID, contextGUID string) *Route {
	return &Route{
		logger:      logger.Named("route"),
		sender:      sender,
		guid:        guid,
		requestGUID: requestGUID,
		url:         url,
		pageGUID:    pageGUID,
		contextGUID: contextGUID,
	}
}

// URL returns the intercepted request URL.
func (r *Route) URL() string { return r.url }

// RequestGUID identifies the stalled request channel.
func (r *Route) RequestGUID() string { return r.requestGUID }

// PageGUID identifies the page the request originated from.
func (r *Route) PageGUID() string { return r.pageGUID }

// ContextGUID identifies the owning browser context.
func (r *Route) ContextGUID() string { return r.contextGUID }

// Abort fails the request with the given reason ("failed" when empty).
func (r *Route) Abort(ctx context.Context, reason string) error {
	if err := r.decide(); err != nil {
		return err
	}
	if reason == "" {
		reason = "failed"
	}
	_, err := r.sender.Send(ctx, r.guid, "abort", map[string]string{"errorCode": reason})
	if err != nil {
		return fmt.Errorf("failed to abort route for %s: %w", r.url, err)
	}
	return nil
}

// Fulfill answers the request with a synthetic response.
func (r *Route) Fulfill(ctx context.Context, opts FulfillOptions) error {
	if err := r.decide(); err != nil {
		return err
	}
	if opts.Status == 0 {
		opts.Status = 200
	}
	_, err := r.sender.Send(ctx, r.guid, "fulfill", opts)
	if err != nil {
		return fmt.Errorf("failed to fulfill route for %s: %w", r.url, err)
	}
	return nil
}

// Continue releases the request to the network, with optional overrides.
func (r *Route) Continue(ctx context.Context, opts ContinueOptions) error {
	if err := r.decide(); err != nil {
		return err
	}
	_, err := r.sender.Send(ctx, r.guid, "continue", opts)
	if err != nil {
		return fmt.Errorf("failed to continue route for %s: %w", r.url, err)
	}
	return nil
}

// Decided reports whether a terminal operation has been called.
func (r *Route) Decided() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decided
}

// decide claims the single terminal slot. The fate is considered decided
// even if the follow-up protocol command fails; the command is never
// retried with a different verb.
func (r *Route) decide() error {
	r.mu.Lock()
	if r.decided {
		r.mu.Unlock()
		return ErrAlreadyHandled
	}
	r.decided = true
	onDecided := r.onDecided
	r.onDecided = nil
	r.mu.Unlock()

	if onDecided != nil {
		onDecided(r)
	}
	return nil
}

func (r *Route) setOnDecided(fn func(*Route)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDecided = fn
}
