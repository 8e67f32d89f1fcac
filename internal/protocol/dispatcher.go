// File: internal/protocol/dispatcher.go
package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventHandler consumes one event payload. Handlers run on the connection's
// receive loop so events for a channel are delivered in browser-emission
// order; a slow handler delays every subsequent event. Not blocking here is
// a caller obligation.
type EventHandler func(params json.RawMessage)

// EventPredicate filters events for one-shot waits. A nil predicate matches
// any event of the awaited name. Predicates run under the dispatcher lock
// and must not call back into the dispatcher.
type EventPredicate func(params json.RawMessage) bool

// Subscription is the handle of a persistent event registration.
type Subscription struct {
	d     *Dispatcher
	guid  string
	event string
	id    uint64
	fn    EventHandler
}

// Unsubscribe removes the registration. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.d.removeSubscription(s)
}

type waitResult struct {
	params json.RawMessage
	err    error
}

// Waiter is a one-shot event registration. It resolves or rejects exactly
// once: the done flag, guarded by the dispatcher mutex, makes completion
// mutually exclusive between a matching event, the timeout, cancellation,
// and channel disposal.
type Waiter struct {
	d     *Dispatcher
	guid  string
	event string
	pred  EventPredicate
	done  bool
	ch    chan waitResult // buffered, capacity 1
}

// Dispatcher fans events out to per-channel subscribers and parks one-shot
// "wait until predicate holds" futures. Emission happens on the receive
// loop; registration may happen from any goroutine.
type Dispatcher struct {
	logger *zap.Logger

	mu      sync.Mutex
	nextID  uint64
	subs    map[string][]*Subscription // key: guid + "\x00" + event
	waiters map[string][]*Waiter       // key: guid
}

// NewDispatcher creates an empty dispatcher. Like the registry, one per
// connection, never shared process-wide.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:  logger.Named("dispatcher"),
		subs:    make(map[string][]*Subscription),
		waiters: make(map[string][]*Waiter),
	}
}

func subKey(guid, event string) string { return guid + "\x00" + event }

// On registers a persistent subscription. Multiple subscribers per
// (channel, event) are allowed and invoked in subscription order.
func (d *Dispatcher) On(guid, event string, fn EventHandler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	sub := &Subscription{d: d, guid: guid, event: event, id: d.nextID, fn: fn}
	key := subKey(guid, event)
	d.subs[key] = append(d.subs[key], sub)
	return sub
}

func (d *Dispatcher) removeSubscription(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := subKey(sub.guid, sub.event)
	list := d.subs[key]
	for i, s := range list {
		if s.id == sub.id {
			d.subs[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(d.subs[key]) == 0 {
		delete(d.subs, key)
	}
}

// Emit delivers one event: one-shot waiters first (their predicate decides),
// then persistent subscribers in subscription order. Called from the
// receive loop only.
func (d *Dispatcher) Emit(guid, event string, params json.RawMessage) {
	d.mu.Lock()
	var matched []*Waiter
	remaining := d.waiters[guid][:0]
	for _, w := range d.waiters[guid] {
		if w.done || w.event != event || (w.pred != nil && !w.pred(params)) {
			remaining = append(remaining, w)
			continue
		}
		w.done = true
		matched = append(matched, w)
	}
	if len(remaining) == 0 {
		delete(d.waiters, guid)
	} else {
		d.waiters[guid] = remaining
	}
	subs := append([]*Subscription(nil), d.subs[subKey(guid, event)]...)
	d.mu.Unlock()

	for _, w := range matched {
		w.ch <- waitResult{params: params}
	}
	for _, s := range subs {
		s.fn(params)
	}
}

// ChannelDisposed fails every waiter parked on guid with TargetClosedError
// and drops the channel's persistent subscriptions.
func (d *Dispatcher) ChannelDisposed(guid string) {
	d.mu.Lock()
	var orphaned []*Waiter
	for _, w := range d.waiters[guid] {
		if !w.done {
			w.done = true
			orphaned = append(orphaned, w)
		}
	}
	delete(d.waiters, guid)

	prefix := guid + "\x00"
	for key := range d.subs {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(d.subs, key)
		}
	}
	d.mu.Unlock()

	for _, w := range orphaned {
		w.ch <- waitResult{err: &TargetClosedError{GUID: guid}}
	}
}

// RegisterWaiter arms a one-shot wait. Registration is immediate, so an
// action performed after this call cannot race past the subscription; call
// Wait (or Cancel) afterwards to collect the outcome.
func (d *Dispatcher) RegisterWaiter(guid, event string, pred EventPredicate) *Waiter {
	w := &Waiter{d: d, guid: guid, event: event, pred: pred, ch: make(chan waitResult, 1)}

	d.mu.Lock()
	d.waiters[guid] = append(d.waiters[guid], w)
	d.mu.Unlock()
	return w
}

// Wait blocks until the awaited event arrives, the timeout elapses, the
// owning channel is disposed, or ctx is canceled. Exactly one of those
// outcomes completes the wait. A timeout of zero waits until ctx decides.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		timeoutC = timer.C
		defer timer.Stop()
	}

	select {
	case res := <-w.ch:
		return res.params, res.err
	case <-timeoutC:
		if w.d.cancelWaiter(w) {
			return nil, &TimeoutError{Op: "wait for event " + w.event, Timeout: timeout}
		}
		// An event won the race; its result is already buffered.
		res := <-w.ch
		return res.params, res.err
	case <-ctx.Done():
		if w.d.cancelWaiter(w) {
			return nil, ctx.Err()
		}
		res := <-w.ch
		return res.params, res.err
	}
}

// Cancel removes the waiter if it is still pending. Cancellation never
// leaves a dangling registration that could fire into a stale caller.
func (w *Waiter) Cancel() {
	w.d.cancelWaiter(w)
}

// WaitForEvent is the one-call form of RegisterWaiter followed by Wait.
func (d *Dispatcher) WaitForEvent(ctx context.Context, guid, event string, pred EventPredicate, timeout time.Duration) (json.RawMessage, error) {
	return d.RegisterWaiter(guid, event, pred).Wait(ctx, timeout)
}

// cancelWaiter atomically claims and removes w. It returns false when an
// event or disposal already completed the waiter, in which case the result
// is sitting in its channel.
func (d *Dispatcher) cancelWaiter(w *Waiter) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if w.done {
		return false
	}
	w.done = true

	list := d.waiters[w.guid]
	for i, cand := range list {
		if cand == w {
			d.waiters[w.guid] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(d.waiters[w.guid]) == 0 {
		delete(d.waiters, w.guid)
	}
	return true
}
