// File: internal/actions/engine.go
package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/marionet/internal/config"
	"github.com/xkilldash9x/marionet/internal/protocol"
)

// ErrElementNotFound is returned by a Resolver when no element currently
// matches. Selector-based resolvers are polled until one appears;
// pre-resolved handles fail immediately.
var ErrElementNotFound = errors.New("no element matches selector")

// ActionTimeoutError reports that the overall action budget was exceeded.
// It carries the last observed actionability sample for diagnostics and
// unwraps to protocol.TimeoutError.
type ActionTimeoutError struct {
	Action    Kind
	Timeout   time.Duration
	LastState *State
}

func (e *ActionTimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout %v exceeded (last state: %s)", e.Action, e.Timeout, e.LastState)
}

func (e *ActionTimeoutError) Unwrap() error {
	return &protocol.TimeoutError{Op: string(e.Action), Timeout: e.Timeout}
}

// Element is one resolved action candidate. Every method may fail with
// protocol.DetachedError when the underlying node has left the DOM; the
// engine treats that as a signal to re-resolve, not as a terminal failure.
type Element interface {
	// Snapshot computes one actionability sample.
	Snapshot(ctx context.Context) (*State, error)
	// Checked reports the current checked state (check/uncheck only).
	Checked(ctx context.Context) (bool, error)
	// Perform dispatches the mutating input operation.
	Perform(ctx context.Context) error
	// Settle waits for a navigation triggered by the action to reach the
	// configured load state. Returning protocol.TimeoutError means no
	// navigation started within the grace period, which is not a failure.
	Settle(ctx context.Context) error
}

// Resolver produces the candidate element for each attempt of an action.
type Resolver interface {
	Resolve(ctx context.Context) (Element, error)
	// Reresolvable reports whether a fresh candidate may be looked up after
	// a detach. True for selector-based targets, false for pre-resolved
	// handles.
	Reresolvable() bool
}

// Options tune one action invocation.
type Options struct {
	// Force skips every probe except attachment.
	Force bool
	// NoWaitAfter skips the settle phase.
	NoWaitAfter bool
	// Timeout overrides the engine's default budget.
	Timeout time.Duration
	// Checked is the desired state for check/uncheck.
	Checked bool
}

// Request describes one action invocation.
type Request struct {
	Action   Kind
	Opts     Options
	Resolver Resolver
}

// Engine performs UI-mutating operations only once the target is in a safe,
// stable state, retrying the full resolve-probe-act cycle when the DOM
// shifts underneath it. A naive check-then-act is inherently racy against
// page scripts; bounded retry on a monotonically-consumed budget is the
// mitigation.
type Engine struct {
	logger       *zap.Logger
	timeout      time.Duration
	pollInterval time.Duration
	settleGrace  time.Duration
}

// New builds an action engine from configuration.
func New(logger *zap.Logger, cfg config.ActionsConfig) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	grace := cfg.SettleGrace
	if grace <= 0 {
		grace = 500 * time.Millisecond
	}
	return &Engine{
		logger:       logger.Named("actions"),
		timeout:      timeout,
		pollInterval: poll,
		settleGrace:  grace,
	}
}

// Perform runs the Resolve -> Probe -> Act -> Settle state machine for one
// request. Retries after a mid-cycle detach restart from Resolve and
// consume the remaining budget; they never reset it. Intermediate probe
// failures stay internal: the caller sees either success or one
// ActionTimeoutError.
func (e *Engine) Perform(ctx context.Context, req Request) error {
	timeout := req.Opts.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The limiter paces resolve and probe iterations. Its first token is
	// available immediately, so the happy path pays no latency.
	limiter := rate.NewLimiter(rate.Every(e.pollInterval), 1)

	var last *State
	err := e.run(actionCtx, req, limiter, &last)
	if err != nil && actionCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		e.logger.Debug("Action timed out.",
			zap.String("action", string(req.Action)),
			zap.Duration("timeout", timeout),
			zap.String("last_state", last.String()))
		return &ActionTimeoutError{Action: req.Action, Timeout: timeout, LastState: last}
	}
	return err
}

func (e *Engine) run(ctx context.Context, req Request, limiter *rate.Limiter, last **State) error {
	for attempt := 0; ; attempt++ {
		el, err := e.resolve(ctx, req, limiter)
		if err != nil {
			return err
		}

		// check/uncheck short-circuit: no DOM mutation when the element is
		// already in the target state.
		if isToggle(req.Action) {
			current, err := el.Checked(ctx)
			if detached(err) && req.Resolver.Reresolvable() {
				continue
			}
			if err != nil {
				return err
			}
			if current == req.Opts.Checked {
				return nil
			}
		}

		wentAway, err := e.probeUntilReady(ctx, req, el, limiter, last)
		if wentAway {
			if req.Resolver.Reresolvable() {
				e.logger.Debug("Candidate detached during probe; re-resolving.",
					zap.String("action", string(req.Action)),
					zap.Int("attempt", attempt))
				continue
			}
			// A pre-resolved handle cannot come back; an unattached sample is
			// as terminal as an explicit detach error.
			if err == nil {
				err = &protocol.DetachedError{}
			}
			return err
		}
		if err != nil {
			return err
		}

		if err := el.Perform(ctx); err != nil {
			// The detach race between probe and act is inherent to live
			// pages; restart the whole cycle on the remaining budget.
			if detached(err) && req.Resolver.Reresolvable() {
				e.logger.Debug("Candidate detached between probe and act; re-resolving.",
					zap.String("action", string(req.Action)),
					zap.Int("attempt", attempt))
				continue
			}
			return err
		}

		if !req.Opts.NoWaitAfter {
			settleCtx, cancel := context.WithTimeout(ctx, e.settleGrace)
			err := el.Settle(settleCtx)
			cancel()
			// A settle timeout just means no navigation started.
			if err != nil && !timedOut(err) && ctx.Err() == nil {
				return err
			}
		}
		return nil
	}
}

// resolve finds the action candidate, polling while the selector matches
// nothing (when permitted).
func (e *Engine) resolve(ctx context.Context, req Request, limiter *rate.Limiter) (Element, error) {
	for {
		el, err := req.Resolver.Resolve(ctx)
		if err == nil {
			return el, nil
		}
		if !errors.Is(err, ErrElementNotFound) || !req.Resolver.Reresolvable() {
			return nil, err
		}
		if err := pace(ctx, limiter); err != nil {
			return nil, err
		}
	}
}

// probeUntilReady samples actionability until the action's requirements
// pass. The bool result reports that the candidate detached and the cycle
// should restart from Resolve.
func (e *Engine) probeUntilReady(ctx context.Context, req Request, el Element, limiter *rate.Limiter, last **State) (bool, error) {
	var prevBox *Box
	for {
		st, err := el.Snapshot(ctx)
		if detached(err) {
			return true, err
		}
		if err != nil {
			return false, err
		}
		*last = st

		if !st.Attached {
			return true, nil
		}
		if req.Opts.Force || ready(req.Action, st, prevBox) {
			return false, nil
		}
		prevBox = st.Box

		if err := pace(ctx, limiter); err != nil {
			return false, err
		}
	}
}

// pace blocks until the next poll slot. rate.Limiter fails fast when the
// reservation cannot fit before the context deadline, but budget exhaustion
// must always be observed as the context error, so wait the deadline out.
func pace(ctx context.Context, limiter *rate.Limiter) error {
	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			<-ctx.Done()
		}
		return ctx.Err()
	}
	return nil
}

func detached(err error) bool {
	var de *protocol.DetachedError
	return errors.As(err, &de)
}

func timedOut(err error) bool {
	var te *protocol.TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}
