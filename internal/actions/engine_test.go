// File: internal/actions/engine_test.go
package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionet/internal/config"
	"github.com/xkilldash9x/marionet/internal/protocol"
)

func fastEngine(t *testing.T) *Engine {
	t.Helper()
	return New(zap.NewNop(), config.ActionsConfig{
		Timeout:      250 * time.Millisecond,
		PollInterval: time.Millisecond,
		SettleGrace:  5 * time.Millisecond,
	})
}

func detachedErr() error {
	return &protocol.DetachedError{GUID: "el-1", Kind: protocol.KindElementHandle}
}

func visibleStable() *State {
	return &State{Attached: true, Visible: true, Enabled: true, Editable: true,
		ReceivesEvents: true, Box: &Box{X: 1, Y: 2, Width: 3, Height: 4}}
}

// fakeElement scripts a sequence of actionability samples; the last sample
// repeats once the script runs out.
type fakeElement struct {
	mu         sync.Mutex
	samples    []*State
	sampleErrs []error
	performErr []error
	performs   int
	snapshots  int
	checked    bool
	settleErr  error
	settles    int
}

func (f *fakeElement) Snapshot(ctx context.Context) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	if len(f.sampleErrs) > 0 {
		err := f.sampleErrs[0]
		f.sampleErrs = f.sampleErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.samples) == 0 {
		return visibleStable(), nil
	}
	st := f.samples[0]
	if len(f.samples) > 1 {
		f.samples = f.samples[1:]
	}
	copied := *st
	return &copied, nil
}

func (f *fakeElement) Checked(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked, nil
}

func (f *fakeElement) Perform(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.performs++
	if len(f.performErr) > 0 {
		err := f.performErr[0]
		f.performErr = f.performErr[1:]
		return err
	}
	return nil
}

func (f *fakeElement) Settle(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settles++
	if f.settleErr != nil {
		return f.settleErr
	}
	// No navigation started within the grace period.
	return &protocol.TimeoutError{Op: "settle", Timeout: time.Millisecond}
}

func (f *fakeElement) counts() (snapshots, performs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots, f.performs
}

// fakeResolver scripts the element returned per attempt.
type fakeResolver struct {
	mu           sync.Mutex
	elements     []Element
	errs         []error
	resolves     int
	reresolvable bool
}

func (f *fakeResolver) Resolve(ctx context.Context) (Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.elements) == 0 {
		return nil, ErrElementNotFound
	}
	el := f.elements[0]
	if len(f.elements) > 1 {
		f.elements = f.elements[1:]
	}
	return el, nil
}

func (f *fakeResolver) Reresolvable() bool { return f.reresolvable }

func TestPerformHappyPath(t *testing.T) {
	e := fastEngine(t)
	el := &fakeElement{}
	res := &fakeResolver{elements: []Element{el}, reresolvable: true}

	err := e.Perform(context.Background(), Request{Action: ActionClick, Resolver: res})
	require.NoError(t, err)

	snaps, performs := el.counts()
	assert.Equal(t, 1, performs)
	// Stability needs two consecutive identical boxes, so at least two probes.
	assert.GreaterOrEqual(t, snaps, 2)
	assert.Equal(t, 1, el.settles)
}

func TestPerformWaitsForStability(t *testing.T) {
	e := fastEngine(t)
	moving := visibleStable()
	moving.Box = &Box{X: 10, Y: 10, Width: 3, Height: 4}
	moved := visibleStable()
	moved.Box = &Box{X: 20, Y: 10, Width: 3, Height: 4}
	// Box changes between the first two samples, then settles.
	el := &fakeElement{samples: []*State{moving, moved, moved}}
	res := &fakeResolver{elements: []Element{el}, reresolvable: true}

	require.NoError(t, e.Perform(context.Background(), Request{Action: ActionClick, Resolver: res}))

	snaps, performs := el.counts()
	assert.Equal(t, 1, performs)
	// sample A, sample B (A!=B), sample B again (B==B) at minimum.
	assert.GreaterOrEqual(t, snaps, 3)
}

func TestPerformFillIgnoresStability(t *testing.T) {
	e := fastEngine(t)
	// A permanently drifting box: fill does not require stability.
	a := visibleStable()
	a.Box = &Box{X: 1}
	b := visibleStable()
	b.Box = &Box{X: 2}
	el := &fakeElement{samples: []*State{a, b, a, b}}
	res := &fakeResolver{elements: []Element{el}, reresolvable: true}

	require.NoError(t, e.Perform(context.Background(), Request{Action: ActionFill, Resolver: res}))
	_, performs := el.counts()
	assert.Equal(t, 1, performs)
}

func TestPerformRetriesAfterDetachDuringProbe(t *testing.T) {
	e := fastEngine(t)
	gone := &fakeElement{sampleErrs: []error{detachedErr()}}
	fresh := &fakeElement{}
	res := &fakeResolver{elements: []Element{gone, fresh}, reresolvable: true}

	require.NoError(t, e.Perform(context.Background(), Request{Action: ActionClick, Resolver: res}))

	_, goneDid := gone.counts()
	_, freshDid := fresh.counts()
	assert.Zero(t, goneDid)
	assert.Equal(t, 1, freshDid)
	assert.Equal(t, 2, res.resolves)
}

func TestPerformRetriesAfterDetachDuringAct(t *testing.T) {
	e := fastEngine(t)
	flaky := &fakeElement{performErr: []error{detachedErr()}}
	fresh := &fakeElement{}
	res := &fakeResolver{elements: []Element{flaky, fresh}, reresolvable: true}

	require.NoError(t, e.Perform(context.Background(), Request{Action: ActionClick, Resolver: res}))

	_, flakyDid := flaky.counts()
	_, freshDid := fresh.counts()
	assert.Equal(t, 1, flakyDid)
	assert.Equal(t, 1, freshDid)
}

func TestPerformDetachedHandleIsTerminal(t *testing.T) {
	e := fastEngine(t)
	el := &fakeElement{performErr: []error{detachedErr()}}
	res := &fakeResolver{elements: []Element{el}, reresolvable: false}

	err := e.Perform(context.Background(), Request{Action: ActionClick, Resolver: res})
	var de *protocol.DetachedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 1, res.resolves)
}

func TestPerformTimeout(t *testing.T) {
	e := fastEngine(t)
	hidden := visibleStable()
	hidden.Visible = false
	el := &fakeElement{samples: []*State{hidden}}
	res := &fakeResolver{elements: []Element{el}, reresolvable: true}

	start := time.Now()
	err := e.Perform(context.Background(), Request{
		Action:   ActionClick,
		Opts:     Options{Timeout: 50 * time.Millisecond},
		Resolver: res,
	})
	elapsed := time.Since(start)

	var ate *ActionTimeoutError
	require.ErrorAs(t, err, &ate)
	assert.Equal(t, ActionClick, ate.Action)
	require.NotNil(t, ate.LastState)
	assert.False(t, ate.LastState.Visible)

	// Unwraps into the protocol taxonomy.
	var te *protocol.TimeoutError
	assert.ErrorAs(t, err, &te)

	_, performs := el.counts()
	assert.Zero(t, performs)
	// The failure lands close to the configured budget: not near-zero, not
	// unbounded.
	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestPerformTimeoutWhileElementMissing(t *testing.T) {
	e := fastEngine(t)
	res := &fakeResolver{reresolvable: true} // never finds anything

	err := e.Perform(context.Background(), Request{
		Action:   ActionClick,
		Opts:     Options{Timeout: 30 * time.Millisecond},
		Resolver: res,
	})

	var ate *ActionTimeoutError
	require.ErrorAs(t, err, &ate)
	assert.Nil(t, ate.LastState)
	assert.Greater(t, res.resolves, 1)
}

func TestPerformTimeoutWithCoarsePolling(t *testing.T) {
	// A poll interval far larger than the budget pushes the limiter into its
	// would-exceed-deadline fast path; the caller must still see the budget
	// run out as an ActionTimeoutError, never a raw pacing error.
	e := New(zap.NewNop(), config.ActionsConfig{
		Timeout:      30 * time.Millisecond,
		PollInterval: time.Second,
		SettleGrace:  5 * time.Millisecond,
	})
	res := &fakeResolver{reresolvable: true}

	start := time.Now()
	err := e.Perform(context.Background(), Request{Action: ActionClick, Resolver: res})
	elapsed := time.Since(start)

	var ate *ActionTimeoutError
	require.ErrorAs(t, err, &ate)
	// The full budget is consumed, not failed eagerly.
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestPerformForceSkipsProbes(t *testing.T) {
	e := fastEngine(t)
	hidden := visibleStable()
	hidden.Visible = false
	hidden.Enabled = false
	el := &fakeElement{samples: []*State{hidden}}
	res := &fakeResolver{elements: []Element{el}, reresolvable: true}

	err := e.Perform(context.Background(), Request{
		Action:   ActionClick,
		Opts:     Options{Force: true},
		Resolver: res,
	})
	require.NoError(t, err)

	snaps, performs := el.counts()
	assert.Equal(t, 1, performs)
	// Force still verifies attachment with a single sample.
	assert.Equal(t, 1, snaps)
}

func TestPerformForceDoesNotSkipAttachment(t *testing.T) {
	e := fastEngine(t)
	gone := visibleStable()
	gone.Attached = false
	el := &fakeElement{samples: []*State{gone}}
	res := &fakeResolver{elements: []Element{el}, reresolvable: false}

	err := e.Perform(context.Background(), Request{
		Action:   ActionClick,
		Opts:     Options{Force: true, Timeout: 30 * time.Millisecond},
		Resolver: res,
	})
	var de *protocol.DetachedError
	require.ErrorAs(t, err, &de)
	_, performs := el.counts()
	assert.Zero(t, performs)
}

func TestPerformUnattachedSampleOnHandleIsTerminal(t *testing.T) {
	e := fastEngine(t)
	gone := visibleStable()
	gone.Attached = false
	el := &fakeElement{samples: []*State{gone}}
	res := &fakeResolver{elements: []Element{el}, reresolvable: false}

	// A handle whose sample reports unattached cannot be re-resolved; the
	// action must fail rather than silently succeed without dispatching.
	err := e.Perform(context.Background(), Request{Action: ActionClick, Resolver: res})
	var de *protocol.DetachedError
	require.ErrorAs(t, err, &de)
	_, performs := el.counts()
	assert.Zero(t, performs)
	assert.Equal(t, 1, res.resolves)
}

func TestCheckShortCircuits(t *testing.T) {
	e := fastEngine(t)

	t.Run("already in target state", func(t *testing.T) {
		el := &fakeElement{checked: true}
		res := &fakeResolver{elements: []Element{el}, reresolvable: true}

		require.NoError(t, e.Perform(context.Background(), Request{
			Action:   ActionCheck,
			Opts:     Options{Checked: true},
			Resolver: res,
		}))
		snaps, performs := el.counts()
		assert.Zero(t, performs, "no DOM mutation for a no-op toggle")
		assert.Zero(t, snaps, "short-circuit happens before probing")
	})

	t.Run("needs toggling", func(t *testing.T) {
		el := &fakeElement{checked: false}
		res := &fakeResolver{elements: []Element{el}, reresolvable: true}

		require.NoError(t, e.Perform(context.Background(), Request{
			Action:   ActionCheck,
			Opts:     Options{Checked: true},
			Resolver: res,
		}))
		_, performs := el.counts()
		assert.Equal(t, 1, performs)
	})
}

func TestPerformResolvePollsUntilFound(t *testing.T) {
	e := fastEngine(t)
	el := &fakeElement{}
	res := &fakeResolver{
		errs:         []error{ErrElementNotFound, ErrElementNotFound},
		elements:     []Element{el},
		reresolvable: true,
	}

	require.NoError(t, e.Perform(context.Background(), Request{Action: ActionClick, Resolver: res}))
	assert.Equal(t, 3, res.resolves)
}

func TestPerformNoWaitAfterSkipsSettle(t *testing.T) {
	e := fastEngine(t)
	el := &fakeElement{}
	res := &fakeResolver{elements: []Element{el}, reresolvable: true}

	require.NoError(t, e.Perform(context.Background(), Request{
		Action:   ActionClick,
		Opts:     Options{NoWaitAfter: true},
		Resolver: res,
	}))
	assert.Zero(t, el.settles)
}

func TestPerformSettleErrorPropagates(t *testing.T) {
	e := fastEngine(t)
	el := &fakeElement{settleErr: errors.New("load failed")}
	res := &fakeResolver{elements: []Element{el}, reresolvable: true}

	err := e.Perform(context.Background(), Request{Action: ActionClick, Resolver: res})
	require.ErrorContains(t, err, "load failed")
}

func TestPerformCallerCancellation(t *testing.T) {
	e := fastEngine(t)
	hidden := visibleStable()
	hidden.Visible = false
	el := &fakeElement{samples: []*State{hidden}}
	res := &fakeResolver{elements: []Element{el}, reresolvable: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Perform(ctx, Request{Action: ActionClick, Resolver: res})
	// Caller cancellation is not dressed up as an action timeout.
	var ate *ActionTimeoutError
	assert.False(t, errors.As(err, &ate))
	assert.Error(t, err)
}
