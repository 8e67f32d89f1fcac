// File: internal/engine/timeouts.go
package engine

import (
	"sync"
	"time"
)

// TimeoutSettings resolves effective deadlines through a parent chain:
// page settings override context settings, which override the configured
// engine defaults at the root.
type TimeoutSettings struct {
	parent *TimeoutSettings

	mu                sync.Mutex
	defaultTimeout    *time.Duration
	navigationTimeout *time.Duration

	// Fallbacks are set on the root only.
	fallbackDefault    time.Duration
	fallbackNavigation time.Duration
}

// NewTimeoutSettings builds a node in the chain. Fallback values are only
// consulted on a node without a parent.
func NewTimeoutSettings(parent *TimeoutSettings, fallbackDefault, fallbackNavigation time.Duration) *TimeoutSettings {
	if fallbackDefault <= 0 {
		fallbackDefault = 30 * time.Second
	}
	if fallbackNavigation <= 0 {
		fallbackNavigation = fallbackDefault
	}
	return &TimeoutSettings{
		parent:             parent,
		fallbackDefault:    fallbackDefault,
		fallbackNavigation: fallbackNavigation,
	}
}

// SetDefaultTimeout overrides the default timeout at this level. A zero or
// negative value clears the override.
func (t *TimeoutSettings) SetDefaultTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d <= 0 {
		t.defaultTimeout = nil
		return
	}
	t.defaultTimeout = &d
}

// SetNavigationTimeout overrides the navigation timeout at this level.
func (t *TimeoutSettings) SetNavigationTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d <= 0 {
		t.navigationTimeout = nil
		return
	}
	t.navigationTimeout = &d
}

// Timeout returns the effective default timeout.
func (t *TimeoutSettings) Timeout() time.Duration {
	t.mu.Lock()
	own := t.defaultTimeout
	t.mu.Unlock()

	if own != nil {
		return *own
	}
	if t.parent != nil {
		return t.parent.Timeout()
	}
	return t.fallbackDefault
}

// NavigationTimeout returns the effective navigation timeout. A level that
// sets only a default timeout applies it to navigations as well.
func (t *TimeoutSettings) NavigationTimeout() time.Duration {
	t.mu.Lock()
	nav := t.navigationTimeout
	def := t.defaultTimeout
	t.mu.Unlock()

	if nav != nil {
		return *nav
	}
	if def != nil {
		return *def
	}
	if t.parent != nil {
		return t.parent.NavigationTimeout()
	}
	return t.fallbackNavigation
}
