// File: internal/routing/router.go
package routing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scope distinguishes where a registration was made. Page-scoped
// registrations as a whole take precedence over context-scoped ones,
// regardless of registration order.
type Scope int

const (
	ScopeContext Scope = iota
	ScopePage
)

func (s Scope) String() string {
	if s == ScopePage {
		return "page"
	}
	return "context"
}

// HandlerFunc decides the fate of an intercepted request. It runs off the
// receive loop, so it may freely issue protocol commands.
type HandlerFunc func(route *Route)

type registration struct {
	id      string
	scope   Scope
	owner   string // guid of the registering page or context
	matcher *URLMatcher
	handler HandlerFunc
}

// Router holds the priority-ordered route registrations of one browser
// context and tracks undecided routes so nothing is left stalled when an
// owner closes.
type Router struct {
	logger *zap.Logger

	mu     sync.Mutex
	regs   []*registration            // in registration order
	active map[string]map[*Route]bool // owner guid -> undecided routes
}

// NewRouter creates an empty route table.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		logger: logger.Named("router"),
		active: make(map[string]map[*Route]bool),
	}
}

// Add registers (matcher, handler) under the given scope and owner. The
// returned function removes the registration.
func (r *Router) Add(scope Scope, ownerGUID string, matcher *URLMatcher, handler HandlerFunc) func() {
	reg := &registration{
		id:      uuid.NewString(),
		scope:   scope,
		owner:   ownerGUID,
		matcher: matcher,
		handler: handler,
	}

	r.mu.Lock()
	r.regs = append(r.regs, reg)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, cand := range r.regs {
			if cand.id == reg.id {
				r.regs = append(r.regs[:i:i], r.regs[i+1:]...)
				return
			}
		}
	}
}

// HasRegistrations reports whether any route is registered. Contexts use it
// to decide whether interception needs enabling at the protocol level.
func (r *Router) HasRegistrations() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs) > 0
}

// Dispatch matches the route URL against the registered handlers: all
// page-scoped registrations owned by the route's page first, then all
// context-scoped ones, each in registration order. The first match overall
// wins and its handler runs synchronously on the calling goroutine (which
// must not be the receive loop). Returns false when nothing matched, in
// which case the caller lets the request proceed unmodified.
func (r *Router) Dispatch(route *Route) bool {
	reg := r.match(route)
	if reg == nil {
		return false
	}

	r.trackActive(route)
	r.logger.Debug("Route matched.",
		zap.String("url", route.URL()),
		zap.String("pattern", reg.matcher.Pattern()),
		zap.String("scope", reg.scope.String()))

	r.invoke(reg, route)
	return true
}

func (r *Router) match(route *Route) *registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.regs {
		if reg.scope == ScopePage && reg.owner == route.PageGUID() && reg.matcher.Matches(route.URL()) {
			return reg
		}
	}
	for _, reg := range r.regs {
		if reg.scope == ScopeContext && reg.owner == route.ContextGUID() && reg.matcher.Matches(route.URL()) {
			return reg
		}
	}
	return nil
}

// invoke runs the handler with panic containment. A handler that panics
// aborts the request rather than hanging it indefinitely.
func (r *Router) invoke(reg *registration, route *Route) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Route handler panicked; aborting request.",
				zap.String("url", route.URL()),
				zap.Any("panic", rec))
			r.abortStalled(route)
		}
	}()
	reg.handler(route)
}

// trackActive remembers the route as undecided under both of its owners
// until a terminal operation fires.
func (r *Router) trackActive(route *Route) {
	r.mu.Lock()
	for _, owner := range []string{route.PageGUID(), route.ContextGUID()} {
		if owner == "" {
			continue
		}
		if r.active[owner] == nil {
			r.active[owner] = make(map[*Route]bool)
		}
		r.active[owner][route] = true
	}
	r.mu.Unlock()

	route.setOnDecided(func(decided *Route) {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, owner := range []string{decided.PageGUID(), decided.ContextGUID()} {
			if set := r.active[owner]; set != nil {
				delete(set, decided)
				if len(set) == 0 {
					delete(r.active, owner)
				}
			}
		}
	})
}

// OwnerClosed drops the owner's registrations and aborts its undecided
// routes, so a stalled request fails safely instead of hanging forever.
func (r *Router) OwnerClosed(ownerGUID string) {
	r.mu.Lock()
	kept := r.regs[:0]
	for _, reg := range r.regs {
		if reg.owner != ownerGUID {
			kept = append(kept, reg)
		}
	}
	r.regs = kept

	var stalled []*Route
	for route := range r.active[ownerGUID] {
		stalled = append(stalled, route)
	}
	delete(r.active, ownerGUID)
	r.mu.Unlock()

	for _, route := range stalled {
		r.abortStalled(route)
	}
}

func (r *Router) abortStalled(route *Route) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := route.Abort(ctx, "failed"); err != nil && err != ErrAlreadyHandled {
		r.logger.Warn("Failed to abort stalled route.", zap.String("url", route.URL()), zap.Error(err))
	}
}
