// File: internal/protocol/registry.go
package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Kind tags the remote object behind a channel. The set is closed; create
// descriptors carrying anything else fail with UnknownKindError.
type Kind string

const (
	KindBrowser        Kind = "Browser"
	KindBrowserContext Kind = "BrowserContext"
	KindPage           Kind = "Page"
	KindFrame          Kind = "Frame"
	KindElementHandle  Kind = "ElementHandle"
	KindJSHandle       Kind = "JSHandle"
	KindRequest        Kind = "Request"
	KindResponse       Kind = "Response"
	KindRoute          Kind = "Route"
	KindWebSocket      Kind = "WebSocket"
	KindWorker         Kind = "Worker"
	KindCDPSession     Kind = "CDPSession"
	KindDialog         Kind = "Dialog"
	KindConsoleMessage Kind = "ConsoleMessage"
)

var knownKinds = map[Kind]struct{}{
	KindBrowser: {}, KindBrowserContext: {}, KindPage: {}, KindFrame: {},
	KindElementHandle: {}, KindJSHandle: {}, KindRequest: {}, KindResponse: {},
	KindRoute: {}, KindWebSocket: {}, KindWorker: {}, KindCDPSession: {},
	KindDialog: {}, KindConsoleMessage: {},
}

// ParseKind validates a wire type tag against the closed kind set.
func ParseKind(tag string) (Kind, error) {
	k := Kind(tag)
	if _, ok := knownKinds[k]; !ok {
		return "", &UnknownKindError{Tag: tag}
	}
	return k, nil
}

// Channel is the local identity of one remote object. The parent, once set,
// never changes; every channel is reachable from a root via exactly one
// parent chain.
type Channel struct {
	guid        string
	kind        Kind
	parent      *Channel
	initializer json.RawMessage

	mu       sync.Mutex
	children map[string]*Channel
	detached atomic.Bool
}

func (c *Channel) GUID() string                 { return c.guid }
func (c *Channel) Kind() Kind                   { return c.kind }
func (c *Channel) Parent() *Channel             { return c.parent }
func (c *Channel) Initializer() json.RawMessage { return c.initializer }

// Detached reports whether the channel has been disposed. In-flight
// operations observe this flag and fail with DetachedError instead of
// silently no-opping.
func (c *Channel) Detached() bool { return c.detached.Load() }

// DetachedErr returns the error callers surface for use-after-dispose.
func (c *Channel) DetachedErr() error {
	return &DetachedError{GUID: c.guid, Kind: c.kind}
}

// Registry owns the identity and lifetime of every channel on a connection.
// Proxy objects held by callers are lookup-only and never keep a channel
// alive. Mutation happens only from the connection's receive loop.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
	roots    map[string]*Channel

	// onDispose is invoked once per disposed channel, children before
	// parents, outside the registry lock.
	onDispose func(*Channel)
}

// NewRegistry creates an empty registry. There is deliberately no package
// level singleton; each connection constructs its own so multiple engines
// can coexist in one process.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger.Named("registry"),
		channels: make(map[string]*Channel),
		roots:    make(map[string]*Channel),
	}
}

// SetDisposeHook installs the per-channel disposal callback. Must be called
// before the connection starts receiving.
func (r *Registry) SetDisposeHook(fn func(*Channel)) { r.onDispose = fn }

// Create registers a new channel under parentGUID (empty for a root
// object). A duplicate guid is a defensively-checked protocol bug: it is
// reported as an error for the caller to log, and the existing channel is
// left untouched.
func (r *Registry) Create(parentGUID, guid, tag string, initializer json.RawMessage) (*Channel, error) {
	kind, err := ParseKind(tag)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[guid]; exists {
		return nil, fmt.Errorf("channel %q already exists", guid)
	}

	var parent *Channel
	if parentGUID != "" {
		p, ok := r.channels[parentGUID]
		if !ok {
			return nil, &UnknownChannelError{GUID: parentGUID}
		}
		parent = p
	}

	ch := &Channel{
		guid:        guid,
		kind:        kind,
		parent:      parent,
		initializer: initializer,
		children:    make(map[string]*Channel),
	}
	r.channels[guid] = ch
	if parent == nil {
		r.roots[guid] = ch
	} else {
		parent.mu.Lock()
		parent.children[guid] = ch
		parent.mu.Unlock()
	}
	return ch, nil
}

// Resolve looks up a live channel. A miss is always a protocol-level bug,
// surfaced as UnknownChannelError so it is distinguishable from user-facing
// errors.
func (r *Registry) Resolve(guid string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[guid]
	if !ok {
		return nil, &UnknownChannelError{GUID: guid}
	}
	return ch, nil
}

// Dispose removes the channel and, recursively, every descendant. Each
// removed channel gets its detached flag set before the dispose hook runs.
func (r *Registry) Dispose(guid string) error {
	r.mu.Lock()
	ch, ok := r.channels[guid]
	if !ok {
		r.mu.Unlock()
		return &UnknownChannelError{GUID: guid}
	}

	disposed := r.removeSubtreeLocked(ch)
	if parent := ch.parent; parent != nil {
		parent.mu.Lock()
		delete(parent.children, guid)
		parent.mu.Unlock()
	} else {
		delete(r.roots, guid)
	}
	r.mu.Unlock()

	r.notifyDisposed(disposed)
	return nil
}

// DisposeAll tears down every channel, used on connection closure.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	var disposed []*Channel
	for guid, root := range r.roots {
		disposed = append(disposed, r.removeSubtreeLocked(root)...)
		delete(r.roots, guid)
	}
	r.mu.Unlock()

	r.notifyDisposed(disposed)
}

// Size reports the number of live channels.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// removeSubtreeLocked detaches and unregisters ch and its descendants,
// returning them children-first. Caller holds r.mu.
func (r *Registry) removeSubtreeLocked(ch *Channel) []*Channel {
	var disposed []*Channel

	ch.mu.Lock()
	children := make([]*Channel, 0, len(ch.children))
	for _, child := range ch.children {
		children = append(children, child)
	}
	ch.children = make(map[string]*Channel)
	ch.mu.Unlock()

	for _, child := range children {
		disposed = append(disposed, r.removeSubtreeLocked(child)...)
	}

	ch.detached.Store(true)
	delete(r.channels, ch.guid)
	return append(disposed, ch)
}

func (r *Registry) notifyDisposed(disposed []*Channel) {
	if r.onDispose == nil {
		return
	}
	for _, ch := range disposed {
		r.onDispose(ch)
	}
}
