package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Hub owns one dispatcher per open scope.
// Thread-safety: safe for concurrent use.
type Hub struct {
	ctx       context.Context
	logger    *slog.Logger
	observers []Observer

	mu          sync.RWMutex
	dispatchers map[string]*Dispatcher
	locks       map[string]*sync.Mutex // scope-level delivery locks, survive Swap
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithObservers adds delivery observers to every dispatcher the hub creates.
func WithObservers(obs ...Observer) HubOption {
	return func(h *Hub) {
		h.observers = append(h.observers, obs...)
	}
}

// NewHub returns an empty hub. Deliveries run under ctx; cancelling it
// aborts waits on in-flight outcomes.
func NewHub(ctx context.Context, opts ...HubOption) *Hub {
	h := &Hub{
		ctx:         ctx,
		logger:      slog.Default(),
		dispatchers: make(map[string]*Dispatcher),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open creates the dispatcher of scope with consumer c.
func (h *Hub) Open(scope string, c Consumer) (*Dispatcher, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.dispatchers[scope]; ok {
		return nil, fmt.Errorf("open %q: %w", scope, ErrScopeExists)
	}
	d := newDispatcher(h.ctx, scope, c, h.lockLocked(scope), h.logger, h.observers)
	h.dispatchers[scope] = d
	h.logger.Debug("scope opened", "scope_id", scope)
	return d, nil
}

// Route returns the dispatcher of scope.
func (h *Hub) Route(scope string) (*Dispatcher, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.dispatchers[scope]
	return d, ok
}

// Swap replaces the dispatcher of scope with one delivering to c, used when
// a scenario is reloaded from a snapshot taken at wm. Queued transmissions
// newer than wm move to the new dispatcher; older ones are already reflected
// in the reloaded state and their tickets resolve with ErrSuperseded.
func (h *Hub) Swap(scope string, c Consumer, wm Watermark) (*Dispatcher, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	old, ok := h.dispatchers[scope]
	if !ok {
		return nil, fmt.Errorf("swap %q: %w", scope, ErrUnknownScope)
	}
	old.CancelDispatching()

	next := newDispatcher(h.ctx, scope, c, h.lockLocked(scope), h.logger, h.observers)
	next.CancelDispatching()
	moved := next.MergeFrom(old, wm)
	dropped := old.abandon(ErrSuperseded)
	h.dispatchers[scope] = next
	next.StartDispatching()

	h.logger.Info("scope swapped", "scope_id", scope, "moved", moved, "superseded", dropped)
	return next, nil
}

// Close stops the dispatcher of scope and resolves its queued tickets with
// ErrSuperseded.
func (h *Hub) Close(scope string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.dispatchers[scope]
	if !ok {
		return fmt.Errorf("close %q: %w", scope, ErrUnknownScope)
	}
	d.CancelDispatching()
	d.abandon(ErrSuperseded)
	delete(h.dispatchers, scope)
	return nil
}

// Scopes returns the open scope ids, sorted.
func (h *Hub) Scopes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	scopes := make([]string, 0, len(h.dispatchers))
	for s := range h.dispatchers {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// FlushAll flushes every open dispatcher in scope order.
func (h *Hub) FlushAll(ctx context.Context) error {
	for _, scope := range h.Scopes() {
		d, ok := h.Route(scope)
		if !ok {
			continue
		}
		if err := d.Flush(ctx); err != nil {
			return fmt.Errorf("flush %q: %w", scope, err)
		}
	}
	return nil
}

func (h *Hub) lockLocked(scope string) *sync.Mutex {
	l, ok := h.locks[scope]
	if !ok {
		l = &sync.Mutex{}
		h.locks[scope] = l
	}
	return l
}
