package adapter

import (
	"context"
	"fmt"
	"sync"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/logging"
	"github.com/vinayprograms/editorbridge/telemetry"
)

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded     EventType = "added"
	EventRemoved   EventType = "removed"
	EventActivated EventType = "activated"
)

// Event represents a change in the registry. For EventActivated with an
// empty registry, ID is empty.
type Event struct {
	Type EventType
	ID   string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l.WithComponent("registry")
	}
}

// WithRegistryTracer sets the tracer used for lifecycle spans.
func WithRegistryTracer(t *telemetry.Tracer) RegistryOption {
	return func(r *Registry) {
		r.tracer = t
	}
}

// Registry holds adapters by id in registration order and tracks the active
// one. The first registered adapter becomes active.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]Adapter
	activeID string
	watchers []chan Event
	closed   bool

	logger *logging.Logger
	tracer *telemetry.Tracer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		logger:   logging.New().WithComponent("registry"),
		tracer:   telemetry.GetTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a under id. A duplicate id is rejected with ALREADY_EXISTS
// and the existing entry is left untouched.
func (r *Registry) Register(id string, a Adapter) error {
	if id == "" {
		return perrors.InvalidRequest("adapter id is empty")
	}
	if a == nil {
		return perrors.InvalidRequest("adapter is nil", perrors.WithDetail("adapter", id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return perrors.Internal("registry is closed")
	}
	if _, exists := r.adapters[id]; exists {
		err := perrors.AlreadyExists(fmt.Sprintf("adapter %q", id), perrors.WithDetail("adapter", id))
		r.logger.AdapterEvent(id, "rejected", err)
		return err
	}

	r.adapters[id] = a
	r.order = append(r.order, id)
	r.notifyWatchers(Event{Type: EventAdded, ID: id})
	r.logger.AdapterEvent(id, "registered", nil)

	if r.activeID == "" {
		r.activeID = id
		r.notifyWatchers(Event{Type: EventActivated, ID: id})
	}
	return nil
}

// Unregister removes id and disposes its adapter. If it was active, the
// earliest remaining adapter becomes active, or none. The adapter is
// removed even when Dispose fails; the dispose error is returned.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	a, exists := r.adapters[id]
	if !exists {
		r.mu.Unlock()
		return perrors.AdapterNotFound(fmt.Sprintf("adapter %q is not registered", id),
			perrors.WithDetail("adapter", id))
	}

	delete(r.adapters, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.notifyWatchers(Event{Type: EventRemoved, ID: id})

	if r.activeID == id {
		r.activeID = ""
		if len(r.order) > 0 {
			r.activeID = r.order[0]
		}
		r.notifyWatchers(Event{Type: EventActivated, ID: r.activeID})
	}
	r.mu.Unlock()

	err := r.lifecycle(ctx, id, "dispose", a.Dispose)
	r.logger.AdapterEvent(id, "unregistered", err)
	return err
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Active returns the active adapter, if any.
func (r *Registry) Active() (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, false
	}
	return r.adapters[r.activeID], true
}

// ActiveEntry returns the active id and adapter as one consistent pair.
func (r *Registry) ActiveEntry() (string, Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return "", nil, false
	}
	return r.activeID, r.adapters[r.activeID], true
}

// ActiveID returns the active adapter id, or "" when the registry is empty.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// SetActive makes id the active adapter.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[id]; !exists {
		return perrors.AdapterNotFound(fmt.Sprintf("adapter %q is not registered", id),
			perrors.WithDetail("adapter", id))
	}
	if r.activeID != id {
		r.activeID = id
		r.notifyWatchers(Event{Type: EventActivated, ID: id})
		r.logger.AdapterEvent(id, "activated", nil)
	}
	return nil
}

// IDs returns registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// GetByCapability returns the ids of adapters declaring capability, in
// registration order.
func (r *Registry) GetByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.order {
		if HasCapability(r.adapters[id], capability) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Capabilities returns the union of all declared capabilities in first-seen
// order.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	caps := []string{}
	for _, id := range r.order {
		for _, c := range r.adapters[id].Capabilities() {
			if !seen[c] {
				seen[c] = true
				caps = append(caps, c)
			}
		}
	}
	return caps
}

// --- Lifecycle ---

// InitializeAll initializes every adapter in parallel. Failures are joined;
// one failing adapter does not stop the others.
func (r *Registry) InitializeAll(ctx context.Context) error {
	return r.forEach(ctx, "initialize", func(a Adapter) func(context.Context) error {
		return a.Initialize
	})
}

// DisposeAll disposes every adapter in parallel. Adapters stay registered.
func (r *Registry) DisposeAll(ctx context.Context) error {
	return r.forEach(ctx, "dispose", func(a Adapter) func(context.Context) error {
		return a.Dispose
	})
}

// HealthCheckAll checks every adapter in parallel. A check that panics is
// reported in that adapter's Health and does not affect the others.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]Health {
	entries := r.snapshot()

	var mu sync.Mutex
	results := make(map[string]Health, len(entries))
	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(id string, a Adapter) {
			defer wg.Done()
			h := r.healthCheck(ctx, id, a)
			mu.Lock()
			results[id] = h
			mu.Unlock()
		}(e.id, e.adapter)
	}
	wg.Wait()
	return results
}

func (r *Registry) healthCheck(ctx context.Context, id string, a Adapter) (h Health) {
	ctx, span := r.tracer.StartAdapterSpan(ctx, id, "health")
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = perrors.RecoverPanic(rec)
			h = Health{Error: err.Error()}
		}
		r.tracer.EndAdapterSpan(span, err)
		if err != nil {
			r.logger.AdapterEvent(id, "health_failed", err)
		}
	}()
	return a.HealthCheck(ctx)
}

type entry struct {
	id      string
	adapter Adapter
}

func (r *Registry) snapshot() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]entry, len(r.order))
	for i, id := range r.order {
		entries[i] = entry{id: id, adapter: r.adapters[id]}
	}
	return entries
}

func (r *Registry) forEach(ctx context.Context, action string, fn func(Adapter) func(context.Context) error) error {
	entries := r.snapshot()

	errs := make([]error, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e entry) {
			defer wg.Done()
			errs[i] = r.lifecycle(ctx, e.id, action, fn(e.adapter))
		}(i, e)
	}
	wg.Wait()
	return perrors.Join(errs...)
}

// lifecycle runs one adapter lifecycle step inside a span, converting a
// panic into INTERNAL_ERROR.
func (r *Registry) lifecycle(ctx context.Context, id, action string, step func(context.Context) error) (err error) {
	ctx, span := r.tracer.StartAdapterSpan(ctx, id, action)
	defer func() {
		if rec := recover(); rec != nil {
			err = perrors.RecoverPanic(rec)
		}
		if err != nil {
			err = perrors.Wrap(err, fmt.Sprintf("adapter %s %s", id, action), perrors.WithDetail("adapter", id))
		}
		r.tracer.EndAdapterSpan(span, err)
		r.logger.AdapterEvent(id, action, err)
	}()
	return step(ctx)
}

// --- Watching ---

// Watch returns a channel of registry events. Slow readers lose events. The
// channel is closed by Close.
func (r *Registry) Watch() <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Event, 64)
	if r.closed {
		close(ch)
		return ch
	}
	r.watchers = append(r.watchers, ch)
	return ch
}

// Close closes every watch channel and rejects further registrations.
// Adapters are not disposed; call DisposeAll first.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// notifyWatchers sends an event to all watchers.
// Must be called with lock held.
func (r *Registry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
		}
	}
}
