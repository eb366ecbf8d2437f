package extension

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/mattjoyce/quern/internal/log"
)

var (
	// ErrNilExtension is returned when registering a nil extension.
	ErrNilExtension = errors.New("nil extension")
	// ErrDuplicateID is returned when a different extension already uses the id.
	ErrDuplicateID = errors.New("duplicate extension id")
)

// ChangeKind tells observers what happened.
type ChangeKind int

const (
	Registered ChangeKind = iota
	Unregistered
)

// String returns a string representation of the change kind.
func (k ChangeKind) String() string {
	if k == Unregistered {
		return "unregistered"
	}
	return "registered"
}

// Change is delivered to observers after every Register or Unregister.
type Change struct {
	Kind      ChangeKind
	Extension Extension
}

// Registry is the process wide set of extensions.
//
// Observers run synchronously, in the order changes were applied. They must
// not call Register or Unregister.
type Registry struct {
	mu       sync.Mutex
	ordered  []Extension
	byID     map[string]Extension
	handlers []QueryHandler
	fallback []FallbackProvider
	provider []PluginProvider
	frontend []Frontend

	notifyMu  sync.Mutex
	nextObs   int
	observers map[int]func(Change)
	obsOrder  []int

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]Extension),
		observers: make(map[int]func(Change)),
		logger:    log.WithComponent("extension"),
	}
}

// Register adds ext. Registering an extension that is already present
// only notifies observers again.
func (r *Registry) Register(ext Extension) error {
	if ext == nil {
		return ErrNilExtension
	}
	id := ext.ID()

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if cur, ok := r.byID[id]; ok {
		if !same(cur, ext) {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
	} else {
		r.byID[id] = ext
		r.ordered = append(r.ordered, ext)
		if h, ok := ext.(QueryHandler); ok {
			r.handlers = append(r.handlers, h)
		}
		if f, ok := ext.(FallbackProvider); ok {
			r.fallback = append(r.fallback, f)
		}
		if p, ok := ext.(PluginProvider); ok {
			r.provider = append(r.provider, p)
		}
		if f, ok := ext.(Frontend); ok {
			r.frontend = append(r.frontend, f)
		}
	}
	r.mu.Unlock()

	r.logger.Debug("extension registered", "extension", id)
	r.notifyLocked(Change{Kind: Registered, Extension: ext})
	return nil
}

// Unregister removes ext. Removing an absent extension only notifies.
func (r *Registry) Unregister(ext Extension) {
	if ext == nil {
		return
	}
	id := ext.ID()

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if cur, ok := r.byID[id]; ok && same(cur, ext) {
		delete(r.byID, id)
		r.ordered = slices.DeleteFunc(r.ordered, func(e Extension) bool { return e.ID() == id })
		r.handlers = slices.DeleteFunc(r.handlers, func(e QueryHandler) bool { return e.ID() == id })
		r.fallback = slices.DeleteFunc(r.fallback, func(e FallbackProvider) bool { return e.ID() == id })
		r.provider = slices.DeleteFunc(r.provider, func(e PluginProvider) bool { return e.ID() == id })
		r.frontend = slices.DeleteFunc(r.frontend, func(e Frontend) bool { return e.ID() == id })
	}
	r.mu.Unlock()

	r.logger.Debug("extension unregistered", "extension", id)
	r.notifyLocked(Change{Kind: Unregistered, Extension: ext})
}

// same reports whether a and b are the registered extension. Ids are
// already equal; values of a type that cannot be compared match on type.
func same(a, b Extension) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if !va.Comparable() || !vb.Comparable() {
		return true
	}
	return a == b
}

// Subscribe adds an observer. The returned func removes it.
func (r *Registry) Subscribe(fn func(Change)) func() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.obsOrder = append(r.obsOrder, id)

	return func() {
		r.notifyMu.Lock()
		defer r.notifyMu.Unlock()
		delete(r.observers, id)
		r.obsOrder = slices.DeleteFunc(r.obsOrder, func(v int) bool { return v == id })
	}
}

func (r *Registry) notifyLocked(c Change) {
	for _, id := range r.obsOrder {
		r.observers[id](c)
	}
}

// Get returns the extension registered under id.
func (r *Registry) Get(id string) (Extension, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ext, ok := r.byID[id]
	return ext, ok
}

// Extensions returns all extensions in registration order.
func (r *Registry) Extensions() []Extension {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ordered)
}

// QueryHandlers returns the query handlers in registration order.
func (r *Registry) QueryHandlers() []QueryHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.handlers)
}

// FallbackProviders returns the fallback providers in registration order.
func (r *Registry) FallbackProviders() []FallbackProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.fallback)
}

// PluginProviders returns the plugin providers in registration order.
func (r *Registry) PluginProviders() []PluginProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.provider)
}

// Frontends returns the frontends in registration order.
func (r *Registry) Frontends() []Frontend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.frontend)
}
