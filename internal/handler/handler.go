// Package handler implements the handler factories registry (spec §2
// component E): a map from handler-ID to the factory that produces a
// per-instance handler object for that id.
package handler

import "sync"

// Kind enumerates what a handler does, per spec §4.5 "each handler
// declares its kinds". A handler may declare more than one.
type Kind int

const (
	KindDependency Kind = 1 << iota
	KindServiceProvider
	KindController
	KindProperty
)

func (k Kind) Has(other Kind) bool { return k&other != 0 }

// Handler is the common interface every handler kind implements: the
// manager starts it (it may subscribe to the dispatcher) and stops it when
// the instance is killed; a transition to INVALID leaves it running.
type Handler interface {
	ID() string
	// ValidityKey identifies this particular handler instance (not just its
	// kind) for the owning StoredInstance's per-handler validity tracking.
	// ID() alone is not unique: a factory may declare several requirements
	// of the same kind on different fields, and every such handler shares
	// one registered Factory and therefore one ID() (spec §6 "each bound to
	// a field name"). Handlers that can only ever occur once per instance
	// (the service-provider handler) may return the same value as ID().
	ValidityKey() string
	Kinds() Kind
	Start() error
	Stop()
}

// Factory builds one Handler per component instance. context and instance
// are passed as interface{} here to avoid an import cycle with
// internal/component, which depends on this package, not the reverse;
// internal/component casts them back to its own *InstanceContext/instance
// types. occurrence counts, starting at 0, how many handlers this same id
// has already been asked to build for this componentContext — a factory
// descriptor may declare several requirements of the same kind (e.g. two
// "simple" dependencies on different fields), and occurrence is how the
// factory tells them apart since they share one registered Factory.
type Factory interface {
	Build(componentContext interface{}, instance interface{}, occurrence int) (Handler, error)
}

// Registry maps handler-ID to the Factory that can build it (spec §4.5
// "the manager asks each registered handler factory whose handler-ID
// appears in the factory context to build a handler").
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty handler factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates id with factory, overwriting any previous factory
// registered under the same id.
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// Unregister removes the factory associated with id, if any.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, id)
}

// Lookup returns the factory registered for id.
func (r *Registry) Lookup(id string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	return f, ok
}

// BuildAll builds one Handler per id present in both ids and the registry,
// in the order ids was given, skipping (and never erroring on) any id
// the registry does not recognize — an unrecognized handler-ID in a
// factory context is a configuration detail the component layer surfaces,
// not this package's concern.
func (r *Registry) BuildAll(ids []string, componentContext, instance interface{}) ([]Handler, error) {
	out := make([]Handler, 0, len(ids))
	occurrences := make(map[string]int, len(ids))
	for _, id := range ids {
		factory, ok := r.Lookup(id)
		if !ok {
			continue
		}
		occurrence := occurrences[id]
		occurrences[id] = occurrence + 1
		h, err := factory.Build(componentContext, instance, occurrence)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
