// Package provider implements the service-provider handler (spec §4.7):
// registers the component instance itself on behalf of the factory, under
// the specification lists declared in its metadata, gated by a boolean
// controller. Grounded on the publish side of
// _examples/giantswarm-muster/internal/services/registry_adapter.go, which
// adapts an internal object into an externally-registered handle.
package provider

import (
	"fmt"
	"sync"

	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
	"github.com/hexalayer/bundle/pkg/logging"
)

// HandlerID is the single handler-id component.NewFactoryContext derives
// for any factory with a non-empty Provides list (see
// component.handlerIDFor's "provider" constant).
const HandlerID = "provider"

// Factory builds the one Provider handler a factory with Provides entries
// needs — every declared ProvidesDecl is handled by the same instance.
type Factory struct{}

func (f *Factory) Build(componentContext, instance interface{}, occurrence int) (handler.Handler, error) {
	ic, ok := componentContext.(*component.InstanceContext)
	if !ok {
		return nil, fmt.Errorf("provider: unexpected component context type %T", componentContext)
	}
	return &Provider{ctx: ic}, nil
}

type providerEntry struct {
	decl       component.ProvidesDecl
	registered bool
	reg        *registry.Registration
}

// Provider registers ctx.SI.Instance() under each declared specification
// list once the instance is validated and its controller (if any) is on
// (spec §4.7 "post_validate turns on the validated flag; combined with
// controller-on and a non-empty specification list, the service is
// registered"). The controller is backed by the instance's property map
// (the same mechanism the variable-filter handler renders its template
// against) rather than a decorator-injected getter/setter, which has no
// direct analogue in a statically-typed language.
type Provider struct {
	ctx *component.InstanceContext

	mu        sync.Mutex
	validated bool
	entries   []*providerEntry
}

func (h *Provider) ID() string          { return HandlerID }
func (h *Provider) ValidityKey() string { return HandlerID }
func (h *Provider) Kinds() handler.Kind { return handler.KindServiceProvider | handler.KindController }

func (h *Provider) Start() error {
	h.mu.Lock()
	h.entries = make([]*providerEntry, len(h.ctx.FC.Descriptor.Provides))
	for i, decl := range h.ctx.FC.Descriptor.Provides {
		h.entries[i] = &providerEntry{decl: decl}
	}
	h.mu.Unlock()

	h.ctx.SI.WatchProperties(h.onPropertyChange)
	// The provider handler never gates overall validity itself (only
	// dependency handlers do, spec §4.5); report satisfied once so the
	// instance manager's all-handlers-satisfied check isn't stuck waiting
	// on a handler kind that has nothing to report.
	h.ctx.SI.HandleDependencyValidity(HandlerID, true)
	return nil
}

func (h *Provider) Stop() {
	h.mu.Lock()
	entries := h.entries
	h.entries = nil
	h.mu.Unlock()
	for _, e := range entries {
		h.unregister(e)
	}
}

// controllerOn reports whether e's gating controller is enabled: true when
// the decl declares no controller property, or when the property is unset
// (defaults to on), or when it holds true.
func (h *Provider) controllerOn(e *providerEntry) bool {
	if e.decl.Controller == "" {
		return true
	}
	v, ok := h.ctx.SI.Property(e.decl.Controller)
	if !ok {
		return true
	}
	b, ok := v.(bool)
	return !ok || b
}

// PostValidate is invoked by the instance manager once the instance
// transitions to VALID (spec §4.7's post_validate flag), and registers
// every entry whose controller is currently on.
func (h *Provider) PostValidate() {
	h.mu.Lock()
	h.validated = true
	entries := append([]*providerEntry(nil), h.entries...)
	h.mu.Unlock()

	for _, e := range entries {
		if len(e.decl.Specifications) > 0 && h.controllerOn(e) {
			h.register(e)
		}
	}
}

// PreInvalidate is invoked before the instance's Invalidate callback runs
// (spec §4.7 "pre_invalidate forces unregister"), and withdraws every
// currently-registered entry.
func (h *Provider) PreInvalidate() {
	h.mu.Lock()
	h.validated = false
	entries := append([]*providerEntry(nil), h.entries...)
	h.mu.Unlock()

	for _, e := range entries {
		h.unregister(e)
	}
}

// onPropertyChange forwards every property change to each registered
// entry's registration (spec §4.7 "Property changes on the component are
// forwarded via set_properties on the registration"), and re-evaluates
// controller-gated entries when the changed property is a controller.
func (h *Provider) onPropertyChange(name string, value interface{}) {
	props := h.ctx.SI.Properties()

	h.mu.Lock()
	validated := h.validated
	entries := append([]*providerEntry(nil), h.entries...)
	h.mu.Unlock()

	for _, e := range entries {
		if e.registered {
			e.reg.SetProperties(props)
		}
		if e.decl.Controller != name {
			continue
		}
		on := h.controllerOn(e)
		switch {
		case validated && on && !e.registered:
			h.register(e)
		case !on && e.registered:
			h.unregister(e)
		}
	}
}

func (h *Provider) register(e *providerEntry) {
	reg, err := h.ctx.Bundle.RegisterService(e.decl.Specifications, h.ctx.SI.Properties(), h.ctx.SI.Instance(), nil, registry.ScopeSingleton)
	if err != nil {
		logging.Error("provider", err, "registering specifications %v", e.decl.Specifications)
		return
	}
	h.mu.Lock()
	e.reg = reg
	e.registered = true
	h.mu.Unlock()
}

// unregister withdraws e's registration if any, logging rather than
// propagating a failure (spec §4.7 "a BundleException during unregister
// is logged, not re-raised").
func (h *Provider) unregister(e *providerEntry) {
	h.mu.Lock()
	reg := e.reg
	wasRegistered := e.registered
	e.reg = nil
	e.registered = false
	h.mu.Unlock()
	if !wasRegistered {
		return
	}
	if err := reg.Unregister(); err != nil {
		logging.Error("provider", err, "unregistering specifications %v", e.decl.Specifications)
	}
}
