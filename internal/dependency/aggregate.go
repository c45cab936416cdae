package dependency

import (
	"sort"
	"sync"

	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
)

// AggregateFactory builds Aggregate handlers (spec §4.6 "Aggregate").
type AggregateFactory struct{}

func (f *AggregateFactory) Build(componentContext, instance interface{}, occurrence int) (handler.Handler, error) {
	ic, err := asInstanceContext(componentContext)
	if err != nil {
		return nil, err
	}
	req, ok := requirementFor(ic.FC, component.RequirementAggregate, occurrence)
	if !ok {
		return nil, errMissingRequirement(HandlerIDAggregate, occurrence)
	}
	return newAggregate(HandlerIDAggregate, req, ic), nil
}

func newAggregate(handlerID string, req component.RequirementDecl, ic *component.InstanceContext) *Aggregate {
	return &Aggregate{
		base:     newBase(handlerID, req, ic),
		services: make(map[int64]aggregateEntry),
	}
}

type aggregateEntry struct {
	ref *registry.ServiceReference
	svc interface{}
}

// Aggregate holds a set of bound references and injects a copy of the
// bound service list (spec §4.6 "Aggregate"). It is valid when optional or
// when at least one service is bound.
type Aggregate struct {
	base

	mu       sync.Mutex
	services map[int64]aggregateEntry
}

func (h *Aggregate) Kinds() handler.Kind { return handler.KindDependency }

// Start subscribes to the requirement's specification/filter, then performs
// a best-effort sweep binding every currently-matching service in SR order.
// If a field-scoped bind callback fails partway through, the member that
// failed is rolled back (never injected) and the sweep stops without
// attempting later matches (spec §4.5 "Failure semantics").
func (h *Aggregate) Start() error {
	if err := h.bundle().AddServiceListener(h.req.Specification, h.req.Filter, h.onEvent); err != nil {
		return err
	}
	refs, err := h.bundle().GetServiceReferences(h.req.Specification, h.req.Filter)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if bindErr := h.tryBind(ref); bindErr != nil {
			h.reportCurrentValidity()
			return bindErr
		}
	}
	h.reportCurrentValidity()
	return nil
}

func (h *Aggregate) Stop() {
	h.mu.Lock()
	entries := h.services
	h.services = make(map[int64]aggregateEntry)
	h.mu.Unlock()
	for _, e := range entries {
		h.bundle().UngetService(e.ref, e.svc)
	}
}

func (h *Aggregate) onEvent(event registry.ServiceEvent) {
	switch event.Kind {
	case registry.EventRegistered:
		h.handleArrival(event.Reference)
	case registry.EventUnregistering:
		h.handleDeparture(event.Reference)
	case registry.EventModified, registry.EventModifiedEndmatch:
		h.handleModified(event)
	}
}

func (h *Aggregate) handleArrival(ref *registry.ServiceReference) {
	h.mu.Lock()
	_, already := h.services[ref.ServiceID()]
	h.mu.Unlock()
	if already {
		return
	}
	if err := h.tryBind(ref); err != nil {
		h.ctx.SI.MarkErroneous(err)
		h.reportCurrentValidity()
		return
	}
	h.reportCurrentValidity()
}

// tryBind fetches ref's service, registers it, injects the updated list,
// then invokes the field-scoped bind callback. A failing callback rolls
// the member back out before returning the error (spec §4.5).
func (h *Aggregate) tryBind(ref *registry.ServiceReference) error {
	svc, ok := fetchService(h.bundle(), ref)
	if !ok {
		return nil
	}
	h.mu.Lock()
	h.services[ref.ServiceID()] = aggregateEntry{ref: ref, svc: svc}
	h.mu.Unlock()
	h.injectField()

	if err := h.ctx.SI.InvokeBindCallback(h.req.BindCallback, svc, ref); err != nil {
		h.mu.Lock()
		delete(h.services, ref.ServiceID())
		h.mu.Unlock()
		h.injectField()
		h.bundle().UngetService(ref, svc)
		return err
	}
	return nil
}

func (h *Aggregate) handleDeparture(ref *registry.ServiceReference) {
	h.mu.Lock()
	entry, bound := h.services[ref.ServiceID()]
	if bound {
		delete(h.services, ref.ServiceID())
	}
	h.mu.Unlock()
	if !bound {
		return
	}

	h.injectField()
	h.bundle().UngetService(ref, entry.svc)
	h.ctx.SI.InvokeFieldCallback(h.req.UnbindCallback, entry.svc, ref)
	h.reportCurrentValidity()
}

func (h *Aggregate) handleModified(event registry.ServiceEvent) {
	h.mu.Lock()
	entry, bound := h.services[event.Reference.ServiceID()]
	h.mu.Unlock()
	if bound {
		h.ctx.SI.InvokeFieldCallback(h.req.UpdateCallback, entry.svc, event.Reference, event.OldProps)
		return
	}
	h.handleArrival(event.Reference)
}

// injectField assigns the current bound-service list, ordered by SR
// priority, into the declared field.
func (h *Aggregate) injectField() {
	h.mu.Lock()
	entries := make([]aggregateEntry, 0, len(h.services))
	for _, e := range h.services {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ref.Less(entries[j].ref) })
	list := make([]interface{}, len(entries))
	for i, e := range entries {
		list[i] = e.svc
	}
	h.ctx.SI.SetField(h.req.Field, list)
}

func (h *Aggregate) reportCurrentValidity() {
	h.mu.Lock()
	count := len(h.services)
	h.mu.Unlock()
	h.reportValidity(h.satisfiedWith(count))
}
