package dependency

import (
	"sync"

	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
)

// BestFactory builds Best handlers (spec §4.6 "Best").
type BestFactory struct{}

func (f *BestFactory) Build(componentContext, instance interface{}, occurrence int) (handler.Handler, error) {
	ic, err := asInstanceContext(componentContext)
	if err != nil {
		return nil, err
	}
	req, ok := requirementFor(ic.FC, component.RequirementBest, occurrence)
	if !ok {
		return nil, errMissingRequirement(HandlerIDBest, occurrence)
	}
	return &Best{base: newBase(HandlerIDBest, req, ic)}, nil
}

// Best always holds the highest-ranking matching service, ties broken by
// lowest service id (spec §4.6 "Best", §8 invariant 5). Arrival of a
// higher-priority service swaps the bound one: unbind the old, bind the new.
type Best struct {
	base

	mu      sync.Mutex
	bound   *registry.ServiceReference
	service interface{}
}

func (h *Best) Kinds() handler.Kind { return handler.KindDependency }

func (h *Best) Start() error {
	if err := h.bundle().AddServiceListener(h.req.Specification, h.req.Filter, h.onEvent); err != nil {
		return err
	}
	refs, err := h.bundle().GetServiceReferences(h.req.Specification, h.req.Filter)
	if err == nil && len(refs) > 0 {
		h.bindRef(refs[0]) // registry returns SR-ordered: (-ranking, +id)
	}
	h.reportCurrentValidity()
	return nil
}

func (h *Best) Stop() {
	h.mu.Lock()
	ref, svc := h.bound, h.service
	h.bound, h.service = nil, nil
	h.mu.Unlock()
	if ref != nil {
		h.bundle().UngetService(ref, svc)
	}
}

func (h *Best) onEvent(event registry.ServiceEvent) {
	switch event.Kind {
	case registry.EventRegistered:
		h.handleArrival(event.Reference)
	case registry.EventUnregistering:
		h.handleDeparture(event.Reference)
	case registry.EventModified, registry.EventModifiedEndmatch:
		h.handleModified(event)
	}
}

// handleArrival swaps in ref if it now outranks the bound reference (or
// nothing is bound yet): the new reference is bound first so the field
// never sees a gap, then the old one is unbound (spec §4.6 "Best" — "no
// invalidation window if possible").
func (h *Best) handleArrival(ref *registry.ServiceReference) {
	h.mu.Lock()
	oldRef, oldSvc := h.bound, h.service
	h.mu.Unlock()
	if oldRef != nil && !ref.Less(oldRef) {
		return
	}
	h.bindRef(ref)
	if oldRef != nil {
		h.bundle().UngetService(oldRef, oldSvc)
		h.ctx.SI.InvokeFieldCallback(h.req.UnbindCallback, oldSvc, oldRef)
	}
	h.reportCurrentValidity()
}

func (h *Best) handleDeparture(ref *registry.ServiceReference) {
	h.mu.Lock()
	if h.bound == nil || h.bound.ServiceID() != ref.ServiceID() {
		h.mu.Unlock()
		return
	}
	svc := h.service
	h.bound, h.service = nil, nil
	h.mu.Unlock()

	h.bundle().UngetService(ref, svc)
	h.ctx.SI.SetField(h.req.Field, nil)
	h.ctx.SI.InvokeFieldCallback(h.req.UnbindCallback, svc, ref)

	replacement := h.bestRemainingExcluding(ref.ServiceID())
	if replacement != nil {
		h.bindRef(replacement)
	}
	h.reportCurrentValidity()
}

// bestRemainingExcluding resolves the next-best match, excluding excludeID
// (the departing reference may still be indexed while UNREGISTERING is
// being delivered; spec §4.2 "fires before the reference is removed").
func (h *Best) bestRemainingExcluding(excludeID int64) *registry.ServiceReference {
	refs, err := h.bundle().GetServiceReferences(h.req.Specification, h.req.Filter)
	if err != nil {
		return nil
	}
	for _, r := range refs {
		if r.ServiceID() != excludeID {
			return r
		}
	}
	return nil
}

func (h *Best) handleModified(event registry.ServiceEvent) {
	h.mu.Lock()
	isBound := h.bound != nil && h.bound.ServiceID() == event.Reference.ServiceID()
	h.mu.Unlock()
	if isBound {
		h.ctx.SI.InvokeFieldCallback(h.req.UpdateCallback, h.service, event.Reference, event.OldProps)
		return
	}
	h.handleArrival(event.Reference)
}

func (h *Best) bindRef(ref *registry.ServiceReference) {
	svc, ok := fetchService(h.bundle(), ref)
	if !ok {
		return
	}
	h.mu.Lock()
	h.bound = ref
	h.service = svc
	h.mu.Unlock()

	h.ctx.SI.SetField(h.req.Field, svc)
	h.ctx.SI.InvokeFieldCallback(h.req.BindCallback, svc, ref)
}

func (h *Best) reportCurrentValidity() {
	h.mu.Lock()
	bound := h.bound != nil
	h.mu.Unlock()
	h.reportValidity(h.req.Optional || bound)
}
