package dependency

import (
	"fmt"
	"sync"

	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
)

// SimpleFactory builds Simple handlers (spec §4.6 "Simple").
type SimpleFactory struct{}

func (f *SimpleFactory) Build(componentContext, instance interface{}, occurrence int) (handler.Handler, error) {
	ic, err := asInstanceContext(componentContext)
	if err != nil {
		return nil, err
	}
	req, ok := requirementFor(ic.FC, component.RequirementSimple, occurrence)
	if !ok {
		return nil, errMissingRequirement(HandlerIDSimple, occurrence)
	}
	return &Simple{base: newBase(HandlerIDSimple, req, ic)}, nil
}

// Simple holds at most one bound reference and injects it into the
// declared field (spec §4.6 "Simple. Holds one reference; injects it into
// the field.").
type Simple struct {
	base

	mu      sync.Mutex
	bound   *registry.ServiceReference
	service interface{}
	pending *registry.ServiceReference // immediate-rebind candidate, held but not bound
}

func (h *Simple) Kinds() handler.Kind { return handler.KindDependency }

// Start subscribes to the requirement's specification/filter and runs the
// first satisfaction pass against whatever already matches.
func (h *Simple) Start() error {
	if err := h.bundle().AddServiceListener(h.req.Specification, h.req.Filter, h.onEvent); err != nil {
		return err
	}
	refs, err := h.bundle().GetServiceReferences(h.req.Specification, h.req.Filter)
	if err == nil && len(refs) > 0 {
		h.bindRef(refs[0])
	}
	h.reportCurrentValidity()
	return nil
}

func (h *Simple) Stop() {
	h.mu.Lock()
	ref, svc := h.bound, h.service
	h.bound, h.service, h.pending = nil, nil, nil
	h.mu.Unlock()
	if ref != nil {
		h.bundle().UngetService(ref, svc)
	}
}

func (h *Simple) onEvent(event registry.ServiceEvent) {
	switch event.Kind {
	case registry.EventRegistered:
		h.handleArrival(event.Reference)
	case registry.EventUnregistering:
		h.handleDeparture(event.Reference)
	case registry.EventModified, registry.EventModifiedEndmatch:
		h.handleModified(event)
	}
}

func (h *Simple) handleArrival(ref *registry.ServiceReference) {
	h.mu.Lock()
	alreadyBound := h.bound != nil
	h.mu.Unlock()
	if alreadyBound {
		return
	}
	h.bindRef(ref)
	h.reportCurrentValidity()
}

func (h *Simple) handleDeparture(ref *registry.ServiceReference) {
	h.mu.Lock()
	if h.bound == nil || h.bound.ServiceID() != ref.ServiceID() {
		h.mu.Unlock()
		return
	}
	svc := h.service
	h.bound, h.service = nil, nil
	immediateRebind := h.req.ImmediateRebind
	h.mu.Unlock()

	h.bundle().UngetService(ref, svc)
	h.ctx.SI.SetField(h.req.Field, nil)
	h.ctx.SI.InvokeFieldCallback(h.req.UnbindCallback, svc, ref)

	if immediateRebind {
		// ref is still indexed while UNREGISTERING is delivered, so skip it.
		refs, _ := h.bundle().GetServiceReferences(h.req.Specification, h.req.Filter)
		for _, replacement := range refs {
			if replacement.ServiceID() == ref.ServiceID() {
				continue
			}
			h.mu.Lock()
			h.pending = replacement
			h.mu.Unlock()
			h.bindRef(replacement)
			break
		}
	}
	h.reportCurrentValidity()
}

func (h *Simple) handleModified(event registry.ServiceEvent) {
	h.mu.Lock()
	isBound := h.bound != nil && h.bound.ServiceID() == event.Reference.ServiceID()
	h.mu.Unlock()
	if isBound {
		h.ctx.SI.InvokeFieldCallback(h.req.UpdateCallback, h.service, event.Reference, event.OldProps)
		return
	}
	h.handleArrival(event.Reference)
}

func (h *Simple) bindRef(ref *registry.ServiceReference) {
	svc, ok := fetchService(h.bundle(), ref)
	if !ok {
		return
	}
	h.mu.Lock()
	h.bound = ref
	h.service = svc
	h.pending = nil
	h.mu.Unlock()

	h.ctx.SI.SetField(h.req.Field, svc)
	h.ctx.SI.InvokeFieldCallback(h.req.BindCallback, svc, ref)
}

func (h *Simple) reportCurrentValidity() {
	h.mu.Lock()
	satisfied := h.req.Optional || h.bound != nil || h.pending != nil
	h.mu.Unlock()
	h.reportValidity(satisfied)
}

func errMissingRequirement(id string, occurrence int) error {
	return fmt.Errorf("dependency: no requirement for handler %q at occurrence %d", id, occurrence)
}
