package dependency

import (
	"sort"
	"sync"

	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
)

// MapFactory builds Map handlers (spec §4.6 "Map (keyed)").
type MapFactory struct{}

func (f *MapFactory) Build(componentContext, instance interface{}, occurrence int) (handler.Handler, error) {
	ic, err := asInstanceContext(componentContext)
	if err != nil {
		return nil, err
	}
	req, ok := requirementFor(ic.FC, component.RequirementMap, occurrence)
	if !ok {
		return nil, errMissingRequirement(HandlerIDMap, occurrence)
	}
	return &Map{
		base:    newBase(HandlerIDMap, req, ic),
		entries: make(map[int64]mapEntry),
	}, nil
}

type mapEntry struct {
	key interface{}
	ref *registry.ServiceReference
	svc interface{}
}

// noKey is the map key used for a service missing the configured key
// property when req.AllowNoneKey is set (spec §4.6 "allow_none").
type noKey struct{}

// Map keys each bound service by a configured service property, injecting
// a key -> service mapping (or key -> []service in aggregate mode). Services
// missing the key property are skipped unless AllowNoneKey is set, in which
// case they are grouped under the noKey{} key (spec §4.6 "Map (keyed)").
type Map struct {
	base

	mu      sync.Mutex
	entries map[int64]mapEntry
}

func (h *Map) Kinds() handler.Kind { return handler.KindDependency }

func (h *Map) Start() error {
	if err := h.bundle().AddServiceListener(h.req.Specification, h.req.Filter, h.onEvent); err != nil {
		return err
	}
	refs, err := h.bundle().GetServiceReferences(h.req.Specification, h.req.Filter)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		h.tryBind(ref)
	}
	h.reportCurrentValidity()
	return nil
}

func (h *Map) Stop() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[int64]mapEntry)
	h.mu.Unlock()
	for _, e := range entries {
		h.bundle().UngetService(e.ref, e.svc)
	}
}

func (h *Map) onEvent(event registry.ServiceEvent) {
	switch event.Kind {
	case registry.EventRegistered:
		h.handleArrival(event.Reference)
	case registry.EventUnregistering:
		h.handleDeparture(event.Reference)
	case registry.EventModified, registry.EventModifiedEndmatch:
		h.handleModified(event)
	}
}

func (h *Map) keyFor(ref *registry.ServiceReference) (interface{}, bool) {
	if h.req.Key == "" {
		return noKey{}, true
	}
	v, ok := ref.Properties()[h.req.Key]
	if !ok {
		if h.req.AllowNoneKey {
			return noKey{}, true
		}
		return nil, false
	}
	return v, true
}

func (h *Map) handleArrival(ref *registry.ServiceReference) {
	h.mu.Lock()
	_, already := h.entries[ref.ServiceID()]
	h.mu.Unlock()
	if already {
		return
	}
	if h.tryBind(ref) {
		h.reportCurrentValidity()
	}
}

func (h *Map) tryBind(ref *registry.ServiceReference) bool {
	key, ok := h.keyFor(ref)
	if !ok {
		return false
	}
	svc, ok := fetchService(h.bundle(), ref)
	if !ok {
		return false
	}
	h.mu.Lock()
	h.entries[ref.ServiceID()] = mapEntry{key: key, ref: ref, svc: svc}
	h.mu.Unlock()
	h.injectField()
	h.ctx.SI.InvokeFieldCallback(h.req.BindCallback, svc, ref)
	return true
}

func (h *Map) handleDeparture(ref *registry.ServiceReference) {
	h.mu.Lock()
	entry, bound := h.entries[ref.ServiceID()]
	if bound {
		delete(h.entries, ref.ServiceID())
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

func (h *Map) handleModified(event registry.ServiceEvent) {
	h.mu.Lock()
	entry, bound := h.entries[event.Reference.ServiceID()]
	h.mu.Unlock()
	if bound {
		h.ctx.SI.InvokeFieldCallback(h.req.UpdateCallback, entry.svc, event.Reference, event.OldProps)
		return
	}
	h.handleArrival(event.Reference)
}

// injectField rebuilds the key -> service (or key -> []service) mapping and
// assigns it to the declared field, entries within a key ordered by SR
// priority.
func (h *Map) injectField() {
	h.mu.Lock()
	entries := make([]mapEntry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	if h.req.Aggregate {
		grouped := make(map[interface{}][]mapEntry)
		for _, e := range entries {
			grouped[e.key] = append(grouped[e.key], e)
		}
		out := make(map[interface{}][]interface{}, len(grouped))
		for k, list := range grouped {
			sort.SliceStable(list, func(i, j int) bool { return list[i].ref.Less(list[j].ref) })
			svcs := make([]interface{}, len(list))
			for i, e := range list {
				svcs[i] = e.svc
			}
			out[k] = svcs
		}
		h.ctx.SI.SetField(h.req.Field, out)
		return
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ref.Less(entries[j].ref) })
	out := make(map[interface{}]interface{}, len(entries))
	for _, e := range entries {
		if _, exists := out[e.key]; !exists {
			out[e.key] = e.svc
		}
	}
	h.ctx.SI.SetField(h.req.Field, out)
}

func (h *Map) reportCurrentValidity() {
	h.mu.Lock()
	count := len(h.entries)
	h.mu.Unlock()
	h.reportValidity(h.satisfiedWith(count))
}
