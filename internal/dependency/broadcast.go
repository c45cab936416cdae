package dependency

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
	"github.com/hexalayer/bundle/pkg/logging"
)

// BroadcastFactory builds Broadcast handlers (spec §4.6 "Broadcast").
type BroadcastFactory struct{}

func (f *BroadcastFactory) Build(componentContext, instance interface{}, occurrence int) (handler.Handler, error) {
	ic, err := asInstanceContext(componentContext)
	if err != nil {
		return nil, err
	}
	req, ok := requirementFor(ic.FC, component.RequirementBroadcast, occurrence)
	if !ok {
		return nil, errMissingRequirement(HandlerIDBroadcast, occurrence)
	}
	h := &Broadcast{base: newBase(HandlerIDBroadcast, req, ic)}
	h.proxy = &BroadcastProxy{h: h}
	return h, nil
}

// Broadcast holds a set of bound references and injects a *BroadcastProxy
// instead of any one service (spec §4.6 "Broadcast. Holds a set of
// references; injects a callable proxy.").
type Broadcast struct {
	base

	mu      sync.Mutex
	entries map[int64]registryServiceEntry
	proxy   *BroadcastProxy
}

// registryServiceEntry pairs a reference with its fetched instance.
type registryServiceEntry struct {
	ref *registry.ServiceReference
	svc interface{}
}

func (h *Broadcast) Kinds() handler.Kind { return handler.KindDependency }

func (h *Broadcast) Start() error {
	h.mu.Lock()
	h.entries = make(map[int64]registryServiceEntry)
	h.mu.Unlock()

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
	h.ctx.SI.SetField(h.req.Field, h.proxy)
	h.reportCurrentValidity()
	return nil
}

func (h *Broadcast) Stop() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[int64]registryServiceEntry)
	h.mu.Unlock()
	for _, e := range entries {
		h.bundle().UngetService(e.ref, e.svc)
	}
}

func (h *Broadcast) onEvent(event registry.ServiceEvent) {
	switch event.Kind {
	case registry.EventRegistered:
		h.handleArrival(event.Reference)
	case registry.EventUnregistering:
		h.handleDeparture(event.Reference)
	case registry.EventModified, registry.EventModifiedEndmatch:
		h.handleModified(event)
	}
}

func (h *Broadcast) handleArrival(ref *registry.ServiceReference) {
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

func (h *Broadcast) tryBind(ref *registry.ServiceReference) bool {
	svc, ok := fetchService(h.bundle(), ref)
	if !ok {
		return false
	}
	h.mu.Lock()
	h.entries[ref.ServiceID()] = registryServiceEntry{ref: ref, svc: svc}
	h.mu.Unlock()
	h.ctx.SI.InvokeFieldCallback(h.req.BindCallback, svc, ref)
	return true
}

func (h *Broadcast) handleDeparture(ref *registry.ServiceReference) {
	h.mu.Lock()
	entry, bound := h.entries[ref.ServiceID()]
	if bound {
		delete(h.entries, ref.ServiceID())
	}
	h.mu.Unlock()
	if !bound {
		return
	}
	h.bundle().UngetService(ref, entry.svc)
	h.ctx.SI.InvokeFieldCallback(h.req.UnbindCallback, entry.svc, ref)
	h.reportCurrentValidity()
}

func (h *Broadcast) handleModified(event registry.ServiceEvent) {
	h.mu.Lock()
	entry, bound := h.entries[event.Reference.ServiceID()]
	h.mu.Unlock()
	if bound {
		h.ctx.SI.InvokeFieldCallback(h.req.UpdateCallback, entry.svc, event.Reference, event.OldProps)
		return
	}
	h.handleArrival(event.Reference)
}

func (h *Broadcast) reportCurrentValidity() {
	h.mu.Lock()
	count := len(h.entries)
	h.mu.Unlock()
	h.reportValidity(h.satisfiedWith(count))
}

func (h *Broadcast) targets() []interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]interface{}, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, e.svc)
	}
	return out
}

func (h *Broadcast) bound() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries) > 0
}

// BroadcastProxy is injected in place of a Broadcast requirement's field.
// Invoke dispatches a method call by name to every currently-bound
// service, discarding return values; Attr returns a sub-proxy scoped to a
// dot-path prefix so chained calls (svc.Attr("foo").Invoke("bar", x)
// standing in for svc.foo.bar(x)) broadcast the same way.
type BroadcastProxy struct {
	h      *Broadcast
	prefix []string
}

// Attr returns a sub-proxy representing a chained attribute access
// (spec §4.6 "attribute access returns a recursive sub-proxy").
func (p *BroadcastProxy) Attr(name string) *BroadcastProxy {
	next := make([]string, len(p.prefix)+1)
	copy(next, p.prefix)
	next[len(p.prefix)] = name
	return &BroadcastProxy{h: p.h, prefix: next}
}

// Bound reports whether at least one service is currently bound (spec
// §4.6 "__bool__ on the proxy reports whether at least one service is
// bound").
func (p *BroadcastProxy) Bound() bool { return p.h.bound() }

// Invoke calls method (resolved by walking p.prefix then method via
// reflection) on every currently-bound service with args, discarding
// return values other than a trailing non-nil error, which counts as that
// target's failure (spec §4.6 "return values are discarded"). Per-target
// panics/errors are swallowed when the requirement's MuffleExceptions
// flag is set and logged when TraceExceptions is set; otherwise the
// first error encountered is returned.
func (p *BroadcastProxy) Invoke(method string, args ...interface{}) error {
	req := p.h.req
	var firstErr error
	for _, target := range p.h.targets() {
		err := callMethod(target, append(p.prefix, method), args)
		if err == nil {
			continue
		}
		if req.TraceExceptions {
			logging.Error("dependency.broadcast", err, "broadcast call %q failed on target %T", method, target)
		}
		if !req.MuffleExceptions && firstErr == nil {
			firstErr = err
		}
	}
	if req.MuffleExceptions {
		return nil
	}
	return firstErr
}

// callMethod walks path on target via reflection: every segment but the
// last is called as a zero-argument method whose first result is the next
// receiver, and the final segment is invoked as a method with args. A
// non-nil error returned last by the final method is returned.
func callMethod(target interface{}, path []string, args []interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broadcast target panicked: %v", r)
		}
	}()

	v := reflect.ValueOf(target)
	for _, segment := range path[:len(path)-1] {
		v = v.MethodByName(segment)
		if !v.IsValid() {
			return fmt.Errorf("broadcast: no method %q on %T", segment, target)
		}
		out := v.Call(nil)
		if len(out) == 0 {
			return fmt.Errorf("broadcast: chained call %q returned no value", segment)
		}
		v = out[0]
	}

	method := v.MethodByName(path[len(path)-1])
	if !method.IsValid() {
		return fmt.Errorf("broadcast: no method %q on %T", path[len(path)-1], target)
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	out := method.Call(in)
	if n := len(out); n > 0 {
		if e, ok := out[n-1].Interface().(error); ok && e != nil {
			return e
		}
	}
	return nil
}
