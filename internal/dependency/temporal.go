package dependency

import (
	"reflect"
	"sync"
	"time"

	"github.com/hexalayer/bundle/internal/bundleerr"
	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
)

const defaultTemporalTimeout = 10 * time.Second

// TemporalFactory builds Temporal handlers (spec §4.6 "Temporal").
type TemporalFactory struct{}

func (f *TemporalFactory) Build(componentContext, instance interface{}, occurrence int) (handler.Handler, error) {
	ic, err := asInstanceContext(componentContext)
	if err != nil {
		return nil, err
	}
	req, ok := requirementFor(ic.FC, component.RequirementTemporal, occurrence)
	if !ok {
		return nil, errMissingRequirement(HandlerIDTemporal, occurrence)
	}
	timeout := defaultTemporalTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}
	h := &Temporal{base: newBase(HandlerIDTemporal, req, ic), timeout: timeout}
	h.proxy = newTemporalProxy(h)
	return h, nil
}

// Temporal holds a single reference and injects a *TemporalProxy rather
// than the service directly (spec §4.6 "Temporal. Single-dependency
// variant that injects a grace-period proxy holding a settable service
// slot and an event."). On departure it starts a grace-period timer: a
// replacement arriving before expiry reuses the same proxy with no
// invalidation window; expiry delivers unbind and invalidates.
type Temporal struct {
	base

	timeout time.Duration
	proxy   *TemporalProxy

	mu        sync.Mutex
	bound     *registry.ServiceReference
	service   interface{}
	graceTimer *time.Timer
}

func (h *Temporal) Kinds() handler.Kind { return handler.KindDependency }

func (h *Temporal) Start() error {
	if err := h.bundle().AddServiceListener(h.req.Specification, h.req.Filter, h.onEvent); err != nil {
		return err
	}
	refs, err := h.bundle().GetServiceReferences(h.req.Specification, h.req.Filter)
	if err == nil && len(refs) > 0 {
		h.bindRef(refs[0])
	}
	h.ctx.SI.SetField(h.req.Field, h.proxy)
	h.reportCurrentValidity()
	return nil
}

func (h *Temporal) Stop() {
	h.mu.Lock()
	ref, svc := h.bound, h.service
	h.bound, h.service = nil, nil
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer = nil
	}
	h.mu.Unlock()
	h.proxy.clear()
	if ref != nil {
		h.bundle().UngetService(ref, svc)
	}
}

func (h *Temporal) onEvent(event registry.ServiceEvent) {
	switch event.Kind {
	case registry.EventRegistered:
		h.handleArrival(event.Reference)
	case registry.EventUnregistering:
		h.handleDeparture(event.Reference)
	case registry.EventModified, registry.EventModifiedEndmatch:
		h.handleModified(event)
	}
}

func (h *Temporal) handleArrival(ref *registry.ServiceReference) {
	h.mu.Lock()
	alreadyBound := h.bound != nil
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer = nil
	}
	h.mu.Unlock()
	if alreadyBound {
		return
	}
	h.bindRef(ref)
	h.reportCurrentValidity()
}

// handleDeparture starts a grace-period timer instead of immediately
// invalidating: if a replacement arrives before it fires, bindRef cancels
// it and the proxy never unblocks waiters with an error (spec §4.6
// "if a replacement arrives before expiry, reuses the same proxy with no
// invalidation").
func (h *Temporal) handleDeparture(ref *registry.ServiceReference) {
	h.mu.Lock()
	if h.bound == nil || h.bound.ServiceID() != ref.ServiceID() {
		h.mu.Unlock()
		return
	}
	svc := h.service
	h.bound, h.service = nil, nil
	h.proxy.unset()
	timer := time.AfterFunc(h.timeout, h.onGraceExpired)
	h.graceTimer = timer
	h.mu.Unlock()

	h.bundle().UngetService(ref, svc)
}

func (h *Temporal) onGraceExpired() {
	h.mu.Lock()
	if h.bound != nil {
		h.mu.Unlock()
		return
	}
	h.graceTimer = nil
	h.mu.Unlock()

	h.proxy.fail(bundleerr.NewTemporalTimeout(h.req.Field, h.timeout.String()))
	h.ctx.SI.InvokeFieldCallback(h.req.UnbindCallback, nil, nil)
	h.reportCurrentValidity()
}

func (h *Temporal) handleModified(event registry.ServiceEvent) {
	h.mu.Lock()
	isBound := h.bound != nil && h.bound.ServiceID() == event.Reference.ServiceID()
	h.mu.Unlock()
	if isBound {
		h.ctx.SI.InvokeFieldCallback(h.req.UpdateCallback, h.service, event.Reference, event.OldProps)
		return
	}
	h.handleArrival(event.Reference)
}

func (h *Temporal) bindRef(ref *registry.ServiceReference) {
	svc, ok := fetchService(h.bundle(), ref)
	if !ok {
		return
	}
	h.mu.Lock()
	if h.graceTimer != nil {
		h.graceTimer.Stop()
		h.graceTimer = nil
	}
	h.bound = ref
	h.service = svc
	h.mu.Unlock()

	h.proxy.set(svc)
	h.ctx.SI.InvokeFieldCallback(h.req.BindCallback, svc, ref)
}

func (h *Temporal) reportCurrentValidity() {
	h.mu.Lock()
	satisfied := h.req.Optional || h.bound != nil || h.graceTimer != nil
	h.mu.Unlock()
	h.reportValidity(satisfied)
}

// TemporalProxy is injected in place of a Temporal requirement's field. It
// holds a settable service slot and blocks method/attribute access on an
// internal signal until a service is bound or the configured timeout
// expires (spec §4.6 "Method/attribute access blocks on the event up to a
// configured timeout; on timeout, raises a domain-specific timeout
// error.").
type TemporalProxy struct {
	h *Temporal

	mu      sync.Mutex
	ready   chan struct{}
	svc     interface{}
	lastErr error
}

func newTemporalProxy(h *Temporal) *TemporalProxy {
	return &TemporalProxy{h: h, ready: make(chan struct{})}
}

func (p *TemporalProxy) set(svc interface{}) {
	p.mu.Lock()
	p.svc = svc
	p.lastErr = nil
	if p.ready == nil {
		p.ready = make(chan struct{})
	}
	select {
	case <-p.ready:
	default:
		close(p.ready)
	}
	p.mu.Unlock()
}

func (p *TemporalProxy) unset() {
	p.mu.Lock()
	p.svc = nil
	p.ready = make(chan struct{})
	p.mu.Unlock()
}

func (p *TemporalProxy) clear() {
	p.mu.Lock()
	p.svc = nil
	p.lastErr = nil
	p.ready = make(chan struct{})
	p.mu.Unlock()
}

func (p *TemporalProxy) fail(err error) {
	p.mu.Lock()
	p.lastErr = err
	select {
	case <-p.ready:
	default:
		close(p.ready)
	}
	p.mu.Unlock()
}

// await blocks until a service is bound, a timeout error is recorded, or
// the handler's configured timeout elapses (whichever is sooner), then
// returns the currently-bound service.
func (p *TemporalProxy) await() (interface{}, error) {
	p.mu.Lock()
	if p.svc != nil {
		svc := p.svc
		p.mu.Unlock()
		return svc, nil
	}
	ch := p.ready
	p.mu.Unlock()

	timer := time.NewTimer(p.h.timeout)
	defer timer.Stop()
	select {
	case <-ch:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.lastErr != nil {
			return nil, p.lastErr
		}
		return p.svc, nil
	case <-timer.C:
		return nil, bundleerr.NewTemporalTimeout(p.h.req.Field, p.h.timeout.String())
	}
}

// Invoke blocks for a bound service and then calls method on it with args
// via reflection, returning its first result value (if any). The only
// error Invoke returns is the wait's: a method that does not exist yields
// (nil, nil), and an error returned by the method is not surfaced as
// Invoke's error.
func (p *TemporalProxy) Invoke(method string, args ...interface{}) (interface{}, error) {
	svc, err := p.await()
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(svc)
	m := v.MethodByName(method)
	if !m.IsValid() {
		return nil, nil
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	out := m.Call(in)
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// Bound reports whether a service is currently bound (no active grace
// period and no unresolved timeout).
func (p *TemporalProxy) Bound() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.svc != nil
}
