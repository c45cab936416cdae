package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hexalayer/bundle/internal/bundleerr"
	"github.com/hexalayer/bundle/internal/filter"
	"github.com/hexalayer/bundle/internal/metrics"
	"github.com/hexalayer/bundle/internal/registry"
	"github.com/hexalayer/bundle/pkg/logging"
)

// Dispatcher implements registry.EventSink and owns three listener lists —
// service listeners (bucketed by specification, plus a nil-spec "any"
// bucket), bundle listeners, and framework-stopping listeners — mirroring
// the registry's own lock-snapshot-release discipline (spec §4.3, §5).
type Dispatcher struct {
	reg *registry.Registry

	nextListenerID uint64

	svcMu      sync.RWMutex
	svcBySpec  map[string][]ListenerInfo
	svcAnySpec []ListenerInfo

	bundleMu   sync.RWMutex
	bundleSubs []func(BundleEvent)

	fwMu   sync.RWMutex
	fwSubs []func(FrameworkEvent)
}

// New creates a Dispatcher with no registry attached. Dispatchers are
// created before the registry they serve finishes construction in most
// wiring (registry.New takes the dispatcher as its sink), so SetRegistry
// attaches it afterward.
func New() *Dispatcher {
	return &Dispatcher{
		svcBySpec: make(map[string][]ListenerInfo),
	}
}

// SetRegistry attaches the registry this dispatcher resolves hook instances
// and GetService calls against. Must be called once, before any event is
// fired.
func (d *Dispatcher) SetRegistry(reg *registry.Registry) { d.reg = reg }

// AddServiceListener registers l for a specification (or "" for every
// specification) under the service-listener lock, assigning it a dedup id.
func (d *Dispatcher) AddServiceListener(spec string, l ListenerInfo) {
	l.id = atomic.AddUint64(&d.nextListenerID, 1)

	d.svcMu.Lock()
	defer d.svcMu.Unlock()
	if spec == "" {
		d.svcAnySpec = append(d.svcAnySpec, l)
		return
	}
	d.svcBySpec[spec] = append(d.svcBySpec[spec], l)
}

// RemoveServiceListenersForContext drops every service listener registered
// by ctx, used when a bundle stops (spec §5 cancellation).
func (d *Dispatcher) RemoveServiceListenersForContext(ctx interface{}) {
	d.svcMu.Lock()
	defer d.svcMu.Unlock()
	d.svcAnySpec = filterContext(d.svcAnySpec, ctx)
	for spec, list := range d.svcBySpec {
		d.svcBySpec[spec] = filterContext(list, ctx)
		if len(d.svcBySpec[spec]) == 0 {
			delete(d.svcBySpec, spec)
		}
	}
}

func filterContext(list []ListenerInfo, ctx interface{}) []ListenerInfo {
	out := list[:0:0]
	for _, l := range list {
		if l.Context != ctx {
			out = append(out, l)
		}
	}
	return out
}

// AddBundleListener registers a bundle-event subscriber.
func (d *Dispatcher) AddBundleListener(f func(BundleEvent)) {
	d.bundleMu.Lock()
	defer d.bundleMu.Unlock()
	d.bundleSubs = append(d.bundleSubs, f)
}

// AddFrameworkListener registers a framework-event subscriber.
func (d *Dispatcher) AddFrameworkListener(f func(FrameworkEvent)) {
	d.fwMu.Lock()
	defer d.fwMu.Unlock()
	d.fwSubs = append(d.fwSubs, f)
}

// FireBundleEvent broadcasts e to a snapshot of bundle listeners, swallowing
// panics from any one subscriber (spec §4.3 "Bundle & framework events").
func (d *Dispatcher) FireBundleEvent(e BundleEvent) {
	d.bundleMu.RLock()
	subs := make([]func(BundleEvent), len(d.bundleSubs))
	copy(subs, d.bundleSubs)
	d.bundleMu.RUnlock()

	for _, f := range subs {
		invokeBundleListener(f, e)
	}
}

func invokeBundleListener(f func(BundleEvent), e BundleEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordListenerPanic("bundle")
			logging.Error("Dispatcher", nil, "bundle listener panicked: %v", rec)
		}
	}()
	f(e)
}

// FireFrameworkEvent broadcasts e to a snapshot of framework listeners.
func (d *Dispatcher) FireFrameworkEvent(e FrameworkEvent) {
	d.fwMu.RLock()
	subs := make([]func(FrameworkEvent), len(d.fwSubs))
	copy(subs, d.fwSubs)
	d.fwMu.RUnlock()

	for _, f := range subs {
		invokeFrameworkListener(f, e)
	}
}

func invokeFrameworkListener(f func(FrameworkEvent), e FrameworkEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordListenerPanic("framework")
			logging.Error("Dispatcher", nil, "framework listener panicked: %v", rec)
		}
	}()
	f(e)
}

// FireServiceEvent implements registry.EventSink. It unions the matching
// specification buckets with the any-spec bucket, applies the event-listener
// hook pipeline, then delivers to what remains, synthesizing
// MODIFIED_ENDMATCH where a filter stopped matching after a MODIFIED
// (spec §4.3 steps 1-5).
func (d *Dispatcher) FireServiceEvent(event registry.ServiceEvent) {
	start := time.Now()
	defer func() {
		metrics.ObserveDispatchDuration(event.Kind.String(), time.Since(start).Seconds())
	}()

	specs := event.Reference.ObjectClass()

	d.svcMu.RLock()
	seen := make(map[uint64]bool)
	var pending []ListenerInfo
	for _, spec := range specs {
		for _, l := range d.svcBySpec[spec] {
			if !seen[l.id] {
				seen[l.id] = true
				pending = append(pending, l)
			}
		}
	}
	for _, l := range d.svcAnySpec {
		if !seen[l.id] {
			seen[l.id] = true
			pending = append(pending, l)
		}
	}
	d.svcMu.RUnlock()

	pending = d.applyHooks(event, pending)

	for _, l := range pending {
		d.deliverToListener(l, event)
	}
}

func (d *Dispatcher) deliverToListener(l ListenerInfo, event registry.ServiceEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordListenerPanic("service")
			logging.Error("Dispatcher", nil, "service listener panicked: %v", rec)
		}
	}()

	if l.Filter == nil {
		l.Callback(event)
		return
	}

	current := event.Reference.Properties()
	if l.Filter.Matches(current) {
		l.Callback(event)
		return
	}

	if event.Kind == registry.EventModified && event.OldProps != nil && l.Filter.Matches(event.OldProps) {
		metrics.RecordServiceEvent(registry.EventModifiedEndmatch.String())
		l.Callback(registry.ServiceEvent{
			Kind:      registry.EventModifiedEndmatch,
			Reference: event.Reference,
			OldProps:  event.OldProps,
		})
	}
}

// applyHooks collects pelix.remote.events.EventListenerHook instances
// (excluding the firing event's own reference per the spec's documented
// self-reference exclusion) and gives each a chance to hide entries from
// the pending delivery set (spec §4.4).
func (d *Dispatcher) applyHooks(event registry.ServiceEvent, pending []ListenerInfo) []ListenerInfo {
	if d.reg == nil || len(pending) == 0 {
		return pending
	}

	hookRefs, err := d.reg.FindServiceReferences(EventListenerHookSpecification, nil, false)
	if err != nil || len(hookRefs) == 0 {
		return pending
	}

	shrinkable := newShrinkableMap(pending)
	for _, hookRef := range hookRefs {
		if hookRef.Equal(event.Reference) {
			continue // documented exception: a hook never filters its own event
		}
		d.invokeHook(hookRef, event, shrinkable)
	}
	return shrinkable.flatten()
}

func (d *Dispatcher) invokeHook(hookRef *registry.ServiceReference, event registry.ServiceEvent, shrinkable *ShrinkableMap) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Dispatcher", nil, "event-listener hook panicked: %v", rec)
		}
	}()

	instance, err := d.reg.GetService(hookRef.Bundle(), hookRef)
	if err != nil {
		logging.Error("Dispatcher", err, "could not resolve event-listener hook")
		return
	}
	// Every GetService must be paired with an UngetService (spec §3 "Usage
	// Counter"), or the hook's reference stays pinned in the registry's
	// usage map forever.
	defer d.reg.UngetService(hookRef.Bundle(), hookRef, instance)

	hook, ok := instance.(EventListenerHook)
	if !ok {
		return
	}
	hook.Event(event, shrinkable)
}

// ParseListenerFilter wraps filter.Parse so callers that build a
// ListenerInfo from a raw LDAP string get the typed BadFilter error on
// failure (spec §7 BadFilter), rather than a bare parse error.
func ParseListenerFilter(expr string) (*filter.Node, error) {
	if expr == "" {
		return nil, nil
	}
	n, err := filter.Parse(expr)
	if err != nil {
		return nil, bundleerr.NewBadFilter(expr, err.Error())
	}
	return n, nil
}
