package registry

import (
	"reflect"
	"sync"

	"github.com/hexalayer/bundle/internal/bundleerr"
	"github.com/hexalayer/bundle/internal/filter"
	"github.com/hexalayer/bundle/internal/metrics"
)

// Registry is the authoritative map of published services (spec §4.2). A
// single mutex (not reentrant) guards the three indices, the pending map
// and the two counter maps; callers must never invoke user code (factories, listeners)
// while holding it, so every public method snapshots under lock and runs
// callbacks after releasing it.
type Registry struct {
	mu sync.Mutex

	sink EventSink

	nextID int64
	byID   map[int64]*ServiceReference
	bySpec map[string][]*ServiceReference
	byBundle map[BundleID]map[int64]*ServiceReference

	// pending holds non-factory services a bundle is in the process of
	// stopping: unindexed from bySpec/byBundle (spec §4.4 "hide") but still
	// resolvable by id for the duration of the STOPPING event, so listeners
	// reacting to UNREGISTERING can still look the reference up (spec §3
	// "Ownership"). Unregister pops an entry here before ever consulting
	// byID; PurgePending drops whatever a bundle's Stop sequence left behind
	// once the STOPPING window closes.
	pending map[int64]*ServiceReference

	usage     map[usageKey]int
	factories map[factoryKey]*factoryEntry
}

// New creates an empty registry. A nil sink is replaced with a no-op sink so
// FireServiceEvent is always safe to call.
func New(sink EventSink) *Registry {
	if sink == nil {
		sink = noopSink{}
	}
	return &Registry{
		sink:      sink,
		byID:      make(map[int64]*ServiceReference),
		bySpec:    make(map[string][]*ServiceReference),
		byBundle:  make(map[BundleID]map[int64]*ServiceReference),
		pending:   make(map[int64]*ServiceReference),
		usage:     make(map[usageKey]int),
		factories: make(map[factoryKey]*factoryEntry),
	}
}

// Register publishes a service on behalf of bundle under the given
// specification list and initial properties (spec §4.2 register). At least
// one specification is required (bundleerr.MandatoryMissing otherwise). A
// nil factory with prototype=true is rejected the same way a pointless
// registration would be: prototype scope implies a factory.
func (r *Registry) Register(bundle BundleID, specs []string, props map[string]interface{}, instance interface{}, factory ServiceFactory, scope Scope) (*Registration, error) {
	if len(specs) == 0 {
		return nil, bundleerr.NewMandatoryMissing("objectClass")
	}
	if scope == "" {
		scope = ScopeSingleton
	}
	if scope == ScopePrototype && factory == nil {
		return nil, bundleerr.NewMandatoryMissing("factory")
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID

	merged := filterForbiddenAndRanking(props)
	merged[PropObjectClass] = append([]string{}, specs...)
	merged[PropServiceID] = id
	merged[PropServiceBundle] = bundle
	merged[PropServiceScope] = scope
	rank, _ := coerceInt(merged[PropServiceRanking])

	ref := &ServiceReference{
		id:          id,
		bundle:      bundle,
		objectClass: append([]string{}, specs...),
		scope:       scope,
		instance:    instance,
		factory:     factory,
		prototype:   scope == ScopePrototype,
		props:       merged,
		rank:        rank,
	}

	r.byID[id] = ref
	for _, spec := range specs {
		r.bySpec[spec] = binaryInsert(r.bySpec[spec], ref)
	}
	if r.byBundle[bundle] == nil {
		r.byBundle[bundle] = make(map[int64]*ServiceReference)
	}
	r.byBundle[bundle][id] = ref
	size := len(r.byID)
	r.mu.Unlock()

	metrics.SetRegistrySize(size)
	metrics.RecordServiceEvent(EventRegistered.String())
	r.sink.FireServiceEvent(ServiceEvent{Kind: EventRegistered, Reference: ref})
	return &Registration{ref: ref, reg: r}, nil
}

// Unregister withdraws ref. The UNREGISTERING event fires before the
// reference is removed from the indices, so listeners can still resolve
// properties and call GetService during delivery (spec §4.3 step 2). If
// ref was already hidden by its owner bundle stopping (spec §4.4), it is
// simply popped from the pending map and returned — UNREGISTERING already
// fired when it was hidden, so it is not fired again here (spec §8
// invariant 3: "no event follows UNREGISTERING for the same id").
func (r *Registry) Unregister(ref *ServiceReference) (*ServiceReference, error) {
	r.mu.Lock()
	if pending, ok := r.pending[ref.id]; ok {
		delete(r.pending, ref.id)
		r.mu.Unlock()
		return pending, nil
	}
	existing, ok := r.byID[ref.id]
	r.mu.Unlock()
	if !ok {
		return nil, errUnknownRef(ref)
	}

	r.sink.FireServiceEvent(ServiceEvent{Kind: EventUnregistering, Reference: existing})

	r.mu.Lock()
	delete(r.byID, existing.id)
	for _, spec := range existing.objectClass {
		r.bySpec[spec] = binaryRemove(r.bySpec[spec], existing)
		if len(r.bySpec[spec]) == 0 {
			delete(r.bySpec, spec)
		}
	}
	if bmap, ok := r.byBundle[existing.bundle]; ok {
		delete(bmap, existing.id)
		if len(bmap) == 0 {
			delete(r.byBundle, existing.bundle)
		}
	}
	for k := range r.usage {
		if k.refID == existing.id {
			delete(r.usage, k)
		}
	}
	for k := range r.factories {
		if k.refID == existing.id {
			delete(r.factories, k)
		}
	}
	size := len(r.byID)
	r.mu.Unlock()

	metrics.SetRegistrySize(size)
	metrics.RecordServiceEvent(EventUnregistering.String())
	return existing, nil
}

// updateProperties merges props into ref's property map, re-sorts affected
// specification buckets if service.ranking changed, and fires MODIFIED with
// the pre-change snapshot attached (spec §4.2 set_properties, §8 invariant
// on round-tripping an unchanged map as a no-op).
func (r *Registry) updateProperties(ref *ServiceReference, props map[string]interface{}) {
	sanitized := filterForbiddenAndRanking(props)

	ref.propMu.Lock()
	old := make(map[string]interface{}, len(ref.props))
	for k, v := range ref.props {
		old[k] = v
	}
	changed := false
	for k, v := range sanitized {
		// reflect.DeepEqual, not !=: list-valued properties (spec §4.1
		// "list-valued properties match if any element matches") carry a
		// []string/[]interface{} dynamic type, and comparing two
		// uncomparable-type interface{} values with != panics at runtime.
		if existing, ok := ref.props[k]; !ok || !reflect.DeepEqual(existing, v) {
			changed = true
		}
		ref.props[k] = v
	}
	ref.propMu.Unlock()

	if !changed {
		return
	}

	if newRank, ok := sanitized[PropServiceRanking]; ok {
		rank, _ := coerceInt(newRank)
		ref.sortMu.Lock()
		rankChanged := ref.rank != rank
		ref.rank = rank
		ref.sortMu.Unlock()
		if rankChanged {
			r.mu.Lock()
			for _, spec := range ref.objectClass {
				sortedRefs(r.bySpec[spec])
			}
			r.mu.Unlock()
		}
	}

	metrics.RecordServiceEvent(EventModified.String())
	r.sink.FireServiceEvent(ServiceEvent{Kind: EventModified, Reference: ref, OldProps: old})
}

// FindServiceReferences returns the matching references for an optional
// specification and/or filter, in SR order. When onlyOne is true, at most
// one (the highest-priority match) is returned (spec §4.2 get_service_references).
func (r *Registry) FindServiceReferences(spec string, f *filter.Node, onlyOne bool) ([]*ServiceReference, error) {
	r.mu.Lock()
	var candidates []*ServiceReference
	if spec != "" {
		src := r.bySpec[spec]
		candidates = make([]*ServiceReference, len(src))
		copy(candidates, src)
	} else {
		candidates = make([]*ServiceReference, 0, len(r.byID))
		for _, ref := range r.byID {
			candidates = append(candidates, ref)
		}
		sortedRefs(candidates)
	}
	r.mu.Unlock()

	out := make([]*ServiceReference, 0, len(candidates))
	for _, ref := range candidates {
		if f != nil && !f.Matches(ref.Properties()) {
			continue
		}
		out = append(out, ref)
		if onlyOne {
			break
		}
	}
	return out, nil
}

// GetService resolves the service instance for a (bundle, ref) pair,
// invoking the factory when present and tracking usage/factory counters so
// UngetService and UngetUsedServices can unwind cleanly (spec §3 "Usage
// Counter", "Factory Counter").
func (r *Registry) GetService(bundle BundleID, ref *ServiceReference) (interface{}, error) {
	r.mu.Lock()
	_, live := r.byID[ref.id]
	_, hidden := r.pending[ref.id]
	r.mu.Unlock()
	if !live && !hidden {
		return nil, errUnknownRef(ref)
	}

	if ref.factory == nil {
		r.mu.Lock()
		r.usage[usageKey{bundle: bundle, refID: ref.id}]++
		r.mu.Unlock()
		return ref.instance, nil
	}

	if ref.prototype {
		instance, err := ref.factory.GetService(bundle, ref)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		key := factoryKey{bundle: bundle, refID: ref.id}
		entry := r.factories[key]
		if entry == nil {
			entry = &factoryEntry{prototype: true}
			r.factories[key] = entry
		}
		entry.instances = append(entry.instances, instance)
		r.mu.Unlock()
		return instance, nil
	}

	key := factoryKey{bundle: bundle, refID: ref.id}
	r.mu.Lock()
	entry := r.factories[key]
	if entry != nil {
		entry.count++
		instance := entry.instance
		r.mu.Unlock()
		return instance, nil
	}
	r.mu.Unlock()

	instance, err := ref.factory.GetService(bundle, ref)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.factories[key] = &factoryEntry{count: 1, instance: instance}
	r.mu.Unlock()
	return instance, nil
}

// UngetService releases one use of ref by bundle. For bundle-scoped
// factories the count is decremented and UngetService called on the
// factory once it reaches zero; for prototype-scoped factories service
// identifies which outstanding instance to release. Returns false if the
// (bundle, ref, service) combination was not outstanding.
func (r *Registry) UngetService(bundle BundleID, ref *ServiceReference, service interface{}) bool {
	if ref.factory == nil {
		key := usageKey{bundle: bundle, refID: ref.id}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.usage[key] <= 0 {
			return false
		}
		r.usage[key]--
		if r.usage[key] == 0 {
			delete(r.usage, key)
		}
		return true
	}
	key := factoryKey{bundle: bundle, refID: ref.id}

	r.mu.Lock()
	entry := r.factories[key]
	if entry == nil {
		r.mu.Unlock()
		return false
	}

	if entry.prototype {
		idx := -1
		for i, inst := range entry.instances {
			if inst == service {
				idx = i
				break
			}
		}
		if idx == -1 {
			r.mu.Unlock()
			return false
		}
		entry.instances = append(entry.instances[:idx], entry.instances[idx+1:]...)
		empty := len(entry.instances) == 0
		if empty {
			delete(r.factories, key)
		}
		r.mu.Unlock()
		ref.factory.UngetService(bundle, ref, service)
		return true
	}

	entry.count--
	last := entry.count <= 0
	instance := entry.instance
	if last {
		delete(r.factories, key)
	}
	r.mu.Unlock()

	if last {
		ref.factory.UngetService(bundle, ref, instance)
	}
	return true
}

// UngetUsedServices releases every service still held by bundle, as if
// bundle were stopping (spec §4.4 bundle stop sequence).
func (r *Registry) UngetUsedServices(bundle BundleID) {
	r.mu.Lock()
	var toRelease []struct {
		ref *ServiceReference
		svc interface{}
	}
	for key, entry := range r.factories {
		if key.bundle != bundle {
			continue
		}
		ref := r.byID[key.refID]
		if ref == nil {
			continue
		}
		if entry.prototype {
			for _, inst := range entry.instances {
				toRelease = append(toRelease, struct {
					ref *ServiceReference
					svc interface{}
				}{ref, inst})
			}
		} else {
			toRelease = append(toRelease, struct {
				ref *ServiceReference
				svc interface{}
			}{ref, entry.instance})
		}
		delete(r.factories, key)
	}
	for key := range r.usage {
		if key.bundle == bundle {
			delete(r.usage, key)
		}
	}
	r.mu.Unlock()

	for _, item := range toRelease {
		item.ref.factory.UngetService(bundle, item.ref, item.svc)
	}
}

// HideBundleServices withdraws every service registered by bundle (spec
// §4.4 bundle stop sequence) and returns the set of references withdrawn.
// Non-factory services are moved into the pending map: unindexed from
// bySpec/byBundle but still resolvable by id for the duration of the
// STOPPING event (spec §3 "Ownership", §4.2 "hide_bundle_services").
// Factory-scoped services go through a full Unregister instead, since
// their factory counters must be walked and unget immediately (spec §4.2
// unregister "for factory-scope iterate all factory counters to invoke
// unget") rather than deferred to the STOPPING window.
func (r *Registry) HideBundleServices(bundle BundleID) []*ServiceReference {
	r.mu.Lock()
	bmap := r.byBundle[bundle]
	refs := make([]*ServiceReference, 0, len(bmap))
	for _, ref := range bmap {
		refs = append(refs, ref)
	}
	r.mu.Unlock()

	sortedRefs(refs)
	for _, ref := range refs {
		if ref.factory != nil {
			r.Unregister(ref)
			continue
		}
		r.hideOne(ref)
	}
	return refs
}

// hideOne fires UNREGISTERING for ref and unindexes it from bySpec/byBundle,
// but keeps it resolvable through the pending map instead of dropping it
// from byID entirely, so a listener handling the UNREGISTERING delivery can
// still resolve ref's properties or call GetService on it.
func (r *Registry) hideOne(ref *ServiceReference) {
	r.sink.FireServiceEvent(ServiceEvent{Kind: EventUnregistering, Reference: ref})

	r.mu.Lock()
	delete(r.byID, ref.id)
	for _, spec := range ref.objectClass {
		r.bySpec[spec] = binaryRemove(r.bySpec[spec], ref)
		if len(r.bySpec[spec]) == 0 {
			delete(r.bySpec, spec)
		}
	}
	if bmap, ok := r.byBundle[ref.bundle]; ok {
		delete(bmap, ref.id)
		if len(bmap) == 0 {
			delete(r.byBundle, ref.bundle)
		}
	}
	r.pending[ref.id] = ref
	size := len(r.byID)
	r.mu.Unlock()

	metrics.SetRegistrySize(size)
	metrics.RecordServiceEvent(EventUnregistering.String())
}

// PurgePending fully drops whatever pending (hidden-but-not-yet-unregistered)
// references bundle left behind once its STOPPING window has closed — the
// "then fully removes them" half of spec §3 "Ownership". No event fires:
// UNREGISTERING already fired when the reference was hidden.
func (r *Registry) PurgePending(bundle BundleID) {
	r.mu.Lock()
	for id, ref := range r.pending {
		if ref.bundle == bundle {
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()
}
