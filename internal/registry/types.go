// Package registry implements the service registry (spec §4.2): the
// authoritative map of published services, kept sorted per specification,
// plus usage and factory counters (spec §3).
package registry

import (
	"sort"
	"sync"
)

// Scope is the publication scope of a service (spec §3 "Service Reference").
type Scope string

const (
	ScopeSingleton Scope = "singleton"
	ScopeBundle    Scope = "bundle"
	ScopePrototype Scope = "prototype"
)

// Reserved property keys (spec §6).
const (
	PropObjectClass    = "objectClass"
	PropServiceID      = "service.id"
	PropServiceBundle  = "service.bundleid"
	PropServiceScope   = "service.scope"
	PropServiceRanking = "service.ranking"
)

// BundleID identifies the bundle owning or consuming a service. The core
// treats it as an opaque comparable value; internal/bundlectx supplies the
// concrete identity (int64 bundle id).
type BundleID int64

// ServiceFactory produces (and releases) service instances on behalf of a
// bundle-scoped or prototype-scoped registration (spec §4.2 get_service).
type ServiceFactory interface {
	// GetService returns the instance to hand to the requesting bundle for
	// the given reference.
	GetService(requester BundleID, ref *ServiceReference) (interface{}, error)
	// UngetService is called when the last user of a bundle-scoped instance
	// releases it, or for every unget of a prototype-scoped instance.
	UngetService(requester BundleID, ref *ServiceReference, service interface{})
}

// ServiceReference is the stable identity for a published service
// (spec §3 "Service Reference"). Equality and hashing are service-id based;
// ordering is (-ranking, +service-id) so higher ranking sorts first and,
// at equal ranking, older ids sort first.
type ServiceReference struct {
	id          int64
	bundle      BundleID
	objectClass []string
	scope       Scope
	instance    interface{}
	factory     ServiceFactory
	prototype   bool

	propMu sync.RWMutex
	props  map[string]interface{}
	sortMu sync.RWMutex
	rank   int
}

// ServiceID returns the framework-monotonic identity of the reference.
func (r *ServiceReference) ServiceID() int64 { return r.id }

// Bundle returns the owning bundle id.
func (r *ServiceReference) Bundle() BundleID { return r.bundle }

// ObjectClass returns the (immutable) specification list.
func (r *ServiceReference) ObjectClass() []string {
	out := make([]string, len(r.objectClass))
	copy(out, r.objectClass)
	return out
}

// Scope returns the publication scope.
func (r *ServiceReference) Scope() Scope { return r.scope }

// IsFactory reports whether the reference was registered with a factory.
func (r *ServiceReference) IsFactory() bool { return r.factory != nil }

// Ranking returns the current sort-affecting ranking.
func (r *ServiceReference) Ranking() int {
	r.sortMu.RLock()
	defer r.sortMu.RUnlock()
	return r.rank
}

// Properties returns a snapshot copy of the current property map.
func (r *ServiceReference) Properties() map[string]interface{} {
	r.propMu.RLock()
	defer r.propMu.RUnlock()
	out := make(map[string]interface{}, len(r.props))
	for k, v := range r.props {
		out[k] = v
	}
	return out
}

func (r *ServiceReference) property(key string) (interface{}, bool) {
	r.propMu.RLock()
	defer r.propMu.RUnlock()
	v, ok := r.props[key]
	return v, ok
}

// Equal implements SR equality: service-id equality (spec §3).
func (r *ServiceReference) Equal(other *ServiceReference) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.id == other.id
}

// Less implements the SR total order: (-ranking, +service-id), so higher
// ranking sorts first and ties are broken by lower (older) service id.
func (r *ServiceReference) Less(other *ServiceReference) bool {
	rr, or := r.Ranking(), other.Ranking()
	if rr != or {
		return rr > or
	}
	return r.id < other.id
}

// sortedRefs sorts a slice of references by the SR total order in place.
func sortedRefs(refs []*ServiceReference) {
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
}

// binaryInsert inserts ref into a sorted-by-Less slice, preserving order.
func binaryInsert(refs []*ServiceReference, ref *ServiceReference) []*ServiceReference {
	idx := sort.Search(len(refs), func(i int) bool { return ref.Less(refs[i]) })
	refs = append(refs, nil)
	copy(refs[idx+1:], refs[idx:])
	refs[idx] = ref
	return refs
}

// binaryRemove removes ref (by identity/service-id) from a sorted slice.
func binaryRemove(refs []*ServiceReference, ref *ServiceReference) []*ServiceReference {
	for i, r := range refs {
		if r.id == ref.id {
			return append(refs[:i], refs[i+1:]...)
		}
	}
	return refs
}
