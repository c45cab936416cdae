package registry

import (
	"github.com/hexalayer/bundle/internal/bundleerr"
)

// Registration is the publisher's handle for a published service: it
// allows property updates and unregistration (spec §3 "Service
// Registration"). Setting objectClass or service.id is silently forbidden;
// service.ranking is coerced to an integer or dropped (spec §4.2).
type Registration struct {
	ref *ServiceReference
	reg *Registry
}

// Reference returns the stable reference handed to consumers.
func (r *Registration) Reference() *ServiceReference { return r.ref }

// SetProperties merges props into the property map; keys absent from props
// keep their current values. Forbidden
// keys (objectClass, service.id, service.bundleid) are silently dropped;
// service.ranking is coerced to int or dropped if not representable.
// A call that changes nothing is a no-op: no MODIFIED event fires
// (spec §8 "Calling set_properties with the current value set is a
// no-op").
func (r *Registration) SetProperties(props map[string]interface{}) {
	r.reg.updateProperties(r.ref, props)
}

// Unregister withdraws the service. Safe to call at most once; a second
// call returns an UnknownService error.
func (r *Registration) Unregister() error {
	_, err := r.reg.Unregister(r.ref)
	return err
}

// filterForbiddenAndRanking drops forbidden keys and coerces
// service.ranking, returning the sanitized map to merge into the SR.
func filterForbiddenAndRanking(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch k {
		case PropObjectClass, PropServiceID, PropServiceBundle:
			continue // UpdateRejected: silently filtered, not an error (spec §7)
		case PropServiceRanking:
			if rank, ok := coerceInt(v); ok {
				out[k] = rank
			}
			// non-coercible ranking values are dropped
		default:
			out[k] = v
		}
	}
	return out
}

func coerceInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// errUnknownRef is a convenience constructor mirroring bundleerr for refs
// whose identity is already known at the call site.
func errUnknownRef(ref *ServiceReference) error {
	return bundleerr.NewUnknownService(ref.id)
}
