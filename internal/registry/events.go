package registry

// EventKind enumerates the service-event kinds fired by the registry
// (spec §4.3, §8 invariant 3: REGISTERED precedes MODIFIED precedes
// UNREGISTERING for a given SR, and nothing follows UNREGISTERING).
type EventKind int

const (
	EventRegistered EventKind = iota
	EventModified
	EventModifiedEndmatch
	EventUnregistering
)

func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "REGISTERED"
	case EventModified:
		return "MODIFIED"
	case EventModifiedEndmatch:
		return "MODIFIED_ENDMATCH"
	case EventUnregistering:
		return "UNREGISTERING"
	default:
		return "UNKNOWN"
	}
}

// ServiceEvent carries the reference plus (for MODIFIED/MODIFIED_ENDMATCH)
// the property map as it was immediately before the change, so dispatcher
// listeners with filters can be evaluated against both old and new state
// (spec §4.3 step 4, §8 invariant 4).
type ServiceEvent struct {
	Kind         EventKind
	Reference    *ServiceReference
	OldProps     map[string]interface{}
}

// EventSink receives service events as the registry produces them. The
// dispatcher implements this; the registry never imports the dispatcher
// package, avoiding a cycle (spec §4.3's dispatcher sits above the
// registry).
type EventSink interface {
	FireServiceEvent(ServiceEvent)
}

type noopSink struct{}

func (noopSink) FireServiceEvent(ServiceEvent) {}
