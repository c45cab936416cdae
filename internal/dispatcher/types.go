// Package dispatcher delivers service, bundle, and framework events to
// registered listeners, filtered by LDAP and mediated by event-listener
// hooks (spec §4.3, §4.4). It implements registry.EventSink so the registry
// never imports it directly.
package dispatcher

import (
	"github.com/hexalayer/bundle/internal/filter"
	"github.com/hexalayer/bundle/internal/registry"
)

// ListenerInfo describes one registered service listener: the context it
// belongs to, the callback, and its optional filter. id is assigned by the
// dispatcher on registration and used only to dedup a listener that matched
// through more than one specification bucket.
type ListenerInfo struct {
	id       uint64
	Context  interface{} // opaque bundle-context identity, e.g. *bundlectx.BundleContext
	Filter   *filter.Node
	Callback func(registry.ServiceEvent)
}

// BundleEventKind enumerates OSGi-style bundle lifecycle notifications.
type BundleEventKind int

const (
	BundleInstalled BundleEventKind = iota
	BundleStarting
	BundleStarted
	BundleStopping
	BundleStopped
	BundleUninstalled
)

type BundleEvent struct {
	Kind   BundleEventKind
	Bundle registry.BundleID
}

// FrameworkEventKind enumerates framework-wide notifications.
type FrameworkEventKind int

const (
	FrameworkStarted FrameworkEventKind = iota
	FrameworkStopping
	FrameworkStopped
	FrameworkError
)

type FrameworkEvent struct {
	Kind FrameworkEventKind
	Err  error
}

// EventListenerHookSpecification is the well-known specification name
// (spec §4.4) of an EventListenerHook: a service-registered collaborator that may hide, but never
// add, pending listener deliveries for a service event.
const EventListenerHookSpecification = "pelix.remote.events.EventListenerHook"

// EventListenerHook is invoked with the firing event and a shrinkable view
// of the pending deliveries, grouped by originating bundle-context.
type EventListenerHook interface {
	Event(event registry.ServiceEvent, shrinkable *ShrinkableMap)
}
