// Package bundlectx implements the bundle context and framework (spec
// §2 component D, §4.2/§4.3 wiring): the per-bundle facade over the
// service registry and dispatcher, plus bundle lifecycle state.
package bundlectx

import (
	"github.com/google/uuid"
)

// State is a bundle's lifecycle state.
type State int

const (
	StateInstalled State = iota
	StateResolved
	StateStarting
	StateActive
	StateStopping
	StateUninstalled
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "INSTALLED"
	case StateResolved:
		return "RESOLVED"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateUninstalled:
		return "UNINSTALLED"
	default:
		return "UNKNOWN"
	}
}

// Activator is the optional lifecycle hook a bundle may implement. Start
// and Stop receive the bundle's own context.
type Activator interface {
	Start(ctx *BundleContext) error
	Stop(ctx *BundleContext) error
}

// bundleIdentity is the UUID-backed symbolic identity of a bundle,
// independent of its framework-assigned numeric id (spec §3 "owning
// bundle" is numeric for SR purposes; the symbolic name is an ambient
// convenience carried alongside it, the way service.bundleid pairs with a
// human-readable bundle name in most OSGi-family implementations).
type bundleIdentity struct {
	uuid uuid.UUID
	name string
}

func newBundleIdentity(name string) bundleIdentity {
	return bundleIdentity{uuid: uuid.New(), name: name}
}
