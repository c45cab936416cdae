package bundlectx

import (
	"fmt"
	"sync"

	"github.com/hexalayer/bundle/internal/dispatcher"
	"github.com/hexalayer/bundle/internal/registry"
	"github.com/hexalayer/bundle/pkg/logging"
)

func bundleEvent(b *Bundle, kind dispatcher.BundleEventKind) dispatcher.BundleEvent {
	return dispatcher.BundleEvent{Kind: kind, Bundle: registry.BundleID(b.id)}
}

// Bundle is one installed code unit: an identity, a lifecycle state, an
// optional Activator, and the per-bundle context its code uses to talk to
// the registry and dispatcher (spec §2 component D, §4.4 bundle stop
// sequence).
type Bundle struct {
	id       int64
	identity bundleIdentity
	fw       *Framework

	mu        sync.Mutex
	state     State
	activator Activator
	ctx       *BundleContext
}

// ID returns the framework-assigned numeric bundle id used as the SR
// owning-bundle attribute.
func (b *Bundle) ID() int64 { return b.id }

// SymbolicName returns the human-readable name given at install time.
func (b *Bundle) SymbolicName() string { return b.identity.name }

// UUID returns the bundle's install-time UUID.
func (b *Bundle) UUID() string { return b.identity.uuid.String() }

// State returns the current lifecycle state.
func (b *Bundle) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Context returns the bundle's own BundleContext facade.
func (b *Bundle) Context() *BundleContext { return b.ctx }

// Start transitions INSTALLED/RESOLVED → STARTING → ACTIVE, invoking the
// activator's Start hook if present. Starting an already-active bundle is
// a no-op.
func (b *Bundle) Start() error {
	b.mu.Lock()
	if b.state == StateActive || b.state == StateStarting {
		b.mu.Unlock()
		return nil
	}
	if b.state == StateUninstalled {
		b.mu.Unlock()
		return fmt.Errorf("bundlectx: cannot start uninstalled bundle %q", b.identity.name)
	}
	b.state = StateStarting
	b.mu.Unlock()

	b.fw.dispatcher.FireBundleEvent(bundleEvent(b, dispatcher.BundleStarting))

	if b.activator != nil {
		if err := b.activator.Start(b.ctx); err != nil {
			logging.Error("Bundle", err, "activator Start failed for %q", b.identity.name)
			b.mu.Lock()
			b.state = StateResolved
			b.mu.Unlock()
			return err
		}
	}

	b.mu.Lock()
	b.state = StateActive
	b.mu.Unlock()
	b.fw.dispatcher.FireBundleEvent(bundleEvent(b, dispatcher.BundleStarted))
	return nil
}

// Stop runs the bundle-stop sequence (spec §4.4, §5 cancellation): it
// fires STOPPING, calls the activator's Stop hook, withdraws every service
// the bundle published, releases every service it was using, and
// unsubscribes its listeners from the dispatcher, then fires STOPPED.
func (b *Bundle) Stop() error {
	b.mu.Lock()
	if b.state != StateActive {
		b.mu.Unlock()
		return nil
	}
	b.state = StateStopping
	b.mu.Unlock()

	b.fw.dispatcher.FireBundleEvent(bundleEvent(b, dispatcher.BundleStopping))

	var stopErr error
	if b.activator != nil {
		if err := b.activator.Stop(b.ctx); err != nil {
			logging.Error("Bundle", err, "activator Stop failed for %q", b.identity.name)
			stopErr = err
		}
	}

	b.fw.registry.HideBundleServices(registry.BundleID(b.id))
	b.fw.registry.UngetUsedServices(registry.BundleID(b.id))
	b.fw.dispatcher.RemoveServiceListenersForContext(b.ctx)

	b.mu.Lock()
	b.state = StateResolved
	b.mu.Unlock()
	b.fw.dispatcher.FireBundleEvent(bundleEvent(b, dispatcher.BundleStopped))

	// The STOPPING window has closed (BundleStopped just fired): any
	// hidden-but-not-yet-unregistered references this bundle left behind
	// are now fully dropped (spec §3 "Ownership" — "hides ... then fully
	// removes them").
	b.fw.registry.PurgePending(registry.BundleID(b.id))
	return stopErr
}

// Uninstall stops the bundle (if active) and marks it permanently
// unusable.
func (b *Bundle) Uninstall() error {
	if err := b.Stop(); err != nil {
		return err
	}
	b.mu.Lock()
	b.state = StateUninstalled
	b.mu.Unlock()
	b.fw.dispatcher.FireBundleEvent(bundleEvent(b, dispatcher.BundleUninstalled))
	return nil
}
