package bundlectx

import (
	"github.com/hexalayer/bundle/internal/bundleerr"
	"github.com/hexalayer/bundle/internal/dispatcher"
	"github.com/hexalayer/bundle/internal/filter"
	"github.com/hexalayer/bundle/internal/registry"
)

// BundleContext is the per-bundle facade over the registry and dispatcher
// (spec §2 component D): every service operation a bundle's code performs
// goes through its own context so the framework knows who to attribute
// registrations and listeners to, and can unwind them on stop.
type BundleContext struct {
	bundle *Bundle
	fw     *Framework
}

func newBundleContext(b *Bundle, fw *Framework) *BundleContext {
	return &BundleContext{bundle: b, fw: fw}
}

// Bundle returns the owning bundle.
func (c *BundleContext) Bundle() *Bundle { return c.bundle }

// RegisterService publishes instance under specs on behalf of this
// bundle (spec §4.2 register). A nil factory publishes instance directly;
// a non-nil factory defers instantiation per scope.
func (c *BundleContext) RegisterService(specs []string, props map[string]interface{}, instance interface{}, factory registry.ServiceFactory, scope registry.Scope) (*registry.Registration, error) {
	return c.fw.registry.Register(registry.BundleID(c.bundle.id), specs, props, instance, factory, scope)
}

// GetServiceReferences resolves references matching spec and an optional
// LDAP filter string (spec §4.2 get_service_references).
func (c *BundleContext) GetServiceReferences(spec, filterExpr string) ([]*registry.ServiceReference, error) {
	f, err := parseOptionalFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	return c.fw.registry.FindServiceReferences(spec, f, false)
}

// GetServiceReference resolves the single highest-priority reference
// matching spec and an optional filter (spec §4.2's singular lookup).
func (c *BundleContext) GetServiceReference(spec, filterExpr string) (*registry.ServiceReference, error) {
	f, err := parseOptionalFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	refs, err := c.fw.registry.FindServiceReferences(spec, f, true)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	return refs[0], nil
}

// GetService resolves the service instance for ref, attributing usage to
// this bundle.
func (c *BundleContext) GetService(ref *registry.ServiceReference) (interface{}, error) {
	return c.fw.registry.GetService(registry.BundleID(c.bundle.id), ref)
}

// UngetService releases one use of ref by this bundle.
func (c *BundleContext) UngetService(ref *registry.ServiceReference, service interface{}) bool {
	return c.fw.registry.UngetService(registry.BundleID(c.bundle.id), ref, service)
}

// AddServiceListener subscribes callback to service events matching spec
// (or every specification, if spec is empty) and an optional filter
// (spec §4.3, §7 BadFilter surfaced synchronously at add_listener).
func (c *BundleContext) AddServiceListener(spec, filterExpr string, callback func(registry.ServiceEvent)) error {
	f, err := parseOptionalFilter(filterExpr)
	if err != nil {
		return err
	}
	c.fw.dispatcher.AddServiceListener(spec, dispatcher.ListenerInfo{
		Context:  c,
		Filter:   f,
		Callback: callback,
	})
	return nil
}

// AddBundleListener subscribes callback to bundle lifecycle events.
func (c *BundleContext) AddBundleListener(callback func(dispatcher.BundleEvent)) {
	c.fw.dispatcher.AddBundleListener(callback)
}

// AddFrameworkListener subscribes callback to framework events.
func (c *BundleContext) AddFrameworkListener(callback func(dispatcher.FrameworkEvent)) {
	c.fw.dispatcher.AddFrameworkListener(callback)
}

// Property returns a framework-wide configuration property (spec §6's
// "framework properties" the bundle context sits atop).
func (c *BundleContext) Property(key string) (interface{}, bool) {
	return c.fw.Property(key)
}

func parseOptionalFilter(expr string) (*filter.Node, error) {
	if expr == "" {
		return nil, nil
	}
	n, err := filter.Parse(expr)
	if err != nil {
		return nil, bundleerr.NewBadFilter(expr, err.Error())
	}
	return n, nil
}
