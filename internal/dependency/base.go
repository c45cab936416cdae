// Package dependency implements the seven dependency-handler kinds (spec
// §4.6): Simple, Aggregate, Best, Map, Variable filter, Broadcast, and
// Temporal. All derive from the common bookkeeping in base: each
// subscribes to the dispatcher (via its bundle context) for its
// requirement's specification and filter, and reports satisfaction back to
// the owning StoredInstance through component.InstanceContext.SI.
package dependency

import (
	"fmt"

	"github.com/hexalayer/bundle/internal/bundlectx"
	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
)

// Handler-ids, mirroring component.handlerIDFor's "dependency.<kind>"
// convention so a factory registered under one of these is found by every
// FactoryContext that declares a requirement of the matching kind.
const (
	HandlerIDSimple     = "dependency.simple"
	HandlerIDAggregate  = "dependency.aggregate"
	HandlerIDBest       = "dependency.best"
	HandlerIDMap        = "dependency.map"
	HandlerIDVarFilter  = "dependency.var-filter"
	HandlerIDBroadcast  = "dependency.broadcast"
	HandlerIDTemporal   = "dependency.temporal"
)

// RegisterAll wires one factory per dependency kind into reg, so that any
// FactoryContext declaring the corresponding RequirementKind finds a
// handler factory for it (spec §4.5 "registered handler factory whose
// handler-id appears in the factory context").
func RegisterAll(reg *handler.Registry) {
	reg.Register(HandlerIDSimple, &SimpleFactory{})
	reg.Register(HandlerIDAggregate, &AggregateFactory{})
	reg.Register(HandlerIDBest, &BestFactory{})
	reg.Register(HandlerIDMap, &MapFactory{})
	reg.Register(HandlerIDVarFilter, &VarFilterFactory{})
	reg.Register(HandlerIDBroadcast, &BroadcastFactory{})
	reg.Register(HandlerIDTemporal, &TemporalFactory{})
}

// asInstanceContext recovers the concrete *component.InstanceContext a
// Factory.Build call receives as componentContext (handler.Factory keeps
// that parameter as interface{} to avoid an import cycle).
func asInstanceContext(componentContext interface{}) (*component.InstanceContext, error) {
	ic, ok := componentContext.(*component.InstanceContext)
	if !ok {
		return nil, fmt.Errorf("dependency: unexpected component context type %T", componentContext)
	}
	return ic, nil
}

// requirementFor returns the occurrence-th RequirementDecl of kind among
// fc's declared requirements, in declaration order — how a single
// globally-registered Factory tells apart a factory descriptor that
// declares the same dependency kind on more than one field.
func requirementFor(fc *component.FactoryContext, kind component.RequirementKind, occurrence int) (component.RequirementDecl, bool) {
	n := 0
	for _, req := range fc.Descriptor.Requires {
		if req.Kind != kind {
			continue
		}
		if n == occurrence {
			return req, true
		}
		n++
	}
	return component.RequirementDecl{}, false
}

// base holds the state every dependency-handler kind shares: its
// handler-id, the requirement declaration it implements, and the
// per-instance context it binds fields and validity reports through.
//
// handlerID alone is not unique per instance: a factory may declare two
// requirements of the same kind on different fields (spec §6 "zero or
// more dependency declarations ... each bound to a field name"), and every
// such handler is built from the same registered handler.Factory, so they
// all share the constant HandlerID* string. validityKey salts handlerID
// with the requirement's field name, which is unique within one factory's
// declarations, so the instance manager can track each handler's
// satisfaction independently instead of two handlers clobbering the same
// validHandlers entry.
type base struct {
	handlerID   string
	validityKey string
	req         component.RequirementDecl
	ctx         *component.InstanceContext
}

// newBase builds the shared handler bookkeeping, deriving validityKey from
// handlerID and the requirement's field at construction time.
func newBase(handlerID string, req component.RequirementDecl, ic *component.InstanceContext) base {
	return base{
		handlerID:   handlerID,
		validityKey: handlerID + "#" + req.Field,
		req:         req,
		ctx:         ic,
	}
}

func (b *base) ID() string { return b.handlerID }

// ValidityKey identifies this handler instance (not just its kind) in the
// owning StoredInstance's per-handler validity map (spec §4.5).
func (b *base) ValidityKey() string { return b.validityKey }

func (b *base) bundle() *bundlectx.BundleContext { return b.ctx.Bundle }

// reportValidity tells the owning StoredInstance whether this handler's
// requirement is currently satisfied (spec §4.5 "the manager ... updates
// overall validity").
func (b *base) reportValidity(satisfied bool) {
	b.ctx.SI.HandleDependencyValidity(b.validityKey, satisfied)
}

// satisfiedWith computes whether a dependency with the given bound-count is
// satisfied: optional requirements are always satisfied; mandatory ones
// need at least one bound service (spec §8 boundary: "a non-optional
// aggregate is valid iff at least one service is bound").
func (b *base) satisfiedWith(boundCount int) bool {
	return b.req.Optional || boundCount > 0
}

// fetchService resolves ref's instance through the bundle context,
// logging nothing on failure — a service that vanished between the
// dispatcher event and this call is simply treated as unavailable.
func fetchService(bc *bundlectx.BundleContext, ref *registry.ServiceReference) (interface{}, bool) {
	svc, err := bc.GetService(ref)
	if err != nil {
		return nil, false
	}
	return svc, true
}
