// Package component implements the component instance manager (spec §2
// component F, "StoredInstance"): the per-instance state machine that
// drives the handler pipeline and invokes lifecycle callbacks on the
// user's instance object.
package component

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/hexalayer/bundle/internal/bundlectx"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/metrics"
	"github.com/hexalayer/bundle/pkg/logging"
)

// State is a StoredInstance's lifecycle state (spec §4.5).
type State int

const (
	StateInvalid State = iota
	StateValid
	StateErroneous
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "INVALID"
	case StateValid:
		return "VALID"
	case StateErroneous:
		return "ERRONEOUS"
	case StateKilled:
		return "KILLED"
	default:
		return "UNKNOWN"
	}
}

// StoredInstance is one running component instance: its user object, the
// handlers built for it, and the lock that serializes every state
// transition (spec §4.5 "transitions are serialized per instance by the
// SI lock").
type StoredInstance struct {
	fc       *FactoryContext
	ctx      *bundlectx.BundleContext
	instance reflect.Value

	mu       sync.Mutex
	state    State
	handlers []handler.Handler
	// validHandlers tracks, by handler.Handler.ValidityKey() (not ID() —
	// a factory may declare several requirements of the same kind on
	// different fields, and those handlers share one ID()), whether that
	// handler's non-optional requirement is currently satisfied (spec §4.5
	// "INVALID -> VALID when all non-optional dependencies ... report
	// valid").
	validHandlers map[string]bool
	watchers      []propertyWatcher

	propsMu sync.RWMutex
	props   map[string]interface{}
}

// propertyWatcher is notified by SetProperty whenever a property changes;
// used by the variable-filter dependency handler to re-render its filter
// template (spec §4.6 "Variable filter").
type propertyWatcher func(name string, value interface{})

// NewStoredInstance allocates the user instance from fc's type and
// constructs (but does not start) its StoredInstance wrapper. An optional
// initial property map seeds the merged public properties a var-filter
// requirement renders its template against; it defaults to fc's own
// declared properties.
func NewStoredInstance(fc *FactoryContext, ctx *bundlectx.BundleContext, initialProps ...map[string]interface{}) *StoredInstance {
	props := make(map[string]interface{}, len(fc.Descriptor.Properties))
	for k, v := range fc.Descriptor.Properties {
		props[k] = v
	}
	for _, override := range initialProps {
		for k, v := range override {
			props[k] = v
		}
	}
	return &StoredInstance{
		fc:            fc,
		ctx:           ctx,
		instance:      fc.NewInstance(),
		state:         StateInvalid,
		validHandlers: make(map[string]bool),
		props:         props,
	}
}

// Property reads a merged public property of the instance.
func (si *StoredInstance) Property(key string) (interface{}, bool) {
	si.propsMu.RLock()
	defer si.propsMu.RUnlock()
	v, ok := si.props[key]
	return v, ok
}

// Properties returns a snapshot of every merged public property.
func (si *StoredInstance) Properties() map[string]interface{} {
	si.propsMu.RLock()
	defer si.propsMu.RUnlock()
	out := make(map[string]interface{}, len(si.props))
	for k, v := range si.props {
		out[k] = v
	}
	return out
}

// SetProperty updates a merged public property and notifies every
// registered watcher (spec §4.6 "every property change whose name appears
// in the token set").
func (si *StoredInstance) SetProperty(key string, value interface{}) {
	si.propsMu.Lock()
	si.props[key] = value
	si.propsMu.Unlock()

	si.mu.Lock()
	watchers := make([]propertyWatcher, len(si.watchers))
	copy(watchers, si.watchers)
	si.mu.Unlock()

	for _, w := range watchers {
		w(key, value)
	}
}

// WatchProperties registers w to be called on every future SetProperty.
func (si *StoredInstance) WatchProperties(w func(name string, value interface{})) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.watchers = append(si.watchers, w)
}

// State returns the current lifecycle state.
func (si *StoredInstance) State() State {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.state
}

// Instance returns the underlying user object (a pointer to the factory's
// declared struct type).
func (si *StoredInstance) Instance() interface{} {
	return si.instance.Interface()
}

// InstanceContext is the componentContext handed to handler.Factory.Build
// for every handler this instance builds: the immutable factory metadata,
// this instance's bundle context (so handlers can subscribe to the
// dispatcher and resolve services), and the StoredInstance itself, narrowed
// to the callback surface a handler needs (field injection, lifecycle
// callback invocation, validity reporting).
type InstanceContext struct {
	FC     *FactoryContext
	Bundle *bundlectx.BundleContext
	SI     *StoredInstance
}

// Start builds every declared handler via registry, then starts each
// (they may register themselves as service listeners), then runs the
// first satisfaction pass (spec §4.5 "Handler pipeline").
func (si *StoredInstance) Start(registry *handler.Registry) error {
	instCtx := &InstanceContext{FC: si.fc, Bundle: si.ctx, SI: si}
	handlers, err := registry.BuildAll(si.fc.HandlerIDs, instCtx, si.instance.Interface())
	if err != nil {
		return fmt.Errorf("component: building handlers for %q: %w", si.fc.Descriptor.Name, err)
	}

	si.mu.Lock()
	si.handlers = handlers
	for _, h := range handlers {
		si.validHandlers[h.ValidityKey()] = false
	}
	si.mu.Unlock()

	for _, h := range handlers {
		if err := h.Start(); err != nil {
			si.markErroneous(err)
			return err
		}
	}

	si.reevaluateValidity()
	return nil
}

// HandleDependencyValidity is called by dependency handlers (spec §4.6)
// whenever their own satisfaction state changes, to drive the overall
// instance validity transition. validityKey identifies the reporting
// handler instance (handler.Handler.ValidityKey()), not merely its kind.
func (si *StoredInstance) HandleDependencyValidity(validityKey string, satisfied bool) {
	si.mu.Lock()
	if si.state == StateKilled {
		si.mu.Unlock()
		return
	}
	si.validHandlers[validityKey] = satisfied
	si.mu.Unlock()

	si.reevaluateValidity()
}

func (si *StoredInstance) reevaluateValidity() {
	si.mu.Lock()
	if si.state == StateKilled || si.state == StateErroneous {
		si.mu.Unlock()
		return
	}
	allSatisfied := true
	for _, ok := range si.validHandlers {
		if !ok {
			allSatisfied = false
			break
		}
	}
	current := si.state
	si.mu.Unlock()

	switch {
	case allSatisfied && current == StateInvalid:
		si.transitionToValid()
	case !allSatisfied && current == StateValid:
		si.transitionToInvalid()
	}
}

// transitionToValid runs the provider's post_validate-equivalent
// registration step and the instance's Validate callback (spec §4.5).
func (si *StoredInstance) transitionToValid() {
	if err := si.invokeCallback("Validate"); err != nil {
		si.markErroneous(err)
		return
	}
	si.mu.Lock()
	si.state = StateValid
	si.mu.Unlock()
	metrics.SetComponentValidity(si.fc.Descriptor.Name, true)
	si.runPostValidateOnProviders()
}

// runPostValidateOnProviders tells every service-provider handler that the
// instance just became valid (spec §4.7 "post_validate turns on the
// validated flag; combined with controller-on ... the service is
// registered").
func (si *StoredInstance) runPostValidateOnProviders() {
	si.mu.Lock()
	handlers := make([]handler.Handler, len(si.handlers))
	copy(handlers, si.handlers)
	si.mu.Unlock()

	for _, h := range handlers {
		if !h.Kinds().Has(handler.KindServiceProvider) {
			continue
		}
		if pv, ok := h.(interface{ PostValidate() }); ok {
			pv.PostValidate()
		}
	}
}

// transitionToInvalid runs pre_invalidate on service-provider handlers
// (unregistering the provided service) before Invalidate on the instance
// (spec §4.5 "the reverse happens").
func (si *StoredInstance) transitionToInvalid() {
	si.runPreInvalidateOnProviders()
	if err := si.invokeCallback("Invalidate"); err != nil {
		si.markErroneous(err)
		return
	}
	si.mu.Lock()
	si.state = StateInvalid
	si.mu.Unlock()
	metrics.SetComponentValidity(si.fc.Descriptor.Name, false)
}

func (si *StoredInstance) runPreInvalidateOnProviders() {
	si.mu.Lock()
	handlers := make([]handler.Handler, len(si.handlers))
	copy(handlers, si.handlers)
	si.mu.Unlock()

	for _, h := range handlers {
		if !h.Kinds().Has(handler.KindServiceProvider) {
			continue
		}
		if pi, ok := h.(interface{ PreInvalidate() }); ok {
			pi.PreInvalidate()
		}
	}
}

// Kill stops every handler, runs pre_invalidate/Invalidate if the
// instance was valid, and transitions unconditionally to KILLED
// (spec §4.5 "any -> KILLED on explicit removal").
func (si *StoredInstance) Kill() {
	si.mu.Lock()
	wasValid := si.state == StateValid
	si.state = StateKilled
	handlers := make([]handler.Handler, len(si.handlers))
	copy(handlers, si.handlers)
	si.mu.Unlock()

	if wasValid {
		si.runPreInvalidateOnProviders()
		_ = si.invokeCallback("Invalidate")
	}
	for _, h := range handlers {
		h.Stop()
	}
	metrics.DeleteComponent(si.fc.Descriptor.Name)
}

// invokeCallback calls the named zero-argument, single-error-return
// method on the instance via reflection, swallowing a missing method
// (not every callback is declared) and converting a panic or returned
// error into a ComponentCallbackFailure-worthy error for the caller to
// mark ERRONEOUS (spec §4.5 "Failure semantics").
func (si *StoredInstance) invokeCallback(name string) (err error) {
	method := si.instance.MethodByName(name)
	if !method.IsValid() {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("component: callback %q panicked: %v", name, rec)
		}
	}()
	results := method.Call(nil)
	if len(results) == 1 && !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// SetField assigns value to the named field on the instance object
// (spec §4.5 "assigns the injected field"), tolerating a missing or
// unassignable field (a misdeclared requirement is a configuration detail
// surfaced elsewhere, not a reason to panic here). A nil value zeroes the
// field, which is how dependency handlers clear an unbound slot.
func (si *StoredInstance) SetField(name string, value interface{}) {
	field := si.instance.Elem().FieldByName(name)
	if !field.IsValid() || !field.CanSet() {
		return
	}
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return
	}
	v := reflect.ValueOf(value)
	switch {
	case v.Type().AssignableTo(field.Type()):
		field.Set(v)
	case v.Type().ConvertibleTo(field.Type()):
		field.Set(v.Convert(field.Type()))
	}
}

// InvokeFieldCallback calls the named method with args, best-effort: a
// missing method, an arg that doesn't fit the method's parameter type, or
// a panic are all tolerated rather than propagated, matching spec §4.5's
// "field-scoped lifecycle callback (if declared)" — these are optional
// hooks, not contracts the handler can rely on succeeding.
func (si *StoredInstance) InvokeFieldCallback(name string, args ...interface{}) {
	if name == "" {
		return
	}
	method := si.instance.MethodByName(name)
	if !method.IsValid() {
		return
	}
	mtype := method.Type()
	in := make([]reflect.Value, 0, len(args))
	for i, a := range args {
		if i >= mtype.NumIn() {
			break
		}
		if a == nil {
			in = append(in, reflect.Zero(mtype.In(i)))
			continue
		}
		v := reflect.ValueOf(a)
		if v.Type().AssignableTo(mtype.In(i)) {
			in = append(in, v)
		} else {
			in = append(in, reflect.Zero(mtype.In(i)))
		}
	}
	defer func() { recover() }()
	method.Call(in)
}

// InvokeBindCallback calls the named field-scoped bind callback and, unlike
// InvokeFieldCallback, returns its error (or a panic converted to one)
// instead of swallowing it. A handler that binds several services in one
// pass (aggregate's initial satisfaction sweep, spec §4.5 "a bulk 'try bind
// aggregate' that partially fails rolls back all partial bindings") uses
// this to detect a failed bind and stop before attempting the rest.
func (si *StoredInstance) InvokeBindCallback(name string, args ...interface{}) (err error) {
	if name == "" {
		return nil
	}
	method := si.instance.MethodByName(name)
	if !method.IsValid() {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("component: bind callback %q panicked: %v", name, rec)
		}
	}()
	mtype := method.Type()
	in := make([]reflect.Value, 0, len(args))
	for i, a := range args {
		if i >= mtype.NumIn() {
			break
		}
		if a == nil {
			in = append(in, reflect.Zero(mtype.In(i)))
			continue
		}
		v := reflect.ValueOf(a)
		if v.Type().AssignableTo(mtype.In(i)) {
			in = append(in, v)
		} else {
			in = append(in, reflect.Zero(mtype.In(i)))
		}
	}
	results := method.Call(in)
	if len(results) == 1 && !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// MarkErroneous transitions the instance to ERRONEOUS from outside the
// Start path, for a handler that discovers a bind failure once the
// instance is already running (spec §4.5 "Failure semantics").
func (si *StoredInstance) MarkErroneous(cause error) { si.markErroneous(cause) }

func (si *StoredInstance) markErroneous(cause error) {
	si.mu.Lock()
	si.state = StateErroneous
	si.mu.Unlock()
	metrics.SetComponentValidity(si.fc.Descriptor.Name, false)
	metrics.RecordComponentErroneous(si.fc.Descriptor.Name)
	logging.Error("Component", cause, "instance %q marked ERRONEOUS", si.fc.Descriptor.Name)
}
