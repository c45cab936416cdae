package component

import (
	"errors"
	"reflect"
	"testing"

	"github.com/hexalayer/bundle/internal/bundlectx"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type demoComponent struct {
	Validated   bool
	Invalidated bool
	FailValidate bool
}

func (d *demoComponent) Validate() error {
	if d.FailValidate {
		return errors.New("boom")
	}
	d.Validated = true
	return nil
}

func (d *demoComponent) Invalidate() error {
	d.Invalidated = true
	return nil
}

func TestParseFactoryDescriptor(t *testing.T) {
	doc := []byte(`
name: demo
provides:
  - specifications: ["Foo"]
    controller: Enabled
requires:
  - field: Dep
    kind: simple
    specification: Bar
`)
	d, err := ParseFactoryDescriptor(doc)
	require.NoError(t, err)
	assert.Equal(t, "demo", d.Name)
	require.Len(t, d.Provides, 1)
	assert.Equal(t, []string{"Foo"}, d.Provides[0].Specifications)
	require.Len(t, d.Requires, 1)
	assert.Equal(t, RequirementSimple, d.Requires[0].Kind)
}

func TestParseFactoryDescriptorRequiresName(t *testing.T) {
	_, err := ParseFactoryDescriptor([]byte(`provides: []`))
	assert.Error(t, err)
}

func TestNewFactoryContextDerivesHandlerIDs(t *testing.T) {
	descriptor := FactoryDescriptor{
		Name: "demo",
		Requires: []RequirementDecl{
			{Field: "Dep", Kind: RequirementSimple, Specification: "Bar"},
		},
		Provides: []ProvidesDecl{{Specifications: []string{"Foo"}}},
	}
	fc := NewFactoryContext(descriptor, reflect.TypeOf(demoComponent{}))
	assert.Equal(t, []string{"dependency.simple", "provider"}, fc.HandlerIDs)
}

// TestStoredInstanceTransitionsToValidWhenHandlersSatisfied exercises the
// INVALID -> VALID transition and the Validate callback invocation
// (spec §4.5).
func TestStoredInstanceTransitionsToValidWhenHandlersSatisfied(t *testing.T) {
	fc := NewFactoryContext(FactoryDescriptor{Name: "demo"}, reflect.TypeOf(demoComponent{}))
	si := NewStoredInstance(fc, (*bundlectx.BundleContext)(nil))
	assert.Equal(t, StateInvalid, si.State())

	reg := handler.NewRegistry()
	require.NoError(t, si.Start(reg))
	assert.Equal(t, StateValid, si.State())

	inst := si.Instance().(*demoComponent)
	assert.True(t, inst.Validated)
}

// TestStoredInstanceBecomesErroneousOnValidateFailure covers the
// ComponentCallbackFailure path.
func TestStoredInstanceBecomesErroneousOnValidateFailure(t *testing.T) {
	fc := NewFactoryContext(FactoryDescriptor{Name: "demo"}, reflect.TypeOf(demoComponent{}))
	si := NewStoredInstance(fc, (*bundlectx.BundleContext)(nil))
	si.instance.Interface().(*demoComponent).FailValidate = true

	reg := handler.NewRegistry()
	require.NoError(t, si.Start(reg))
	assert.Equal(t, StateErroneous, si.State())
}

// TestKillInvalidatesAValidInstance covers the any -> KILLED transition,
// including running Invalidate first if the instance was VALID.
func TestKillInvalidatesAValidInstance(t *testing.T) {
	fc := NewFactoryContext(FactoryDescriptor{Name: "demo"}, reflect.TypeOf(demoComponent{}))
	si := NewStoredInstance(fc, (*bundlectx.BundleContext)(nil))

	reg := handler.NewRegistry()
	require.NoError(t, si.Start(reg))
	require.Equal(t, StateValid, si.State())

	si.Kill()
	assert.Equal(t, StateKilled, si.State())
	assert.True(t, si.instance.Interface().(*demoComponent).Invalidated)
}

// TestHandleDependencyValidityDrivesTransitions covers a handler-driven
// validity change after Start, when a non-optional dependency was
// initially unsatisfied.
func TestHandleDependencyValidityDrivesTransitions(t *testing.T) {
	fc := NewFactoryContext(FactoryDescriptor{
		Name: "demo",
		Requires: []RequirementDecl{
			{Field: "Dep", Kind: RequirementSimple, Specification: "Bar"},
		},
	}, reflect.TypeOf(demoComponent{}))
	si := NewStoredInstance(fc, (*bundlectx.BundleContext)(nil))

	reg := handler.NewRegistry()
	reg.Register("dependency.simple", buildStubFactory())
	require.NoError(t, si.Start(reg))
	assert.Equal(t, StateInvalid, si.State())

	si.HandleDependencyValidity("dependency.simple", true)
	assert.Equal(t, StateValid, si.State())

	si.HandleDependencyValidity("dependency.simple", false)
	assert.Equal(t, StateInvalid, si.State())
}

type stubHandlerFactory struct{}

func (f *stubHandlerFactory) Build(componentContext, instance interface{}, occurrence int) (handler.Handler, error) {
	return &plainStubHandler{}, nil
}

func buildStubFactory() handler.Factory { return &stubHandlerFactory{} }

type plainStubHandler struct{}

func (h *plainStubHandler) ID() string          { return "dependency.simple" }
func (h *plainStubHandler) ValidityKey() string { return "dependency.simple" }
func (h *plainStubHandler) Kinds() handler.Kind { return handler.KindDependency }
func (h *plainStubHandler) Start() error        { return nil }
func (h *plainStubHandler) Stop()               {}
