package dependency

import (
	"reflect"
	"testing"

	"github.com/hexalayer/bundle/internal/bundlectx"
	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type varFilterComponent struct {
	Dep interface{}
}

func newVarFilterHarness(t *testing.T, props map[string]interface{}) (*bundlectx.Bundle, *component.StoredInstance) {
	t.Helper()
	fw := bundlectx.New(nil)
	b := fw.Install("demo", nil)
	require.NoError(t, b.Start())

	fc := component.NewFactoryContext(component.FactoryDescriptor{
		Name: "demo",
		Requires: []component.RequirementDecl{
			{Field: "Dep", Kind: component.RequirementVarFilter, Specification: "Bar", Filter: "(role={role})"},
		},
	}, reflect.TypeOf(varFilterComponent{}))
	si := component.NewStoredInstance(fc, b.Context(), props)
	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))
	return b, si
}

func TestVarFilterRendersPlaceholderFromInitialProperties(t *testing.T) {
	b, si := newVarFilterHarness(t, map[string]interface{}{"role": "primary"})

	_, err := b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{"role": "secondary"}, "wrong", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	_, err = b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{"role": "primary"}, "right", nil, registry.ScopeSingleton)
	require.NoError(t, err)

	assert.Equal(t, "right", si.Instance().(*varFilterComponent).Dep)
}

func TestVarFilterRebindsWhenPropertyChanges(t *testing.T) {
	b, si := newVarFilterHarness(t, map[string]interface{}{"role": "primary"})

	_, err := b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{"role": "primary"}, "p", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	_, err = b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{"role": "secondary"}, "s", nil, registry.ScopeSingleton)
	require.NoError(t, err)

	assert.Equal(t, "p", si.Instance().(*varFilterComponent).Dep)

	si.SetProperty("role", "secondary")
	assert.Equal(t, "s", si.Instance().(*varFilterComponent).Dep)
}
