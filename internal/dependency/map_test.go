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

type mapComponent struct {
	Deps interface{}
}

func TestMapKeysServicesByProperty(t *testing.T) {
	fw := bundlectx.New(nil)
	b := fw.Install("demo", nil)
	require.NoError(t, b.Start())
	_, err := b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{"role": "primary"}, "svc1", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	_, err = b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{"role": "secondary"}, "svc2", nil, registry.ScopeSingleton)
	require.NoError(t, err)

	fc := component.NewFactoryContext(component.FactoryDescriptor{
		Name: "demo",
		Requires: []component.RequirementDecl{
			{Field: "Deps", Kind: component.RequirementMap, Specification: "Bar", Key: "role"},
		},
	}, reflect.TypeOf(mapComponent{}))
	si := component.NewStoredInstance(fc, b.Context())
	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))

	m := si.Instance().(*mapComponent).Deps.(map[interface{}]interface{})
	assert.Equal(t, "svc1", m["primary"])
	assert.Equal(t, "svc2", m["secondary"])
}

func TestMapSkipsServiceMissingKeyUnlessAllowed(t *testing.T) {
	fw := bundlectx.New(nil)
	b := fw.Install("demo", nil)
	require.NoError(t, b.Start())
	_, err := b.Context().RegisterService([]string{"Bar"}, nil, "nokey", nil, registry.ScopeSingleton)
	require.NoError(t, err)

	fc := component.NewFactoryContext(component.FactoryDescriptor{
		Name: "demo",
		Requires: []component.RequirementDecl{
			{Field: "Deps", Kind: component.RequirementMap, Specification: "Bar", Key: "role", Optional: true},
		},
	}, reflect.TypeOf(mapComponent{}))
	si := component.NewStoredInstance(fc, b.Context())
	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))

	m, ok := si.Instance().(*mapComponent).Deps.(map[interface{}]interface{})
	if ok {
		assert.Empty(t, m)
	}
}

func TestMapAllowNoneKeyGroupsMissingKeyServices(t *testing.T) {
	fw := bundlectx.New(nil)
	b := fw.Install("demo", nil)
	require.NoError(t, b.Start())
	_, err := b.Context().RegisterService([]string{"Bar"}, nil, "nokey", nil, registry.ScopeSingleton)
	require.NoError(t, err)

	fc := component.NewFactoryContext(component.FactoryDescriptor{
		Name: "demo",
		Requires: []component.RequirementDecl{
			{Field: "Deps", Kind: component.RequirementMap, Specification: "Bar", Key: "role", AllowNoneKey: true},
		},
	}, reflect.TypeOf(mapComponent{}))
	si := component.NewStoredInstance(fc, b.Context())
	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))

	assert.Equal(t, component.StateValid, si.State())
	m := si.Instance().(*mapComponent).Deps.(map[interface{}]interface{})
	assert.Equal(t, "nokey", m[noKey{}])
}

func TestMapAggregateModeGroupsListsPerKey(t *testing.T) {
	fw := bundlectx.New(nil)
	b := fw.Install("demo", nil)
	require.NoError(t, b.Start())
	_, err := b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{"role": "primary"}, "a", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	_, err = b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{"role": "primary"}, "b", nil, registry.ScopeSingleton)
	require.NoError(t, err)

	fc := component.NewFactoryContext(component.FactoryDescriptor{
		Name: "demo",
		Requires: []component.RequirementDecl{
			{Field: "Deps", Kind: component.RequirementMap, Specification: "Bar", Key: "role", Aggregate: true},
		},
	}, reflect.TypeOf(mapComponent{}))
	si := component.NewStoredInstance(fc, b.Context())
	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))

	m := si.Instance().(*mapComponent).Deps.(map[interface{}][]interface{})
	assert.Len(t, m["primary"], 2)
}
