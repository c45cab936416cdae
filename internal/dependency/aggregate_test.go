package dependency

import (
	"errors"
	"reflect"
	"testing"

	"github.com/hexalayer/bundle/internal/bundlectx"
	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type aggregateComponent struct {
	Deps          []interface{}
	FailOnBindFor string
}

func (c *aggregateComponent) OnBind(svc interface{}, ref *registry.ServiceReference) error {
	if s, ok := svc.(string); ok && s == c.FailOnBindFor {
		return errors.New("refused")
	}
	return nil
}

func newAggregateHarness(t *testing.T, instance interface{}) (*bundlectx.Bundle, *component.StoredInstance) {
	t.Helper()
	fw := bundlectx.New(nil)
	b := fw.Install("demo", nil)
	require.NoError(t, b.Start())

	fc := component.NewFactoryContext(component.FactoryDescriptor{
		Name: "demo",
		Requires: []component.RequirementDecl{
			{Field: "Deps", Kind: component.RequirementAggregate, Specification: "Bar", BindCallback: "OnBind"},
		},
	}, reflect.TypeOf(aggregateComponent{}))
	si := component.NewStoredInstance(fc, b.Context())
	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))
	return b, si
}

func TestAggregateBindsEveryMatchInSROrder(t *testing.T) {
	fw := bundlectx.New(nil)
	b := fw.Install("demo", nil)
	require.NoError(t, b.Start())
	_, err := b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{registry.PropServiceRanking: 1}, "low", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	_, err = b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{registry.PropServiceRanking: 9}, "high", nil, registry.ScopeSingleton)
	require.NoError(t, err)

	fc := component.NewFactoryContext(component.FactoryDescriptor{
		Name: "demo",
		Requires: []component.RequirementDecl{
			{Field: "Deps", Kind: component.RequirementAggregate, Specification: "Bar"},
		},
	}, reflect.TypeOf(aggregateComponent{}))
	si := component.NewStoredInstance(fc, b.Context())
	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))

	assert.Equal(t, component.StateValid, si.State())
	deps := si.Instance().(*aggregateComponent).Deps
	require.Len(t, deps, 2)
	assert.Equal(t, []interface{}{"high", "low"}, deps)
}

func TestAggregateInvalidWithNoMembersWhenMandatory(t *testing.T) {
	_, si := newAggregateHarness(t, &aggregateComponent{})
	assert.Equal(t, component.StateInvalid, si.State())
}

func TestAggregateGrowsAndShrinksWithArrivalsAndDepartures(t *testing.T) {
	b, si := newAggregateHarness(t, &aggregateComponent{})

	reg1, err := b.Context().RegisterService([]string{"Bar"}, nil, "a", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	assert.Equal(t, component.StateValid, si.State())
	assert.Equal(t, []interface{}{"a"}, si.Instance().(*aggregateComponent).Deps)

	_, err = b.Context().RegisterService([]string{"Bar"}, nil, "b", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	assert.Len(t, si.Instance().(*aggregateComponent).Deps, 2)

	require.NoError(t, reg1.Unregister())
	assert.Equal(t, []interface{}{"b"}, si.Instance().(*aggregateComponent).Deps)
}

func TestAggregateRollsBackMemberWhenBindCallbackFails(t *testing.T) {
	fw := bundlectx.New(nil)
	b := fw.Install("demo", nil)
	require.NoError(t, b.Start())

	fc := component.NewFactoryContext(component.FactoryDescriptor{
		Name: "demo",
		Requires: []component.RequirementDecl{
			{Field: "Deps", Kind: component.RequirementAggregate, Specification: "Bar", BindCallback: "OnBind"},
		},
	}, reflect.TypeOf(aggregateComponent{}))
	si := component.NewStoredInstance(fc, b.Context())
	si.Instance().(*aggregateComponent).FailOnBindFor = "bad"

	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))

	_, err := b.Context().RegisterService([]string{"Bar"}, nil, "bad", nil, registry.ScopeSingleton)
	require.NoError(t, err)

	assert.Equal(t, component.StateErroneous, si.State())
	assert.Empty(t, si.Instance().(*aggregateComponent).Deps)
}
