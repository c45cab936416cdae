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

type bestComponent struct {
	Dep interface{}
}

func newBestHarness(t *testing.T) (*bundlectx.Bundle, *component.StoredInstance) {
	t.Helper()
	fw := bundlectx.New(nil)
	b := fw.Install("demo", nil)
	require.NoError(t, b.Start())

	fc := component.NewFactoryContext(component.FactoryDescriptor{
		Name: "demo",
		Requires: []component.RequirementDecl{
			{Field: "Dep", Kind: component.RequirementBest, Specification: "Bar"},
		},
	}, reflect.TypeOf(bestComponent{}))
	si := component.NewStoredInstance(fc, b.Context())
	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))
	return b, si
}

func TestBestBindsHighestRankingAtStart(t *testing.T) {
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
			{Field: "Dep", Kind: component.RequirementBest, Specification: "Bar"},
		},
	}, reflect.TypeOf(bestComponent{}))
	si := component.NewStoredInstance(fc, b.Context())
	reg := handler.NewRegistry()
	RegisterAll(reg)
	require.NoError(t, si.Start(reg))

	assert.Equal(t, "high", si.Instance().(*bestComponent).Dep)
}

func TestBestSwapsToHigherRankingArrival(t *testing.T) {
	b, si := newBestHarness(t)

	_, err := b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{registry.PropServiceRanking: 1}, "low", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	assert.Equal(t, "low", si.Instance().(*bestComponent).Dep)

	_, err = b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{registry.PropServiceRanking: 9}, "high", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	assert.Equal(t, "high", si.Instance().(*bestComponent).Dep)
}

func TestBestFallsBackToNextBestOnDeparture(t *testing.T) {
	b, si := newBestHarness(t)

	_, err := b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{registry.PropServiceRanking: 1}, "low", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	highReg, err := b.Context().RegisterService([]string{"Bar"}, map[string]interface{}{registry.PropServiceRanking: 9}, "high", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	assert.Equal(t, "high", si.Instance().(*bestComponent).Dep)

	require.NoError(t, highReg.Unregister())
	assert.Equal(t, "low", si.Instance().(*bestComponent).Dep)
	assert.Equal(t, component.StateValid, si.State())
}

func TestBestGoesInvalidWhenLastBoundDeparts(t *testing.T) {
	b, si := newBestHarness(t)
	reg, err := b.Context().RegisterService([]string{"Bar"}, nil, "only", nil, registry.ScopeSingleton)
	require.NoError(t, err)
	assert.Equal(t, component.StateValid, si.State())

	require.NoError(t, reg.Unregister())
	assert.Equal(t, component.StateInvalid, si.State())
	assert.Nil(t, si.Instance().(*bestComponent).Dep)
}
