package component

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInstanceTypeAddsOneFieldPerRequirement(t *testing.T) {
	d := FactoryDescriptor{
		Name: "demo",
		Requires: []RequirementDecl{
			{Field: "Dep", Kind: RequirementSimple, Specification: "Bar"},
			{Field: "Deps", Kind: RequirementAggregate, Specification: "Baz"},
		},
	}
	typ := BuildInstanceType(d)
	require.Equal(t, reflect.Struct, typ.Kind())
	assert.Equal(t, 2, typ.NumField())

	depField, ok := typ.FieldByName("Dep")
	require.True(t, ok)
	assert.Equal(t, anyType, depField.Type)
}

func TestBuildInstanceTypeDedupesRepeatedFieldNames(t *testing.T) {
	d := FactoryDescriptor{
		Requires: []RequirementDecl{
			{Field: "Dep", Kind: RequirementSimple, Specification: "Bar"},
			{Field: "Dep", Kind: RequirementSimple, Specification: "Bar"},
		},
	}
	typ := BuildInstanceType(d)
	assert.Equal(t, 1, typ.NumField())
}

func TestBuildInstanceTypeEmptyWhenNoRequirements(t *testing.T) {
	typ := BuildInstanceType(FactoryDescriptor{Name: "demo"})
	assert.Equal(t, 0, typ.NumField())
}

// TestDynamicInstanceWorksWithStoredInstance exercises the field-injection
// path end to end: a StoredInstance built from a dynamically-synthesized
// type accepts SetField the same way a hand-written struct would.
func TestDynamicInstanceWorksWithStoredInstance(t *testing.T) {
	d := FactoryDescriptor{
		Name: "demo",
		Requires: []RequirementDecl{
			{Field: "Dep", Kind: RequirementSimple, Specification: "Bar"},
		},
	}
	fc := NewFactoryContext(d, BuildInstanceType(d))
	si := NewStoredInstance(fc, nil)

	si.SetField("Dep", "hello")
	field := si.instance.Elem().FieldByName("Dep")
	assert.Equal(t, "hello", field.Interface())
}
