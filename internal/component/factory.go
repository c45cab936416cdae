package component

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

// FactoryContext binds a FactoryDescriptor to the Go type that implements
// it and the handler-IDs the instance manager should build for each
// declared requirement/provision (spec §4.5 "factory context").
type FactoryContext struct {
	Descriptor FactoryDescriptor
	// InstanceType is the reflect.Type new instances are built from via
	// reflect.New; it must be a struct type whose fields include every
	// RequirementDecl.Field name. A ProvidesDecl.Controller is read from the
	// instance's properties and needs no field.
	InstanceType reflect.Type
	// HandlerIDs lists, in build order, every handler-ID this factory
	// needs (spec §4.5's "registered handler factory whose handler-ID
	// appears in the factory context").
	HandlerIDs []string
}

// ParseFactoryDescriptor decodes a YAML document into a FactoryDescriptor
// (spec §6's decorator/metadata surface, expressed declaratively).
func ParseFactoryDescriptor(data []byte) (FactoryDescriptor, error) {
	var d FactoryDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return FactoryDescriptor{}, fmt.Errorf("component: parsing factory descriptor: %w", err)
	}
	if d.Name == "" {
		return FactoryDescriptor{}, fmt.Errorf("component: factory descriptor missing name")
	}
	return d, nil
}

// NewFactoryContext builds a FactoryContext for instanceType from
// descriptor, deriving the handler-ID list: one id per requirement kind
// in declaration order, plus "provider" when the factory provides any
// specification.
func NewFactoryContext(descriptor FactoryDescriptor, instanceType reflect.Type) *FactoryContext {
	ids := make([]string, 0, len(descriptor.Requires)+1)
	for _, req := range descriptor.Requires {
		ids = append(ids, handlerIDFor(req.Kind))
	}
	if len(descriptor.Provides) > 0 {
		ids = append(ids, "provider")
	}
	return &FactoryContext{Descriptor: descriptor, InstanceType: instanceType, HandlerIDs: ids}
}

func handlerIDFor(kind RequirementKind) string {
	return "dependency." + string(kind)
}

// NewInstance allocates a zero-valued instance of the factory's declared
// type.
func (fc *FactoryContext) NewInstance() reflect.Value {
	return reflect.New(fc.InstanceType)
}
