package component

import "reflect"

// anyType is the reflect.Type every dependency handler injects into
// without conversion: SetField's AssignableTo check passes for any
// concrete value against interface{}, so a single field shape covers
// Simple/Best/Temporal's single service, Broadcast/Temporal's proxy,
// Aggregate's list, and Map's keyed map alike.
var anyType = reflect.TypeOf((*interface{})(nil)).Elem()

// BuildInstanceType synthesizes a struct type for a FactoryDescriptor that
// has no hand-written Go type backing it: one exported interface{} field
// per declared requirement, named after RequirementDecl.Field. This is the
// builder path spec §9 calls for in place of decorator/reflection magic —
// a descriptor fully determines its own instance shape, so a bundle can be
// nothing but a YAML document when none of its lifecycle callbacks need
// custom logic (bundlectl's "run" over a descriptor directory uses exactly
// this path). A descriptor whose callbacks do need real
// behavior instead calls NewFactoryContext with reflect.TypeOf(&MyType{})
// directly, bypassing this builder.
func BuildInstanceType(d FactoryDescriptor) reflect.Type {
	seen := make(map[string]bool, len(d.Requires))
	fields := make([]reflect.StructField, 0, len(d.Requires))
	for _, req := range d.Requires {
		if req.Field == "" || seen[req.Field] {
			continue
		}
		seen[req.Field] = true
		fields = append(fields, reflect.StructField{
			Name: req.Field,
			Type: anyType,
		})
	}
	if len(fields) == 0 {
		// reflect.StructOf(nil) is the empty struct, which is exactly
		// right for a descriptor with nothing to inject (e.g. a
		// provider-only bundle).
		return reflect.StructOf(nil)
	}
	return reflect.StructOf(fields)
}
