package component

// FactoryDescriptor is the declarative metadata a factory carries (spec §6
// "Decorator/metadata surface"), expressed as YAML rather than class
// decorators/reflection: a factory name, the specifications it provides,
// its dependency requirements, per-instance properties, and a block of
// lifecycle callback names (see CallbackDecl).
type FactoryDescriptor struct {
	Name       string              `yaml:"name"`
	Provides   []ProvidesDecl      `yaml:"provides,omitempty"`
	Requires   []RequirementDecl   `yaml:"requires,omitempty"`
	Properties map[string]string   `yaml:"properties,omitempty"`
	Instances  []InstanceDecl      `yaml:"instances,omitempty"`
	Callbacks  CallbackDecl        `yaml:"callbacks,omitempty"`
}

// ProvidesDecl declares a service the component publishes, optionally
// gated by a named boolean controller property of the instance (spec §4.7).
type ProvidesDecl struct {
	Specifications []string `yaml:"specifications"`
	Controller     string   `yaml:"controller,omitempty"`
}

// RequirementKind enumerates the seven dependency-handler kinds (spec
// §4.6).
type RequirementKind string

const (
	RequirementSimple     RequirementKind = "simple"
	RequirementAggregate  RequirementKind = "aggregate"
	RequirementBest       RequirementKind = "best"
	RequirementMap        RequirementKind = "map"
	RequirementVarFilter  RequirementKind = "var-filter"
	RequirementBroadcast  RequirementKind = "broadcast"
	RequirementTemporal   RequirementKind = "temporal"
)

// RequirementDecl declares one dependency field (spec §4.6, §6 attribute
// set: aggregate, optional, filter, immediate_rebind, timeout, key,
// allow_none, muffle, trace).
type RequirementDecl struct {
	Field            string          `yaml:"field"`
	Kind             RequirementKind `yaml:"kind"`
	Specification    string          `yaml:"specification"`
	Filter           string          `yaml:"filter,omitempty"`
	Optional         bool            `yaml:"optional,omitempty"`
	ImmediateRebind  bool            `yaml:"immediateRebind,omitempty"`
	TimeoutSeconds   float64         `yaml:"timeoutSeconds,omitempty"`
	Key              string          `yaml:"key,omitempty"`
	AllowNoneKey     bool            `yaml:"allowNoneKey,omitempty"`
	MuffleExceptions bool            `yaml:"muffleExceptions,omitempty"`
	TraceExceptions  bool            `yaml:"traceExceptions,omitempty"`
	// Aggregate selects the wrapped child kind for a var-filter requirement
	// (true: Aggregate, false: Simple) and the per-key cardinality for a map
	// requirement (true: []interface{} per key, false: single value).
	Aggregate bool `yaml:"aggregate,omitempty"`

	// BindCallback/UnbindCallback/UpdateCallback are the field-scoped
	// lifecycle callback names (spec §4.5 "field-scoped lifecycle
	// callback (if declared)").
	BindCallback   string `yaml:"bind,omitempty"`
	UnbindCallback string `yaml:"unbind,omitempty"`
	UpdateCallback string `yaml:"update,omitempty"`
}

// InstanceDecl declares an auto-instantiated component name plus its
// per-instance property overrides (spec §6 "instance-name declarations
// for auto-instantiation").
type InstanceDecl struct {
	Name       string                 `yaml:"name"`
	Properties map[string]interface{} `yaml:"properties,omitempty"`
}

// CallbackDecl holds the non-field-scoped lifecycle callback method names
// parsed from a descriptor (spec §6's Validate/Invalidate/Bind/Unbind/
// Update/PostRegistration/PostUnregistration markers). The instance
// manager does not read these names: it always calls the instance's
// methods named Validate and Invalidate, and the other entries have no
// effect.
type CallbackDecl struct {
	Validate           string `yaml:"validate,omitempty"`
	Invalidate         string `yaml:"invalidate,omitempty"`
	Bind               string `yaml:"bind,omitempty"`
	Unbind             string `yaml:"unbind,omitempty"`
	Update             string `yaml:"update,omitempty"`
	PostRegistration   string `yaml:"postRegistration,omitempty"`
	PostUnregistration string `yaml:"postUnregistration,omitempty"`
}
