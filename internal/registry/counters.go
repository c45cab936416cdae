package registry

// usageKey identifies a (bundle, reference) pair for the plain usage
// counter (spec §3 "Usage Counter").
type usageKey struct {
	bundle BundleID
	refID  int64
}

// factoryKey identifies a (bundle, reference) pair for factory-produced
// services (spec §3 "Factory Counter").
type factoryKey struct {
	bundle BundleID
	refID  int64
}

// factoryEntry holds what a bundle currently has outstanding for a factory
// reference: a single (instance, count) for bundle-scoped factories, or a
// list of instances for prototype-scoped ones.
type factoryEntry struct {
	prototype bool
	count     int
	instance  interface{}   // bundle-scoped
	instances []interface{} // prototype-scoped, one per GetService call
}
