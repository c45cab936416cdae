package registry

import (
	"testing"

	"github.com/hexalayer/bundle/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []ServiceEvent
}

func (s *recordingSink) FireServiceEvent(e ServiceEvent) { s.events = append(s.events, e) }

func rankedProps(rank int) map[string]interface{} {
	return map[string]interface{}{PropServiceRanking: rank}
}

// TestRegisterOrdersByRanking is scenario S1: three registrations with
// rankings 1, 3, 2 must be returned highest-ranking first.
func TestRegisterOrdersByRanking(t *testing.T) {
	reg := New(nil)
	_, err := reg.Register(1, []string{"Foo"}, rankedProps(1), nil, nil, ScopeSingleton)
	require.NoError(t, err)
	_, err = reg.Register(1, []string{"Foo"}, rankedProps(3), nil, nil, ScopeSingleton)
	require.NoError(t, err)
	_, err = reg.Register(1, []string{"Foo"}, rankedProps(2), nil, nil, ScopeSingleton)
	require.NoError(t, err)

	refs, err := reg.FindServiceReferences("Foo", nil, false)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, 3, refs[0].Ranking())
	assert.Equal(t, 2, refs[1].Ranking())
	assert.Equal(t, 1, refs[2].Ranking())
}

// TestRegisterRequiresSpecification covers the mandatory-objectClass edge
// case (spec §4.2, §7 MandatoryMissing).
func TestRegisterRequiresSpecification(t *testing.T) {
	reg := New(nil)
	_, err := reg.Register(1, nil, nil, nil, nil, ScopeSingleton)
	require.Error(t, err)
}

// TestSetPropertiesRerankFiresModifiedAndResorts is scenario S2: bumping a
// lower-ranked service above another must fire MODIFIED and change order.
func TestSetPropertiesRerankFiresModifiedAndResorts(t *testing.T) {
	sink := &recordingSink{}
	reg := New(sink)
	regA, err := reg.Register(1, []string{"Foo"}, rankedProps(1), nil, nil, ScopeSingleton)
	require.NoError(t, err)
	_, err = reg.Register(1, []string{"Foo"}, rankedProps(2), nil, nil, ScopeSingleton)
	require.NoError(t, err)

	regA.SetProperties(rankedProps(10))

	refs, err := reg.FindServiceReferences("Foo", nil, false)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, regA.Reference().ServiceID(), refs[0].ServiceID())

	var modified int
	for _, e := range sink.events {
		if e.Kind == EventModified {
			modified++
		}
	}
	assert.Equal(t, 1, modified)
}

// TestSetPropertiesNoopWhenUnchanged covers the spec §8 invariant that
// reapplying the same properties does not fire MODIFIED.
func TestSetPropertiesNoopWhenUnchanged(t *testing.T) {
	sink := &recordingSink{}
	reg := New(sink)
	regA, err := reg.Register(1, []string{"Foo"}, map[string]interface{}{"k": "v"}, nil, nil, ScopeSingleton)
	require.NoError(t, err)
	sink.events = nil

	regA.SetProperties(map[string]interface{}{"k": "v"})
	assert.Empty(t, sink.events)
}

// TestSetPropertiesWithListValuedPropertyDoesNotPanic covers updating a
// service whose property is list-valued ([]string), which the LDAP engine
// explicitly supports (spec §4.1 "list-valued properties match if any
// element matches"); comparing two such interface{} values with != panics,
// so change detection must use a comparable-safe check instead.
func TestSetPropertiesWithListValuedPropertyDoesNotPanic(t *testing.T) {
	sink := &recordingSink{}
	reg := New(sink)
	regA, err := reg.Register(1, []string{"Foo"}, map[string]interface{}{"tags": []string{"a", "b"}}, nil, nil, ScopeSingleton)
	require.NoError(t, err)
	sink.events = nil

	assert.NotPanics(t, func() {
		regA.SetProperties(map[string]interface{}{"tags": []string{"a", "b"}})
	})
	assert.Empty(t, sink.events, "reapplying an equal slice is a no-op")

	assert.NotPanics(t, func() {
		regA.SetProperties(map[string]interface{}{"tags": []string{"a", "c"}})
	})
	require.Len(t, sink.events, 1)
	assert.Equal(t, EventModified, sink.events[0].Kind)
}

// TestFindServiceReferencesFilter exercises filter-based lookup combined
// with a specification restriction.
func TestFindServiceReferencesFilter(t *testing.T) {
	reg := New(nil)
	_, err := reg.Register(1, []string{"Foo"}, map[string]interface{}{"color": "red"}, nil, nil, ScopeSingleton)
	require.NoError(t, err)
	_, err = reg.Register(1, []string{"Foo"}, map[string]interface{}{"color": "blue"}, nil, nil, ScopeSingleton)
	require.NoError(t, err)

	f := filter.MustParse("(color=blue)")
	refs, err := reg.FindServiceReferences("Foo", f, false)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "blue", refs[0].Properties()["color"])
}

// TestUnregisterFiresUnregisteringAndRemoves covers the invariant that an
// unregistered reference is no longer discoverable, and a second
// Unregister fails.
func TestUnregisterFiresUnregisteringAndRemoves(t *testing.T) {
	sink := &recordingSink{}
	reg := New(sink)
	regA, err := reg.Register(1, []string{"Foo"}, nil, nil, nil, ScopeSingleton)
	require.NoError(t, err)

	require.NoError(t, regA.Unregister())
	refs, err := reg.FindServiceReferences("Foo", nil, false)
	require.NoError(t, err)
	assert.Empty(t, refs)

	err = regA.Unregister()
	assert.Error(t, err)

	require.Len(t, sink.events, 2)
	assert.Equal(t, EventRegistered, sink.events[0].Kind)
	assert.Equal(t, EventUnregistering, sink.events[1].Kind)
}

type countingFactory struct {
	gets, ungets int
}

func (f *countingFactory) GetService(bundle BundleID, ref *ServiceReference) (interface{}, error) {
	f.gets++
	return "instance", nil
}

func (f *countingFactory) UngetService(bundle BundleID, ref *ServiceReference, service interface{}) {
	f.ungets++
}

// TestBundleScopedFactoryCountsUsage covers spec §3's bundle-scoped factory
// counter: multiple GetService calls from the same bundle share one
// underlying instance, released only when the count reaches zero.
func TestBundleScopedFactoryCountsUsage(t *testing.T) {
	reg := New(nil)
	factory := &countingFactory{}
	r, err := reg.Register(1, []string{"Foo"}, nil, nil, factory, ScopeBundle)
	require.NoError(t, err)
	ref := r.Reference()

	inst1, err := reg.GetService(1, ref)
	require.NoError(t, err)
	inst2, err := reg.GetService(1, ref)
	require.NoError(t, err)
	assert.Equal(t, inst1, inst2)
	assert.Equal(t, 1, factory.gets)

	assert.True(t, reg.UngetService(1, ref, inst1))
	assert.Equal(t, 0, factory.ungets)
	assert.True(t, reg.UngetService(1, ref, inst2))
	assert.Equal(t, 1, factory.ungets)
}

// TestPrototypeScopedFactoryTracksEachInstance covers spec §3's
// prototype-scoped factory counter: every GetService call yields a distinct
// tracked instance, released independently.
func TestPrototypeScopedFactoryTracksEachInstance(t *testing.T) {
	reg := New(nil)
	factory := &countingFactory{}
	r, err := reg.Register(1, []string{"Foo"}, nil, nil, factory, ScopePrototype)
	require.NoError(t, err)
	ref := r.Reference()

	inst1, err := reg.GetService(1, ref)
	require.NoError(t, err)
	inst2, err := reg.GetService(1, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, factory.gets)

	assert.True(t, reg.UngetService(1, ref, inst1))
	assert.Equal(t, 1, factory.ungets)
	assert.True(t, reg.UngetService(1, ref, inst2))
	assert.Equal(t, 2, factory.ungets)
}

// TestUngetUsedServicesReleasesOutstanding covers bundle-stop cleanup.
func TestUngetUsedServicesReleasesOutstanding(t *testing.T) {
	reg := New(nil)
	factory := &countingFactory{}
	r, err := reg.Register(1, []string{"Foo"}, nil, nil, factory, ScopeBundle)
	require.NoError(t, err)
	ref := r.Reference()

	_, err = reg.GetService(2, ref)
	require.NoError(t, err)

	reg.UngetUsedServices(2)
	assert.Equal(t, 1, factory.ungets)
}

// TestHideBundleServicesWithdrawsAll covers the bundle-stop service
// withdrawal sweep, ordered by SR order.
func TestHideBundleServicesWithdrawsAll(t *testing.T) {
	sink := &recordingSink{}
	reg := New(sink)
	_, err := reg.Register(1, []string{"Foo"}, rankedProps(1), nil, nil, ScopeSingleton)
	require.NoError(t, err)
	_, err = reg.Register(1, []string{"Bar"}, rankedProps(5), nil, nil, ScopeSingleton)
	require.NoError(t, err)
	_, err = reg.Register(2, []string{"Baz"}, nil, nil, nil, ScopeSingleton)
	require.NoError(t, err)

	withdrawn := reg.HideBundleServices(1)
	require.Len(t, withdrawn, 2)
	assert.Equal(t, 5, withdrawn[0].Ranking())

	refs, err := reg.FindServiceReferences("", nil, false)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "Baz", refs[0].ObjectClass()[0])
}

// TestHideBundleServicesKeepsPendingRefResolvable covers spec §3
// "Ownership": a hidden service is unindexed from spec lookup but stays
// addressable by reference (GetService) for the duration of the STOPPING
// event, until either Unregister pops it from pending or PurgePending
// drops it once the window closes.
func TestHideBundleServicesKeepsPendingRefResolvable(t *testing.T) {
	sink := &recordingSink{}
	reg := New(sink)
	regA, err := reg.Register(1, []string{"Foo"}, nil, "svc1", nil, ScopeSingleton)
	require.NoError(t, err)
	ref := regA.Reference()
	sink.events = nil

	withdrawn := reg.HideBundleServices(1)
	require.Len(t, withdrawn, 1)
	require.Len(t, sink.events, 1)
	assert.Equal(t, EventUnregistering, sink.events[0].Kind)

	refs, err := reg.FindServiceReferences("Foo", nil, false)
	require.NoError(t, err)
	assert.Empty(t, refs, "hidden service must be unindexed from spec lookup")

	svc, err := reg.GetService(1, ref)
	require.NoError(t, err, "a hidden reference stays resolvable during the STOPPING window")
	assert.Equal(t, "svc1", svc)

	popped, err := reg.Unregister(ref)
	require.NoError(t, err)
	assert.Same(t, ref, popped)
	assert.Len(t, sink.events, 1, "Unregister popping from pending must not re-fire UNREGISTERING")

	_, err = reg.Unregister(ref)
	assert.Error(t, err, "a second Unregister must fail: unknown service")
}

// TestPurgePendingDropsUnclaimedHiddenServices covers the other half of
// spec §3 "Ownership" ("then fully removes them"): a hidden reference the
// bundle-stop sequence never got around to popping via Unregister is
// dropped once PurgePending runs, after which it is no longer resolvable.
func TestPurgePendingDropsUnclaimedHiddenServices(t *testing.T) {
	reg := New(nil)
	regA, err := reg.Register(1, []string{"Foo"}, nil, "svc1", nil, ScopeSingleton)
	require.NoError(t, err)
	ref := regA.Reference()

	reg.HideBundleServices(1)
	_, err = reg.GetService(1, ref)
	require.NoError(t, err)

	reg.PurgePending(1)
	_, err = reg.GetService(1, ref)
	assert.Error(t, err)

	_, err = reg.Unregister(ref)
	assert.Error(t, err)
}

// TestFindServiceReferencesOnlyOne covers the onlyOne shortcut used by
// get_service_reference (singular).
func TestFindServiceReferencesOnlyOne(t *testing.T) {
	reg := New(nil)
	_, err := reg.Register(1, []string{"Foo"}, rankedProps(1), nil, nil, ScopeSingleton)
	require.NoError(t, err)
	_, err = reg.Register(1, []string{"Foo"}, rankedProps(9), nil, nil, ScopeSingleton)
	require.NoError(t, err)

	refs, err := reg.FindServiceReferences("Foo", nil, true)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, 9, refs[0].Ranking())
}
