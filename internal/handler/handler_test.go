package handler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	id    string
	kinds Kind
}

func (h *stubHandler) ID() string          { return h.id }
func (h *stubHandler) ValidityKey() string { return h.id }
func (h *stubHandler) Kinds() Kind         { return h.kinds }
func (h *stubHandler) Start() error        { return nil }
func (h *stubHandler) Stop()               {}

type stubFactory struct {
	id  string
	err error
}

func (f *stubFactory) Build(componentContext, instance interface{}, occurrence int) (Handler, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stubHandler{id: f.id, kinds: KindDependency}, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("dep.simple", &stubFactory{id: "dep.simple"})

	f, ok := r.Lookup("dep.simple")
	require.True(t, ok)
	h, err := f.Build(nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "dep.simple", h.ID())
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("missing")
	assert.False(t, ok)
}

func TestBuildAllSkipsUnknownIDs(t *testing.T) {
	r := NewRegistry()
	r.Register("a", &stubFactory{id: "a"})

	handlers, err := r.BuildAll([]string{"a", "b"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, handlers, 1)
	assert.Equal(t, "a", handlers[0].ID())
}

func TestBuildAllPropagatesFactoryError(t *testing.T) {
	r := NewRegistry()
	r.Register("a", &stubFactory{id: "a", err: errors.New("boom")})

	_, err := r.BuildAll([]string{"a"}, nil, nil)
	assert.Error(t, err)
}

func TestKindHas(t *testing.T) {
	k := KindDependency | KindController
	assert.True(t, k.Has(KindDependency))
	assert.False(t, k.Has(KindServiceProvider))
}

type occurrenceFactory struct{ seen []int }

func (f *occurrenceFactory) Build(componentContext, instance interface{}, occurrence int) (Handler, error) {
	f.seen = append(f.seen, occurrence)
	return &stubHandler{id: "dup", kinds: KindDependency}, nil
}

func TestBuildAllCountsOccurrencesPerRepeatedID(t *testing.T) {
	r := NewRegistry()
	f := &occurrenceFactory{}
	r.Register("dup", f)

	handlers, err := r.BuildAll([]string{"dup", "dup", "dup"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, handlers, 3)
	assert.Equal(t, []int{0, 1, 2}, f.seen)
}

func TestUnregisterRemoves(t *testing.T) {
	r := NewRegistry()
	r.Register("a", &stubFactory{id: "a"})
	r.Unregister("a")
	_, ok := r.Lookup("a")
	assert.False(t, ok)
}
