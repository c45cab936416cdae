package dispatcher

// ShrinkableList is a view over a slice of ListenerInfo that allows removal
// but not insertion or overwrite (spec §4.4 step 2): a hook can hide a
// pending delivery but never fabricate one.
type ShrinkableList struct {
	items []ListenerInfo
}

// Len reports the number of listeners still pending delivery.
func (l *ShrinkableList) Len() int { return len(l.items) }

// Get returns the listener at index i.
func (l *ShrinkableList) Get(i int) ListenerInfo { return l.items[i] }

// Remove deletes the listener at index i.
func (l *ShrinkableList) Remove(i int) {
	l.items = append(l.items[:i], l.items[i+1:]...)
}

// RemoveContext removes every listener belonging to the given context.
func (l *ShrinkableList) RemoveContext(ctx interface{}) {
	out := l.items[:0]
	for _, item := range l.items {
		if item.Context != ctx {
			out = append(out, item)
		}
	}
	l.items = out
}

// Clear empties the list (a hook hiding all deliveries for a context).
func (l *ShrinkableList) Clear() { l.items = nil }

// Snapshot returns a defensive copy of what remains.
func (l *ShrinkableList) Snapshot() []ListenerInfo {
	out := make([]ListenerInfo, len(l.items))
	copy(out, l.items)
	return out
}

// ShrinkableMap groups ShrinkableLists by originating bundle-context.
// Deletion of an entry is permitted; inserting a new key and overwriting
// an existing one are both refused (spec §4.4 step 2).
type ShrinkableMap struct {
	order []interface{}
	lists map[interface{}]*ShrinkableList
}

// ErrInsertionRefused is returned (and otherwise ignored by the dispatcher,
// since hook exceptions are swallowed) whenever a hook calls Put, whether
// to add a new context or to overwrite an existing one.
type ErrInsertionRefused struct{ Context interface{} }

func (e *ErrInsertionRefused) Error() string {
	return "dispatcher: event-listener hook may not insert new context entries"
}

// newShrinkableMap groups listeners by context, preserving the order
// contexts were first observed in.
func newShrinkableMap(listeners []ListenerInfo) *ShrinkableMap {
	m := &ShrinkableMap{lists: make(map[interface{}]*ShrinkableList)}
	for _, l := range listeners {
		existing, ok := m.lists[l.Context]
		if !ok {
			existing = &ShrinkableList{}
			m.lists[l.Context] = existing
			m.order = append(m.order, l.Context)
		}
		existing.items = append(existing.items, l)
	}
	return m
}

// Get returns the ShrinkableList for ctx, or nil if ctx was not part of the
// original grouping (a hook cannot manufacture one).
func (m *ShrinkableMap) Get(ctx interface{}) *ShrinkableList { return m.lists[ctx] }

// Remove deletes ctx's entire entry from the map.
func (m *ShrinkableMap) Remove(ctx interface{}) {
	delete(m.lists, ctx)
	for i, c := range m.order {
		if c == ctx {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Put would add or overwrite an entry; per spec this is always refused.
func (m *ShrinkableMap) Put(ctx interface{}, _ *ShrinkableList) error {
	return &ErrInsertionRefused{Context: ctx}
}

// flatten reassembles the (possibly trimmed) per-context lists, in
// first-seen context order, into the final delivery set.
func (m *ShrinkableMap) flatten() []ListenerInfo {
	var out []ListenerInfo
	for _, ctx := range m.order {
		if l, ok := m.lists[ctx]; ok {
			out = append(out, l.items...)
		}
	}
	return out
}
