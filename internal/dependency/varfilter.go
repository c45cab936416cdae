package dependency

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hexalayer/bundle/internal/component"
	"github.com/hexalayer/bundle/internal/filter"
	"github.com/hexalayer/bundle/internal/handler"
	"github.com/hexalayer/bundle/internal/registry"
)

// VarFilterFactory builds VarFilter handlers (spec §4.6 "Variable filter").
type VarFilterFactory struct{}

func (f *VarFilterFactory) Build(componentContext, instance interface{}, occurrence int) (handler.Handler, error) {
	ic, err := asInstanceContext(componentContext)
	if err != nil {
		return nil, err
	}
	req, ok := requirementFor(ic.FC, component.RequirementVarFilter, occurrence)
	if !ok {
		return nil, errMissingRequirement(HandlerIDVarFilter, occurrence)
	}
	return &VarFilter{
		base:    newBase(HandlerIDVarFilter, req, ic),
		entries: make(map[int64]varFilterEntry),
	}, nil
}

type varFilterEntry struct {
	ref *registry.ServiceReference
	svc interface{}
}

// VarFilter re-renders its requirement's filter against the owning
// instance's properties whenever they change — {name} tokens are
// substituted with the current property value — and rebinds to match
// (spec §4.6 "Variable filter. Filter contains placeholders resolved from
// instance properties; rebinds when the rendered filter changes."). It
// wraps either single-value (Simple-like) or list (Aggregate-like)
// semantics depending on req.Aggregate.
type VarFilter struct {
	base

	mu           sync.Mutex
	renderedExpr string
	compiled     *filter.Node
	entries      map[int64]varFilterEntry
}

func (h *VarFilter) Kinds() handler.Kind { return handler.KindDependency }

func (h *VarFilter) Start() error {
	h.mu.Lock()
	h.renderedExpr = renderTemplate(h.req.Filter, h.ctx.SI.Properties())
	compiled, err := filter.Parse(h.renderedExpr)
	h.mu.Unlock()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.compiled = compiled
	h.mu.Unlock()

	if err := h.bundle().AddServiceListener(h.req.Specification, "", h.onEvent); err != nil {
		return err
	}
	h.ctx.SI.WatchProperties(h.onPropertyChange)

	refs, err := h.bundle().GetServiceReferences(h.req.Specification, "")
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if h.matches(ref) {
			h.bindOne(ref)
		}
	}
	h.reportCurrentValidity()
	return nil
}

func (h *VarFilter) Stop() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[int64]varFilterEntry)
	h.mu.Unlock()
	for _, e := range entries {
		h.bundle().UngetService(e.ref, e.svc)
	}
}

func (h *VarFilter) matches(ref *registry.ServiceReference) bool {
	h.mu.Lock()
	c := h.compiled
	h.mu.Unlock()
	return c.Matches(ref.Properties())
}

func (h *VarFilter) onEvent(event registry.ServiceEvent) {
	switch event.Kind {
	case registry.EventRegistered:
		if h.matches(event.Reference) {
			h.handleArrival(event.Reference)
		}
	case registry.EventUnregistering:
		h.handleDeparture(event.Reference)
	case registry.EventModified, registry.EventModifiedEndmatch:
		h.handleModified(event)
	}
}

// onPropertyChange re-renders the filter whenever the owning instance's
// properties change and, if the rendered text differs from what is
// currently compiled, reconciles the bound set against the new filter
// (spec §4.6 "rebinds when the rendered filter changes").
func (h *VarFilter) onPropertyChange(name string, value interface{}) {
	newExpr := renderTemplate(h.req.Filter, h.ctx.SI.Properties())
	h.mu.Lock()
	unchanged := newExpr == h.renderedExpr
	h.mu.Unlock()
	if unchanged {
		return
	}
	compiled, err := filter.Parse(newExpr)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.renderedExpr = newExpr
	h.compiled = compiled
	h.mu.Unlock()
	h.reconcile()
}

func (h *VarFilter) reconcile() {
	refs, err := h.bundle().GetServiceReferences(h.req.Specification, "")
	if err != nil {
		return
	}
	stillMatching := make(map[int64]bool, len(refs))
	for _, ref := range refs {
		if h.matches(ref) {
			stillMatching[ref.ServiceID()] = true
		}
	}

	h.mu.Lock()
	var toDrop []varFilterEntry
	for id, e := range h.entries {
		if !stillMatching[id] {
			toDrop = append(toDrop, e)
			delete(h.entries, id)
		}
	}
	h.mu.Unlock()
	for _, e := range toDrop {
		h.unbindEntry(e)
	}

	for _, ref := range refs {
		if !stillMatching[ref.ServiceID()] {
			continue
		}
		h.mu.Lock()
		_, bound := h.entries[ref.ServiceID()]
		single := !h.req.Aggregate && len(h.entries) > 0
		h.mu.Unlock()
		if bound || single {
			continue
		}
		h.bindOne(ref)
	}
	h.reportCurrentValidity()
}

func (h *VarFilter) handleArrival(ref *registry.ServiceReference) {
	h.mu.Lock()
	_, already := h.entries[ref.ServiceID()]
	single := !h.req.Aggregate && len(h.entries) > 0
	h.mu.Unlock()
	if already || single {
		return
	}
	h.bindOne(ref)
	h.reportCurrentValidity()
}

func (h *VarFilter) bindOne(ref *registry.ServiceReference) {
	svc, ok := fetchService(h.bundle(), ref)
	if !ok {
		return
	}
	h.mu.Lock()
	h.entries[ref.ServiceID()] = varFilterEntry{ref: ref, svc: svc}
	h.mu.Unlock()
	h.injectField()
	h.ctx.SI.InvokeFieldCallback(h.req.BindCallback, svc, ref)
}

func (h *VarFilter) handleDeparture(ref *registry.ServiceReference) {
	h.mu.Lock()
	entry, bound := h.entries[ref.ServiceID()]
	if bound {
		delete(h.entries, ref.ServiceID())
	}
	h.mu.Unlock()
	if !bound {
		return
	}
	h.unbindEntry(entry)
	h.reportCurrentValidity()
}

func (h *VarFilter) unbindEntry(entry varFilterEntry) {
	h.injectField()
	h.bundle().UngetService(entry.ref, entry.svc)
	h.ctx.SI.InvokeFieldCallback(h.req.UnbindCallback, entry.svc, entry.ref)
}

func (h *VarFilter) handleModified(event registry.ServiceEvent) {
	h.mu.Lock()
	entry, bound := h.entries[event.Reference.ServiceID()]
	h.mu.Unlock()
	if bound {
		if !h.matches(event.Reference) {
			h.handleDeparture(event.Reference)
			return
		}
		h.ctx.SI.InvokeFieldCallback(h.req.UpdateCallback, entry.svc, event.Reference, event.OldProps)
		return
	}
	if h.matches(event.Reference) {
		h.handleArrival(event.Reference)
	}
}

// injectField assigns either a single bound service or the sorted list of
// bound services, depending on req.Aggregate.
func (h *VarFilter) injectField() {
	h.mu.Lock()
	entries := make([]varFilterEntry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, e)
	}
	h.mu.Unlock()
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ref.Less(entries[j].ref) })

	if !h.req.Aggregate {
		if len(entries) == 0 {
			h.ctx.SI.SetField(h.req.Field, nil)
			return
		}
		h.ctx.SI.SetField(h.req.Field, entries[0].svc)
		return
	}
	list := make([]interface{}, len(entries))
	for i, e := range entries {
		list[i] = e.svc
	}
	h.ctx.SI.SetField(h.req.Field, list)
}

func (h *VarFilter) reportCurrentValidity() {
	h.mu.Lock()
	count := len(h.entries)
	h.mu.Unlock()
	h.reportValidity(h.satisfiedWith(count))
}

// renderTemplate substitutes every {name} token in expr with the string
// form of props[name] (spec §4.6 "placeholders resolved from instance
// properties"). A missing property renders as an empty string.
func renderTemplate(expr string, props map[string]interface{}) string {
	if !strings.Contains(expr, "{") {
		return expr
	}
	var b strings.Builder
	for i := 0; i < len(expr); {
		if expr[i] == '{' {
			end := strings.IndexByte(expr[i:], '}')
			if end < 0 {
				b.WriteString(expr[i:])
				break
			}
			name := expr[i+1 : i+end]
			if v, ok := props[name]; ok {
				b.WriteString(filter.Escape(toString(v)))
			}
			i += end + 1
			continue
		}
		b.WriteByte(expr[i])
		i++
	}
	return b.String()
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
