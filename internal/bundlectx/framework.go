package bundlectx

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hexalayer/bundle/internal/dispatcher"
	"github.com/hexalayer/bundle/internal/registry"
	"github.com/hexalayer/bundle/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// Framework owns the registry, the dispatcher, framework-wide properties,
// and the set of installed bundles (spec §2's implicit root above
// component D; §4.4's bundle install/start/stop/uninstall lifecycle).
type Framework struct {
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher

	propsMu sync.RWMutex
	props   map[string]interface{}

	mu      sync.Mutex
	nextID  int64
	bundles map[int64]*Bundle
}

// New constructs a Framework with a freshly wired registry+dispatcher pair
// and the given initial framework properties.
func New(props map[string]interface{}) *Framework {
	d := dispatcher.New()
	reg := registry.New(d)
	d.SetRegistry(reg)

	if props == nil {
		props = make(map[string]interface{})
	}
	return &Framework{
		registry:   reg,
		dispatcher: d,
		props:      props,
		bundles:    make(map[int64]*Bundle),
	}
}

// Registry exposes the underlying registry for components that sit above
// the bundle abstraction (e.g. the component instance manager binding
// dependencies directly).
func (fw *Framework) Registry() *registry.Registry { return fw.registry }

// Dispatcher exposes the underlying dispatcher.
func (fw *Framework) Dispatcher() *dispatcher.Dispatcher { return fw.dispatcher }

// Property reads a framework-wide configuration property.
func (fw *Framework) Property(key string) (interface{}, bool) {
	fw.propsMu.RLock()
	defer fw.propsMu.RUnlock()
	v, ok := fw.props[key]
	return v, ok
}

// SetProperty sets a framework-wide configuration property.
func (fw *Framework) SetProperty(key string, value interface{}) {
	fw.propsMu.Lock()
	defer fw.propsMu.Unlock()
	fw.props[key] = value
}

// Install registers a new bundle in the INSTALLED state without starting
// it (spec §4.4 install/start/stop/uninstall).
func (fw *Framework) Install(name string, activator Activator) *Bundle {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.nextID++
	b := &Bundle{
		id:       fw.nextID,
		identity: newBundleIdentity(name),
		fw:       fw,
		state:    StateInstalled,
		activator: activator,
	}
	b.ctx = newBundleContext(b, fw)
	fw.bundles[b.id] = b
	fw.dispatcher.FireBundleEvent(bundleEvent(b, dispatcher.BundleInstalled))
	return b
}

// Bundle looks up an installed bundle by id.
func (fw *Framework) Bundle(id int64) (*Bundle, bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	b, ok := fw.bundles[id]
	return b, ok
}

// Bundles returns a snapshot of every installed bundle.
func (fw *Framework) Bundles() []*Bundle {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	out := make([]*Bundle, 0, len(fw.bundles))
	for _, b := range fw.bundles {
		out = append(out, b)
	}
	return out
}

// StartAll starts every installed bundle concurrently, mirroring the
// concurrent-threads scheduling model (spec §5): one goroutine per bundle,
// the first failure cancels the rest's context (start is still attempted
// for bundles already in flight; only ctx.Err() short-circuits queued
// ones), and the first error (if any) is the one returned.
func (fw *Framework) StartAll(ctx context.Context) error {
	bundles := fw.Bundles()
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bundles {
		b := b
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if err := b.Start(); err != nil {
				return fmt.Errorf("bundlectx: starting %q: %w", b.identity.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every active bundle, reverse-install order, logging (not
// propagating) any individual failure so one misbehaving bundle does not
// block the rest from stopping (spec §5 suspension-point isolation policy
// applied to shutdown).
func (fw *Framework) StopAll() {
	bundles := fw.Bundles()
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].id < bundles[j].id })
	for i := len(bundles) - 1; i >= 0; i-- {
		b := bundles[i]
		if err := b.Stop(); err != nil {
			logging.Error("Framework", err, "bundle %q failed to stop cleanly", b.identity.name)
		}
	}
}
