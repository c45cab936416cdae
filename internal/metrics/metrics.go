// Package metrics exposes the runtime's Prometheus collectors: registry
// size, dispatch latency, and component-validity gauges, grounded on
// _examples/r3e-network-service_layer/pkg/metrics/metrics.go's pattern of a
// dedicated prometheus.Registry plus package-level GaugeVec/CounterVec/
// HistogramVec values and small Record*/Observe* wrapper functions, rather
// than the default global registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this package registers. Kept separate from
// prometheus.DefaultRegisterer so embedding this module in a larger process
// never collides with that process's own metrics.
var Registry = prometheus.NewRegistry()

var (
	registrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bundle",
			Subsystem: "registry",
			Name:      "services_registered",
			Help:      "Current number of published service references.",
		},
	)

	serviceEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bundle",
			Subsystem: "registry",
			Name:      "service_events_total",
			Help:      "Total service lifecycle events fired, by kind.",
		},
		[]string{"kind"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bundle",
			Subsystem: "dispatcher",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent delivering a service event to its listeners.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"kind"},
	)

	listenerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bundle",
			Subsystem: "dispatcher",
			Name:      "listener_panics_total",
			Help:      "Total listener panics recovered during event delivery.",
		},
		[]string{"listener_kind"},
	)

	componentValidity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bundle",
			Subsystem: "component",
			Name:      "validity",
			Help:      "Whether a component instance is currently VALID (1) or not (0).",
		},
		[]string{"component"},
	)

	componentErroneous = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bundle",
			Subsystem: "component",
			Name:      "erroneous_total",
			Help:      "Total times a component instance transitioned to ERRONEOUS, by component.",
		},
		[]string{"component"},
	)
)

func init() {
	Registry.MustRegister(
		registrySize,
		serviceEvents,
		dispatchDuration,
		listenerPanics,
		componentValidity,
		componentErroneous,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler serves Registry in the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetRegistrySize records the registry's current published-reference count.
func SetRegistrySize(n int) {
	registrySize.Set(float64(n))
}

// RecordServiceEvent increments the counter for a fired service event kind.
func RecordServiceEvent(kind string) {
	serviceEvents.WithLabelValues(kind).Inc()
}

// ObserveDispatchDuration records how long delivering kind's listeners took.
func ObserveDispatchDuration(kind string, seconds float64) {
	dispatchDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordListenerPanic increments the recovered-panic counter for a listener
// kind ("service", "bundle", "framework").
func RecordListenerPanic(listenerKind string) {
	listenerPanics.WithLabelValues(listenerKind).Inc()
}

// SetComponentValidity records component's current validity as 1 (valid) or
// 0 (not valid).
func SetComponentValidity(component string, valid bool) {
	v := 0.0
	if valid {
		v = 1.0
	}
	componentValidity.WithLabelValues(component).Set(v)
}

// RecordComponentErroneous increments the erroneous-transition counter for
// component.
func RecordComponentErroneous(component string) {
	componentErroneous.WithLabelValues(component).Inc()
}

// DeleteComponent drops component's validity gauge entry, used when an
// instance is killed so stale series don't linger.
func DeleteComponent(component string) {
	componentValidity.DeleteLabelValues(component)
}
