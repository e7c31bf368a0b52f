// Package metrics owns the Prometheus collectors for module lifecycle and
// event bus delivery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "awdesk"

type Registry struct {
	registry          *prometheus.Registry
	modulesRunning    prometheus.Gauge
	modulesDiscovered prometheus.Gauge
	moduleStarts      *prometheus.CounterVec
	moduleCrashes     *prometheus.CounterVec
	moduleRestarts    *prometheus.CounterVec
	busPublished      *prometheus.CounterVec
	busDropped        *prometheus.CounterVec
	busSubscribers    *prometheus.GaugeVec
}

// Default is shared by components constructed without an explicit registry.
var Default = NewRegistry()

// NewRegistry builds an isolated registry with process and Go collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		modulesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modules_running",
			Help:      "Number of watcher modules currently running.",
		}),
		modulesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modules_discovered",
			Help:      "Number of watcher executables found by the last scan.",
		}),
		moduleStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_starts_total",
			Help:      "Watcher processes spawned.",
		}, []string{"module"}),
		moduleCrashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_crashes_total",
			Help:      "Watcher processes that exited unsuccessfully without being asked to stop.",
		}, []string{"module"}),
		moduleRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_restarts_total",
			Help:      "Automatic restarts after a crash.",
		}, []string{"module"}),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_bus_published_total",
			Help:      "Events published on an in-process bus.",
		}, []string{"bus", "type"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_bus_dropped_total",
			Help:      "Events not delivered because a subscriber buffer was full.",
		}, []string{"bus", "type"}),
		busSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_bus_subscribers",
			Help:      "Active subscribers per bus.",
		}, []string{"bus"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.modulesRunning,
		r.modulesDiscovered,
		r.moduleStarts,
		r.moduleCrashes,
		r.moduleRestarts,
		r.busPublished,
		r.busDropped,
		r.busSubscribers,
	)
	return r
}

func (r *Registry) SetModulesRunning(count int) {
	if r == nil {
		return
	}
	r.modulesRunning.Set(float64(count))
}

func (r *Registry) SetModulesDiscovered(count int) {
	if r == nil {
		return
	}
	r.modulesDiscovered.Set(float64(count))
}

func (r *Registry) IncModuleStart(module string) {
	if r == nil {
		return
	}
	r.moduleStarts.WithLabelValues(module).Inc()
}

func (r *Registry) IncModuleCrash(module string) {
	if r == nil {
		return
	}
	r.moduleCrashes.WithLabelValues(module).Inc()
}

func (r *Registry) IncModuleRestart(module string) {
	if r == nil {
		return
	}
	r.moduleRestarts.WithLabelValues(module).Inc()
}

func (r *Registry) IncBusPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.busPublished.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) IncBusDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.busDropped.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) SetBusSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.busSubscribers.WithLabelValues(bus).Set(float64(count))
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// Handler serves the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}
