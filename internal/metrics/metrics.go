package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine-owned Prometheus metrics, registered on a private
// registry so tests can create instances without colliding with the default
// registry used by the observability helpers.
type Metrics struct {
	registry *prometheus.Registry

	// Generator metrics
	GeneratorRunning   prometheus.Gauge
	GeneratorFrequency prometheus.Gauge
	TimingErrorAvgMs   prometheus.Gauge
	TimingErrorMaxMs   prometheus.Gauge

	// Stream health
	SourceDegraded prometheus.Gauge
	StoreUnhealthy prometheus.Gauge

	// Performance sample mirrors
	InsertsPerSecond prometheus.Gauge
	QueriesPerSecond prometheus.Gauge
	AvgQueryTimeMs   prometheus.Gauge
	MemoryUsageBytes prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		GeneratorRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "generator_running",
				Help: "Whether the trial generator is running (1) or stopped (0)",
			},
		),
		GeneratorFrequency: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "generator_frequency_hz",
				Help: "Configured trial generation frequency in trials per second",
			},
		),
		TimingErrorAvgMs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "generator_timing_error_avg_ms",
				Help: "Average scheduling error per tick in milliseconds",
			},
		),
		TimingErrorMaxMs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "generator_timing_error_max_ms",
				Help: "Maximum scheduling error observed in milliseconds",
			},
		),
		SourceDegraded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "source_degraded",
				Help: "Whether the trial source is running on its backup engine (1) or primary (0)",
			},
		),
		StoreUnhealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "store_unhealthy",
				Help: "Whether integrity validation found fatal issues (1) or not (0)",
			},
		),
		InsertsPerSecond: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "inserts_per_second",
				Help: "Trial insert throughput from the latest performance sample",
			},
		),
		QueriesPerSecond: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "queries_per_second",
				Help: "Store query throughput from the latest performance sample",
			},
		),
		AvgQueryTimeMs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "avg_query_time_ms",
				Help: "Average store query latency from the latest performance sample",
			},
		),
		MemoryUsageBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_usage_bytes",
				Help: "Heap in use from the latest performance sample",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.GeneratorRunning)
	m.registry.MustRegister(m.GeneratorFrequency)
	m.registry.MustRegister(m.TimingErrorAvgMs)
	m.registry.MustRegister(m.TimingErrorMaxMs)
	m.registry.MustRegister(m.SourceDegraded)
	m.registry.MustRegister(m.StoreUnhealthy)
	m.registry.MustRegister(m.InsertsPerSecond)
	m.registry.MustRegister(m.QueriesPerSecond)
	m.registry.MustRegister(m.AvgQueryTimeMs)
	m.registry.MustRegister(m.MemoryUsageBytes)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
