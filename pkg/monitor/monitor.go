// Package monitor samples throughput and resource counters on a fixed
// interval. It is purely observational; a failure here never touches the
// ingestion path.
package monitor

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/regstream/internal/metrics"
	"github.com/harun/regstream/internal/observability"
)

// PerformanceSample is the latest throughput snapshot. Overwritten each
// sampling interval.
type PerformanceSample struct {
	Timestamp        time.Time `json:"timestamp"`
	InsertsPerSecond float64   `json:"inserts_per_second"`
	QueriesPerSecond float64   `json:"queries_per_second"`
	AvgQueryTimeMs   float64   `json:"avg_query_time_ms"`
	BufferOccupancy  int       `json:"buffer_occupancy"`
	MemoryUsageBytes uint64    `json:"memory_usage_bytes"`
}

// Monitor periodically reads the shared runtime counters and exposes the
// most recent sample. Optionally mirrors the sample into prometheus gauges.
type Monitor struct {
	interval time.Duration
	gauges   *metrics.Metrics
	logger   zerolog.Logger

	mu     sync.Mutex
	latest PerformanceSample

	prevInserts uint64
	prevQueries uint64
	prevQueryNs uint64
	prevAt      time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New returns a stopped monitor. gauges may be nil.
func New(interval time.Duration, gauges *metrics.Metrics, logger zerolog.Logger) *Monitor {
	observability.EnsureRegistered()
	return &Monitor{
		interval: interval,
		gauges:   gauges,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	inserts, queries, queryNs, _ := observability.Counters()
	m.prevInserts = inserts
	m.prevQueries = queries
	m.prevQueryNs = queryNs
	m.prevAt = time.Now()
	go m.run()
}

// Stop halts sampling.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

// Latest returns the most recent sample.
func (m *Monitor) Latest() PerformanceSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func (m *Monitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	inserts, queries, queryNs, buffered := observability.Counters()
	now := time.Now()
	elapsed := now.Sub(m.prevAt).Seconds()
	if elapsed <= 0 {
		return
	}

	deltaInserts := inserts - m.prevInserts
	deltaQueries := queries - m.prevQueries
	deltaQueryNs := queryNs - m.prevQueryNs

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sample := PerformanceSample{
		Timestamp:        now.UTC(),
		InsertsPerSecond: float64(deltaInserts) / elapsed,
		QueriesPerSecond: float64(deltaQueries) / elapsed,
		BufferOccupancy:  buffered,
		MemoryUsageBytes: memStats.HeapAlloc,
	}
	if deltaQueries > 0 {
		sample.AvgQueryTimeMs = float64(deltaQueryNs) / float64(deltaQueries) / 1e6
	}

	m.mu.Lock()
	m.latest = sample
	m.prevInserts = inserts
	m.prevQueries = queries
	m.prevQueryNs = queryNs
	m.prevAt = now
	m.mu.Unlock()

	if m.gauges != nil {
		m.gauges.InsertsPerSecond.Set(sample.InsertsPerSecond)
		m.gauges.QueriesPerSecond.Set(sample.QueriesPerSecond)
		m.gauges.AvgQueryTimeMs.Set(sample.AvgQueryTimeMs)
		m.gauges.MemoryUsageBytes.Set(float64(sample.MemoryUsageBytes))
	}

	m.logger.Debug().
		Float64("inserts_per_second", sample.InsertsPerSecond).
		Float64("queries_per_second", sample.QueriesPerSecond).
		Int("buffer_occupancy", sample.BufferOccupancy).
		Msg("Performance sample")
}
