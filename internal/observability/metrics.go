package observability

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	trialsGenerated   prometheus.Counter
	trialsPersisted   prometheus.Counter
	missedIntervals   prometheus.Counter
	sourceFallbacks   prometheus.Counter
	bufferOccupancy   prometheus.Gauge
	flushTotal        *prometheus.CounterVec
	flushDuration     prometheus.Histogram
	flushRetriesTotal prometheus.Counter

	sessionsActive     prometheus.Gauge
	sessionsTotal      *prometheus.CounterVec
	periodsOpen        prometheus.Gauge
	storeQueryTotal    prometheus.Counter
	storeQueryDuration prometheus.Histogram

	backupsTotal  *prometheus.CounterVec
	exportsTotal  *prometheus.CounterVec
	integrityRuns *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

// Raw counters sampled by the performance monitor. Prometheus counters cannot
// be read back cheaply, so the hot path also bumps these atomics.
var (
	insertCount    atomic.Uint64
	queryCount     atomic.Uint64
	queryNanos     atomic.Uint64
	bufferOccupied atomic.Int64
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current command queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Command execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			trialsGenerated: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "trials_generated_total",
					Help: "Total trials produced by the generator.",
				},
			),
			trialsPersisted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "trials_persisted_total",
					Help: "Total trials durably written to the store.",
				},
			),
			missedIntervals: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "generator_missed_intervals_total",
					Help: "Tick deadlines overshot beyond the jitter tolerance.",
				},
			),
			sourceFallbacks: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "source_fallbacks_total",
					Help: "Trial source failures recovered by the backup engine.",
				},
			),
			bufferOccupancy: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "batch_buffer_occupancy",
					Help: "Trials currently buffered and not yet flushed.",
				},
			),
			flushTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "batch_flush_total",
					Help: "Total batch flushes by trigger and status.",
				},
				[]string{"trigger", "status"},
			),
			flushDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "batch_flush_duration_seconds",
					Help:    "Batch flush duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			flushRetriesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "batch_flush_retries_total",
					Help: "Flush attempts retried after a persistence failure.",
				},
			),
			sessionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "sessions_active",
					Help: "Sessions currently running or paused.",
				},
			),
			sessionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sessions_total",
					Help: "Total sessions by terminal status.",
				},
				[]string{"status"},
			),
			periodsOpen: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "intention_periods_open",
					Help: "Intention periods currently open (0 or 1).",
				},
			),
			storeQueryTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "store_query_total",
					Help: "Total read queries against the store.",
				},
			),
			storeQueryDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "store_query_duration_seconds",
					Help:    "Store read query duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			backupsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backups_total",
					Help: "Total backup operations by status.",
				},
				[]string{"status"},
			),
			exportsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "exports_total",
					Help: "Total export operations by format and status.",
				},
				[]string{"format", "status"},
			),
			integrityRuns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "integrity_runs_total",
					Help: "Total integrity validation runs by outcome.",
				},
				[]string{"outcome"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.trialsGenerated,
			m.trialsPersisted,
			m.missedIntervals,
			m.sourceFallbacks,
			m.bufferOccupancy,
			m.flushTotal,
			m.flushDuration,
			m.flushRetriesTotal,
			m.sessionsActive,
			m.sessionsTotal,
			m.periodsOpen,
			m.storeQueryTotal,
			m.storeQueryDuration,
			m.backupsTotal,
			m.exportsTotal,
			m.integrityRuns,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordTrialGenerated() {
	getMetrics().trialsGenerated.Inc()
}

func RecordTrialsPersisted(count int) {
	getMetrics().trialsPersisted.Add(float64(count))
	insertCount.Add(uint64(count))
}

func RecordMissedInterval() {
	getMetrics().missedIntervals.Inc()
}

func RecordSourceFallback() {
	getMetrics().sourceFallbacks.Inc()
}

func SetBufferOccupancy(count int) {
	getMetrics().bufferOccupancy.Set(float64(count))
	bufferOccupied.Store(int64(count))
}

func RecordFlush(trigger string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.flushTotal.WithLabelValues(trigger, status).Inc()
	m.flushDuration.Observe(duration.Seconds())
}

func RecordFlushRetry() {
	getMetrics().flushRetriesTotal.Inc()
}

func SetActiveSessions(count int) {
	getMetrics().sessionsActive.Set(float64(count))
}

func RecordSessionClosed(status string) {
	getMetrics().sessionsTotal.WithLabelValues(status).Inc()
}

func SetOpenPeriods(count int) {
	getMetrics().periodsOpen.Set(float64(count))
}

func RecordStoreQuery(duration time.Duration) {
	m := getMetrics()
	m.storeQueryTotal.Inc()
	m.storeQueryDuration.Observe(duration.Seconds())
	queryCount.Add(1)
	queryNanos.Add(uint64(duration.Nanoseconds()))
}

func RecordBackup(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().backupsTotal.WithLabelValues(status).Inc()
}

func RecordExport(format string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().exportsTotal.WithLabelValues(format, status).Inc()
}

func RecordIntegrityRun(outcome string) {
	getMetrics().integrityRuns.WithLabelValues(outcome).Inc()
}

// Counters returns the raw runtime counters for performance sampling:
// cumulative inserts, cumulative queries, cumulative query time, and the
// current buffer occupancy.
func Counters() (inserts, queries, queryTimeNs uint64, buffered int) {
	return insertCount.Load(), queryCount.Load(), queryNanos.Load(), int(bufferOccupied.Load())
}
