// Package generator drives the trial hot path. A drift-corrected schedule
// computes absolute deadlines t0 + n/f instead of chaining delays, so
// scheduling jitter never accumulates across a run.
package generator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/regstream/internal/observability"
	"github.com/harun/regstream/pkg/rng"
	"github.com/harun/regstream/pkg/store"
)

// ErrAlreadyRunning is returned when Start is called on a running generator.
var ErrAlreadyRunning = errors.New("generator already running")

// Label is the attribution applied to one trial. ScopeID names the
// statistics scope; it is empty for unlabelled continuous trials.
type Label struct {
	Mode      store.Mode
	SessionID string
	Intention store.Intention
	ScopeID   string
}

// LabelProvider supplies the current labelling context. Consulted once per
// tick, before the trial is pushed downstream.
type LabelProvider interface {
	Label() Label
}

// StatsSink receives each labelled trial value.
type StatsSink interface {
	Update(scopeID string, value int) error
}

// TrialSink receives each stamped trial for persistence.
type TrialSink interface {
	Append(trial store.Trial) error
}

// Config controls the schedule.
type Config struct {
	// Frequency is the target rate in trials per second (0.1 to 10).
	Frequency float64

	// MaxJitter is the overshoot tolerance before a deadline counts as a
	// missed interval.
	MaxJitter time.Duration

	// TimestampPrecision truncates trial timestamps (second, millisecond
	// or microsecond).
	TimestampPrecision time.Duration
}

// TimingReport summarizes scheduling accuracy for the current run.
type TimingReport struct {
	Ticks           uint64  `json:"ticks"`
	AvgErrorMs      float64 `json:"avg_error_ms"`
	MaxErrorMs      float64 `json:"max_error_ms"`
	MissedIntervals uint64  `json:"missed_intervals"`
}

// Generator pulls from a source at the configured frequency and stamps each
// trial with sequence, timestamp and scope labels. Statistics are updated
// before the trial is buffered, so the two sinks never diverge on what has
// been seen.
type Generator struct {
	cfg    Config
	source rng.Source
	labels LabelProvider
	stats  StatsSink
	sink   TrialSink
	qual   *rng.QualityTracker
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	nextSeq uint64

	timingMu sync.Mutex
	timing   TimingReport
	errSum   time.Duration
}

// New returns a stopped generator. firstSequence seeds the sequence counter,
// usually one past the highest persisted sequence.
func New(cfg Config, source rng.Source, labels LabelProvider, stats StatsSink, sink TrialSink, qual *rng.QualityTracker, logger zerolog.Logger) *Generator {
	observability.EnsureRegistered()
	return &Generator{
		cfg:     cfg,
		source:  source,
		labels:  labels,
		stats:   stats,
		sink:    sink,
		qual:    qual,
		logger:  logger,
		nextSeq: 1,
	}
}

// SetFirstSequence seeds the sequence counter. Only valid while stopped.
func (g *Generator) SetFirstSequence(seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		g.nextSeq = seq
	}
}

// Start launches the tick loop. It returns immediately; generation runs
// until Stop or context cancellation.
func (g *Generator) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	g.running = true

	g.timingMu.Lock()
	g.timing = TimingReport{}
	g.errSum = 0
	g.timingMu.Unlock()

	go g.run(runCtx)
	g.logger.Info().
		Float64("frequency", g.cfg.Frequency).
		Str("source", g.source.Name()).
		Msg("Generator started")
	return nil
}

// Stop halts generation within one tick period and waits for the loop to
// exit. Buffered trials are not flushed here; that is the caller's job.
func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	cancel()
	<-done

	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
	g.logger.Info().Msg("Generator stopped")
}

// Running reports whether the tick loop is active.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Healthy reports whether the underlying source can produce values.
func (g *Generator) Healthy() bool {
	return g.source.Healthy()
}

// Report returns the timing accuracy of the current run.
func (g *Generator) Report() TimingReport {
	g.timingMu.Lock()
	defer g.timingMu.Unlock()

	report := g.timing
	if report.Ticks > 0 {
		report.AvgErrorMs = float64(g.errSum.Microseconds()) / float64(report.Ticks) / 1000
	}
	return report
}

func (g *Generator) run(ctx context.Context) {
	defer close(g.done)

	period := time.Duration(float64(time.Second) / g.cfg.Frequency)
	t0 := time.Now()
	timer := time.NewTimer(period)
	defer timer.Stop()

	for n := uint64(1); ; n++ {
		deadline := t0.Add(time.Duration(n) * period)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Until(deadline))

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := time.Now()
		g.recordTiming(now.Sub(deadline))
		g.tick(ctx, now)
	}
}

func (g *Generator) tick(ctx context.Context, now time.Time) {
	value, err := g.source.Draw(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// No fabricated data: skip the tick and surface degraded health
		// through the source's Healthy flag.
		g.logger.Error().Err(err).Msg("Trial source failed, skipping tick")
		return
	}

	label := g.labels.Label()
	trial := store.Trial{
		Sequence:  g.nextSeq,
		Timestamp: g.stamp(now),
		Value:     value,
		Mode:      label.Mode,
		SessionID: label.SessionID,
		Intention: label.Intention,
	}

	if label.ScopeID != "" {
		if err := g.stats.Update(label.ScopeID, value); err != nil {
			g.logger.Error().Err(err).Str("scope_id", label.ScopeID).Msg("Statistics update failed")
		}
	}
	// Append accepts the trial into the buffer even when its forced flush
	// fails, so the sequence always advances.
	if err := g.sink.Append(trial); err != nil {
		g.logger.Error().Err(err).Uint64("sequence", trial.Sequence).Msg("Trial flush pressure")
	}

	g.nextSeq++
	if g.qual != nil {
		g.qual.Record(value)
	}
	observability.RecordTrialGenerated()
}

func (g *Generator) stamp(now time.Time) time.Time {
	if g.cfg.TimestampPrecision > 0 {
		return now.UTC().Truncate(g.cfg.TimestampPrecision)
	}
	return now.UTC()
}

func (g *Generator) recordTiming(overshoot time.Duration) {
	if overshoot < 0 {
		overshoot = -overshoot
	}

	g.timingMu.Lock()
	defer g.timingMu.Unlock()

	g.timing.Ticks++
	g.errSum += overshoot
	if ms := float64(overshoot.Microseconds()) / 1000; ms > g.timing.MaxErrorMs {
		g.timing.MaxErrorMs = ms
	}
	if g.cfg.MaxJitter > 0 && overshoot > g.cfg.MaxJitter {
		g.timing.MissedIntervals++
		observability.RecordMissedInterval()
	}
}
