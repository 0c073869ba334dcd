// Package daemon wires the trial engine together: source, generator, batch
// writer, session and intention state, statistics, maintenance, monitoring
// and the status gateway. The host layer drives it through the command
// surface in commands.go.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/regstream/internal/config"
	"github.com/harun/regstream/internal/logger"
	"github.com/harun/regstream/internal/metrics"
	"github.com/harun/regstream/internal/observability"
	"github.com/harun/regstream/internal/tracing"
	"github.com/harun/regstream/pkg/batch"
	"github.com/harun/regstream/pkg/commandqueue"
	"github.com/harun/regstream/pkg/gateway"
	"github.com/harun/regstream/pkg/generator"
	"github.com/harun/regstream/pkg/intention"
	"github.com/harun/regstream/pkg/maintenance"
	"github.com/harun/regstream/pkg/monitor"
	"github.com/harun/regstream/pkg/rng"
	"github.com/harun/regstream/pkg/session"
	"github.com/harun/regstream/pkg/stats"
	"github.com/harun/regstream/pkg/store"
)

// Daemon is the trial engine service.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	queue     *commandqueue.CommandQueue
	store     *store.Store
	statsEng  *stats.Engine
	writer    *batch.Writer
	source    rng.Source
	quality   *rng.QualityTracker
	generator *generator.Generator
	sessions  *session.Manager
	periods   *intention.Tracker
	maint     *maintenance.Service
	perfmon   *monitor.Monitor
	gauges    *metrics.Metrics
	gateway   *gateway.Server

	eventLoop *EventLoop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a daemon from validated configuration.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("regstream-daemon", cfg.Tracing.SampleRatio); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	if err := d.initialize(); err != nil {
		cancel()
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	return d, nil
}

// initialize builds the components in dependency order.
func (d *Daemon) initialize() error {
	zl := d.logger.GetZerolog()

	st, err := store.Open(d.config.Database.Path, zl.With().Str("component", "store").Logger())
	if err != nil {
		return err
	}
	d.store = st

	d.statsEng = stats.New(d.config.Statistics.Precision)
	d.queue = commandqueue.New()

	d.writer = batch.NewWriter(batch.Config{
		Capacity:       d.config.Database.BufferSize,
		FlushThreshold: d.config.Database.FlushThreshold,
		FlushInterval:  time.Duration(d.config.Database.FlushIntervalMs) * time.Millisecond,
		MaxRetries:     d.config.Database.MaxRetries,
	}, st, zl.With().Str("component", "batch").Logger())

	source, err := d.buildSource(zl)
	if err != nil {
		st.Close()
		return err
	}
	d.source = source
	d.quality = rng.NewQualityTracker(d.config.RNG.QualityThreshold)

	d.sessions = session.NewManager(st, d.writer, d.statsEng, zl.With().Str("component", "session").Logger())
	d.periods = intention.NewTracker(st, d.statsEng, zl.With().Str("component", "intention").Logger())

	d.generator = generator.New(generator.Config{
		Frequency:          d.config.Timing.Frequency,
		MaxJitter:          time.Duration(d.config.Timing.MaxJitterMs) * time.Millisecond,
		TimestampPrecision: timestampPrecision(d.config.Timing.TimestampPrecision),
	}, source, d, d.statsEng, d.writer, d.quality, zl.With().Str("component", "generator").Logger())

	if last, err := st.MaxSequence(); err == nil && last > 0 {
		d.generator.SetFirstSequence(last + 1)
	}

	d.maint = maintenance.NewService(maintenance.Config{
		BackupDir:      d.config.Maintenance.BackupDir,
		ExportDir:      d.config.Maintenance.ExportDir,
		BackupSchedule: d.config.Maintenance.BackupSchedule,
	}, st, d.writer, zl.With().Str("component", "maintenance").Logger())

	d.gauges = metrics.NewMetrics()
	d.perfmon = monitor.New(
		time.Duration(d.config.Monitor.SampleIntervalMs)*time.Millisecond,
		d.gauges,
		zl.With().Str("component", "monitor").Logger(),
	)

	if d.config.Gateway.Enabled {
		gw, err := gateway.NewServer(gateway.Config{
			Host:         d.config.Gateway.Host,
			Port:         d.config.Gateway.Port,
			SharedSecret: d.config.Gateway.SharedSecret,
			TickInterval: 5 * time.Second,
			Status:       d.statusPayload,
			Logger:       zl.With().Str("component", "gateway").Logger(),
		})
		if err != nil {
			st.Close()
			return err
		}
		d.gateway = gw
	}
	return nil
}

// buildSource assembles the configured engine, wrapped with the backup
// engine when one is set.
func (d *Daemon) buildSource(zl zerolog.Logger) (rng.Source, error) {
	primary, err := rng.New(d.config.RNG.Engine, d.config.RNG.DevicePath, uint64(d.config.RNG.Seed))
	if err != nil {
		return nil, err
	}

	backupEngine := d.config.RNG.BackupEngine
	if backupEngine == "" || backupEngine == d.config.RNG.Engine {
		return primary, nil
	}

	backup, err := rng.New(backupEngine, d.config.RNG.DevicePath, uint64(d.config.RNG.Seed))
	if err != nil {
		return nil, err
	}
	return rng.NewHybrid(primary, backup, zl.With().Str("component", "rng").Logger()), nil
}

// Start launches the engine: persistence, monitoring, scheduled backups,
// gateway and finally the generator.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon already running")
	}

	d.writer.Start()
	d.perfmon.Start()

	if err := d.maint.StartScheduledBackups(); err != nil {
		return err
	}
	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			return err
		}
	}

	if err := d.generator.Start(d.ctx); err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	d.startTime = time.Now()
	d.running = true
	d.gauges.GeneratorRunning.Set(1)
	d.gauges.GeneratorFrequency.Set(d.config.Timing.Frequency)
	d.logger.Info().
		Float64("frequency", d.config.Timing.Frequency).
		Str("engine", d.source.Name()).
		Msg("Daemon started")
	return nil
}

// Stop shuts the engine down: generation halts, an active session is
// aborted, buffers flush, and the store closes.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Daemon stopping")
	d.generator.Stop()
	d.cancel()

	if _, ok := d.sessions.Current(); ok {
		if _, _, err := d.sessions.EmergencyStop("daemon shutdown"); err != nil {
			d.logger.Error().Err(err).Msg("Failed to abort session on shutdown")
		}
	}

	d.queue.WaitForActive(10 * time.Second)
	d.queue.Close()

	if err := d.writer.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Final flush failed")
	}

	d.maint.StopScheduledBackups()
	d.perfmon.Stop()

	if d.gateway != nil {
		if err := d.gateway.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Gateway shutdown failed")
		}
	}

	d.wg.Wait()
	d.gauges.GeneratorRunning.Set(0)

	err := d.store.Close()
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
	d.logger.Info().Msg("Daemon stopped")
	return err
}

// Running reports whether the daemon has been started and not stopped.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Label implements generator.LabelProvider: the open session wins, then the
// open intention period, else unlabelled continuous.
func (d *Daemon) Label() generator.Label {
	if id, intent, ok := d.sessions.Scope(); ok {
		return generator.Label{
			Mode:      store.ModeSession,
			SessionID: id,
			Intention: intent,
			ScopeID:   id,
		}
	}
	if id, intent, ok := d.periods.Scope(); ok {
		return generator.Label{
			Mode:      store.ModeContinuous,
			Intention: intent,
			ScopeID:   id,
		}
	}
	return generator.Label{
		Mode:      store.ModeContinuous,
		Intention: store.IntentionNone,
	}
}

func timestampPrecision(name string) time.Duration {
	switch name {
	case "second":
		return time.Second
	case "microsecond":
		return time.Microsecond
	default:
		return time.Millisecond
	}
}
