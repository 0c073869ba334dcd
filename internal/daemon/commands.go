package daemon

import (
	"context"

	"github.com/harun/regstream/internal/tracing"
	"github.com/harun/regstream/pkg/commandqueue"
	"github.com/harun/regstream/pkg/generator"
	"github.com/harun/regstream/pkg/maintenance"
	"github.com/harun/regstream/pkg/monitor"
	"github.com/harun/regstream/pkg/session"
	"github.com/harun/regstream/pkg/stats"
	"github.com/harun/regstream/pkg/store"
)

// Host command surface. Control commands (session and intention state)
// serialize through the control lane in arrival order; maintenance
// operations serialize through their own lane so a slow export cannot
// delay a pause. Read-only queries bypass the queue entirely.

// taskOptions carries the request id from the host context into the queue,
// so a retried command replays its cached result instead of running twice.
func taskOptions(ctx context.Context) *commandqueue.TaskOptions {
	if id := tracing.GetTraceID(ctx); id != "" {
		return &commandqueue.TaskOptions{RequestID: id}
	}
	return nil
}

// SessionResult pairs a closed session with its frozen statistics.
type SessionResult struct {
	Session  store.Session  `json:"session"`
	Snapshot stats.Snapshot `json:"snapshot"`
}

// PeriodResult pairs a closed intention period with its frozen statistics.
type PeriodResult struct {
	Period   store.IntentionPeriod `json:"period"`
	Snapshot stats.Snapshot        `json:"snapshot"`
}

// PerformanceReport combines the latest sample with timing accuracy.
type PerformanceReport struct {
	Sample monitor.PerformanceSample `json:"sample"`
	Timing generator.TimingReport    `json:"timing"`
}

// StartSession begins a new experiment session.
func (d *Daemon) StartSession(ctx context.Context, cfg session.Config) (store.Session, error) {
	result, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneControl, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "session.start")
		defer span.End()
		return d.sessions.Start(cfg)
	}, taskOptions(ctx))
	if err != nil {
		return store.Session{}, err
	}
	return result.(store.Session), nil
}

// PauseSession suspends the running session.
func (d *Daemon) PauseSession(ctx context.Context) error {
	_, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneControl, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "session.pause")
		defer span.End()
		return nil, d.sessions.Pause()
	}, taskOptions(ctx))
	return err
}

// ResumeSession continues the paused session.
func (d *Daemon) ResumeSession(ctx context.Context) error {
	_, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneControl, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "session.resume")
		defer span.End()
		return nil, d.sessions.Resume()
	}, taskOptions(ctx))
	return err
}

// StopSession completes the active session after a synchronous flush.
func (d *Daemon) StopSession(ctx context.Context) (SessionResult, error) {
	result, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneControl, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "session.stop")
		defer span.End()
		closed, snapshot, err := d.sessions.Stop()
		if err != nil {
			return nil, err
		}
		return SessionResult{Session: closed, Snapshot: snapshot}, nil
	}, taskOptions(ctx))
	if err != nil {
		return SessionResult{}, err
	}
	return result.(SessionResult), nil
}

// EmergencyStop halts generation immediately, flushes everything already
// produced, and aborts the active session if there is one.
func (d *Daemon) EmergencyStop(ctx context.Context, reason string) (SessionResult, error) {
	result, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneControl, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "session.emergency_stop")
		defer span.End()

		d.generator.Stop()
		d.gauges.GeneratorRunning.Set(0)

		if _, ok := d.sessions.Current(); ok {
			closed, snapshot, err := d.sessions.EmergencyStop(reason)
			if err != nil {
				return nil, err
			}
			return SessionResult{Session: closed, Snapshot: snapshot}, nil
		}

		// No session: still drain the buffer so nothing is lost
		if err := d.writer.Flush(); err != nil {
			return nil, err
		}
		return SessionResult{}, nil
	}, taskOptions(ctx))
	if err != nil {
		return SessionResult{}, err
	}
	return result.(SessionResult), nil
}

// ResumeGeneration restarts the tick loop after an emergency stop.
func (d *Daemon) ResumeGeneration(ctx context.Context) error {
	_, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneControl, func(ctx context.Context) (interface{}, error) {
		if err := d.generator.Start(d.ctx); err != nil {
			return nil, err
		}
		d.gauges.GeneratorRunning.Set(1)
		return nil, nil
	}, taskOptions(ctx))
	return err
}

// StartIntentionPeriod opens a continuous-mode intention window.
func (d *Daemon) StartIntentionPeriod(ctx context.Context, label store.Intention) (store.IntentionPeriod, error) {
	result, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneControl, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "period.start")
		defer span.End()
		return d.periods.StartPeriod(label)
	}, taskOptions(ctx))
	if err != nil {
		return store.IntentionPeriod{}, err
	}
	return result.(store.IntentionPeriod), nil
}

// EndIntentionPeriod closes the open window and freezes its snapshot.
func (d *Daemon) EndIntentionPeriod(ctx context.Context) (PeriodResult, error) {
	result, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneControl, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "period.end")
		defer span.End()
		closed, snapshot, err := d.periods.EndPeriod()
		if err != nil {
			return nil, err
		}
		return PeriodResult{Period: closed, Snapshot: snapshot}, nil
	}, taskOptions(ctx))
	if err != nil {
		return PeriodResult{}, err
	}
	return result.(PeriodResult), nil
}

// GetSnapshot returns the live statistics for a scope. Read-only; never
// queued behind control commands.
func (d *Daemon) GetSnapshot(scopeID string) (stats.Snapshot, error) {
	return d.statsEng.Snapshot(scopeID)
}

// GetPerformanceMetrics returns the latest performance sample and timing
// report. Read-only.
func (d *Daemon) GetPerformanceMetrics() PerformanceReport {
	return PerformanceReport{
		Sample: d.perfmon.Latest(),
		Timing: d.generator.Report(),
	}
}

// CreateBackup produces a point-in-time copy of the store.
func (d *Daemon) CreateBackup(ctx context.Context, label string) (maintenance.BackupInfo, error) {
	result, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneMaintenance, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "maintenance.backup")
		defer span.End()
		return d.maint.CreateBackup(label)
	}, taskOptions(ctx))
	if err != nil {
		return maintenance.BackupInfo{}, err
	}
	return result.(maintenance.BackupInfo), nil
}

// ExportData serializes selected entities to the export directory.
func (d *Daemon) ExportData(ctx context.Context, opts maintenance.ExportOptions) (maintenance.ExportInfo, error) {
	result, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneMaintenance, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "maintenance.export")
		defer span.End()
		return d.maint.Export(opts)
	}, taskOptions(ctx))
	if err != nil {
		return maintenance.ExportInfo{}, err
	}
	return result.(maintenance.ExportInfo), nil
}

// ImportData restores a JSON export into the store.
func (d *Daemon) ImportData(ctx context.Context, path string) (maintenance.ImportReport, error) {
	result, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneMaintenance, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "maintenance.import")
		defer span.End()
		return d.maint.Import(path)
	}, taskOptions(ctx))
	if err != nil {
		return maintenance.ImportReport{}, err
	}
	return result.(maintenance.ImportReport), nil
}

// ValidateIntegrity checks store invariants.
func (d *Daemon) ValidateIntegrity(ctx context.Context) (maintenance.IntegrityReport, error) {
	result, err := d.queue.EnqueueWithContext(ctx, commandqueue.LaneMaintenance, func(ctx context.Context) (interface{}, error) {
		_, span := tracing.StartSpan(ctx, "daemon", "maintenance.validate")
		defer span.End()
		return d.maint.ValidateIntegrity()
	}, taskOptions(ctx))
	if err != nil {
		return maintenance.IntegrityReport{}, err
	}
	return result.(maintenance.IntegrityReport), nil
}
