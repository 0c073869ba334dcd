package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/regstream/internal/config"
	"github.com/harun/regstream/internal/logger"
	"github.com/harun/regstream/internal/tracing"
	"github.com/harun/regstream/pkg/maintenance"
	"github.com/harun/regstream/pkg/session"
	"github.com/harun/regstream/pkg/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.RNG.Engine = "pseudo"
	cfg.RNG.BackupEngine = ""
	cfg.RNG.Seed = 42
	cfg.RNG.QualityThreshold = 0.5
	cfg.Timing.Frequency = 10
	cfg.Timing.MaxJitterMs = 200
	cfg.Database.Path = filepath.Join(dir, "trials.db")
	cfg.Database.BufferSize = 100
	cfg.Database.FlushThreshold = 10
	cfg.Database.FlushIntervalMs = 100
	cfg.Maintenance.BackupDir = filepath.Join(dir, "backups")
	cfg.Maintenance.ExportDir = filepath.Join(dir, "exports")
	cfg.Monitor.SampleIntervalMs = 50
	cfg.Logging.Level = "error"
	cfg.DataDir = dir
	return cfg
}

func startTestDaemon(t *testing.T) *Daemon {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	d, err := New(testConfig(t), log)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() { d.Stop() })
	return d
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Timing.Frequency = 50

	_, err = New(cfg, log)
	assert.ErrorContains(t, err, "frequency")
}

func TestDaemon_StartStop(t *testing.T) {
	d := startTestDaemon(t)
	assert.True(t, d.Running())

	require.NoError(t, d.Stop())
	assert.False(t, d.Running())

	// Stopping again is a no-op
	assert.NoError(t, d.Stop())
}

func TestDaemon_GeneratesUnlabelledTrials(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		count, err := d.store.CountTrialsAfter(0)
		return err == nil && count >= 3
	}, 5*time.Second, 50*time.Millisecond)

	report, err := d.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}

func TestDaemon_SessionLifecycle(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	opened, err := d.StartSession(ctx, session.Config{
		Intention: store.IntentionHigh,
		Notes:     "lifecycle",
	})
	require.NoError(t, err)
	require.NotEmpty(t, opened.ID)

	require.Eventually(t, func() bool {
		snap, err := d.GetSnapshot(opened.ID)
		return err == nil && snap.Count >= 3
	}, 5*time.Second, 50*time.Millisecond)

	result, err := d.StopSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, result.Session.Status)
	assert.True(t, result.Snapshot.Frozen)
	assert.GreaterOrEqual(t, result.Snapshot.Count, uint64(3))

	// Trials generated during the session carry its id
	trials, err := d.store.TrialsBySession(opened.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, trials)
	for _, tr := range trials {
		assert.Equal(t, store.ModeSession, tr.Mode)
		assert.Equal(t, store.IntentionHigh, tr.Intention)
	}
}

func TestDaemon_PauseResume(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	_, err := d.StartSession(ctx, session.Config{Intention: store.IntentionLow})
	require.NoError(t, err)

	require.NoError(t, d.PauseSession(ctx))

	// While paused the session no longer labels trials
	label := d.Label()
	assert.Equal(t, store.ModeContinuous, label.Mode)

	require.NoError(t, d.ResumeSession(ctx))
	label = d.Label()
	assert.Equal(t, store.ModeSession, label.Mode)

	_, err = d.StopSession(ctx)
	require.NoError(t, err)
}

func TestDaemon_RetriedCommandReplays(t *testing.T) {
	d := startTestDaemon(t)
	ctx := tracing.NewRequestContext(context.Background())

	first, err := d.StartSession(ctx, session.Config{Intention: store.IntentionHigh})
	require.NoError(t, err)

	// Same request context means the host retried; the cached result comes
	// back instead of a state conflict
	replayed, err := d.StartSession(ctx, session.Config{Intention: store.IntentionHigh})
	require.NoError(t, err)
	assert.Equal(t, first.ID, replayed.ID)

	// A fresh request context is a genuinely new command
	_, err = d.StartSession(tracing.NewRequestContext(context.Background()), session.Config{Intention: store.IntentionHigh})
	assert.ErrorIs(t, err, session.ErrStateConflict)
}

func TestDaemon_PauseWithoutSession(t *testing.T) {
	d := startTestDaemon(t)

	err := d.PauseSession(context.Background())
	assert.ErrorIs(t, err, session.ErrStateConflict)
}

func TestDaemon_EmergencyStopPersistsEverything(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	opened, err := d.StartSession(ctx, session.Config{Intention: store.IntentionHigh})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := d.GetSnapshot(opened.ID)
		return err == nil && snap.Count >= 2
	}, 5*time.Second, 50*time.Millisecond)

	result, err := d.EmergencyStop(ctx, "operator abort")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAborted, result.Session.Status)
	assert.Contains(t, result.Session.Notes, "operator abort")

	assert.False(t, d.generator.Running())
	assert.Zero(t, d.writer.Buffered(), "buffer drained on emergency stop")

	// Every generated trial reached the store
	persisted, err := d.store.TrialsBySession(opened.ID)
	require.NoError(t, err)
	assert.EqualValues(t, len(persisted), result.Snapshot.Count)

	report, err := d.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}

func TestDaemon_ResumeGenerationAfterEmergencyStop(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	_, err := d.EmergencyStop(ctx, "halt")
	require.NoError(t, err)
	assert.False(t, d.generator.Running())

	require.NoError(t, d.ResumeGeneration(ctx))
	assert.True(t, d.generator.Running())
}

func TestDaemon_IntentionPeriod(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	opened, err := d.StartIntentionPeriod(ctx, store.IntentionLow)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := d.GetSnapshot(opened.ID)
		return err == nil && snap.Count >= 2
	}, 5*time.Second, 50*time.Millisecond)

	result, err := d.EndIntentionPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.IntentionLow, result.Period.Intention)
	assert.True(t, result.Snapshot.Frozen)
	assert.NotNil(t, result.Period.EndTime)
}

func TestDaemon_SessionOutranksPeriod(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	_, err := d.StartIntentionPeriod(ctx, store.IntentionLow)
	require.NoError(t, err)

	opened, err := d.StartSession(ctx, session.Config{Intention: store.IntentionHigh})
	require.NoError(t, err)

	label := d.Label()
	assert.Equal(t, store.ModeSession, label.Mode)
	assert.Equal(t, opened.ID, label.SessionID)
	assert.Equal(t, store.IntentionHigh, label.Intention)

	_, err = d.StopSession(ctx)
	require.NoError(t, err)

	label = d.Label()
	assert.Equal(t, store.ModeContinuous, label.Mode)
	assert.Equal(t, store.IntentionLow, label.Intention)
}

func TestDaemon_SequenceContinuesAcrossRestarts(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	cfg := testConfig(t)

	first, err := New(cfg, log)
	require.NoError(t, err)
	require.NoError(t, first.Start())

	require.Eventually(t, func() bool {
		count, err := first.store.CountTrialsAfter(0)
		return err == nil && count >= 2
	}, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, first.Stop())

	second, err := New(cfg, log)
	require.NoError(t, err)
	require.NoError(t, second.Start())
	defer second.Stop()

	before, err := second.store.MaxSequence()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		last, err := second.store.MaxSequence()
		return err == nil && last > before
	}, 5*time.Second, 50*time.Millisecond)

	report, err := second.ValidateIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "no duplicate sequences after restart")
}

func TestDaemon_MaintenanceCommands(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		count, err := d.store.CountTrialsAfter(0)
		return err == nil && count >= 2
	}, 5*time.Second, 50*time.Millisecond)

	backup, err := d.CreateBackup(ctx, "test")
	require.NoError(t, err)
	assert.FileExists(t, backup.Path)

	export, err := d.ExportData(ctx, maintenance.ExportOptions{
		Format:        maintenance.FormatJSON,
		IncludeTrials: true,
	})
	require.NoError(t, err)
	assert.FileExists(t, export.Path)
}

func TestDaemon_PerformanceMetrics(t *testing.T) {
	d := startTestDaemon(t)

	require.Eventually(t, func() bool {
		return !d.GetPerformanceMetrics().Sample.Timestamp.IsZero()
	}, 5*time.Second, 50*time.Millisecond)

	perf := d.GetPerformanceMetrics()
	assert.Positive(t, perf.Sample.MemoryUsageBytes)
}

func TestDaemon_StatusPayload(t *testing.T) {
	d := startTestDaemon(t)
	ctx := context.Background()

	payload, ok := d.statusPayload().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, payload["generator_running"])
	assert.Equal(t, "pseudo", payload["source"])
	assert.Equal(t, "idle", payload["session_status"])
	assert.NotContains(t, payload, "session_id")

	opened, err := d.StartSession(ctx, session.Config{Intention: store.IntentionHigh})
	require.NoError(t, err)

	payload = d.statusPayload().(map[string]interface{})
	assert.Equal(t, opened.ID, payload["session_id"])
	assert.Equal(t, "running", payload["session_status"])
}

func TestDaemon_StopAbortsActiveSession(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	cfg := testConfig(t)

	d, err := New(cfg, log)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	opened, err := d.StartSession(context.Background(), session.Config{Intention: store.IntentionHigh})
	require.NoError(t, err)
	require.NoError(t, d.Stop())

	st, err := store.Open(cfg.Database.Path, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	persisted, err := st.GetSession(opened.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAborted, persisted.Status)
	assert.Contains(t, persisted.Notes, "daemon shutdown")
}
