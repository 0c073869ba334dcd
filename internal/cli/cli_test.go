package cli

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/regstream/internal/config"
	"github.com/harun/regstream/pkg/store"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := GetRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func TestRootCmd_Commands(t *testing.T) {
	root := GetRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["start"])
	assert.True(t, names["status"])
	assert.True(t, names["validate"])
	assert.True(t, names["configure"])
}

func TestRootCmd_Version(t *testing.T) {
	assert.Equal(t, version, GetVersion())
	assert.Equal(t, version, GetRootCmd().Version)
}

func TestConfigure_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regstream.json")

	err := execute(t, "configure", "--config", path, "--frequency", "5", "--engine", "pseudo", "--backup-engine", "software")
	require.NoError(t, err)

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Timing.Frequency)
	assert.Equal(t, "pseudo", cfg.RNG.Engine)
	assert.Equal(t, "software", cfg.RNG.BackupEngine)

	// Unset flags keep their stored values
	err = execute(t, "configure", "--config", path, "--gateway-port", "9100")
	require.NoError(t, err)

	cfg, err = config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Timing.Frequency)
	assert.Equal(t, 9100, cfg.Gateway.Port)
}

func TestConfigure_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regstream.json")

	err := execute(t, "configure", "--config", path, "--frequency", "50")
	assert.ErrorContains(t, err, "frequency")

	err = execute(t, "configure", "--config", path, "--engine", "quantum")
	assert.ErrorContains(t, err, "invalid rng engine")
}

func seededConfig(t *testing.T, trials []store.Trial) string {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Database.Path = filepath.Join(dir, "trials.db")
	cfg.Maintenance.BackupDir = filepath.Join(dir, "backups")
	cfg.Maintenance.ExportDir = filepath.Join(dir, "exports")
	cfg.Logging.File = filepath.Join(dir, "regstream.log")

	path := filepath.Join(dir, "regstream.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))

	st, err := store.Open(cfg.Database.Path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.InsertTrials(trials))
	require.NoError(t, st.Close())

	return path
}

func validTrials(n int) []store.Trial {
	now := time.Now()
	trials := make([]store.Trial, n)
	for i := range trials {
		trials[i] = store.Trial{
			Sequence:  uint64(i + 1),
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Value:     100,
			Mode:      store.ModeContinuous,
			Intention: store.IntentionNone,
		}
	}
	return trials
}

func TestValidate_HealthyStore(t *testing.T) {
	path := seededConfig(t, validTrials(10))

	err := execute(t, "validate", "--config", path)
	assert.NoError(t, err)
}

func TestValidate_FatalIssue(t *testing.T) {
	trials := validTrials(10)
	trials[4].Value = 250
	path := seededConfig(t, trials)

	err := execute(t, "validate", "--config", path)
	assert.ErrorContains(t, err, "integrity check failed")
}

func TestStatus_MissingStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Database.Path = filepath.Join(dir, "missing.db")

	path := filepath.Join(dir, "regstream.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))

	err := execute(t, "status", "--config", path)
	assert.NoError(t, err)
}

func TestStatus_WithData(t *testing.T) {
	path := seededConfig(t, validTrials(25))

	err := execute(t, "status", "--config", path)
	assert.NoError(t, err)
}
