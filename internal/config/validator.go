package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values at the core boundary.
// Commands carrying out-of-range values are rejected before any state changes.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateEngine validates an RNG engine name
func (v *Validator) ValidateEngine(engine string) error {
	if engine == "" {
		return fmt.Errorf("rng engine cannot be empty")
	}

	validEngines := []string{"hardware", "software", "pseudo"}
	for _, valid := range validEngines {
		if engine == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid rng engine: %s (must be one of: %s)", engine, strings.Join(validEngines, ", "))
}

// ValidateFrequency validates the trial generation frequency
func (v *Validator) ValidateFrequency(freq float64) error {
	if freq < 0.1 || freq > 10 {
		return fmt.Errorf("frequency must be between 0.1 and 10 trials/second, got %g", freq)
	}
	return nil
}

// ValidatePrecision validates the statistics decimal precision
func (v *Validator) ValidatePrecision(precision int) error {
	if precision < 1 || precision > 15 {
		return fmt.Errorf("precision must be between 1 and 15 decimal places, got %d", precision)
	}
	return nil
}

// ValidateQualityThreshold validates the entropy quality threshold
func (v *Validator) ValidateQualityThreshold(threshold float64) error {
	if threshold < 0.5 || threshold > 1.0 {
		return fmt.Errorf("quality threshold must be between 0.5 and 1.0, got %g", threshold)
	}
	return nil
}

// ValidateBufferSize validates the batch buffer capacity
func (v *Validator) ValidateBufferSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", size)
	}
	if size > 1_000_000 {
		return fmt.Errorf("buffer size too large (max 1000000), got %d", size)
	}
	return nil
}

// ValidateMaxJitter validates the tick jitter tolerance
func (v *Validator) ValidateMaxJitter(jitterMs int) error {
	if jitterMs < 0 {
		return fmt.Errorf("max jitter must be >= 0 ms, got %d", jitterMs)
	}
	return nil
}

// ValidateTimestampPrecision validates the trial timestamp precision
func (v *Validator) ValidateTimestampPrecision(precision string) error {
	if precision == "" {
		return nil // Use default
	}

	validPrecisions := []string{"second", "millisecond", "microsecond"}
	for _, valid := range validPrecisions {
		if precision == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp precision: %s (must be one of: %s)", precision, strings.Join(validPrecisions, ", "))
}

// ValidateIntention validates an intention label
func (v *Validator) ValidateIntention(intention string) error {
	validIntentions := []string{"high", "low", "baseline"}
	for _, valid := range validIntentions {
		if intention == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid intention: %s (must be one of: %s)", intention, strings.Join(validIntentions, ", "))
}

// ValidateSampleRatio validates the tracing sample ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("tracing sample ratio must be between 0 and 1, got %g", ratio)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBackupSchedule validates the automatic backup cron expression
func (v *Validator) ValidateBackupSchedule(expr string) error {
	if expr == "" {
		return nil // Automatic backups disabled
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid backup schedule: %w", err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateEngine(cfg.RNG.Engine); err != nil {
		errors = append(errors, err)
	}
	if cfg.RNG.BackupEngine != "" {
		if err := v.ValidateEngine(cfg.RNG.BackupEngine); err != nil {
			errors = append(errors, fmt.Errorf("backup engine: %w", err))
		}
		if cfg.RNG.BackupEngine == cfg.RNG.Engine {
			errors = append(errors, fmt.Errorf("backup engine must differ from primary engine %s", cfg.RNG.Engine))
		}
	}
	if cfg.RNG.Engine == "hardware" && cfg.RNG.DevicePath == "" {
		errors = append(errors, fmt.Errorf("device_path is required for the hardware engine"))
	}
	if err := v.ValidateQualityThreshold(cfg.RNG.QualityThreshold); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateFrequency(cfg.Timing.Frequency); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxJitter(cfg.Timing.MaxJitterMs); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTimestampPrecision(cfg.Timing.TimestampPrecision); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateBufferSize(cfg.Database.BufferSize); err != nil {
		errors = append(errors, err)
	}
	if cfg.Database.FlushThreshold <= 0 {
		errors = append(errors, fmt.Errorf("flush threshold must be positive, got %d", cfg.Database.FlushThreshold))
	}
	if cfg.Database.FlushThreshold > cfg.Database.BufferSize {
		errors = append(errors, fmt.Errorf("flush threshold %d exceeds buffer size %d", cfg.Database.FlushThreshold, cfg.Database.BufferSize))
	}
	if cfg.Database.FlushIntervalMs <= 0 {
		errors = append(errors, fmt.Errorf("flush interval must be positive, got %d ms", cfg.Database.FlushIntervalMs))
	}
	if cfg.Database.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("max retries must be >= 0, got %d", cfg.Database.MaxRetries))
	}

	if err := v.ValidatePrecision(cfg.Statistics.Precision); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateBackupSchedule(cfg.Maintenance.BackupSchedule); err != nil {
		errors = append(errors, err)
	}

	if cfg.Monitor.SampleIntervalMs <= 0 {
		errors = append(errors, fmt.Errorf("monitor sample interval must be positive, got %d ms", cfg.Monitor.SampleIntervalMs))
	}

	if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
		errors = append(errors, err)
	}

	if cfg.Gateway.Enabled {
		if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
			errors = append(errors, fmt.Errorf("invalid gateway port: %d", cfg.Gateway.Port))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
