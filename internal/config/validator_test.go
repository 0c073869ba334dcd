package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFrequency(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		freq    float64
		wantErr bool
	}{
		{"lower bound", 0.1, false},
		{"upper bound", 10, false},
		{"typical", 1.0, false},
		{"too low", 0.05, true},
		{"too high", 15, true},
		{"zero", 0, true},
		{"negative", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateFrequency(tt.freq)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePrecision(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePrecision(1))
	assert.NoError(t, v.ValidatePrecision(15))
	assert.Error(t, v.ValidatePrecision(0))
	assert.Error(t, v.ValidatePrecision(16))
}

func TestValidateQualityThreshold(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateQualityThreshold(0.5))
	assert.NoError(t, v.ValidateQualityThreshold(1.0))
	assert.Error(t, v.ValidateQualityThreshold(0.4))
	assert.Error(t, v.ValidateQualityThreshold(1.1))
}

func TestValidateIntention(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateIntention("high"))
	assert.NoError(t, v.ValidateIntention("low"))
	assert.NoError(t, v.ValidateIntention("baseline"))
	assert.Error(t, v.ValidateIntention("medium"))
	assert.Error(t, v.ValidateIntention(""))
}

func TestValidateEngine(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateEngine("hardware"))
	assert.NoError(t, v.ValidateEngine("software"))
	assert.NoError(t, v.ValidateEngine("pseudo"))
	assert.Error(t, v.ValidateEngine("hybrid2"))
	assert.Error(t, v.ValidateEngine(""))
}

func TestValidateSampleRatio(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSampleRatio(0))
	assert.NoError(t, v.ValidateSampleRatio(0.25))
	assert.NoError(t, v.ValidateSampleRatio(1))
	assert.Error(t, v.ValidateSampleRatio(-0.1))
	assert.Error(t, v.ValidateSampleRatio(1.5))
}

func TestValidateBackupSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateBackupSchedule(""))
	assert.NoError(t, v.ValidateBackupSchedule("0 3 * * *"))
	assert.Error(t, v.ValidateBackupSchedule("not a cron"))
}

func TestValidateConfig_CollectsAllErrors(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	cfg.Timing.Frequency = 100
	cfg.Statistics.Precision = 99
	cfg.RNG.QualityThreshold = 0.1

	errs := v.ValidateConfig(cfg)
	assert.Len(t, errs, 3)
}

func TestValidateConfig_HardwareNeedsDevicePath(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	cfg.RNG.Engine = "hardware"
	cfg.RNG.BackupEngine = "software"
	cfg.RNG.DevicePath = ""

	errs := v.ValidateConfig(cfg)
	assert.NotEmpty(t, errs)
}

func TestValidateConfig_BackupMustDiffer(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	cfg.RNG.Engine = "software"
	cfg.RNG.BackupEngine = "software"

	errs := v.ValidateConfig(cfg)
	assert.NotEmpty(t, errs)
}
