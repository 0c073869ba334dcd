package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the full regstream configuration
type Config struct {
	// RNG engine selection
	RNG RNGConfig `json:"rng" mapstructure:"rng"`

	// Trial timing
	Timing TimingConfig `json:"timing" mapstructure:"timing"`

	// Persistence
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Statistics
	Statistics StatisticsConfig `json:"statistics" mapstructure:"statistics"`

	// Maintenance (backups, exports)
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// Performance sampling
	Monitor MonitorConfig `json:"monitor" mapstructure:"monitor"`

	// Command-path span sampling
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Status gateway for the UI/host layer
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// RNGConfig selects the trial source engines
type RNGConfig struct {
	Engine           string  `json:"engine" mapstructure:"engine"`                       // hardware, software, pseudo
	BackupEngine     string  `json:"backup_engine" mapstructure:"backup_engine"`         // engine used on primary failure
	DevicePath       string  `json:"device_path" mapstructure:"device_path"`             // hardware entropy device
	Seed             int64   `json:"seed" mapstructure:"seed"`                           // pseudo engine seed (0 = time-based)
	QualityThreshold float64 `json:"quality_threshold" mapstructure:"quality_threshold"` // 0.5-1.0
}

// TimingConfig controls the generator schedule
type TimingConfig struct {
	Frequency          float64 `json:"frequency" mapstructure:"frequency"`                     // trials/second, 0.1-10
	MaxJitterMs        int     `json:"max_jitter_ms" mapstructure:"max_jitter_ms"`             // tolerance before a tick counts as missed
	TimestampPrecision string  `json:"timestamp_precision" mapstructure:"timestamp_precision"` // second, millisecond, microsecond
}

// DatabaseConfig controls the store and batch writer
type DatabaseConfig struct {
	Path            string `json:"path" mapstructure:"path"`
	BufferSize      int    `json:"buffer_size" mapstructure:"buffer_size"`             // batch buffer capacity
	FlushThreshold  int    `json:"flush_threshold" mapstructure:"flush_threshold"`     // trials buffered before a flush
	FlushIntervalMs int    `json:"flush_interval_ms" mapstructure:"flush_interval_ms"` // time-based flush
	MaxRetries      int    `json:"max_retries" mapstructure:"max_retries"`             // flush retry attempts
}

// StatisticsConfig controls snapshot derivation
type StatisticsConfig struct {
	Precision int `json:"precision" mapstructure:"precision"` // decimal places, 1-15
}

// MaintenanceConfig controls backups and exports
type MaintenanceConfig struct {
	BackupDir      string `json:"backup_dir" mapstructure:"backup_dir"`
	ExportDir      string `json:"export_dir" mapstructure:"export_dir"`
	BackupSchedule string `json:"backup_schedule" mapstructure:"backup_schedule"` // cron expression, empty disables
}

// MonitorConfig controls the performance sampler
type MonitorConfig struct {
	SampleIntervalMs int `json:"sample_interval_ms" mapstructure:"sample_interval_ms"`
}

// TracingConfig controls span sampling on the command surface
type TracingConfig struct {
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"` // 0-1, fraction of command traces kept
}

// GatewayConfig holds the websocket status gateway configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		RNG: RNGConfig{
			Engine:           "software",
			BackupEngine:     "pseudo",
			QualityThreshold: 0.95,
		},
		Timing: TimingConfig{
			Frequency:          1.0,
			MaxJitterMs:        50,
			TimestampPrecision: "millisecond",
		},
		Database: DatabaseConfig{
			BufferSize:      500,
			FlushThreshold:  100,
			FlushIntervalMs: 5000,
			MaxRetries:      3,
		},
		Statistics: StatisticsConfig{
			Precision: 6,
		},
		Maintenance: MaintenanceConfig{
			BackupSchedule: "",
		},
		Monitor: MonitorConfig{
			SampleIntervalMs: 1000,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Port:    8080,
			Host:    "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:    "info",
			MaxSize:  100,
			MaxAge:   7,
			Compress: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()
	errs := v.ValidateConfig(c)
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errs[0])
	}
	return nil
}
