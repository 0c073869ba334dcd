// Package maintenance covers backup, export/import and integrity validation
// over the persisted store. Operations run on the maintenance command lane
// and never touch the ingestion hot path.
package maintenance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/regstream/internal/observability"
	"github.com/harun/regstream/pkg/store"
)

// ErrStoreUnhealthy blocks maintenance operations after a fatal integrity
// finding. Ingestion is unaffected.
var ErrStoreUnhealthy = errors.New("store marked unhealthy by integrity validation")

// backupIDLength is the nanoid suffix on backup and export file names.
const backupIDLength = 8

// Flusher forces buffered trials to disk so backups and exports never miss
// generated data.
type Flusher interface {
	Flush() error
}

// Config controls where artifacts land and when automatic backups run.
type Config struct {
	BackupDir string
	ExportDir string

	// BackupSchedule is a cron expression; empty disables scheduling.
	BackupSchedule string
}

// BackupInfo describes a created backup.
type BackupInfo struct {
	Path      string    `json:"path"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// Service executes maintenance operations.
type Service struct {
	cfg     Config
	store   *store.Store
	flusher Flusher
	logger  zerolog.Logger

	unhealthy atomic.Bool
	scheduler *cron.Cron
}

// NewService returns a maintenance service over the given store.
func NewService(cfg Config, st *store.Store, flusher Flusher, logger zerolog.Logger) *Service {
	observability.EnsureRegistered()
	return &Service{
		cfg:     cfg,
		store:   st,
		flusher: flusher,
		logger:  logger,
	}
}

// Healthy reports whether the last integrity validation passed.
func (s *Service) Healthy() bool {
	return !s.unhealthy.Load()
}

// CreateBackup flushes pending trials and writes a point-in-time copy of
// the store. The name carries the label, a timestamp and a short id so
// backups never collide.
func (s *Service) CreateBackup(label string) (BackupInfo, error) {
	if s.unhealthy.Load() {
		return BackupInfo{}, ErrStoreUnhealthy
	}
	if label == "" {
		label = "manual"
	}

	if err := s.flusher.Flush(); err != nil {
		observability.RecordBackup(false)
		return BackupInfo{}, fmt.Errorf("failed to flush before backup: %w", err)
	}

	if err := os.MkdirAll(s.cfg.BackupDir, 0o755); err != nil {
		observability.RecordBackup(false)
		return BackupInfo{}, fmt.Errorf("failed to create backup dir: %w", err)
	}

	now := time.Now().UTC()
	id, err := gonanoid.New(backupIDLength)
	if err != nil {
		observability.RecordBackup(false)
		return BackupInfo{}, fmt.Errorf("failed to generate backup id: %w", err)
	}

	name := fmt.Sprintf("regstream-%s-%s-%s.db", label, now.Format("20060102T150405"), id)
	path := filepath.Join(s.cfg.BackupDir, name)

	if err := s.store.BackupTo(path); err != nil {
		observability.RecordBackup(false)
		return BackupInfo{}, err
	}

	info := BackupInfo{Path: path, Label: label, CreatedAt: now}
	if fi, err := os.Stat(path); err == nil {
		info.SizeBytes = fi.Size()
	}

	observability.RecordBackup(true)
	s.logger.Info().
		Str("path", path).
		Str("label", label).
		Int64("size_bytes", info.SizeBytes).
		Msg("Backup created")
	return info, nil
}

// StartScheduledBackups runs CreateBackup on the configured cron schedule.
// No-op when the schedule is empty.
func (s *Service) StartScheduledBackups() error {
	if s.cfg.BackupSchedule == "" {
		return nil
	}

	s.scheduler = cron.New()
	_, err := s.scheduler.AddFunc(s.cfg.BackupSchedule, func() {
		if _, err := s.CreateBackup("scheduled"); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled backup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid backup schedule: %w", err)
	}

	s.scheduler.Start()
	s.logger.Info().Str("schedule", s.cfg.BackupSchedule).Msg("Scheduled backups enabled")
	return nil
}

// StopScheduledBackups halts the scheduler and waits for a running job.
func (s *Service) StopScheduledBackups() {
	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
		s.scheduler = nil
	}
}
