package rng

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/harun/regstream/internal/observability"
)

// Hybrid wraps a primary source with an automatic backup. A failed primary
// draw falls through to the backup for the same tick; the primary is retried
// on the next draw so transient device faults self-heal.
type Hybrid struct {
	primary  Source
	backup   Source
	logger   zerolog.Logger
	degraded atomic.Bool
}

// NewHybrid returns a source that prefers primary and falls back to backup.
func NewHybrid(primary, backup Source, logger zerolog.Logger) *Hybrid {
	return &Hybrid{
		primary: primary,
		backup:  backup,
		logger:  logger,
	}
}

func (h *Hybrid) Draw(ctx context.Context) (int, error) {
	value, err := h.primary.Draw(ctx)
	if err == nil {
		if h.degraded.CompareAndSwap(true, false) {
			h.logger.Info().
				Str("engine", h.primary.Name()).
				Msg("Primary trial source recovered")
		}
		return value, nil
	}
	if ctx.Err() != nil {
		return 0, err
	}

	observability.RecordSourceFallback()
	if h.degraded.CompareAndSwap(false, true) {
		h.logger.Warn().
			Err(err).
			Str("primary", h.primary.Name()).
			Str("backup", h.backup.Name()).
			Msg("Primary trial source failed, switching to backup")
	}

	value, backupErr := h.backup.Draw(ctx)
	if backupErr != nil {
		return 0, fmt.Errorf("%w: primary and backup both failed: %v", ErrSourceFailure, backupErr)
	}
	return value, nil
}

func (h *Hybrid) Name() string { return "hybrid" }

// Healthy reports whether at least one engine can produce values.
func (h *Hybrid) Healthy() bool {
	return h.primary.Healthy() || h.backup.Healthy()
}

// Degraded reports whether the most recent draw came from the backup.
func (h *Hybrid) Degraded() bool {
	return h.degraded.Load()
}
