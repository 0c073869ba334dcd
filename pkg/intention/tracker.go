// Package intention manages continuous-mode intention windows. Periods are
// open-ended, labelled high/low/baseline, and at most one is open at a time.
package intention

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/regstream/internal/observability"
	"github.com/harun/regstream/pkg/stats"
	"github.com/harun/regstream/pkg/store"
)

// ErrStateConflict is returned when a period operation is illegal in the
// current state.
var ErrStateConflict = errors.New("intention period state conflict")

// ErrValidation is returned for an unknown intention label.
var ErrValidation = errors.New("intention validation failure")

// Persistence stores intention period records.
type Persistence interface {
	SavePeriod(period store.IntentionPeriod) error
	UpdatePeriod(period store.IntentionPeriod) error
}

// Statistics opens and finalizes the per-period statistics scope.
type Statistics interface {
	OpenScope(scopeID string) error
	Freeze(scopeID string) (stats.Snapshot, error)
}

// Tracker owns the open intention period, if any.
type Tracker struct {
	persistence Persistence
	statistics  Statistics
	logger      zerolog.Logger

	mu   sync.Mutex
	open *store.IntentionPeriod
}

// NewTracker returns a tracker with no open period.
func NewTracker(persistence Persistence, statistics Statistics, logger zerolog.Logger) *Tracker {
	observability.EnsureRegistered()
	return &Tracker{
		persistence: persistence,
		statistics:  statistics,
		logger:      logger,
	}
}

// Current returns a copy of the open period, if any.
func (t *Tracker) Current() (store.IntentionPeriod, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return store.IntentionPeriod{}, false
	}
	return *t.open, true
}

// Scope reports the labelling context for new continuous-mode trials.
func (t *Tracker) Scope() (periodID string, intention store.Intention, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return "", "", false
	}
	return t.open.ID, t.open.Intention, true
}

// StartPeriod opens a new period. A stale open period is never closed
// implicitly; the caller must EndPeriod first.
func (t *Tracker) StartPeriod(label store.Intention) (store.IntentionPeriod, error) {
	switch label {
	case store.IntentionHigh, store.IntentionLow, store.IntentionBaseline:
	default:
		return store.IntentionPeriod{}, fmt.Errorf("%w: intention must be high, low or baseline", ErrValidation)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open != nil {
		return store.IntentionPeriod{}, fmt.Errorf("%w: period %s is still open", ErrStateConflict, t.open.ID)
	}

	period := store.IntentionPeriod{
		ID:        uuid.NewString(),
		StartTime: time.Now().UTC(),
		Intention: label,
	}

	if err := t.persistence.SavePeriod(period); err != nil {
		return store.IntentionPeriod{}, fmt.Errorf("failed to persist intention period: %w", err)
	}
	if err := t.statistics.OpenScope(period.ID); err != nil {
		// Close the persisted record out so the store never holds an open
		// period the tracker does not own.
		end := time.Now().UTC()
		period.EndTime = &end
		if uerr := t.persistence.UpdatePeriod(period); uerr != nil {
			t.logger.Error().Err(uerr).Str("period_id", period.ID).Msg("Failed to roll back period record")
		}
		return store.IntentionPeriod{}, fmt.Errorf("failed to open statistics scope: %w", err)
	}

	t.open = &period
	observability.SetOpenPeriods(1)
	t.logger.Info().
		Str("period_id", period.ID).
		Str("intention", string(label)).
		Msg("Intention period started")
	return period, nil
}

// EndPeriod stamps the end time and freezes the period's final snapshot.
func (t *Tracker) EndPeriod() (store.IntentionPeriod, stats.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open == nil {
		return store.IntentionPeriod{}, stats.Snapshot{}, fmt.Errorf("%w: no open period", ErrStateConflict)
	}

	end := time.Now().UTC()
	period := *t.open
	period.EndTime = &end

	if err := t.persistence.UpdatePeriod(period); err != nil {
		return store.IntentionPeriod{}, stats.Snapshot{}, fmt.Errorf("failed to persist period end: %w", err)
	}

	snapshot, err := t.statistics.Freeze(period.ID)
	if err != nil {
		return store.IntentionPeriod{}, stats.Snapshot{}, fmt.Errorf("failed to freeze statistics scope: %w", err)
	}

	t.open = nil
	observability.SetOpenPeriods(0)
	t.logger.Info().
		Str("period_id", period.ID).
		Uint64("trials", snapshot.Count).
		Msg("Intention period ended")
	return period, snapshot, nil
}
