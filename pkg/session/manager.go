// Package session governs the discrete experiment lifecycle. All state
// transitions go through the Manager; callers serialize commands through
// the control lane so racing operations apply in arrival order.
package session

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

// ErrStateConflict is returned when an operation is illegal in the current
// state. The state machine is left untouched.
var ErrStateConflict = errors.New("session state conflict")

// ErrValidation is returned for malformed session configuration.
var ErrValidation = errors.New("session validation failure")

// Persistence stores session records.
type Persistence interface {
	SaveSession(session store.Session) error
	UpdateSession(session store.Session) error
}

// Flusher forces buffered trials to disk before a session record closes.
type Flusher interface {
	Flush() error
}

// Statistics opens and finalizes the per-session statistics scope.
type Statistics interface {
	OpenScope(scopeID string) error
	Freeze(scopeID string) (stats.Snapshot, error)
}

// Config describes a session to start.
type Config struct {
	Intention    store.Intention
	TargetTrials int
	Notes        string
}

// Manager owns the session state machine.
// idle -> running -> {paused <-> running} -> completed; * -> aborted.
type Manager struct {
	persistence Persistence
	flusher     Flusher
	statistics  Statistics
	logger      zerolog.Logger

	mu      sync.Mutex
	current *store.Session
}

// NewManager returns an idle manager.
func NewManager(persistence Persistence, flusher Flusher, statistics Statistics, logger zerolog.Logger) *Manager {
	observability.EnsureRegistered()
	return &Manager{
		persistence: persistence,
		flusher:     flusher,
		statistics:  statistics,
		logger:      logger,
	}
}

// Status returns the current state machine position.
func (m *Manager) Status() store.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Current returns a copy of the active session, if any.
func (m *Manager) Current() (store.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return store.Session{}, false
	}
	return *m.current, true
}

// Scope reports the labelling context for new trials. ok is false when no
// session is running; paused sessions do not accept trials.
func (m *Manager) Scope() (sessionID string, intention store.Intention, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.Status != store.StatusRunning {
		return "", "", false
	}
	return m.current.ID, m.current.Intention, true
}

// Start begins a new session. Fails if one is already running or paused.
func (m *Manager) Start(cfg Config) (store.Session, error) {
	if err := validate(cfg); err != nil {
		return store.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return store.Session{}, fmt.Errorf("%w: session %s is %s", ErrStateConflict, m.current.ID, m.current.Status)
	}

	session := store.Session{
		ID:           uuid.NewString(),
		StartTime:    time.Now().UTC(),
		Intention:    cfg.Intention,
		TargetTrials: cfg.TargetTrials,
		Status:       store.StatusRunning,
		Notes:        cfg.Notes,
	}

	if err := m.persistence.SaveSession(session); err != nil {
		return store.Session{}, fmt.Errorf("failed to persist session: %w", err)
	}
	if err := m.statistics.OpenScope(session.ID); err != nil {
		// The record is already persisted as running; close it out so the
		// store never holds a running session the manager does not own.
		end := time.Now().UTC()
		session.EndTime = &end
		session.Status = store.StatusAborted
		if session.Notes != "" {
			session.Notes += "; "
		}
		session.Notes += "aborted: statistics scope unavailable"
		if uerr := m.persistence.UpdateSession(session); uerr != nil {
			m.logger.Error().Err(uerr).Str("session_id", session.ID).Msg("Failed to roll back session record")
		}
		return store.Session{}, fmt.Errorf("failed to open statistics scope: %w", err)
	}

	m.current = &session
	observability.SetActiveSessions(1)
	m.logger.Info().
		Str("session_id", session.ID).
		Str("intention", string(session.Intention)).
		Int("target_trials", session.TargetTrials).
		Msg("Session started")
	return session, nil
}

// Pause suspends a running session.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Status != store.StatusRunning {
		return fmt.Errorf("%w: pause requires a running session (state %s)", ErrStateConflict, m.statusLocked())
	}

	m.current.Status = store.StatusPaused
	if err := m.persistence.UpdateSession(*m.current); err != nil {
		m.current.Status = store.StatusRunning
		return fmt.Errorf("failed to persist pause: %w", err)
	}
	m.logger.Info().Str("session_id", m.current.ID).Msg("Session paused")
	return nil
}

// Resume continues a paused session.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Status != store.StatusPaused {
		return fmt.Errorf("%w: resume requires a paused session (state %s)", ErrStateConflict, m.statusLocked())
	}

	m.current.Status = store.StatusRunning
	if err := m.persistence.UpdateSession(*m.current); err != nil {
		m.current.Status = store.StatusPaused
		return fmt.Errorf("failed to persist resume: %w", err)
	}
	m.logger.Info().Str("session_id", m.current.ID).Msg("Session resumed")
	return nil
}

// Stop completes a running or paused session. Buffered trials are flushed
// synchronously before the record closes.
func (m *Manager) Stop() (store.Session, stats.Snapshot, error) {
	return m.close(store.StatusCompleted, "")
}

// EmergencyStop aborts the session from any non-terminal state, recording
// the reason. Already-generated trials are flushed, never discarded.
func (m *Manager) EmergencyStop(reason string) (store.Session, stats.Snapshot, error) {
	return m.close(store.StatusAborted, reason)
}

func (m *Manager) close(final store.SessionStatus, reason string) (store.Session, stats.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return store.Session{}, stats.Snapshot{}, fmt.Errorf("%w: no active session", ErrStateConflict)
	}

	if err := m.flusher.Flush(); err != nil {
		return store.Session{}, stats.Snapshot{}, fmt.Errorf("failed to flush before close: %w", err)
	}

	end := time.Now().UTC()
	session := *m.current
	session.EndTime = &end
	session.Status = final
	if reason != "" {
		if session.Notes != "" {
			session.Notes += "; "
		}
		session.Notes += "aborted: " + reason
	}

	if err := m.persistence.UpdateSession(session); err != nil {
		return store.Session{}, stats.Snapshot{}, fmt.Errorf("failed to persist session close: %w", err)
	}

	snapshot, err := m.statistics.Freeze(session.ID)
	if err != nil {
		return store.Session{}, stats.Snapshot{}, fmt.Errorf("failed to freeze statistics scope: %w", err)
	}

	m.current = nil
	observability.SetActiveSessions(0)
	observability.RecordSessionClosed(string(final))
	m.logger.Info().
		Str("session_id", session.ID).
		Str("status", string(final)).
		Uint64("trials", snapshot.Count).
		Msg("Session closed")
	return session, snapshot, nil
}

func (m *Manager) statusLocked() store.SessionStatus {
	if m.current == nil {
		return store.StatusIdle
	}
	return m.current.Status
}

func validate(cfg Config) error {
	switch cfg.Intention {
	case store.IntentionHigh, store.IntentionLow, store.IntentionBaseline:
	default:
		return fmt.Errorf("%w: intention must be high, low or baseline", ErrValidation)
	}
	if cfg.TargetTrials < 0 {
		return fmt.Errorf("%w: target trial count must not be negative", ErrValidation)
	}
	return nil
}
