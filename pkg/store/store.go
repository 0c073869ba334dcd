package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harun/regstream/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Mode labels how a trial was produced
type Mode string

const (
	ModeSession    Mode = "session"
	ModeContinuous Mode = "continuous"
)

// Intention labels the operator's stated intention for a scope
type Intention string

const (
	IntentionHigh     Intention = "high"
	IntentionLow      Intention = "low"
	IntentionBaseline Intention = "baseline"
	IntentionNone     Intention = "none"
)

// SessionStatus is the session state machine position
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusRunning   SessionStatus = "running"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusAborted   SessionStatus = "aborted"
)

// Trial is one sampled sum of 200 binary draws. Immutable once written.
type Trial struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Value     int       `json:"value"`
	Mode      Mode      `json:"mode"`
	SessionID string    `json:"session_id,omitempty"`
	Intention Intention `json:"intention"`
}

// Session is a bounded, intention-labelled experiment
type Session struct {
	ID           string        `json:"id"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty"`
	Intention    Intention     `json:"intention"`
	TargetTrials int           `json:"target_trials"`
	Status       SessionStatus `json:"status"`
	Notes        string        `json:"notes,omitempty"`
}

// IntentionPeriod is an open-ended continuous-mode window
type IntentionPeriod struct {
	ID        string     `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Intention Intention  `json:"intention"`
}

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Store persists trials, sessions and intention periods in sqlite
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the store at the given path
func Open(path string, logger zerolog.Logger) (*Store, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, errors.New("store path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps the flush path from blocking concurrent readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Store opened")
	return s, nil
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS trials (
			sequence INTEGER PRIMARY KEY,
			timestamp_us INTEGER NOT NULL,
			value INTEGER NOT NULL,
			mode TEXT NOT NULL,
			session_id TEXT,
			intention TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trials_session ON trials(session_id);
		CREATE INDEX IF NOT EXISTS idx_trials_timestamp ON trials(timestamp_us);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			start_time_us INTEGER NOT NULL,
			end_time_us INTEGER,
			intention TEXT NOT NULL,
			target_trials INTEGER NOT NULL,
			status TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

		CREATE TABLE IF NOT EXISTS intention_periods (
			id TEXT PRIMARY KEY,
			start_time_us INTEGER NOT NULL,
			end_time_us INTEGER,
			intention TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// InsertTrials writes a batch of trials as one ordered transaction.
// Either the whole batch is durable or none of it is.
func (s *Store) InsertTrials(trials []Trial) error {
	if len(trials) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO trials (sequence, timestamp_us, value, mode, session_id, intention)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, trial := range trials {
		var sessionID interface{}
		if trial.SessionID != "" {
			sessionID = trial.SessionID
		}
		if _, err := stmt.Exec(
			trial.Sequence,
			trial.Timestamp.UnixMicro(),
			trial.Value,
			string(trial.Mode),
			sessionID,
			string(trial.Intention),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert trial %d: %w", trial.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	observability.RecordTrialsPersisted(len(trials))
	return nil
}

// SaveSession inserts a new session record
func (s *Store) SaveSession(session Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, start_time_us, end_time_us, intention, target_trials, status, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		session.ID,
		session.StartTime.UnixMicro(),
		timePtrMicro(session.EndTime),
		string(session.Intention),
		session.TargetTrials,
		string(session.Status),
		session.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// UpdateSession updates an existing session record
func (s *Store) UpdateSession(session Session) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET end_time_us = ?, status = ?, notes = ? WHERE id = ?
	`,
		timePtrMicro(session.EndTime),
		string(session.Status),
		session.Notes,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePeriod inserts a new intention period record
func (s *Store) SavePeriod(period IntentionPeriod) error {
	_, err := s.db.Exec(`
		INSERT INTO intention_periods (id, start_time_us, end_time_us, intention)
		VALUES (?, ?, ?, ?)
	`,
		period.ID,
		period.StartTime.UnixMicro(),
		timePtrMicro(period.EndTime),
		string(period.Intention),
	)
	if err != nil {
		return fmt.Errorf("failed to save intention period: %w", err)
	}
	return nil
}

// UpdatePeriod updates an existing intention period record
func (s *Store) UpdatePeriod(period IntentionPeriod) error {
	res, err := s.db.Exec(`
		UPDATE intention_periods SET end_time_us = ? WHERE id = ?
	`,
		timePtrMicro(period.EndTime),
		period.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update intention period: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// BackupTo writes a point-in-time copy of the whole database to destPath.
// VACUUM INTO produces a compact, consistent snapshot without closing the
// live connection.
func (s *Store) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to back up store: %w", err)
	}
	return nil
}

// Close closes the store
func (s *Store) Close() error {
	s.logger.Info().Msg("Store closed")
	return s.db.Close()
}

func timePtrMicro(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}
