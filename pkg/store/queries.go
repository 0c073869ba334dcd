package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/harun/regstream/internal/observability"
)

// CountTrials returns the total number of persisted trials
func (s *Store) CountTrials() (int64, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM trials").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trials: %w", err)
	}
	return count, nil
}

// MaxSequence returns the highest persisted sequence number, or 0 when empty
func (s *Store) MaxSequence() (uint64, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	var seq sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(sequence) FROM trials").Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to query max sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// CountTrialsAfter returns the number of trials with sequence > seq
func (s *Store) CountTrialsAfter(seq uint64) (int64, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM trials WHERE sequence > ?", seq).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trials: %w", err)
	}
	return count, nil
}

// CountTrialsBySession returns the number of trials attributed to a session
func (s *Store) CountTrialsBySession(sessionID string) (int64, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM trials WHERE session_id = ?", sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count session trials: %w", err)
	}
	return count, nil
}

// ScanTrials streams all trials in sequence order to fn. Scanning stops on
// the first error fn returns.
func (s *Store) ScanTrials(fn func(Trial) error) error {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	rows, err := s.db.Query(`
		SELECT sequence, timestamp_us, value, mode, session_id, intention
		FROM trials ORDER BY sequence
	`)
	if err != nil {
		return fmt.Errorf("failed to scan trials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			return err
		}
		if err := fn(trial); err != nil {
			return err
		}
	}
	return rows.Err()
}

// TrialsBySession returns all trials attributed to a session, in order
func (s *Store) TrialsBySession(sessionID string) ([]Trial, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	rows, err := s.db.Query(`
		SELECT sequence, timestamp_us, value, mode, session_id, intention
		FROM trials WHERE session_id = ? ORDER BY sequence
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session trials: %w", err)
	}
	defer rows.Close()

	return collectTrials(rows)
}

// TrialsInRange returns trials with timestamps in [from, to), in order
func (s *Store) TrialsInRange(from, to time.Time) ([]Trial, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	rows, err := s.db.Query(`
		SELECT sequence, timestamp_us, value, mode, session_id, intention
		FROM trials WHERE timestamp_us >= ? AND timestamp_us < ? ORDER BY sequence
	`, from.UnixMicro(), to.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to query trials in range: %w", err)
	}
	defer rows.Close()

	return collectTrials(rows)
}

// GetSession returns a single session by id
func (s *Store) GetSession(id string) (Session, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	row := s.db.QueryRow(`
		SELECT id, start_time_us, end_time_us, intention, target_trials, status, notes
		FROM sessions WHERE id = ?
	`, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return session, err
}

// Sessions returns all sessions ordered by start time
func (s *Store) Sessions() ([]Session, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	rows, err := s.db.Query(`
		SELECT id, start_time_us, end_time_us, intention, target_trials, status, notes
		FROM sessions ORDER BY start_time_us
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Periods returns all intention periods ordered by start time
func (s *Store) Periods() ([]IntentionPeriod, error) {
	start := time.Now()
	defer func() { observability.RecordStoreQuery(time.Since(start)) }()

	rows, err := s.db.Query(`
		SELECT id, start_time_us, end_time_us, intention
		FROM intention_periods ORDER BY start_time_us
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query intention periods: %w", err)
	}
	defer rows.Close()

	var periods []IntentionPeriod
	for rows.Next() {
		var (
			period  IntentionPeriod
			startUs int64
			endUs   sql.NullInt64
		)
		if err := rows.Scan(&period.ID, &startUs, &endUs, (*string)(&period.Intention)); err != nil {
			return nil, fmt.Errorf("failed to scan intention period: %w", err)
		}
		period.StartTime = time.UnixMicro(startUs).UTC()
		if endUs.Valid {
			t := time.UnixMicro(endUs.Int64).UTC()
			period.EndTime = &t
		}
		periods = append(periods, period)
	}
	return periods, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrial(r rowScanner) (Trial, error) {
	var (
		trial     Trial
		tsUs      int64
		sessionID sql.NullString
	)
	if err := r.Scan(&trial.Sequence, &tsUs, &trial.Value, (*string)(&trial.Mode), &sessionID, (*string)(&trial.Intention)); err != nil {
		return Trial{}, fmt.Errorf("failed to scan trial: %w", err)
	}
	trial.Timestamp = time.UnixMicro(tsUs).UTC()
	if sessionID.Valid {
		trial.SessionID = sessionID.String
	}
	return trial, nil
}

func scanSession(r rowScanner) (Session, error) {
	var (
		session Session
		startUs int64
		endUs   sql.NullInt64
	)
	if err := r.Scan(&session.ID, &startUs, &endUs, (*string)(&session.Intention), &session.TargetTrials, (*string)(&session.Status), &session.Notes); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("failed to scan session: %w", err)
	}
	session.StartTime = time.UnixMicro(startUs).UTC()
	if endUs.Valid {
		t := time.UnixMicro(endUs.Int64).UTC()
		session.EndTime = &t
	}
	return session, nil
}

func collectTrials(rows *sql.Rows) ([]Trial, error) {
	var trials []Trial
	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		trials = append(trials, trial)
	}
	return trials, rows.Err()
}
