package maintenance

import (
	"fmt"
	"time"

	"github.com/harun/regstream/internal/observability"
	"github.com/harun/regstream/pkg/store"
)

// timestampGapWarning flags unusually large gaps between consecutive trials.
const timestampGapWarning = time.Hour

// Issue is one integrity finding.
type Issue struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

// IntegrityReport lists fatal errors and warnings from a validation run.
// Any fatal finding marks the store unhealthy and blocks further
// maintenance operations until a clean run.
type IntegrityReport struct {
	CheckedAt time.Time `json:"checked_at"`
	Trials    int64     `json:"trials"`
	Fatal     []Issue   `json:"fatal,omitempty"`
	Warnings  []Issue   `json:"warnings,omitempty"`
}

// Healthy reports whether the run found no fatal issues.
func (r IntegrityReport) Healthy() bool {
	return len(r.Fatal) == 0
}

// ValidateIntegrity checks range, referential and state invariants over the
// whole store.
func (s *Service) ValidateIntegrity() (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: time.Now().UTC()}

	sessions, err := s.store.Sessions()
	if err != nil {
		observability.RecordIntegrityRun("error")
		return report, fmt.Errorf("failed to read sessions: %w", err)
	}
	periods, err := s.store.Periods()
	if err != nil {
		observability.RecordIntegrityRun("error")
		return report, fmt.Errorf("failed to read intention periods: %w", err)
	}

	known := make(map[string]struct{}, len(sessions))
	running := 0
	for _, session := range sessions {
		known[session.ID] = struct{}{}
		if session.Status == store.StatusRunning {
			running++
		}
	}
	if running > 1 {
		report.Fatal = append(report.Fatal, Issue{
			Check:   "state",
			Message: fmt.Sprintf("%d sessions marked running, at most one allowed", running),
		})
	}

	open := 0
	for _, period := range periods {
		if period.EndTime == nil {
			open++
		}
	}
	if open > 1 {
		report.Fatal = append(report.Fatal, Issue{
			Check:   "state",
			Message: fmt.Sprintf("%d intention periods open, at most one allowed", open),
		})
	}

	var (
		prevSeq  uint64
		prevTime time.Time
		first    = true
	)
	err = s.store.ScanTrials(func(trial store.Trial) error {
		report.Trials++

		if trial.Value < 0 || trial.Value > 200 {
			report.Fatal = append(report.Fatal, Issue{
				Check:   "range",
				Message: fmt.Sprintf("trial %d value %d outside [0, 200]", trial.Sequence, trial.Value),
			})
		}
		if !first && trial.Sequence <= prevSeq {
			report.Fatal = append(report.Fatal, Issue{
				Check:   "range",
				Message: fmt.Sprintf("sequence %d not greater than predecessor %d", trial.Sequence, prevSeq),
			})
		}
		if trial.Mode == store.ModeSession {
			if trial.SessionID == "" {
				report.Fatal = append(report.Fatal, Issue{
					Check:   "referential",
					Message: fmt.Sprintf("session-mode trial %d has no session id", trial.Sequence),
				})
			} else if _, ok := known[trial.SessionID]; !ok {
				report.Fatal = append(report.Fatal, Issue{
					Check:   "referential",
					Message: fmt.Sprintf("trial %d references unknown session %s", trial.Sequence, trial.SessionID),
				})
			}
		}
		if !first {
			if gap := trial.Timestamp.Sub(prevTime); gap > timestampGapWarning {
				report.Warnings = append(report.Warnings, Issue{
					Check:   "timing",
					Message: fmt.Sprintf("gap of %s before trial %d", gap, trial.Sequence),
				})
			}
		}

		prevSeq = trial.Sequence
		prevTime = trial.Timestamp
		first = false
		return nil
	})
	if err != nil {
		observability.RecordIntegrityRun("error")
		return report, fmt.Errorf("failed to scan trials: %w", err)
	}

	if report.Healthy() {
		s.unhealthy.Store(false)
		observability.RecordIntegrityRun("healthy")
		s.logger.Info().
			Int64("trials", report.Trials).
			Int("warnings", len(report.Warnings)).
			Msg("Integrity validation passed")
	} else {
		s.unhealthy.Store(true)
		observability.RecordIntegrityRun("fatal")
		s.logger.Error().
			Int64("trials", report.Trials).
			Int("fatal", len(report.Fatal)).
			Int("warnings", len(report.Warnings)).
			Msg("Integrity validation found fatal issues")
	}
	return report, nil
}
