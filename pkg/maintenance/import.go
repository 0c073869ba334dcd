package maintenance

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// exportSchema validates JSON exports before any record touches the store.
const exportSchema = `{
	"type": "object",
	"required": ["format", "exported_at"],
	"properties": {
		"format": {"type": "string", "enum": ["json"]},
		"exported_at": {"type": "string"},
		"trials": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["sequence", "timestamp", "value", "mode", "intention"],
				"properties": {
					"sequence": {"type": "integer", "minimum": 0},
					"timestamp": {"type": "string"},
					"value": {"type": "integer", "minimum": 0, "maximum": 200},
					"mode": {"type": "string", "enum": ["session", "continuous"]},
					"session_id": {"type": "string"},
					"intention": {"type": "string", "enum": ["high", "low", "baseline", "none"]}
				}
			}
		},
		"sessions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "start_time", "intention", "target_trials", "status"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"start_time": {"type": "string"},
					"end_time": {"type": "string"},
					"intention": {"type": "string", "enum": ["high", "low", "baseline", "none"]},
					"target_trials": {"type": "integer", "minimum": 0},
					"status": {"type": "string", "enum": ["idle", "running", "paused", "completed", "aborted"]},
					"notes": {"type": "string"}
				}
			}
		},
		"intention_periods": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "start_time", "intention"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"start_time": {"type": "string"},
					"end_time": {"type": "string"},
					"intention": {"type": "string", "enum": ["high", "low", "baseline", "none"]}
				}
			}
		}
	}
}`

// ImportReport counts the records restored from an export.
type ImportReport struct {
	Trials   int `json:"trials"`
	Sessions int `json:"sessions"`
	Periods  int `json:"periods"`
}

// Import restores a JSON export into the store. The document is validated
// against the export schema before anything is written. Only JSON exports
// round-trip; CSV is an analysis format.
func (s *Service) Import(path string) (ImportReport, error) {
	if s.unhealthy.Load() {
		return ImportReport{}, ErrStoreUnhealthy
	}

	data, err := readMaybeGzip(path)
	if err != nil {
		return ImportReport{}, err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(exportSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return ImportReport{}, fmt.Errorf("failed to validate export: %w", err)
	}
	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return ImportReport{}, fmt.Errorf("export failed schema validation: %s", strings.Join(reasons, "; "))
	}

	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return ImportReport{}, fmt.Errorf("failed to decode export: %w", err)
	}

	report := ImportReport{}
	for _, session := range doc.Sessions {
		if err := s.store.SaveSession(session); err != nil {
			return report, fmt.Errorf("failed to restore session %s: %w", session.ID, err)
		}
		report.Sessions++
	}
	for _, period := range doc.Periods {
		if err := s.store.SavePeriod(period); err != nil {
			return report, fmt.Errorf("failed to restore intention period %s: %w", period.ID, err)
		}
		report.Periods++
	}
	if len(doc.Trials) > 0 {
		if err := s.store.InsertTrials(doc.Trials); err != nil {
			return report, fmt.Errorf("failed to restore trials: %w", err)
		}
		report.Trials = len(doc.Trials)
	}

	s.logger.Info().
		Str("path", path).
		Int("trials", report.Trials).
		Int("sessions", report.Sessions).
		Int("periods", report.Periods).
		Msg("Import completed")
	return report, nil
}

func readMaybeGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read compressed import: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	return data, nil
}
