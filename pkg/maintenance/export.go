package maintenance

import (
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/regstream/internal/observability"
	"github.com/harun/regstream/pkg/store"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ExportOptions selects entities, format and compression.
type ExportOptions struct {
	Format          string `json:"format"`
	IncludeTrials   bool   `json:"include_trials"`
	IncludeSessions bool   `json:"include_sessions"`
	IncludePeriods  bool   `json:"include_periods"`
	Compress        bool   `json:"compress"`
}

// ExportInfo describes a completed export.
type ExportInfo struct {
	Path       string    `json:"path"`
	Format     string    `json:"format"`
	Trials     int       `json:"trials"`
	Sessions   int       `json:"sessions"`
	Periods    int       `json:"periods"`
	ExportedAt time.Time `json:"exported_at"`
}

// exportDocument is the JSON export schema. Field names are stable; Import
// and the validation schema both depend on them.
type exportDocument struct {
	Format     string                  `json:"format"`
	ExportedAt time.Time               `json:"exported_at"`
	Trials     []store.Trial           `json:"trials,omitempty"`
	Sessions   []store.Session         `json:"sessions,omitempty"`
	Periods    []store.IntentionPeriod `json:"intention_periods,omitempty"`
}

// Export serializes the selected entity sets. Buffered trials are flushed
// first so the export reflects everything generated.
func (s *Service) Export(opts ExportOptions) (ExportInfo, error) {
	if s.unhealthy.Load() {
		return ExportInfo{}, ErrStoreUnhealthy
	}
	if opts.Format != FormatJSON && opts.Format != FormatCSV {
		observability.RecordExport(opts.Format, false)
		return ExportInfo{}, fmt.Errorf("unsupported export format: %q", opts.Format)
	}
	if !opts.IncludeTrials && !opts.IncludeSessions && !opts.IncludePeriods {
		return ExportInfo{}, fmt.Errorf("export selects no entities")
	}

	if err := s.flusher.Flush(); err != nil {
		observability.RecordExport(opts.Format, false)
		return ExportInfo{}, fmt.Errorf("failed to flush before export: %w", err)
	}

	doc, err := s.collect(opts)
	if err != nil {
		observability.RecordExport(opts.Format, false)
		return ExportInfo{}, err
	}

	if err := os.MkdirAll(s.cfg.ExportDir, 0o755); err != nil {
		observability.RecordExport(opts.Format, false)
		return ExportInfo{}, fmt.Errorf("failed to create export dir: %w", err)
	}

	id, err := gonanoid.New(backupIDLength)
	if err != nil {
		observability.RecordExport(opts.Format, false)
		return ExportInfo{}, fmt.Errorf("failed to generate export id: %w", err)
	}

	ext := opts.Format
	if opts.Compress {
		ext += ".gz"
	}
	name := fmt.Sprintf("regstream-export-%s-%s.%s", doc.ExportedAt.Format("20060102T150405"), id, ext)
	path := filepath.Join(s.cfg.ExportDir, name)

	if err := s.writeExport(path, opts, doc); err != nil {
		observability.RecordExport(opts.Format, false)
		return ExportInfo{}, err
	}

	info := ExportInfo{
		Path:       path,
		Format:     opts.Format,
		Trials:     len(doc.Trials),
		Sessions:   len(doc.Sessions),
		Periods:    len(doc.Periods),
		ExportedAt: doc.ExportedAt,
	}

	observability.RecordExport(opts.Format, true)
	s.logger.Info().
		Str("path", path).
		Str("format", opts.Format).
		Int("trials", info.Trials).
		Int("sessions", info.Sessions).
		Int("periods", info.Periods).
		Msg("Export completed")
	return info, nil
}

func (s *Service) collect(opts ExportOptions) (exportDocument, error) {
	doc := exportDocument{
		Format:     opts.Format,
		ExportedAt: time.Now().UTC(),
	}

	if opts.IncludeTrials {
		err := s.store.ScanTrials(func(trial store.Trial) error {
			doc.Trials = append(doc.Trials, trial)
			return nil
		})
		if err != nil {
			return doc, fmt.Errorf("failed to read trials: %w", err)
		}
	}
	if opts.IncludeSessions {
		sessions, err := s.store.Sessions()
		if err != nil {
			return doc, fmt.Errorf("failed to read sessions: %w", err)
		}
		doc.Sessions = sessions
	}
	if opts.IncludePeriods {
		periods, err := s.store.Periods()
		if err != nil {
			return doc, fmt.Errorf("failed to read intention periods: %w", err)
		}
		doc.Periods = periods
	}
	return doc, nil
}

func (s *Service) writeExport(path string, opts ExportOptions, doc exportDocument) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(f)
		w = gz
	}

	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode export: %w", err)
		}
	case FormatCSV:
		if err := writeCSV(w, doc); err != nil {
			return err
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish compression: %w", err)
		}
	}
	return f.Sync()
}

// writeCSV emits sectioned CSV: each selected entity set gets a header row
// prefixed with its name, then its records.
func writeCSV(w io.Writer, doc exportDocument) error {
	cw := csv.NewWriter(w)

	if doc.Trials != nil {
		if err := cw.Write([]string{"trial", "sequence", "timestamp", "value", "mode", "session_id", "intention"}); err != nil {
			return err
		}
		for _, t := range doc.Trials {
			record := []string{
				"trial",
				strconv.FormatUint(t.Sequence, 10),
				t.Timestamp.Format(time.RFC3339Nano),
				strconv.Itoa(t.Value),
				string(t.Mode),
				t.SessionID,
				string(t.Intention),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	if doc.Sessions != nil {
		if err := cw.Write([]string{"session", "id", "start_time", "end_time", "intention", "target_trials", "status", "notes"}); err != nil {
			return err
		}
		for _, sess := range doc.Sessions {
			end := ""
			if sess.EndTime != nil {
				end = sess.EndTime.Format(time.RFC3339Nano)
			}
			record := []string{
				"session",
				sess.ID,
				sess.StartTime.Format(time.RFC3339Nano),
				end,
				string(sess.Intention),
				strconv.Itoa(sess.TargetTrials),
				string(sess.Status),
				sess.Notes,
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	if doc.Periods != nil {
		if err := cw.Write([]string{"intention_period", "id", "start_time", "end_time", "intention"}); err != nil {
			return err
		}
		for _, p := range doc.Periods {
			end := ""
			if p.EndTime != nil {
				end = p.EndTime.Format(time.RFC3339Nano)
			}
			record := []string{
				"intention_period",
				p.ID,
				p.StartTime.Format(time.RFC3339Nano),
				end,
				string(p.Intention),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
