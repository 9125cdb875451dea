package crowdsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const BackflowStepName = "Find and Update Records Step"

var errNoNewRecords = errors.New("No new records found.")

// RecordSource finds search-index documents with crowd edits
type RecordSource interface {
	ChangedSince(ctx context.Context, since time.Time) ([]map[string]interface{}, error)
}

// CatalogWriter writes crowd fields to a catalog record
type CatalogWriter interface {
	UpdateRecord(ctx context.Context, rec Record) error
}

// ResultRecorder stores the result of each record update
type ResultRecorder interface {
	RecordResult(ctx context.Context, entry ReportEntry) error
}

// BackflowStepConfig configures a BackflowStep
type BackflowStepConfig struct {
	Source   RecordSource
	Catalog  CatalogWriter
	Results  ResultRecorder // Optional
	Name     string         // Catalog name stamped on every record
	Lookback time.Duration  // How far back to look for edits
	Clock    Clock          // Default: SystemClock
	Logger   *slog.Logger   // Default: slog.Default()
}

// BackflowStep copies crowd edits from the search index to the catalog
type BackflowStep struct {
	StepBase
	cfg BackflowStepConfig
}

// NewBackflowStep creates the step
func NewBackflowStep(cfg BackflowStepConfig) *BackflowStep {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BackflowStep{
		StepBase: StepBase{StepName: BackflowStepName, Clock: cfg.Clock},
		cfg:      cfg,
	}
}

// Run fetches documents edited within the lookback window and writes each
// to the catalog. Search-index errors and an empty result are recorded as
// failures; a document without a record name aborts the run.
func (s *BackflowStep) Run(ctx context.Context) error {
	since := s.Clock.Now().Add(-s.cfg.Lookback)
	docs, err := s.cfg.Source.ChangedSince(ctx, since)
	if err != nil {
		s.Fail(fmt.Errorf("failed to query search index: %w", err))
		return nil
	}
	if len(docs) == 0 {
		s.Fail(errNoNewRecords)
		return nil
	}

	updated, failed := 0, 0
	for _, doc := range docs {
		rec, err := RecordFromDocument(doc, s.cfg.Name)
		if err != nil {
			err = fmt.Errorf("invalid search-index document: %w", err)
			s.Fail(err)
			return err
		}

		entry := ReportEntry{RecordName: rec.Name, Catalog: rec.Catalog, Success: true, CreatedAt: s.Clock.Now()}
		if err := s.cfg.Catalog.UpdateRecord(ctx, rec); err != nil {
			failed++
			entry.Success = false
			entry.Message = err.Error()
			s.cfg.Logger.Warn("failed to update catalog record",
				slog.String("record", rec.Name), slog.String("error", err.Error()))
		} else {
			updated++
		}

		if s.cfg.Results != nil {
			if err := s.cfg.Results.RecordResult(ctx, entry); err != nil {
				s.cfg.Logger.Error("failed to record backflow result",
					slog.String("record", rec.Name), slog.String("error", err.Error()))
			}
		}
	}

	s.Succeed(fmt.Sprintf("Updated %d records, %d failed.", updated, failed))
	return nil
}
