package crowdsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	MailWorkflowName     = "Mail Workflow"
	BackflowWorkflowName = "Backflow Workflow"
	CleanupWorkflowName  = "Cleanup Workflow"
	PruneStepName        = "Prune Results Step"
)

// MailWorkflowConfig configures the workflow that mails the summary report
type MailWorkflowConfig struct {
	Reporter     Reporter
	Mailer       Mailer
	Interval     time.Duration // How often the report is sent (default: 24h)
	MailInterval time.Duration // Window covered by each report (default: Interval)
	Clock        Clock
	Logger       *slog.Logger
	Metrics      MetricsCollector
	Events       EventLogger
}

// NewMailWorkflow creates the workflow that mails the summary report
func NewMailWorkflow(cfg MailWorkflowConfig) (*Workflow, error) {
	if cfg.Reporter == nil || cfg.Mailer == nil {
		return nil, errors.New("mail workflow requires a reporter and a mailer")
	}
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.MailInterval == 0 {
		cfg.MailInterval = cfg.Interval
	}

	return NewWorkflow(WorkflowConfig{
		Name:     MailWorkflowName,
		Interval: cfg.Interval,
		Steps:    []Step{NewSendMailStep(cfg.Reporter, cfg.Mailer, cfg.MailInterval, cfg.Clock)},
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Events:   cfg.Events,
	})
}

// BackflowWorkflowConfig configures the workflow that copies crowd edits
// from the search index into the catalog
type BackflowWorkflowConfig struct {
	Source   RecordSource
	Catalog  CatalogWriter
	Results  ResultRecorder
	Name     string        // Catalog name
	Interval time.Duration // Default: 1h
	Clock    Clock
	Logger   *slog.Logger
	Metrics  MetricsCollector
	Events   EventLogger
}

// NewBackflowWorkflow creates the backflow workflow. Each run looks back one
// interval plus the hour alignment slack, so edits are never skipped between
// runs; catalog updates are idempotent.
func NewBackflowWorkflow(cfg BackflowWorkflowConfig) (*Workflow, error) {
	if cfg.Source == nil || cfg.Catalog == nil {
		return nil, errors.New("backflow workflow requires a record source and a catalog writer")
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}

	step := NewBackflowStep(BackflowStepConfig{
		Source:   cfg.Source,
		Catalog:  cfg.Catalog,
		Results:  cfg.Results,
		Name:     cfg.Name,
		Lookback: cfg.Interval + time.Hour,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
	})

	return NewWorkflow(WorkflowConfig{
		Name:     BackflowWorkflowName,
		Interval: cfg.Interval,
		Steps:    []Step{step},
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Events:   cfg.Events,
	})
}

// Pruner deletes old backflow results
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// CleanupWorkflowConfig configures the workflow that prunes old results
type CleanupWorkflowConfig struct {
	Store     Pruner
	Retention time.Duration // Results older than this are deleted (default: 30 days)
	Interval  time.Duration // Default: 24h
	Clock     Clock
	Logger    *slog.Logger
	Metrics   MetricsCollector
	Events    EventLogger
}

// NewCleanupWorkflow creates the workflow that keeps the report store bounded
func NewCleanupWorkflow(cfg CleanupWorkflowConfig) (*Workflow, error) {
	if cfg.Store == nil {
		return nil, errors.New("cleanup workflow requires a store")
	}
	if cfg.Retention == 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}

	prune := NewStep(PruneStepName, func(ctx context.Context) (string, error) {
		removed, err := cfg.Store.Prune(ctx, clock.Now().Add(-cfg.Retention))
		if err != nil {
			return "", Tolerate(err)
		}
		return fmt.Sprintf("Removed %d results.", removed), nil
	})

	return NewWorkflow(WorkflowConfig{
		Name:     CleanupWorkflowName,
		Interval: cfg.Interval,
		Steps:    []Step{prune},
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Events:   cfg.Events,
	})
}
