package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tendant/crowdsync"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	store, err := crowdsync.OpenReportStore(cfg.ReportStore.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	store.SetLogger(logger)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := crowdsync.NewPrometheusMetrics(registry)

	workflows, err := buildWorkflows(cfg, store, metrics, logger)
	if err != nil {
		return err
	}

	scheduler := crowdsync.NewScheduler(crowdsync.SchedulerConfig{
		Cadence: cfg.Scheduler.Cadence,
		Logger:  logger,
	})
	for _, w := range workflows {
		if err := scheduler.Register(w); err != nil {
			return err
		}
	}

	handler := crowdsync.NewHandler(scheduler, crowdsync.HandlerConfig{
		Gatherer: registry,
		Events:   store,
		Logger:   logger,
	})
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("status API listening", slog.String("addr", cfg.ListenAddr))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("status API: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("status API shutdown failed", slog.String("error", err.Error()))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown failed", slog.String("error", err.Error()))
	}
	return serveErr
}

func buildWorkflows(cfg *Config, store *crowdsync.ReportStore, metrics crowdsync.MetricsCollector, logger *slog.Logger) ([]*crowdsync.Workflow, error) {
	var workflows []*crowdsync.Workflow

	if cfg.Backflow.Enabled {
		w, err := crowdsync.NewBackflowWorkflow(crowdsync.BackflowWorkflowConfig{
			Source: &crowdsync.SolrSource{
				BaseURL:       cfg.Backflow.SolrURL,
				ModifiedField: cfg.Backflow.ModifiedField,
				Filter:        cfg.Backflow.SolrFilter,
			},
			Catalog:  &crowdsync.HTTPCatalogWriter{BaseURL: cfg.Backflow.CatalogURL},
			Results:  store,
			Name:     cfg.Backflow.Catalog,
			Interval: cfg.Backflow.Interval,
			Logger:   logger,
			Metrics:  metrics,
			Events:   store,
		})
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}

	if cfg.Mail.Enabled {
		w, err := crowdsync.NewMailWorkflow(crowdsync.MailWorkflowConfig{
			Reporter: store,
			Mailer: &crowdsync.SMTPMailer{
				Addr: cfg.Mail.SMTPAddr,
				From: cfg.Mail.From,
				To:   cfg.Mail.To,
			},
			Interval:     cfg.Mail.Interval,
			MailInterval: cfg.Mail.MailInterval,
			Logger:       logger,
			Metrics:      metrics,
			Events:       store,
		})
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}

	cleanup, err := crowdsync.NewCleanupWorkflow(crowdsync.CleanupWorkflowConfig{
		Store:     store,
		Retention: cfg.ReportStore.Retention,
		Logger:    logger,
		Metrics:   metrics,
		Events:    store,
	})
	if err != nil {
		return nil, err
	}
	return append(workflows, cleanup), nil
}
