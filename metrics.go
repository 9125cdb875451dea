package crowdsync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector interface allows optional metrics collection
// Implementations can track workflow execution metrics for observability
type MetricsCollector interface {
	// RecordTick tracks a scheduler tick against a workflow and whether it started a run
	RecordTick(workflowName string, ran bool)

	// RecordRunCompleted tracks run completion with status and duration
	// Status can be: "succeeded", "failed"
	RecordRunCompleted(workflowName, status string, duration time.Duration)

	// RecordStepOutcome tracks the outcome of a single step execution
	RecordStepOutcome(workflowName, stepName string, kind OutcomeKind)

	// RecordNextRun updates the next scheduled run gauge
	RecordNextRun(workflowName string, next time.Time)

	// RecordState updates the workflow state gauge
	RecordState(workflowName string, state State)
}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	// Run metrics
	ticksTotal         *prometheus.CounterVec
	runsCompletedTotal *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	lastRunCompletedAt *prometheus.GaugeVec
	stepOutcomesTotal  *prometheus.CounterVec
	nextRunTimestamp   *prometheus.GaugeVec
	workflowRunning    *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new Prometheus metrics collector
// Pass nil for registry to use the default Prometheus registry
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &PrometheusMetrics{
		// Tick counter, split by whether the tick started a run
		ticksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsync_workflow_ticks_total",
				Help: "Total number of scheduler ticks per workflow",
			},
			[]string{"workflow_name", "ran"},
		),

		runsCompletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsync_workflow_runs_completed_total",
				Help: "Total number of workflow runs completed (succeeded/failed)",
			},
			[]string{"workflow_name", "status"},
		),

		// Run duration histogram; backflow runs can take many minutes
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crowdsync_workflow_run_duration_seconds",
				Help:    "Workflow run duration in seconds",
				Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 3600},
			},
			[]string{"workflow_name", "status"},
		),

		lastRunCompletedAt: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsync_workflow_last_run_timestamp",
				Help: "Unix timestamp of the last completed run",
			},
			[]string{"workflow_name", "status"},
		),

		stepOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsync_workflow_step_outcomes_total",
				Help: "Total number of step executions by outcome",
			},
			[]string{"workflow_name", "step_name", "outcome"},
		),

		nextRunTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsync_workflow_next_run_timestamp",
				Help: "Unix timestamp of the next eligible run",
			},
			[]string{"workflow_name"},
		),

		workflowRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsync_workflow_running",
				Help: "1 while the workflow is RUNNING, 0 while WAITING",
			},
			[]string{"workflow_name"},
		),
	}
}

// RecordTick increments the tick counter
func (m *PrometheusMetrics) RecordTick(workflowName string, ran bool) {
	label := "false"
	if ran {
		label = "true"
	}
	m.ticksTotal.WithLabelValues(workflowName, label).Inc()
}

// RecordRunCompleted tracks run completion with status and duration
func (m *PrometheusMetrics) RecordRunCompleted(workflowName, status string, duration time.Duration) {
	m.runsCompletedTotal.WithLabelValues(workflowName, status).Inc()
	m.runDuration.WithLabelValues(workflowName, status).Observe(duration.Seconds())
	m.lastRunCompletedAt.WithLabelValues(workflowName, status).Set(float64(time.Now().Unix()))
}

// RecordStepOutcome increments the step outcome counter
func (m *PrometheusMetrics) RecordStepOutcome(workflowName, stepName string, kind OutcomeKind) {
	m.stepOutcomesTotal.WithLabelValues(workflowName, stepName, kind.String()).Inc()
}

// RecordNextRun sets the next run gauge
func (m *PrometheusMetrics) RecordNextRun(workflowName string, next time.Time) {
	m.nextRunTimestamp.WithLabelValues(workflowName).Set(float64(next.Unix()))
}

// RecordState sets the running gauge
func (m *PrometheusMetrics) RecordState(workflowName string, state State) {
	v := 0.0
	if state == StateRunning {
		v = 1
	}
	m.workflowRunning.WithLabelValues(workflowName).Set(v)
}
