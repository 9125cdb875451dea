package crowdsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	statusNotRun    = "Has not run yet"
	statusSucceeded = "Last run succeeded."
	statusFailedFmt = "Failure during last run: %s"
)

// WorkflowConfig configures a workflow
type WorkflowConfig struct {
	Name     string        // Stable identity used in logs and the status surface
	Interval time.Duration // Time between runs, anchored to the hour
	Steps    []Step        // Executed in this order on every run
	Clock    Clock         // Default: SystemClock
	Logger   *slog.Logger  // Default: slog.Default()
	Metrics  MetricsCollector
	Events   EventLogger // Optional audit log of runs
}

// RunInfo describes the most recent run of a workflow
type RunInfo struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Succeeded bool          `json:"succeeded"`
}

// Workflow runs an ordered sequence of steps on a recurring interval.
//
// A workflow is WAITING until a tick observes that its next run time has
// passed, then RUNNING while the steps execute on the ticking goroutine, and
// WAITING again afterwards whatever the outcome.
type Workflow struct {
	name     string
	interval time.Duration
	steps    []Step
	clock    Clock
	logger   *slog.Logger
	metrics  MetricsCollector
	events   EventLogger

	// runMu is held for the whole of a run so overlapping ticks never execute
	// the steps twice.
	runMu sync.Mutex

	// mu guards the fields below for concurrent readers.
	mu      sync.RWMutex
	state   State
	nextRun time.Time
	status  string
	lastRun *RunInfo
}

// NewWorkflow creates a workflow in the WAITING state with its first run
// scheduled one interval from now, aligned to the hour.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	if cfg.Name == "" {
		return nil, errors.New("workflow name is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("workflow %q: interval must be positive, got %s", cfg.Name, cfg.Interval)
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q: at least one step is required", cfg.Name)
	}
	seen := make(map[string]struct{}, len(cfg.Steps))
	for i, step := range cfg.Steps {
		if step == nil {
			return nil, fmt.Errorf("workflow %q: step %d is nil", cfg.Name, i)
		}
		if _, ok := seen[step.Name()]; ok {
			return nil, fmt.Errorf("workflow %q: duplicate step name %q", cfg.Name, step.Name())
		}
		seen[step.Name()] = struct{}{}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Workflow{
		name:     cfg.Name,
		interval: cfg.Interval,
		steps:    append([]Step(nil), cfg.Steps...),
		clock:    cfg.Clock,
		logger:   cfg.Logger.With(slog.String("workflow", cfg.Name)),
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		status:   statusNotRun,
	}
	w.readyForNextRun()
	return w, nil
}

// Name returns the workflow name
func (w *Workflow) Name() string {
	return w.name
}

// Interval returns the configured interval
func (w *Workflow) Interval() time.Duration {
	return w.interval
}

// State returns the current state
func (w *Workflow) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// NextRun returns the time at or after which the next tick starts a run
func (w *Workflow) NextRun() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.nextRun
}

// Status returns the human-readable status of the last run
func (w *Workflow) Status() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// LastRun returns a copy of the last run info, or nil if it has never run
func (w *Workflow) LastRun() *RunInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.lastRun == nil {
		return nil
	}
	info := *w.lastRun
	return &info
}

// Steps returns a copy of the step sequence
func (w *Workflow) Steps() []Step {
	return append([]Step(nil), w.steps...)
}

// Tick runs the workflow if it is eligible: WAITING and its next run time
// has been reached. It blocks until all steps have executed or one has
// failed fatally, and reports whether a run took place.
func (w *Workflow) Tick(ctx context.Context) bool {
	if !w.runMu.TryLock() {
		w.recordTick(false)
		return false
	}
	defer w.runMu.Unlock()

	if !w.begin() {
		w.recordTick(false)
		return false
	}
	w.recordTick(true)

	defer w.readyForNextRun()
	w.runSteps(ctx)
	return true
}

// StartManually makes the workflow eligible on the next tick by moving its
// next run time to now. It does not run anything itself and has no effect
// while a run is in progress.
func (w *Workflow) StartManually() bool {
	w.mu.Lock()
	if w.state == StateRunning {
		w.mu.Unlock()
		return false
	}
	next := w.clock.Now()
	w.nextRun = next
	w.mu.Unlock()

	w.logger.Info("workflow started manually", slog.Time("next_run", next))
	if w.metrics != nil {
		w.metrics.RecordNextRun(w.name, next)
	}
	w.logEvent(context.Background(), "", EventStartedManually, nil)
	return true
}

// begin transitions WAITING to RUNNING if the next run time has passed
func (w *Workflow) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateWaiting || w.clock.Now().Before(w.nextRun) {
		return false
	}
	w.state = StateRunning
	if w.metrics != nil {
		w.metrics.RecordState(w.name, StateRunning)
	}
	return true
}

func (w *Workflow) runSteps(ctx context.Context) {
	info := RunInfo{ID: uuid.New().String(), StartedAt: w.clock.Now()}
	logger := w.logger.With(slog.String("run_id", info.ID))
	logger.Info("workflow run started", slog.Int("steps", len(w.steps)))
	w.logEvent(ctx, info.ID, EventStarted, nil)

	err := w.executeSteps(ctx, logger)

	info.Duration = w.clock.Now().Sub(info.StartedAt)
	info.Succeeded = err == nil

	status := statusSucceeded
	if err != nil {
		logger.Error("failed to run all the workflow steps", slog.String("error", err.Error()))
		status = fmt.Sprintf(statusFailedFmt, err.Error())
	} else {
		logger.Info("workflow run finished", slog.Duration("duration", info.Duration))
	}

	w.mu.Lock()
	w.status = status
	w.lastRun = &info
	w.mu.Unlock()

	result, data := EventSucceeded, map[string]interface{}{"duration_ms": info.Duration.Milliseconds()}
	if err != nil {
		result = EventFailed
		data["error"] = err.Error()
	}
	if w.metrics != nil {
		w.metrics.RecordRunCompleted(w.name, result, info.Duration)
	}
	w.logEvent(ctx, info.ID, result, data)
}

// logEvent records an audit event if an event logger is configured
func (w *Workflow) logEvent(ctx context.Context, runID, eventType string, data map[string]interface{}) {
	if w.events == nil {
		return
	}
	w.events.LogEvent(ctx, Event{
		Workflow: w.name,
		RunID:    runID,
		Type:     eventType,
		Data:     data,
		At:       w.clock.Now(),
	})
}

// executeSteps runs the steps in order and stops at the first fatal error
func (w *Workflow) executeSteps(ctx context.Context, logger *slog.Logger) error {
	for _, step := range w.steps {
		stepLogger := logger.With(slog.String("step", step.Name()))
		err := w.runStep(ctx, step, stepLogger)
		outcome := step.LastOutcome()
		if w.metrics != nil {
			w.metrics.RecordStepOutcome(w.name, step.Name(), outcome.Kind)
		}
		if err != nil {
			return err
		}
		if outcome.Kind == OutcomeFailure {
			stepLogger.Warn("step failed, continuing", slog.String("result", outcome.Message))
		} else {
			stepLogger.Debug("step finished", slog.String("result", outcome.String()))
		}
	}
	return nil
}

// runStep converts a panic escaping a step into a fatal error
func (w *Workflow) runStep(ctx context.Context, step Step, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("step panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("step %q panicked: %v", step.Name(), r)
		}
	}()
	return step.Run(ctx)
}

// readyForNextRun schedules the next run and returns the workflow to WAITING.
// The next run is now + interval with the minutes past the hour removed, so
// runs stay on the same wall-clock minute instead of drifting with latency.
func (w *Workflow) readyForNextRun() {
	now := w.clock.Now()
	next := NextRunAfter(now, w.interval)

	w.mu.Lock()
	w.nextRun = next
	w.state = StateWaiting
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.RecordState(w.name, StateWaiting)
		w.metrics.RecordNextRun(w.name, next)
	}
}

func (w *Workflow) recordTick(ran bool) {
	if w.metrics != nil {
		w.metrics.RecordTick(w.name, ran)
	}
}

// NextRunAfter computes now + interval - (now mod 1h). Intervals shorter than
// the time already past the hour would land at or before now; those fall
// back to now + interval.
func NextRunAfter(now time.Time, interval time.Duration) time.Time {
	next := now.Truncate(time.Hour).Add(interval)
	if !next.After(now) {
		next = now.Add(interval)
	}
	return next
}
