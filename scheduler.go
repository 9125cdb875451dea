package crowdsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig configures the scheduler
type SchedulerConfig struct {
	Cadence time.Duration // How often every workflow is ticked (default: 1m)
	Logger  *slog.Logger  // Default: slog.Default()
}

// Scheduler ticks registered workflows on a fixed cadence. Each workflow gets
// its own cron entry, so a long run only delays that workflow's next tick.
type Scheduler struct {
	cadence time.Duration
	logger  *slog.Logger
	cron    *cron.Cron

	mu        sync.Mutex
	workflows map[string]*Workflow
	entries   map[string]cron.EntryID
	order     []string
	runCtx    context.Context
	cancel    context.CancelFunc
	started   bool
}

// NewScheduler creates a new scheduler. Workflows are registered with Register
// and ticked once Start is called.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Cadence <= 0 {
		config.Cadence = time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	cl := cronLogger{logger: config.Logger}
	return &Scheduler{
		cadence:   config.Cadence,
		logger:    config.Logger,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		workflows: make(map[string]*Workflow),
		entries:   make(map[string]cron.EntryID),
	}
}

// Cadence returns the tick cadence
func (s *Scheduler) Cadence() time.Duration {
	return s.cadence
}

// Register adds a workflow. The workflow's interval must not be shorter than
// the cadence, or eligible windows could be missed.
func (s *Scheduler) Register(w *Workflow) error {
	if w.Interval() < s.cadence {
		return fmt.Errorf("workflow %q: interval %s is shorter than scheduler cadence %s",
			w.Name(), w.Interval(), s.cadence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[w.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateWorkflow, w.Name())
	}

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})).
		Then(cron.FuncJob(func() { w.Tick(s.context()) }))
	s.entries[w.Name()] = s.cron.Schedule(cron.Every(s.cadence), job)
	s.workflows[w.Name()] = w
	s.order = append(s.order, w.Name())

	s.logger.Info("workflow registered",
		slog.String("workflow", w.Name()),
		slog.Duration("interval", w.Interval()),
		slog.Time("next_run", w.NextRun()),
	)
	return nil
}

// Start begins ticking the registered workflows in the background
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSchedulerStarted
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()

	s.logger.Info("scheduler started",
		slog.Duration("cadence", s.cadence),
		slog.Int("workflows", len(s.order)),
	)
	return nil
}

// Stop stops ticking and waits for in-flight runs to return, or for ctx to
// be done, whichever comes first. Steps are not interrupted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	done := s.cron.Stop()
	cancel := s.cancel
	s.mu.Unlock()
	defer cancel()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for running workflows")
		return fmt.Errorf("waiting for running workflows: %w", ctx.Err())
	}
}

// Tick ticks every registered workflow once, in registration order, on the
// calling goroutine.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, w := range s.Workflows() {
		w.Tick(ctx)
	}
}

// Workflow returns the registered workflow with the given name
func (s *Scheduler) Workflow(name string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	return w, nil
}

// Workflows returns the registered workflows in registration order
func (s *Scheduler) Workflows() []*Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Workflow, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.workflows[name])
	}
	return out
}

// NextTick returns when the scheduler will next tick the named workflow. It
// is the zero time until the scheduler has been started.
func (s *Scheduler) NextTick(name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	return s.cron.Entry(id).Next, nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

// cronLogger adapts slog to the cron.Logger interface
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
