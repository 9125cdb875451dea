package crowdsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// StepBase holds the name and last outcome of a step. Embed it to implement
// Name and LastOutcome; the outcome is safe to read while the step runs.
type StepBase struct {
	StepName string
	Clock    Clock // defaults to the wall clock

	mu      sync.RWMutex
	outcome Outcome
}

// Name returns the step name
func (b *StepBase) Name() string {
	return b.StepName
}

// LastOutcome returns the outcome of the last execution
func (b *StepBase) LastOutcome() Outcome {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.outcome
}

// ResultOfLastRun returns the operator-facing text of the last outcome
func (b *StepBase) ResultOfLastRun() string {
	return b.LastOutcome().String()
}

// Succeed records a success outcome with the given message
func (b *StepBase) Succeed(msg string) {
	b.set(Outcome{Kind: OutcomeSuccess, Message: msg, At: b.now()})
}

// Fail records a failure outcome carrying err
func (b *StepBase) Fail(err error) {
	if err == nil {
		err = errors.New("unknown failure")
	}
	b.set(Outcome{Kind: OutcomeFailure, Message: err.Error(), Cause: err, At: b.now()})
}

func (b *StepBase) set(o Outcome) {
	b.mu.Lock()
	b.outcome = o
	b.mu.Unlock()
}

func (b *StepBase) now() time.Time {
	if b.Clock == nil {
		return time.Now()
	}
	return b.Clock.Now()
}

// funcStep adapts a StepFunc to the Step interface
type funcStep struct {
	StepBase
	fn StepFunc
}

// NewStep creates a step from a function.
//
// A nil error records success with the returned message. An error wrapped
// with Tolerate is recorded as a failure and the run continues. Any other
// error, or a panic, is recorded as a failure and returned to the workflow.
func NewStep(name string, fn StepFunc) Step {
	return &funcStep{StepBase: StepBase{StepName: name}, fn: fn}
}

func (s *funcStep) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %q panicked: %v", s.StepName, r)
			s.Fail(err)
		}
	}()

	msg, err := s.fn(ctx)
	switch {
	case err == nil:
		s.Succeed(msg)
		return nil
	case IsTolerable(err):
		s.Fail(err)
		return nil
	default:
		s.Fail(err)
		return err
	}
}
