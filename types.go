package crowdsync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the run state of a workflow
type State int

const (
	// StateWaiting means the workflow is idle until its next run time
	StateWaiting State = iota
	// StateRunning means the workflow's steps are executing
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateRunning:
		return "RUNNING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state as WAITING or RUNNING
func (s State) MarshalText() ([]byte, error) {
	switch s {
	case StateWaiting, StateRunning:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid workflow state: %d", int(s))
	}
}

// UnmarshalText parses WAITING or RUNNING
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "WAITING":
		*s = StateWaiting
	case "RUNNING":
		*s = StateRunning
	default:
		return fmt.Errorf("invalid workflow state: %q", text)
	}
	return nil
}

// OutcomeKind tags the result of a step execution
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota // step has not run yet
	OutcomeSuccess
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "none"
	}
}

// MarshalText encodes the kind as none, success or failure
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses none, success or failure
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*k = OutcomeNone
	case "success":
		*k = OutcomeSuccess
	case "failure":
		*k = OutcomeFailure
	default:
		return fmt.Errorf("invalid outcome kind: %q", text)
	}
	return nil
}

// Outcome is the result of the last execution of a step
type Outcome struct {
	Kind    OutcomeKind
	Message string
	Cause   error // set for failures, not serialized
	At      time.Time
}

// String returns the operator-facing text of the outcome
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return o.Message
	case OutcomeFailure:
		return "Failure: " + o.Message
	default:
		return "Has not run yet"
	}
}

// Step is one unit of work in a workflow run.
//
// Run records its own outcome. A returned error is fatal to the run: the
// workflow stops executing the remaining steps. Failures the step can absorb
// are recorded as a failure outcome and Run returns nil.
type Step interface {
	Name() string
	Run(ctx context.Context) error
	LastOutcome() Outcome
}

// StepFunc does the work of a step and returns the success message
type StepFunc func(ctx context.Context) (string, error)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

var (
	ErrUnknownWorkflow   = errors.New("unknown workflow")
	ErrDuplicateWorkflow = errors.New("workflow already registered")
	ErrSchedulerStarted  = errors.New("scheduler already started")
)

// tolerableError marks a failure that a step records without aborting the run
type tolerableError struct {
	err error
}

func (e *tolerableError) Error() string { return e.err.Error() }
func (e *tolerableError) Unwrap() error { return e.err }

// Tolerate wraps err so that a step built with NewStep records it as a
// failure outcome and lets the workflow continue with the next step.
func Tolerate(err error) error {
	if err == nil {
		return nil
	}
	return &tolerableError{err: err}
}

// IsTolerable reports whether err was wrapped with Tolerate
func IsTolerable(err error) bool {
	var te *tolerableError
	return errors.As(err, &te)
}
