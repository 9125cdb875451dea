package crowdsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStep_Success(t *testing.T) {
	step := NewStep("ok", func(context.Context) (string, error) { return "All good.", nil })

	assert.Equal(t, "ok", step.Name())
	assert.Equal(t, "Has not run yet", step.LastOutcome().String())

	require.NoError(t, step.Run(context.Background()))
	outcome := step.LastOutcome()
	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Equal(t, "All good.", outcome.String())
	assert.Nil(t, outcome.Cause)
	assert.False(t, outcome.At.IsZero())
}

func TestNewStep_TolerableErrorIsSwallowed(t *testing.T) {
	cause := errors.New("search index timed out")
	step := NewStep("tolerant", func(context.Context) (string, error) { return "", Tolerate(cause) })

	require.NoError(t, step.Run(context.Background()))
	outcome := step.LastOutcome()
	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Equal(t, "search index timed out", outcome.Message)
	assert.ErrorIs(t, outcome.Cause, cause)
}

func TestNewStep_FatalErrorIsReturned(t *testing.T) {
	step := NewStep("fatal", func(context.Context) (string, error) { return "", errBoom })

	err := step.Run(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, OutcomeFailure, step.LastOutcome().Kind)
	assert.Equal(t, "Failure: boom", step.LastOutcome().String())
}

func TestNewStep_PanicBecomesError(t *testing.T) {
	step := NewStep("panics", func(context.Context) (string, error) { panic("index out of range") })

	err := step.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index out of range")
	assert.Equal(t, OutcomeFailure, step.LastOutcome().Kind)
}

func TestNewStep_OutcomeOverwrittenEachRun(t *testing.T) {
	fail := true
	step := NewStep("flaky", func(context.Context) (string, error) {
		if fail {
			return "", Tolerate(errors.New("empty result"))
		}
		return "Recovered.", nil
	})

	require.NoError(t, step.Run(context.Background()))
	assert.Equal(t, OutcomeFailure, step.LastOutcome().Kind)

	fail = false
	require.NoError(t, step.Run(context.Background()))
	assert.Equal(t, OutcomeSuccess, step.LastOutcome().Kind)
	assert.Equal(t, "Recovered.", step.LastOutcome().Message)
}

func TestStepBase_ConcurrentReads(t *testing.T) {
	step := NewStep("busy", func(context.Context) (string, error) { return "tick", nil })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = step.Run(context.Background())
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				o := step.LastOutcome()
				if o.Kind == OutcomeSuccess {
					assert.Equal(t, "tick", o.Message)
				}
			}
		}()
	}
	wg.Wait()
}

func TestStepBase_UsesClock(t *testing.T) {
	clock := newFakeClock(t0)
	b := &StepBase{StepName: "clocked", Clock: clock}
	b.Succeed("done")
	assert.Equal(t, t0, b.LastOutcome().At)

	b.Fail(nil)
	assert.Equal(t, "unknown failure", b.LastOutcome().Message)
}

func TestTolerate(t *testing.T) {
	assert.NoError(t, Tolerate(nil))
	wrapped := fmt.Errorf("outer: %w", Tolerate(errBoom))
	assert.True(t, IsTolerable(wrapped))
	assert.ErrorIs(t, wrapped, errBoom)
	assert.False(t, IsTolerable(errBoom))
}

func TestStateText(t *testing.T) {
	for _, s := range []State{StateWaiting, StateRunning} {
		b, err := json.Marshal(s)
		require.NoError(t, err)
		var got State
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, s, got)
	}
	assert.Equal(t, `"WAITING"`, mustJSON(t, StateWaiting))
	assert.Error(t, new(State).UnmarshalText([]byte("PAUSED")))
	_, err := State(7).MarshalText()
	assert.Error(t, err)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "Has not run yet", Outcome{}.String())
	assert.Equal(t, "Mail sent.", Outcome{Kind: OutcomeSuccess, Message: "Mail sent."}.String())
	assert.Equal(t, "Failure: smtp down", Outcome{Kind: OutcomeFailure, Message: "smtp down", At: time.Now()}.String())
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
