package crowdsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusServer(t *testing.T, workflows ...*Workflow) *httptest.Server {
	t.Helper()
	s := NewScheduler(SchedulerConfig{Logger: discardLogger()})
	for _, w := range workflows {
		require.NoError(t, s.Register(w))
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "crowdsync_test_total", Help: "test"}))

	srv := httptest.NewServer(NewHandler(s, HandlerConfig{Gatherer: reg, Logger: discardLogger()}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWorkflowStatus_JSONRoundTrip(t *testing.T) {
	clock := newFakeClock(t0)
	a := NewStep("A", func(context.Context) (string, error) { return "Mail sent.", nil })
	b := NewStep("B", func(context.Context) (string, error) { return "", errBoom })
	w, err := NewWorkflow(WorkflowConfig{Name: "round trip", Interval: time.Hour, Steps: []Step{a, b}, Clock: clock, Logger: discardLogger()})
	require.NoError(t, err)
	clock.Set(w.NextRun())
	require.True(t, w.Tick(context.Background()))

	before := w.Snapshot()
	data, err := json.Marshal(before)
	require.NoError(t, err)

	var after WorkflowStatus
	require.NoError(t, json.Unmarshal(data, &after))

	assert.Equal(t, before.Name, after.Name)
	assert.Equal(t, before.State, after.State)
	assert.True(t, before.NextRun.Equal(after.NextRun))
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, "1h0m0s", after.Interval)
	require.NotNil(t, after.LastRun)
	assert.Equal(t, before.LastRun.ID, after.LastRun.ID)
	require.Len(t, after.Steps, 2)
	for i := range before.Steps {
		assert.Equal(t, before.Steps[i].Name, after.Steps[i].Name)
		assert.Equal(t, before.Steps[i].Outcome, after.Steps[i].Outcome)
		assert.Equal(t, before.Steps[i].Message, after.Steps[i].Message)
		assert.Equal(t, before.Steps[i].Result, after.Steps[i].Result)
		assert.True(t, before.Steps[i].At.Equal(after.Steps[i].At))
	}
	assert.Equal(t, OutcomeSuccess, after.Steps[0].Outcome)
	assert.Equal(t, OutcomeFailure, after.Steps[1].Outcome)
	assert.Equal(t, "Failure during last run: boom", after.Status)
}

func TestHandler_ListAndGet(t *testing.T) {
	clock := newFakeClock(t0)
	w := newNamedWorkflow(t, "backflow", clock, time.Hour, func(context.Context) (string, error) { return "", nil })
	srv := newStatusServer(t, w)

	resp, err := http.Get(srv.URL + "/workflows")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var list []WorkflowStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "backflow", list[0].Name)
	assert.Equal(t, StateWaiting, list[0].State)
	assert.Equal(t, "Has not run yet", list[0].Status)
	require.Len(t, list[0].Steps, 1)
	assert.Equal(t, "backflow step", list[0].Steps[0].Name)

	resp2, err := http.Get(srv.URL + "/workflows/backflow")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var one WorkflowStatus
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&one))
	assert.True(t, w.NextRun().Equal(one.NextRun))

	resp3, err := http.Get(srv.URL + "/workflows/nope")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestHandler_StartWorkflow(t *testing.T) {
	clock := newFakeClock(t0)
	w := newNamedWorkflow(t, "mail", clock, 24*time.Hour, func(context.Context) (string, error) { return "", nil })
	srv := newStatusServer(t, w)

	resp, err := http.Post(srv.URL+"/workflows/mail/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var status WorkflowStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.NextRun.Equal(t0))
	assert.Equal(t, t0, w.NextRun())
}

func TestHandler_StartWhileRunningConflicts(t *testing.T) {
	clock := newFakeClock(t0)
	step := newBlockingStep("slow")
	w, err := NewWorkflow(WorkflowConfig{Name: "slow", Interval: time.Hour, Steps: []Step{step}, Clock: clock, Logger: discardLogger()})
	require.NoError(t, err)
	srv := newStatusServer(t, w)

	clock.Set(w.NextRun())
	done := make(chan bool)
	go func() { done <- w.Tick(context.Background()) }()
	<-step.started

	resp, err := http.Post(srv.URL+"/workflows/slow/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/workflows/slow")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var status WorkflowStatus
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&status))
	assert.Equal(t, StateRunning, status.State)

	close(step.release)
	<-done
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	srv := newStatusServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	body, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "crowdsync_test_total")
}

type stubEvents struct {
	workflow string
	limit    int
	events   []Event
}

func (s *stubEvents) RecentEvents(_ context.Context, workflow string, limit int) ([]Event, error) {
	s.workflow, s.limit = workflow, limit
	return s.events, nil
}

func TestHandler_Events(t *testing.T) {
	w := newNamedWorkflow(t, "backflow", newFakeClock(t0), time.Hour, func(context.Context) (string, error) { return "", nil })
	s := NewScheduler(SchedulerConfig{Logger: discardLogger()})
	require.NoError(t, s.Register(w))
	events := &stubEvents{events: []Event{{Workflow: "backflow", Type: EventSucceeded, At: t0}}}
	srv := httptest.NewServer(NewHandler(s, HandlerConfig{Events: events, Logger: discardLogger()}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/workflows/backflow/events?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, EventSucceeded, got[0].Type)
	assert.Equal(t, "backflow", events.workflow)
	assert.Equal(t, 5, events.limit)

	resp2, err := http.Get(srv.URL + "/workflows/backflow/events")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, defaultEventLimit, events.limit)

	resp3, err := http.Get(srv.URL + "/workflows/backflow/events?limit=zero")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)

	resp4, err := http.Get(srv.URL + "/workflows/nope/events")
	require.NoError(t, err)
	resp4.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp4.StatusCode)
}

func TestHandler_EventsNotConfigured(t *testing.T) {
	w := newNamedWorkflow(t, "mail", newFakeClock(t0), time.Hour, func(context.Context) (string, error) { return "", nil })
	srv := newStatusServer(t, w)

	resp, err := http.Get(srv.URL + "/workflows/mail/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
