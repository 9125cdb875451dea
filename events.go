package crowdsync

import (
	"context"
	"time"
)

// Workflow event types
const (
	EventStarted         = "started"
	EventSucceeded       = "succeeded"
	EventFailed          = "failed"
	EventStartedManually = "started_manually"
)

// Event is an audit record of something that happened to a workflow
type Event struct {
	Workflow string                 `json:"workflow"`
	RunID    string                 `json:"run_id,omitempty"`
	Type     string                 `json:"type"`
	Data     map[string]interface{} `json:"data,omitempty"`
	At       time.Time              `json:"at"`
}

// EventLogger records workflow events. Logging is best-effort: a failure to
// record an event never affects the run.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event)
}

// EventReader returns the most recent events of a workflow, newest first
type EventReader interface {
	RecentEvents(ctx context.Context, workflow string, limit int) ([]Event, error)
}
