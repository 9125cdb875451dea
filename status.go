package crowdsync

import "time"

// WorkflowStatus is a point-in-time view of a workflow for operators
type WorkflowStatus struct {
	Name     string       `json:"name"`
	State    State        `json:"state"`
	Interval string       `json:"interval"`
	NextRun  time.Time    `json:"next_run"`
	Status   string       `json:"status"`
	LastRun  *RunInfo     `json:"last_run,omitempty"`
	Steps    []StepStatus `json:"steps"`
}

// StepStatus is the name and last outcome of one step
type StepStatus struct {
	Name    string      `json:"name"`
	Outcome OutcomeKind `json:"outcome"`
	Message string      `json:"message,omitempty"`
	Result  string      `json:"result"`
	At      time.Time   `json:"at,omitempty"`
}

// Snapshot captures the workflow's current status. Fields are read one at a
// time, so a snapshot taken during a run may mix values from either side of
// a transition.
func (w *Workflow) Snapshot() WorkflowStatus {
	ws := WorkflowStatus{
		Name:     w.name,
		State:    w.State(),
		Interval: w.interval.String(),
		NextRun:  w.NextRun(),
		Status:   w.Status(),
		LastRun:  w.LastRun(),
		Steps:    make([]StepStatus, 0, len(w.steps)),
	}
	for _, step := range w.steps {
		o := step.LastOutcome()
		ws.Steps = append(ws.Steps, StepStatus{
			Name:    step.Name(),
			Outcome: o.Kind,
			Message: o.Message,
			Result:  o.String(),
			At:      o.At,
		})
	}
	return ws
}
