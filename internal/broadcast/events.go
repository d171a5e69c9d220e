// Package broadcast publishes execution progress events to interested
// consumers. Sinks are fire-and-forget from the engine's point of view:
// delivery failures are reported to the caller for logging but never fail the
// execution that produced the event.
package broadcast

import "time"

const (
	SubjectExecutionStarted   = "indicator.execution.started"
	SubjectExecutionCompleted = "indicator.execution.completed"
)

// StartedEvent is published immediately before an indicator's value source is
// called.
type StartedEvent struct {
	IndicatorID string    `json:"indicator_id"`
	Name        string    `json:"name"`
	StartedAt   time.Time `json:"started_at"`
}

// CompletedEvent is published after an execution finishes, whatever the
// outcome.
type CompletedEvent struct {
	IndicatorID      string    `json:"indicator_id"`
	Name             string    `json:"name"`
	Outcome          string    `json:"outcome"`
	Value            float64   `json:"value"`
	DeviationPercent float64   `json:"deviation_percent"`
	DurationMS       int64     `json:"duration_ms"`
	Error            string    `json:"error,omitempty"`
	AlertRaised      bool      `json:"alert_raised"`
	CompletedAt      time.Time `json:"completed_at"`
}
