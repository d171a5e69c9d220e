package indicator

import "time"

// Outcome classifies a single execution.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeBreached Outcome = "threshold_breached"
	OutcomeFailed   Outcome = "failed"
)

// Valid returns true when the outcome is one of the supported tags.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeBreached, OutcomeFailed:
		return true
	default:
		return false
	}
}

// ExecutionResult records one run of an indicator. Results are append-only and
// never mutated after creation.
type ExecutionResult struct {
	ID               string        `json:"id"`
	IndicatorID      string        `json:"indicatorId"`
	ExecutedAt       time.Time     `json:"executedAt"`
	Value            float64       `json:"value"`
	Baseline         float64       `json:"baseline"`
	DeviationPercent float64       `json:"deviationPercent"`
	Outcome          Outcome       `json:"outcome"`
	ErrorMessage     string        `json:"errorMessage,omitempty"`
	Duration         time.Duration `json:"-"`
	DurationMS       int64         `json:"durationMs"`
	AlertRaised      bool          `json:"alertRaised"`
}

// Alert is raised for a threshold breach that passed the cooldown check.
// Resolution state lives with the alerting subsystem; the engine only creates.
type Alert struct {
	ID          string    `json:"id"`
	IndicatorID string    `json:"indicatorId"`
	ExecutionID string    `json:"executionId"`
	Message     string    `json:"message"`
	RaisedAt    time.Time `json:"raisedAt"`
	Treated     bool      `json:"treated"`
}
