package indicator

import (
	"errors"
	"time"
)

// Indicator is a schedulable metric: a named query against a registered data
// source, executed at a fixed frequency and classified against a deviation
// threshold.
type Indicator struct {
	ID                        string     `json:"id"`
	Name                      string     `json:"name"`
	Owner                     string     `json:"owner"`
	ConnectionRef             string     `json:"connectionRef"`
	Query                     string     `json:"query"`
	FrequencyMinutes          int        `json:"frequencyMinutes"`
	DeviationThresholdPercent float64    `json:"deviationThresholdPercent"`
	MinimumThreshold          *float64   `json:"minimumThreshold,omitempty"`
	BaselineWindowMinutes     int        `json:"baselineWindowMinutes"`
	CooldownMinutes           int        `json:"cooldownMinutes"`
	LastRunAt                 *time.Time `json:"lastRunAt,omitempty"`
	LastAlertAt               *time.Time `json:"lastAlertAt,omitempty"`
	IsActive                  bool       `json:"isActive"`
	CreatedAt                 time.Time  `json:"createdAt"`
	UpdatedAt                 time.Time  `json:"updatedAt"`
}

// Validate checks indicator invariants.
func (i Indicator) Validate() error {
	if i.Name == "" {
		return errors.New("indicator: empty name")
	}
	if i.ConnectionRef == "" {
		return errors.New("indicator: empty connection ref")
	}
	if i.Query == "" {
		return errors.New("indicator: empty query")
	}
	if i.FrequencyMinutes <= 0 {
		return errors.New("indicator: frequency must be > 0 minutes")
	}
	if i.DeviationThresholdPercent < 0 || i.DeviationThresholdPercent > 100 {
		return errors.New("indicator: deviation threshold must be within [0,100]")
	}
	if i.BaselineWindowMinutes <= 0 {
		return errors.New("indicator: baseline window must be > 0 minutes")
	}
	if i.CooldownMinutes < 0 {
		return errors.New("indicator: cooldown must be >= 0 minutes")
	}
	return nil
}

// Due reports whether the indicator is eligible to run at now. An indicator
// that never ran is due as soon as it is active.
func (i Indicator) Due(now time.Time) bool {
	if !i.IsActive {
		return false
	}
	if i.LastRunAt == nil {
		return true
	}
	return now.Sub(*i.LastRunAt) >= time.Duration(i.FrequencyMinutes)*time.Minute
}
