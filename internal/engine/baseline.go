package engine

import (
	"context"
	"fmt"
	"time"

	"metrion-backend/internal/indicator"
)

// ObservationAverager supplies the trailing average of non-failed observations
// for one indicator since a point in time, plus the sample count.
type ObservationAverager interface {
	AverageObservedSince(ctx context.Context, indicatorID string, since time.Time) (float64, int, error)
}

// HistoryBaseline derives an indicator's expected value from its own recent
// execution history: the mean observed value inside the indicator's baseline
// window. Failed executions are excluded by the averager.
type HistoryBaseline struct {
	history ObservationAverager
}

func NewHistoryBaseline(history ObservationAverager) *HistoryBaseline {
	return &HistoryBaseline{history: history}
}

// Baseline returns (value, true) when at least one prior observation exists in
// the window, (0, false) otherwise.
func (b *HistoryBaseline) Baseline(ctx context.Context, ind indicator.Indicator, now time.Time) (float64, bool, error) {
	since := now.Add(-time.Duration(ind.BaselineWindowMinutes) * time.Minute)
	avg, samples, err := b.history.AverageObservedSince(ctx, ind.ID, since)
	if err != nil {
		return 0, false, fmt.Errorf("average observed values: %w", err)
	}
	if samples == 0 {
		return 0, false, nil
	}
	return avg, true, nil
}
