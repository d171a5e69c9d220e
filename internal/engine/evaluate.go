package engine

import (
	"math"

	"metrion-backend/internal/indicator"
)

// defaultEpsilon guards the deviation denominator when the baseline is at or
// near zero.
const defaultEpsilon = 1e-9

// ThresholdConfig carries the per-indicator evaluation settings.
type ThresholdConfig struct {
	// DeviationThresholdPercent is the relative deviation, in percent, at or
	// above which the observation counts as a breach.
	DeviationThresholdPercent float64
	// MinimumThreshold, when set, is an absolute floor: observations below it
	// are reported as success regardless of deviation.
	MinimumThreshold *float64
}

// Evaluation is the outcome of comparing one observation against its baseline.
type Evaluation struct {
	Outcome          indicator.Outcome
	Baseline         float64
	DeviationPercent float64
	// FloorApplied reports that the minimum-threshold floor suppressed a
	// would-be breach.
	FloorApplied bool
}

// Evaluate classifies current against baseline. The deviation is
// |current-baseline| relative to |baseline|, as a percentage; a baseline within
// epsilon of zero is clamped to epsilon so the division stays defined. A
// breach requires the deviation to reach cfg.DeviationThresholdPercent, unless
// the observation sits below the configured minimum floor.
func Evaluate(current, baseline float64, cfg ThresholdConfig) Evaluation {
	denom := math.Abs(baseline)
	if denom < defaultEpsilon {
		denom = defaultEpsilon
	}
	deviation := math.Abs(current-baseline) / denom * 100

	ev := Evaluation{
		Outcome:          indicator.OutcomeSuccess,
		Baseline:         baseline,
		DeviationPercent: deviation,
	}

	if cfg.MinimumThreshold != nil && current < *cfg.MinimumThreshold {
		ev.FloorApplied = deviation >= cfg.DeviationThresholdPercent
		return ev
	}
	if deviation >= cfg.DeviationThresholdPercent {
		ev.Outcome = indicator.OutcomeBreached
	}
	return ev
}
