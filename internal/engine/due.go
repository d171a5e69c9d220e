package engine

import (
	"time"

	"metrion-backend/internal/indicator"
)

// SelectDue filters indicators down to the ones eligible to run at now. It is
// a pure function of its inputs; the caller supplies the clock.
func SelectDue(now time.Time, indicators []indicator.Indicator) []indicator.Indicator {
	due := make([]indicator.Indicator, 0, len(indicators))
	for _, ind := range indicators {
		if ind.Due(now) {
			due = append(due, ind)
		}
	}
	return due
}
