package engine

import "time"

// withinCooldown reports whether a breach at now falls inside the indicator's
// alert cooldown window. A nil lastAlertAt means no alert has ever been
// raised, so nothing is suppressed. A zero cooldown disables suppression.
func withinCooldown(lastAlertAt *time.Time, cooldownMinutes int, now time.Time) bool {
	if lastAlertAt == nil || cooldownMinutes <= 0 {
		return false
	}
	return now.Sub(*lastAlertAt) < time.Duration(cooldownMinutes)*time.Minute
}
