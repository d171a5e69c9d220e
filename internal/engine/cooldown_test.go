package engine

import (
	"testing"
	"time"
)

func TestWithinCooldownNoPriorAlert(t *testing.T) {
	if withinCooldown(nil, 10, time.Now()) {
		t.Fatalf("no prior alert must never suppress")
	}
}

func TestWithinCooldownWindow(t *testing.T) {
	now := time.Now().UTC()
	alertAt := now.Add(-9 * time.Minute)
	if !withinCooldown(&alertAt, 10, now) {
		t.Fatalf("breach one minute before cooldown end must be suppressed")
	}
	alertAt = now.Add(-11 * time.Minute)
	if withinCooldown(&alertAt, 10, now) {
		t.Fatalf("breach after cooldown end must not be suppressed")
	}
}

func TestWithinCooldownZeroDisables(t *testing.T) {
	alertAt := time.Now().Add(-time.Second)
	if withinCooldown(&alertAt, 0, time.Now()) {
		t.Fatalf("zero cooldown must not suppress")
	}
}
