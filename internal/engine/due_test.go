package engine

import (
	"testing"
	"time"

	"metrion-backend/internal/indicator"
)

func TestSelectDueSkipsInactive(t *testing.T) {
	now := time.Now().UTC()
	inds := []indicator.Indicator{
		{ID: "a", IsActive: false},
		{ID: "b", IsActive: false, LastRunAt: nil},
	}
	if due := SelectDue(now, inds); len(due) != 0 {
		t.Fatalf("inactive indicators must never be due, got %d", len(due))
	}
}

func TestSelectDueNeverRun(t *testing.T) {
	now := time.Now().UTC()
	inds := []indicator.Indicator{{ID: "a", IsActive: true, FrequencyMinutes: 60}}
	due := SelectDue(now, inds)
	if len(due) != 1 || due[0].ID != "a" {
		t.Fatalf("never-run indicator must be due, got %v", due)
	}
}

func TestSelectDueRespectsFrequency(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-2 * time.Minute)
	stale := now.Add(-10 * time.Minute)
	exact := now.Add(-5 * time.Minute)
	inds := []indicator.Indicator{
		{ID: "recent", IsActive: true, FrequencyMinutes: 5, LastRunAt: &recent},
		{ID: "stale", IsActive: true, FrequencyMinutes: 5, LastRunAt: &stale},
		{ID: "exact", IsActive: true, FrequencyMinutes: 5, LastRunAt: &exact},
	}
	due := SelectDue(now, inds)
	if len(due) != 2 {
		t.Fatalf("expected 2 due got %d", len(due))
	}
	ids := map[string]bool{}
	for _, ind := range due {
		ids[ind.ID] = true
	}
	if !ids["stale"] || !ids["exact"] {
		t.Fatalf("expected stale and exact due, got %v", ids)
	}
	if ids["recent"] {
		t.Fatalf("recently run indicator must not be due")
	}
}

func TestSelectDueIsPure(t *testing.T) {
	now := time.Now().UTC()
	run := now.Add(-3 * time.Minute)
	inds := []indicator.Indicator{{ID: "a", IsActive: true, FrequencyMinutes: 5, LastRunAt: &run}}
	SelectDue(now, inds)
	if inds[0].LastRunAt == nil || !inds[0].LastRunAt.Equal(run) {
		t.Fatalf("selection must not mutate its input")
	}
}
