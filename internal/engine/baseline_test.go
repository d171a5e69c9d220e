package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeAverager struct {
	avg   float64
	n     int
	err   error
	since time.Time
}

func (f *fakeAverager) AverageObservedSince(_ context.Context, _ string, since time.Time) (float64, int, error) {
	f.since = since
	return f.avg, f.n, f.err
}

func TestHistoryBaselineWindow(t *testing.T) {
	avgr := &fakeAverager{avg: 42.5, n: 12}
	b := NewHistoryBaseline(avgr)
	ind := testIndicator("a", "q")
	ind.BaselineWindowMinutes = 90
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	value, ok, err := b.Baseline(context.Background(), ind, now)
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if !ok || value != 42.5 {
		t.Fatalf("expected baseline 42.5 got %v ok=%v", value, ok)
	}
	want := now.Add(-90 * time.Minute)
	if !avgr.since.Equal(want) {
		t.Fatalf("expected window start %v got %v", want, avgr.since)
	}
}

func TestHistoryBaselineNoSamples(t *testing.T) {
	b := NewHistoryBaseline(&fakeAverager{n: 0})
	_, ok, err := b.Baseline(context.Background(), testIndicator("a", "q"), time.Now().UTC())
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if ok {
		t.Fatalf("no samples must report no baseline")
	}
}

func TestHistoryBaselineError(t *testing.T) {
	b := NewHistoryBaseline(&fakeAverager{err: errors.New("query failed")})
	if _, _, err := b.Baseline(context.Background(), testIndicator("a", "q"), time.Now().UTC()); err == nil {
		t.Fatalf("expected error")
	}
}
