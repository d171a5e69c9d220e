package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"metrion-backend/internal/indicator"
)

type fakeStore struct {
	mu      sync.Mutex
	inds    []indicator.Indicator
	listErr error
	getErr  error
}

func (f *fakeStore) ListActiveIndicators(_ context.Context) ([]indicator.Indicator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]indicator.Indicator, len(f.inds))
	copy(out, f.inds)
	return out, nil
}

func (f *fakeStore) GetIndicator(_ context.Context, id string) (indicator.Indicator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return indicator.Indicator{}, f.getErr
	}
	for _, ind := range f.inds {
		if ind.ID == id {
			return ind, nil
		}
	}
	return indicator.Indicator{}, errors.New("indicator not found")
}

func (f *fakeStore) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitStopped(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop")
	}
}

func newTestLoop(cfg LoopConfig, store *fakeStore, source *fakeSource, recorder *fakeRecorder) *Loop {
	exec := NewExecutor(ExecutorConfig{}, source, fixedBaseline{value: 100, ok: true}, recorder, &fakeBroadcaster{}, &fakeAlerts{})
	return NewLoop(cfg, store, exec)
}

func TestLoopNoOverlappingBatches(t *testing.T) {
	source := &fakeSource{
		values:  map[string]float64{"q": 100},
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	recorder := &fakeRecorder{}
	store := &fakeStore{inds: []indicator.Indicator{testIndicator("a", "q")}}
	loop := newTestLoop(LoopConfig{TickInterval: 20 * time.Millisecond, DrainGrace: 2 * time.Second}, store, source, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	<-source.started
	// further ticks fire while the batch is blocked and must be skipped
	waitFor(t, "skipped ticks", func() bool { return loop.Status().SkippedTicks >= 2 })

	cancel()
	close(source.release)
	waitStopped(t, done)

	if got := source.callCount(); got != 1 {
		t.Fatalf("expected exactly one batch, source called %d times", got)
	}
	st := loop.Status()
	if st.State != StateStopped {
		t.Fatalf("expected stopped state got %v", st.State)
	}
	// graceful drain waited for the batch, so the result was recorded
	if len(recorder.results()) != 1 {
		t.Fatalf("expected drained batch to record its result, got %d", len(recorder.results()))
	}
}

func TestLoopAbandonsBatchAfterGrace(t *testing.T) {
	source := &fakeSource{
		values:  map[string]float64{"q": 100},
		started: make(chan string, 1),
		release: make(chan struct{}), // never closed; only batch cancellation unblocks
	}
	recorder := &fakeRecorder{}
	store := &fakeStore{inds: []indicator.Indicator{testIndicator("a", "q")}}
	loop := newTestLoop(LoopConfig{TickInterval: 15 * time.Millisecond, DrainGrace: 30 * time.Millisecond}, store, source, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	<-source.started
	cancel()
	waitStopped(t, done)

	if len(recorder.results()) != 1 {
		t.Fatalf("abandoned execution should still be recorded, got %d", len(recorder.results()))
	}
	if recorder.results()[0].Outcome != indicator.OutcomeFailed {
		t.Fatalf("cancelled execution must record failed, got %v", recorder.results()[0].Outcome)
	}
}

func TestLoopSurvivesDueSelectionFailure(t *testing.T) {
	source := &fakeSource{values: map[string]float64{"q": 100}}
	store := &fakeStore{
		inds:    []indicator.Indicator{testIndicator("a", "q")},
		listErr: errors.New("db down"),
	}
	loop := newTestLoop(LoopConfig{TickInterval: 15 * time.Millisecond, DrainGrace: time.Second}, store, source, &fakeRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	waitFor(t, "degraded status", func() bool {
		st := loop.Status()
		return st.Ticks >= 2 && st.DegradedReason != ""
	})
	if source.callCount() != 0 {
		t.Fatalf("no executions expected while selection fails")
	}

	store.setListErr(nil)
	waitFor(t, "recovery", func() bool { return source.callCount() >= 1 })
	waitFor(t, "degraded reason cleared", func() bool { return loop.Status().DegradedReason == "" })

	cancel()
	waitStopped(t, done)
}

func TestLoopSuspendResume(t *testing.T) {
	source := &fakeSource{values: map[string]float64{"q": 100}}
	store := &fakeStore{inds: []indicator.Indicator{testIndicator("a", "q")}}
	loop := newTestLoop(LoopConfig{TickInterval: 15 * time.Millisecond, DrainGrace: time.Second}, store, source, &fakeRecorder{})
	loop.Suspend()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	waitFor(t, "ticks while suspended", func() bool { return loop.Status().Ticks >= 3 })
	if source.callCount() != 0 {
		t.Fatalf("suspended loop must not execute, got %d calls", source.callCount())
	}
	if !loop.Status().Suspended {
		t.Fatalf("status must report suspension")
	}

	loop.Resume()
	waitFor(t, "execution after resume", func() bool { return source.callCount() >= 1 })

	cancel()
	waitStopped(t, done)
}

func TestRunNowRejectedWhileBatchInFlight(t *testing.T) {
	source := &fakeSource{
		values:  map[string]float64{"q": 100},
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	store := &fakeStore{inds: []indicator.Indicator{testIndicator("a", "q")}}
	loop := newTestLoop(LoopConfig{TickInterval: 15 * time.Millisecond, DrainGrace: 2 * time.Second}, store, source, &fakeRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	<-source.started
	if _, err := loop.RunNow(context.Background(), "a"); !errors.Is(err, ErrBatchInFlight) {
		t.Fatalf("expected ErrBatchInFlight got %v", err)
	}

	cancel()
	close(source.release)
	waitStopped(t, done)
}

func TestRunNowIgnoresSchedule(t *testing.T) {
	now := time.Now().UTC()
	ind := testIndicator("a", "q")
	ind.LastRunAt = &now // not due
	source := &fakeSource{values: map[string]float64{"q": 100}}
	recorder := &fakeRecorder{}
	store := &fakeStore{inds: []indicator.Indicator{ind}}
	loop := newTestLoop(LoopConfig{TickInterval: time.Minute}, store, source, recorder)

	res, err := loop.RunNow(context.Background(), "a")
	if err != nil {
		t.Fatalf("manual run failed: %v", err)
	}
	if res.Outcome != indicator.OutcomeSuccess {
		t.Fatalf("expected success got %v", res.Outcome)
	}
	if source.callCount() != 1 {
		t.Fatalf("expected one source call got %d", source.callCount())
	}
	if len(recorder.bookkeeping) != 1 {
		t.Fatalf("manual run must update bookkeeping")
	}
}

func TestRunNowUnknownIndicator(t *testing.T) {
	store := &fakeStore{}
	loop := newTestLoop(LoopConfig{TickInterval: time.Minute}, store, &fakeSource{}, &fakeRecorder{})
	if _, err := loop.RunNow(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown indicator")
	}
}

func TestRunNowAfterStop(t *testing.T) {
	store := &fakeStore{inds: []indicator.Indicator{testIndicator("a", "q")}}
	loop := newTestLoop(LoopConfig{TickInterval: time.Minute, DrainGrace: time.Second}, store, &fakeSource{values: map[string]float64{"q": 100}}, &fakeRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	cancel()
	waitStopped(t, done)

	if _, err := loop.RunNow(context.Background(), "a"); !errors.Is(err, ErrLoopStopped) {
		t.Fatalf("expected ErrLoopStopped got %v", err)
	}
}
