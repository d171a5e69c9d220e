package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"metrion-backend/internal/indicator"
	"metrion-backend/internal/logger"
	"metrion-backend/internal/metrics"
)

// LoopState is the observable state of the scheduling loop.
type LoopState string

const (
	StateIdle    LoopState = "idle"
	StateTicking LoopState = "ticking"
	StateStopped LoopState = "stopped"
)

// IndicatorStore lists schedulable indicators for the loop.
type IndicatorStore interface {
	ListActiveIndicators(ctx context.Context) ([]indicator.Indicator, error)
	GetIndicator(ctx context.Context, id string) (indicator.Indicator, error)
}

// Status is a point-in-time snapshot of the loop, served by the admin surface.
type Status struct {
	State          LoopState     `json:"state"`
	Suspended      bool          `json:"suspended"`
	Ticks          uint64        `json:"ticks"`
	SkippedTicks   uint64        `json:"skipped_ticks"`
	LastTickAt     *time.Time    `json:"last_tick_at,omitempty"`
	LastBatch      *BatchSummary `json:"last_batch,omitempty"`
	DegradedReason string        `json:"degraded_reason,omitempty"`
}

// LoopConfig sets the tick cadence and the shutdown drain grace.
type LoopConfig struct {
	TickInterval time.Duration
	DrainGrace   time.Duration
}

// Loop drives scheduling: on each tick it selects due indicators and hands
// them to the executor as one batch. Batches never overlap; a tick that fires
// while a batch is still running is skipped, not queued.
type Loop struct {
	store    IndicatorStore
	executor *Executor
	interval time.Duration
	grace    time.Duration
	log      zerolog.Logger

	inFlight  atomic.Bool
	suspended atomic.Bool
	halted    atomic.Bool
	ticks     atomic.Uint64
	skipped   atomic.Uint64

	mu          sync.Mutex
	state       LoopState
	lastTickAt  *time.Time
	lastBatch   *BatchSummary
	degraded    string
	batchCancel context.CancelFunc
	batchDone   chan struct{}
}

func NewLoop(cfg LoopConfig, store IndicatorStore, executor *Executor) *Loop {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{
		store:    store,
		executor: executor,
		interval: interval,
		grace:    cfg.DrainGrace,
		log:      logger.WithComponent("loop"),
		state:    StateIdle,
	}
}

// Run ticks until ctx is cancelled, then waits up to the drain grace for an
// in-flight batch before abandoning it. It always leaves the loop in the
// stopped state.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.log.Info().Dur("interval", l.interval).Msg("scheduling loop started")
	for {
		select {
		case <-ctx.Done():
			l.drainAndStop()
			return
		case now := <-ticker.C:
			l.tick(now.UTC())
		}
	}
}

// tick starts one batch unless the loop is suspended or a batch is already in
// flight. It reports whether a batch was started.
func (l *Loop) tick(now time.Time) bool {
	metrics.TicksTotal.Inc()
	l.ticks.Add(1)
	l.mu.Lock()
	at := now
	l.lastTickAt = &at
	l.mu.Unlock()

	if l.suspended.Load() {
		l.log.Debug().Msg("loop suspended, tick ignored")
		return false
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		metrics.TicksSkippedTotal.Inc()
		l.skipped.Add(1)
		l.log.Warn().Msg("previous batch still running, tick skipped")
		return false
	}

	// The batch context is detached from the loop context so cancellation can
	// grant a drain grace before forcing abandonment.
	batchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.mu.Lock()
	l.batchCancel = cancel
	l.batchDone = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		defer l.inFlight.Store(false)
		l.runTick(batchCtx, now)
	}()
	return true
}

// ForceTick starts an unscheduled pass over all due indicators. It goes
// through the same single-flight gate as the ticker and reports whether a
// batch actually started.
func (l *Loop) ForceTick() bool {
	if l.halted.Load() {
		return false
	}
	return l.tick(time.Now().UTC())
}

func (l *Loop) runTick(ctx context.Context, now time.Time) {
	l.setState(StateTicking)
	defer l.setState(StateIdle)

	indicators, err := l.store.ListActiveIndicators(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("due selection failed")
		l.setDegraded(fmt.Sprintf("due selection: %v", err))
		return
	}
	l.setDegraded("")

	due := SelectDue(now, indicators)
	if len(due) == 0 {
		l.log.Debug().Int("active", len(indicators)).Msg("no indicators due")
		return
	}

	l.log.Info().Int("due", len(due)).Int("active", len(indicators)).Msg("executing batch")
	summary := l.executor.RunBatch(ctx, now, due)
	l.mu.Lock()
	l.lastBatch = &summary
	l.mu.Unlock()
	l.log.Info().Int("succeeded", summary.Succeeded).Int("breached", summary.Breached).
		Int("failed", summary.Failed).Msg("batch complete")
}

func (l *Loop) drainAndStop() {
	l.halted.Store(true)
	l.mu.Lock()
	done := l.batchDone
	cancel := l.batchCancel
	l.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(l.grace):
			l.log.Warn().Dur("grace", l.grace).Msg("drain grace elapsed, abandoning in-flight batch")
			cancel()
			<-done
		}
	}
	l.setState(StateStopped)
	l.log.Info().Msg("scheduling loop stopped")
}

// RunNow executes a single indicator immediately, outside its schedule. It
// shares the batch single-flight gate, so it fails with ErrBatchInFlight while
// a scheduled batch is running rather than overlapping it.
func (l *Loop) RunNow(ctx context.Context, indicatorID string) (indicator.ExecutionResult, error) {
	if l.halted.Load() {
		return indicator.ExecutionResult{}, ErrLoopStopped
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return indicator.ExecutionResult{}, ErrBatchInFlight
	}
	defer l.inFlight.Store(false)

	ind, err := l.store.GetIndicator(ctx, indicatorID)
	if err != nil {
		return indicator.ExecutionResult{}, err
	}
	l.log.Info().Str("indicator_id", ind.ID).Str("name", ind.Name).Msg("manual run")

	l.setState(StateTicking)
	defer l.setState(StateIdle)
	summary := l.executor.RunBatch(ctx, time.Now().UTC(), []indicator.Indicator{ind})
	l.mu.Lock()
	l.lastBatch = &summary
	l.mu.Unlock()
	if len(summary.Results) == 0 {
		return indicator.ExecutionResult{}, ctx.Err()
	}
	return summary.Results[0], nil
}

// Suspend keeps the clock ticking but stops batches from starting until
// Resume is called.
func (l *Loop) Suspend() {
	if l.suspended.CompareAndSwap(false, true) {
		l.log.Info().Msg("loop suspended")
	}
}

func (l *Loop) Resume() {
	if l.suspended.CompareAndSwap(true, false) {
		l.log.Info().Msg("loop resumed")
	}
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Status{
		State:          l.state,
		Suspended:      l.suspended.Load(),
		Ticks:          l.ticks.Load(),
		SkippedTicks:   l.skipped.Load(),
		DegradedReason: l.degraded,
	}
	if l.lastTickAt != nil {
		at := *l.lastTickAt
		st.LastTickAt = &at
	}
	if l.lastBatch != nil {
		batch := *l.lastBatch
		st.LastBatch = &batch
	}
	return st
}

func (l *Loop) setState(state LoopState) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
}

func (l *Loop) setDegraded(reason string) {
	l.mu.Lock()
	l.degraded = reason
	l.mu.Unlock()
}
