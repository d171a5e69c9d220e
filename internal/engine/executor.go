package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metrion-backend/internal/broadcast"
	"metrion-backend/internal/indicator"
	"metrion-backend/internal/logger"
	"metrion-backend/internal/metrics"
)

const defaultMaxConcurrency = 5

// ValueSource fetches the current observation for an indicator's query. It
// must not retain state between calls and must honor ctx cancellation.
type ValueSource interface {
	Execute(ctx context.Context, connectionRef, query string) (float64, error)
}

// BaselineProvider computes the expected value for an indicator at now. The
// bool result is false when no history exists yet.
type BaselineProvider interface {
	Baseline(ctx context.Context, ind indicator.Indicator, now time.Time) (float64, bool, error)
}

// Recorder persists execution outcomes and the per-indicator run bookkeeping.
type Recorder interface {
	SaveExecution(ctx context.Context, res indicator.ExecutionResult) error
	UpdateRunBookkeeping(ctx context.Context, indicatorID string, lastRunAt time.Time, lastAlertAt *time.Time) error
}

// Broadcaster publishes execution progress. Failures are logged by the caller
// and never fail the execution itself.
type Broadcaster interface {
	PublishStarted(ctx context.Context, ev broadcast.StartedEvent) error
	PublishCompleted(ctx context.Context, ev broadcast.CompletedEvent) error
}

// AlertSink delivers an alert for a breach that was not cooldown-suppressed.
type AlertSink interface {
	RaiseAlert(ctx context.Context, alert indicator.Alert) error
}

// BatchSummary tallies one batch of executions.
type BatchSummary struct {
	Succeeded int                         `json:"succeeded"`
	Breached  int                         `json:"breached"`
	Failed    int                         `json:"failed"`
	Results   []indicator.ExecutionResult `json:"-"`
}

func (s BatchSummary) Total() int {
	return s.Succeeded + s.Breached + s.Failed
}

// ExecutorConfig bounds batch execution.
type ExecutorConfig struct {
	MaxConcurrency   int
	ExecutionTimeout time.Duration
}

// Executor runs batches of due indicators against their data sources with
// bounded concurrency. One indicator's failure never aborts or delays its
// siblings.
type Executor struct {
	source    ValueSource
	baselines BaselineProvider
	recorder  Recorder
	bus       Broadcaster
	alerts    AlertSink
	limit     int
	timeout   time.Duration
	log       zerolog.Logger
}

func NewExecutor(cfg ExecutorConfig, source ValueSource, baselines BaselineProvider, recorder Recorder, bus Broadcaster, alerts AlertSink) *Executor {
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = defaultMaxConcurrency
	}
	timeout := cfg.ExecutionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		source:    source,
		baselines: baselines,
		recorder:  recorder,
		bus:       bus,
		alerts:    alerts,
		limit:     limit,
		timeout:   timeout,
		log:       logger.WithComponent("executor"),
	}
}

// RunBatch executes every due indicator and returns the tally. Cancelling ctx
// aborts in-flight executions at their next suspension point; indicators that
// have not started yet are skipped and stay due for the next cycle.
func (e *Executor) RunBatch(ctx context.Context, now time.Time, due []indicator.Indicator) BatchSummary {
	metrics.BatchSize.Observe(float64(len(due)))

	sem := make(chan struct{}, e.limit)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]indicator.ExecutionResult, 0, len(due))
	)
	for i, ind := range due {
		if err := acquire(ctx, sem); err != nil {
			e.log.Warn().Int("skipped", len(due)-i).Msg("batch cancelled, remaining indicators skipped")
			break
		}
		wg.Add(1)
		go func(ind indicator.Indicator) {
			defer wg.Done()
			defer func() { <-sem }()
			res := e.runOne(ctx, now, ind)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(ind)
	}
	wg.Wait()
	return e.summarize(results)
}

// acquire takes a semaphore slot, preferring cancellation when both are ready
// so a cancelled batch stops starting new work.
func acquire(ctx context.Context, sem chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case sem <- struct{}{}:
		return nil
	}
}

func (e *Executor) summarize(results []indicator.ExecutionResult) BatchSummary {
	summary := BatchSummary{Results: results}
	for _, res := range results {
		switch res.Outcome {
		case indicator.OutcomeBreached:
			summary.Breached++
		case indicator.OutcomeFailed:
			summary.Failed++
		default:
			summary.Succeeded++
		}
	}
	return summary
}

func (e *Executor) runOne(ctx context.Context, now time.Time, ind indicator.Indicator) indicator.ExecutionResult {
	metrics.ExecutionsInFlight.Inc()
	defer metrics.ExecutionsInFlight.Dec()

	start := time.Now()
	res := indicator.ExecutionResult{
		ID:          uuid.NewString(),
		IndicatorID: ind.ID,
		ExecutedAt:  now,
	}

	e.publishStarted(ctx, ind, now)

	value, err := e.observe(ctx, ind)
	if err != nil {
		res.Outcome = indicator.OutcomeFailed
		res.ErrorMessage = err.Error()
		e.log.Warn().Str("indicator_id", ind.ID).Str("name", ind.Name).Err(err).Msg("value source failed")
	} else if baseline, ok, berr := e.baselines.Baseline(ctx, ind, now); berr != nil {
		res.Outcome = indicator.OutcomeFailed
		res.ErrorMessage = fmt.Sprintf("compute baseline: %v", berr)
		res.Value = value
		e.log.Warn().Str("indicator_id", ind.ID).Err(berr).Msg("baseline computation failed")
	} else {
		if !ok {
			// First run for this indicator: the observation becomes its own
			// baseline and cannot breach.
			baseline = value
		}
		ev := Evaluate(value, baseline, ThresholdConfig{
			DeviationThresholdPercent: ind.DeviationThresholdPercent,
			MinimumThreshold:          ind.MinimumThreshold,
		})
		res.Value = value
		res.Baseline = ev.Baseline
		res.DeviationPercent = ev.DeviationPercent
		res.Outcome = ev.Outcome
		if ev.FloorApplied {
			e.log.Debug().Str("indicator_id", ind.ID).Float64("value", value).Msg("minimum threshold floor suppressed breach")
		}
	}

	if res.Outcome == indicator.OutcomeBreached {
		res.AlertRaised = e.maybeAlert(ctx, ind, &res, now)
	}

	res.Duration = time.Since(start)
	res.DurationMS = res.Duration.Milliseconds()

	if err := e.recorder.SaveExecution(ctx, res); err != nil {
		e.log.Error().Str("indicator_id", ind.ID).Err(err).Msg("save execution failed")
	}
	var lastAlertAt *time.Time
	if res.AlertRaised {
		lastAlertAt = &now
	}
	if err := e.recorder.UpdateRunBookkeeping(ctx, ind.ID, now, lastAlertAt); err != nil {
		e.log.Error().Str("indicator_id", ind.ID).Err(err).Msg("update run bookkeeping failed")
	}

	e.publishCompleted(ctx, ind, res)

	metrics.ExecutionsTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.ExecutionDuration.Observe(res.Duration.Seconds())
	return res
}

// observe calls the value source under the per-execution timeout. A panic in
// the source is contained here and surfaces as an error so the indicator is
// recorded as failed instead of taking the batch down.
func (e *Executor) observe(ctx context.Context, ind indicator.Indicator) (value float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			e.log.Error().Str("indicator_id", ind.ID).Interface("panic", rec).
				Str("stack", string(debug.Stack())).Msg("value source panicked")
		}
	}()
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.source.Execute(execCtx, ind.ConnectionRef, ind.Query)
}

func (e *Executor) maybeAlert(ctx context.Context, ind indicator.Indicator, res *indicator.ExecutionResult, now time.Time) bool {
	if withinCooldown(ind.LastAlertAt, ind.CooldownMinutes, now) {
		metrics.AlertsSuppressedTotal.Inc()
		e.log.Debug().Str("indicator_id", ind.ID).Time("last_alert_at", *ind.LastAlertAt).
			Int("cooldown_minutes", ind.CooldownMinutes).Msg("breach alert suppressed by cooldown")
		return false
	}
	alert := indicator.Alert{
		ID:          uuid.NewString(),
		IndicatorID: ind.ID,
		ExecutionID: res.ID,
		Message: fmt.Sprintf("%s deviated %.2f%% from baseline %.2f (observed %.2f, threshold %.2f%%)",
			ind.Name, res.DeviationPercent, res.Baseline, res.Value, ind.DeviationThresholdPercent),
		RaisedAt: now,
	}
	if err := e.alerts.RaiseAlert(ctx, alert); err != nil {
		e.log.Error().Str("indicator_id", ind.ID).Err(err).Msg("raise alert failed")
	}
	metrics.AlertsRaisedTotal.Inc()
	return true
}

func (e *Executor) publishStarted(ctx context.Context, ind indicator.Indicator, now time.Time) {
	ev := broadcast.StartedEvent{
		IndicatorID: ind.ID,
		Name:        ind.Name,
		StartedAt:   now,
	}
	if err := e.bus.PublishStarted(ctx, ev); err != nil {
		metrics.BroadcastErrorsTotal.WithLabelValues("started").Inc()
		e.log.Warn().Str("indicator_id", ind.ID).Err(err).Msg("publish started event failed")
	}
}

func (e *Executor) publishCompleted(ctx context.Context, ind indicator.Indicator, res indicator.ExecutionResult) {
	ev := broadcast.CompletedEvent{
		IndicatorID:      ind.ID,
		Name:             ind.Name,
		Outcome:          string(res.Outcome),
		Value:            res.Value,
		DeviationPercent: res.DeviationPercent,
		DurationMS:       res.DurationMS,
		Error:            res.ErrorMessage,
		AlertRaised:      res.AlertRaised,
		CompletedAt:      time.Now().UTC(),
	}
	if err := e.bus.PublishCompleted(ctx, ev); err != nil {
		metrics.BroadcastErrorsTotal.WithLabelValues("completed").Inc()
		e.log.Warn().Str("indicator_id", ind.ID).Err(err).Msg("publish completed event failed")
	}
}
