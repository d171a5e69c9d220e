// Package alerting delivers breach alerts to their destinations. The engine
// raises an alert once per non-suppressed breach; delivery is best-effort and
// never blocks or fails the execution that produced it.
package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"metrion-backend/internal/indicator"
	"metrion-backend/internal/logger"
	"metrion-backend/internal/metrics"
)

// Sink delivers one alert.
type Sink interface {
	RaiseAlert(ctx context.Context, alert indicator.Alert) error
}

// AlertWriter persists alert rows. Satisfied by the storage repository.
type AlertWriter interface {
	CreateAlert(ctx context.Context, alert indicator.Alert) error
}

// StoreSink writes the alert to the database. It runs first in the fan-out so
// the record exists before external deliveries fire.
type StoreSink struct {
	writer AlertWriter
}

func NewStoreSink(writer AlertWriter) *StoreSink {
	return &StoreSink{writer: writer}
}

func (s *StoreSink) RaiseAlert(ctx context.Context, alert indicator.Alert) error {
	return s.writer.CreateAlert(ctx, alert)
}

// LogSink writes alerts to the structured log. Default destination when no
// webhook or broker is configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.WithComponent("alerting")}
}

func (s *LogSink) RaiseAlert(_ context.Context, alert indicator.Alert) error {
	s.log.Warn().Str("alert_id", alert.ID).Str("indicator_id", alert.IndicatorID).
		Str("execution_id", alert.ExecutionID).Msg(alert.Message)
	return nil
}

type namedSink struct {
	name string
	sink Sink
}

// Fanout dispatches an alert to every configured sink. A failing sink is
// logged and counted; the rest still receive the alert and the caller never
// sees an error.
type Fanout struct {
	sinks []namedSink
	log   zerolog.Logger
}

func NewFanout() *Fanout {
	return &Fanout{log: logger.WithComponent("alerting")}
}

func (f *Fanout) Add(name string, sink Sink) *Fanout {
	f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
	return f
}

func (f *Fanout) RaiseAlert(ctx context.Context, alert indicator.Alert) error {
	for _, entry := range f.sinks {
		if err := entry.sink.RaiseAlert(ctx, alert); err != nil {
			metrics.BroadcastErrorsTotal.WithLabelValues("alert_" + entry.name).Inc()
			f.log.Error().Str("sink", entry.name).Str("alert_id", alert.ID).Err(err).Msg("alert delivery failed")
		}
	}
	return nil
}
