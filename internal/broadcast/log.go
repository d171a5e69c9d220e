package broadcast

import (
	"context"

	"github.com/rs/zerolog"

	"metrion-backend/internal/logger"
)

// LogSink writes progress events to the structured log. It is the default
// sink when no broker is configured and never returns an error.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.WithComponent("broadcast")}
}

func (s *LogSink) PublishStarted(_ context.Context, ev StartedEvent) error {
	s.log.Info().Str("indicator_id", ev.IndicatorID).Str("name", ev.Name).Msg("execution started")
	return nil
}

func (s *LogSink) PublishCompleted(_ context.Context, ev CompletedEvent) error {
	s.log.Info().Str("indicator_id", ev.IndicatorID).Str("name", ev.Name).
		Str("outcome", ev.Outcome).Float64("value", ev.Value).
		Float64("deviation_percent", ev.DeviationPercent).Int64("duration_ms", ev.DurationMS).
		Bool("alert_raised", ev.AlertRaised).Msg("execution completed")
	return nil
}
