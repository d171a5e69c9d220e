package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduling loop metrics
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metrion_scheduler_ticks_total",
			Help: "Total number of scheduler ticks fired",
		},
	)

	TicksSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metrion_scheduler_ticks_skipped_total",
			Help: "Ticks skipped because the previous batch was still running",
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metrion_scheduler_batch_size",
			Help:    "Number of due indicators per scheduling tick",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// Execution metrics
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrion_executions_total",
			Help: "Total indicator executions by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metrion_execution_duration_seconds",
			Help:    "Duration of a single indicator execution",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metrion_executions_in_flight",
			Help: "Indicator executions currently running",
		},
	)

	// Alerting metrics
	AlertsRaisedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metrion_alerts_raised_total",
			Help: "Breaches that produced an alert",
		},
	)

	AlertsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metrion_alerts_suppressed_total",
			Help: "Breaches suppressed by the cooldown window",
		},
	)

	// Broadcast metrics
	BroadcastErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrion_broadcast_errors_total",
			Help: "Progress events that failed to publish, by sink",
		},
		[]string{"sink"},
	)
)
