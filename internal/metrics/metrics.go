package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tuner loop counters and histograms, partitioned by coefficient where
// the series is per-coefficient.

var (
	// Coordinator
	CoordinatorTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "coordinator",
		Name:      "ticks_total",
		Help:      "Total coordinator ticks",
	})

	CoordinatorTickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mltune",
		Subsystem: "coordinator",
		Name:      "tick_duration_seconds",
		Help:      "Coordinator tick processing duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	CoordinatorMode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mltune",
		Subsystem: "coordinator",
		Name:      "mode",
		Help:      "Current tuner mode (0=IDLE, 1=TUNING, 2=PAUSED, 3=DISABLED, 4=SHUTDOWN)",
	})

	CoordinatorCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "coordinator",
		Name:      "commands_total",
		Help:      "Total operator commands processed",
	}, []string{"command"})

	CoordinatorCommandsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "coordinator",
		Name:      "commands_dropped_total",
		Help:      "Total operator commands displaced by a newer command before processing",
	})

	// Sample intake
	SamplesAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "samples",
		Name:      "accepted_total",
		Help:      "Total shot samples accepted into the pending batch",
	}, []string{"coefficient"})

	SamplesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "samples",
		Name:      "rejected_total",
		Help:      "Total shot samples rejected by the validation filter",
	}, []string{"reason"})

	SamplesStaleSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "samples",
		Name:      "stale_skipped_total",
		Help:      "Total samples excluded because their snapshot predates the active value",
	}, []string{"coefficient"})

	// Optimizer
	OptimizationPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "optimizer",
		Name:      "passes_total",
		Help:      "Total optimization passes executed",
	}, []string{"coefficient"})

	OptimizerFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "optimizer",
		Name:      "fallbacks_total",
		Help:      "Total strategy failures that fell back to the initial value",
	}, []string{"coefficient"})

	OptimizerBestScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mltune",
		Subsystem: "optimizer",
		Name:      "best_score",
		Help:      "Best raw score observed per coefficient this session",
	}, []string{"coefficient"})

	OptimizerObservations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mltune",
		Subsystem: "optimizer",
		Name:      "observations",
		Help:      "Observation count per coefficient this session",
	}, []string{"coefficient"})

	// Telemetry link writes
	WritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "link",
		Name:      "writes_total",
		Help:      "Total coefficient writes published to the robot",
	}, []string{"coefficient"})

	WriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "link",
		Name:      "write_errors_total",
		Help:      "Total coefficient writes that failed at the link",
	}, []string{"coefficient"})

	WritesDeferredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "link",
		Name:      "writes_deferred_total",
		Help:      "Total writes deferred to a later tick by the per-coefficient rate limit",
	}, []string{"coefficient"})

	LinkReadErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "link",
		Name:      "read_errors_total",
		Help:      "Total telemetry read failures",
	})

	// Event log
	EventLogFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "eventlog",
		Name:      "write_failures_total",
		Help:      "Total event rows that failed to persist",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mltune",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
