// Package metrics exposes Prometheus metrics for the tracking engine.
// The collector subscribes to the domain event bus, so the engine itself
// never touches a metric directly.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/afritech-bridge/progress-engine/internal/domain/shared"
)

var (
	// Session metrics
	sessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "progress_engine_sessions_opened_total",
			Help: "Total number of lesson view sessions opened",
		},
	)

	sessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_engine_sessions_closed_total",
			Help: "Total number of lesson view sessions closed by reason",
		},
		[]string{"reason"}, // "closed", "switched", "shutdown"
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "progress_engine_active_sessions",
			Help: "Number of lesson view sessions currently tracked",
		},
	)

	// Save metrics
	progressSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_engine_saves_total",
			Help: "Total number of backend progress writes by outcome",
		},
		[]string{"outcome", "forced"}, // outcome: "saved"/"failed"/"withheld"
	)

	// Completion metrics
	completions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_engine_completions_total",
			Help: "Total number of completion attempts by result",
		},
		[]string{"result"}, // "completed", "refused", "failed"
	)

	completionScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "progress_engine_completion_final_score",
			Help:    "Final lesson score at confirmed completion",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 to 100
		},
	)

	lessonTimeSpent = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "progress_engine_lesson_time_spent_seconds",
			Help:    "Accumulated time spent at confirmed completion",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4h
		},
	)
)

// Collector translates domain events into Prometheus metrics.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector.
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{logger: logger}
}

// Register subscribes the collector to the event bus.
func (c *Collector) Register(bus shared.EventBus) error {
	return bus.SubscribeAll(c.Handle)
}

// Handle records the metric for one domain event.
// Implements shared.EventHandler.
func (c *Collector) Handle(event shared.Event) error {
	switch ev := event.(type) {
	case shared.SessionOpenedEvent:
		sessionsOpened.Inc()
		activeSessions.Inc()

	case shared.SessionClosedEvent:
		sessionsClosed.WithLabelValues(ev.Reason).Inc()
		activeSessions.Dec()

	case shared.ProgressSavedEvent:
		progressSaves.WithLabelValues("saved", boolLabel(ev.Forced)).Inc()

	case shared.ProgressSaveFailedEvent:
		progressSaves.WithLabelValues("failed", "false").Inc()

	case shared.ProgressWithheldEvent:
		progressSaves.WithLabelValues("withheld", "false").Inc()

	case shared.LessonCompletedEvent:
		completions.WithLabelValues("completed").Inc()
		completionScore.Observe(ev.FinalScore)
		lessonTimeSpent.Observe(float64(ev.TimeSpentSeconds))

	case shared.CompletionRefusedEvent:
		completions.WithLabelValues("refused").Inc()

	case shared.CompletionFailedEvent:
		completions.WithLabelValues("failed").Inc()
	}

	return nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
