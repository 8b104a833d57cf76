package pipeline

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"policy-claims/backend/internal/rules"
)

// Metrics exposes Prometheus collectors that report pipeline activity.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	stageRetries  *prometheus.CounterVec
	processed     *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global Prometheus
// registry, creating them on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors that are already registered are reused; any other registration
// error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "claims",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Duration spent in each pipeline stage.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "status"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claims",
				Subsystem: "pipeline",
				Name:      "stage_failures_total",
				Help:      "Stage executions that failed and were degraded.",
			},
			[]string{"stage"},
		),
		stageRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claims",
				Subsystem: "pipeline",
				Name:      "stage_retries_total",
				Help:      "Number of times a stage execution required a retry.",
			},
			[]string{"stage"},
		),
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claims",
				Subsystem: "pipeline",
				Name:      "queries_processed_total",
				Help:      "Queries processed, by final decision and whether the rules overrode the model.",
			},
			[]string{"final_decision", "overridden"},
		),
	}
	m.stageDuration = register(reg, m.stageDuration)
	m.stageFailures = register(reg, m.stageFailures)
	m.stageRetries = register(reg, m.stageRetries)
	m.processed = register(reg, m.processed)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveStage records the time spent in a stage.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// IncFailure counts a degraded stage.
func (m *Metrics) IncFailure(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// IncRetry counts a retried stage attempt.
func (m *Metrics) IncRetry(stage string) {
	if m == nil {
		return
	}
	m.stageRetries.WithLabelValues(stage).Inc()
}

// IncProcessed counts a completed query.
func (m *Metrics) IncProcessed(decision rules.Verdict, overridden bool) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(string(decision), strconv.FormatBool(overridden)).Inc()
}
