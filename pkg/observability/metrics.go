// Package observability exposes pipeline metrics and tracing. Metrics are
// Prometheus collectors registered at package load; tracing uses
// OpenTelemetry with a pluggable exporter.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bioacq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of source API requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"source", "status"},
	)

	requestRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bioacq",
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Total number of request retries",
		},
		[]string{"source"},
	)

	rateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bioacq",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiter admissions and blocks",
		},
		[]string{"source", "decision"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bioacq",
			Subsystem: "http",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per source (0 closed, 1 open, 2 half-open)",
		},
		[]string{"source"},
	)

	recordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bioacq",
			Subsystem: "pipeline",
			Name:      "records_fetched_total",
			Help:      "Total records fetched per source",
		},
		[]string{"source"},
	)

	qualityViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bioacq",
			Subsystem: "quality",
			Name:      "violations_total",
			Help:      "Quality threshold violations by severity",
		},
		[]string{"source", "severity"},
	)

	pipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bioacq",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		},
		[]string{"source", "outcome"},
	)
)

// ObserveRequest records one completed source API request.
func ObserveRequest(source, status string, duration time.Duration) {
	requestDuration.WithLabelValues(source, status).Observe(duration.Seconds())
}

// RecordRetry counts one retry against a source.
func RecordRetry(source string) {
	requestRetries.WithLabelValues(source).Inc()
}

// RecordRateLimit counts one limiter decision, "allowed" or "blocked".
func RecordRateLimit(source, decision string) {
	rateLimitDecisions.WithLabelValues(source, decision).Inc()
}

// SetCircuitState publishes the breaker state for a source.
func SetCircuitState(source string, state int) {
	circuitState.WithLabelValues(source).Set(float64(state))
}

// AddRecordsFetched counts records drained from a source.
func AddRecordsFetched(source string, n int) {
	recordsFetched.WithLabelValues(source).Add(float64(n))
}

// RecordQualityViolation counts one threshold violation.
func RecordQualityViolation(source, severity string) {
	qualityViolations.WithLabelValues(source, severity).Inc()
}

// RecordRunOutcome counts one finished pipeline run, "success" or "failure".
func RecordRunOutcome(source, outcome string) {
	pipelineRuns.WithLabelValues(source, outcome).Inc()
}
