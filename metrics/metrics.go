// Package metrics owns the prometheus registry of the claims engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "claims"

type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	submissionsTotal      *prometheus.CounterVec
	secondaryFailureTotal *prometheus.CounterVec
	retryAttemptsTotal    *prometheus.CounterVec
	breakerState          *prometheus.GaugeVec
	locksExpiredTotal     prometheus.Counter
	reportsTotal          *prometheus.CounterVec
	referenceReloadTotal  *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		},
	)
	submissionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "total",
			Help:      "Calculation submissions by incident type and outcome.",
		},
		[]string{"incident_type", "outcome"},
	)
	secondaryFailureTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "secondary_failures_total",
			Help:      "Best-effort submission steps that failed after retries.",
		},
		[]string{"step"},
	)
	retryAttemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retry_attempts_total",
			Help:      "Retries performed per operation.",
		},
		[]string{"operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"operation"},
	)
	locksExpiredTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "expired_total",
			Help:      "Case locks cleared by the expiry job.",
		},
	)
	reportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "generated_total",
			Help:      "Hearing reports rendered by format.",
		},
		[]string{"format"},
	)
	referenceReloadTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reference",
			Name:      "reloads_total",
			Help:      "Reference data reloads by status.",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		submissionsTotal,
		secondaryFailureTotal,
		retryAttemptsTotal,
		breakerState,
		locksExpiredTotal,
		reportsTotal,
		referenceReloadTotal,
	)

	return &Metrics{
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		submissionsTotal:      submissionsTotal,
		secondaryFailureTotal: secondaryFailureTotal,
		retryAttemptsTotal:    retryAttemptsTotal,
		breakerState:          breakerState,
		locksExpiredTotal:     locksExpiredTotal,
		reportsTotal:          reportsTotal,
		referenceReloadTotal:  referenceReloadTotal,
	}
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by chi route
// pattern, so /api/cases/1001 and /api/cases/1002 share one series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.requestTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) RecordSubmission(incidentType, outcome string) {
	if incidentType == "" {
		incidentType = "unknown"
	}
	m.submissionsTotal.WithLabelValues(incidentType, outcome).Inc()
}

func (m *Metrics) RecordSecondaryFailure(step string) {
	m.secondaryFailureTotal.WithLabelValues(step).Inc()
}

func (m *Metrics) RecordRetry(operation string) {
	m.retryAttemptsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) SetBreakerState(operation string, state float64) {
	m.breakerState.WithLabelValues(operation).Set(state)
}

func (m *Metrics) RecordLocksExpired(n int) {
	if n <= 0 {
		return
	}
	m.locksExpiredTotal.Add(float64(n))
}

func (m *Metrics) RecordReport(format string) {
	m.reportsTotal.WithLabelValues(format).Inc()
}

func (m *Metrics) RecordReferenceReload(status string) {
	m.referenceReloadTotal.WithLabelValues(status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
