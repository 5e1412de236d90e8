package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Lifecycle metrics
	TransitionsTotal   *prometheus.CounterVec
	RegistrationsTotal *prometheus.CounterVec
	LockWaitSeconds    *prometheus.HistogramVec

	// Compatibility metrics
	CompatibilityChecksTotal   *prometheus.CounterVec
	CompatibilityCheckDuration *prometheus.HistogramVec

	// Validation metrics
	ValidationFindingsTotal *prometheus.CounterVec

	// Event metrics
	EventsEmittedTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineage_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lineage_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineage_transitions_total",
				Help: "Total number of committed lifecycle transitions",
			},
			[]string{"from", "to", "trigger"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineage_registrations_total",
				Help: "Total number of registration attempts by outcome",
			},
			[]string{"format", "outcome"},
		),
		LockWaitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lineage_lock_wait_seconds",
				Help:    "Time spent waiting for lifecycle locks",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"backend"},
		),

		CompatibilityChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineage_compatibility_checks_total",
				Help: "Total number of compatibility checks",
			},
			[]string{"mode", "result"},
		),
		CompatibilityCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lineage_compatibility_check_duration_seconds",
				Help:    "Compatibility check duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		ValidationFindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineage_validation_findings_total",
				Help: "Total number of validation findings by rule and severity",
			},
			[]string{"rule", "severity"},
		),

		EventsEmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineage_events_emitted_total",
				Help: "Total number of domain events handed to sinks",
			},
			[]string{"type", "sink", "status"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineage_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lineage_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineage_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lineage_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransitionsTotal,
		m.RegistrationsTotal,
		m.LockWaitSeconds,
		m.CompatibilityChecksTotal,
		m.CompatibilityCheckDuration,
		m.ValidationFindingsTotal,
		m.EventsEmittedTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// RecordTransition counts a committed state change
func (m *Metrics) RecordTransition(from, to, trigger string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to, trigger).Inc()
}

// RecordRegistration counts a registration attempt outcome
func (m *Metrics) RecordRegistration(format, outcome string) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(format, outcome).Inc()
}

// ObserveLockWait records how long a caller waited for a lock
func (m *Metrics) ObserveLockWait(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitSeconds.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordCompatibilityCheck counts a check and observes its duration
func (m *Metrics) RecordCompatibilityCheck(mode string, compatible bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "compatible"
	if !compatible {
		result = "incompatible"
	}
	m.CompatibilityChecksTotal.WithLabelValues(mode, result).Inc()
	m.CompatibilityCheckDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordFinding counts a validation finding
func (m *Metrics) RecordFinding(rule, severity string) {
	if m == nil {
		return
	}
	m.ValidationFindingsTotal.WithLabelValues(rule, severity).Inc()
}

// RecordEvent counts an emitted event
func (m *Metrics) RecordEvent(eventType, sink string, err error) {
	if m == nil {
		return
	}
	m.EventsEmittedTotal.WithLabelValues(eventType, sink, statusLabel(err)).Inc()
}

// RecordStorageOperation counts a storage call and observes its duration
func (m *Metrics) RecordStorageOperation(operation, backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, statusLabel(err)).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(d.Seconds())
}

// RecordCacheLookup counts a cache hit or miss
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
