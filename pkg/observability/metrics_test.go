package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorders(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordTransition("ACTIVE", "DEPRECATED", "deprecate")
	m.RecordTransition("ACTIVE", "DEPRECATED", "deprecate")
	m.RecordRegistration("PROTOBUF", "registered")
	m.RecordCompatibilityCheck("BACKWARD", false, 10*time.Millisecond)
	m.RecordFinding("NAMING_FIELD_CASE", "WARNING")
	m.RecordEvent("schema.registered", "log", nil)
	m.RecordEvent("schema.registered", "kafka", errors.New("down"))
	m.RecordStorageOperation("put", "memory", time.Millisecond, nil)
	m.RecordCacheLookup("compatibility", true)
	m.RecordCacheLookup("compatibility", false)
	m.ObserveLockWait("local", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("ACTIVE", "DEPRECATED", "deprecate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("PROTOBUF", "registered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompatibilityChecksTotal.WithLabelValues("BACKWARD", "incompatible")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsEmittedTotal.WithLabelValues("schema.registered", "kafka", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("compatibility")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("compatibility")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("a", "b", "c")
		m.RecordRegistration("JSON", "registered")
		m.RecordCompatibilityCheck("NONE", true, 0)
		m.RecordFinding("r", "ERROR")
		m.RecordEvent("t", "s", nil)
		m.RecordStorageOperation("get", "sql", 0, nil)
		m.RecordCacheLookup("c", true)
		m.ObserveLockWait("redis", 0)
	})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/subjects/{namespace}/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subjects/payments/order", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/subjects/{namespace}/{name}", "418")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "lineage_http_requests_total"))
}
