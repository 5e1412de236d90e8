package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes a single dependency
type CheckFunc func(ctx context.Context) error

type dependencyCheck struct {
	name     string
	check    CheckFunc
	critical bool
}

// HealthChecker aggregates dependency probes into liveness and readiness endpoints
type HealthChecker struct {
	version string

	mu     sync.RWMutex
	checks []dependencyCheck
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewHealthChecker creates a health checker. db and rdb may be nil; the
// database is critical, redis only degrades readiness.
func NewHealthChecker(version string, db *sql.DB, rdb *redis.Client) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.AddCheck("database", true, func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
	}
	if rdb != nil {
		h.AddCheck("redis", false, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return h
}

// AddCheck registers a named probe. A failing critical probe makes the
// service unhealthy; a failing non-critical probe only degrades it.
func (h *HealthChecker) AddCheck(name string, critical bool, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, dependencyCheck{name: name, check: check, critical: critical})
}

// Liveness returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness runs every probe and returns 503 when unhealthy
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Check runs all probes
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]dependencyCheck(nil), h.checks...)
	h.mu.RUnlock()
	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(checks)),
	}

	for _, c := range checks {
		start := time.Now()
		dep := DependencyStatus{Status: StatusHealthy, Timestamp: start.UTC()}
		err := c.check(ctx)
		dep.Latency = time.Since(start)
		if err != nil {
			dep.Message = err.Error()
			if c.critical {
				dep.Status = StatusUnhealthy
				status.Status = StatusUnhealthy
			} else {
				dep.Status = StatusDegraded
				if status.Status == StatusHealthy {
					status.Status = StatusDegraded
				}
			}
		}
		status.Dependencies[c.name] = dep
	}

	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
