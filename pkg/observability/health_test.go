package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	checker := NewHealthChecker("test", db, rdb)
	status := checker.Check(context.Background())

	if status.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s: %+v", status.Status, status.Dependencies)
	}
	if status.Version != "test" {
		t.Errorf("unexpected version %q", status.Version)
	}
	if len(status.Dependencies) != 2 {
		t.Errorf("expected 2 dependencies, got %d", len(status.Dependencies))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHealthChecker_RedisDownDegrades(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	checker := NewHealthChecker("", nil, rdb)
	status := checker.Check(context.Background())

	if status.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", status.Status)
	}
	if status.Dependencies["redis"].Status != StatusDegraded {
		t.Errorf("expected redis degraded, got %s", status.Dependencies["redis"].Status)
	}
}

func TestHealthChecker_CriticalFailure(t *testing.T) {
	checker := NewHealthChecker("", nil, nil)
	checker.AddCheck("store", true, func(ctx context.Context) error {
		return errors.New("unreachable")
	})

	router := mux.NewRouter()
	RegisterHealthRoutes(router, checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Dependencies["store"].Message != "unreachable" {
		t.Errorf("unexpected message %q", status.Dependencies["store"].Message)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness should be 200, got %d", rec.Code)
	}
}
