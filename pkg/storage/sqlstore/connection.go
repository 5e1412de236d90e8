package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/lineage/pkg/observability"
)

// ConnectionManager manages primary and read replica connections
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32 // Atomic counter for round-robin selection
	mu       sync.RWMutex
	logger   *observability.Logger
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	Dialect     Dialect
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// NewConnectionManager opens the primary and any replicas. Replicas that
// cannot be reached are skipped with a warning.
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	primary, err := openDB(config, config.PrimaryURL, config.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}
	cm := &ConnectionManager{primary: primary, logger: logger}

	// SQLite is embedded; replicas only make sense for Postgres.
	if config.Dialect == DialectSQLite {
		return cm, nil
	}

	for i, replicaURL := range config.ReplicaURLs {
		// Slightly smaller pool than primary
		replicaMaxConns := config.MaxConns / 2
		if replicaMaxConns < 2 {
			replicaMaxConns = 2
		}
		replica, err := openDB(config, replicaURL, replicaMaxConns)
		if err != nil {
			logger.WithError(err).WithField("replica", i).Warn("Skipping unreachable read replica")
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	logger.WithFields(map[string]interface{}{
		"dialect":  config.Dialect.String(),
		"replicas": len(cm.replicas),
	}).Info("Connection manager initialized")

	return cm, nil
}

// newSingleConnectionManager wraps an already opened database
func newSingleConnectionManager(db *sql.DB, logger *observability.Logger) *ConnectionManager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ConnectionManager{primary: db, logger: logger}
}

func openDB(config ConnectionConfig, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(config.Dialect.driverName(), dsn)
	if err != nil {
		return nil, err
	}

	if config.Dialect == DialectSQLite {
		// One long-lived connection: SQLite serializes writers anyway and an
		// in-memory database lives only as long as its connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if maxConns > 0 {
			db.SetMaxOpenConns(maxConns)
		}
		db.SetMaxIdleConns(config.MinConns)
		db.SetConnMaxLifetime(config.MaxLifetime)
		db.SetConnMaxIdleTime(config.MaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Primary returns the primary database connection (for writes)
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica using round-robin selection
// Falls back to primary if no replicas are available
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}
	index := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(index%uint32(len(cm.replicas)))]
}

// HealthCheck checks the primary and reports when every replica is down
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	cm.mu.RLock()
	replicas := make([]*sql.DB, len(cm.replicas))
	copy(replicas, cm.replicas)
	cm.mu.RUnlock()

	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}
	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}
	return nil
}

// RemoveUnhealthyReplicas closes and drops replicas that fail a ping
func (cm *ConnectionManager) RemoveUnhealthyReplicas(ctx context.Context) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	healthy := make([]*sql.DB, 0, len(cm.replicas))
	removed := 0
	for _, replica := range cm.replicas {
		if err := replica.PingContext(ctx); err != nil {
			replica.Close()
			removed++
			continue
		}
		healthy = append(healthy, replica)
	}
	cm.replicas = healthy
	return removed
}

// Close closes all database connections
func (cm *ConnectionManager) Close() error {
	var errs []string

	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("primary: %v", err))
	}

	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("replica-%d: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("connection close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
