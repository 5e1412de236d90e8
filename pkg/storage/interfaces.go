package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/lineage/pkg/schema"
)

var (
	// ErrNotFound is returned when a schema or lifecycle does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a lifecycle is not in the expected state
	// at commit time
	ErrConflict = errors.New("conflict")
	// ErrAlreadyExists is returned when a schema or lifecycle is created twice
	ErrAlreadyExists = errors.New("already exists")
)

// SchemaReader reads immutable schema versions
type SchemaReader interface {
	Get(ctx context.Context, ref schema.Ref) (*schema.Schema, error)
	// GetByFingerprint returns every version of subject whose canonical
	// content has fingerprint, oldest first.
	GetByFingerprint(ctx context.Context, subject schema.Subject, fingerprint string) ([]*schema.Schema, error)
	// ListVersions returns every stored version of subject in ascending order.
	ListVersions(ctx context.Context, subject schema.Subject) ([]schema.SemanticVersion, error)
	// FindDependents returns the versions whose References include ref.
	FindDependents(ctx context.Context, ref schema.Ref) ([]schema.Ref, error)
}

// SchemaWriter writes schema versions
type SchemaWriter interface {
	Put(ctx context.Context, s *schema.Schema) error
	// ReplaceDraft swaps the content of a version whose lifecycle is DRAFT.
	ReplaceDraft(ctx context.Context, s *schema.Schema) error
}

// LifecycleStore persists lifecycles and their transitions
type LifecycleStore interface {
	CreateLifecycle(ctx context.Context, lc *schema.Lifecycle) error
	GetLifecycle(ctx context.Context, ref schema.Ref) (*schema.Lifecycle, error)
	// CommitTransition appends t.Record and persists the resulting state in
	// one write. It fails with ErrConflict when the stored state is not
	// expected.
	CommitTransition(ctx context.Context, ref schema.Ref, expected schema.State, t Transition) (*schema.Lifecycle, error)
	// ListDue returns the deprecated versions whose sunset date is at or
	// before now.
	ListDue(ctx context.Context, now time.Time) ([]schema.Ref, error)
}

// Store is the persistence boundary of the registry
type Store interface {
	SchemaReader
	SchemaWriter
	LifecycleStore
}

// ContentStore keeps schema content addressed by its SHA-256 hash
type ContentStore interface {
	PutContent(ctx context.Context, content []byte) (hash string, err error)
	GetContent(ctx context.Context, hash string) ([]byte, error)
}

// Transition is one committed change to a lifecycle.
type Transition struct {
	Record schema.TransitionRecord
	// Deprecation replaces the stored deprecation info when set.
	Deprecation *schema.DeprecationInfo
	// ClearDeprecation drops the stored deprecation info.
	ClearDeprecation bool
	// Metadata is merged into the lifecycle metadata; empty values delete keys.
	Metadata map[string]string
}

// ApplyTransition checks the expected state and applies t to lc in place.
// Every backend commits through it so the history rules are identical.
func ApplyTransition(lc *schema.Lifecycle, expected schema.State, t Transition) error {
	if lc.CurrentState != expected {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrConflict, lc.Ref, lc.CurrentState, expected)
	}
	if err := lc.Apply(t.Record); err != nil {
		return err
	}
	if t.ClearDeprecation {
		lc.Deprecation = nil
	}
	if t.Deprecation != nil {
		dep := *t.Deprecation
		lc.Deprecation = &dep
	}
	if len(t.Metadata) > 0 {
		if lc.Metadata == nil {
			lc.Metadata = make(map[string]string, len(t.Metadata))
		}
		for k, v := range t.Metadata {
			if v == "" {
				delete(lc.Metadata, k)
				continue
			}
			lc.Metadata[k] = v
		}
	}
	return nil
}

// Config for storage backend
type Config struct {
	Type string // "memory", "filesystem", "postgres", "sqlite"

	// Filesystem config
	FilesystemRoot string

	// SQL config
	PostgresURL         string
	PostgresReplicaURLs string // Comma-separated replica URLs for reads
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	SQLitePath          string

	// S3 config, enables the content store when S3Bucket is set
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
	L1CacheSize  int // Entries
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		FilesystemRoot:   "/tmp/lineage",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		SQLitePath:       "lineage.db",
		S3Region:         "us-east-1",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     false,
		CacheTTL: map[string]time.Duration{
			"schema":    24 * time.Hour,
			"lifecycle": 1 * time.Minute,
			"versions":  5 * time.Minute,
		},
		L1CacheSize: 1024,
	}
}
