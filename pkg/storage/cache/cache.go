// Package cache wraps a storage.Store with a two level read-through cache:
// an in-process LRU for schema documents and Redis shared between replicas.
// Writes go to the wrapped store first; cache entries they affect are
// dropped afterwards. Cache failures are logged and never fail a request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
	"github.com/platinummonkey/lineage/pkg/storage"
)

const (
	DefaultKeyPrefix    = "lineage:cache:"
	DefaultSchemaTTL    = 24 * time.Hour
	DefaultLifecycleTTL = 1 * time.Minute
	DefaultVersionsTTL  = 5 * time.Minute
	DefaultLocalSize    = 1024
	DefaultLocalTTL     = 30 * time.Second
)

// Config tunes the cache layers. Zero values take the defaults.
type Config struct {
	KeyPrefix    string
	SchemaTTL    time.Duration
	LifecycleTTL time.Duration
	VersionsTTL  time.Duration
	// LocalSize is the number of schemas kept in process; negative disables
	// the local layer.
	LocalSize int
	LocalTTL  time.Duration
}

// ConfigFromStorage maps the storage cache settings onto a Config
func ConfigFromStorage(cfg storage.Config) Config {
	return Config{
		SchemaTTL:    cfg.CacheTTL["schema"],
		LifecycleTTL: cfg.CacheTTL["lifecycle"],
		VersionsTTL:  cfg.CacheTTL["versions"],
		LocalSize:    cfg.L1CacheSize,
	}
}

func (c *Config) setDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.SchemaTTL <= 0 {
		c.SchemaTTL = DefaultSchemaTTL
	}
	if c.LifecycleTTL <= 0 {
		c.LifecycleTTL = DefaultLifecycleTTL
	}
	if c.VersionsTTL <= 0 {
		c.VersionsTTL = DefaultVersionsTTL
	}
	if c.LocalSize == 0 {
		c.LocalSize = DefaultLocalSize
	}
	if c.LocalTTL <= 0 {
		c.LocalTTL = DefaultLocalTTL
	}
}

// Store is a caching storage.Store decorator
type Store struct {
	next    storage.Store
	redis   redis.UniversalClient
	local   *expirable.LRU[string, *schema.Schema]
	config  Config
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics records cache hit ratios
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Store) { s.metrics = metrics }
}

// New wraps next with the cache layers
func New(next storage.Store, client redis.UniversalClient, config Config, opts ...Option) *Store {
	config.setDefaults()
	s := &Store{
		next:   next,
		redis:  client,
		config: config,
	}
	if config.LocalSize > 0 {
		s.local = expirable.NewLRU[string, *schema.Schema](config.LocalSize, nil, config.LocalTTL)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	return s
}

func (s *Store) schemaKey(ref schema.Ref) string {
	return s.config.KeyPrefix + "schema:" + ref.Key()
}

func (s *Store) lifecycleKey(ref schema.Ref) string {
	return s.config.KeyPrefix + "lifecycle:" + ref.Key()
}

func (s *Store) versionsKey(subject schema.Subject) string {
	return s.config.KeyPrefix + "versions:" + subject.Namespace + ":" + subject.Name
}

// lookup reads and decodes key. A miss or any Redis error reports false.
func (s *Store) lookup(ctx context.Context, cache, key string, dest interface{}) bool {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		}
		s.metrics.RecordCacheLookup(cache, false)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Dropping undecodable cache entry")
		s.invalidate(ctx, key)
		s.metrics.RecordCacheLookup(cache, false)
		return false
	}
	s.metrics.RecordCacheLookup(cache, true)
	return true
}

func (s *Store) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache encode failed")
		return
	}
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}

func (s *Store) invalidate(ctx context.Context, keys ...string) {
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		s.logger.WithError(err).WithField("keys", keys).Warn("Cache invalidation failed")
	}
}

// Put implements storage.Store.Put
func (s *Store) Put(ctx context.Context, sc *schema.Schema) error {
	if err := s.next.Put(ctx, sc); err != nil {
		return err
	}
	s.invalidate(ctx, s.versionsKey(sc.Ref.Subject()), s.schemaKey(sc.Ref))
	if s.local != nil {
		s.local.Remove(sc.Ref.Key())
	}
	return nil
}

// Get implements storage.Store.Get
func (s *Store) Get(ctx context.Context, ref schema.Ref) (*schema.Schema, error) {
	if s.local != nil {
		if sc, ok := s.local.Get(ref.Key()); ok {
			s.metrics.RecordCacheLookup("schema_local", true)
			return sc.Clone(), nil
		}
		s.metrics.RecordCacheLookup("schema_local", false)
	}

	var cached schema.Schema
	if s.lookup(ctx, "schema", s.schemaKey(ref), &cached) {
		s.remember(&cached)
		return &cached, nil
	}

	sc, err := s.next.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.store(ctx, s.schemaKey(ref), sc, s.config.SchemaTTL)
	s.remember(sc)
	return sc, nil
}

func (s *Store) remember(sc *schema.Schema) {
	if s.local != nil {
		s.local.Add(sc.Ref.Key(), sc.Clone())
	}
}

// GetByFingerprint implements storage.Store.GetByFingerprint
func (s *Store) GetByFingerprint(ctx context.Context, subject schema.Subject, fingerprint string) ([]*schema.Schema, error) {
	return s.next.GetByFingerprint(ctx, subject, fingerprint)
}

// ListVersions implements storage.Store.ListVersions
func (s *Store) ListVersions(ctx context.Context, subject schema.Subject) ([]schema.SemanticVersion, error) {
	key := s.versionsKey(subject)
	var cached []schema.SemanticVersion
	if s.lookup(ctx, "versions", key, &cached) {
		return cached, nil
	}

	versions, err := s.next.ListVersions(ctx, subject)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, versions, s.config.VersionsTTL)
	return versions, nil
}

// FindDependents implements storage.Store.FindDependents
func (s *Store) FindDependents(ctx context.Context, ref schema.Ref) ([]schema.Ref, error) {
	return s.next.FindDependents(ctx, ref)
}

// ReplaceDraft implements storage.Store.ReplaceDraft
func (s *Store) ReplaceDraft(ctx context.Context, sc *schema.Schema) error {
	if err := s.next.ReplaceDraft(ctx, sc); err != nil {
		return err
	}
	s.invalidate(ctx, s.schemaKey(sc.Ref))
	if s.local != nil {
		s.local.Remove(sc.Ref.Key())
	}
	return nil
}

// CreateLifecycle implements storage.Store.CreateLifecycle
func (s *Store) CreateLifecycle(ctx context.Context, lc *schema.Lifecycle) error {
	if err := s.next.CreateLifecycle(ctx, lc); err != nil {
		return err
	}
	s.invalidate(ctx, s.lifecycleKey(lc.Ref))
	return nil
}

// GetLifecycle implements storage.Store.GetLifecycle
func (s *Store) GetLifecycle(ctx context.Context, ref schema.Ref) (*schema.Lifecycle, error) {
	key := s.lifecycleKey(ref)
	var cached schema.Lifecycle
	if s.lookup(ctx, "lifecycle", key, &cached) {
		return &cached, nil
	}

	lc, err := s.next.GetLifecycle(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, lc, s.config.LifecycleTTL)
	return lc, nil
}

// CommitTransition implements storage.Store.CommitTransition. The cached
// lifecycle is dropped rather than overwritten so a concurrent reader cannot
// resurrect an older revision for longer than one read.
func (s *Store) CommitTransition(ctx context.Context, ref schema.Ref, expected schema.State, t storage.Transition) (*schema.Lifecycle, error) {
	lc, err := s.next.CommitTransition(ctx, ref, expected, t)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.invalidate(ctx, s.lifecycleKey(ref))
		}
		return nil, err
	}
	s.invalidate(ctx, s.lifecycleKey(ref))
	return lc, nil
}

// ListDue implements storage.Store.ListDue
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]schema.Ref, error) {
	return s.next.ListDue(ctx, now)
}

// InvalidatePatterns removes every Redis key below the prefix matching the
// glob patterns, e.g. "schema:acme:*".
func (s *Store) InvalidatePatterns(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		iter := s.redis.Scan(ctx, 0, s.config.KeyPrefix+pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
		}
	}
	if s.local != nil {
		s.local.Purge()
	}
	return nil
}

// Ping checks Redis connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
