package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/lineage/pkg/config"
	"github.com/platinummonkey/lineage/pkg/events"
	"github.com/platinummonkey/lineage/pkg/lifecycle"
	"github.com/platinummonkey/lineage/pkg/lock"
	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/storage"
	"github.com/platinummonkey/lineage/pkg/storage/blob"
	"github.com/platinummonkey/lineage/pkg/storage/cache"
	"github.com/platinummonkey/lineage/pkg/storage/sqlstore"
)

// closerStack closes resources in reverse order of acquisition
type closerStack struct {
	names []string
	fns   []observability.ShutdownFunc
}

func (c *closerStack) push(name string, fn observability.ShutdownFunc) {
	c.names = append(c.names, name)
	c.fns = append(c.fns, fn)
}

func (c *closerStack) closeAll(logger *observability.Logger) {
	ctx := context.Background()
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](ctx); err != nil {
			logger.WithError(err).WithField("resource", c.names[i]).Warn("Failed to close resource")
		}
	}
}

// openRedis connects when the cache or the lock needs Redis
func openRedis(cfg *config.Config, logger *observability.Logger) (*redis.Client, error) {
	if !cfg.Storage.CacheEnabled && cfg.Lock.Backend != "redis" {
		return nil, nil
	}
	client, err := cache.NewRedisClient(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("Connected to redis")
	return client, nil
}

// storeBackend is the opened persistence layer plus the handles the rest of
// the wiring needs from it.
type storeBackend struct {
	store     storage.Store
	consumers lifecycle.ConsumerRegistry
	db        *sql.DB
	content   *blob.S3Store
	close     observability.ShutdownFunc
}

func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *observability.Logger, metrics *observability.Metrics) (*storeBackend, error) {
	sc := cfg.Storage
	backend := &storeBackend{}

	switch sc.Type {
	case "memory":
		backend.store = storage.NewMemoryStore()
		logger.Warn("Using in-memory storage; data is lost on restart")

	case "filesystem":
		fs, err := storage.NewFileSystemStore(sc.FilesystemRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to open filesystem storage: %w", err)
		}
		backend.store = fs
		logger.WithField("root", sc.FilesystemRoot).Info("Filesystem storage initialized")

	case "postgres", "sqlite":
		opts := []sqlstore.Option{sqlstore.WithLogger(logger), sqlstore.WithMetrics(metrics)}
		if sc.S3Bucket != "" {
			content, err := blob.NewS3Store(ctx, sc)
			if err != nil {
				return nil, fmt.Errorf("failed to open content store: %w", err)
			}
			backend.content = content.WithMetrics(metrics)
			opts = append(opts, sqlstore.WithContentStore(backend.content))
			logger.WithField("bucket", sc.S3Bucket).Info("S3 content store initialized")
		}

		conn, err := connectionConfig(sc)
		if err != nil {
			return nil, err
		}
		store, err := sqlstore.Open(ctx, conn, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s storage: %w", sc.Type, err)
		}
		backend.store = store
		backend.consumers = store.Consumers()
		backend.db = store.DB()
		backend.close = func(context.Context) error { return store.Close() }

	default:
		return nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}

	if sc.CacheEnabled {
		if rdb == nil {
			return nil, errors.New("cache enabled without a redis client")
		}
		backend.store = cache.New(backend.store, rdb, cache.ConfigFromStorage(sc),
			cache.WithLogger(logger),
			cache.WithMetrics(metrics),
		)
		logger.Info("Storage cache enabled")
	}
	return backend, nil
}

func connectionConfig(sc storage.Config) (sqlstore.ConnectionConfig, error) {
	dialect, err := sqlstore.ParseDialect(sc.Type)
	if err != nil {
		return sqlstore.ConnectionConfig{}, err
	}
	conn := sqlstore.ConnectionConfig{
		Dialect:  dialect,
		MaxConns: sc.PostgresMaxConns,
		MinConns: sc.PostgresMinConns,
		Timeout:  sc.PostgresTimeout,
	}
	if dialect == sqlstore.DialectSQLite {
		conn.PrimaryURL = sc.SQLitePath
		return conn, nil
	}
	conn.PrimaryURL = sc.PostgresURL
	for _, replica := range strings.Split(sc.PostgresReplicaURLs, ",") {
		if replica = strings.TrimSpace(replica); replica != "" {
			conn.ReplicaURLs = append(conn.ReplicaURLs, replica)
		}
	}
	return conn, nil
}

func buildLocker(cfg config.LockConfig, rdb *redis.Client, metrics *observability.Metrics) lock.Locker {
	if cfg.Backend == "redis" && rdb != nil {
		return lock.NewRedisLocker(rdb, lock.RedisConfig{
			TTL:           cfg.TTL,
			RetryInterval: cfg.RetryInterval,
			KeyPrefix:     cfg.KeyPrefix,
		}, metrics)
	}
	return lock.NewKeyedMutex(metrics)
}

// sinkSet is the composed event sink and the function that drains it
type sinkSet struct {
	sink  events.Sink
	close observability.ShutdownFunc
}

// buildSink fans events out to every configured sink. Remote sinks are
// wrapped in their own AsyncSink so a slow broker never delays a lifecycle
// operation or the other sinks.
func buildSink(ctx context.Context, cfg config.EventsConfig, logger *observability.Logger, metrics *observability.Metrics) (*sinkSet, error) {
	var (
		sinks   []events.Sink
		drains  []func() error
		closers []func() error
	)
	background := func(name string, next events.Sink) {
		async := events.NewAsyncSink(ctx, name, next, cfg.Async, logger, metrics)
		sinks = append(sinks, async)
		drains = append(drains, func() error { return async.Close(cfg.Async.Timeout) })
	}

	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, events.NewLogSink(logger))
		case "webhook":
			if len(cfg.Webhooks) == 0 {
				logger.Warn("Webhook sink enabled without endpoints; skipping")
				continue
			}
			background(name, events.NewWebhookSink(cfg.Webhooks,
				events.WithRetry(cfg.WebhookRetry),
				events.WithWebhookLogger(logger),
			))
		case "kafka":
			kafka, err := events.NewKafkaSink(cfg.Kafka, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create kafka sink: %w", err)
			}
			closers = append(closers, kafka.Close)
			background(name, kafka)
		case "amqp":
			amqp, err := events.NewAMQPSink(cfg.AMQP, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create amqp sink: %w", err)
			}
			closers = append(closers, amqp.Close)
			background(name, amqp)
		default:
			return nil, fmt.Errorf("unknown event sink %q", name)
		}
		logger.WithField("sink", name).Info("Event sink enabled")
	}

	set := &sinkSet{sink: events.Discard}
	switch len(sinks) {
	case 0:
	case 1:
		set.sink = sinks[0]
	default:
		set.sink = events.NewMultiSink(sinks...)
	}
	// Queued events are drained before the producers are closed.
	set.close = func(context.Context) error {
		var errs []error
		for _, drain := range drains {
			errs = append(errs, drain())
		}
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return set, nil
}
