package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/lineage/pkg/observability"
)

const (
	DefaultRedisLockTTL   = 30 * time.Second
	DefaultRedisRetry     = 25 * time.Millisecond
	DefaultRedisKeyPrefix = "lineage:lock:"
	releaseTimeout        = 5 * time.Second
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisConfig configures a RedisLocker
type RedisConfig struct {
	// TTL bounds how long a crashed holder can block others
	TTL           time.Duration
	RetryInterval time.Duration
	KeyPrefix     string
}

// RedisLocker is a Locker backed by SET NX PX with a random token per
// acquisition and a compare-and-delete release.
type RedisLocker struct {
	client  redis.UniversalClient
	config  RedisConfig
	metrics *observability.Metrics
}

// NewRedisLocker creates a Redis-backed locker. Zero config fields take
// their defaults.
func NewRedisLocker(client redis.UniversalClient, config RedisConfig, metrics *observability.Metrics) *RedisLocker {
	if config.TTL <= 0 {
		config.TTL = DefaultRedisLockTTL
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRedisRetry
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisLocker{client: client, config: config, metrics: metrics}
}

// Lock implements Locker
func (l *RedisLocker) Lock(ctx context.Context, key string, timeout time.Duration) (Unlock, error) {
	start := time.Now()
	redisKey := l.config.KeyPrefix + key
	token := uuid.NewString()

	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(l.config.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, waitError(ctx, waitCtx)
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return nil, waitError(ctx, waitCtx)
		}
	}
	l.metrics.ObserveLockWait("redis", time.Since(start))

	var (
		once       sync.Once
		releaseErr error
	)
	return func() error {
		once.Do(func() {
			releaseErr = l.release(redisKey, token)
		})
		return releaseErr
	}, nil
}

func (l *RedisLocker) release(redisKey, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	deleted, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", redisKey, err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}
