package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := setupRedis(t)
	locker := NewRedisLocker(client, RedisConfig{RetryInterval: 5 * time.Millisecond}, nil)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "ns:user:*", time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists(DefaultRedisKeyPrefix+"ns:user:*"))
	assert.InDelta(t, DefaultRedisLockTTL.Seconds(), mr.TTL(DefaultRedisKeyPrefix+"ns:user:*").Seconds(), 1)

	_, err = locker.Lock(ctx, "ns:user:*", 30*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)

	require.NoError(t, unlock())
	assert.False(t, mr.Exists(DefaultRedisKeyPrefix+"ns:user:*"))
	require.NoError(t, unlock())

	again, err := locker.Lock(ctx, "ns:user:*", 30*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, again())
}

func TestRedisLocker_ExpiredLockIsNotStolenBack(t *testing.T) {
	mr, client := setupRedis(t)
	locker := NewRedisLocker(client, RedisConfig{TTL: time.Second, RetryInterval: 5 * time.Millisecond, KeyPrefix: "test:"}, nil)
	ctx := context.Background()

	stale, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	assert.True(t, errors.Is(stale(), ErrNotHeld))
	assert.True(t, mr.Exists("test:k"), "stale release must not delete the new holder's key")
	require.NoError(t, fresh())
}

func TestRedisLocker_ConnectionError(t *testing.T) {
	mr, client := setupRedis(t)
	locker := NewRedisLocker(client, RedisConfig{}, nil)
	mr.Close()

	_, err := locker.Lock(context.Background(), "k", 50*time.Millisecond)
	require.Error(t, err)
}

func TestRedisLocker_Stress(t *testing.T) {
	_, client := setupRedis(t)
	// two lockers share the server like two coordinator processes would
	a := NewRedisLocker(client, RedisConfig{RetryInterval: time.Millisecond}, nil)
	b := NewRedisLocker(client, RedisConfig{RetryInterval: time.Millisecond}, nil)

	assertExclusive(t, multiLocker{a, b}, []string{"ns:a:*", "ns:b:*"}, 8, 10)
}

// multiLocker alternates between lockers per call
type multiLocker []Locker

func (m multiLocker) Lock(ctx context.Context, key string, timeout time.Duration) (Unlock, error) {
	return m[time.Now().UnixNano()%int64(len(m))].Lock(ctx, key, timeout)
}
