package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_LockUnlock(t *testing.T) {
	m := NewKeyedMutex(nil)
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "ns:user:1.0.0", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	_, err = m.Lock(ctx, "ns:user:1.0.0", 20*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)

	other, err := m.Lock(ctx, "ns:user:1.1.0", 20*time.Millisecond)
	require.NoError(t, err, "different keys must not block each other")
	require.NoError(t, other())

	require.NoError(t, unlock())
	require.NoError(t, unlock(), "unlock is idempotent")
	assert.Equal(t, 0, m.Len())

	again, err := m.Lock(ctx, "ns:user:1.0.0", 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, again())
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex(nil)
	unlock, err := m.Lock(context.Background(), "k", 0)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = m.Lock(ctx, "k", 0)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestKeyedMutex_WaiterAcquiresAfterRelease(t *testing.T) {
	m := NewKeyedMutex(nil)
	unlock, err := m.Lock(context.Background(), "k", time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		next, err := m.Lock(context.Background(), "k", time.Second)
		if err == nil {
			close(acquired)
			_ = next()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, unlock())

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

// assertExclusive runs many goroutines through the same critical sections
// and fails if two ever overlap on one key.
func assertExclusive(t *testing.T, locker Locker, keys []string, workers, iterations int) {
	t.Helper()
	inside := make(map[string]*int32, len(keys))
	for _, k := range keys {
		inside[k] = new(int32)
	}

	var (
		wg         sync.WaitGroup
		overlaps   int32
		acquired   int32
		lockErrors int32
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				key := keys[(w+i)%len(keys)]
				unlock, err := locker.Lock(context.Background(), key, 10*time.Second)
				if err != nil {
					atomic.AddInt32(&lockErrors, 1)
					continue
				}
				if atomic.AddInt32(inside[key], 1) != 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(time.Microsecond)
				atomic.AddInt32(inside[key], -1)
				atomic.AddInt32(&acquired, 1)
				_ = unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlaps), "critical sections overlapped")
	assert.Zero(t, atomic.LoadInt32(&lockErrors))
	assert.Equal(t, int32(workers*iterations), atomic.LoadInt32(&acquired))
}

func TestKeyedMutex_Stress(t *testing.T) {
	m := NewKeyedMutex(nil)
	keys := make([]string, 4)
	for i := range keys {
		keys[i] = fmt.Sprintf("ns:subject:%d", i)
	}
	assertExclusive(t, m, keys, 32, 50)
	assert.Equal(t, 0, m.Len(), "entries are reclaimed once unused")
}
