package lock

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/lineage/pkg/observability"
)

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker with one mutex per key. Entries are
// removed once no goroutine holds or waits for them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
	metrics *observability.Metrics
}

// NewKeyedMutex creates an empty keyed mutex. metrics may be nil.
func NewKeyedMutex(metrics *observability.Metrics) *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*keyedEntry),
		metrics: metrics,
	}
}

func (m *KeyedMutex) acquireEntry(key string) *keyedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *KeyedMutex) releaseEntry(key string, e *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Lock implements Locker
func (m *KeyedMutex) Lock(ctx context.Context, key string, timeout time.Duration) (Unlock, error) {
	start := time.Now()
	e := m.acquireEntry(key)

	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	select {
	case e.sem <- struct{}{}:
	case <-waitCtx.Done():
		m.releaseEntry(key, e)
		return nil, waitError(ctx, waitCtx)
	}
	m.metrics.ObserveLockWait("memory", time.Since(start))

	var once sync.Once
	return func() error {
		once.Do(func() {
			<-e.sem
			m.releaseEntry(key, e)
		})
		return nil
	}, nil
}

// Len returns the number of keys currently held or awaited
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
