// Package lock serializes lifecycle transitions per key. KeyedMutex covers a
// single process; RedisLocker coordinates several.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a lock is not acquired within its timeout
	ErrTimeout = errors.New("lock: timed out waiting for lock")
	// ErrNotHeld is returned when releasing a lock that expired or was taken over
	ErrNotHeld = errors.New("lock: lock no longer held")
)

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func() error

// Locker acquires exclusive per-key locks
type Locker interface {
	// Lock blocks until key is held, ctx is done, or timeout elapses. A
	// non-positive timeout waits on ctx alone.
	Lock(ctx context.Context, key string, timeout time.Duration) (Unlock, error)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// waitError maps a done wait context to ErrTimeout when the lock's own
// timeout fired rather than the caller's context.
func waitError(parent, wait context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(wait.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return wait.Err()
}
