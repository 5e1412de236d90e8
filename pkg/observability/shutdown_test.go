package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsAllHooks(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	var calls int32
	for i := 0; i < 3; i++ {
		sm.Register("hook", func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestShutdownManager_JoinsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	boom := errors.New("boom")
	sm.Register("store", func(ctx context.Context) error { return boom })
	sm.Register("events", func(ctx context.Context) error { return nil })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "store")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, 20*time.Millisecond)
	sm.Register("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, sm.WaitForShutdown(ctx))
}

func TestPanicError(t *testing.T) {
	assert.NoError(t, PanicError(nil))

	base := errors.New("bad")
	assert.ErrorIs(t, PanicError(base), base)
	assert.EqualError(t, PanicError("oops"), "panic: oops")
}

func TestRecoverPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverPanic(NewNopLogger(), "test")
		panic("boom")
	})
}
