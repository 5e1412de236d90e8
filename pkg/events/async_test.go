package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lineage/pkg/observability"
)

func TestAsyncSink_DeliversInBackground(t *testing.T) {
	rec := NewRecorder()
	sink := NewAsyncSink(context.Background(), "recorder", rec, DefaultAsyncConfig(), nil, nil)

	require.NoError(t, sink.Emit(context.Background(), testEvent(EventRegistered)))
	require.NoError(t, sink.Emit(context.Background(), testEvent(EventActivated)))

	require.NoError(t, sink.Close(time.Second))
	assert.ElementsMatch(t, []EventType{EventRegistered, EventActivated}, rec.Types())
}

func TestAsyncSink_EmitDoesNotBlockOnSlowSink(t *testing.T) {
	release := make(chan struct{})
	slow := SinkFunc(func(ctx context.Context, e DomainEvent) error {
		<-release
		return nil
	})
	sink := NewAsyncSink(context.Background(), "slow", slow, AsyncConfig{Workers: 1, QueueSize: 1, Timeout: time.Second}, nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = sink.Emit(context.Background(), testEvent(EventRegistered))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow sink")
	}
	close(release)
	require.NoError(t, sink.Close(time.Second))
}

func TestAsyncSink_IgnoresCallerCancellation(t *testing.T) {
	var (
		mu      sync.Mutex
		ctxErr  error
		reqID   string
		invoked = make(chan struct{})
	)
	sink := NewAsyncSink(context.Background(), "probe", SinkFunc(func(ctx context.Context, e DomainEvent) error {
		mu.Lock()
		ctxErr = ctx.Err()
		reqID = observability.GetRequestID(ctx)
		mu.Unlock()
		close(invoked)
		return nil
	}), DefaultAsyncConfig(), nil, nil)

	ctx, cancel := context.WithCancel(observability.WithRequestID(context.Background(), "req-7"))
	cancel()
	require.NoError(t, sink.Emit(ctx, testEvent(EventRegistered)))

	select {
	case <-invoked:
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
	require.NoError(t, sink.Close(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, ctxErr)
	assert.Equal(t, "req-7", reqID)
}

func TestAsyncSink_RecordsOutcomes(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	calls := 0
	sink := NewAsyncSink(context.Background(), "flaky", SinkFunc(func(ctx context.Context, e DomainEvent) error {
		calls++
		if calls == 2 {
			return errors.New("unavailable")
		}
		return nil
	}), AsyncConfig{Workers: 1, QueueSize: 4, Timeout: time.Second}, nil, metrics)

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Emit(context.Background(), testEvent(EventDeprecated)))
	}
	require.NoError(t, sink.Close(time.Second))

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.EventsEmittedTotal.WithLabelValues("schema.deprecated", "flaky", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EventsEmittedTotal.WithLabelValues("schema.deprecated", "flaky", "error")))
}

func TestAsyncSink_EmitAfterClose(t *testing.T) {
	rec := NewRecorder()
	sink := NewAsyncSink(context.Background(), "recorder", rec, DefaultAsyncConfig(), nil, nil)
	require.NoError(t, sink.Close(time.Second))

	assert.NoError(t, sink.Emit(context.Background(), testEvent(EventRegistered)), "dropped events are not errors")
	assert.Empty(t, rec.Events())
}
