package events

import (
	"context"
	"time"

	"github.com/platinummonkey/lineage/pkg/async"
	"github.com/platinummonkey/lineage/pkg/observability"
)

// AsyncConfig sizes the delivery pool of an AsyncSink
type AsyncConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds one delivery to the wrapped sink
	Timeout time.Duration
}

// DefaultAsyncConfig returns the production defaults
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{Workers: 4, QueueSize: 1024, Timeout: 30 * time.Second}
}

// AsyncSink hands events to a worker pool so Emit returns immediately.
// Delivery failures and a full queue are logged and counted, never returned
// to the caller.
type AsyncSink struct {
	name    string
	next    Sink
	pool    *async.WorkerPool
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAsyncSink starts the delivery pool. name labels logs and metrics.
func NewAsyncSink(ctx context.Context, name string, next Sink, config AsyncConfig, logger *observability.Logger, metrics *observability.Metrics) *AsyncSink {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.WithField("sink", name)
	return &AsyncSink{
		name: name,
		next: next,
		pool: async.NewWorkerPool(ctx, async.PoolConfig{
			Workers:   config.Workers,
			QueueSize: config.QueueSize,
			Name:      "events-" + name,
			Timeout:   config.Timeout,
			Logger:    logger,
		}),
		logger:  logger,
		metrics: metrics,
	}
}

// Emit implements Sink. The request scoped values of ctx travel with the
// event but its cancellation does not.
func (s *AsyncSink) Emit(ctx context.Context, event DomainEvent) error {
	values := context.WithoutCancel(ctx)
	err := s.pool.TrySubmit(func(poolCtx context.Context) error {
		deliverCtx, cancel := mergeDeadline(values, poolCtx)
		defer cancel()

		err := s.next.Emit(deliverCtx, event)
		s.metrics.RecordEvent(string(event.Type), s.name, err)
		if err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": string(event.Type),
			}).Warn("Event delivery failed")
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordEvent(string(event.Type), s.name, err)
		s.logger.WithError(err).WithField("event_id", event.ID).Warn("Dropping event")
	}
	return nil
}

// Close stops accepting events and drains the queue within timeout
func (s *AsyncSink) Close(timeout time.Duration) error {
	return s.pool.Shutdown(timeout)
}

// mergeDeadline returns a context carrying the values of values that ends
// when bound does.
func mergeDeadline(values, bound context.Context) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := bound.Deadline(); ok {
		ctx, cancel = context.WithDeadline(values, deadline)
	} else {
		ctx, cancel = context.WithCancel(values)
	}
	stop := context.AfterFunc(bound, cancel)
	return ctx, func() { stop(); cancel() }
}
