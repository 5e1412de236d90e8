// Package async provides safe concurrent execution primitives for background
// work such as event delivery and sunset sweeps.
//
// SafeGo runs one task in a goroutine with panic recovery, a timeout and
// error logging:
//
//	async.SafeGo(ctx, logger, 5*time.Second, "emit event", func(ctx context.Context) error {
//		return sink.Emit(ctx, event)
//	})
//
// WorkerPool is a fixed set of workers fed from a bounded queue. Submit blocks
// while the queue is full; TrySubmit fails fast with ErrQueueFull so callers
// on a latency sensitive path can drop or log instead:
//
//	pool := async.NewWorkerPool(ctx, async.PoolConfig{Workers: 4, QueueSize: 256, Name: "events"})
//	defer pool.Shutdown(5 * time.Second)
//
//	if err := pool.TrySubmit(task); err != nil {
//		logger.WithError(err).Warn("dropping event")
//	}
//
// Batch processes a slice concurrently and collects every error.
package async
