package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/lineage/pkg/observability"
)

var (
	// ErrPoolClosed is returned when submitting to a pool after Shutdown
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrQueueFull is returned by TrySubmit when every queue slot is taken
	ErrQueueFull = errors.New("worker pool queue full")
)

// SafeGo executes fn in a goroutine with its own timeout, panic recovery and
// error logging. The task context is detached from parentCtx cancellation
// so work started by a request outlives the request, but it keeps the values
// (request ID, logger, trace).
//
// Example:
//
//	SafeGo(ctx, logger, 5*time.Second, "emit registered", func(ctx context.Context) error {
//	    return sink.Emit(ctx, event)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("Recovered panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// PoolConfig configures a WorkerPool
type PoolConfig struct {
	Workers   int
	QueueSize int
	Name      string
	// Timeout bounds each task
	Timeout time.Duration
	Logger  *observability.Logger
}

// WorkerPool runs submitted tasks on a fixed number of workers. Task errors
// are published on Errors() when there is room and logged otherwise.
type WorkerPool struct {
	config PoolConfig
	logger *observability.Logger
	workCh chan func(context.Context) error
	doneCh chan struct{}
	errCh  chan error
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts a pool bound to ctx.
//
// Example:
//
//	pool := NewWorkerPool(ctx, PoolConfig{Workers: 4, Name: "event delivery", Timeout: 10 * time.Second})
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return sink.Emit(ctx, event)
//	})
func NewWorkerPool(ctx context.Context, config PoolConfig) *WorkerPool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers * 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	pool := &WorkerPool{
		config: config,
		logger: logger.WithField("pool", config.Name),
		workCh: make(chan func(context.Context) error, config.QueueSize),
		doneCh: make(chan struct{}),
		errCh:  make(chan error, config.Workers*10),
		ctx:    ctx,
		cancel: cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < config.Workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn, blocking while the queue is full
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues fn without blocking
func (p *WorkerPool) TrySubmit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits up to timeout for queued tasks to
// drain. Running tasks are cancelled when the timeout expires.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	if !p.stop() {
		<-p.doneCh
		return nil
	}

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
}

// stop closes the queue; it reports false when already stopped
func (p *WorkerPool) stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	close(p.workCh)
	return true
}

// Errors returns a channel that receives task errors
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.Timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.WithFields(map[string]interface{}{
					"worker": id,
					"panic":  fmt.Sprint(r),
					"stack":  string(debug.Stack()),
				}).Error("Recovered panic in worker")
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn(ctx)
	}()
	if err == nil {
		return
	}

	select {
	case p.errCh <- err:
	default:
		p.logger.WithError(err).Warn("Error channel full, dropping error")
	}
}

// Batch runs fn over items on a temporary pool and returns every error.
//
// Example:
//
//	errs := Batch(ctx, refs, 4, "sunset sweep", time.Minute, func(ctx context.Context, ref schema.Ref) error {
//	    _, err := coordinator.Sunset(ctx, ref)
//	    return err
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	var (
		mu   sync.Mutex
		errs []error
	)
	pool := NewWorkerPool(ctx, PoolConfig{Workers: workers, Name: taskName, Timeout: timeout})
	for _, item := range items {
		item := item
		if err := ctx.Err(); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
		if err := pool.Submit(func(ctx context.Context) error {
			if err := fn(ctx, item); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		}); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
	}

	// Wait for the queue to drain; the per task timeout bounds this.
	pool.stop()
	<-pool.doneCh
	pool.cancel()

	mu.Lock()
	defer mu.Unlock()
	return errs
}
