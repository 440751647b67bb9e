package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Default pool sizing.
const (
	DefaultPoolSize  = 4
	DefaultQueueSize = 64
)

// Job is one unit of work executed by the pool.
type Job func(ctx context.Context) error

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Rejected  int64 `json:"rejected"`
}

// WorkerPool runs jobs on a fixed set of workers fed by a bounded queue.
// Submit never blocks: when the queue is full the job is rejected.
type WorkerPool struct {
	queue  chan Job
	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	metrics PoolMetrics
	logger  *slog.Logger
}

// NewWorkerPool starts size workers with a queue of queueSize pending jobs.
func NewWorkerPool(size, queueSize int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		queue:  make(chan Job, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues job. Returns QUEUE_FULL when the queue is at capacity and
// POOL_SHUTDOWN once Shutdown has been called.
func (p *WorkerPool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return schema.NewError(schema.ErrCodePoolShutdown, "worker pool is shut down")
	}
	select {
	case p.queue <- job:
		atomic.AddInt64(&p.metrics.Queued, 1)
		return nil
	default:
		atomic.AddInt64(&p.metrics.Rejected, 1)
		return schema.NewErrorf(schema.ErrCodeQueueFull, "run queue is full (%d pending)", cap(p.queue))
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		atomic.AddInt64(&p.metrics.Queued, -1)
		p.run(job)
	}
}

func (p *WorkerPool) run(job Job) {
	atomic.AddInt64(&p.metrics.Active, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.metrics.Panics, 1)
			atomic.AddInt64(&p.metrics.Failed, 1)
			p.logger.Error("worker recovered from panic", slog.String("panic", fmt.Sprint(r)))
		}
		atomic.AddInt64(&p.metrics.Active, -1)
	}()

	if err := job(p.ctx); err != nil {
		atomic.AddInt64(&p.metrics.Failed, 1)
		return
	}
	atomic.AddInt64(&p.metrics.Completed, 1)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. If ctx expires first, in-flight jobs are cancelled and ctx's
// error is returned once the workers exit.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Queued:    atomic.LoadInt64(&p.metrics.Queued),
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
		Rejected:  atomic.LoadInt64(&p.metrics.Rejected),
	}
}
