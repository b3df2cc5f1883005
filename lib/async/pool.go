// Package async provides bounded worker pool utilities.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/observability"
)

// Task represents a unit of work executed by the pool workers.
type Task func(context.Context) error

// Pool is a bounded worker pool enforcing backpressure when saturated. A
// single-worker pool processes tasks in submission order.
type Pool struct {
	// acceptCtx gates Submit; runCtx keeps workers alive. Splitting the two
	// lets Shutdown stop intake while queued tasks still execute.
	acceptCtx    context.Context
	acceptCancel context.CancelFunc
	runCtx       context.Context
	runCancel    context.CancelFunc

	jobs chan job
	wg   sync.WaitGroup
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	p := new(Pool)
	p.acceptCtx, p.acceptCancel = context.WithCancel(context.Background())
	p.runCtx, p.runCancel = context.WithCancel(context.Background())
	p.jobs = make(chan job, queue)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the task, failing immediately when the queue is full or
// the pool is closed. It never blocks the caller.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.acceptCtx.Err() != nil {
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.wg.Add(1)
	select {
	case <-p.acceptCtx.Done():
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Close stops intake and cancels workers without waiting; queued tasks are
// dropped. The jobs channel is never closed so a racing Submit can only
// fail, not panic.
func (p *Pool) Close() {
	p.acceptCancel()
	p.runCancel()
}

// Shutdown stops intake, lets queued tasks finish, and then stops the
// workers. It returns early when the context expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.acceptCancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		p.runCancel()
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		p.runCancel()
		return nil
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.runCtx.Done():
			p.drain()
			return
		case next := <-p.jobs:
			p.run(next)
		}
	}
}

func (p *Pool) run(next job) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("async task panicked", observability.F("panic", r))
		}
	}()
	ctx := next.ctx
	if ctx == nil {
		ctx = p.runCtx
	}
	if err := next.fn(ctx); err != nil {
		observability.Log().Debug("async task failed", observability.F("error", err))
	}
}

// drain releases waiters for tasks that will never run after cancellation.
func (p *Pool) drain() {
	for {
		select {
		case <-p.jobs:
			p.wg.Done()
		default:
			return
		}
	}
}
