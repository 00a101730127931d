// Package workpool runs tasks on a fixed number of goroutines and tracks
// categories of in-flight work with counters.
package workpool

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work run by the pool.
type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed set of workers.
//
// Submitted tasks wait in an unbounded FIFO, so Submit never blocks. A task
// running on a worker can therefore submit follow-up work without risking a
// deadlock when every worker is busy.
type Pool struct {
	ctx     context.Context
	g       *errgroup.Group
	size    int
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []Task
	active  int
	closed  bool
	onError func(error)
	fatal   func(error) bool
	logger  *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithSize sets the number of workers. Default is runtime.NumCPU().
func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithErrorHandler sets the function receiving non-fatal task errors.
// The default logs them at warn level.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Pool) {
		p.onError = fn
	}
}

// WithFatal sets the predicate that classifies a task error as fatal.
// A fatal error cancels the pool and is returned by Wait.
func WithFatal(fn func(error) bool) Option {
	return func(p *Pool) {
		p.fatal = fn
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New starts a pool bound to ctx.
func New(ctx context.Context, opts ...Option) *Pool {
	p := &Pool{
		size:  runtime.NumCPU(),
		fatal: func(error) bool { return false },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.onError == nil {
		p.onError = func(err error) {
			p.logger.Warn("task failed", "error", err)
		}
	}
	p.cond = sync.NewCond(&p.mu)

	g, gctx := errgroup.WithContext(ctx)
	p.g = g
	p.ctx = gctx
	context.AfterFunc(gctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})

	for i := 0; i < p.size; i++ {
		g.Go(p.worker)
	}
	return p
}

// Context returns the pool context. It is canceled when a task fails
// fatally or the parent context ends.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit queues task. Running tasks may keep submitting after Wait was
// called. It reports false when the pool has drained or was canceled, in
// which case task will never run.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil || p.drained() {
		return false
	}
	p.tasks = append(p.tasks, task)
	p.cond.Signal()
	return true
}

// Wait stops accepting tasks from outside the pool, runs everything queued
// and waits for the workers. It returns the first fatal error, or the
// context error when the parent context was canceled.
func (p *Pool) Wait() error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return p.g.Wait()
}

// drained reports whether Wait was called and no work is left.
// The caller holds p.mu.
func (p *Pool) drained() bool {
	return p.closed && p.active == 0 && len(p.tasks) == 0
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.tasks) == 0 && !p.drained() && p.ctx.Err() == nil {
		p.cond.Wait()
	}
	if p.ctx.Err() != nil || len(p.tasks) == 0 {
		return nil, false
	}
	task := p.tasks[0]
	p.tasks[0] = nil
	p.tasks = p.tasks[1:]
	p.active++
	return task, true
}

func (p *Pool) done() {
	p.mu.Lock()
	p.active--
	if p.drained() {
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

func (p *Pool) worker() error {
	for {
		task, ok := p.next()
		if !ok {
			return p.ctx.Err()
		}
		err := task(p.ctx)
		p.done()
		if err != nil {
			if p.fatal(err) {
				return err
			}
			p.onError(err)
		}
	}
}
