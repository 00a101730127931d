package workpool

import (
	"context"
	"sync"
	"time"
)

// Counter tracks the number of in-flight tasks of one category running on
// a shared Pool. Every change of the count is broadcast to waiters.
type Counter struct {
	pool    *Pool
	mu      sync.Mutex
	n       int
	changed chan struct{}
}

// NewCounter returns a counter submitting to pool.
func NewCounter(pool *Pool) *Counter {
	return &Counter{pool: pool, changed: make(chan struct{})}
}

// Count returns the number of tasks submitted and not yet finished.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Changed returns a channel that is closed on the next change of the count.
// Take it before inspecting state to avoid missing a change.
func (c *Counter) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Run submits task to the pool and counts it until it returns.
// It reports false if the pool no longer accepts tasks.
func (c *Counter) Run(task Task) bool {
	c.add(1)
	ok := c.pool.Submit(func(ctx context.Context) error {
		defer c.add(-1)
		return task(ctx)
	})
	if !ok {
		c.add(-1)
	}
	return ok
}

// Wait blocks until the count changes, timeout elapses or ctx ends.
// It reports whether the count changed.
func (c *Counter) Wait(ctx context.Context, timeout time.Duration) bool {
	return WaitAny(ctx, timeout, c.Changed())
}

func (c *Counter) add(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += delta
	close(c.changed)
	c.changed = make(chan struct{})
}

// WaitAny blocks until one of the channels is closed, timeout elapses or
// ctx ends. It reports whether a channel was closed.
func WaitAny(ctx context.Context, timeout time.Duration, chans ...<-chan struct{}) bool {
	merged := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	var once sync.Once
	for _, ch := range chans {
		go func() {
			select {
			case <-ch:
				once.Do(func() { close(merged) })
			case <-stop:
			}
		}()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-merged:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
