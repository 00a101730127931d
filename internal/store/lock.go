package store

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxReaders is the weight of a writer. A reader takes one unit.
const maxReaders = 1 << 20

// locker is the index locking discipline. Both methods return the release
// function on success.
type locker interface {
	rlock(ctx context.Context, op string) (func(), error)
	lock(ctx context.Context, op string) (func(), error)
}

// timedLock is a reader/writer lock whose acquisition gives up after a
// fixed timeout. semaphore.Weighted serves waiters in FIFO order, so a
// waiting writer holds back later readers.
type timedLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newTimedLock(timeout time.Duration) *timedLock {
	return &timedLock{
		sem:     semaphore.NewWeighted(maxReaders),
		timeout: timeout,
	}
}

func (l *timedLock) rlock(ctx context.Context, op string) (func(), error) {
	return l.acquire(ctx, 1, op)
}

func (l *timedLock) lock(ctx context.Context, op string) (func(), error) {
	return l.acquire(ctx, maxReaders, op)
}

func (l *timedLock) acquire(ctx context.Context, n int64, op string) (func(), error) {
	tctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(tctx, n); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConsistencyError{Op: op, Err: ErrLockTimeout}
	}
	return func() { l.sem.Release(n) }, nil
}

// noLock is used by read-only stores, where nothing can change underneath.
type noLock struct{}

func (noLock) rlock(context.Context, string) (func(), error) { return func() {}, nil }

func (noLock) lock(context.Context, string) (func(), error) { return func() {}, nil }
