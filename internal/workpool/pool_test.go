package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool(t *testing.T) {
	t.Parallel()

	t.Run("runs every submitted task", func(t *testing.T) {
		t.Parallel()

		p := New(context.Background(), WithSize(4))
		var n atomic.Int64
		for i := 0; i < 100; i++ {
			p.Submit(func(context.Context) error {
				n.Add(1)
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n.Load() != 100 {
			t.Errorf("expected 100 tasks, got %d", n.Load())
		}
	})

	t.Run("respects worker count", func(t *testing.T) {
		t.Parallel()

		p := New(context.Background(), WithSize(2))
		var running, peak atomic.Int64
		for i := 0; i < 10; i++ {
			p.Submit(func(context.Context) error {
				cur := running.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}
		_ = p.Wait()
		if peak.Load() > 2 {
			t.Errorf("expected at most 2 concurrent tasks, got %d", peak.Load())
		}
	})

	t.Run("tasks may submit follow-up work when all workers are busy", func(t *testing.T) {
		t.Parallel()

		p := New(context.Background(), WithSize(1))
		var followed atomic.Bool
		p.Submit(func(context.Context) error {
			p.Submit(func(context.Context) error {
				followed.Store(true)
				return nil
			})
			return nil
		})
		if err := p.Wait(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !followed.Load() {
			t.Error("expected follow-up task to run")
		}
	})

	t.Run("non-fatal errors go to the handler", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		var got []error
		p := New(context.Background(), WithSize(2), WithErrorHandler(func(err error) {
			mu.Lock()
			got = append(got, err)
			mu.Unlock()
		}))
		boom := errors.New("boom")
		p.Submit(func(context.Context) error { return boom })
		p.Submit(func(context.Context) error { return nil })
		if err := p.Wait(); err != nil {
			t.Fatalf("expected nil from Wait, got %v", err)
		}
		if len(got) != 1 || !errors.Is(got[0], boom) {
			t.Errorf("expected one boom error, got %v", got)
		}
	})

	t.Run("fatal error cancels the pool", func(t *testing.T) {
		t.Parallel()

		fatal := errors.New("fatal")
		p := New(context.Background(), WithSize(2), WithFatal(func(err error) bool {
			return errors.Is(err, fatal)
		}))
		p.Submit(func(context.Context) error { return fatal })
		<-p.Context().Done()
		if p.Submit(func(context.Context) error { return nil }) {
			t.Error("expected submit to fail after cancellation")
		}
		if err := p.Wait(); !errors.Is(err, fatal) {
			t.Errorf("expected fatal error, got %v", err)
		}
	})
}

func TestCounter(t *testing.T) {
	t.Parallel()

	t.Run("counts in-flight tasks", func(t *testing.T) {
		t.Parallel()

		p := New(context.Background(), WithSize(4))
		c := NewCounter(p)
		release := make(chan struct{})
		for i := 0; i < 3; i++ {
			c.Run(func(context.Context) error {
				<-release
				return nil
			})
		}
		if got := c.Count(); got != 3 {
			t.Errorf("expected 3 in flight, got %d", got)
		}
		close(release)
		_ = p.Wait()
		if got := c.Count(); got != 0 {
			t.Errorf("expected 0 in flight, got %d", got)
		}
	})

	t.Run("wait returns on change", func(t *testing.T) {
		t.Parallel()

		p := New(context.Background(), WithSize(1))
		defer p.Wait()
		c := NewCounter(p)
		ch := c.Changed()
		c.Run(func(context.Context) error { return nil })
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("expected change notification")
		}
		if !c.Wait(context.Background(), time.Second) && c.Count() != 0 {
			t.Error("expected completion to be observed")
		}
	})

	t.Run("wait times out without change", func(t *testing.T) {
		t.Parallel()

		p := New(context.Background(), WithSize(1))
		defer p.Wait()
		c := NewCounter(p)
		start := time.Now()
		if c.Wait(context.Background(), 20*time.Millisecond) {
			t.Error("expected timeout")
		}
		if time.Since(start) < 20*time.Millisecond {
			t.Error("returned before timeout")
		}
	})

	t.Run("closed pool does not count", func(t *testing.T) {
		t.Parallel()

		p := New(context.Background(), WithSize(1))
		_ = p.Wait()
		c := NewCounter(p)
		if c.Run(func(context.Context) error { return nil }) {
			t.Error("expected run on closed pool to fail")
		}
		if c.Count() != 0 {
			t.Errorf("expected 0, got %d", c.Count())
		}
	})
}
