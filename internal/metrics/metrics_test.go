package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCrawl(t *testing.T) {
	t.Parallel()

	t.Run("records outcomes and bytes", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		c, err := NewCrawl(reg)
		if err != nil {
			t.Fatalf("failed to create metrics: %v", err)
		}

		c.Fetched(OutcomeSaved, 100)
		c.Fetched(OutcomeSaved, 50)
		c.Fetched(OutcomeNotModified, 0)
		c.Discovered()

		if got := testutil.ToFloat64(c.fetches.WithLabelValues(OutcomeSaved)); got != 2 {
			t.Errorf("expected 2 saved fetches, got %v", got)
		}
		if got := testutil.ToFloat64(c.bytes); got != 150 {
			t.Errorf("expected 150 bytes, got %v", got)
		}
		if got := testutil.ToFloat64(c.discovered); got != 1 {
			t.Errorf("expected 1 discovered URL, got %v", got)
		}
	})

	t.Run("in-flight gauge returns to zero", func(t *testing.T) {
		t.Parallel()

		c, err := NewCrawl(prometheus.NewRegistry())
		if err != nil {
			t.Fatalf("failed to create metrics: %v", err)
		}
		done := c.FetchStarted()
		if got := testutil.ToFloat64(c.inFlight); got != 1 {
			t.Errorf("expected 1 in flight, got %v", got)
		}
		done()
		if got := testutil.ToFloat64(c.inFlight); got != 0 {
			t.Errorf("expected 0 in flight, got %v", got)
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		if _, err := NewCrawl(reg); err != nil {
			t.Fatalf("failed to create metrics: %v", err)
		}
		if _, err := NewCrawl(reg); err == nil {
			t.Error("expected error registering twice")
		}
	})

	t.Run("nil metrics are a no-op", func(t *testing.T) {
		t.Parallel()

		var c *Crawl
		c.Fetched(OutcomeError, 10)
		c.Discovered()
		c.FetchStarted()()
	})
}
