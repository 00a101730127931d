// Package metrics exposes crawl counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes, used as the "outcome" label value.
const (
	OutcomeSaved          = "saved"
	OutcomeUnchanged      = "unchanged"
	OutcomeRedirect       = "redirect"
	OutcomeNotModified    = "not_modified"
	OutcomeError          = "error"
	OutcomeTransportError = "transport_error"
)

// Crawl holds the collectors of one crawl. A nil *Crawl records nothing,
// so callers never need to check whether metrics are enabled.
type Crawl struct {
	fetches    *prometheus.CounterVec
	bytes      prometheus.Counter
	discovered prometheus.Counter
	inFlight   prometheus.Gauge
}

// NewCrawl creates the crawl collectors and registers them on reg.
func NewCrawl(reg prometheus.Registerer) (*Crawl, error) {
	c := &Crawl{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitemirror",
			Name:      "fetches_total",
			Help:      "Number of completed fetches by outcome.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sitemirror",
			Name:      "fetched_bytes_total",
			Help:      "Total response body bytes downloaded.",
		}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sitemirror",
			Name:      "discovered_urls_total",
			Help:      "Number of new URLs added to the store.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sitemirror",
			Name:      "fetches_in_flight",
			Help:      "Number of HTTP fetches currently running.",
		}),
	}
	for _, col := range []prometheus.Collector{c.fetches, c.bytes, c.discovered, c.inFlight} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Fetched records one fetch outcome and the body size.
func (c *Crawl) Fetched(outcome string, size int) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(outcome).Inc()
	if size > 0 {
		c.bytes.Add(float64(size))
	}
}

// Discovered counts a URL added to the store.
func (c *Crawl) Discovered() {
	if c == nil {
		return
	}
	c.discovered.Inc()
}

// FetchStarted increments the in-flight gauge and returns the function that
// decrements it.
func (c *Crawl) FetchStarted() func() {
	if c == nil {
		return func() {}
	}
	c.inFlight.Inc()
	return c.inFlight.Dec
}
