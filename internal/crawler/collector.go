package crawler

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/metrics"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/queue"
	"github.com/nao1215/sitemirror/internal/rewriter"
	"github.com/nao1215/sitemirror/internal/store"
	"github.com/nao1215/sitemirror/internal/uri"
	"github.com/nao1215/sitemirror/internal/workpool"
	"golang.org/x/time/rate"
)

// pollInterval bounds how long the drain loop sleeps before re-checking
// the queue and counters.
const pollInterval = time.Second

// Collector crawls one site into a store. A Collector is one crawl
// instance: paths it has claimed are not fetched again by it, even when
// queued twice.
type Collector struct {
	id        uint64
	crawlTime time.Time
	start     *url.URL
	base      *url.URL
	site      *config.Site
	store     *store.Store
	queue     *queue.TextQueue
	excluded  *uri.ExclusionList
	norm      uri.Normalizer
	types     *rewriter.DocTypes
	fetcher   Fetcher
	limiter   *rate.Limiter
	metrics   *metrics.Crawl
	logger    *slog.Logger

	maxCrawlAge    time.Duration
	workers        int
	maxInFlight    int
	userAgent      string
	respectRobots  bool
	addURLsFound   bool
	noDefaultPages bool

	modified atomic.Bool
}

// Option configures a Collector.
type Option func(*Collector)

// WithFetcher replaces the HTTP client.
func WithFetcher(f Fetcher) Option {
	return func(c *Collector) {
		c.fetcher = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithMetrics records crawl metrics.
func WithMetrics(m *metrics.Crawl) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// WithMaxCrawlAge sets how old a fetch must be before the path is fetched
// again. 0 refetches everything.
func WithMaxCrawlAge(d time.Duration) Option {
	return func(c *Collector) {
		c.maxCrawlAge = d
	}
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithMaxInFlight caps concurrent fetches.
func WithMaxInFlight(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxInFlight = n
		}
	}
}

// WithRate limits fetches to rps requests per second. 0 means unlimited.
func WithRate(rps float64) Option {
	return func(c *Collector) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithCrawlerUserAgent sets the user agent of the default client and the
// robots.txt agent name.
func WithCrawlerUserAgent(ua string) Option {
	return func(c *Collector) {
		c.userAgent = ua
	}
}

// WithRobots enables or disables robots.txt exclusions.
func WithRobots(on bool) Option {
	return func(c *Collector) {
		c.respectRobots = on
	}
}

// WithAddURLsFound controls whether links found in fetched documents are
// added to the crawl.
func WithAddURLsFound(on bool) Option {
	return func(c *Collector) {
		c.addURLsFound = on
	}
}

// WithNoDefaultPages skips the configured include paths.
func WithNoDefaultPages(on bool) Option {
	return func(c *Collector) {
		c.noDefaultPages = on
	}
}

// New returns a collector that starts crawling at start and stores into st.
// The work queue lives next to the store's index.
func New(start *url.URL, st *store.Store, site *config.Site, opts ...Option) (*Collector, error) {
	if !start.IsAbs() || !uri.IsWebScheme(start) {
		return nil, fmt.Errorf("%w: start URL must be absolute http(s): %s", ErrInvalidPath, start)
	}
	types, err := rewriter.NewDocTypes(site.DocTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to load document types: %w", err)
	}

	c := &Collector{
		id:            newInstanceID(),
		crawlTime:     time.Now().UTC(),
		start:         start,
		base:          &url.URL{Scheme: start.Scheme, Host: start.Host, Path: "/"},
		site:          site,
		store:         st,
		excluded:      uri.NewExclusionList(site.Exclude...),
		norm:          uri.Normalizer{Documents: site.DefaultDocuments},
		types:         types,
		limiter:       rate.NewLimiter(rate.Inf, 0),
		logger:        slog.Default(),
		maxCrawlAge:   config.DefaultMaxCrawlAge,
		workers:       runtime.NumCPU(),
		maxInFlight:   config.DefaultMaxInFlight,
		userAgent:     config.DefaultUserAgent,
		respectRobots: true,
		addURLsFound:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, p := range site.IgnorePatterns {
		c.excluded.AddPattern(p)
	}

	if c.fetcher == nil {
		client, err := NewHTTPClient(c.base,
			WithUserAgent(c.userAgent),
			WithTimeout(config.DefaultTimeout),
			WithMaxBodySize(config.DefaultMaxBodySize),
			WithHeaders(site.Headers),
			WithCookie(site.Cookie),
		)
		if err != nil {
			return nil, err
		}
		c.fetcher = client
	}

	q, err := queue.Open(filepath.Join(st.Dir(), queue.FileName))
	if err != nil {
		return nil, err
	}
	c.queue = q
	return c, nil
}

// newInstanceID folds a random UUID into 64 bits.
func newInstanceID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8]) ^ binary.BigEndian.Uint64(id[8:])
}

// Close closes the work queue. The store is owned by the caller.
func (c *Collector) Close() error {
	return c.queue.Close()
}

// Base returns the site root URL.
func (c *Collector) Base() *url.URL { return c.base }

// Modified reports whether any crawl of this collector changed the store.
func (c *Collector) Modified() bool { return c.modified.Load() }

// AddURI adds u to the store and the queue when it belongs to the site, is
// not excluded and is not known yet. It reports whether u was added.
func (c *Collector) AddURI(ctx context.Context, u *url.URL) (bool, error) {
	if !uri.SameHost(c.base, u) {
		return false, nil
	}
	path := c.norm.PathAndQuery(u)
	if c.excluded.IsExcluded(path) {
		return false, nil
	}
	added, err := c.store.Add(ctx, path, model.NewRecord(path, c.crawlTime))
	if err != nil || !added {
		return false, err
	}
	c.metrics.Discovered()
	if err := c.queue.Enqueue(path); err != nil {
		return true, fmt.Errorf("failed to enqueue %s: %w", path, err)
	}
	return true, nil
}

// ShouldFetch claims path for this crawl instance when it is not excluded,
// never crawled or older than the crawl age, and not claimed already. It
// returns the ETag to send with the request.
func (c *Collector) ShouldFetch(ctx context.Context, path string) (string, bool, error) {
	if c.excluded.IsExcluded(path) {
		return "", false, nil
	}
	var (
		fetch bool
		etag  string
	)
	_, err := c.store.Update(ctx, path, func(rec model.ContentRecord) model.ContentRecord {
		fetch, etag = false, ""
		stale := rec.LastCrawled.IsZero() || c.crawlTime.Sub(rec.LastCrawled) >= c.maxCrawlAge
		if !stale || rec.CrawlingInstance == c.id {
			return rec
		}
		fetch, etag = true, rec.ETag
		rec.CrawlingInstance = c.id
		return rec
	})
	if err != nil {
		return "", false, err
	}
	return etag, fetch, nil
}

// CrawlSite seeds the queue with the start URL and the include paths, then
// fetches until no work is left. It reports whether the store changed.
func (c *Collector) CrawlSite(ctx context.Context) (bool, error) {
	if c.respectRobots {
		c.loadRobots(ctx)
	}

	seeds := []*url.URL{c.start}
	if !c.noDefaultPages {
		for _, p := range c.site.Include {
			if u := uri.Resolve(c.base, p); u != nil {
				seeds = append(seeds, u)
			}
		}
	}
	for _, u := range seeds {
		if _, err := c.AddURI(ctx, u); err != nil {
			return c.Modified(), err
		}
	}

	cr := c.newCrawl(ctx)
	err := c.drain(ctx, cr)
	return c.Modified(), err
}

// CrawlPage fetches path once, regardless of its age, and saves the
// outcome. Links in the page are not followed.
func (c *Collector) CrawlPage(ctx context.Context, path string) error {
	u := uri.Resolve(c.base, path)
	if u == nil || !uri.SameHost(c.base, u) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	path = c.norm.PathAndQuery(u)
	if _, err := c.store.Add(ctx, path, model.NewRecord(path, c.crawlTime)); err != nil {
		return err
	}

	cr := &crawl{}
	err := c.fetch(ctx, cr, path, "", func(task workpool.Task) bool {
		cr.fail(task(ctx))
		return true
	})
	if err != nil {
		return err
	}
	return cr.failure()
}

// loadRobots applies the site's robots.txt. Failures only disable it.
func (c *Collector) loadRobots(ctx context.Context) {
	resp, err := c.fetcher.Get(ctx, "/robots.txt", nil)
	if err != nil {
		c.logger.Warn("failed to fetch robots.txt", "error", err)
		return
	}
	agent, _, _ := strings.Cut(c.userAgent, "/")
	if err := c.excluded.LoadRobots(resp.StatusCode, resp.Body, agent); err != nil {
		c.logger.Warn("failed to parse robots.txt", "error", err)
	}
}

// crawl is the state of one drain: the link rewriter and the first fatal
// error raised by a visit hook.
type crawl struct {
	rw  *rewriter.Rewriter
	mu  sync.Mutex
	err error
}

func (cr *crawl) fail(err error) {
	if err == nil {
		return
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.err == nil {
		cr.err = err
	}
}

func (cr *crawl) failure() error {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.err
}

// newCrawl builds the rewriter whose visit hook feeds discovered links back
// into the crawl.
func (c *Collector) newCrawl(ctx context.Context) *crawl {
	cr := &crawl{}
	if !c.addURLsFound {
		return cr
	}
	cr.rw = rewriter.New(c.base, c.types, rewriter.WithLogger(c.logger))
	cr.rw.OnVisit(func(u *url.URL) {
		if _, err := c.AddURI(ctx, u); err != nil {
			c.logger.Warn("failed to add link", "uri", u.String(), "error", err)
			if store.IsFatal(err) {
				cr.fail(err)
			}
		}
	})
	return cr
}

// drain runs the queue until it is empty and no fetch or save is running.
func (c *Collector) drain(ctx context.Context, cr *crawl) error {
	pool := workpool.New(ctx,
		workpool.WithSize(c.workers),
		workpool.WithFatal(store.IsFatal),
		workpool.WithLogger(c.logger),
	)
	fetches := workpool.NewCounter(pool)
	saves := workpool.NewCounter(pool)
	pctx := pool.Context()

	var loopErr error
	for pctx.Err() == nil {
		fetchChanged := fetches.Changed()
		if fetches.Count() >= c.maxInFlight {
			workpool.WaitAny(pctx, pollInterval, fetchChanged)
			continue
		}

		saveChanged := saves.Changed()
		idle := fetches.Count() == 0 && saves.Count() == 0

		path, ok, err := c.queue.Dequeue()
		if err != nil {
			loopErr = fmt.Errorf("failed to read work queue: %w", err)
			break
		}
		if !ok {
			if idle {
				break
			}
			workpool.WaitAny(pctx, pollInterval, fetchChanged, saveChanged)
			continue
		}

		etag, fetch, err := c.ShouldFetch(pctx, path)
		if err != nil {
			if store.IsFatal(err) {
				loopErr = err
				break
			}
			c.logger.Warn("failed to claim path", "path", path, "error", err)
			continue
		}
		if fetch {
			fetches.Run(func(ctx context.Context) error {
				return c.fetch(ctx, cr, path, etag, saves.Run)
			})
		}
	}

	if err := pool.Wait(); err != nil {
		return err
	}
	if loopErr != nil {
		return loopErr
	}
	return ctx.Err()
}

// fetch requests path and hands the outcome to a save task.
func (c *Collector) fetch(ctx context.Context, cr *crawl, path, etag string, submit func(workpool.Task) bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	header := make(http.Header)
	if etag != "" {
		header.Set("If-None-Match", etag)
	}

	done := c.metrics.FetchStarted()
	resp, err := c.fetcher.Get(ctx, path, header)
	done()
	if err != nil {
		c.logger.Warn("fetch failed", "path", path, "error", err)
		c.metrics.Fetched(metrics.OutcomeTransportError, 0)
		return nil
	}
	c.logger.Debug("fetched", "path", path, "status", resp.StatusCode, "bytes", len(resp.Body))

	var save workpool.Task
	switch {
	case resp.StatusCode == http.StatusOK:
		save = func(ctx context.Context) error { return c.saveContent(ctx, cr, path, resp) }
	case model.IsRedirectStatus(resp.StatusCode) && resp.Location != nil:
		save = func(ctx context.Context) error { return c.saveRedirect(ctx, path, resp) }
	case resp.StatusCode == http.StatusNotModified:
		save = func(ctx context.Context) error { return c.saveNotModified(ctx, path) }
	default:
		save = func(ctx context.Context) error { return c.saveHTTPError(ctx, path, resp.StatusCode) }
	}
	submit(save)
	return nil
}
