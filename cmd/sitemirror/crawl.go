package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/crawler"
	"github.com/nao1215/sitemirror/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <site-url>",
		Short: "Crawl a site into its store",
		Long: `Crawl fetches the site starting at the given URL and stores every
page, redirect and error below the store root. Links found in HTML, CSS and
other configured document types are followed as long as they stay on the
same host.

Records crawled less than --max-age ago are not fetched again. Older records
are revalidated with If-None-Match when an ETag is known. An interrupted crawl
resumes from its persisted queue on the next run.

Examples:
  # Crawl a whole site
  sitemirror crawl https://example.com/

  # Refresh one page without following its links
  sitemirror crawl example.com --page /news

  # Crawl politely and expose Prometheus metrics
  sitemirror crawl example.com --rate 2 --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCmd,
	}

	cmd.Flags().String("page", "", "Fetch only this path, without following links")
	cmd.Flags().Bool("no-links", false, "Do not queue URLs found in fetched documents")
	cmd.Flags().Bool("no-default-pages", false, "Do not seed the include paths of the site configuration")
	cmd.Flags().Duration("max-age", config.DefaultMaxCrawlAge, "Refetch records crawled longer ago than this")
	cmd.Flags().Float64("rate", 0, "Maximum requests per second (0 = unlimited)")
	cmd.Flags().Int("workers", 0, "Worker goroutines (default: number of CPUs)")
	cmd.Flags().Int("max-in-flight", config.DefaultMaxInFlight, "Maximum concurrent HTTP requests")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout, "Per-request HTTP timeout")
	cmd.Flags().String("user-agent", config.DefaultUserAgent, "User-Agent header")
	cmd.Flags().Int64("max-body-size", config.DefaultMaxBodySize, "Maximum response body size in bytes (0 = unlimited)")
	cmd.Flags().Bool("no-robots", false, "Ignore robots.txt")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the crawl")
	cmd.Flags().String("socks5", "", "Route requests through this SOCKS5 proxy (host:port), e.g. Tor on 127.0.0.1:9050")

	return cmd
}

// crawlConfig applies the crawl flags to the global configuration.
func crawlConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := globalConfig(cmd)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if cfg.MaxCrawlAge, err = flags.GetDuration("max-age"); err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond, err = flags.GetFloat64("rate"); err != nil {
		return nil, err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return nil, err
	}
	if workers != 0 {
		cfg.Workers = workers
	}
	if cfg.MaxInFlight, err = flags.GetInt("max-in-flight"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.MaxBodySize, err = flags.GetInt64("max-body-size"); err != nil {
		return nil, err
	}
	noRobots, err := flags.GetBool("no-robots")
	if err != nil {
		return nil, err
	}
	cfg.RespectRobots = !noRobots
	if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCrawlCmd(cmd *cobra.Command, args []string) (err error) {
	cfg, err := crawlConfig(cmd)
	if err != nil {
		return err
	}
	page, err := cmd.Flags().GetString("page")
	if err != nil {
		return err
	}
	noLinks, err := cmd.Flags().GetBool("no-links")
	if err != nil {
		return err
	}
	noDefaultPages, err := cmd.Flags().GetBool("no-default-pages")
	if err != nil {
		return err
	}
	socks5, err := cmd.Flags().GetString("socks5")
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	env, err := openSiteWith(cmd, cfg, args[0], false)
	if err != nil {
		return err
	}
	defer closeEnv(env, &err)

	var m *metrics.Crawl
	if cfg.MetricsAddr != "" {
		reg := newRegistry()
		if m, err = metrics.NewCrawl(reg); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		stop, err := serveMetrics(cfg.MetricsAddr, reg, env.logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	clientOpts := []crawler.ClientOption{
		crawler.WithTimeout(cfg.Timeout),
		crawler.WithUserAgent(cfg.UserAgent),
		crawler.WithMaxBodySize(cfg.MaxBodySize),
		crawler.WithHeaders(env.site.Config().Headers),
		crawler.WithCookie(env.site.Config().Cookie),
	}
	if socks5 != "" {
		clientOpts = append(clientOpts, crawler.WithSOCKS5(socks5))
	}
	client, err := crawler.NewHTTPClient(env.site.Base(), clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	c, err := crawler.New(env.url, env.store, env.site.Config(),
		crawler.WithFetcher(client),
		crawler.WithLogger(env.logger),
		crawler.WithMetrics(m),
		crawler.WithMaxCrawlAge(cfg.MaxCrawlAge),
		crawler.WithWorkers(cfg.Workers),
		crawler.WithMaxInFlight(cfg.MaxInFlight),
		crawler.WithRate(cfg.RequestsPerSecond),
		crawler.WithCrawlerUserAgent(cfg.UserAgent),
		crawler.WithRobots(cfg.RespectRobots),
		crawler.WithAddURLsFound(!noLinks),
		crawler.WithNoDefaultPages(noDefaultPages),
	)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	start := time.Now()
	out := cmd.OutOrStdout()
	if page != "" {
		if err := c.CrawlPage(ctx, page); err != nil {
			return err
		}
		fmt.Fprintf(out, "Fetched %s%s\n", env.url.Host, page)
		return nil
	}

	modified, crawlErr := c.CrawlSite(ctx)
	count, err := env.store.Count(ctx)
	if err != nil && crawlErr == nil {
		crawlErr = err
	}
	fmt.Fprintf(out, "Crawled %s in %s: %d records", env.url.Host, time.Since(start).Round(time.Millisecond), count)
	if !modified {
		fmt.Fprint(out, ", no changes")
	}
	fmt.Fprintln(out)
	return crawlErr
}

// newRegistry returns a registry with the Go runtime and process
// collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serveMetrics serves reg on addr until stop is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
