package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/log"
	"github.com/nao1215/sitemirror/internal/site"
	"github.com/nao1215/sitemirror/internal/store"
	"github.com/nao1215/sitemirror/internal/uri"
	"github.com/spf13/cobra"
)

var (
	// errInvalidSiteURL is returned for a site argument that is not an
	// http(s) URL with a host.
	errInvalidSiteURL = errors.New("invalid site url")

	// errSameStore is returned when a copy target maps to the source store.
	errSameStore = errors.New("target site uses the source store")
)

// globalConfig builds the process configuration from the persistent flags.
func globalConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()

	var err error
	if cfg.StoreRoot, err = cmd.Flags().GetString("store"); err != nil {
		return nil, err
	}
	if cfg.SiteConfigPath, err = cmd.Flags().GetString("site-config"); err != nil {
		return nil, err
	}
	if cfg.Verbose, err = cmd.Flags().GetBool("verbose"); err != nil {
		return nil, err
	}
	if cfg.JSONLogs, err = cmd.Flags().GetBool("log-json"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger creates the command logger writing to stderr.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return log.NewLogger(cmd.ErrOrStderr(), cfg.Verbose, cfg.JSONLogs)
}

// parseSiteURL parses a site argument. A bare host gets the https scheme.
func parseSiteURL(arg string) (*url.URL, error) {
	raw := strings.TrimSpace(arg)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errInvalidSiteURL, arg, err)
	}
	if !uri.IsWebScheme(u) || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", errInvalidSiteURL, arg)
	}
	return u, nil
}

// siteEnv is an opened site with everything a command needs.
type siteEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	url    *url.URL
	root   string
	store  *store.Store
	site   *site.Site
}

// Close releases the store.
func (e *siteEnv) Close() error {
	return e.store.Close()
}

// openSite opens the store of the site named by arg and loads its
// configuration.
func openSite(cmd *cobra.Command, arg string, readOnly bool) (*siteEnv, error) {
	cfg, err := globalConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openSiteWith(cmd, cfg, arg, readOnly)
}

func openSiteWith(cmd *cobra.Command, cfg *config.Config, arg string, readOnly bool) (*siteEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	u, err := parseSiteURL(arg)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg)

	siteCfg, err := config.FileProvider{Root: cfg.StoreRoot, Path: cfg.SiteConfigPath}.SiteConfig(u)
	if err != nil {
		return nil, fmt.Errorf("failed to load site configuration: %w", err)
	}

	root := config.SiteDir(cfg.StoreRoot, u)
	if !readOnly {
		if err := os.MkdirAll(root, 0750); err != nil {
			return nil, fmt.Errorf("failed to create site directory: %w", err)
		}
	}
	st, err := store.OpenCurrent(root, store.Options{
		ReadOnly:    readOnly,
		LockTimeout: cfg.LockTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store of %s: %w", u.Host, err)
	}

	s, err := site.New(u, st, siteCfg, site.WithLogger(logger))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &siteEnv{
		cfg:    cfg,
		logger: logger,
		url:    u,
		root:   root,
		store:  st,
		site:   s,
	}, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// closeEnv closes env and keeps the first error.
func closeEnv(env *siteEnv, err *error) {
	if cerr := env.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
