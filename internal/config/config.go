package config

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "sitemirror"

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxCrawlAge is how old LastCrawled must be before a record is
	// fetched again. A second crawl started within this window fetches
	// nothing.
	DefaultMaxCrawlAge = time.Minute

	// DefaultMaxInFlight caps concurrent HTTP fetches of one crawl.
	DefaultMaxInFlight = 5

	// DefaultUserAgent identifies the mirror in HTTP requests. The product
	// token before '/' is also the robots.txt agent name.
	DefaultUserAgent = "sitemirror/1.0 (+https://github.com/nao1215/sitemirror)"

	// DefaultMaxBodySize limits the response body size read per fetch.
	DefaultMaxBodySize = 64 * 1024 * 1024

	// DefaultLockTimeout bounds store lock acquisition.
	DefaultLockTimeout = 60 * time.Second
)

// Config holds process-wide options. It is built from CLI flags and passed
// to each component at construction.
type Config struct {
	// StoreRoot is the directory holding one subdirectory per site.
	// Defaults to the XDG data directory.
	StoreRoot string

	// SiteConfigPath is an explicit site configuration file.
	SiteConfigPath string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// MaxCrawlAge is the staleness threshold of a crawl.
	MaxCrawlAge time.Duration

	// Workers is the worker pool size. Defaults to the CPU count.
	Workers int

	// MaxInFlight caps concurrent HTTP fetches.
	MaxInFlight int

	// RequestsPerSecond throttles fetches. 0 means unlimited.
	RequestsPerSecond float64

	// UserAgent is sent with every request.
	UserAgent string

	// MaxBodySize limits response bodies in bytes.
	MaxBodySize int64

	// LockTimeout bounds store lock acquisition; exceeding it is fatal.
	LockTimeout time.Duration

	// RespectRobots enables robots.txt exclusions.
	RespectRobots bool

	// Verbose enables debug logging.
	Verbose bool

	// JSONLogs switches the log output to JSON.
	JSONLogs bool

	// MetricsAddr, when set, serves Prometheus metrics during a crawl.
	MetricsAddr string
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		StoreRoot:     XDGDataDir(),
		Timeout:       DefaultTimeout,
		MaxCrawlAge:   DefaultMaxCrawlAge,
		Workers:       runtime.NumCPU(),
		MaxInFlight:   DefaultMaxInFlight,
		UserAgent:     DefaultUserAgent,
		MaxBodySize:   DefaultMaxBodySize,
		LockTimeout:   DefaultLockTimeout,
		RespectRobots: true,
	}
}

// XDGDataDir returns the default store root.
// On Linux: ~/.local/share/sitemirror
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for sitemirror.
// On Linux: ~/.config/sitemirror
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.StoreRoot == "" {
		return ErrNoStoreRoot
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxCrawlAge < 0 {
		return ErrInvalidMaxCrawlAge
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxInFlight <= 0 {
		return ErrInvalidMaxInFlight
	}
	if c.RequestsPerSecond < 0 {
		return ErrInvalidRate
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.LockTimeout <= 0 {
		return ErrInvalidLockTimeout
	}
	return nil
}
