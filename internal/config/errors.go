package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and Site.Validate() and can
// be matched with errors.Is().
var (
	// ErrNoStoreRoot is returned when no store directory is configured.
	ErrNoStoreRoot = errors.New("no store root: set --store")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxCrawlAge is returned when the crawl age is negative.
	ErrInvalidMaxCrawlAge = errors.New("invalid max crawl age: must be non-negative")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")

	// ErrInvalidMaxInFlight is returned when the fetch cap is not positive.
	ErrInvalidMaxInFlight = errors.New("invalid max in-flight fetches: must be positive")

	// ErrInvalidRate is returned when the request rate is negative.
	ErrInvalidRate = errors.New("invalid request rate: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidLockTimeout is returned when the lock timeout is not positive.
	ErrInvalidLockTimeout = errors.New("invalid lock timeout: must be positive")

	// ErrInvalidDocType is returned for a document type that cannot be used.
	ErrInvalidDocType = errors.New("invalid document type")

	// ErrInvalidExpression is returned when a regular expression or xpath
	// in the site configuration does not compile.
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrConfigNotFound is returned when a site configuration file does not
	// exist.
	ErrConfigNotFound = errors.New("configuration file not found")
)
