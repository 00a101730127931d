// Package log builds the slog loggers used by sitemirror.
//
// Crawls carry session cookies and extra request headers from the site
// configuration, and those end up in log attributes when a request fails.
// SecureHandler wraps any slog.Handler and redacts them:
//   - keys such as cookie, authorization and x-api-key
//   - keys containing password, secret, token, auth or cookie
//   - bearer, basic and JWT values under any key
//   - user:password@ in URLs
//
// # Usage
//
//	logger := log.NewLogger(os.Stderr, verbose, jsonLogs)
//	slog.SetDefault(logger)
//	logger.Warn("http error", "path", "/login", "cookie", "session=abc")
//	// cookie=***REDACTED***
package log
