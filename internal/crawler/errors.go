package crawler

import "errors"

var (
	// ErrBodyTooLarge is returned when a response body exceeds the
	// configured size limit.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrInvalidPath is returned when a request path cannot be resolved
	// against the site URL.
	ErrInvalidPath = errors.New("invalid request path")

	// ErrInvalidCookie is returned when the configured cookie string cannot
	// be parsed.
	ErrInvalidCookie = errors.New("invalid cookie")

	// ErrInvalidProxy is returned when a SOCKS5 proxy address is not
	// "host:port".
	ErrInvalidProxy = errors.New("invalid proxy address")
)
