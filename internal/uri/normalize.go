// Package uri normalizes site-relative URIs, converts between absolute and
// base-relative forms, and decides which paths are excluded from crawling.
package uri

import (
	"net/url"
	"strings"
)

// DefaultDocuments are the document names that alias their directory.
// "/page/default.aspx" and "/page/" name the same record.
var DefaultDocuments = []string{"default.aspx"}

// Normalizer turns URLs into store keys.
// The zero value uses DefaultDocuments.
type Normalizer struct {
	// Documents overrides DefaultDocuments when non-nil.
	Documents []string
}

func (n Normalizer) documents() []string {
	if n.Documents != nil {
		return n.Documents
	}
	return DefaultDocuments
}

// PathAndQuery returns the normalized key for u: path plus query, without
// fragment, with trailing '?' and '&' trimmed and default documents folded
// into their directory.
func (n Normalizer) PathAndQuery(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" && (u.IsAbs() || u.Host != "") {
		path = "/"
	}
	query := u.RawQuery
	query = strings.TrimRight(query, "?&")
	for _, doc := range n.documents() {
		suffix := "/" + doc
		if len(path) >= len(suffix) && strings.EqualFold(path[len(path)-len(suffix):], suffix) {
			path = path[:len(path)-len(doc)]
			break
		}
	}

	if query == "" {
		return path
	}
	return path + "?" + query
}

// PathAndQuery normalizes u with the default document list.
func PathAndQuery(u *url.URL) string {
	return Normalizer{}.PathAndQuery(u)
}

// SameHost reports whether a and b share scheme, host and port.
// Host names compare case-insensitively and default ports are implied.
func SameHost(a, b *url.URL) bool {
	if !strings.EqualFold(a.Scheme, b.Scheme) {
		return false
	}
	if !strings.EqualFold(a.Hostname(), b.Hostname()) {
		return false
	}
	return port(a) == port(b)
}

func port(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

// Resolve parses ref relative to base. It returns nil when ref cannot be
// parsed.
func Resolve(base *url.URL, ref string) *url.URL {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil
	}
	return base.ResolveReference(u)
}

// IsWebScheme reports whether u is an http or https URL.
func IsWebScheme(u *url.URL) bool {
	s := strings.ToLower(u.Scheme)
	return s == "http" || s == "https"
}

// HostDirectory returns a file-system friendly name for the site of u,
// "host" or "host_port" when the port is not the scheme default.
func HostDirectory(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if p := u.Port(); p != "" && p != port(&url.URL{Scheme: u.Scheme}) {
		return strings.Trim(host, "[]") + "_" + p
	}
	return host
}
