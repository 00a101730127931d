package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/nao1215/sitemirror/internal/uri"
)

// Response is a fetched HTTP response with its body read.
type Response struct {
	// StatusCode is the response status. An empty 200 response carrying a
	// Refresh header with a url is reported as 302.
	StatusCode int

	// Header holds the response headers.
	Header http.Header

	// Body is the decoded response body, empty for HEAD requests.
	Body []byte

	// URL is the requested URL.
	URL *url.URL

	// Location is the resolved redirect target, or nil.
	Location *url.URL
}

// Fetcher issues requests for site paths. Implementations must not follow
// redirects.
type Fetcher interface {
	Head(ctx context.Context, path string, header http.Header) (*Response, error)
	Get(ctx context.Context, path string, header http.Header) (*Response, error)
	Post(ctx context.Context, path string, header http.Header, body io.Reader) (*Response, error)
}

// HTTPClient is the Fetcher used for real crawls.
type HTTPClient struct {
	base        *url.URL
	client      *http.Client
	userAgent   string
	header      http.Header
	cookie      string
	socks5      string
	maxBodySize int64
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *HTTPClient) {
		c.userAgent = ua
	}
}

// WithMaxBodySize limits the decoded body size. 0 means unlimited.
func WithMaxBodySize(size int64) ClientOption {
	return func(c *HTTPClient) {
		c.maxBodySize = size
	}
}

// WithHeaders adds headers sent with every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *HTTPClient) {
		for k, v := range headers {
			c.header.Set(k, v)
		}
	}
}

// WithCookie seeds the cookie jar with "name=value; name2=value2".
func WithCookie(cookie string) ClientOption {
	return func(c *HTTPClient) {
		c.cookie = cookie
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *HTTPClient) {
		c.client.Transport = rt
	}
}

// NewHTTPClient returns a client for the site at base.
func NewHTTPClient(base *url.URL, opts ...ClientOption) (*HTTPClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Accept-Encoding is set explicitly and decoded in readBody.
	transport.DisableCompression = true

	c := &HTTPClient{
		base: base,
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.socks5 != "" {
		t, err := socks5Transport(c.socks5)
		if err != nil {
			return nil, err
		}
		c.client.Transport = t
	}
	if c.cookie != "" {
		cookies, err := http.ParseCookie(c.cookie)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
		}
		jar.SetCookies(base, cookies)
	}
	return c, nil
}

// Head issues a HEAD request for path.
func (c *HTTPClient) Head(ctx context.Context, path string, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodHead, path, header, nil)
}

// Get issues a GET request for path.
func (c *HTTPClient) Get(ctx context.Context, path string, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, header, nil)
}

// Post issues a POST request for path with body.
func (c *HTTPClient) Post(ctx context.Context, path string, header http.Header, body io.Reader) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, header, body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, header http.Header, body io.Reader) (*Response, error) {
	target := uri.Resolve(c.base, path)
	if target == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	for k, v := range c.header {
		req.Header[k] = v
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	r := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		URL:        target,
	}
	if method != http.MethodHead {
		r.Body, err = c.readBody(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusOK && len(r.Body) == 0:
		if ref, ok := refreshURL(resp.Header.Get("Refresh")); ok {
			r.StatusCode = http.StatusFound
			r.Location = uri.Resolve(target, ref)
			if r.Location == nil {
				r.StatusCode = http.StatusInternalServerError
			}
		}
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		if loc := resp.Header.Get("Location"); loc != "" {
			r.Location = uri.Resolve(target, loc)
		}
	}
	return r, nil
}

// readBody decodes a gzip body and enforces the size limit.
func (c *HTTPClient) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		raw, err := io.ReadAll(c.limit(resp.Body))
		if err != nil {
			return nil, err
		}
		if c.maxBodySize > 0 && int64(len(raw)) > c.maxBodySize {
			return nil, ErrBodyTooLarge
		}
		if len(raw) == 0 {
			return nil, nil
		}
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode gzip body: %w", err)
		}
		defer zr.Close()
		reader = zr
		resp.Header.Del("Content-Encoding")
	}

	data, err := io.ReadAll(c.limit(reader))
	if err != nil {
		return nil, err
	}
	if c.maxBodySize > 0 && int64(len(data)) > c.maxBodySize {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func (c *HTTPClient) limit(r io.Reader) io.Reader {
	if c.maxBodySize <= 0 {
		return r
	}
	return io.LimitReader(r, c.maxBodySize+1)
}

// refreshURL extracts the target of a "5; url=/next" Refresh header.
func refreshURL(value string) (string, bool) {
	i := strings.Index(strings.ToLower(value), "url=")
	if i < 0 {
		return "", false
	}
	ref := strings.Trim(strings.TrimSpace(value[i+len("url="):]), `"'`)
	return ref, ref != ""
}
