package crawler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// WithSOCKS5 routes every request through the SOCKS5 proxy at addr,
// "host:port", for example a local Tor daemon on 127.0.0.1:9050.
func WithSOCKS5(addr string) ClientOption {
	return func(c *HTTPClient) {
		c.socks5 = addr
	}
}

// validProxyAddress reports whether addr is "host:port" with a port in
// 1-65535.
func validProxyAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// socks5Transport returns a transport dialing through the SOCKS5 proxy at
// addr. Proxy authentication is not supported.
func socks5Transport(addr string) (*http.Transport, error) {
	if !validProxyAddress(addr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, addr)
	}
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DisableCompression = true
	// Each connection is a proxied circuit; keep few of them idle.
	transport.MaxIdleConnsPerHost = 2
	transport.IdleConnTimeout = 30 * time.Second
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, address string) (net.Conn, error) {
			return dialer.Dial(network, address)
		}
	}
	return transport, nil
}
