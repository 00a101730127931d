package crawler

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
)

// socks5Server is a minimal SOCKS5 CONNECT relay without authentication.
type socks5Server struct {
	listener net.Listener
	connects atomic.Int32
}

func startSOCKS5(t *testing.T) *socks5Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start proxy: %v", err)
	}
	s := &socks5Server{listener: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *socks5Server) addr() string { return s.listener.Addr().String() }

func (s *socks5Server) serve(conn net.Conn) {
	defer conn.Close()

	// Greeting: version, method count, methods.
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		return
	}
	if _, err := io.ReadFull(conn, make([]byte, head[1])); err != nil {
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		return
	}

	// Request: version, command, reserved, address type.
	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil || req[1] != 0x01 {
		return
	}
	var host string
	switch req[3] {
	case 0x01:
		ip := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 0x03:
		n := make([]byte, 1)
		if _, err := io.ReadFull(conn, n); err != nil {
			return
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	case 0x04:
		ip := make([]byte, net.IPv6len)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	default:
		return
	}
	port := make([]byte, 2)
	if _, err := io.ReadFull(conn, port); err != nil {
		return
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port))))

	upstream, err := net.Dial("tcp", target) //nolint:noctx // test code
	if err != nil {
		_, _ = conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()
	s.connects.Add(1)
	if _, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(upstream, conn)
		close(done)
	}()
	_, _ = io.Copy(conn, upstream)
	<-done
}

func TestSOCKS5(t *testing.T) {
	t.Parallel()

	t.Run("routes requests through the proxy", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("via proxy"))
		}))
		defer srv.Close()
		proxy := startSOCKS5(t)

		base, _ := url.Parse(srv.URL + "/")
		c, err := NewHTTPClient(base, WithSOCKS5(proxy.addr()))
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		resp, err := c.Get(context.Background(), "/", nil)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if string(resp.Body) != "via proxy" {
			t.Errorf("expected body %q, got %q", "via proxy", resp.Body)
		}
		if proxy.connects.Load() == 0 {
			t.Error("expected the request to pass the proxy")
		}
	})

	t.Run("rejects invalid addresses", func(t *testing.T) {
		t.Parallel()

		base, _ := url.Parse("http://example.com/")
		for _, addr := range []string{"127.0.0.1", ":9050", "127.0.0.1:0", "127.0.0.1:70000", "host:port"} {
			if _, err := NewHTTPClient(base, WithSOCKS5(addr)); !errors.Is(err, ErrInvalidProxy) {
				t.Errorf("%q: expected ErrInvalidProxy, got %v", addr, err)
			}
		}
	})

	t.Run("fails when the proxy is down", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatalf("failed to reserve port: %v", err)
		}
		addr := ln.Addr().String()
		_ = ln.Close()

		base, _ := url.Parse("http://example.com/")
		c, err := NewHTTPClient(base, WithSOCKS5(addr))
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}
		if _, err := c.Get(context.Background(), "/", nil); err == nil {
			t.Error("expected an error through a closed proxy")
		}
	})
}
