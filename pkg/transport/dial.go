package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultDialTimeout bounds connection establishment.
const DefaultDialTimeout = 10 * time.Second

type dialOptions struct {
	timeout time.Duration
	header  http.Header
	tls     *tls.Config
}

// DialOption adjusts Dial behavior.
type DialOption func(*dialOptions)

// WithDialTimeout bounds connection establishment, including the
// WebSocket upgrade for ws/wss targets.
func WithDialTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.timeout = d }
}

// WithHTTPHeader adds request headers to the WebSocket upgrade,
// e.g. authorization tokens. Ignored for plain sockets.
func WithHTTPHeader(h http.Header) DialOption {
	return func(o *dialOptions) { o.header = h }
}

// WithTLSConfig sets the TLS client configuration for wss targets.
func WithTLSConfig(cfg *tls.Config) DialOption {
	return func(o *dialOptions) { o.tls = cfg }
}

// Dial connects to a peer by URL and returns an engine-compatible
// connection. Supported schemes: tcp://host:port, unix:///path,
// ws://host/path, wss://host/path. A bare host:port is treated as tcp.
func Dial(ctx context.Context, rawurl string, opts ...DialOption) (Conn, error) {
	o := dialOptions{timeout: DefaultDialTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	u, err := parseTarget(rawurl)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "tcp":
		d := net.Dialer{Timeout: o.timeout}
		c, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", u.Host, err)
		}
		return NewStreamConn(c), nil

	case "unix":
		d := net.Dialer{Timeout: o.timeout}
		c, err := d.DialContext(ctx, "unix", u.Path)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", u.Path, err)
		}
		return NewStreamConn(c), nil

	case "ws", "wss":
		dialer := websocket.Dialer{
			HandshakeTimeout: o.timeout,
			TLSClientConfig:  o.tls,
		}
		ws, resp, err := dialer.DialContext(ctx, u.String(), o.header)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, fmt.Errorf("transport: dial %s: %w", u.String(), err)
		}
		return NewWSConn(ws), nil

	default:
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
}

// Listen opens a listener for tcp:// and unix:// URLs; a bare
// host:port is treated as tcp. Callers wrap accepted connections with
// NewStreamConn.
func Listen(rawurl string) (net.Listener, error) {
	u, err := parseTarget(rawurl)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tcp":
		ln, err := net.Listen("tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("transport: listen %s: %w", u.Host, err)
		}
		return ln, nil
	case "unix":
		ln, err := net.Listen("unix", u.Path)
		if err != nil {
			return nil, fmt.Errorf("transport: listen %s: %w", u.Path, err)
		}
		return ln, nil
	default:
		return nil, fmt.Errorf("transport: unsupported listen scheme %q", u.Scheme)
	}
}

func parseTarget(rawurl string) (*url.URL, error) {
	if !strings.Contains(rawurl, "://") {
		rawurl = "tcp://" + rawurl
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("transport: parse %q: %w", rawurl, err)
	}
	return u, nil
}
