package transport

import (
	"io"
	"net"
	"sync/atomic"
)

// Conn is the byte-stream contract the protocol engine consumes,
// restated here so transports stay decoupled from the engine package.
type Conn interface {
	io.ReadWriteCloser
	Alive() bool
	Kind() string
	Target() string
}

// StreamConn wraps an ordered byte-stream socket (TCP, Unix, or an
// in-memory pipe) for the engine.
type StreamConn struct {
	net.Conn
	kind   string
	target string
	closed atomic.Bool
}

// NewStreamConn adapts c. TCP connections get TCP_NODELAY: the engine
// sends small latency-sensitive packets and does its own batching, so
// Nagle only adds delay.
func NewStreamConn(c net.Conn) *StreamConn {
	sc := &StreamConn{
		Conn:   c,
		kind:   c.RemoteAddr().Network(),
		target: c.RemoteAddr().String(),
	}
	if tc, ok := c.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		sc.kind = "tcp"
	}
	return sc
}

func (c *StreamConn) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

func (c *StreamConn) Alive() bool    { return !c.closed.Load() }
func (c *StreamConn) Kind() string   { return c.kind }
func (c *StreamConn) Target() string { return c.target }

// Pair returns two connected in-memory ends, kind "mem". Used by tests
// and same-process links.
func Pair() (*StreamConn, *StreamConn) {
	a, b := net.Pipe()
	return &StreamConn{Conn: a, kind: "mem", target: "pipe"},
		&StreamConn{Conn: b, kind: "mem", target: "pipe"}
}
