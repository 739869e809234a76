package transport

import (
	"io"
	"sync/atomic"
)

// PipeConn joins separate read and write streams into one duplex
// connection, typically a subprocess's stdout and stdin.
type PipeConn struct {
	r      io.ReadCloser
	w      io.WriteCloser
	target string
	closed atomic.Bool
}

// NewPipeConn builds a duplex from the two stream halves. target is a
// human-readable peer description for logs.
func NewPipeConn(r io.ReadCloser, w io.WriteCloser, target string) *PipeConn {
	return &PipeConn{r: r, w: w, target: target}
}

func (c *PipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *PipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

// Close closes the write half first so the peer observes EOF, then the
// read half. Idempotent.
func (c *PipeConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	werr := c.w.Close()
	rerr := c.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func (c *PipeConn) Alive() bool    { return !c.closed.Load() }
func (c *PipeConn) Kind() string   { return "pipe" }
func (c *PipeConn) Target() string { return c.target }
