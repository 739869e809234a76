package transport

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn adapts a WebSocket connection to the byte-stream contract.
// Each Write becomes one binary message (the engine already batches
// frames per write); Read drains binary messages across message
// boundaries, so the stream illusion holds regardless of how the peer
// grouped its frames.
type WSConn struct {
	ws     *websocket.Conn
	reader io.Reader // current partially consumed inbound message
	wmu    sync.Mutex
	closed atomic.Bool
}

// NewWSConn wraps an already-upgraded connection.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return 0, wsReadErr(err)
			}
			if mt != websocket.BinaryMessage {
				// The engine speaks binary only; drop anything else.
				continue
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// wsReadErr turns a clean WebSocket closure into io.EOF so the engine
// treats it like any other orderly remote close.
func wsReadErr(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return io.EOF
	}
	return err
}

func (c *WSConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close control message best-effort, then tears down the
// underlying connection. Idempotent.
func (c *WSConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.wmu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}

func (c *WSConn) Alive() bool    { return !c.closed.Load() }
func (c *WSConn) Kind() string   { return "ws" }
func (c *WSConn) Target() string { return c.ws.RemoteAddr().String() }

type wsOptions struct {
	readBufferSize  int
	writeBufferSize int
	readLimit       int64
	checkOrigin     func(*http.Request) bool
	logger          *slog.Logger
}

// WSOption adjusts the upgrade behavior of WSHandler.
type WSOption func(*wsOptions)

// WithReadBufferSize sets the WebSocket read buffer size.
func WithReadBufferSize(n int) WSOption {
	return func(o *wsOptions) { o.readBufferSize = n }
}

// WithWriteBufferSize sets the WebSocket write buffer size.
func WithWriteBufferSize(n int) WSOption {
	return func(o *wsOptions) { o.writeBufferSize = n }
}

// WithReadLimit caps the size of a single inbound message. The engine
// enforces its own packet caps; this is the outer guard against peers
// that do not even speak the protocol.
func WithReadLimit(n int64) WSOption {
	return func(o *wsOptions) { o.readLimit = n }
}

// WithCheckOrigin overrides the origin check. Left unset, the upgrader
// enforces same-origin.
func WithCheckOrigin(fn func(*http.Request) bool) WSOption {
	return func(o *wsOptions) { o.checkOrigin = fn }
}

// WithWSLogger sets the logger for upgrade failures.
func WithWSLogger(log *slog.Logger) WSOption {
	return func(o *wsOptions) { o.logger = log }
}

// WSHandler returns an http.Handler that upgrades requests and hands
// each established connection to onConn. onConn owns the connection
// from that point; the handler returns immediately after the upgrade.
func WSHandler(onConn func(*WSConn), opts ...WSOption) http.Handler {
	o := wsOptions{
		readBufferSize:  4096,
		writeBufferSize: 4096,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  o.readBufferSize,
		WriteBufferSize: o.writeBufferSize,
		CheckOrigin:     o.checkOrigin,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response.
			o.logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		if o.readLimit > 0 {
			ws.SetReadLimit(o.readLimit)
		}
		onConn(NewWSConn(ws))
	})
}
