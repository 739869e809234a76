package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skylightd/skylight/pkg/packet"
	"github.com/skylightd/skylight/pkg/protocol"
	"github.com/skylightd/skylight/pkg/transport"
)

// Method is one whitelisted operation the helper exposes. Args are
// the packet arguments in wire order. A returned error is logged and,
// with WithErrorReplies, reported back, but never closes the link.
type Method func(args []any) error

type calleeOptions struct {
	conn          protocol.Conn
	logger        *slog.Logger
	errorReplies  bool
	handleSignals bool
}

// CalleeOption adjusts the callee side.
type CalleeOption func(*calleeOptions)

// WithConn overrides the default stdio connection, for tests and
// embedding.
func WithConn(conn protocol.Conn) CalleeOption {
	return func(o *calleeOptions) { o.conn = conn }
}

// WithCalleeLogger sets the structured logger.
func WithCalleeLogger(log *slog.Logger) CalleeOption {
	return func(o *calleeOptions) { o.logger = log }
}

// WithErrorReplies reports rejected and failed methods back to the
// caller as ("error", message, method) packets.
func WithErrorReplies() CalleeOption {
	return func(o *calleeOptions) { o.errorReplies = true }
}

// WithSignalHandling forwards SIGINT and SIGTERM to the caller as
// ("signal", name) packets before shutting down, so the supervisor
// sees why its helper left.
func WithSignalHandling() CalleeOption {
	return func(o *calleeOptions) { o.handleSignals = true }
}

// Callee serves a closed set of methods to the packet peer, normally
// the parent process on the other end of stdio. Methods run serially
// in arrival order on the reader goroutine; anything outside the
// whitelist is rejected without touching the connection.
type Callee struct {
	methods map[string]Method
	opts    calleeOptions
	log     *slog.Logger
	p       *protocol.Protocol
	initErr error
}

// NewCallee wraps the given method set. The map is the whitelist:
// nothing outside it is ever invoked, and it cannot grow afterwards.
func NewCallee(methods map[string]Method, opts ...CalleeOption) *Callee {
	o := calleeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.conn == nil {
		o.conn = transport.NewPipeConn(os.Stdin, os.Stdout, "stdio")
	}

	ce := &Callee{
		methods: make(map[string]Method, len(methods)),
		opts:    o,
		log:     o.logger.With("component", "bridge-callee"),
	}
	for name, m := range methods {
		ce.methods[name] = m
	}
	ce.p, ce.initErr = protocol.New(o.conn, newConfig(protocol.RoleServer, o.logger))
	if ce.initErr == nil {
		ce.p.SetPacketHandler(ce.handle)
	}
	return ce
}

// Run serves until the peer sends end, the connection fails, or ctx
// is canceled. The clean outcomes (end exchange, local close, peer
// EOF) return nil.
func (ce *Callee) Run(ctx context.Context) error {
	if ce.initErr != nil {
		return &BridgeError{Proc: ce.opts.conn.Target(), Op: "run", Err: ce.initErr}
	}
	if err := ce.p.Start(); err != nil {
		return &BridgeError{Proc: ce.opts.conn.Target(), Op: "run", Err: err}
	}
	ce.log.Info("serving", "methods", len(ce.methods))

	if ce.opts.handleSignals {
		stop := ce.watchSignals()
		defer stop()
	}

	select {
	case <-ctx.Done():
		ce.p.Close("context canceled")
		<-ce.p.Done()
		return ctx.Err()
	case <-ce.p.Done():
	}

	cause, reason := ce.p.CloseCause()
	switch cause {
	case protocol.ReasonLocal, protocol.ReasonRemote, protocol.ReasonEOF:
		return nil
	}
	return &BridgeError{Proc: ce.opts.conn.Target(), Op: "run", Err: errors.New(reason)}
}

// Emit sends an event packet to the caller, typically a forwarded
// signal of the wrapped object. Safe before Run: the packet is queued
// and flushed once the handshake completes.
func (ce *Callee) Emit(sig string, args ...any) error {
	if ce.initErr != nil {
		return &BridgeError{Proc: ce.opts.conn.Target(), Op: "emit", Err: ce.initErr}
	}
	return ce.p.Send(sig, args...)
}

// Forward drains ch in a goroutine, emitting each element as a packet
// of the given type. The goroutine stops when ch closes or the
// connection does.
func (ce *Callee) Forward(name string, ch <-chan []any) {
	go func() {
		for args := range ch {
			if err := ce.Emit(name, args...); err != nil {
				return
			}
		}
	}()
}

// watchSignals forwards the first SIGINT/SIGTERM outward and then
// closes the connection; the close-time flush delivers the packet
// before the pipe shuts.
func (ce *Callee) watchSignals() func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-ch:
				name := sigName(sig)
				ce.log.Info("forwarding signal", "signal", name)
				ce.Emit(TypeSignal, name)
				ce.p.Close("received " + name)
			case <-ce.p.Done():
				return
			}
		}
	}()
	return func() { signal.Stop(ch) }
}

// handle runs on the reader goroutine; methods therefore run serially
// and in arrival order.
func (ce *Callee) handle(pkt *packet.Packet) {
	switch pkt.Type {
	case packet.TypeHello, packet.TypeChallenge:
		return
	case packet.TypeEnd:
		ce.log.Debug("end received")
		return
	}
	if packet.IsSynthetic(pkt.Type) {
		return
	}

	m, ok := ce.methods[pkt.Type]
	if !ok {
		ce.log.Warn("rejecting method not in whitelist", "method", pkt.Type)
		if ce.opts.errorReplies {
			ce.Emit(TypeError, "method not allowed", pkt.Type)
		}
		return
	}
	ce.invoke(pkt.Type, m, pkt.Args)
}

func (ce *Callee) invoke(name string, m Method, args []any) {
	defer func() {
		if r := recover(); r != nil {
			ce.log.Error("method panicked", "method", name, "panic", r)
			if ce.opts.errorReplies {
				ce.Emit(TypeError, fmt.Sprintf("panic: %v", r), name)
			}
		}
	}()
	if err := m(args); err != nil {
		ce.log.Warn("method failed", "method", name, "error", err)
		if ce.opts.errorReplies {
			ce.Emit(TypeError, err.Error(), name)
		}
	}
}
