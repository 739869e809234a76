package bridge

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/skylightd/skylight/pkg/packet"
	"github.com/skylightd/skylight/pkg/protocol"
	"github.com/skylightd/skylight/pkg/transport"
)

type callerOptions struct {
	logger *slog.Logger
	grace  time.Duration
	env    []string
}

// CallerOption adjusts how a helper is spawned and supervised.
type CallerOption func(*callerOptions)

// WithCallerLogger sets the structured logger.
func WithCallerLogger(log *slog.Logger) CallerOption {
	return func(o *callerOptions) { o.logger = log }
}

// WithStopGrace sets how long the supervisor waits for a cooperative
// exit before killing the helper.
func WithStopGrace(d time.Duration) CallerOption {
	return func(o *callerOptions) { o.grace = d }
}

// WithEnv appends KEY=value entries to the helper's inherited
// environment.
func WithEnv(env ...string) CallerOption {
	return func(o *callerOptions) { o.env = env }
}

// Caller spawns a helper subprocess and drives it as a packet peer.
// Call sends method invocations; OnSignal receives the packets the
// helper emits back. Whichever of {end packet, connection loss,
// process exit} happens first produces the single OnEnd event, so
// downstream code never needs to distinguish the failure sources.
type Caller struct {
	path string
	args []string
	opts callerOptions
	log  *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	p        *protocol.Protocol
	signals  map[string][]func(args []any)
	onEnd    []func(err error)
	endErr   error
	started  bool
	stopping bool

	endOnce sync.Once
	done    chan struct{}
}

// NewCaller prepares a supervisor for the helper at path. Nothing is
// spawned until Start.
func NewCaller(path string, args []string, opts ...CallerOption) *Caller {
	o := callerOptions{grace: DefaultStopGrace}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Caller{
		path:    path,
		args:    args,
		opts:    o,
		log:     o.logger.With("component", "bridge", "helper", filepath.Base(path)),
		signals: make(map[string][]func([]any)),
		done:    make(chan struct{}),
	}
}

// Start spawns the helper and begins the handshake over its
// stdin/stdout pair. Stderr is inherited so helper logs stay visible.
func (c *Caller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return &BridgeError{Proc: c.path, Op: "start", Err: errors.New("already started")}
	}

	cmd := exec.Command(c.path, c.args...)
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), c.opts.env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &BridgeError{Proc: c.path, Op: "start", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &BridgeError{Proc: c.path, Op: "start", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &BridgeError{Proc: c.path, Op: "start", Err: err}
	}

	conn := transport.NewPipeConn(stdout, stdin, c.path)
	p, err := protocol.New(conn, newConfig(protocol.RoleClient, c.opts.logger))
	if err == nil {
		p.SetPacketHandler(c.handle)
		err = p.Start()
	}
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return &BridgeError{Proc: c.path, Op: "start", Err: err}
	}

	c.cmd = cmd
	c.p = p
	c.started = true
	c.log.Info("helper started", "pid", cmd.Process.Pid)
	go c.watch(cmd, p)
	return nil
}

// Call invokes a method on the helper: the packet type tag is the
// method name and the arguments travel as packet arguments. Delivery
// is FIFO with every other packet on this link.
func (c *Caller) Call(method string, args ...any) error {
	c.mu.Lock()
	p := c.p
	c.mu.Unlock()
	if p == nil {
		return &BridgeError{Proc: c.path, Op: "call", Err: errors.New("not started")}
	}
	return p.Send(method, args...)
}

// OnSignal registers fn for packets of the given type coming back
// from the helper. Multiple subscribers per name run in registration
// order on the connection's reader goroutine.
func (c *Caller) OnSignal(name string, fn func(args []any)) {
	c.mu.Lock()
	c.signals[name] = append(c.signals[name], fn)
	c.mu.Unlock()
}

// OnEnd registers fn for the single terminal event. Registering after
// the event invokes fn immediately.
func (c *Caller) OnEnd(fn func(err error)) {
	c.mu.Lock()
	select {
	case <-c.done:
		err := c.endErr
		c.mu.Unlock()
		fn(err)
		return
	default:
	}
	c.onEnd = append(c.onEnd, fn)
	c.mu.Unlock()
}

// Stop asks the helper to finish with a cooperative end packet and
// closes the connection; the supervisor kills the process if it
// ignores both. Stop returns immediately, use Wait to join.
func (c *Caller) Stop() {
	c.mu.Lock()
	p := c.p
	if p == nil || c.stopping {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	c.mu.Unlock()

	c.log.Debug("stopping helper")
	p.Send(packet.TypeEnd)
	p.Close("stop requested")
}

// Wait blocks until the helper link is fully finished and returns the
// terminal error, if any.
func (c *Caller) Wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endErr
}

// Protocol exposes the underlying connection, mainly for Info
// snapshots. Nil before Start.
func (c *Caller) Protocol() *protocol.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.p
}

// watch supervises both failure sources: the connection closing and
// the process exiting. A helper can die without cleanly closing its
// pipes, so process exit is monitored independently.
func (c *Caller) watch(cmd *exec.Cmd, p *protocol.Protocol) {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var endErr error
	select {
	case err := <-exited:
		p.Close("process exited")
		<-p.Done()
		endErr = c.exitError(err)
	case <-p.Done():
		endErr = c.closeError(p)
		select {
		case err := <-exited:
			if endErr == nil {
				endErr = c.exitError(err)
			}
		case <-time.After(c.opts.grace):
			c.log.Warn("helper did not exit, killing", "pid", cmd.Process.Pid)
			cmd.Process.Kill()
			err := <-exited
			if endErr == nil {
				endErr = c.exitError(err)
			}
		}
	}
	c.finish(endErr)
}

// closeError maps the connection's close cause to the caller-visible
// end error. Local and remote ends are clean; a bare EOF means the
// helper went away, which the process watcher reports more precisely.
func (c *Caller) closeError(p *protocol.Protocol) error {
	cause, reason := p.CloseCause()
	switch cause {
	case protocol.ReasonLocal, protocol.ReasonRemote, protocol.ReasonEOF:
		return nil
	}
	return &BridgeError{Proc: c.path, Op: "run", Err: errors.New(reason)}
}

func (c *Caller) exitError(err error) error {
	if err == nil {
		return nil
	}
	return &BridgeError{Proc: c.path, Op: "wait", Err: err}
}

// finish delivers the terminal event exactly once. The done channel
// closes under the same lock that guards OnEnd registration, so no
// subscriber can slip between the snapshot and the close.
func (c *Caller) finish(err error) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.endErr = err
		fns := append(([]func(error))(nil), c.onEnd...)
		close(c.done)
		c.mu.Unlock()

		if err != nil {
			c.log.Warn("helper ended", "err", err)
		} else {
			c.log.Info("helper ended")
		}
		for _, fn := range fns {
			fn(err)
		}
	})
}

// handle runs on the reader goroutine. Engine types are already acted
// on by the protocol layer; everything else fans out to signal
// subscribers.
func (c *Caller) handle(pkt *packet.Packet) {
	switch pkt.Type {
	case packet.TypeHello, packet.TypeChallenge, packet.TypeEnd:
		return
	}
	if packet.IsSynthetic(pkt.Type) {
		return
	}

	c.mu.Lock()
	subs := append(([]func([]any))(nil), c.signals[pkt.Type]...)
	c.mu.Unlock()
	if len(subs) == 0 {
		c.log.Debug("dropping packet with no subscribers", "type", pkt.Type)
		return
	}
	for _, fn := range subs {
		c.invokeSignal(pkt.Type, fn, pkt.Args)
	}
}

// invokeSignal shields the reader goroutine from subscriber panics:
// one bad callback must not take down the link.
func (c *Caller) invokeSignal(name string, fn func([]any), args []any) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("signal subscriber panicked", "signal", name, "panic", r)
		}
	}()
	fn(args)
}
