package protocol

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skylightd/skylight/pkg/compress"
	"github.com/skylightd/skylight/pkg/encoding"
	"github.com/skylightd/skylight/pkg/packet"
	"github.com/skylightd/skylight/pkg/wire"
)

// Conn is the transport contract the engine requires. Implementations
// live in pkg/transport and satisfy it structurally; the engine never
// needs more than a byte stream it can close from another goroutine.
type Conn interface {
	io.ReadWriteCloser

	// Alive reports whether the transport believes the peer is still
	// reachable.
	Alive() bool

	// Kind names the transport family ("tcp", "unix", "ws", "pipe",
	// "mem") for logs and introspection.
	Kind() string

	// Target describes the peer endpoint for logs and introspection.
	Target() string
}

// Handler receives fully decoded inbound packets. Handlers run on the
// reader goroutine, serially, in decode order; a slow handler delays
// subsequent packets on the same connection only.
type Handler func(*packet.Packet)

// Protocol runs one connection: it owns the reader and writer
// goroutines, the outgoing queue, handshake negotiation, and the
// chunk assembler. Instances share nothing with each other beyond the
// optional Registry and Metrics.
type Protocol struct {
	cfg  *Config
	conn Conn
	id   string
	log  *slog.Logger

	q     *sendQueue
	asm   *wire.Assembler
	st    *stats
	wbuf  []byte // writer-owned coalescing buffer
	noLog map[string]struct{}

	state   atomic.Int32
	active  atomic.Bool // negotiation complete; latched true forever
	serID   uint8       // negotiated serializer, written before active
	compID  uint8       // negotiated compressor, written before active
	handler atomic.Value

	hsMu      sync.Mutex
	helloSent bool
	helloRecv bool
	hsTimer   *time.Timer
	remote    packet.Capabilities

	started atomic.Bool
	loops   atomic.Bool

	closeOnce   sync.Once
	closeMu     sync.Mutex
	closeCause  CloseReason
	closeReason string
	stopW       chan struct{}
	readerDone  chan struct{}
	writerDone  chan struct{}
	done        chan struct{}
}

// New builds a Protocol over conn. A nil cfg means
// DefaultConfig(RoleClient); zero cfg fields are filled with defaults.
// The connection does nothing until Start.
func New(conn Conn, cfg *Config) (*Protocol, error) {
	if cfg == nil {
		cfg = DefaultConfig(RoleClient)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Protocol{
		cfg:        cfg,
		conn:       conn,
		id:         newID(),
		q:          newSendQueue(),
		st:         newStats(),
		noLog:      make(map[string]struct{}, len(cfg.LogFilter)),
		stopW:      make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, t := range cfg.LogFilter {
		p.noLog[t] = struct{}{}
	}
	p.log = cfg.Logger.With(
		"component", "protocol",
		"id", p.id[:8],
		"role", cfg.Role.String(),
		"peer", conn.Target(),
	)
	p.state.Store(int32(StateHandshake))
	p.handler.Store(Handler(nil))
	p.asm = wire.NewAssembler(*cfg.Limits, func() {
		p.fail(&FramingError{Err: wire.ErrAssemblyTimeout})
	})
	return p, nil
}

func newID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// ID returns the connection's random identifier, the registry key.
func (p *Protocol) ID() string { return p.id }

// State returns the current lifecycle state.
func (p *Protocol) State() State { return State(p.state.Load()) }

// Done is closed once the connection reaches CLOSED and both loops
// have exited.
func (p *Protocol) Done() <-chan struct{} { return p.done }

// CloseCause reports why the connection closed (or is closing). Before
// any close it returns ReasonNone, "".
func (p *Protocol) CloseCause() (CloseReason, string) {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	return p.closeCause, p.closeReason
}

// SetPacketHandler registers or replaces the inbound dispatch target.
// Safe to call at any time; packets decoded while no handler is set
// are dropped.
func (p *Protocol) SetPacketHandler(h Handler) {
	p.handler.Store(h)
}

// RemoteCapabilities returns a copy of the peer's hello capabilities,
// or nil before the remote hello arrived.
func (p *Protocol) RemoteCapabilities() packet.Capabilities {
	p.hsMu.Lock()
	defer p.hsMu.Unlock()
	return p.remote.Clone()
}

// Start spawns the reader and writer goroutines and, for clients,
// enqueues the local hello. On error the Protocol is unusable and the
// caller still owns the Conn.
func (p *Protocol) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("protocol: already started")
	}
	if p.cfg.Registry != nil {
		if err := p.cfg.Registry.Add(p); err != nil {
			return err
		}
	}
	if p.cfg.HandshakeTimeout > 0 {
		p.hsMu.Lock()
		p.hsTimer = time.AfterFunc(p.cfg.HandshakeTimeout, func() {
			if !p.active.Load() {
				p.fail(ErrHandshakeTimeout)
			}
		})
		p.hsMu.Unlock()
	}
	p.cfg.Metrics.ConnectionOpened(p.conn.Kind())
	p.log.Info("connection starting", "transport", p.conn.Kind())

	p.loops.Store(true)
	go p.readLoop()
	go p.writeLoop()

	if p.cfg.Role == RoleClient {
		return p.SendHello(nil)
	}
	return nil
}

// Send enqueues a packet built from the type tag and arguments. It
// never blocks; ordering across Send calls is delivery ordering.
func (p *Protocol) Send(ptype string, args ...any) error {
	return p.SendPacket(packet.New(ptype, args...))
}

// SendPacket enqueues pkt. After CLOSING the packet is dropped,
// ErrProtocolClosed is returned, and a WithOnSent callback is still
// notified with that error.
func (p *Protocol) SendPacket(pkt *packet.Packet, opts ...SendOption) error {
	if pkt == nil || pkt.Type == "" {
		return errors.New("protocol: packet without a type tag")
	}
	if packet.IsSynthetic(pkt.Type) {
		return fmt.Errorf("%w: %q", ErrSyntheticType, pkt.Type)
	}
	it := &outgoingItem{pkt: pkt}
	for _, o := range opts {
		o(it)
	}
	return p.enqueue(it)
}

// SendHello enqueues the local hello carrying the engine capabilities
// merged with Config.Features and extra. Clients call it implicitly
// via Start; servers answering a challenge flow call it once the
// challenge response checks out.
func (p *Protocol) SendHello(extra packet.Capabilities) error {
	if p.active.Load() {
		return ErrHandshakeState
	}
	pkt := packet.New(packet.TypeHello, p.helloCapabilities(extra))

	p.hsMu.Lock()
	p.helloSent = true
	p.hsMu.Unlock()

	if err := p.enqueue(&outgoingItem{pkt: pkt}); err != nil {
		return err
	}
	p.maybeActivate()
	return nil
}

// SendChallenge enqueues an authentication challenge. Only the
// accepting side issues challenges, and only before its own hello.
func (p *Protocol) SendChallenge(args ...any) error {
	if p.cfg.Role != RoleServer {
		return errors.New("protocol: only the accepting side issues challenges")
	}
	if p.State() != StateHandshake {
		return ErrHandshakeState
	}
	return p.enqueue(&outgoingItem{pkt: packet.New(packet.TypeChallenge, args...)})
}

func (p *Protocol) enqueue(it *outgoingItem) error {
	if State(p.state.Load()) >= StateClosing || !p.q.push(it) {
		it.notify(ErrProtocolClosed)
		return ErrProtocolClosed
	}
	p.cfg.Metrics.QueueDepthDelta(1)
	return nil
}

// Close moves the connection to CLOSING, flushes already-queued items
// best-effort within Config.CloseFlushTimeout, then closes the
// transport. Idempotent and safe from any goroutine, including packet
// handlers.
func (p *Protocol) Close(reason string) {
	if reason == "" {
		reason = "closed"
	}
	p.shutdownOnce(ReasonLocal, reason, nil)
}

// fail is the single funnel for every fatal condition.
func (p *Protocol) fail(err error) {
	cause, reason := classify(err)
	p.shutdownOnce(cause, reason, err)
}

func classify(err error) (CloseReason, string) {
	var nego *NegotiationError
	var framing *FramingError
	var transport *TransportError
	switch {
	case errors.As(err, &nego):
		return ReasonNegotiation, "no common " + nego.What
	case errors.Is(err, ErrHelloRejected):
		return ReasonNegotiation, "hello rejected"
	case errors.Is(err, ErrHandshakeTimeout):
		return ReasonTimeout, "handshake timed out"
	case errors.Is(err, wire.ErrAssemblyTimeout):
		return ReasonTimeout, "chunk assembly timed out"
	case errors.As(err, &framing):
		return ReasonFraming, "framing error"
	case errors.Is(err, io.EOF):
		return ReasonEOF, "connection closed by peer"
	case errors.As(err, &transport):
		return ReasonTransport, transport.Op + " failed"
	default:
		return ReasonTransport, "transport failure"
	}
}

// shutdownOnce records the close cause, enters CLOSING, and hands the
// rest to a dedicated goroutine. Losers of the race are silent no-ops,
// so late failures from loops being torn down never overwrite the
// first cause.
func (p *Protocol) shutdownOnce(cause CloseReason, reason string, err error) {
	p.closeOnce.Do(func() {
		p.closeMu.Lock()
		p.closeCause = cause
		p.closeReason = reason
		p.closeMu.Unlock()

		old := State(p.state.Swap(int32(StateClosing)))
		if old != StateClosing && old != StateClosed {
			p.announceState(old, StateClosing)
		}
		if err != nil {
			p.log.Warn("connection failing", "cause", cause.String(), "reason", reason, "err", err)
		} else {
			p.log.Info("connection closing", "cause", cause.String(), "reason", reason)
		}
		go p.shutdown(cause, reason, err == nil)
	})
}

// shutdown finishes the teardown: optional flush window, transport
// close, loop join, queue drain, terminal state, and the synthetic
// connection-lost dispatch. It is the only goroutine that ever closes
// done, so consumers get exactly one terminal notification, ordered
// after every packet decoded before the failure.
func (p *Protocol) shutdown(cause CloseReason, reason string, flush bool) {
	if flush && p.loops.Load() {
		flushed := make(chan struct{})
		var once sync.Once
		marker := &outgoingItem{onSent: func(error) {
			once.Do(func() { close(flushed) })
		}}
		if p.q.push(marker) {
			t := time.NewTimer(p.cfg.CloseFlushTimeout)
			select {
			case <-flushed:
			case <-t.C:
			case <-p.writerDone:
			}
			t.Stop()
		}
	}

	close(p.stopW)
	if err := p.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		p.log.Debug("transport close", "err", err)
	}
	if p.loops.Load() {
		<-p.readerDone
		<-p.writerDone
	}

	undelivered := p.q.close()
	for _, it := range undelivered {
		if it.pkt != nil {
			p.cfg.Metrics.QueueDepthDelta(-1)
		}
		it.notify(ErrProtocolClosed)
	}
	if n := len(undelivered); n > 0 {
		p.log.Debug("discarded queued packets", "count", n)
	}
	p.asm.Close()

	p.state.Store(int32(StateClosed))
	p.announceState(StateClosing, StateClosed)
	p.cfg.Metrics.ConnectionClosed(p.conn.Kind(), cause.String())
	p.log.Info("connection closed",
		"reason", reason,
		"packets_sent", p.st.packetsSent.Load(),
		"packets_received", p.st.packetsRecv.Load(),
	)

	p.dispatch(packet.New(packet.TypeConnectionLost, reason))
	close(p.done)
}

func (p *Protocol) announceState(old, next State) {
	p.log.Debug("state change", "from", old.String(), "to", next.String())
	if p.cfg.OnStateChange != nil {
		p.cfg.OnStateChange(p, old, next)
	}
}

// maybeActivate flips HANDSHAKE to ACTIVE once both hellos are in.
// The negotiated codec ids are published by the active flag: they are
// written under hsMu strictly before the Store, so any goroutine that
// observes active==true also observes them.
func (p *Protocol) maybeActivate() {
	p.hsMu.Lock()
	ready := p.helloSent && p.helloRecv
	serID, compID := p.serID, p.compID
	var timer *time.Timer
	if ready {
		timer, p.hsTimer = p.hsTimer, nil
	}
	p.hsMu.Unlock()
	if !ready {
		return
	}
	if timer != nil {
		timer.Stop()
	}

	p.active.Store(true)
	if !p.state.CompareAndSwap(int32(StateHandshake), int32(StateActive)) {
		return
	}
	ser, _ := encoding.Get(serID)
	comp, _ := compress.Get(compID)
	p.log.Info("handshake complete", "serializer", ser.Name(), "compressor", comp.Name())
	p.announceState(StateHandshake, StateActive)
	p.q.signal() // release packets parked behind the handshake
}

// processHello negotiates codecs and drives the reply policy. Repeat
// hellos before ACTIVE are the challenge flow (the second client hello
// carries the authentication response) and renegotiate from the merged
// capabilities; a hello after ACTIVE is a violation since capabilities
// are immutable once negotiation completes.
func (p *Protocol) processHello(pkt *packet.Packet) error {
	if p.active.Load() {
		return &FramingError{Err: errors.New("hello after negotiation completed")}
	}
	caps := pkt.Arg(0).Caps()
	if caps == nil {
		return &FramingError{Err: errors.New("hello without capabilities")}
	}

	remoteSer := caps.IDList(packet.CapSerializers)
	if len(remoteSer) == 0 {
		remoteSer = []uint8{encoding.BootstrapID}
	}
	remoteComp := caps.IDList(packet.CapCompressors)
	if len(remoteComp) == 0 {
		remoteComp = []uint8{compress.IDNone}
	}
	serID, ok := negotiate(p.cfg.Serializers, remoteSer)
	if !ok {
		return &NegotiationError{
			What:   "serializer",
			Local:  encoding.Names(p.cfg.Serializers),
			Remote: encoding.Names(remoteSer),
		}
	}
	compID, ok := negotiate(p.cfg.Compressors, remoteComp)
	if !ok {
		return &NegotiationError{
			What:   "compressor",
			Local:  compress.Names(p.cfg.Compressors),
			Remote: compress.Names(remoteComp),
		}
	}

	p.hsMu.Lock()
	if p.remote == nil {
		p.remote = caps.Clone()
	} else {
		p.remote.Merge(caps)
	}
	p.serID = serID
	p.compID = compID
	p.helloRecv = true
	replied := p.helloSent
	p.hsMu.Unlock()

	p.log.Debug("hello received",
		"peer_version", caps.Str(packet.CapVersion),
		"serializers", encoding.Names(remoteSer),
		"compressors", compress.Names(remoteComp),
	)

	if p.cfg.OnHello != nil {
		if err := p.cfg.OnHello(p, caps.Clone()); err != nil {
			return fmt.Errorf("%w: %v", ErrHelloRejected, err)
		}
	} else if p.cfg.Role == RoleServer && !replied {
		if err := p.SendHello(nil); err != nil {
			return err
		}
	}
	p.maybeActivate()
	return nil
}

// --- reader side ---

func (p *Protocol) readLoop() {
	defer close(p.readerDone)
	for {
		h, payload, err := wire.ReadFrame(p.conn, *p.cfg.Limits)
		if err != nil {
			p.readFailed(err)
			return
		}
		if !p.handleFrame(h, payload) {
			return
		}
	}
}

// readFailed classifies a read error. Reads are never speculative, so
// every error here ends the connection; a clean EOF is a normal remote
// close rather than a failure.
func (p *Protocol) readFailed(err error) {
	switch {
	case errors.Is(err, io.EOF):
		p.shutdownOnce(ReasonEOF, "connection closed by peer", nil)
	case errors.Is(err, wire.ErrBadHeader),
		errors.Is(err, wire.ErrHeaderVersion),
		errors.Is(err, wire.ErrFrameTooLarge),
		errors.Is(err, wire.ErrShortChunk),
		errors.Is(err, io.ErrUnexpectedEOF):
		p.fail(&FramingError{Err: err})
	default:
		p.fail(&TransportError{Op: "read", Err: err})
	}
}

func (p *Protocol) handleFrame(h wire.Header, payload []byte) bool {
	chunk := h.Chunk.Has(wire.FlagChunk)
	p.st.frameIn(chunk)
	p.cfg.Metrics.FrameReceived(chunk)

	if chunk {
		full, err := p.asm.Add(h, payload)
		if err != nil {
			p.fail(&FramingError{Err: err})
			return false
		}
		if full == nil {
			return true
		}
		payload = full
	}
	return p.handlePayload(h, payload)
}

// handlePayload decodes one complete packet payload and routes it.
// Returning false stops the reader loop.
func (p *Protocol) handlePayload(h wire.Header, payload []byte) bool {
	active := p.active.Load()
	if active {
		if h.Serializer != p.serID {
			p.fail(&FramingError{Err: fmt.Errorf(
				"serializer mismatch: frame carries %d, negotiated %d", h.Serializer, p.serID)})
			return false
		}
		if h.Compressor != compress.IDNone && h.Compressor != p.compID {
			p.fail(&FramingError{Err: fmt.Errorf(
				"compressor mismatch: frame carries %d, negotiated %d", h.Compressor, p.compID)})
			return false
		}
	} else if h.Serializer != encoding.BootstrapID || h.Compressor != compress.IDNone {
		p.fail(&FramingError{Err: fmt.Errorf(
			"codec ids %d/%d before negotiation", h.Serializer, h.Compressor)})
		return false
	}

	if h.Compressor != compress.IDNone {
		comp, ok := compress.Get(h.Compressor)
		if !ok {
			p.fail(&FramingError{Err: fmt.Errorf("%w %d", compress.ErrUnknownCompressor, h.Compressor)})
			return false
		}
		raw, err := comp.Decompress(payload, p.cfg.Limits.MaxPacketSize)
		if err != nil {
			p.synthesize(packet.TypeGibberish, "decompression failed", payload)
			p.fail(&FramingError{Err: err})
			return false
		}
		payload = raw
	}

	ser, _ := encoding.Get(h.Serializer)
	pkt, err := ser.Unmarshal(payload)
	if err != nil {
		tag, msg := packet.TypeGibberish, "undecodable payload"
		if errors.Is(err, encoding.ErrNotPacket) || errors.Is(err, encoding.ErrNoType) {
			tag, msg = packet.TypeInvalid, "malformed packet structure"
		}
		p.synthesize(tag, msg, payload)
		p.fail(&FramingError{Err: err})
		return false
	}

	p.st.addRecv(pkt.Type, len(payload))
	p.cfg.Metrics.PacketReceived(pkt.Type, len(payload))
	if p.debugPacket(pkt.Type) {
		p.log.Debug("packet in", "packet", pkt.String(), "bytes", len(payload))
	}

	if packet.IsSynthetic(pkt.Type) {
		p.fail(&FramingError{Err: fmt.Errorf("synthetic type %q received from peer", pkt.Type)})
		return false
	}

	switch pkt.Type {
	case packet.TypeHello:
		if err := p.processHello(pkt); err != nil {
			p.fail(err)
			return false
		}
		p.dispatch(pkt)
		return true
	case packet.TypeChallenge:
		if p.cfg.Role != RoleClient {
			p.fail(&FramingError{Err: errors.New("challenge received by the accepting side")})
			return false
		}
		p.dispatch(pkt)
		return true
	case packet.TypeEnd:
		p.dispatch(pkt)
		p.shutdownOnce(ReasonRemote, "end received", nil)
		return false
	}

	if !active {
		p.fail(&FramingError{Err: fmt.Errorf("%q received before handshake completed", pkt.Type)})
		return false
	}
	p.dispatch(pkt)
	return true
}

// synthesize delivers an engine-generated packet describing a peer
// failure, ahead of the connection-lost that will follow.
func (p *Protocol) synthesize(tag, msg string, data []byte) {
	p.dispatch(packet.New(tag, msg, clip(data)))
}

// clip bounds how much of a bad payload handlers see.
func clip(b []byte) []byte {
	const max = 1024
	if len(b) <= max {
		return b
	}
	return b[:max]
}

func (p *Protocol) dispatch(pkt *packet.Packet) {
	h, _ := p.handler.Load().(Handler)
	if h == nil {
		p.log.Debug("no handler registered, dropping packet", "type", pkt.Type)
		return
	}
	h(pkt)
}

// debugPacket gates per-packet debug logging. Packet formatting is not
// free, so the level check runs first, then the LogFilter list.
func (p *Protocol) debugPacket(ptype string) bool {
	if !p.log.Enabled(context.Background(), slog.LevelDebug) {
		return false
	}
	_, filtered := p.noLog[ptype]
	return !filtered
}

// --- writer side ---

func (p *Protocol) writeLoop() {
	defer close(p.writerDone)
	for {
		it, ok := p.q.popIf(p.sendable)
		if !ok {
			select {
			case <-p.q.wakeCh():
				continue
			case <-p.stopW:
				return
			}
		}
		if p.writeItem(it) != nil {
			return
		}
	}
}

// sendable parks application packets behind the handshake: until
// ACTIVE only hello/challenge (and the internal flush marker) may hit
// the wire. Parking the queue head preserves FIFO for early senders.
func (p *Protocol) sendable(it *outgoingItem) bool {
	return it.pkt == nil || p.active.Load() || packet.IsHandshake(it.pkt.Type)
}

type pendingSend struct {
	it     *outgoingItem
	ptype  string
	nbytes int
	frames int
}

// writeItem encodes first plus, when it hinted more-coming, any
// immediately ready successors, and flushes them in one write. The
// coalescing window is bounded by CoalesceLimit and never waits for
// packets that are not already queued.
func (p *Protocol) writeItem(first *outgoingItem) error {
	buf := p.wbuf[:0]
	var batch []pendingSend

	it := first
	for {
		if it.onStarted != nil {
			it.onStarted()
		}
		if it.pkt == nil {
			it.notify(nil)
		} else {
			p.cfg.Metrics.QueueDepthDelta(-1)
			mark := len(buf)
			n, frames, err := p.encodeItem(&buf, it)
			if err != nil {
				buf = buf[:mark]
				p.log.Warn("dropping unsendable packet", "type", it.pkt.Type, "err", err)
				it.notify(err)
			} else {
				batch = append(batch, pendingSend{it: it, ptype: it.pkt.Type, nbytes: n, frames: frames})
			}
		}
		if !it.moreComing || len(buf) >= p.cfg.CoalesceLimit {
			break
		}
		next, ok := p.q.popIf(p.sendable)
		if !ok {
			break
		}
		it = next
		p.st.coalesced.Add(1)
	}
	p.stashBuffer(buf)

	if len(buf) == 0 {
		return nil
	}
	if err := p.writeAll(buf); err != nil {
		for _, ps := range batch {
			ps.it.notify(err)
		}
		p.fail(&TransportError{Op: "write", Err: err})
		return err
	}
	for _, ps := range batch {
		p.st.addSent(ps.ptype, ps.nbytes, ps.frames)
		p.cfg.Metrics.PacketSent(ps.ptype, ps.nbytes, ps.frames)
		if p.debugPacket(ps.ptype) {
			p.log.Debug("packet out", "type", ps.ptype, "bytes", ps.nbytes, "frames", ps.frames)
		}
		ps.it.notify(nil)
	}
	return nil
}

// stashBuffer keeps the coalescing buffer for reuse unless a huge
// chunked packet inflated it.
func (p *Protocol) stashBuffer(buf []byte) {
	if cap(buf) <= 4*p.cfg.CoalesceLimit {
		p.wbuf = buf[:0]
	} else {
		p.wbuf = nil
	}
}

// encodeItem serializes, optionally compresses, and frames one packet,
// appending the wire bytes to *buf. It returns the payload size and
// frame count actually emitted.
func (p *Protocol) encodeItem(buf *[]byte, it *outgoingItem) (int, int, error) {
	serID, compID := p.codecFor(it.pkt.Type)
	ser, _ := encoding.Get(serID)
	payload, err := ser.Marshal(it.pkt)
	if err != nil {
		return 0, 0, fmt.Errorf("protocol: marshal %q: %w", it.pkt.Type, err)
	}
	if len(payload) > p.cfg.Limits.MaxPacketSize {
		return 0, 0, fmt.Errorf("%w: %q is %d bytes", ErrSendTooLarge, it.pkt.Type, len(payload))
	}
	p.warnLarge(it.pkt.Type, len(payload))

	wireComp := compress.IDNone
	if compID != compress.IDNone {
		if !it.noCompress && len(payload) >= p.cfg.MinCompressSize {
			comp, _ := compress.Get(compID)
			if packed, cerr := comp.Compress(payload, p.cfg.CompressionLevel); cerr == nil && len(packed) < len(payload) {
				payload = packed
				wireComp = compID
			}
		}
		if wireComp == compress.IDNone {
			p.st.compressSkipped.Add(1)
			p.cfg.Metrics.CompressionSkipped()
		}
	}

	frames := wire.Split(payload, wireComp, serID, p.cfg.Limits.MaxSingleFrame)
	for _, f := range frames {
		*buf = f.AppendTo(*buf)
	}
	return len(payload), len(frames), nil
}

// codecFor picks the wire codec ids for an outgoing packet type.
// Handshake packets always use the bootstrap serializer uncompressed,
// even after ACTIVE, so the peer can decode them without agreement.
func (p *Protocol) codecFor(ptype string) (uint8, uint8) {
	if packet.IsHandshake(ptype) || !p.active.Load() {
		return encoding.BootstrapID, compress.IDNone
	}
	return p.serID, p.compID
}

func (p *Protocol) warnLarge(ptype string, n int) {
	if n <= p.cfg.LargePacketWarn {
		return
	}
	for _, t := range p.cfg.LargePackets {
		if t == ptype {
			return
		}
	}
	p.log.Warn("unusually large packet", "type", ptype, "bytes", n)
}

// writeAll pushes buf to the transport, retrying timed-out writes a
// bounded number of times before giving up.
func (p *Protocol) writeAll(buf []byte) error {
	retries := 0
	for len(buf) > 0 {
		n, err := p.conn.Write(buf)
		buf = buf[n:]
		if err == nil {
			continue
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() && retries < p.cfg.WriteRetries {
			retries++
			p.log.Debug("write timed out, retrying", "attempt", retries, "remaining", len(buf))
			time.Sleep(time.Duration(retries) * 5 * time.Millisecond)
			continue
		}
		return err
	}
	return nil
}

// Info snapshots the connection for introspection: lifecycle, codec
// choice, transport, and traffic counters.
func (p *Protocol) Info() map[string]any {
	info := map[string]any{
		"id":        p.id,
		"role":      p.cfg.Role.String(),
		"state":     p.State().String(),
		"transport": p.conn.Kind(),
		"target":    p.conn.Target(),
		"alive":     p.conn.Alive(),
		"queued":    p.q.length(),
	}
	if p.active.Load() {
		ser, _ := encoding.Get(p.serID)
		comp, _ := compress.Get(p.compID)
		info["serializer"] = ser.Name()
		info["compressor"] = comp.Name()
	}
	p.closeMu.Lock()
	if p.closeCause != ReasonNone {
		info["close_cause"] = p.closeCause.String()
		info["close_reason"] = p.closeReason
	}
	p.closeMu.Unlock()
	info["assembling"] = p.asm.Active()
	for k, v := range p.st.snapshot() {
		info[k] = v
	}
	return info
}
