package protocol

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/skylightd/skylight/pkg/compress"
	"github.com/skylightd/skylight/pkg/encoding"
	"github.com/skylightd/skylight/pkg/packet"
	"github.com/skylightd/skylight/pkg/telemetry"
	"github.com/skylightd/skylight/pkg/wire"
)

// Config defaults.
const (
	DefaultCompressionLevel  = 3
	DefaultMinCompressSize   = 378
	DefaultCoalesceLimit     = 128 << 10
	DefaultWriteRetries      = 3
	DefaultCloseFlushTimeout = 500 * time.Millisecond
	DefaultLargePacketWarn   = 4096
)

// Config configures one Protocol instance. Zero fields are filled with
// defaults by New; a nil Config means DefaultConfig(RoleClient).
type Config struct {
	// Role selects which side of the handshake this Protocol plays.
	Role Role

	// Limits are the frame and reassembly bounds.
	Limits *wire.Limits

	// Serializers is the local preference order, most-preferred first.
	Serializers []uint8

	// Compressors is the local preference order, most-preferred first.
	// Include compress.IDNone to accept uncompressed peers.
	Compressors []uint8

	// CompressionLevel is passed to the negotiated compressor (1..9).
	CompressionLevel int

	// MinCompressSize skips compression for payloads below it; tiny
	// payloads rarely shrink and always cost CPU.
	MinCompressSize int

	// CoalesceLimit bounds how many bytes of consecutive packets the
	// writer folds into a single write when senders hint more-coming.
	CoalesceLimit int

	// WriteRetries bounds retries of timed-out writes before the
	// connection is failed.
	WriteRetries int

	// HandshakeTimeout fails a connection that is not ACTIVE in time.
	// Zero disables the timer; servers normally enable it.
	HandshakeTimeout time.Duration

	// CloseFlushTimeout bounds the writer's best-effort flush of
	// already-queued items during Close.
	CloseFlushTimeout time.Duration

	// LargePacketWarn logs a warning for serialized packets above this
	// size whose type is not listed in LargePackets.
	LargePacketWarn int

	// LargePackets are packet types expected to be big (icons, pixels).
	LargePackets []string

	// LogFilter lists packet types excluded from per-packet debug
	// logging; damage and pixel streams drown the log otherwise.
	LogFilter []string

	// Features are extra capability entries merged into the local hello.
	Features packet.Capabilities

	// OnHello runs on the reader goroutine when a remote hello arrives.
	// When set it replaces the automatic server hello reply: the
	// consumer decides when to SendHello, typically after a challenge
	// round trip. A non-nil error fails the connection.
	OnHello func(p *Protocol, remote packet.Capabilities) error

	// OnStateChange observes lifecycle transitions.
	OnStateChange func(p *Protocol, old, next State)

	// Logger receives structured connection logs. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Metrics receives engine counters; nil disables them.
	Metrics *telemetry.Metrics

	// Registry, when set, tracks this Protocol from Start until CLOSED.
	Registry *Registry
}

// DefaultConfig returns the standard configuration for the given role.
func DefaultConfig(role Role) *Config {
	limits := wire.DefaultLimits()
	return &Config{
		Role:              role,
		Limits:            &limits,
		Serializers:       encoding.DefaultIDs(),
		Compressors:       compress.DefaultIDs(),
		CompressionLevel:  DefaultCompressionLevel,
		MinCompressSize:   DefaultMinCompressSize,
		CoalesceLimit:     DefaultCoalesceLimit,
		WriteRetries:      DefaultWriteRetries,
		CloseFlushTimeout: DefaultCloseFlushTimeout,
		LargePacketWarn:   DefaultLargePacketWarn,
		LargePackets:      []string{packet.TypeHello},
		Logger:            slog.Default(),
	}
}

// Clone returns a deep copy; slices, features, and limits are not
// shared with the original.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Serializers = append([]uint8(nil), c.Serializers...)
	out.Compressors = append([]uint8(nil), c.Compressors...)
	out.LargePackets = append([]string(nil), c.LargePackets...)
	out.LogFilter = append([]string(nil), c.LogFilter...)
	out.Features = c.Features.Clone()
	if c.Limits != nil {
		limits := *c.Limits
		out.Limits = &limits
	}
	return &out
}

// WithLimits sets the frame and reassembly bounds.
func (c *Config) WithLimits(l wire.Limits) *Config {
	c.Limits = &l
	return c
}

// WithSerializers sets the serializer preference order.
func (c *Config) WithSerializers(ids ...uint8) *Config {
	c.Serializers = ids
	return c
}

// WithCompressors sets the compressor preference order.
func (c *Config) WithCompressors(ids ...uint8) *Config {
	c.Compressors = ids
	return c
}

// WithFeatures sets the extra hello capability entries.
func (c *Config) WithFeatures(caps packet.Capabilities) *Config {
	c.Features = caps
	return c
}

// WithHandshakeTimeout sets the handshake deadline.
func (c *Config) WithHandshakeTimeout(d time.Duration) *Config {
	c.HandshakeTimeout = d
	return c
}

// WithLogger sets the structured logger.
func (c *Config) WithLogger(log *slog.Logger) *Config {
	c.Logger = log
	return c
}

// WithMetrics sets the telemetry recorder.
func (c *Config) WithMetrics(m *telemetry.Metrics) *Config {
	c.Metrics = m
	return c
}

// WithRegistry sets the session registry.
func (c *Config) WithRegistry(r *Registry) *Config {
	c.Registry = r
	return c
}

// withDefaults returns a copy with zero fields filled in.
func (c *Config) withDefaults() *Config {
	out := c.Clone()
	def := DefaultConfig(out.Role)
	if out.Limits == nil {
		out.Limits = def.Limits
	}
	if len(out.Serializers) == 0 {
		out.Serializers = def.Serializers
	}
	if len(out.Compressors) == 0 {
		out.Compressors = def.Compressors
	}
	if out.CompressionLevel == 0 {
		out.CompressionLevel = def.CompressionLevel
	}
	if out.MinCompressSize == 0 {
		out.MinCompressSize = def.MinCompressSize
	}
	if out.CoalesceLimit == 0 {
		out.CoalesceLimit = def.CoalesceLimit
	}
	if out.WriteRetries == 0 {
		out.WriteRetries = def.WriteRetries
	}
	if out.CloseFlushTimeout == 0 {
		out.CloseFlushTimeout = def.CloseFlushTimeout
	}
	if out.LargePacketWarn == 0 {
		out.LargePacketWarn = def.LargePacketWarn
	}
	if out.LargePackets == nil {
		out.LargePackets = def.LargePackets
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	return out
}

// Validate reports whether the configuration is usable.
func (c *Config) Validate() error {
	if c.Role != RoleClient && c.Role != RoleServer {
		return fmt.Errorf("protocol: unknown role %d", c.Role)
	}
	if c.Limits == nil {
		return fmt.Errorf("protocol: nil limits")
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if len(c.Serializers) == 0 {
		return fmt.Errorf("protocol: empty serializer preference list")
	}
	for _, id := range c.Serializers {
		if _, ok := encoding.Get(id); !ok {
			return fmt.Errorf("protocol: %w %d", encoding.ErrUnknownSerializer, id)
		}
	}
	if len(c.Compressors) == 0 {
		return fmt.Errorf("protocol: empty compressor preference list")
	}
	for _, id := range c.Compressors {
		if _, ok := compress.Get(id); !ok {
			return fmt.Errorf("protocol: %w %d", compress.ErrUnknownCompressor, id)
		}
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		return fmt.Errorf("protocol: compression level %d out of range 1..9", c.CompressionLevel)
	}
	if c.MinCompressSize < 0 || c.CoalesceLimit < wire.HeaderSize ||
		c.WriteRetries < 0 || c.HandshakeTimeout < 0 ||
		c.CloseFlushTimeout < 0 || c.LargePacketWarn < 0 {
		return fmt.Errorf("protocol: negative or degenerate size/time bound")
	}
	return nil
}
