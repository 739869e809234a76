package wire

import (
	"fmt"
	"time"
)

// Default and hard bounds for the frame layer.
const (
	// DefaultMaxSingleFrame is the payload size above which a packet is
	// split into chunk frames.
	DefaultMaxSingleFrame = 1 << 20

	// DefaultMaxPacketSize caps the total reassembled payload of one
	// packet.
	DefaultMaxPacketSize = 16 << 20

	// HardMaxPacketSize is the ceiling no configuration may raise
	// MaxPacketSize above.
	HardMaxPacketSize = 64 << 20

	// DefaultAssemblyTimeout bounds how long an incomplete chunked
	// packet may hold its buffer.
	DefaultAssemblyTimeout = 5 * time.Second
)

// Limits holds the size and time bounds applied to frames and chunk
// reassembly. The zero value is not valid; start from DefaultLimits.
type Limits struct {
	// MaxSingleFrame is the largest payload sent as a single frame.
	// Larger payloads are chunked. It is sender-side policy only: the
	// receiver accepts any frame up to MaxPacketSize, so peers may
	// disagree on this value.
	MaxSingleFrame int

	// MaxPacketSize is the hard cap on a frame payload and on the
	// cumulative size of a reassembled packet. Exceeding it is fatal.
	MaxPacketSize int

	// AssemblyTimeout fails a chunked packet whose last chunk does not
	// arrive in time. Zero disables the timeout.
	AssemblyTimeout time.Duration
}

// DefaultLimits returns the standard production bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxSingleFrame:  DefaultMaxSingleFrame,
		MaxPacketSize:   DefaultMaxPacketSize,
		AssemblyTimeout: DefaultAssemblyTimeout,
	}
}

// Validate reports whether the limits are internally consistent.
func (l Limits) Validate() error {
	if l.MaxSingleFrame < 1024 {
		return fmt.Errorf("wire: max single frame %d below minimum 1024", l.MaxSingleFrame)
	}
	if l.MaxPacketSize < l.MaxSingleFrame {
		return fmt.Errorf("wire: max packet size %d below max single frame %d",
			l.MaxPacketSize, l.MaxSingleFrame)
	}
	if l.MaxPacketSize > HardMaxPacketSize {
		return fmt.Errorf("wire: max packet size %d above hard cap %d",
			l.MaxPacketSize, HardMaxPacketSize)
	}
	if l.AssemblyTimeout < 0 {
		return fmt.Errorf("wire: negative assembly timeout %v", l.AssemblyTimeout)
	}
	return nil
}
