package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Reassembly errors.
var (
	ErrChunkSequence   = errors.New("wire: chunk sequence violation")
	ErrChunkState      = errors.New("wire: invalid chunk state")
	ErrPacketTooLarge  = errors.New("wire: reassembled packet too large")
	ErrAssemblyTimeout = errors.New("wire: chunk assembly timed out")
)

// Assembler rebuilds one chunked packet at a time from its frames. It
// enforces strict in-order sequence numbers, a cumulative size cap, and
// a completion timeout. Any violation is an error the connection owner
// must treat as fatal; the assembler itself performs no recovery.
//
// All methods are safe for concurrent use, though a connection normally
// drives Add from its single reader goroutine.
type Assembler struct {
	mu        sync.Mutex
	limits    Limits
	onTimeout func()

	buf        []byte
	next       uint32
	compressor uint8
	serializer uint8
	active     bool
	closed     bool

	// gen invalidates in-flight timers; a fired timer whose generation
	// no longer matches does nothing.
	gen   uint64
	timer *time.Timer
}

// NewAssembler returns an assembler bound to the given limits.
// onTimeout, if non-nil, runs on a timer goroutine when an assembly
// fails to complete within limits.AssemblyTimeout; the stalled partial
// packet has already been discarded when it is called.
func NewAssembler(limits Limits, onTimeout func()) *Assembler {
	return &Assembler{limits: limits, onTimeout: onTimeout}
}

// Add consumes one chunk frame. The payload must include the 4-byte
// sequence prefix. It returns the complete reassembled payload when the
// last chunk arrives, or nil while more chunks are expected.
func (a *Assembler) Add(h Header, payload []byte) ([]byte, error) {
	if !h.Chunk.Has(FlagChunk) {
		return nil, fmt.Errorf("%w: frame is not a chunk", ErrChunkState)
	}
	if len(payload) < ChunkSeqSize+1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortChunk, len(payload))
	}
	seq := binary.BigEndian.Uint32(payload)
	data := payload[ChunkSeqSize:]

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, fmt.Errorf("%w: assembler closed", ErrChunkState)
	}
	if !a.active {
		if seq != 0 {
			return nil, fmt.Errorf("%w: first chunk has sequence %d", ErrChunkSequence, seq)
		}
		a.active = true
		a.next = 0
		a.buf = a.buf[:0]
		a.compressor = h.Compressor
		a.serializer = h.Serializer
		a.arm()
	} else {
		if seq != a.next {
			return nil, fmt.Errorf("%w: sequence %d, want %d", ErrChunkSequence, seq, a.next)
		}
		if h.Compressor != a.compressor || h.Serializer != a.serializer {
			return nil, fmt.Errorf("%w: codec ids changed mid-packet", ErrChunkState)
		}
	}

	if len(a.buf)+len(data) > a.limits.MaxPacketSize {
		a.reset()
		return nil, fmt.Errorf("%w: cap %d bytes", ErrPacketTooLarge, a.limits.MaxPacketSize)
	}
	a.buf = append(a.buf, data...)

	if h.Chunk.Has(FlagLast) {
		out := a.buf
		a.buf = nil
		a.reset()
		return out, nil
	}
	a.next++
	return nil, nil
}

// Active reports whether a partially assembled packet is in flight.
func (a *Assembler) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Close discards any in-flight assembly and disables the timeout. It is
// idempotent; Add fails after Close.
func (a *Assembler) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.buf = nil
	a.reset()
}

// reset clears the in-flight state and cancels the timer. Callers hold
// a.mu.
func (a *Assembler) reset() {
	a.active = false
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// arm starts the completion timer for a new assembly. Callers hold a.mu.
func (a *Assembler) arm() {
	if a.limits.AssemblyTimeout <= 0 || a.onTimeout == nil {
		return
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(a.limits.AssemblyTimeout, func() { a.expire(gen) })
}

func (a *Assembler) expire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || !a.active || a.closed {
		a.mu.Unlock()
		return
	}
	a.buf = nil
	a.reset()
	cb := a.onTimeout
	a.mu.Unlock()

	cb()
}
