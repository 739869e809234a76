// Package compress provides the pluggable per-payload compression layer.
//
// Compressors are identified by a small integer id carried in every frame
// header; id 0 is the identity passthrough. Whether a payload is
// compressed is a per-packet decision — the negotiated compressor sets the
// ceiling, the sender may always fall back to id 0 for data that is small
// or already incompressible.
//
// Decompression is treated as hostile input: every implementation bounds
// its output by the caller-supplied maximum and fails with
// ErrDecompressedTooLarge rather than inflating further.
package compress

import (
	"errors"
	"fmt"
)

// Compressor ids. Wire constants: never renumber, never reuse.
const (
	IDNone uint8 = 0
	IDZlib uint8 = 1
	IDLZ4  uint8 = 2
	IDZstd uint8 = 3
)

// DefaultLevel is the default compression level (1 = fastest, 9 = best).
const DefaultLevel = 3

// Common compression errors.
var (
	ErrUnknownCompressor    = errors.New("compress: unknown compressor id")
	ErrDecompressedTooLarge = errors.New("compress: decompressed size exceeds limit")
)

// Compressor is a pluggable, optional compression codec. Implementations
// must be safe for concurrent use.
type Compressor interface {
	ID() uint8
	Name() string

	// Compress returns the compressed form of src at the given level
	// (1..9; out-of-range levels are clamped by the implementation).
	Compress(src []byte, level int) ([]byte, error)

	// Decompress inflates src, failing with ErrDecompressedTooLarge if
	// the output would exceed maxSize bytes.
	Decompress(src []byte, maxSize int) ([]byte, error)
}

var (
	byID   = map[uint8]Compressor{}
	byName = map[string]Compressor{}
)

// Register adds a compressor to the registry. Init-time only; duplicate
// ids or names panic.
func Register(c Compressor) {
	if _, dup := byID[c.ID()]; dup {
		panic(fmt.Sprintf("compress: duplicate compressor id %d", c.ID()))
	}
	if _, dup := byName[c.Name()]; dup {
		panic(fmt.Sprintf("compress: duplicate compressor name %q", c.Name()))
	}
	byID[c.ID()] = c
	byName[c.Name()] = c
}

// Get returns the compressor registered under id.
func Get(id uint8) (Compressor, bool) {
	c, ok := byID[id]
	return c, ok
}

// ByName returns the compressor registered under name.
func ByName(name string) (Compressor, bool) {
	c, ok := byName[name]
	return c, ok
}

// DefaultIDs returns the default preference order, most-preferred first.
// Ordered for throughput; "none" participates explicitly so that two peers
// sharing no compressor fail negotiation instead of being silently
// rescued.
func DefaultIDs() []uint8 {
	return []uint8{IDLZ4, IDZstd, IDZlib, IDNone}
}

// Names maps compressor ids to names for logging; unknown ids render as
// "#n".
func Names(ids []uint8) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if c, ok := byID[id]; ok {
			out[i] = c.Name()
		} else {
			out[i] = fmt.Sprintf("#%d", id)
		}
	}
	return out
}

// IDsByName resolves compressor names to ids, preserving order.
func IDsByName(names []string) ([]uint8, error) {
	out := make([]uint8, len(names))
	for i, name := range names {
		c, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("compress: unknown compressor %q", name)
		}
		out[i] = c.ID()
	}
	return out, nil
}

func init() {
	Register(noneCompressor{})
}

// noneCompressor is the identity passthrough (id 0).
type noneCompressor struct{}

func (noneCompressor) ID() uint8    { return IDNone }
func (noneCompressor) Name() string { return "none" }

func (noneCompressor) Compress(src []byte, _ int) ([]byte, error) {
	return src, nil
}

func (noneCompressor) Decompress(src []byte, maxSize int) ([]byte, error) {
	if len(src) > maxSize {
		return nil, ErrDecompressedTooLarge
	}
	return src, nil
}
