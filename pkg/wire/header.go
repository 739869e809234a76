package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Header constants.
const (
	// HeaderSize is the size of the frame header in bytes.
	HeaderSize = 8

	// HeaderVersion is the current header layout version, carried in
	// the low nibble of byte 0.
	HeaderVersion = 1

	// ChunkSeqSize is the size of the sequence-number prefix on chunk
	// payloads.
	ChunkSeqSize = 4

	headerMarker = 0x50 // fixed high nibble of byte 0
	markerMask   = 0xf0
	versionMask  = 0x0f
)

// ChunkFlags mark a frame as one slice of a chunked packet.
type ChunkFlags uint8

const (
	FlagChunk ChunkFlags = 0x01 // frame is one chunk of a larger packet
	FlagLast  ChunkFlags = 0x02 // frame is the final chunk
)

// Has returns true if the flags contain the specified flag.
func (cf ChunkFlags) Has(flag ChunkFlags) bool {
	return cf&flag != 0
}

// Frame errors.
var (
	ErrBadHeader     = errors.New("wire: malformed frame header")
	ErrHeaderVersion = errors.New("wire: unsupported header version")
	ErrFrameTooLarge = errors.New("wire: frame payload too large")
	ErrShortChunk    = errors.New("wire: chunk payload too short")
)

// Header is the fixed frame header.
//
// Wire format (8 bytes, followed by the payload):
//
//	┌──────────────┬──────────────┬──────────────┬──────────────┐
//	│ 0x5V marker/ │ compressor   │ serializer   │ chunk flags  │
//	│ version      │ id (0=none)  │ id           │              │
//	├──────────────┴──────────────┴──────────────┴──────────────┤
//	│ payload length (4 bytes, big-endian)                      │
//	└───────────────────────────────────────────────────────────┘
//
// Chunk payloads begin with a 4-byte big-endian sequence number; that
// prefix is included in Length.
type Header struct {
	Compressor uint8
	Serializer uint8
	Chunk      ChunkFlags
	Length     uint32
}

// AppendHeader appends the encoded header to dst and returns the
// extended slice.
func AppendHeader(dst []byte, h Header) []byte {
	dst = append(dst, headerMarker|HeaderVersion, h.Compressor, h.Serializer, byte(h.Chunk))
	return binary.BigEndian.AppendUint32(dst, h.Length)
}

// AppendFrame appends a complete frame (header plus payload) to dst.
// The header's Length field is taken from the payload.
func AppendFrame(dst []byte, h Header, payload []byte) []byte {
	h.Length = uint32(len(payload))
	dst = AppendHeader(dst, h)
	return append(dst, payload...)
}

// ParseHeader decodes a frame header from data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, io.ErrUnexpectedEOF
	}
	if data[0]&markerMask != headerMarker {
		return Header{}, fmt.Errorf("%w: leading byte %#02x", ErrBadHeader, data[0])
	}
	if v := data[0] & versionMask; v != HeaderVersion {
		return Header{}, fmt.Errorf("%w: version %d", ErrHeaderVersion, v)
	}
	h := Header{
		Compressor: data[1],
		Serializer: data[2],
		Chunk:      ChunkFlags(data[3]),
		Length:     binary.BigEndian.Uint32(data[4:HeaderSize]),
	}
	if h.Chunk&^(FlagChunk|FlagLast) != 0 {
		return Header{}, fmt.Errorf("%w: chunk flags %#02x", ErrBadHeader, byte(h.Chunk))
	}
	if h.Chunk.Has(FlagLast) && !h.Chunk.Has(FlagChunk) {
		return Header{}, fmt.Errorf("%w: last-chunk flag without chunk flag", ErrBadHeader)
	}
	return h, nil
}

// ReadFrame reads one complete frame from r, enforcing the size limits.
// The returned payload is freshly allocated and includes the chunk
// sequence prefix for chunk frames.
func ReadFrame(r io.Reader, limits Limits) (Header, []byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, nil, err
	}
	h, err := ParseHeader(hdr[:])
	if err != nil {
		return Header{}, nil, err
	}

	// The chunking threshold is the sender's policy; the receiver only
	// enforces the hard cap.
	max := limits.MaxPacketSize
	if h.Chunk.Has(FlagChunk) {
		max += ChunkSeqSize
	}
	if int64(h.Length) > int64(max) {
		return Header{}, nil, fmt.Errorf("%w: %d bytes, cap %d", ErrFrameTooLarge, h.Length, max)
	}
	if h.Chunk.Has(FlagChunk) && h.Length < ChunkSeqSize+1 {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrShortChunk, h.Length)
	}

	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Header{}, nil, err
		}
	}
	return h, payload, nil
}
