package wire

import "encoding/binary"

// Frame pairs a header with its payload, ready to be written.
type Frame struct {
	Header  Header
	Payload []byte
}

// AppendTo appends the encoded frame to dst and returns the extended
// slice.
func (f Frame) AppendTo(dst []byte) []byte {
	return AppendFrame(dst, f.Header, f.Payload)
}

// Encode encodes the frame to a fresh buffer including the header.
func (f Frame) Encode() []byte {
	return f.AppendTo(make([]byte, 0, HeaderSize+len(f.Payload)))
}

// Split converts one payload into its wire frames. Payloads up to
// maxSingle become a single frame; larger payloads are cut into ordered
// slices of at most maxSingle bytes, each carried in a chunk frame whose
// payload is prefixed with a 0-based big-endian sequence number. The
// final chunk is flagged last.
//
// Every frame is stamped with the same compressor and serializer ids.
func Split(payload []byte, compressor, serializer uint8, maxSingle int) []Frame {
	if maxSingle <= 0 {
		maxSingle = DefaultMaxSingleFrame
	}
	base := Header{Compressor: compressor, Serializer: serializer}

	if len(payload) <= maxSingle {
		h := base
		h.Length = uint32(len(payload))
		return []Frame{{Header: h, Payload: payload}}
	}

	frames := make([]Frame, 0, (len(payload)+maxSingle-1)/maxSingle)
	for seq := uint32(0); len(payload) > 0; seq++ {
		n := maxSingle
		if n > len(payload) {
			n = len(payload)
		}
		chunk := make([]byte, ChunkSeqSize+n)
		binary.BigEndian.PutUint32(chunk, seq)
		copy(chunk[ChunkSeqSize:], payload[:n])
		payload = payload[n:]

		h := base
		h.Chunk = FlagChunk
		if len(payload) == 0 {
			h.Chunk |= FlagLast
		}
		h.Length = uint32(len(chunk))
		frames = append(frames, Frame{Header: h, Payload: chunk})
	}
	return frames
}
