// Package wire implements the frame layer of the packet engine.
//
// A frame is a fixed 8-byte header followed by a payload. One logical
// packet maps to a single frame in the common case, or to an ordered run
// of chunk frames when the serialized payload exceeds the configured
// single-frame limit. Chunk payloads carry an explicit big-endian
// sequence number so reordering or loss is detected even on transports
// that happen to preserve order today.
//
// The package is transport-agnostic: frames are read from any io.Reader
// and appended to byte slices for writing. Reassembly is bounded in both
// size and time; every violation is surfaced as an error the caller is
// expected to treat as fatal for the connection.
package wire
