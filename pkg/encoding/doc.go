// Package encoding provides the pluggable packet serializers and their
// registry.
//
// A serializer turns one Packet into bytes and back. Every serializer uses
// the same logical wire form — a single ordered sequence whose first
// element is the type tag — so codecs differ only in how that sequence is
// encoded. Serializers are identified by a small integer id carried in
// every frame header; ids are wire constants and must never be renumbered.
//
// Three codecs are registered:
//
//   - msgpack (id 1): the bootstrap serializer. The first packet of every
//     connection ("hello") is encoded with it, so it must always be
//     available and never change.
//   - cbor (id 2): alternative standard codec.
//   - native (id 3): skylight's own tagged binary encoding, preferred when
//     both ends speak it.
//
// Which codec is used after the handshake is decided by capability
// negotiation; see the protocol package.
package encoding
