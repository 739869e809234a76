package protocol

import (
	"github.com/skylightd/skylight/pkg/packet"
)

// ProtocolVersion is advertised in hello capabilities. Bump only for
// incompatible wire changes.
const ProtocolVersion = "1.0"

// negotiate returns the first id in the local preference order that the
// remote side also supports. Deterministic: given the same two lists it
// always returns the same id, and disjoint lists always fail.
func negotiate(local, remote []uint8) (uint8, bool) {
	for _, id := range local {
		for _, r := range remote {
			if id == r {
				return id, true
			}
		}
	}
	return 0, false
}

// helloCapabilities composes the local hello payload: protocol version
// and codec preference lists, plus configured features and per-call
// extras. Later entries win on key collisions.
func (p *Protocol) helloCapabilities(extra packet.Capabilities) packet.Capabilities {
	caps := packet.Capabilities{
		packet.CapVersion:     ProtocolVersion,
		packet.CapSerializers: idList(p.cfg.Serializers),
		packet.CapCompressors: idList(p.cfg.Compressors),
	}
	caps.Merge(p.cfg.Features)
	caps.Merge(extra)
	return caps
}

// idList renders a preference list in the codec-neutral form every
// serializer round-trips ([]any of small ints).
func idList(ids []uint8) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
