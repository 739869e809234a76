package encoding

import (
	"errors"
	"fmt"

	"github.com/skylightd/skylight/pkg/packet"
)

// Serializer ids. Wire constants: never renumber, never reuse.
const (
	IDMsgpack uint8 = 1
	IDCBOR    uint8 = 2
	IDNative  uint8 = 3
)

// BootstrapID identifies the serializer used before negotiation completes.
// The first packet of every connection is encoded with it.
const BootstrapID = IDMsgpack

// Common serializer errors.
var (
	ErrUnknownSerializer = errors.New("encoding: unknown serializer id")
	ErrNotPacket         = errors.New("encoding: payload is not a packet sequence")
	ErrNoType            = errors.New("encoding: packet has no type tag")
	ErrUnsupportedType   = errors.New("encoding: unsupported argument type")
)

// Serializer is a pluggable packet codec identified by a small integer id.
// Implementations must be safe for concurrent use.
type Serializer interface {
	ID() uint8
	Name() string
	Marshal(pkt *packet.Packet) ([]byte, error)
	Unmarshal(data []byte) (*packet.Packet, error)
}

var (
	byID   = map[uint8]Serializer{}
	byName = map[string]Serializer{}
)

// Register adds a serializer to the registry. It must only be called from
// init functions; the registry is read-only afterwards. Registering a
// duplicate id or name panics.
func Register(s Serializer) {
	if _, dup := byID[s.ID()]; dup {
		panic(fmt.Sprintf("encoding: duplicate serializer id %d", s.ID()))
	}
	if _, dup := byName[s.Name()]; dup {
		panic(fmt.Sprintf("encoding: duplicate serializer name %q", s.Name()))
	}
	byID[s.ID()] = s
	byName[s.Name()] = s
}

// Get returns the serializer registered under id.
func Get(id uint8) (Serializer, bool) {
	s, ok := byID[id]
	return s, ok
}

// ByName returns the serializer registered under name.
func ByName(name string) (Serializer, bool) {
	s, ok := byName[name]
	return s, ok
}

// Bootstrap returns the fixed pre-handshake serializer.
func Bootstrap() Serializer {
	s, ok := byID[BootstrapID]
	if !ok {
		panic("encoding: bootstrap serializer not registered")
	}
	return s
}

// DefaultIDs returns the default preference order, most-preferred first.
func DefaultIDs() []uint8 {
	return []uint8{IDNative, IDMsgpack, IDCBOR}
}

// Names maps serializer ids to their names for logging; unknown ids render
// as "#n".
func Names(ids []uint8) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if s, ok := byID[id]; ok {
			out[i] = s.Name()
		} else {
			out[i] = fmt.Sprintf("#%d", id)
		}
	}
	return out
}

// IDsByName resolves serializer names to ids, preserving order. Unknown
// names produce an error so configuration typos fail loudly.
func IDsByName(names []string) ([]uint8, error) {
	out := make([]uint8, len(names))
	for i, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("encoding: unknown serializer %q", name)
		}
		out[i] = s.ID()
	}
	return out, nil
}

// packetSeq flattens a packet into its wire sequence [type, args...].
func packetSeq(pkt *packet.Packet) []any {
	seq := make([]any, 0, len(pkt.Args)+1)
	seq = append(seq, pkt.Type)
	return append(seq, pkt.Args...)
}

// seqPacket validates a decoded wire sequence and rebuilds the packet.
func seqPacket(seq []any) (*packet.Packet, error) {
	if len(seq) == 0 {
		return nil, ErrNotPacket
	}
	ptype := packet.V(seq[0]).Str()
	if ptype == "" {
		return nil, ErrNoType
	}
	return &packet.Packet{Type: ptype, Args: seq[1:]}, nil
}
