package encoding

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/skylightd/skylight/pkg/packet"
)

func init() {
	Register(msgpackSerializer{})
}

// msgpackSerializer is the bootstrap codec. Every connection's first
// packet is encoded with it, so its behavior is part of the wire contract.
type msgpackSerializer struct{}

func (msgpackSerializer) ID() uint8    { return IDMsgpack }
func (msgpackSerializer) Name() string { return "msgpack" }

func (msgpackSerializer) Marshal(pkt *packet.Packet) ([]byte, error) {
	data, err := msgpack.Marshal(packetSeq(pkt))
	if err != nil {
		return nil, fmt.Errorf("encoding: msgpack: %w", err)
	}
	return data, nil
}

func (msgpackSerializer) Unmarshal(data []byte) (*packet.Packet, error) {
	var seq []any
	if err := msgpack.Unmarshal(data, &seq); err != nil {
		return nil, fmt.Errorf("encoding: msgpack: %w", err)
	}
	return seqPacket(seq)
}
