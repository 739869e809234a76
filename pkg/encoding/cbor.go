package encoding

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/skylightd/skylight/pkg/packet"
)

// cborEnc/cborDec are the shared CBOR modes. Decoding converts unsigned
// integers to int64 where lossless and uses string-keyed maps, keeping
// decoded argument shapes close to what the other codecs produce.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("encoding: cbor enc mode: %v", err))
	}
	cborDec, err = cbor.DecOptions{
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("encoding: cbor dec mode: %v", err))
	}

	Register(cborSerializer{})
}

type cborSerializer struct{}

func (cborSerializer) ID() uint8    { return IDCBOR }
func (cborSerializer) Name() string { return "cbor" }

func (cborSerializer) Marshal(pkt *packet.Packet) ([]byte, error) {
	data, err := cborEnc.Marshal(packetSeq(pkt))
	if err != nil {
		return nil, fmt.Errorf("encoding: cbor: %w", err)
	}
	return data, nil
}

func (cborSerializer) Unmarshal(data []byte) (*packet.Packet, error) {
	var seq []any
	if err := cborDec.Unmarshal(data, &seq); err != nil {
		return nil, fmt.Errorf("encoding: cbor: %w", err)
	}
	return seqPacket(seq)
}
