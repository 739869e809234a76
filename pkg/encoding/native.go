package encoding

import (
	"errors"
	"fmt"
	"sort"

	"github.com/skylightd/skylight/pkg/packet"
)

// Native codec: skylight's own tagged binary encoding. One tag byte per
// value, varints for integers and lengths, big-endian float64. Compact,
// reflection-free, and self-describing enough to decode without a schema.
//
// Value tags. Wire constants: never renumber.
const (
	nativeNil    = 0x00
	nativeFalse  = 0x01
	nativeTrue   = 0x02
	nativeInt    = 0x03 // zigzag varint
	nativeUint   = 0x04 // varint
	nativeFloat  = 0x05 // IEEE 754 big-endian float64
	nativeString = 0x06 // varint length + bytes
	nativeBytes  = 0x07 // varint length + bytes
	nativeList   = 0x08 // varint count + values
	nativeMap    = 0x09 // varint count + (string key, value) pairs
)

// MaxValueDepth caps the nesting depth of encoded values, preventing
// stack exhaustion from deeply nested hostile input.
const MaxValueDepth = 64

var (
	ErrMaxDepthExceeded = errors.New("encoding: value nesting exceeds depth limit")
	ErrUnknownTag       = errors.New("encoding: unknown native value tag")
)

func init() {
	Register(nativeSerializer{})
}

type nativeSerializer struct{}

func (nativeSerializer) ID() uint8    { return IDNative }
func (nativeSerializer) Name() string { return "native" }

func (nativeSerializer) Marshal(pkt *packet.Packet) ([]byte, error) {
	e := NewEncoderSize(64)
	depth := depthGuard{max: MaxValueDepth}
	if err := encodeValue(e, packetSeq(pkt), &depth); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

func (nativeSerializer) Unmarshal(data []byte) (*packet.Packet, error) {
	d := NewDecoder(data)
	depth := depthGuard{max: MaxValueDepth}
	v, err := decodeValue(d, &depth)
	if err != nil {
		return nil, err
	}
	if !d.EOF() {
		return nil, fmt.Errorf("encoding: native: %d trailing bytes", d.Remaining())
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, ErrNotPacket
	}
	return seqPacket(seq)
}

// depthGuard tracks nesting depth during recursive encode/decode.
type depthGuard struct {
	current int
	max     int
}

func (g *depthGuard) enter() error {
	if g.current >= g.max {
		return ErrMaxDepthExceeded
	}
	g.current++
	return nil
}

func (g *depthGuard) leave() {
	g.current--
}

func encodeValue(e *Encoder, v any, depth *depthGuard) error {
	switch t := v.(type) {
	case nil:
		e.WriteByte(nativeNil)
		return nil
	case bool:
		if t {
			e.WriteByte(nativeTrue)
		} else {
			e.WriteByte(nativeFalse)
		}
		return nil
	case int:
		return encodeInt(e, int64(t))
	case int8:
		return encodeInt(e, int64(t))
	case int16:
		return encodeInt(e, int64(t))
	case int32:
		return encodeInt(e, int64(t))
	case int64:
		return encodeInt(e, t)
	case uint:
		return encodeUint(e, uint64(t))
	case uint8:
		return encodeUint(e, uint64(t))
	case uint16:
		return encodeUint(e, uint64(t))
	case uint32:
		return encodeUint(e, uint64(t))
	case uint64:
		return encodeUint(e, t)
	case float32:
		e.WriteByte(nativeFloat)
		e.WriteFloat64(float64(t))
		return nil
	case float64:
		e.WriteByte(nativeFloat)
		e.WriteFloat64(t)
		return nil
	case string:
		e.WriteByte(nativeString)
		e.WriteString(t)
		return nil
	case []byte:
		e.WriteByte(nativeBytes)
		e.WriteLenBytes(t)
		return nil
	}

	// Sequence and mapping kinds beyond the fast paths ([]string,
	// Capabilities, ...) coerce through the packet helpers.
	if list := packet.V(v).List(); list != nil {
		return encodeList(e, list, depth)
	}
	if m := packet.V(v).Map(); m != nil {
		return encodeMap(e, m, depth)
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func encodeInt(e *Encoder, v int64) error {
	e.WriteByte(nativeInt)
	e.WriteSvarint(v)
	return nil
}

func encodeUint(e *Encoder, v uint64) error {
	e.WriteByte(nativeUint)
	e.WriteUvarint(v)
	return nil
}

func encodeList(e *Encoder, list []any, depth *depthGuard) error {
	if err := depth.enter(); err != nil {
		return err
	}
	defer depth.leave()

	e.WriteByte(nativeList)
	e.WriteUvarint(uint64(len(list)))
	for _, item := range list {
		if err := encodeValue(e, item, depth); err != nil {
			return err
		}
	}
	return nil
}

func encodeMap(e *Encoder, m map[string]any, depth *depthGuard) error {
	if err := depth.enter(); err != nil {
		return err
	}
	defer depth.leave()

	e.WriteByte(nativeMap)
	e.WriteUvarint(uint64(len(m)))

	// Sorted keys keep the encoding deterministic; handy for tests and
	// content-addressed payloads.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.WriteString(k)
		if err := encodeValue(e, m[k], depth); err != nil {
			return err
		}
	}
	return nil
}

func decodeValue(d *Decoder, depth *depthGuard) (any, error) {
	tag, err := d.ReadByte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case nativeNil:
		return nil, nil
	case nativeFalse:
		return false, nil
	case nativeTrue:
		return true, nil
	case nativeInt:
		return d.ReadSvarint()
	case nativeUint:
		return d.ReadUvarint()
	case nativeFloat:
		return d.ReadFloat64()
	case nativeString:
		return d.ReadString()
	case nativeBytes:
		return d.ReadLenBytes()
	case nativeList:
		return decodeList(d, depth)
	case nativeMap:
		return decodeMap(d, depth)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, tag)
	}
}

func decodeList(d *Decoder, depth *depthGuard) ([]any, error) {
	if err := depth.enter(); err != nil {
		return nil, err
	}
	defer depth.leave()

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	list := make([]any, count)
	for i := range list {
		if list[i], err = decodeValue(d, depth); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func decodeMap(d *Decoder, depth *depthGuard) (map[string]any, error) {
	if err := depth.enter(); err != nil {
		return nil, err
	}
	defer depth.leave()

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, count)
	for i := 0; i < count; i++ {
		k, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(d, depth)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
