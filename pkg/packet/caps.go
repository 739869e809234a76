package packet

// Capabilities is the string-keyed mapping exchanged in the first packet
// of a connection ("hello"). It advertises the engine version, the ordered
// serializer/compressor preferences of each side, and any feature flags
// consumers want to expose to the peer.
//
// The engine treats a peer's Capabilities as immutable once negotiation
// completes; it is stored as received and never written to afterwards.
type Capabilities map[string]any

// Engine-owned capability keys. Consumers may add any other keys.
const (
	CapVersion     = "version"
	CapSerializers = "serializers"
	CapCompressors = "compressors"
)

// Str returns the string value for key, or "" when absent/not coercible.
func (c Capabilities) Str(key string) string {
	return V(c[key]).Str()
}

// Int returns the integer value for key, or 0 when absent/not coercible.
func (c Capabilities) Int(key string) int64 {
	return V(c[key]).Int()
}

// Bool returns the boolean value for key, or false when absent.
func (c Capabilities) Bool(key string) bool {
	return V(c[key]).Bool()
}

// IDList returns the value for key as an ordered list of 8-bit ids.
//
// Serializers encode id lists in different shapes (a sequence of small
// integers usually comes back as []any; some codecs turn []uint8 into a
// byte blob), so every integer-bearing shape is accepted. Entries outside
// 0..255 are skipped.
func (c Capabilities) IDList(key string) []uint8 {
	switch t := c[key].(type) {
	case nil:
		return nil
	case []uint8:
		out := make([]uint8, len(t))
		copy(out, t)
		return out
	}
	list := V(c[key]).List()
	if list == nil {
		return nil
	}
	out := make([]uint8, 0, len(list))
	for _, e := range list {
		if _, u, neg, ok := intValue(e); ok && !neg && u <= 0xFF {
			out = append(out, uint8(u))
		}
	}
	return out
}

// Clone returns a shallow copy of the capability map.
func (c Capabilities) Clone() Capabilities {
	if c == nil {
		return nil
	}
	out := make(Capabilities, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into c, overwriting existing keys.
// Merging a nil map is a no-op.
func (c Capabilities) Merge(other Capabilities) {
	for k, v := range other {
		c[k] = v
	}
}
