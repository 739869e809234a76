package packet

import (
	"fmt"
	"strings"
)

// Packet is one logical, type-tagged unit of application data.
//
// The type tag is always present and always a string. Arguments are
// positional and heterogeneous; the engine never interprets them beyond
// routing, so their shapes are a contract between the two endpoints.
type Packet struct {
	// Type is the packet type tag, e.g. "hello" or "window-icon".
	Type string

	// Args are the positional arguments following the type tag.
	Args []any
}

// New creates a packet with the given type tag and arguments.
func New(ptype string, args ...any) *Packet {
	return &Packet{Type: ptype, Args: args}
}

// Len returns the number of arguments (excluding the type tag).
func (p *Packet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Args)
}

// Arg returns the i-th argument wrapped for coercing access.
// Out-of-range indices yield an absent Value.
func (p *Packet) Arg(i int) Value {
	if p == nil || i < 0 || i >= len(p.Args) {
		return Value{}
	}
	return Value{v: p.Args[i], ok: true}
}

// String returns a compact, log-safe description of the packet.
// Byte blobs and nested collections are summarized, long strings elided.
func (p *Packet) String() string {
	if p == nil {
		return "<nil>"
	}
	if len(p.Args) == 0 {
		return p.Type + "()"
	}
	var b strings.Builder
	b.WriteString(p.Type)
	b.WriteByte('(')
	for i, arg := range p.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(formatArg(arg))
	}
	b.WriteByte(')')
	return b.String()
}

const maxFormattedString = 48

func formatArg(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case string:
		if len(t) > maxFormattedString {
			return fmt.Sprintf("%q...(%d chars)", t[:maxFormattedString], len(t))
		}
		return fmt.Sprintf("%q", t)
	case []byte:
		return fmt.Sprintf("%d bytes", len(t))
	case []any:
		return fmt.Sprintf("list[%d]", len(t))
	case map[string]any:
		return fmt.Sprintf("map[%d]", len(t))
	case Capabilities:
		return fmt.Sprintf("caps[%d]", len(t))
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Equal reports whether two packets carry the same type tag and
// structurally equal arguments.
//
// Comparison canonicalizes representation differences between serializers:
// all integer widths compare by value, string and []byte compare by
// content, and nested sequences/mappings are compared element-wise. Floats
// and integers are distinct kinds and never compare equal.
func Equal(a, b *Packet) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type != b.Type || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if !equalValue(a.Args[i], b.Args[i]) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if ab, aok := boolValue(a); aok {
		bb, bok := boolValue(b)
		return bok && ab == bb
	}

	if ai, au, aNeg, aok := intValue(a); aok {
		bi, bu, bNeg, bok := intValue(b)
		if !bok {
			return false
		}
		if aNeg != bNeg {
			return false
		}
		if aNeg {
			return ai == bi
		}
		return au == bu
	}

	if af, aok := floatValue(a); aok {
		bf, bok := floatValue(b)
		return bok && af == bf
	}

	if as, aok := stringValue(a); aok {
		bs, bok := stringValue(b)
		return bok && as == bs
	}

	if al, aok := sliceValue(a); aok {
		bl, bok := sliceValue(b)
		if !bok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !equalValue(al[i], bl[i]) {
				return false
			}
		}
		return true
	}

	if am, aok := mapValue(a); aok {
		bm, bok := mapValue(b)
		if !bok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, present := bm[k]
			if !present || !equalValue(av, bv) {
				return false
			}
		}
		return true
	}

	return false
}
