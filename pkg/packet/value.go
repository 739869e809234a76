package packet

import (
	"math"
	"reflect"
)

// Value wraps a single decoded argument and offers coercing accessors.
//
// Serializers legitimately differ in the concrete Go types they produce
// (one codec's int64 is another's uint64), so handlers read arguments
// through Value instead of type-asserting. Accessors return the zero value
// when the argument is absent or not coercible; the *Default variants
// substitute a fallback instead.
type Value struct {
	v  any
	ok bool
}

// V wraps an arbitrary value for coercing access.
func V(v any) Value {
	return Value{v: v, ok: true}
}

// Exists reports whether the value is present (the argument index was in
// range). A present nil argument still exists.
func (val Value) Exists() bool { return val.ok }

// IsNil reports whether the value is absent or a nil argument.
func (val Value) IsNil() bool { return !val.ok || val.v == nil }

// Raw returns the underlying value as decoded by the serializer.
func (val Value) Raw() any { return val.v }

// Int coerces the value to int64. All integer widths coerce; unsigned
// values above math.MaxInt64 and non-integers yield 0.
func (val Value) Int() int64 { return val.IntDefault(0) }

// IntDefault is Int with an explicit fallback.
func (val Value) IntDefault(def int64) int64 {
	if i, u, neg, ok := intValue(val.v); ok {
		if neg {
			return i
		}
		if u <= math.MaxInt64 {
			return int64(u)
		}
	}
	return def
}

// Uint coerces the value to uint64. Negative values yield 0.
func (val Value) Uint() uint64 { return val.UintDefault(0) }

// UintDefault is Uint with an explicit fallback.
func (val Value) UintDefault(def uint64) uint64 {
	if _, u, neg, ok := intValue(val.v); ok && !neg {
		return u
	}
	return def
}

// Float coerces the value to float64. Integers coerce; other kinds yield 0.
func (val Value) Float() float64 { return val.FloatDefault(0) }

// FloatDefault is Float with an explicit fallback.
func (val Value) FloatDefault(def float64) float64 {
	if f, ok := floatValue(val.v); ok {
		return f
	}
	if i, u, neg, ok := intValue(val.v); ok {
		if neg {
			return float64(i)
		}
		return float64(u)
	}
	return def
}

// Bool coerces the value to bool. Integers coerce (non-zero is true).
func (val Value) Bool() bool { return val.BoolDefault(false) }

// BoolDefault is Bool with an explicit fallback.
func (val Value) BoolDefault(def bool) bool {
	if b, ok := boolValue(val.v); ok {
		return b
	}
	if i, u, neg, ok := intValue(val.v); ok {
		return neg && i != 0 || !neg && u != 0
	}
	return def
}

// Str coerces the value to string. Byte blobs coerce by content.
func (val Value) Str() string { return val.StrDefault("") }

// StrDefault is Str with an explicit fallback.
func (val Value) StrDefault(def string) string {
	if s, ok := stringValue(val.v); ok {
		return s
	}
	return def
}

// Bytes coerces the value to a byte slice. Strings coerce by content.
// Returns nil when not coercible.
func (val Value) Bytes() []byte {
	switch t := val.v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	}
	return nil
}

// List coerces the value to an ordered sequence. Returns nil when the
// value is not a sequence.
func (val Value) List() []any {
	l, _ := sliceValue(val.v)
	return l
}

// Map coerces the value to a string-keyed mapping. Returns nil when the
// value is not such a mapping.
func (val Value) Map() map[string]any {
	m, _ := mapValue(val.v)
	return m
}

// Caps is Map typed as Capabilities.
func (val Value) Caps() Capabilities {
	m, _ := mapValue(val.v)
	if m == nil {
		return nil
	}
	return Capabilities(m)
}

// intValue extracts any integer kind in canonical form: negative values in
// i with neg set, non-negative magnitudes in u.
func intValue(v any) (i int64, u uint64, neg bool, ok bool) {
	switch t := v.(type) {
	case int:
		return canonInt(int64(t))
	case int8:
		return canonInt(int64(t))
	case int16:
		return canonInt(int64(t))
	case int32:
		return canonInt(int64(t))
	case int64:
		return canonInt(t)
	case uint:
		return 0, uint64(t), false, true
	case uint8:
		return 0, uint64(t), false, true
	case uint16:
		return 0, uint64(t), false, true
	case uint32:
		return 0, uint64(t), false, true
	case uint64:
		return 0, t, false, true
	}
	return 0, 0, false, false
}

func canonInt(v int64) (int64, uint64, bool, bool) {
	if v < 0 {
		return v, 0, true, true
	}
	return 0, uint64(v), false, true
}

func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func boolValue(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	return "", false
}

// sliceValue converts any sequence kind (except byte blobs and strings)
// to []any.
func sliceValue(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []byte, string, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// mapValue converts any string-keyed mapping kind to map[string]any.
// Mappings with a non-string key are rejected as a whole.
func mapValue(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Capabilities:
		return map[string]any(t), true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = vv
		}
		return out, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		if k.Kind() != reflect.String {
			return nil, false
		}
		out[k.String()] = iter.Value().Interface()
	}
	return out, true
}
