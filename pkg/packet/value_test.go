package packet

import (
	"math"
	"reflect"
	"testing"
)

func TestValueInt(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int64
	}{
		{"int", 42, 42},
		{"int8", int8(-3), -3},
		{"int64", int64(1 << 40), 1 << 40},
		{"uint8", uint8(255), 255},
		{"uint64 in range", uint64(7), 7},
		{"uint64 overflow", uint64(math.MaxUint64), 0},
		{"float not coerced", 4.2, 0},
		{"string not coerced", "42", 0},
		{"nil", nil, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := V(tc.v).Int(); got != tc.want {
				t.Errorf("Int() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestValueUint(t *testing.T) {
	if got := V(uint64(math.MaxUint64)).Uint(); got != math.MaxUint64 {
		t.Errorf("Uint() = %d, want MaxUint64", got)
	}
	if got := V(-1).Uint(); got != 0 {
		t.Errorf("Uint() on negative = %d, want 0", got)
	}
	if got := V(int32(9)).Uint(); got != 9 {
		t.Errorf("Uint() = %d, want 9", got)
	}
}

func TestValueFloat(t *testing.T) {
	if got := V(1.5).Float(); got != 1.5 {
		t.Errorf("Float() = %v, want 1.5", got)
	}
	if got := V(float32(2)).Float(); got != 2 {
		t.Errorf("Float() = %v, want 2", got)
	}
	// Integers coerce to float, not the other way around.
	if got := V(3).Float(); got != 3 {
		t.Errorf("Float() on int = %v, want 3", got)
	}
	if got := V(-4).Float(); got != -4 {
		t.Errorf("Float() on negative int = %v, want -4", got)
	}
}

func TestValueBool(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"true", true, true},
		{"false", false, false},
		{"nonzero int", 1, true},
		{"zero int", 0, false},
		{"negative int", -1, true},
		{"string", "true", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := V(tc.v).Bool(); got != tc.want {
				t.Errorf("Bool() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValueStrBytes(t *testing.T) {
	if got := V("abc").Str(); got != "abc" {
		t.Errorf("Str() = %q, want %q", got, "abc")
	}
	if got := V([]byte("abc")).Str(); got != "abc" {
		t.Errorf("Str() on bytes = %q, want %q", got, "abc")
	}
	if got := V("abc").Bytes(); string(got) != "abc" {
		t.Errorf("Bytes() on string = %q, want %q", got, "abc")
	}
	if got := V(42).Bytes(); got != nil {
		t.Errorf("Bytes() on int = %v, want nil", got)
	}
	if got := V(42).StrDefault("d"); got != "d" {
		t.Errorf("StrDefault() = %q, want %q", got, "d")
	}
}

func TestValueList(t *testing.T) {
	want := []any{int64(1), "two"}
	if got := V([]any{int64(1), "two"}).List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
	// Typed slices convert element-wise.
	got := V([]string{"a", "b"}).List()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("List() on []string = %v", got)
	}
	// Byte blobs are not sequences.
	if got := V([]byte{1, 2}).List(); got != nil {
		t.Errorf("List() on bytes = %v, want nil", got)
	}
	if got := V("ab").List(); got != nil {
		t.Errorf("List() on string = %v, want nil", got)
	}
}

func TestValueMap(t *testing.T) {
	m := V(map[string]any{"k": 1}).Map()
	if len(m) != 1 || m["k"] != 1 {
		t.Errorf("Map() = %v", m)
	}
	// any-keyed maps with string keys convert.
	m = V(map[any]any{"k": "v"}).Map()
	if len(m) != 1 || m["k"] != "v" {
		t.Errorf("Map() on map[any]any = %v", m)
	}
	// A single non-string key rejects the whole mapping.
	if m := V(map[any]any{1: "v"}).Map(); m != nil {
		t.Errorf("Map() with int key = %v, want nil", m)
	}
	if m := V("no").Map(); m != nil {
		t.Errorf("Map() on string = %v, want nil", m)
	}
}

func TestValueCaps(t *testing.T) {
	caps := V(map[string]any{"version": "6.0"}).Caps()
	if got := caps.Str("version"); got != "6.0" {
		t.Errorf("Caps().Str(version) = %q, want %q", got, "6.0")
	}
}
