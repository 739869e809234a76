package encoding

import (
	"bytes"
	"strings"
	"testing"

	"github.com/skylightd/skylight/pkg/packet"
)

// roundTripPackets is the shared corpus: every packet must survive
// Marshal/Unmarshal under every registered serializer.
var roundTripPackets = []*packet.Packet{
	packet.New("ping"),
	packet.New("ping", int64(42)),
	packet.New("ping_echo", int64(42), int64(-7), uint64(9)),
	packet.New("hello", packet.Capabilities{
		"version":     "6.0",
		"serializers": []any{int64(3), int64(1), int64(2)},
		"compressors": []any{int64(2), int64(3), int64(1), int64(0)},
		"bridge":      true,
	}),
	packet.New("window-icon", int64(1), "png", []byte{0x89, 0x50, 0x4e, 0x47}),
	packet.New("configure-window", int64(3), []any{int64(0), int64(0), int64(800), int64(600)},
		map[string]any{"fullscreen": false, "title": "xterm"}),
	packet.New("sound-data", "opus", bytes.Repeat([]byte{0xAB}, 4096), float64(0.5)),
	packet.New("clipboard-token", "CLIPBOARD", nil),
	packet.New("t", strings.Repeat("long ", 1000)),
	packet.New("nested", []any{[]any{[]any{"deep", int64(1)}}}),
}

func TestRoundTripAllSerializers(t *testing.T) {
	for _, id := range []uint8{IDMsgpack, IDCBOR, IDNative} {
		s, ok := Get(id)
		if !ok {
			t.Fatalf("serializer %d not registered", id)
		}
		t.Run(s.Name(), func(t *testing.T) {
			for _, pkt := range roundTripPackets {
				data, err := s.Marshal(pkt)
				if err != nil {
					t.Fatalf("Marshal(%s) error: %v", pkt, err)
				}
				got, err := s.Unmarshal(data)
				if err != nil {
					t.Fatalf("Unmarshal(%s) error: %v", pkt, err)
				}
				if !packet.Equal(got, pkt) {
					t.Errorf("round trip mismatch:\n got:  %s\n want: %s", got, pkt)
				}
			}
		})
	}
}

func TestUnmarshalRejectsNonPackets(t *testing.T) {
	for _, id := range []uint8{IDMsgpack, IDCBOR, IDNative} {
		s, _ := Get(id)
		t.Run(s.Name(), func(t *testing.T) {
			// An empty sequence has no type tag.
			data, err := s.Marshal(packet.New(""))
			if err == nil {
				if _, err := s.Unmarshal(data); err == nil {
					t.Error("Unmarshal accepted a packet with an empty type tag")
				}
			}

			// Garbage input must error, not panic.
			if _, err := s.Unmarshal([]byte{0xff, 0xfe, 0xfd}); err == nil {
				t.Error("Unmarshal accepted garbage input")
			}
			if _, err := s.Unmarshal(nil); err == nil {
				t.Error("Unmarshal accepted empty input")
			}
		})
	}
}

func TestBootstrapIsMsgpack(t *testing.T) {
	b := Bootstrap()
	if b.ID() != BootstrapID || b.ID() != IDMsgpack {
		t.Errorf("Bootstrap().ID() = %d, want %d", b.ID(), IDMsgpack)
	}

	// The bootstrap codec must decode a hello it encoded itself: this is
	// the pre-negotiation contract every connection depends on.
	hello := packet.New("hello", packet.Capabilities{"version": "6.0"})
	data, err := b.Marshal(hello)
	if err != nil {
		t.Fatalf("Marshal(hello) error: %v", err)
	}
	got, err := b.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal(hello) error: %v", err)
	}
	if got.Type != "hello" {
		t.Errorf("Type = %q, want %q", got.Type, "hello")
	}
}

func TestRegistry(t *testing.T) {
	tests := []struct {
		id   uint8
		name string
	}{
		{IDMsgpack, "msgpack"},
		{IDCBOR, "cbor"},
		{IDNative, "native"},
	}

	for _, tc := range tests {
		s, ok := Get(tc.id)
		if !ok {
			t.Fatalf("Get(%d) not found", tc.id)
		}
		if s.Name() != tc.name {
			t.Errorf("Get(%d).Name() = %q, want %q", tc.id, s.Name(), tc.name)
		}
		byN, ok := ByName(tc.name)
		if !ok || byN.ID() != tc.id {
			t.Errorf("ByName(%q) = %v, want id %d", tc.name, byN, tc.id)
		}
	}

	if _, ok := Get(0); ok {
		t.Error("Get(0) found a serializer, id 0 is reserved")
	}
	if _, ok := ByName("bencode"); ok {
		t.Error("ByName(bencode) unexpectedly found")
	}
}

func TestIDsByName(t *testing.T) {
	ids, err := IDsByName([]string{"native", "msgpack"})
	if err != nil {
		t.Fatalf("IDsByName error: %v", err)
	}
	if len(ids) != 2 || ids[0] != IDNative || ids[1] != IDMsgpack {
		t.Errorf("IDsByName = %v, want [%d %d]", ids, IDNative, IDMsgpack)
	}

	if _, err := IDsByName([]string{"native", "nope"}); err == nil {
		t.Error("IDsByName accepted an unknown name")
	}
}

func TestNames(t *testing.T) {
	got := Names([]uint8{IDNative, 77})
	if got[0] != "native" || got[1] != "#77" {
		t.Errorf("Names() = %v", got)
	}
}

func BenchmarkMarshal(b *testing.B) {
	pkt := packet.New("draw", int64(3), int64(0), int64(0), int64(256), int64(256),
		"rgb32", bytes.Repeat([]byte{0x7f}, 16384), int64(0), int64(65536))
	for _, id := range []uint8{IDMsgpack, IDCBOR, IDNative} {
		s, _ := Get(id)
		b.Run(s.Name(), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := s.Marshal(pkt); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkUnmarshal(b *testing.B) {
	pkt := packet.New("draw", int64(3), int64(0), int64(0), int64(256), int64(256),
		"rgb32", bytes.Repeat([]byte{0x7f}, 16384), int64(0), int64(65536))
	for _, id := range []uint8{IDMsgpack, IDCBOR, IDNative} {
		s, _ := Get(id)
		data, err := s.Marshal(pkt)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(s.Name(), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := s.Unmarshal(data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
