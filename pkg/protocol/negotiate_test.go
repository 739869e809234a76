package protocol

import (
	"reflect"
	"testing"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name   string
		local  []uint8
		remote []uint8
		want   uint8
		wantOK bool
	}{
		{
			name:   "local_preference_wins",
			local:  []uint8{1, 2},
			remote: []uint8{2, 3},
			want:   2,
			wantOK: true,
		},
		{
			name:   "first_local_match",
			local:  []uint8{3, 1, 2},
			remote: []uint8{2, 1},
			want:   1,
			wantOK: true,
		},
		{
			name:   "identical_lists",
			local:  []uint8{1, 2, 3},
			remote: []uint8{1, 2, 3},
			want:   1,
			wantOK: true,
		},
		{
			name:   "remote_order_irrelevant",
			local:  []uint8{2},
			remote: []uint8{3, 1, 2},
			want:   2,
			wantOK: true,
		},
		{
			name:   "disjoint",
			local:  []uint8{1, 2},
			remote: []uint8{3, 4},
			wantOK: false,
		},
		{
			name:   "empty_remote",
			local:  []uint8{1},
			remote: nil,
			wantOK: false,
		},
		{
			name:   "empty_local",
			local:  nil,
			remote: []uint8{1},
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := negotiate(tc.local, tc.remote)
			if ok != tc.wantOK {
				t.Fatalf("negotiate() ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && got != tc.want {
				t.Errorf("negotiate() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNegotiateDeterministic(t *testing.T) {
	local := []uint8{3, 1, 2}
	remote := []uint8{2, 3}
	first, ok := negotiate(local, remote)
	if !ok {
		t.Fatal("negotiate() failed on overlapping lists")
	}
	for i := 0; i < 100; i++ {
		got, ok := negotiate(local, remote)
		if !ok || got != first {
			t.Fatalf("negotiate() = %d, %v on run %d, want %d, true", got, ok, i, first)
		}
	}
}

func TestIDList(t *testing.T) {
	got := idList([]uint8{3, 1, 2})
	want := []any{int64(3), int64(1), int64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("idList() = %v, want %v", got, want)
	}
	if got := idList(nil); len(got) != 0 {
		t.Errorf("idList(nil) = %v, want empty", got)
	}
}
