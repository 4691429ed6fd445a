package buffer

import (
	"slices"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	tests := []struct {
		size   int
		writes [][]byte
		want   []byte
	}{
		{1, [][]byte{{1, 2, 3}}, []byte{3}},
		{2, [][]byte{{1, 2, 3}}, []byte{2, 3}},
		{3, [][]byte{{1, 2, 3}}, []byte{1, 2, 3}},
		{4, [][]byte{{1, 2, 3}}, []byte{1, 2, 3}},
		{3, [][]byte{{1, 2}, {3, 4}}, []byte{2, 3, 4}},
		{3, [][]byte{{1}, {2}, {3}, {4}, {5}}, []byte{3, 4, 5}},
		{4, [][]byte{{1, 2, 3}, {4, 5, 6, 7, 8, 9}}, []byte{6, 7, 8, 9}},
	}
	for _, tt := range tests {
		rb := RingN[byte](tt.size)
		for _, w := range tt.writes {
			if n, _ := rb.Write(w); n != len(w) {
				t.Errorf("Write(%v) = %d; want %d", w, n, len(w))
			}
		}
		if got := rb.Snapshot(); !slices.Equal(got, tt.want) {
			t.Errorf("size=%d writes=%v: Snapshot() = %v; want %v", tt.size, tt.writes, got, tt.want)
		}
		if rb.Len() != len(tt.want) {
			t.Errorf("size=%d: Len() = %d; want %d", tt.size, rb.Len(), len(tt.want))
		}
	}
}

func TestRingBufferReset(t *testing.T) {
	rb := RingN[int16](4)
	rb.Write([]int16{1, 2, 3})
	rb.Reset()
	if rb.Len() != 0 || len(rb.Snapshot()) != 0 {
		t.Errorf("Reset left %d elements", rb.Len())
	}
	rb.Write([]int16{7})
	if got := rb.Snapshot(); !slices.Equal(got, []int16{7}) {
		t.Errorf("Snapshot() = %v; want [7]", got)
	}
}
