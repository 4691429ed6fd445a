package resampler

import (
	"slices"
	"testing"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/audio/pcm"
)

func TestPassthrough(t *testing.T) {
	r, err := New(16000, 16000)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	in := []int16{1, 2, 3}
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if !slices.Equal(in, out) {
		t.Errorf("Process = %v; want %v", out, in)
	}
}

func TestInvalidRates(t *testing.T) {
	if _, err := New(0, 16000); err == nil {
		t.Error("New(0, 16000) should fail")
	}
}

func TestDownsampleLength(t *testing.T) {
	r, err := New(24000, 16000)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	var total int
	tone := pcm.Sine(440, 2400, 24000, 0.5)
	for i := 0; i < 10; i++ {
		out, err := r.Process(tone)
		if err != nil {
			t.Fatalf("Process error: %v", err)
		}
		total += len(out)
	}
	// 24000 input samples at 2/3 ratio; allow for filter delay.
	if total < 12000 || total > 16500 {
		t.Errorf("total output = %d; want about 16000", total)
	}
}
