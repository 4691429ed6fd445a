package resampler

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Mono resamples a stream of mono int16 blocks from one rate to another.
// Filter state carries across Process calls, so consecutive blocks of one
// stream join without clicks.
type Mono struct {
	srcRate, dstRate int

	mu        sync.Mutex
	resampler resampling.Resampler
}

// New creates a Mono resampler converting srcRate to dstRate. When the rates
// are equal Process returns its input unchanged.
func New(srcRate, dstRate int) (*Mono, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", srcRate, dstRate)
	}
	m := &Mono{srcRate: srcRate, dstRate: dstRate}
	if srcRate == dstRate {
		return m, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	m.resampler = r
	return m, nil
}

// SrcRate returns the input sample rate.
func (m *Mono) SrcRate() int { return m.srcRate }

// DstRate returns the output sample rate.
func (m *Mono) DstRate() int { return m.dstRate }

// Process converts one block of samples.
func (m *Mono) Process(samples []int16) ([]int16, error) {
	if m.resampler == nil {
		return samples, nil
	}
	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s) / 32768.0
	}

	m.mu.Lock()
	output, err := m.resampler.Process(input)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	out := make([]int16, len(output))
	for i, s := range output {
		switch {
		case s >= 1.0:
			out[i] = math.MaxInt16
		case s < -1.0:
			out[i] = math.MinInt16
		default:
			out[i] = int16(s * 32767.0)
		}
	}
	return out, nil
}
