package pcm

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrOddLength is returned when a byte slice does not hold a whole number of
// 16-bit samples.
var ErrOddLength = errors.New("pcm: odd byte length")

// Decode converts little-endian sample bytes to int16 samples.
func Decode(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// Encode converts int16 samples to little-endian bytes.
func Encode(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS returns the root-mean-square level of samples, in sample units.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Sine fills n samples with a sine tone at freq Hz and the given amplitude
// (0..1).
func Sine(freq float64, n, sampleRate int, amplitude float64) []int16 {
	out := make([]int16, n)
	if freq <= 0 {
		return out
	}
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = int16(math.Sin(2*math.Pi*freq*t) * amplitude * math.MaxInt16)
	}
	return out
}
