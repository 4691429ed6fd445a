package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/audio/pcm"
)

// ErrFrontendClosed is returned by Fetch after the front end shuts down.
var ErrFrontendClosed = errors.New("capture: frontend closed")

// VADState is the voice-activity class of a fetched block.
type VADState int

const (
	Silence VADState = iota
	Speech
)

func (v VADState) String() string {
	if v == Speech {
		return "speech"
	}
	return "silence"
}

// Result is one block of processed audio.
type Result struct {
	Samples []int16
	VAD     VADState
}

// Frontend is the acoustic front end.
type Frontend interface {
	// Feed hands raw microphone samples to the front end.
	Feed(samples []int16)
	// Fetch blocks until a processed block is available.
	Fetch(ctx context.Context) (*Result, error)
	// Reset drops any buffered audio and state.
	Reset()
}

// AECController is implemented by front ends with on-device echo
// cancellation.
type AECController interface {
	EnableAEC(on bool)
}

// WakeWordDetector consumes raw samples while wake-word detection is on.
// Detections are reported back through Pipeline.NotifyWakeWord.
type WakeWordDetector interface {
	Feed(samples []int16)
}

// EnergyFrontend is a minimal Frontend that classifies each fed block by
// its RMS level. Speech holds for Hangover blocks after the level drops.
type EnergyFrontend struct {
	Threshold float64
	Hangover  int

	in chan []int16

	mu       sync.Mutex
	hang     int
	speaking bool
	aec      bool
}

// NewEnergyFrontend returns an EnergyFrontend buffering up to 64 blocks.
func NewEnergyFrontend(threshold float64, hangover int) *EnergyFrontend {
	return &EnergyFrontend{
		Threshold: threshold,
		Hangover:  hangover,
		in:        make(chan []int16, 64),
	}
}

// Feed queues a copy of samples. A full queue drops the block.
func (e *EnergyFrontend) Feed(samples []int16) {
	select {
	case e.in <- append([]int16(nil), samples...):
	default:
	}
}

func (e *EnergyFrontend) Fetch(ctx context.Context) (*Result, error) {
	select {
	case s := <-e.in:
		return &Result{Samples: s, VAD: e.classify(s)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *EnergyFrontend) classify(s []int16) VADState {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case pcm.RMS(s) >= e.Threshold:
		e.speaking = true
		e.hang = e.Hangover
	case e.hang > 0:
		e.hang--
	default:
		e.speaking = false
	}
	if e.speaking {
		return Speech
	}
	return Silence
}

func (e *EnergyFrontend) Reset() {
	for {
		select {
		case <-e.in:
		default:
			e.mu.Lock()
			e.hang = 0
			e.speaking = false
			e.mu.Unlock()
			return
		}
	}
}

// EnableAEC records the AEC setting. The energy detector has no echo path.
func (e *EnergyFrontend) EnableAEC(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aec = on
}

// AECEnabled reports the last EnableAEC setting.
func (e *EnergyFrontend) AECEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aec
}
