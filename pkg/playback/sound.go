package playback

import (
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/audio/pcm"
)

// Cue sound names.
const (
	SoundPopup       = "popup"
	SoundSuccess     = "success"
	SoundExclamation = "exclamation"
	SoundVibration   = "vibration"
)

type tone struct {
	freq float64
	ms   int
}

var sounds = map[string][]tone{
	SoundPopup:       {{880, 80}},
	SoundSuccess:     {{523, 100}, {659, 100}, {784, 160}},
	SoundExclamation: {{440, 120}, {0, 60}, {440, 120}},
	SoundVibration:   {{150, 200}},
}

// Sound renders a named cue as 16kHz samples. It returns false for an
// unknown name.
func Sound(name string) ([]int16, bool) {
	tones, ok := sounds[name]
	if !ok {
		return nil, false
	}
	rate := pcm.L16Mono16K.SampleRate()
	var out []int16
	for _, t := range tones {
		n := rate * t.ms / 1000
		if t.freq == 0 {
			out = append(out, make([]int16, n)...)
			continue
		}
		out = append(out, pcm.Sine(t.freq, n, rate, 0.4)...)
	}
	return out, true
}

// PlaySound queues a named cue sound.
func (p *Player) PlaySound(name string) {
	samples, ok := Sound(name)
	if !ok {
		p.logger.Warn("unknown sound", "name", name)
		return
	}
	if !p.PlayPCM(samples, pcm.L16Mono16K.SampleRate()) {
		p.logger.Warn("queue full, sound truncated", "name", name)
	}
}
