package protocol

import (
	"context"
	"time"
)

// ListeningMode selects how a listening turn ends.
type ListeningMode int

const (
	// ManualStop ends the turn only when the user stops it.
	ManualStop ListeningMode = iota
	// AutoStop lets the service end the turn when the user stops talking.
	AutoStop
	// Realtime keeps the microphone open while the device speaks.
	Realtime
)

func (m ListeningMode) String() string {
	switch m {
	case ManualStop:
		return "manual"
	case AutoStop:
		return "auto"
	case Realtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// AbortReason tells the service why playback was interrupted.
type AbortReason int

const (
	AbortNone AbortReason = iota
	AbortWakeWordDetected
)

func (r AbortReason) String() string {
	switch r {
	case AbortNone:
		return "none"
	case AbortWakeWordDetected:
		return "wake_word_detected"
	default:
		return "unknown"
	}
}

// Encoding is the codec of an AudioStreamPacket payload.
type Encoding int

const (
	// PCM16 is signed 16-bit little-endian mono PCM.
	PCM16 Encoding = iota
	// Opus is one Opus frame per packet.
	Opus
)

func (e Encoding) String() string {
	switch e {
	case PCM16:
		return "pcm_s16le"
	case Opus:
		return "opus"
	default:
		return "unknown"
	}
}

// AudioStreamPacket is one unit of audio moving through a queue. Whoever
// holds the pointer owns the payload; senders must not touch it after
// handing it off.
type AudioStreamPacket struct {
	SampleRate    int
	FrameDuration int // milliseconds
	Timestamp     uint32
	Encoding      Encoding
	Payload       []byte
}

// Duration returns the nominal frame duration.
func (p *AudioStreamPacket) Duration() time.Duration {
	return time.Duration(p.FrameDuration) * time.Millisecond
}

// Capabilities describes behaviour that differs between sessions.
type Capabilities struct {
	// ServerVAD is set when the service detects end of speech itself and
	// start/stop listening messages have no effect.
	ServerVAD bool
	// WakeWordAudio is set when the service wants the buffered wake-word
	// audio. Otherwise the device plays a local cue after a wake word.
	WakeWordAudio bool
	// RequestResponse is set when audio is only submitted when the channel
	// is closed or a size threshold is crossed.
	RequestResponse bool
	// InputEncoding is the only packet encoding SendAudio accepts.
	InputEncoding Encoding
}

// Protocol is a session with the remote dialogue service.
//
// Control methods are called from a single goroutine (the state machine run
// loop). Callbacks may fire on any goroutine.
type Protocol interface {
	// Start prepares the session. It does not open the audio channel.
	Start(ctx context.Context) error
	// OpenAudioChannel blocks until the channel is usable or fails.
	OpenAudioChannel(ctx context.Context) error
	CloseAudioChannel()
	IsAudioChannelOpened() bool

	// SendAudio submits one packet. It returns false when the session
	// declines the packet; the caller keeps ownership and retries later.
	SendAudio(pkt *AudioStreamPacket) bool
	// SendPCMAudio submits a block of raw samples.
	SendPCMAudio(samples []int16) bool

	SendStartListening(mode ListeningMode)
	SendStopListening()
	SendWakeWordDetected(word string)
	SendAbortSpeaking(reason AbortReason)
	SendMcpMessage(payload string)

	Capabilities() Capabilities
	// ServerSampleRate is the sample rate of downstream audio.
	ServerSampleRate() int

	OnIncomingAudio(fn func(*AudioStreamPacket))
	OnIncomingMessage(fn func(*Message))
	OnAudioChannelOpened(fn func())
	OnAudioChannelClosed(fn func())
	OnNetworkError(fn func(msg string))
}
