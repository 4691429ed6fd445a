package realtime

import (
	"log/slog"
	"time"
)

const (
	// DefaultURL is the realtime dialogue endpoint.
	DefaultURL = "wss://openspeech.bytedance.com/api/v3/realtime/dialogue"
	// DefaultResourceID is the X-Api-Resource-Id of the dialogue service.
	DefaultResourceID = "volc.speech.dialog"
	// DefaultAppKey is the fixed X-Api-App-Key of the dialogue service.
	DefaultAppKey = "PlgvMymc7f3tQnJ6"

	defaultHandshakeTimeout = 10 * time.Second
	defaultSessionTimeout   = 5 * time.Second
	defaultSendInterval     = 10 * time.Millisecond
	defaultSendQueueSize    = 3000 // 30s of 10ms chunks

	// Downstream TTS audio: 24kHz mono PCM in 20ms frames.
	ttsSampleRate    = 24000
	ttsFrameDuration = 20
)

// Config configures a Session.
type Config struct {
	URL        string
	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string

	// HandshakeTimeout bounds the wait for ConnectionStarted.
	HandshakeTimeout time.Duration
	// SessionTimeout bounds the wait for SessionStarted.
	SessionTimeout time.Duration
	// SendInterval is the pacing of the audio sender. Each tick sends one
	// queued chunk of this duration or the same amount of silence.
	SendInterval time.Duration
	// SendQueueSize is the number of chunks the sender may hold.
	SendQueueSize int
	// ControlCompression compresses JSON control payloads.
	ControlCompression Compression

	// Greeting is spoken by the service after a wake word. Empty disables
	// the greeting.
	Greeting string

	Session SessionConfig
}

// SessionConfig is the StartSession payload.
type SessionConfig struct {
	ASR    ASRConfig    `json:"asr" yaml:"asr"`
	TTS    TTSConfig    `json:"tts" yaml:"tts"`
	Dialog DialogConfig `json:"dialog" yaml:"dialog"`
}

type ASRConfig struct {
	Extra map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

type TTSConfig struct {
	Speaker     string      `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	AudioConfig AudioConfig `json:"audio_config" yaml:"audio_config"`
}

type AudioConfig struct {
	Channel    int    `json:"channel" yaml:"channel"`
	Format     string `json:"format" yaml:"format"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
}

type DialogConfig struct {
	BotName       string         `json:"bot_name,omitempty" yaml:"bot_name,omitempty"`
	SystemRole    string         `json:"system_role,omitempty" yaml:"system_role,omitempty"`
	SpeakingStyle string         `json:"speaking_style,omitempty" yaml:"speaking_style,omitempty"`
	DialogID      string         `json:"dialog_id,omitempty" yaml:"dialog_id,omitempty"`
	Extra         map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// DefaultSessionConfig returns the StartSession payload used when none is
// configured.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ASR: ASRConfig{
			Extra: map[string]any{"end_smooth_window_ms": 1000},
		},
		TTS: TTSConfig{
			Speaker: "zh_female_vv_jupiter_bigtts",
			AudioConfig: AudioConfig{
				Channel:    1,
				Format:     "pcm_s16le",
				SampleRate: ttsSampleRate,
			},
		},
		Dialog: DialogConfig{
			BotName: "小智",
		},
	}
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ResourceID == "" {
		c.ResourceID = DefaultResourceID
	}
	if c.AppKey == "" {
		c.AppKey = DefaultAppKey
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = defaultSessionTimeout
	}
	if c.SendInterval <= 0 {
		c.SendInterval = defaultSendInterval
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	def := DefaultSessionConfig()
	if c.Session.ASR.Extra == nil {
		c.Session.ASR.Extra = def.ASR.Extra
	}
	if c.Session.TTS.Speaker == "" {
		c.Session.TTS.Speaker = def.TTS.Speaker
	}
	if c.Session.TTS.AudioConfig.SampleRate == 0 {
		c.Session.TTS.AudioConfig = def.TTS.AudioConfig
	}
	if c.Session.Dialog.BotName == "" {
		c.Session.Dialog.BotName = def.Dialog.BotName
	}
}

// Option configures a Session.
type Option func(*Session)

// WithTransport replaces the WebSocket transport.
func WithTransport(t Transport) Option {
	return func(s *Session) {
		s.transport = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}
