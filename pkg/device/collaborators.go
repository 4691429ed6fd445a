package device

import (
	"encoding/json"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/capture"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/playback"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

// Display shows status text, an emotion and chat lines.
type Display interface {
	SetStatus(status string)
	SetEmotion(emotion string)
	// SetChatMessage shows content for role ("user", "assistant" or
	// "system"). Empty content clears the line.
	SetChatMessage(role, content string)
	ShowNotification(text string)
	UpdateStatusBar(force bool)
}

// LED reflects the device state.
type LED interface {
	OnStateChanged(state State)
}

// Board is the hardware the machine runs on.
type Board interface {
	SetPowerSaveMode(on bool)
	Reboot()
}

// StatePublisher receives every state transition.
type StatePublisher interface {
	PublishStateChange(old, new State)
}

// MCPHandler consumes tool-invocation payloads from the service.
type MCPHandler interface {
	HandleMessage(payload json.RawMessage)
}

// Capture is the microphone side of the audio service.
type Capture interface {
	SetCallbacks(cb capture.Callbacks)
	SetMode(m capture.RecordingMode)
	EnableVoiceProcessing(on bool)
	IsVoiceProcessing() bool
	EnableWakeWordDetection(on bool)
	LastWakeWord() string
	EncodeWakeWord()
	PopWakeWordPacket() (*protocol.AudioStreamPacket, bool)
	PeekSendPacket() (*protocol.AudioStreamPacket, bool)
	PopSendPacket() (*protocol.AudioStreamPacket, bool)
	EnableAudioTesting(on bool) []int16
	EnableDeviceAEC(on bool)
	IsIdle() bool
}

// Playback is the speaker side of the audio service.
type Playback interface {
	PushPacket(pkt *protocol.AudioStreamPacket) bool
	Reset()
	IsIdle() bool
	PlaySound(name string)
	PlayPCM(samples []int16, sampleRate int) bool
}

type nopDisplay struct{}

func (nopDisplay) SetStatus(string)              {}
func (nopDisplay) SetEmotion(string)             {}
func (nopDisplay) SetChatMessage(string, string) {}
func (nopDisplay) ShowNotification(string)       {}
func (nopDisplay) UpdateStatusBar(bool)          {}

type nopLED struct{}

func (nopLED) OnStateChanged(State) {}

type nopBoard struct{}

func (nopBoard) SetPowerSaveMode(bool) {}
func (nopBoard) Reboot()               {}

type nopPublisher struct{}

func (nopPublisher) PublishStateChange(State, State) {}

type nopMCP struct{}

func (nopMCP) HandleMessage(json.RawMessage) {}

var (
	_ Capture  = (*capture.Pipeline)(nil)
	_ Playback = (*playback.Player)(nil)
)
