package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/capture"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/eventbits"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/playback"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

const (
	defaultOutputSampleRate    = 24000
	defaultTooShortRevertDelay = 1500 * time.Millisecond
	defaultClockInterval       = time.Second
)

// Config configures a Machine.
type Config struct {
	// VADTriggerRecording keeps voice processing on while idle and starts a
	// turn when speech is detected, instead of waiting for a wake word.
	VADTriggerRecording bool
	// WakeWordWhileSpeaking keeps wake-word detection on while speaking so
	// a wake word can interrupt the reply.
	WakeWordWhileSpeaking bool
	AECMode               AECMode
	// CustomMessages shows "custom" messages from the service.
	CustomMessages bool
	// OutputSampleRate is the speaker rate, used to warn about resampling.
	OutputSampleRate    int
	TooShortRevertDelay time.Duration
	ClockInterval       time.Duration
}

func (c *Config) setDefaults() {
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = defaultOutputSampleRate
	}
	if c.TooShortRevertDelay <= 0 {
		c.TooShortRevertDelay = defaultTooShortRevertDelay
	}
	if c.ClockInterval <= 0 {
		c.ClockInterval = defaultClockInterval
	}
}

// Option configures a Machine.
type Option func(*Machine)

// WithProtocol sets the protocol session. Without one the machine runs
// offline.
func WithProtocol(p protocol.Protocol) Option {
	return func(m *Machine) {
		m.protocol = p
	}
}

func WithDisplay(d Display) Option {
	return func(m *Machine) {
		m.display = d
	}
}

func WithLED(l LED) Option {
	return func(m *Machine) {
		m.led = l
	}
}

func WithBoard(b Board) Option {
	return func(m *Machine) {
		m.board = b
	}
}

// WithStatePublisher sets the receiver of state transitions. StateEvents
// is the usual choice.
func WithStatePublisher(p StatePublisher) Option {
	return func(m *Machine) {
		m.publisher = p
	}
}

func WithMCPHandler(h MCPHandler) Option {
	return func(m *Machine) {
		m.mcp = h
	}
}

// WithStrings replaces the user-visible texts.
func WithStrings(s Strings) Option {
	return func(m *Machine) {
		m.strings = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = l
	}
}

const (
	bitSchedule eventbits.Bits = 1 << iota
	bitSendAudio
	bitWakeWord
	bitVADChange
	bitError

	loopBits = bitSchedule | bitSendAudio | bitWakeWord | bitVADChange | bitError
)

// Machine is the device state machine.
type Machine struct {
	cfg       Config
	protocol  protocol.Protocol
	capture   Capture
	playback  Playback
	display   Display
	led       LED
	board     Board
	publisher StatePublisher
	mcp       MCPHandler
	strings   Strings
	logger    *slog.Logger

	events     eventbits.Group
	state      atomic.Int32
	mode       atomic.Int32
	aecMode    atomic.Int32
	vadTrigger atomic.Bool
	clockTicks atomic.Int64

	mu        sync.Mutex
	tasks     []func()
	lastError string

	// Owned by the run loop.
	loopCtx context.Context
	aborted bool
}

// New creates a Machine around the audio service halves.
func New(c Capture, p Playback, cfg Config, opts ...Option) *Machine {
	cfg.setDefaults()
	m := &Machine{
		cfg:       cfg,
		capture:   c,
		playback:  p,
		display:   nopDisplay{},
		led:       nopLED{},
		board:     nopBoard{},
		publisher: nopPublisher{},
		mcp:       nopMCP{},
		strings:   DefaultStrings(),
		logger:    slog.Default(),
		loopCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "device")
	m.aecMode.Store(int32(cfg.AECMode))
	m.vadTrigger.Store(cfg.VADTriggerRecording)
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// ListeningMode returns the mode of the current or last listening turn.
func (m *Machine) ListeningMode() protocol.ListeningMode {
	return protocol.ListeningMode(m.mode.Load())
}

// AECMode returns the configured echo cancellation mode.
func (m *Machine) AECMode() AECMode {
	return AECMode(m.aecMode.Load())
}

// LastError returns the last network error reported by the protocol.
func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Protocol returns the active protocol session, or nil when offline.
func (m *Machine) Protocol() protocol.Protocol {
	return m.protocol
}

// Start wires the collaborators together, starts the protocol and enters
// Idle. Call it once, before Run.
func (m *Machine) Start(ctx context.Context) error {
	m.SetState(StateStarting)

	m.capture.SetCallbacks(capture.Callbacks{
		OnSendQueueAvailable: func() { m.events.Set(bitSendAudio) },
		OnWakeWordDetected:   func(string) { m.events.Set(bitWakeWord) },
		OnVADChange:          m.onVADChange,
		OnRecordingComplete: func(samples []int16) {
			m.Schedule(func() { m.sendRecording(samples) })
		},
		OnRecordingTooShort: func(n int) {
			m.Schedule(func() { m.recordingTooShort(n) })
		},
	})
	m.applyRecordingMode()

	m.display.UpdateStatusBar(true)
	m.display.SetStatus(m.strings.LoadingProtocol)

	var startErr error
	if m.protocol != nil {
		m.registerProtocol()
		if err := m.protocol.Start(ctx); err != nil {
			m.logger.Error("start protocol", "error", err)
			startErr = fmt.Errorf("device: start protocol: %w", err)
		}
	} else {
		m.logger.Info("no protocol configured, running offline")
	}

	m.SetState(StateIdle)

	if startErr != nil {
		return startErr
	}
	m.display.ShowNotification(m.strings.ConnectionSuccessful)
	m.display.SetChatMessage("system", "")
	m.playback.PlaySound(playback.SoundSuccess)
	return nil
}

// vadTriggerActive reports whether idle speech should start a turn. It
// needs a protocol to send the recording to.
func (m *Machine) vadTriggerActive() bool {
	return m.vadTrigger.Load() && m.protocol != nil
}

func (m *Machine) applyRecordingMode() {
	if m.vadTriggerActive() {
		m.capture.SetMode(capture.ModeVAD)
	} else {
		m.capture.SetMode(capture.ModeStream)
	}
}

// Schedule queues task to run on the run loop. It may be called from any
// goroutine.
func (m *Machine) Schedule(task func()) {
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
	m.events.Set(bitSchedule)
}

// SetState changes the state and runs the entry actions of the new state.
// Setting the current state is a no-op. Call it only from the run loop, or
// before Run starts.
func (m *Machine) SetState(s State) {
	old := m.State()
	if old == s {
		return
	}
	m.clockTicks.Store(0)
	m.state.Store(int32(s))
	m.logger.Info("state changed", "from", old, "to", s)

	m.publisher.PublishStateChange(old, s)
	m.led.OnStateChanged(s)

	switch s {
	case StateUnknown, StateIdle:
		m.display.SetStatus(m.strings.Standby)
		m.display.SetEmotion("neutral")
		if m.vadTriggerActive() {
			m.capture.EnableVoiceProcessing(true)
			m.capture.EnableWakeWordDetection(false)
		} else {
			m.capture.EnableVoiceProcessing(false)
			m.capture.EnableWakeWordDetection(true)
		}
	case StateConnecting:
		m.display.SetStatus(m.strings.Connecting)
		m.display.SetEmotion("neutral")
		m.display.SetChatMessage("system", "")
	case StateListening:
		m.display.SetStatus(m.strings.Listening)
		m.display.SetEmotion("neutral")
		if !m.capture.IsVoiceProcessing() {
			if m.protocol != nil && m.protocol.IsAudioChannelOpened() {
				m.protocol.SendStartListening(m.ListeningMode())
			}
			m.capture.EnableVoiceProcessing(true)
			m.capture.EnableWakeWordDetection(false)
		}
	case StateSpeaking:
		m.display.SetStatus(m.strings.Speaking)
		if m.ListeningMode() != protocol.Realtime {
			m.capture.EnableVoiceProcessing(false)
			m.capture.EnableWakeWordDetection(m.cfg.WakeWordWhileSpeaking)
		}
		m.playback.Reset()
	}
}

func (m *Machine) setListeningMode(mode protocol.ListeningMode) {
	m.mode.Store(int32(mode))
	m.SetState(StateListening)
}

func (m *Machine) defaultListeningMode() protocol.ListeningMode {
	if m.AECMode() == AECOff {
		return protocol.AutoStop
	}
	return protocol.Realtime
}

// openAudioChannel opens the channel if needed. On failure the device goes
// back to Idle; nothing is retried until the next trigger.
func (m *Machine) openAudioChannel() bool {
	if m.protocol.IsAudioChannelOpened() {
		return true
	}
	m.SetState(StateConnecting)
	if err := m.protocol.OpenAudioChannel(m.loopCtx); err != nil {
		m.logger.Warn("open audio channel", "error", err)
		m.SetState(StateIdle)
		return false
	}
	return true
}

func (m *Machine) abortSpeaking(reason protocol.AbortReason) {
	m.logger.Info("abort speaking", "reason", reason)
	m.aborted = true
	if m.protocol != nil {
		m.protocol.SendAbortSpeaking(reason)
	}
}
