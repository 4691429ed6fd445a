package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/capture"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

// ===== Protocol =====

type fakeProtocol struct {
	protocol.Handlers

	mu           sync.Mutex
	caps         protocol.Capabilities
	startErr     error
	openErr      error
	opened       bool
	acceptAudio  int // -1 accepts everything
	calls        []string
	audio        []*protocol.AudioStreamPacket
	pcm          [][]int16
	closeEmitted int
}

func newFakeProtocol() *fakeProtocol {
	return &fakeProtocol{acceptAudio: -1}
}

func (p *fakeProtocol) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProtocol) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProtocol) resetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

func (p *fakeProtocol) setOpened(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = on
}

func (p *fakeProtocol) Start(ctx context.Context) error {
	p.record("start")
	return p.startErr
}

func (p *fakeProtocol) OpenAudioChannel(ctx context.Context) error {
	p.record("open")
	if p.openErr != nil {
		p.EmitNetworkError(p.openErr.Error())
		return p.openErr
	}
	p.setOpened(true)
	p.EmitOpened()
	return nil
}

func (p *fakeProtocol) CloseAudioChannel() {
	p.record("close")
	p.mu.Lock()
	was := p.opened
	p.opened = false
	p.mu.Unlock()
	if was {
		p.EmitClosed()
	}
}

func (p *fakeProtocol) IsAudioChannelOpened() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

func (p *fakeProtocol) SendAudio(pkt *protocol.AudioStreamPacket) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acceptAudio == 0 {
		return false
	}
	if p.acceptAudio > 0 {
		p.acceptAudio--
	}
	p.audio = append(p.audio, pkt)
	return true
}

func (p *fakeProtocol) sentAudio() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.audio)
}

func (p *fakeProtocol) SendPCMAudio(samples []int16) bool {
	p.record(fmt.Sprintf("pcm:%d", len(samples)))
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pcm = append(p.pcm, samples)
	return true
}

func (p *fakeProtocol) SendStartListening(mode protocol.ListeningMode) {
	p.record("start_listening:" + mode.String())
}

func (p *fakeProtocol) SendStopListening() { p.record("stop_listening") }

func (p *fakeProtocol) SendWakeWordDetected(word string) { p.record("wake_word:" + word) }

func (p *fakeProtocol) SendAbortSpeaking(reason protocol.AbortReason) {
	p.record("abort:" + reason.String())
}

func (p *fakeProtocol) SendMcpMessage(payload string) { p.record("mcp:" + payload) }

func (p *fakeProtocol) Capabilities() protocol.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

func (p *fakeProtocol) ServerSampleRate() int { return 24000 }

// ===== Capture =====

type fakeCapture struct {
	mu          sync.Mutex
	cb          capture.Callbacks
	mode        capture.RecordingMode
	vp, ww      bool
	sendQueue   []*protocol.AudioStreamPacket
	wakePackets []*protocol.AudioStreamPacket
	lastWord    string
	testing     bool
	testSamples []int16
	aec         bool
	busy        bool
}

func (c *fakeCapture) SetCallbacks(cb capture.Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

func (c *fakeCapture) callbacks() capture.Callbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

func (c *fakeCapture) SetMode(m capture.RecordingMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

func (c *fakeCapture) EnableVoiceProcessing(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vp = on
}

func (c *fakeCapture) IsVoiceProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vp
}

func (c *fakeCapture) EnableWakeWordDetection(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ww = on
}

func (c *fakeCapture) flags() (vp, ww bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vp, c.ww
}

func (c *fakeCapture) LastWakeWord() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWord
}

func (c *fakeCapture) EncodeWakeWord() {}

func (c *fakeCapture) PopWakeWordPacket() (*protocol.AudioStreamPacket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.wakePackets) == 0 {
		return nil, false
	}
	pkt := c.wakePackets[0]
	c.wakePackets = c.wakePackets[1:]
	return pkt, true
}

func (c *fakeCapture) queue(n int) {
	c.mu.Lock()
	for range n {
		c.sendQueue = append(c.sendQueue, &protocol.AudioStreamPacket{SampleRate: 16000, FrameDuration: 60})
	}
	fn := c.cb.OnSendQueueAvailable
	c.mu.Unlock()
	fn()
}

func (c *fakeCapture) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sendQueue)
}

func (c *fakeCapture) PeekSendPacket() (*protocol.AudioStreamPacket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sendQueue) == 0 {
		return nil, false
	}
	return c.sendQueue[0], true
}

func (c *fakeCapture) PopSendPacket() (*protocol.AudioStreamPacket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sendQueue) == 0 {
		return nil, false
	}
	pkt := c.sendQueue[0]
	c.sendQueue = c.sendQueue[1:]
	return pkt, true
}

func (c *fakeCapture) EnableAudioTesting(on bool) []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.testing = on
	if on {
		return nil
	}
	return c.testSamples
}

func (c *fakeCapture) EnableDeviceAEC(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aec = on
}

func (c *fakeCapture) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.busy
}

// ===== Playback =====

type fakePlayback struct {
	mu     sync.Mutex
	pushed int
	resets int
	sounds []string
	pcm    int
	busy   bool
}

func (p *fakePlayback) PushPacket(pkt *protocol.AudioStreamPacket) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed++
	return true
}

func (p *fakePlayback) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
}

func (p *fakePlayback) IsIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.busy
}

func (p *fakePlayback) PlaySound(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sounds = append(p.sounds, name)
}

func (p *fakePlayback) PlayPCM(samples []int16, sampleRate int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pcm += len(samples)
	return true
}

func (p *fakePlayback) stats() (pushed int, sounds []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushed, append([]string(nil), p.sounds...)
}

// ===== Display and board =====

type fakeDisplay struct {
	mu            sync.Mutex
	status        string
	emotion       string
	chat          map[string]string
	notifications []string
}

func (d *fakeDisplay) SetStatus(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = s
}

func (d *fakeDisplay) SetEmotion(e string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emotion = e
}

func (d *fakeDisplay) SetChatMessage(role, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chat == nil {
		d.chat = make(map[string]string)
	}
	d.chat[role] = content
}

func (d *fakeDisplay) ShowNotification(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, text)
}

func (d *fakeDisplay) UpdateStatusBar(bool) {}

func (d *fakeDisplay) snapshot() (status, emotion string, chat map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	chat = make(map[string]string, len(d.chat))
	for k, v := range d.chat {
		chat[k] = v
	}
	return d.status, d.emotion, chat
}

type fakeBoard struct {
	mu        sync.Mutex
	powerSave bool
	reboots   int
}

func (b *fakeBoard) SetPowerSaveMode(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.powerSave = on
}

func (b *fakeBoard) Reboot() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reboots++
}

type fakeMCP struct {
	mu       sync.Mutex
	payloads []string
}

func (h *fakeMCP) HandleMessage(payload json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, string(payload))
}

// ===== Harness =====

type harness struct {
	m       *Machine
	proto   *fakeProtocol
	cap     *fakeCapture
	play    *fakePlayback
	disp    *fakeDisplay
	board   *fakeBoard
	mcp     *fakeMCP
	events  *StateEvents
	mu      sync.Mutex
	changes []StateChange
}

type harnessOption func(*harness, *Config)

func offline() harnessOption {
	return func(h *harness, _ *Config) { h.proto = nil }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(_ *harness, c *Config) { fn(c) }
}

func withCaps(caps protocol.Capabilities) harnessOption {
	return func(h *harness, _ *Config) { h.proto.caps = caps }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		proto:  newFakeProtocol(),
		cap:    &fakeCapture{},
		play:   &fakePlayback{},
		disp:   &fakeDisplay{},
		board:  &fakeBoard{},
		mcp:    &fakeMCP{},
		events: &StateEvents{},
	}
	cfg := Config{TooShortRevertDelay: 10 * time.Millisecond, ClockInterval: time.Hour}
	for _, opt := range opts {
		opt(h, &cfg)
	}
	h.events.Subscribe(func(c StateChange) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.changes = append(h.changes, c)
	})

	mopts := []Option{
		WithDisplay(h.disp),
		WithBoard(h.board),
		WithMCPHandler(h.mcp),
		WithStatePublisher(h.events),
	}
	if h.proto != nil {
		mopts = append(mopts, WithProtocol(h.proto))
	}
	h.m = New(h.cap, h.play, cfg, mopts...)

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// sync waits for the loop to run everything queued so far, including tasks
// those tasks queue.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	for range 3 {
		done := make(chan struct{})
		h.m.Schedule(func() { close(done) })
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("run loop stalled")
		}
	}
}

// enter puts the machine into s with the channel open for chat states.
func (h *harness) enter(t *testing.T, s State, mode protocol.ListeningMode) {
	t.Helper()
	h.m.Schedule(func() {
		if h.proto != nil && (s == StateListening || s == StateSpeaking) {
			h.proto.setOpened(true)
		}
		h.m.mode.Store(int32(mode))
		h.m.SetState(s)
	})
	h.sync(t)
	if h.proto != nil {
		h.proto.resetCalls()
	}
	h.mu.Lock()
	h.changes = nil
	h.mu.Unlock()
}

func (h *harness) stateChanges() []StateChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]StateChange(nil), h.changes...)
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", m.State(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
