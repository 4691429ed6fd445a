package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/audio/pcm"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/buffer"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/eventbits"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

// RecordingMode selects what happens to assembled frames.
type RecordingMode int

const (
	// ModeStream queues every frame as an outbound packet.
	ModeStream RecordingMode = iota
	// ModeVAD records from a speech edge to the next silence edge and
	// delivers the recording as a whole.
	ModeVAD
)

func (m RecordingMode) String() string {
	if m == ModeVAD {
		return "vad"
	}
	return "stream"
}

const (
	defaultFrameDuration     = 60 * time.Millisecond
	defaultMinRecordingBytes = 8000
	defaultSendQueueSize     = 40
	defaultWakeWordPreroll   = 2 * time.Second
	defaultMaxRecording      = 30 * time.Second
	defaultAudioTestLimit    = 10 * time.Second
)

// Config configures a Pipeline. Audio is 16kHz mono.
type Config struct {
	FrameDuration time.Duration
	Mode          RecordingMode
	// MinRecordingBytes discards VAD recordings shorter than this.
	MinRecordingBytes int
	// MaxRecording delivers a VAD recording early once it grows this long.
	MaxRecording    time.Duration
	SendQueueSize   int
	WakeWordPreroll time.Duration
	AudioTestLimit  time.Duration
}

func (c *Config) setDefaults() {
	if c.FrameDuration <= 0 {
		c.FrameDuration = defaultFrameDuration
	}
	if c.MinRecordingBytes <= 0 {
		c.MinRecordingBytes = defaultMinRecordingBytes
	}
	if c.MaxRecording <= 0 {
		c.MaxRecording = defaultMaxRecording
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.WakeWordPreroll <= 0 {
		c.WakeWordPreroll = defaultWakeWordPreroll
	}
	if c.AudioTestLimit <= 0 {
		c.AudioTestLimit = defaultAudioTestLimit
	}
}

// Callbacks are fired from the worker goroutine, or from the caller of
// NotifyWakeWord. They must not block.
type Callbacks struct {
	OnSendQueueAvailable func()
	OnWakeWordDetected   func(word string)
	OnVADChange          func(speaking bool)
	OnRecordingComplete  func(samples []int16)
	OnRecordingTooShort  func(bytes int)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithWakeWordDetector sets the detector fed while wake-word detection is on.
func WithWakeWordDetector(d WakeWordDetector) Option {
	return func(p *Pipeline) {
		p.detector = d
	}
}

const bitRunning eventbits.Bits = 1

// Pipeline is the capture side of the audio service.
type Pipeline struct {
	cfg          Config
	format       pcm.Format
	fe           Frontend
	detector     WakeWordDetector
	logger       *slog.Logger
	frameSamples int
	maxRecording int

	events      eventbits.Group
	sendQueue   *buffer.Queue[*protocol.AudioStreamPacket]
	wakeRing    *buffer.RingBuffer[int16]
	wakePackets *buffer.Queue[*protocol.AudioStreamPacket]
	testRec     *buffer.Buffer[int16]

	wakeEnabled atomic.Bool
	testing     atomic.Bool
	speaking    atomic.Bool

	// mu guards the worker-side state below, which enable/disable reset.
	mu              sync.Mutex
	cb              Callbacks
	frames          *buffer.Buffer[int16]
	recording       *buffer.Buffer[int16]
	recordingActive bool
	timestamp       uint32
	lastWakeWord    string
}

// New creates a Pipeline. fe may be nil, in which case fed samples are
// dropped.
func New(fe Frontend, cfg Config, cb Callbacks, opts ...Option) *Pipeline {
	cfg.setDefaults()
	format := pcm.L16Mono16K
	p := &Pipeline{
		cfg:          cfg,
		format:       format,
		fe:           fe,
		cb:           cb,
		logger:       slog.Default(),
		frameSamples: format.SamplesInDuration(cfg.FrameDuration),
		maxRecording: format.SamplesInDuration(cfg.MaxRecording),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "capture")

	p.sendQueue = buffer.QueueN[*protocol.AudioStreamPacket](cfg.SendQueueSize)
	p.wakeRing = buffer.RingN[int16](format.SamplesInDuration(cfg.WakeWordPreroll))
	p.wakePackets = buffer.QueueN[*protocol.AudioStreamPacket](int(cfg.WakeWordPreroll/cfg.FrameDuration) + 1)
	p.testRec = buffer.N[int16](0)
	p.frames = buffer.N[int16](p.frameSamples * 2)
	p.recording = buffer.N[int16](0)
	return p
}

// FrameSamples is the number of samples in one emitted frame.
func (p *Pipeline) FrameSamples() int {
	return p.frameSamples
}

// Mode returns the recording mode.
func (p *Pipeline) Mode() RecordingMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Mode
}

// SetMode switches the recording mode and drops any partial recording.
func (p *Pipeline) SetMode(m RecordingMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Mode == m {
		return
	}
	p.cfg.Mode = m
	p.recording.Reset()
	p.recordingActive = false
	p.logger.Info("recording mode", "mode", m)
}

// SetCallbacks replaces the callbacks.
func (p *Pipeline) SetCallbacks(cb Callbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

// Run fetches processed audio until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.fe == nil {
		<-ctx.Done()
		return nil
	}
	for {
		if _, err := p.events.Wait(ctx, bitRunning, eventbits.WaitOptions{}); err != nil {
			return nil
		}
		res, err := p.fe.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrFrontendClosed) {
				return err
			}
			p.logger.Warn("fetch", "error", err)
			continue
		}
		if res == nil || !p.IsVoiceProcessing() {
			continue
		}
		for _, fire := range p.process(res) {
			fire()
		}
	}
}

// process runs under mu and returns the callbacks to fire once unlocked.
func (p *Pipeline) process(res *Result) []func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fire []func()
	speaking := res.VAD == Speech
	if speaking != p.speaking.Load() {
		p.speaking.Store(speaking)
		fire = append(fire, p.vadEdgeLocked(speaking)...)
	}

	p.frames.Write(res.Samples)
	for {
		frame, ok := p.frames.Take(p.frameSamples)
		if !ok {
			break
		}
		fire = append(fire, p.frameLocked(frame)...)
	}
	return fire
}

func (p *Pipeline) vadEdgeLocked(speaking bool) []func() {
	p.logger.Debug("vad edge", "speaking", speaking)
	var fire []func()
	if fn := p.cb.OnVADChange; fn != nil {
		fire = append(fire, func() { fn(speaking) })
	}
	if p.cfg.Mode != ModeVAD {
		return fire
	}
	if speaking {
		p.recording.Reset()
		p.recording.Grow(p.format.SamplesInDuration(5 * time.Second))
		p.recordingActive = true
		return fire
	}
	if p.recordingActive {
		fire = append(fire, p.finishRecordingLocked()...)
	}
	return fire
}

func (p *Pipeline) frameLocked(frame []int16) []func() {
	if p.cfg.Mode == ModeVAD {
		if !p.recordingActive {
			return nil
		}
		p.recording.Write(frame)
		if p.recording.Len() >= p.maxRecording {
			p.logger.Warn("recording reached maximum length", "samples", p.recording.Len())
			fire := p.finishRecordingLocked()
			// Speech continues; keep recording.
			p.recordingActive = true
			return fire
		}
		return nil
	}

	ms := int(p.cfg.FrameDuration / time.Millisecond)
	pkt := &protocol.AudioStreamPacket{
		SampleRate:    p.format.SampleRate(),
		FrameDuration: ms,
		Timestamp:     p.timestamp,
		Encoding:      protocol.PCM16,
		Payload:       pcm.Encode(frame),
	}
	p.timestamp += uint32(ms)
	if err := p.sendQueue.Push(pkt); err != nil {
		p.logger.Warn("send queue full, dropping frame", "queued", p.sendQueue.Len())
		return nil
	}
	if fn := p.cb.OnSendQueueAvailable; fn != nil {
		return []func(){fn}
	}
	return nil
}

// RecordingLongEnough reports whether a recording of n bytes passes the
// minimum-size gate.
func (p *Pipeline) RecordingLongEnough(n int) bool {
	return n >= p.cfg.MinRecordingBytes
}

func (p *Pipeline) finishRecordingLocked() []func() {
	p.recordingActive = false
	samples := p.recording.Drain()
	n := len(samples) * 2
	if !p.RecordingLongEnough(n) {
		p.logger.Info("recording too short, discarded", "bytes", n, "min", p.cfg.MinRecordingBytes)
		if fn := p.cb.OnRecordingTooShort; fn != nil {
			return []func(){func() { fn(n) }}
		}
		return nil
	}
	p.logger.Info("recording complete", "bytes", n, "duration", p.format.Duration(n))
	if fn := p.cb.OnRecordingComplete; fn != nil {
		return []func(){func() { fn(samples) }}
	}
	return nil
}

// Feed accepts raw microphone samples. The front end always receives them;
// the worker discards its output while voice processing is off.
func (p *Pipeline) Feed(samples []int16) {
	if p.wakeEnabled.Load() {
		p.wakeRing.Write(samples)
		if p.detector != nil {
			p.detector.Feed(samples)
		}
	}
	if p.testing.Load() && p.testRec.Len() < p.format.SamplesInDuration(p.cfg.AudioTestLimit) {
		p.testRec.Write(samples)
	}
	if p.fe == nil {
		p.logger.Debug("no frontend, dropping samples", "samples", len(samples))
		return
	}
	p.fe.Feed(samples)
}

// EnableVoiceProcessing starts or stops the worker. Both directions reset
// the frame accumulator, the speech latch and any partial recording.
func (p *Pipeline) EnableVoiceProcessing(on bool) {
	if on == p.IsVoiceProcessing() {
		return
	}
	if !on {
		p.events.Clear(bitRunning)
	}
	if p.fe != nil {
		p.fe.Reset()
	}
	p.mu.Lock()
	p.frames.Reset()
	p.recording.Reset()
	p.recordingActive = false
	p.speaking.Store(false)
	p.mu.Unlock()
	if on {
		p.events.Set(bitRunning)
	}
	p.logger.Debug("voice processing", "enabled", on)
}

// IsVoiceProcessing reports whether the worker is consuming audio.
func (p *Pipeline) IsVoiceProcessing() bool {
	return p.events.Get().Has(bitRunning)
}

// IsSpeaking reports the current speech latch.
func (p *Pipeline) IsSpeaking() bool {
	return p.speaking.Load()
}

// EnableWakeWordDetection turns the detector feed on or off.
func (p *Pipeline) EnableWakeWordDetection(on bool) {
	if p.wakeEnabled.Swap(on) == on {
		return
	}
	if on {
		p.wakeRing.Reset()
	}
	p.logger.Debug("wake word detection", "enabled", on)
}

// IsWakeWordDetecting reports whether wake-word detection is enabled.
func (p *Pipeline) IsWakeWordDetecting() bool {
	return p.wakeEnabled.Load()
}

// NotifyWakeWord is called by the detector. It is ignored while detection
// is disabled.
func (p *Pipeline) NotifyWakeWord(word string) {
	if !p.wakeEnabled.Load() {
		return
	}
	p.mu.Lock()
	p.lastWakeWord = word
	fn := p.cb.OnWakeWordDetected
	p.mu.Unlock()
	p.logger.Info("wake word detected", "word", word)
	if fn != nil {
		fn(word)
	}
}

// LastWakeWord returns the most recent detected wake word.
func (p *Pipeline) LastWakeWord() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastWakeWord
}

// EncodeWakeWord snapshots the pre-roll ring into frame packets for
// PopWakeWordPacket.
func (p *Pipeline) EncodeWakeWord() {
	samples := p.wakeRing.Snapshot()
	p.wakePackets.Reset()
	ms := int(p.cfg.FrameDuration / time.Millisecond)
	var ts uint32
	for off := 0; off < len(samples); off += p.frameSamples {
		end := min(off+p.frameSamples, len(samples))
		pkt := &protocol.AudioStreamPacket{
			SampleRate:    p.format.SampleRate(),
			FrameDuration: ms,
			Timestamp:     ts,
			Encoding:      protocol.PCM16,
			Payload:       pcm.Encode(samples[off:end]),
		}
		ts += uint32(ms)
		if err := p.wakePackets.Push(pkt); err != nil {
			break
		}
	}
}

// PopWakeWordPacket returns the next pre-roll packet.
func (p *Pipeline) PopWakeWordPacket() (*protocol.AudioStreamPacket, bool) {
	return p.wakePackets.Pop()
}

// PeekSendPacket returns the oldest outbound packet without removing it.
func (p *Pipeline) PeekSendPacket() (*protocol.AudioStreamPacket, bool) {
	return p.sendQueue.Peek()
}

// PopSendPacket removes the oldest outbound packet.
func (p *Pipeline) PopSendPacket() (*protocol.AudioStreamPacket, bool) {
	return p.sendQueue.Pop()
}

// SendQueueLen returns the number of outbound packets waiting.
func (p *Pipeline) SendQueueLen() int {
	return p.sendQueue.Len()
}

// IsIdle reports whether nothing is queued or being recorded.
func (p *Pipeline) IsIdle() bool {
	p.mu.Lock()
	recording := p.recordingActive
	p.mu.Unlock()
	return !recording && p.sendQueue.Len() == 0
}

// EnableAudioTesting starts collecting raw samples when on, and returns
// the collected samples when turned off.
func (p *Pipeline) EnableAudioTesting(on bool) []int16 {
	if on {
		p.testRec.Reset()
		p.testing.Store(true)
		return nil
	}
	p.testing.Store(false)
	return p.testRec.Drain()
}

// EnableDeviceAEC toggles echo cancellation on front ends that have it.
func (p *Pipeline) EnableDeviceAEC(on bool) {
	if c, ok := p.fe.(AECController); ok {
		c.EnableAEC(on)
		return
	}
	p.logger.Debug("frontend has no AEC control")
}
