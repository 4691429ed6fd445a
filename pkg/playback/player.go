package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/audio/pcm"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/audio/resampler"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/buffer"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

// Speaker is the audio output.
type Speaker interface {
	// Write plays PCM samples, blocking until they are accepted.
	Write(samples []int16) (int, error)
	// Format returns the PCM format the speaker expects.
	Format() pcm.Format
}

// DefaultQueueSize holds about 2.4s of 60ms packets.
const DefaultQueueSize = 40

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) {
		p.logger = l
	}
}

// WithQueueSize sets the number of packets the player buffers.
func WithQueueSize(n int) Option {
	return func(p *Player) {
		p.queueSize = n
	}
}

// Player plays queued packets on a Speaker.
type Player struct {
	speaker   Speaker
	queueSize int
	queue     *buffer.Queue[*protocol.AudioStreamPacket]
	wake      chan struct{}
	logger    *slog.Logger

	busy    atomic.Bool
	played  atomic.Int64
	dropped atomic.Int64

	mu         sync.Mutex
	resamplers map[int]*resampler.Mono
}

// New creates a Player writing to speaker.
func New(speaker Speaker, opts ...Option) *Player {
	p := &Player{
		speaker:    speaker,
		queueSize:  DefaultQueueSize,
		wake:       make(chan struct{}, 1),
		logger:     slog.Default(),
		resamplers: make(map[int]*resampler.Mono),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = buffer.QueueN[*protocol.AudioStreamPacket](p.queueSize)
	p.logger = p.logger.With("component", "playback")
	return p
}

// PushPacket queues pkt for playback. It returns false when the queue is
// full.
func (p *Player) PushPacket(pkt *protocol.AudioStreamPacket) bool {
	if err := p.queue.Push(pkt); err != nil {
		p.dropped.Add(1)
		return false
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// Reset drops all queued packets.
func (p *Player) Reset() {
	p.queue.Reset()
}

// IsIdle reports whether nothing is queued or playing.
func (p *Player) IsIdle() bool {
	return p.queue.Len() == 0 && !p.busy.Load()
}

// Played returns the number of packets written to the speaker.
func (p *Player) Played() int64 {
	return p.played.Load()
}

// Dropped returns the number of packets declined because the queue was
// full.
func (p *Player) Dropped() int64 {
	return p.dropped.Load()
}

// Run plays packets until ctx is done or the speaker fails.
func (p *Player) Run(ctx context.Context) error {
	for {
		p.busy.Store(true)
		pkt, ok := p.queue.Pop()
		if !ok {
			p.busy.Store(false)
			select {
			case <-p.wake:
				continue
			case <-ctx.Done():
				return nil
			}
		}
		if err := p.play(pkt); err != nil {
			p.busy.Store(false)
			return err
		}
	}
}

func (p *Player) play(pkt *protocol.AudioStreamPacket) error {
	if pkt.Encoding != protocol.PCM16 {
		p.logger.Warn("unsupported encoding, dropping packet", "encoding", pkt.Encoding)
		return nil
	}
	samples, err := pcm.Decode(pkt.Payload)
	if err != nil {
		p.logger.Warn("decode packet", "error", err, "bytes", len(pkt.Payload))
		return nil
	}
	if len(samples) == 0 {
		return nil
	}
	rs, err := p.resamplerFor(pkt.SampleRate)
	if err != nil {
		p.logger.Warn("resampler", "error", err, "rate", pkt.SampleRate)
		return nil
	}
	out, err := rs.Process(samples)
	if err != nil {
		p.logger.Warn("resample packet", "error", err)
		return nil
	}
	if _, err := p.speaker.Write(out); err != nil {
		return err
	}
	p.played.Add(1)
	return nil
}

func (p *Player) resamplerFor(rate int) (*resampler.Mono, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rs, ok := p.resamplers[rate]; ok {
		return rs, nil
	}
	rs, err := resampler.New(rate, p.speaker.Format().SampleRate())
	if err != nil {
		return nil, err
	}
	p.resamplers[rate] = rs
	return rs, nil
}

// PlayPCM queues samples recorded at sampleRate as 60ms packets. It returns
// false if the queue filled up before all packets were queued.
func (p *Player) PlayPCM(samples []int16, sampleRate int) bool {
	format, err := pcm.ForRate(sampleRate)
	if err != nil {
		p.logger.Warn("play pcm", "error", err)
		return false
	}
	const frame = 60 * time.Millisecond
	n := format.SamplesInDuration(frame)
	var ts uint32
	for off := 0; off < len(samples); off += n {
		end := min(off+n, len(samples))
		pkt := &protocol.AudioStreamPacket{
			SampleRate:    sampleRate,
			FrameDuration: int(frame / time.Millisecond),
			Timestamp:     ts,
			Encoding:      protocol.PCM16,
			Payload:       pcm.Encode(samples[off:end]),
		}
		if !p.PushPacket(pkt) {
			return false
		}
		ts += uint32(frame / time.Millisecond)
	}
	return true
}
