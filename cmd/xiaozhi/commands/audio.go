package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/audio/pcm"
)

const micBlock = 60 * time.Millisecond

// fileMic replays a raw s16le 16kHz file in real time, then feeds silence.
type fileMic struct {
	r      io.Reader
	closer io.Closer
}

func openMic(path string) (*fileMic, error) {
	if path == "" {
		return &fileMic{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mic: %w", err)
	}
	return &fileMic{r: f, closer: f}, nil
}

// Run calls feed with one block per tick until ctx is done.
func (m *fileMic) Run(ctx context.Context, feed func([]int16)) error {
	if m.closer != nil {
		defer m.closer.Close()
	}
	format := pcm.L16Mono16K
	buf := make([]byte, format.BytesInDuration(micBlock))
	silence := make([]int16, format.SamplesInDuration(micBlock))
	ticker := time.NewTicker(micBlock)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if m.r == nil {
			feed(silence)
			continue
		}
		n, err := io.ReadFull(m.r, buf)
		if n > 0 {
			samples, derr := pcm.Decode(buf[:n&^1])
			if derr == nil {
				feed(samples)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			m.r = nil
		} else if err != nil {
			return fmt.Errorf("read mic: %w", err)
		}
	}
}

// fileSpeaker writes s16le samples to a file, paced like a real speaker.
type fileSpeaker struct {
	w       io.Writer
	closer  io.Closer
	format  pcm.Format
	written atomic.Int64
	pace    bool
}

func openSpeaker(path string, rate int) (*fileSpeaker, error) {
	if rate == 0 {
		rate = 24000
	}
	format, err := pcm.ForRate(rate)
	if err != nil {
		return nil, err
	}
	s := &fileSpeaker{w: io.Discard, format: format, pace: true}
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("open speaker: %w", err)
		}
		s.w, s.closer = f, f
	}
	return s, nil
}

func (s *fileSpeaker) Write(samples []int16) (int, error) {
	data := pcm.Encode(samples)
	if _, err := s.w.Write(data); err != nil {
		return 0, err
	}
	s.written.Add(int64(len(data)))
	if s.pace {
		time.Sleep(s.format.Duration(len(data)))
	}
	return len(samples), nil
}

func (s *fileSpeaker) Format() pcm.Format {
	return s.format
}

// Written returns the bytes written so far.
func (s *fileSpeaker) Written() int64 {
	return s.written.Load()
}

func (s *fileSpeaker) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
