package httpaudio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/audio/pcm"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/buffer"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

const (
	// DefaultURL is the voice processing endpoint of a local server.
	DefaultURL = "http://192.168.1.105:8000/api/v1/process-voice-json"

	defaultFlushBytes = 32000 // 1s of 16kHz PCM
	defaultMinBytes   = 8000  // 250ms of 16kHz PCM
	defaultTimeout    = 30 * time.Second
	defaultUserAgent  = "Xiaozhi-ESP32/1.0"

	responseSampleRate    = 24000
	responseFrameDuration = 60

	maxResponseBytes = 16 << 20
	jobQueueSize     = 8
)

// ErrTooShort is returned when a recording is below the minimum size.
var ErrTooShort = errors.New("httpaudio: recording too short")

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpaudio: server returned %d: %s", e.StatusCode, e.Body)
}

// Config configures a Session.
type Config struct {
	URL string
	// FlushBytes triggers a request once this much PCM is buffered.
	FlushBytes int
	// MinBytes discards flushes smaller than this.
	MinBytes  int
	Timeout   time.Duration
	UserAgent string
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.FlushBytes <= 0 {
		c.FlushBytes = defaultFlushBytes
	}
	if c.MinBytes <= 0 {
		c.MinBytes = defaultMinBytes
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		s.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// Session is a request/response protocol.Protocol.
type Session struct {
	protocol.Handlers

	cfg     Config
	client  *http.Client
	logger  *slog.Logger
	pending *buffer.Buffer[byte]
	jobs    chan []byte

	mu      sync.Mutex
	opened  bool
	started bool
}

var _ protocol.Protocol = (*Session)(nil)

// New creates a Session. Requests are only issued after Start.
func New(cfg Config, opts ...Option) *Session {
	cfg.setDefaults()
	s := &Session{
		cfg:     cfg,
		logger:  slog.Default(),
		pending: buffer.N[byte](cfg.FlushBytes),
		jobs:    make(chan []byte, jobQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: s.cfg.Timeout}
	}
	s.logger = s.logger.With("component", "httpaudio")
	return s
}

// Start launches the request worker. It stops when ctx is done.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	go s.worker(ctx)
	s.logger.Info("started", "url", s.cfg.URL)
	return nil
}

// OpenAudioChannel starts a new recording. There is no connection to set up.
func (s *Session) OpenAudioChannel(ctx context.Context) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.mu.Unlock()
	s.pending.Reset()
	s.EmitOpened()
	return nil
}

// CloseAudioChannel submits whatever audio is buffered and closes.
func (s *Session) CloseAudioChannel() {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return
	}
	s.opened = false
	s.mu.Unlock()
	if err := s.flush(s.pending.Drain()); err != nil {
		s.logger.Info("nothing submitted on close", "error", err)
	}
	s.EmitClosed()
}

func (s *Session) IsAudioChannelOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// SendAudio accepts PCM16 packets only.
func (s *Session) SendAudio(pkt *protocol.AudioStreamPacket) bool {
	if pkt == nil {
		return true
	}
	if pkt.Encoding != protocol.PCM16 {
		s.logger.Warn("drop packet with unsupported encoding", "encoding", pkt.Encoding)
		return true
	}
	return s.append(pkt.Payload)
}

func (s *Session) SendPCMAudio(samples []int16) bool {
	return s.append(pcm.Encode(samples))
}

func (s *Session) append(data []byte) bool {
	if !s.IsAudioChannelOpened() {
		return false
	}
	s.pending.Write(data)
	if s.pending.Len() >= s.cfg.FlushBytes {
		if err := s.flush(s.pending.Drain()); err != nil {
			s.logger.Warn("flush", "error", err)
		}
	}
	return true
}

func (s *Session) SendStartListening(mode protocol.ListeningMode) {
	s.logger.Debug("start listening", "mode", mode)
}

func (s *Session) SendStopListening() {
	s.logger.Debug("stop listening")
}

func (s *Session) SendWakeWordDetected(word string) {
	s.logger.Debug("wake word detected", "word", word)
}

func (s *Session) SendAbortSpeaking(reason protocol.AbortReason) {
	s.logger.Debug("abort speaking", "reason", reason)
}

func (s *Session) SendMcpMessage(payload string) {
	s.logger.Warn("mcp messages are not supported over http", "bytes", len(payload))
}

func (s *Session) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		RequestResponse: true,
		InputEncoding:   protocol.PCM16,
	}
}

func (s *Session) ServerSampleRate() int {
	return responseSampleRate
}

// ===== Requests =====

// flush hands a recording to the worker after the minimum-size gate.
func (s *Session) flush(data []byte) error {
	if len(data) < s.cfg.MinBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooShort, len(data))
	}
	select {
	case s.jobs <- data:
		return nil
	default:
		return errors.New("httpaudio: request queue full")
	}
}

func (s *Session) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.jobs:
			if err := s.post(ctx, data); err != nil {
				s.logger.Error("voice request failed", "error", err)
				s.EmitNetworkError(err.Error())
			}
		}
	}
}

func (s *Session) post(ctx context.Context, audio []byte) error {
	body, contentType, err := multipartBody(audio)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, body)
	if err != nil {
		return fmt.Errorf("httpaudio: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpaudio: post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("httpaudio: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(raw, 200)}
	}
	s.logger.Info("voice request done", "sent", len(audio), "received", len(raw), "elapsed", time.Since(start))

	if len(raw) == 0 || isText(raw) {
		s.logger.Info("text response ignored", "body", truncate(raw, 200))
		return nil
	}
	payload := stripWAVHeader(raw)
	payload = payload[:len(payload)&^1]
	if len(payload) == 0 {
		return nil
	}

	s.EmitMessage(protocol.TTSMessage(protocol.TTSStart, ""))
	s.EmitAudio(&protocol.AudioStreamPacket{
		SampleRate:    responseSampleRate,
		FrameDuration: responseFrameDuration,
		Encoding:      protocol.PCM16,
		Payload:       payload,
	})
	s.EmitMessage(protocol.TTSMessage(protocol.TTSStop, ""))
	return nil
}

func multipartBody(audio []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="audio.pcm"`)
	h.Set("Content-Type", "audio/pcm")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("httpaudio: create part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("httpaudio: write part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("httpaudio: close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// isText reports whether the body looks like text: the first 100 bytes
// contain no NUL and no byte above 0x7f.
func isText(b []byte) bool {
	if len(b) > 100 {
		b = b[:100]
	}
	for _, c := range b {
		if c == 0 || c > 0x7f {
			return false
		}
	}
	return true
}

const wavHeaderSize = 44

// stripWAVHeader drops a canonical 44-byte RIFF header.
func stripWAVHeader(b []byte) []byte {
	if len(b) >= wavHeaderSize && bytes.HasPrefix(b, []byte("RIFF")) {
		return b[wavHeaderSize:]
	}
	return b
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
