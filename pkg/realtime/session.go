package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/audio/pcm"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/buffer"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/eventbits"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

var (
	ErrHandshakeTimeout = errors.New("realtime: timed out waiting for connection")
	ErrSessionTimeout   = errors.New("realtime: timed out waiting for session")
	ErrSessionFailed    = errors.New("realtime: session failed")
	ErrNotOpen          = errors.New("realtime: audio channel not open")
)

// SessionState is the lifecycle position of a Session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	// StateConnecting: transport up, StartConnection sent.
	StateConnecting
	// StateConnected: StartSession sent, not yet acknowledged.
	StateConnected
	StateSessionReady
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionReady:
		return "session_ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

const (
	bitConnected eventbits.Bits = 1 << iota
	bitSessionReady
	bitFailed
)

// Session is a protocol.Protocol speaking the binary realtime dialogue
// protocol over a persistent Transport.
type Session struct {
	protocol.Handlers

	cfg        Config
	codec      Codec
	transport  Transport
	logger     *slog.Logger
	events     eventbits.Group
	dispatch   map[EventID]func(*Frame)
	chunkBytes int
	sendQueue  *buffer.Queue[[]byte]

	mu         sync.Mutex
	state      SessionState
	handshaken bool
	sessionID  string
	dialogID   string
	connectID  string
	failure    string
	ttsActive  bool
	stopSender chan struct{}
	senderDone chan struct{}
}

var _ protocol.Protocol = (*Session)(nil)

// New creates a Session. Nothing is dialed until Start or OpenAudioChannel.
func New(cfg Config, opts ...Option) *Session {
	cfg.setDefaults()
	s := &Session{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = NewWebSocketTransport()
	}
	s.logger = s.logger.With("component", "realtime")
	s.dialogID = cfg.Session.Dialog.DialogID
	s.chunkBytes = pcm.L16Mono16K.BytesInDuration(cfg.SendInterval)
	s.sendQueue = buffer.QueueN[[]byte](cfg.SendQueueSize)

	s.dispatch = map[EventID]func(*Frame){
		EventConnectionStarted:  s.onConnectionStarted,
		EventConnectionFailed:   s.onFailed,
		EventConnectionFinished: s.onLog,
		EventSessionStarted:     s.onSessionStarted,
		EventSessionFinished:    s.onLog,
		EventSessionFailed:      s.onFailed,
		EventUsageResponse:      s.onLog,
		EventTTSSentenceStart:   s.onTTSSentenceStart,
		EventTTSSentenceEnd:     s.onLog,
		EventTTSResponse:        s.onTTSResponse,
		EventTTSEnded:           s.onTTSEnded,
		EventASRInfo:            s.onASRInfo,
		EventASRResponse:        s.onASRResponse,
		EventASREnded:           s.onLog,
		EventChatResponse:       s.onChatResponse,
		EventChatEnded:          s.onLog,
	}

	s.transport.OnData(s.handleData)
	s.transport.OnDisconnected(s.handleDisconnected)
	s.transport.OnError(s.handleTransportError)
	return s
}

// ===== protocol.Protocol =====

// Start connects and completes the connection handshake so that the first
// OpenAudioChannel only has to start a session.
func (s *Session) Start(ctx context.Context) error {
	if s.cfg.AppID == "" || s.cfg.AccessKey == "" {
		return errors.New("realtime: app id and access key are required")
	}
	return s.connect(ctx)
}

// OpenAudioChannel starts a dialogue session, connecting first if needed.
// It returns once SessionStarted arrives, or with an error after the
// configured timeouts. Failures are also reported through OnNetworkError.
func (s *Session) OpenAudioChannel(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateSessionReady {
		s.mu.Unlock()
		return nil
	}
	needConnect := !s.handshaken || !s.transport.IsConnected()
	s.mu.Unlock()

	if needConnect {
		if err := s.connect(ctx); err != nil {
			s.EmitNetworkError(err.Error())
			return err
		}
	}

	sessionID := uuid.NewString()
	s.mu.Lock()
	s.sessionID = sessionID
	s.state = StateConnected
	s.ttsActive = false
	sc := s.cfg.Session
	sc.Dialog.DialogID = s.dialogID
	s.mu.Unlock()

	payload, err := json.Marshal(sc)
	if err != nil {
		s.teardown()
		return fmt.Errorf("realtime: marshal start session: %w", err)
	}

	s.events.Clear(bitSessionReady | bitFailed)
	if err := s.sendControl(EventStartSession, sessionID, payload); err != nil {
		s.teardown()
		err = fmt.Errorf("realtime: start session: %w", err)
		s.EmitNetworkError(err.Error())
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.SessionTimeout)
	defer cancel()
	bits, err := s.events.Wait(wctx, bitSessionReady|bitFailed, eventbits.WaitOptions{Clear: true})
	switch {
	case bits.Any(bitFailed):
		err = fmt.Errorf("%w: %s", ErrSessionFailed, s.failureMessage())
	case err != nil:
		err = fmt.Errorf("%w: %v", ErrSessionTimeout, err)
	}
	if err != nil {
		s.teardown()
		s.logger.Error("open audio channel failed", "error", err)
		s.EmitNetworkError(err.Error())
		return err
	}

	s.mu.Lock()
	s.state = StateSessionReady
	s.mu.Unlock()
	s.sendQueue.Reset()
	s.startSender(sessionID)

	s.logger.Info("audio channel opened", "session_id", sessionID)
	s.EmitOpened()
	return nil
}

// CloseAudioChannel finishes the session and the connection.
func (s *Session) CloseAudioChannel() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	wasOpen := s.state == StateSessionReady
	sessionID := s.sessionID
	s.state = StateClosing
	s.mu.Unlock()

	s.stopSenderLoop()
	if s.transport.IsConnected() {
		if sessionID != "" {
			if err := s.sendControl(EventFinishSession, sessionID, []byte("{}")); err != nil {
				s.logger.Debug("finish session", "error", err)
			}
		}
		if err := s.sendControl(EventFinishConnection, "", []byte("{}")); err != nil {
			s.logger.Debug("finish connection", "error", err)
		}
	}
	s.teardown()

	if wasOpen {
		s.logger.Info("audio channel closed", "session_id", sessionID)
		s.EmitClosed()
	}
}

func (s *Session) IsAudioChannelOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateSessionReady
}

// SendAudio queues a PCM packet for the sender. It declines when the channel
// is not open or the queue cannot take the whole packet.
func (s *Session) SendAudio(pkt *protocol.AudioStreamPacket) bool {
	if pkt == nil {
		return true
	}
	if pkt.Encoding != protocol.PCM16 {
		s.logger.Warn("drop packet with unsupported encoding", "encoding", pkt.Encoding)
		return true
	}
	return s.enqueue(pkt.Payload)
}

func (s *Session) SendPCMAudio(samples []int16) bool {
	return s.enqueue(pcm.Encode(samples))
}

// SendStartListening is a no-op: the service runs its own VAD.
func (s *Session) SendStartListening(mode protocol.ListeningMode) {
	s.logger.Debug("start listening ignored, server VAD", "mode", mode)
}

// SendStopListening is a no-op: the service runs its own VAD.
func (s *Session) SendStopListening() {
	s.logger.Debug("stop listening ignored, server VAD")
}

// SendWakeWordDetected asks the service to say the configured greeting.
func (s *Session) SendWakeWordDetected(word string) {
	if s.cfg.Greeting == "" {
		s.logger.Debug("wake word detected", "word", word)
		return
	}
	if err := s.sendSessionJSON(EventSayHello, map[string]string{"content": s.cfg.Greeting}); err != nil {
		s.logger.Warn("say hello", "error", err)
	}
}

func (s *Session) SendAbortSpeaking(reason protocol.AbortReason) {
	s.logger.Debug("abort speaking", "reason", reason)
}

func (s *Session) SendMcpMessage(payload string) {
	s.logger.Warn("mcp messages are not supported by the realtime dialogue service", "bytes", len(payload))
}

func (s *Session) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		ServerVAD:     true,
		InputEncoding: protocol.PCM16,
	}
}

func (s *Session) ServerSampleRate() int {
	return s.cfg.Session.TTS.AudioConfig.SampleRate
}

// ===== Extras =====

// SendTextQuery submits a typed user utterance.
func (s *Session) SendTextQuery(text string) error {
	return s.sendSessionJSON(EventChatTextQuery, map[string]string{"content": text})
}

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the id of the current session, if any.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// DialogID returns the dialog id assigned by the service. It is sent with
// every following StartSession so the conversation keeps its context.
func (s *Session) DialogID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogID
}

// ===== Connection =====

func (s *Session) connect(ctx context.Context) error {
	connectID := uuid.NewString()
	s.mu.Lock()
	s.state = StateConnecting
	s.handshaken = false
	s.failure = ""
	s.connectID = connectID
	s.mu.Unlock()
	s.events.Clear(bitConnected | bitFailed)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	if err := s.transport.Connect(ctx, s.cfg.URL, s.header(connectID)); err != nil {
		s.teardown()
		return fmt.Errorf("realtime: connect: %w", err)
	}
	if err := s.sendControl(EventStartConnection, "", []byte("{}")); err != nil {
		s.teardown()
		return fmt.Errorf("realtime: start connection: %w", err)
	}

	bits, err := s.events.Wait(ctx, bitConnected|bitFailed, eventbits.WaitOptions{Clear: true})
	switch {
	case bits.Any(bitFailed):
		err = fmt.Errorf("%w: %s", ErrSessionFailed, s.failureMessage())
	case err != nil:
		err = fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	if err != nil {
		s.teardown()
		return err
	}

	s.mu.Lock()
	s.handshaken = true
	s.mu.Unlock()
	s.logger.Info("connected", "connect_id", connectID)
	return nil
}

func (s *Session) header(connectID string) http.Header {
	h := http.Header{}
	h.Set("X-Api-App-ID", s.cfg.AppID)
	h.Set("X-Api-Access-Key", s.cfg.AccessKey)
	h.Set("X-Api-Resource-Id", s.cfg.ResourceID)
	h.Set("X-Api-App-Key", s.cfg.AppKey)
	h.Set("X-Api-Connect-Id", connectID)
	return h
}

// teardown drops the transport and resets per-connection state.
func (s *Session) teardown() {
	s.stopSenderLoop()
	s.mu.Lock()
	s.state = StateDisconnected
	s.handshaken = false
	s.sessionID = ""
	s.ttsActive = false
	s.mu.Unlock()
	s.sendQueue.Reset()
	s.transport.Close()
}

func (s *Session) failureMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == "" {
		return "unknown failure"
	}
	return s.failure
}

// fail records a failure. Pending waits are woken; an open channel is torn
// down and reported.
func (s *Session) fail(msg string) {
	s.mu.Lock()
	s.failure = msg
	open := s.state == StateSessionReady
	s.mu.Unlock()
	s.events.Set(bitFailed)
	if !open {
		return
	}
	s.teardown()
	s.EmitNetworkError(msg)
	s.EmitClosed()
}

// ===== Sending =====

func (s *Session) sendControl(event EventID, sessionID string, payload []byte) error {
	data, err := s.codec.Encode(&Frame{
		Version:       Version1,
		Type:          MsgFullClient,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   s.cfg.ControlCompression,
		Event:         event,
		SessionID:     sessionID,
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	return s.transport.Send(data)
}

func (s *Session) sendSessionJSON(event EventID, v any) error {
	s.mu.Lock()
	sessionID := s.sessionID
	open := s.state == StateSessionReady
	s.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.sendControl(event, sessionID, payload)
}

func (s *Session) sendAudioChunk(sessionID string, chunk []byte) error {
	data, err := s.codec.Encode(&Frame{
		Version:       Version1,
		Type:          MsgAudioOnlyClient,
		Flags:         FlagWithEvent,
		Serialization: SerializationRaw,
		Compression:   CompressionNone,
		Event:         EventTaskRequest,
		SessionID:     sessionID,
		Payload:       chunk,
	})
	if err != nil {
		return err
	}
	return s.transport.Send(data)
}

// enqueue splits data into sender-interval chunks. The whole block is
// queued or none of it is.
func (s *Session) enqueue(data []byte) bool {
	if !s.IsAudioChannelOpened() {
		return false
	}
	if len(data) == 0 {
		return true
	}
	n := (len(data) + s.chunkBytes - 1) / s.chunkBytes
	if s.sendQueue.Cap()-s.sendQueue.Len() < n {
		return false
	}
	for off := 0; off < len(data); off += s.chunkBytes {
		end := min(off+s.chunkBytes, len(data))
		if err := s.sendQueue.Push(data[off:end]); err != nil {
			s.logger.Warn("send queue overflow", "error", err)
			return true
		}
	}
	return true
}

func (s *Session) startSender(sessionID string) {
	stop := make(chan struct{})
	done := make(chan struct{})
	s.mu.Lock()
	s.stopSender, s.senderDone = stop, done
	s.mu.Unlock()
	go s.sendLoop(sessionID, stop, done)
}

func (s *Session) stopSenderLoop() {
	s.mu.Lock()
	stop, done := s.stopSender, s.senderDone
	s.stopSender, s.senderDone = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// sendLoop keeps the upstream audio clock running: every tick it sends one
// queued chunk, or silence when nothing is queued.
func (s *Session) sendLoop(sessionID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.SendInterval)
	defer ticker.Stop()
	silence := make([]byte, s.chunkBytes)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		chunk, ok := s.sendQueue.Pop()
		if !ok {
			chunk = silence
		}
		if err := s.sendAudioChunk(sessionID, chunk); err != nil {
			s.logger.Debug("send audio chunk", "error", err)
		}
	}
}

// ===== Receiving =====

func (s *Session) handleData(data []byte) {
	f, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("drop malformed frame", "error", err, "bytes", len(data))
		return
	}
	if f.Type == MsgError {
		msg := fmt.Sprintf("server error %d: %s", f.ErrorCode, errorMessage(f.Payload))
		s.logger.Error("server error frame", "code", f.ErrorCode, "payload", string(f.Payload))
		s.fail(msg)
		return
	}
	if !f.HasEvent() {
		s.logger.Debug("drop frame without event", "type", f.Type)
		return
	}
	if f.Event.IsSessionScoped() && f.SessionID != "" {
		if current := s.SessionID(); current != "" && current != f.SessionID {
			s.logger.Debug("drop frame for stale session", "event", f.Event, "session_id", f.SessionID)
			return
		}
	}
	handle, ok := s.dispatch[f.Event]
	if !ok {
		s.logger.Debug("unhandled event", "event", f.Event)
		return
	}
	handle(f)
}

func (s *Session) handleDisconnected() {
	s.mu.Lock()
	if s.state == StateDisconnected || s.state == StateClosing {
		s.mu.Unlock()
		return
	}
	wasOpen := s.state == StateSessionReady
	s.state = StateDisconnected
	s.handshaken = false
	s.sessionID = ""
	s.ttsActive = false
	if s.failure == "" {
		s.failure = "connection closed by server"
	}
	s.mu.Unlock()

	s.logger.Warn("transport disconnected")
	s.events.Set(bitFailed)
	s.stopSenderLoop()
	s.sendQueue.Reset()
	if wasOpen {
		s.EmitClosed()
	}
}

func (s *Session) handleTransportError(err error) {
	s.logger.Error("transport error", "error", err)
	s.fail(err.Error())
}

func (s *Session) onLog(f *Frame) {
	s.logger.Debug("event", "event", f.Event, "payload", string(f.Payload))
}

func (s *Session) onConnectionStarted(f *Frame) {
	if f.ConnectID != "" {
		s.mu.Lock()
		s.connectID = f.ConnectID
		s.mu.Unlock()
	}
	s.events.Set(bitConnected)
}

func (s *Session) onSessionStarted(f *Frame) {
	var p struct {
		DialogID string `json:"dialog_id"`
	}
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			s.logger.Debug("session started payload", "error", err)
		}
	}
	if p.DialogID != "" {
		s.mu.Lock()
		s.dialogID = p.DialogID
		s.mu.Unlock()
	}
	s.events.Set(bitSessionReady)
}

func (s *Session) onFailed(f *Frame) {
	msg := errorMessage(f.Payload)
	s.logger.Error("server reported failure", "event", f.Event, "error", msg)
	s.fail(msg)
}

// beginTTS emits a tts start message before the first output of a reply.
func (s *Session) beginTTS() {
	s.mu.Lock()
	started := !s.ttsActive
	s.ttsActive = true
	s.mu.Unlock()
	if started {
		s.EmitMessage(protocol.TTSMessage(protocol.TTSStart, ""))
	}
}

func (s *Session) onTTSSentenceStart(f *Frame) {
	var p struct {
		TTSType string `json:"tts_type"`
		Text    string `json:"text"`
	}
	json.Unmarshal(f.Payload, &p)
	s.beginTTS()
	s.logger.Info("tts sentence", "type", p.TTSType, "text", p.Text)
	s.EmitMessage(protocol.TTSMessage(protocol.TTSSentenceStart, p.Text))
}

func (s *Session) onTTSResponse(f *Frame) {
	if len(f.Payload) == 0 {
		return
	}
	s.beginTTS()
	s.EmitAudio(&protocol.AudioStreamPacket{
		SampleRate:    s.ServerSampleRate(),
		FrameDuration: ttsFrameDuration,
		Encoding:      protocol.PCM16,
		Payload:       f.Payload,
	})
}

func (s *Session) onTTSEnded(f *Frame) {
	s.mu.Lock()
	active := s.ttsActive
	s.ttsActive = false
	s.mu.Unlock()
	if active {
		s.EmitMessage(protocol.TTSMessage(protocol.TTSStop, ""))
	}
}

func (s *Session) onASRInfo(f *Frame) {
	s.logger.Debug("user speech started")
}

func (s *Session) onASRResponse(f *Frame) {
	var p struct {
		Results []struct {
			Text      string `json:"text"`
			IsInterim bool   `json:"is_interim"`
		} `json:"results"`
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		s.logger.Debug("asr payload", "error", err)
		return
	}
	for _, r := range p.Results {
		if r.IsInterim || r.Text == "" {
			continue
		}
		s.logger.Info("asr result", "text", r.Text)
		s.EmitMessage(protocol.STTMessage(r.Text))
	}
}

func (s *Session) onChatResponse(f *Frame) {
	var p struct {
		Content string `json:"content"`
	}
	json.Unmarshal(f.Payload, &p)
	s.logger.Debug("chat response", "content", p.Content)
}

// errorMessage extracts the "error" field of a failure payload.
func errorMessage(payload []byte) string {
	var p struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &p); err == nil && p.Error != "" {
		return p.Error
	}
	if len(payload) == 0 {
		return "no details"
	}
	return string(payload)
}
