package realtime

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/protocol"
)

// fakeTransport records client frames and lets a test script server replies.
type fakeTransport struct {
	codec Codec

	mu        sync.Mutex
	connected bool
	header    http.Header
	sent      []*Frame
	respond   func(*Frame)
	onData    func([]byte)
	onDisc    func()
	onErr     func(error)
}

func (f *fakeTransport) Connect(ctx context.Context, url string, header http.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.header = header
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	frame, err := f.codec.Decode(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return ErrNotConnected
	}
	f.sent = append(f.sent, frame)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		respond(frame)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) OnData(fn func([]byte))   { f.onData = fn }
func (f *fakeTransport) OnDisconnected(fn func()) { f.onDisc = fn }
func (f *fakeTransport) OnError(fn func(error))   { f.onErr = fn }

func (f *fakeTransport) deliver(t *testing.T, fr *Frame) {
	t.Helper()
	data, err := f.codec.Encode(fr)
	if err != nil {
		t.Fatalf("encode server frame: %v", err)
	}
	f.onData(data)
}

func (f *fakeTransport) framesWith(ev EventID) []*Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Frame
	for _, fr := range f.sent {
		if fr.HasEvent() && fr.Event == ev {
			out = append(out, fr)
		}
	}
	return out
}

func serverFrame(ev EventID, sessionID string, payload string) *Frame {
	return &Frame{
		Version:       Version1,
		Type:          MsgFullServer,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Event:         ev,
		SessionID:     sessionID,
		Payload:       []byte(payload),
	}
}

// newScriptedSession answers StartConnection and, when ready is true,
// StartSession.
func newScriptedSession(t *testing.T, ready bool, cfg Config) (*Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	cfg.AppID = "app"
	cfg.AccessKey = "key"
	s := New(cfg, WithTransport(ft))
	ft.respond = func(fr *Frame) {
		switch fr.Event {
		case EventStartConnection:
			ft.deliver(t, &Frame{Version: Version1, Type: MsgFullServer, Flags: FlagWithEvent, Event: EventConnectionStarted, ConnectID: "c1", Payload: []byte("{}")})
		case EventStartSession:
			if ready {
				ft.deliver(t, serverFrame(EventSessionStarted, fr.SessionID, `{"dialog_id":"dlg-1"}`))
			}
		}
	}
	return s, ft
}

type recorder struct {
	mu       sync.Mutex
	audio    []*protocol.AudioStreamPacket
	messages []*protocol.Message
	errs     []string
	opened   int
	closed   int
}

func (r *recorder) attach(s *Session) {
	s.OnIncomingAudio(func(p *protocol.AudioStreamPacket) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.audio = append(r.audio, p)
	})
	s.OnIncomingMessage(func(m *protocol.Message) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.messages = append(r.messages, m)
	})
	s.OnNetworkError(func(msg string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, msg)
	})
	s.OnAudioChannelOpened(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.opened++
	})
	s.OnAudioChannelClosed(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed++
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOpenAudioChannel(t *testing.T) {
	s, ft := newScriptedSession(t, true, Config{})
	var rec recorder
	rec.attach(s)

	if err := s.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel error: %v", err)
	}
	if !s.IsAudioChannelOpened() || s.State() != StateSessionReady {
		t.Fatalf("state = %v; want session_ready", s.State())
	}
	if rec.opened != 1 {
		t.Errorf("opened callbacks = %d; want 1", rec.opened)
	}
	if s.DialogID() != "dlg-1" {
		t.Errorf("DialogID() = %q; want dlg-1", s.DialogID())
	}
	if got := ft.header.Get("X-Api-App-Key"); got != DefaultAppKey {
		t.Errorf("X-Api-App-Key = %q", got)
	}
	if got := ft.header.Get("X-Api-Resource-Id"); got != DefaultResourceID {
		t.Errorf("X-Api-Resource-Id = %q", got)
	}

	// The sender keeps the stream alive with 10ms-worth silence chunks.
	waitFor(t, "keepalive audio", func() bool { return len(ft.framesWith(EventTaskRequest)) >= 3 })
	fr := ft.framesWith(EventTaskRequest)[0]
	if fr.Type != MsgAudioOnlyClient || fr.Serialization != SerializationRaw || fr.Compression != CompressionNone {
		t.Errorf("audio frame header = %+v", fr)
	}
	if fr.SessionID != s.SessionID() {
		t.Errorf("audio session id = %q; want %q", fr.SessionID, s.SessionID())
	}

	sessionID := s.SessionID()
	s.CloseAudioChannel()
	if s.IsAudioChannelOpened() || s.State() != StateDisconnected {
		t.Errorf("state after close = %v", s.State())
	}
	if rec.closed != 1 {
		t.Errorf("closed callbacks = %d; want 1", rec.closed)
	}
	fin := ft.framesWith(EventFinishSession)
	if len(fin) != 1 || fin[0].SessionID != sessionID {
		t.Errorf("FinishSession frames = %v", fin)
	}
	if len(ft.framesWith(EventFinishConnection)) != 1 {
		t.Error("FinishConnection not sent")
	}
}

func TestReopenReusesDialogID(t *testing.T) {
	s, ft := newScriptedSession(t, true, Config{})
	ctx := context.Background()
	if err := s.OpenAudioChannel(ctx); err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.CloseAudioChannel()
	if err := s.OpenAudioChannel(ctx); err != nil {
		t.Fatalf("second open: %v", err)
	}
	starts := ft.framesWith(EventStartSession)
	if len(starts) != 2 {
		t.Fatalf("StartSession frames = %d; want 2", len(starts))
	}
	if !bytes.Contains(starts[1].Payload, []byte(`"dialog_id":"dlg-1"`)) {
		t.Errorf("second StartSession payload = %s", starts[1].Payload)
	}
	if bytes.Contains(starts[0].Payload, []byte(`dialog_id`)) {
		t.Errorf("first StartSession payload = %s", starts[0].Payload)
	}
	if !bytes.Contains(starts[0].Payload, []byte(`"sample_rate":24000`)) {
		t.Errorf("StartSession payload missing tts audio config: %s", starts[0].Payload)
	}
	s.CloseAudioChannel()
}

func TestOpenTimesOutWithoutSessionStarted(t *testing.T) {
	s, ft := newScriptedSession(t, false, Config{SessionTimeout: 30 * time.Millisecond})
	var rec recorder
	rec.attach(s)

	err := s.OpenAudioChannel(context.Background())
	if !errors.Is(err, ErrSessionTimeout) {
		t.Fatalf("OpenAudioChannel error = %v; want ErrSessionTimeout", err)
	}
	if s.IsAudioChannelOpened() {
		t.Error("channel reported open after timeout")
	}
	if len(rec.errs) != 1 {
		t.Errorf("network errors = %v; want one", rec.errs)
	}
	if rec.opened != 0 {
		t.Errorf("opened callbacks = %d; want 0", rec.opened)
	}
	time.Sleep(10 * time.Millisecond)
	if n := len(ft.framesWith(EventTaskRequest)); n != 0 {
		t.Errorf("sent %d audio frames before session ready", n)
	}
	if s.SendAudio(&protocol.AudioStreamPacket{Payload: make([]byte, 320)}) {
		t.Error("SendAudio accepted with channel closed")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	ft := &fakeTransport{}
	s := New(Config{AppID: "a", AccessKey: "k", HandshakeTimeout: 20 * time.Millisecond}, WithTransport(ft))
	if err := s.Start(context.Background()); !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Start error = %v; want ErrHandshakeTimeout", err)
	}
	if ft.IsConnected() {
		t.Error("transport left connected after failed handshake")
	}
}

func TestStartRequiresCredentials(t *testing.T) {
	s := New(Config{}, WithTransport(&fakeTransport{}))
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start without credentials should fail")
	}
}

func TestSessionStartedUnblocksPendingOpen(t *testing.T) {
	s, ft := newScriptedSession(t, false, Config{SessionTimeout: 2 * time.Second})
	ft.mu.Lock()
	base := ft.respond
	ft.respond = func(fr *Frame) {
		base(fr)
		if fr.Event == EventStartSession {
			sid := fr.SessionID
			time.AfterFunc(20*time.Millisecond, func() {
				ft.deliver(t, serverFrame(EventSessionStarted, sid, "{}"))
			})
		}
	}
	ft.mu.Unlock()

	start := time.Now()
	if err := s.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("open took %v; want prompt unblock", elapsed)
	}
	s.CloseAudioChannel()
}

func TestSessionFailed(t *testing.T) {
	s, ft := newScriptedSession(t, false, Config{})
	ft.mu.Lock()
	base := ft.respond
	ft.respond = func(fr *Frame) {
		base(fr)
		if fr.Event == EventStartSession {
			ft.deliver(t, serverFrame(EventSessionFailed, fr.SessionID, `{"error":"quota exceeded"}`))
		}
	}
	ft.mu.Unlock()
	var rec recorder
	rec.attach(s)

	err := s.OpenAudioChannel(context.Background())
	if !errors.Is(err, ErrSessionFailed) || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("OpenAudioChannel error = %v", err)
	}
	if len(rec.errs) != 1 || !strings.Contains(rec.errs[0], "quota exceeded") {
		t.Errorf("network errors = %v", rec.errs)
	}
}

func TestDownstreamDispatch(t *testing.T) {
	s, ft := newScriptedSession(t, true, Config{})
	var rec recorder
	rec.attach(s)
	if err := s.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel error: %v", err)
	}
	defer s.CloseAudioChannel()
	sid := s.SessionID()

	ft.onData([]byte{1, 2, 3}) // malformed, dropped
	ft.deliver(t, serverFrame(EventASRResponse, sid, `{"results":[{"text":"你","is_interim":true}]}`))
	ft.deliver(t, serverFrame(EventASRResponse, sid, `{"results":[{"text":"你好","is_interim":false}]}`))
	ft.deliver(t, serverFrame(EventTTSSentenceStart, sid, `{"tts_type":"default","text":"你好呀"}`))
	ft.deliver(t, &Frame{Version: Version1, Type: MsgAudioOnlyServer, Flags: FlagWithEvent, Event: EventTTSResponse, SessionID: sid, Payload: make([]byte, 960)})
	ft.deliver(t, serverFrame(EventTTSSentenceEnd, sid, "{}"))
	ft.deliver(t, serverFrame(EventTTSEnded, sid, "{}"))
	ft.deliver(t, serverFrame(EventTTSEnded, sid, "{}")) // no second stop
	ft.deliver(t, serverFrame(EventID(999), sid, "{}"))
	ft.deliver(t, serverFrame(EventChatResponse, "other-session", `{"content":"stale"}`))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []struct {
		typ   protocol.MessageType
		state protocol.TTSState
		text  string
	}{
		{protocol.TypeSTT, "", "你好"},
		{protocol.TypeTTS, protocol.TTSStart, ""},
		{protocol.TypeTTS, protocol.TTSSentenceStart, "你好呀"},
		{protocol.TypeTTS, protocol.TTSStop, ""},
	}
	if len(rec.messages) != len(want) {
		t.Fatalf("messages = %d; want %d", len(rec.messages), len(want))
	}
	for i, w := range want {
		m := rec.messages[i]
		if m.Type != w.typ || m.State != w.state || m.Text != w.text {
			t.Errorf("message %d = %+v; want %+v", i, m, w)
		}
	}
	if len(rec.audio) != 1 {
		t.Fatalf("audio packets = %d; want 1", len(rec.audio))
	}
	if p := rec.audio[0]; p.SampleRate != 24000 || p.FrameDuration != 20 || len(p.Payload) != 960 {
		t.Errorf("audio packet = %d Hz %d ms %d bytes", p.SampleRate, p.FrameDuration, len(p.Payload))
	}
}

func TestSendAudioIsChunkedInOrder(t *testing.T) {
	s, ft := newScriptedSession(t, true, Config{})
	if err := s.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel error: %v", err)
	}
	defer s.CloseAudioChannel()

	payload := make([]byte, 1920)
	for i := range payload {
		payload[i] = byte(i/320 + 1)
	}
	if !s.SendAudio(&protocol.AudioStreamPacket{SampleRate: 16000, FrameDuration: 60, Payload: payload}) {
		t.Fatal("SendAudio declined")
	}

	var chunks [][]byte
	waitFor(t, "six audio chunks", func() bool {
		chunks = chunks[:0]
		for _, fr := range ft.framesWith(EventTaskRequest) {
			if fr.Payload[0] != 0 {
				chunks = append(chunks, fr.Payload)
			}
		}
		return len(chunks) == 6
	})
	for i, c := range chunks {
		if len(c) != 320 || c[0] != byte(i+1) {
			t.Errorf("chunk %d: len %d first byte %d", i, len(c), c[0])
		}
	}
}

func TestSendAudioDeclinesWhenQueueFull(t *testing.T) {
	s, _ := newScriptedSession(t, true, Config{SendQueueSize: 4})
	if err := s.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel error: %v", err)
	}
	defer s.CloseAudioChannel()
	if s.SendPCMAudio(make([]int16, 160*5)) {
		t.Error("SendPCMAudio accepted five chunks into a four-chunk queue")
	}
	if !s.SendPCMAudio(make([]int16, 160*4)) {
		t.Error("SendPCMAudio declined four chunks")
	}
	if !s.SendAudio(&protocol.AudioStreamPacket{Encoding: protocol.Opus, Payload: []byte{1}}) {
		t.Error("non-PCM packets are consumed and dropped")
	}
}

func TestServerFailureWhileOpen(t *testing.T) {
	s, ft := newScriptedSession(t, true, Config{})
	var rec recorder
	rec.attach(s)
	if err := s.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel error: %v", err)
	}
	ft.deliver(t, serverFrame(EventSessionFailed, s.SessionID(), `{"error":"internal"}`))
	if s.IsAudioChannelOpened() {
		t.Error("channel still open after SessionFailed")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 1 || rec.errs[0] != "internal" {
		t.Errorf("network errors = %v", rec.errs)
	}
	if rec.closed != 1 {
		t.Errorf("closed callbacks = %d; want 1", rec.closed)
	}
}

func TestDisconnectWhileOpen(t *testing.T) {
	s, ft := newScriptedSession(t, true, Config{})
	var rec recorder
	rec.attach(s)
	if err := s.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel error: %v", err)
	}
	ft.Close()
	ft.onDisc()
	if s.IsAudioChannelOpened() {
		t.Error("channel still open after disconnect")
	}
	if rec.closed != 1 {
		t.Errorf("closed callbacks = %d; want 1", rec.closed)
	}
	// Reopening reconnects.
	if err := s.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if n := len(ft.framesWith(EventStartConnection)); n != 2 {
		t.Errorf("StartConnection frames = %d; want 2", n)
	}
	s.CloseAudioChannel()
}

func TestGreetingAndTextQuery(t *testing.T) {
	s, ft := newScriptedSession(t, true, Config{Greeting: "你好，我在"})
	if err := s.SendTextQuery("hi"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SendTextQuery before open = %v; want ErrNotOpen", err)
	}
	if err := s.OpenAudioChannel(context.Background()); err != nil {
		t.Fatalf("OpenAudioChannel error: %v", err)
	}
	defer s.CloseAudioChannel()

	s.SendWakeWordDetected("你好小智")
	hello := ft.framesWith(EventSayHello)
	if len(hello) != 1 || !bytes.Contains(hello[0].Payload, []byte("你好，我在")) {
		t.Errorf("SayHello frames = %v", hello)
	}
	if err := s.SendTextQuery("what time is it"); err != nil {
		t.Fatalf("SendTextQuery error: %v", err)
	}
	q := ft.framesWith(EventChatTextQuery)
	if len(q) != 1 || !bytes.Contains(q[0].Payload, []byte("what time is it")) {
		t.Errorf("ChatTextQuery frames = %v", q)
	}
	caps := s.Capabilities()
	if !caps.ServerVAD || caps.WakeWordAudio || caps.RequestResponse {
		t.Errorf("Capabilities() = %+v", caps)
	}
	if s.ServerSampleRate() != 24000 {
		t.Errorf("ServerSampleRate() = %d", s.ServerSampleRate())
	}
}
