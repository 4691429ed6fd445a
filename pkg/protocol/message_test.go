package protocol

import (
	"errors"
	"testing"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
		check   func(*Message) bool
	}{
		{"tts start", `{"type":"tts","state":"start"}`, false, func(m *Message) bool { return m.State == TTSStart }},
		{"tts sentence", `{"type":"tts","state":"sentence_start","text":"hi"}`, false, func(m *Message) bool { return m.Text == "hi" }},
		{"tts bad state", `{"type":"tts","state":"pause"}`, true, nil},
		{"stt", `{"type":"stt","text":"hello"}`, false, func(m *Message) bool { return m.Text == "hello" }},
		{"stt empty", `{"type":"stt"}`, true, nil},
		{"llm emotion", `{"type":"llm","emotion":"happy"}`, false, func(m *Message) bool { return m.Emotion == "happy" }},
		{"llm empty", `{"type":"llm"}`, true, nil},
		{"mcp", `{"type":"mcp","payload":{"jsonrpc":"2.0"}}`, false, func(m *Message) bool { return len(m.Payload) > 0 }},
		{"mcp array", `{"type":"mcp","payload":[1]}`, true, nil},
		{"custom missing", `{"type":"custom"}`, true, nil},
		{"system", `{"type":"system","command":"reboot"}`, false, func(m *Message) bool { return m.Command == "reboot" }},
		{"alert", `{"type":"alert","status":"Warn","message":"low battery","emotion":"sad"}`, false, nil},
		{"alert partial", `{"type":"alert","status":"Warn"}`, true, nil},
		{"unknown type", `{"type":"iot"}`, false, func(m *Message) bool { return m.Type == "iot" }},
		{"no type", `{"text":"x"}`, true, nil},
		{"not json", `hello`, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMessage([]byte(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMessage(%s) succeeded; want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMessage(%s) error: %v", tt.in, err)
			}
			if tt.check != nil && !tt.check(m) {
				t.Errorf("ParseMessage(%s) = %+v", tt.in, m)
			}
		})
	}
}

func TestValidateWrapsSentinel(t *testing.T) {
	err := (&Message{Type: TypeSTT}).Validate()
	if !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Validate() = %v; want ErrInvalidMessage", err)
	}
	if err := TTSMessage(TTSStop, "").Validate(); err != nil {
		t.Errorf("TTSMessage(stop).Validate() = %v", err)
	}
	if err := STTMessage("hi").Validate(); err != nil {
		t.Errorf("STTMessage.Validate() = %v", err)
	}
}

func TestHandlersDispatch(t *testing.T) {
	var h Handlers
	// Unset callbacks are skipped.
	h.EmitAudio(&AudioStreamPacket{})
	h.EmitNetworkError("x")

	var gotAudio, gotOpened, gotClosed int
	var gotErr string
	var gotMsg *Message
	h.OnIncomingAudio(func(*AudioStreamPacket) { gotAudio++ })
	h.OnIncomingMessage(func(m *Message) { gotMsg = m })
	h.OnAudioChannelOpened(func() { gotOpened++ })
	h.OnAudioChannelClosed(func() { gotClosed++ })
	h.OnNetworkError(func(s string) { gotErr = s })

	h.EmitAudio(&AudioStreamPacket{})
	h.EmitMessage(STTMessage("hi"))
	h.EmitOpened()
	h.EmitClosed()
	h.EmitNetworkError("boom")

	if gotAudio != 1 || gotOpened != 1 || gotClosed != 1 {
		t.Errorf("counts audio=%d opened=%d closed=%d; want 1 each", gotAudio, gotOpened, gotClosed)
	}
	if gotMsg == nil || gotMsg.Text != "hi" {
		t.Errorf("message = %+v; want stt hi", gotMsg)
	}
	if gotErr != "boom" {
		t.Errorf("network error = %q; want boom", gotErr)
	}
}

func TestEnumStrings(t *testing.T) {
	if ManualStop.String() != "manual" || AutoStop.String() != "auto" || Realtime.String() != "realtime" {
		t.Error("unexpected ListeningMode strings")
	}
	if AbortWakeWordDetected.String() != "wake_word_detected" {
		t.Errorf("AbortWakeWordDetected = %q", AbortWakeWordDetected.String())
	}
	if PCM16.String() != "pcm_s16le" {
		t.Errorf("PCM16 = %q", PCM16.String())
	}
	p := &AudioStreamPacket{FrameDuration: 60}
	if p.Duration().Milliseconds() != 60 {
		t.Errorf("Duration = %v", p.Duration())
	}
}
