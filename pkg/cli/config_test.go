package cli

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"1234", "****"},
		{"12345678", "********"},
		{"123456789", "1234*6789"},
		{"sk-1234567890abcdef", "sk-1***********cdef"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := MaskAPIKey(tt.key); got != tt.want {
				t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLoadConfigCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg, err := LoadConfigWithPath("xiaozhi", path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if cfg.Path() != path || cfg.Dir() != filepath.Dir(path) {
		t.Errorf("Path = %q, Dir = %q", cfg.Path(), cfg.Dir())
	}
	if len(cfg.Contexts) != 0 {
		t.Errorf("new config has %d contexts", len(cfg.Contexts))
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `current_context: lab
contexts:
  lab:
    protocol: realtime
    realtime:
      app_id: "123"
      access_key: secret-access-key
      greeting: 你好
      handshake_timeout: 3s
    audio:
      mic: in.pcm
      speaker: out.pcm
      speaker_rate: 24000
    behavior:
      vad_trigger: true
      aec_mode: server
    mqtt:
      broker: localhost:1883
      encoding: json
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigWithPath("xiaozhi", path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath: %v", err)
	}
	ctx, err := cfg.ResolveContext("")
	if err != nil {
		t.Fatalf("ResolveContext: %v", err)
	}
	if ctx.Name != "lab" || ctx.Device() != "lab" {
		t.Errorf("name = %q, device = %q", ctx.Name, ctx.Device())
	}
	if ctx.Realtime.HandshakeTimeout.Duration() != 3*time.Second {
		t.Errorf("handshake_timeout = %v", ctx.Realtime.HandshakeTimeout)
	}
	if ctx.Realtime.Greeting != "你好" || ctx.Audio.SpeakerRate != 24000 {
		t.Errorf("realtime = %+v, audio = %+v", ctx.Realtime, ctx.Audio)
	}
	if !ctx.Behavior.VADTrigger || ctx.Behavior.AECMode != "server" {
		t.Errorf("behavior = %+v", ctx.Behavior)
	}
	if ctx.MQTT.Broker != "localhost:1883" || ctx.MQTT.Encoding != "json" {
		t.Errorf("mqtt = %+v", ctx.MQTT)
	}

	ctx.DeviceID = "dev-9"
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}
	again, err := LoadConfigWithPath("xiaozhi", path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := again.GetContext("lab")
	if err != nil {
		t.Fatal(err)
	}
	if got.Device() != "dev-9" || got.Realtime.HandshakeTimeout.Duration() != 3*time.Second {
		t.Errorf("after save: device = %q, timeout = %v", got.Device(), got.Realtime.HandshakeTimeout)
	}
}

func TestContextValidate(t *testing.T) {
	tests := []struct {
		name    string
		ctx     Context
		wantErr bool
	}{
		{"realtime default", Context{Realtime: &RealtimeContext{AppID: "a", AccessKey: "k"}}, false},
		{"realtime missing key", Context{Realtime: &RealtimeContext{AppID: "a"}}, true},
		{"realtime missing section", Context{}, true},
		{"http", Context{Protocol: "HTTP", HTTP: &HTTPContext{URL: "http://x"}}, false},
		{"http missing url", Context{Protocol: "http", HTTP: &HTTPContext{}}, true},
		{"none", Context{Protocol: "none"}, false},
		{"unknown", Context{Protocol: "carrier-pigeon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ctx.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestContextLifecycle(t *testing.T) {
	cfg, err := LoadConfigWithPath("xiaozhi", filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddContext("bad", &Context{Protocol: "smoke"}); err == nil {
		t.Fatal("AddContext accepted an invalid context")
	}
	if err := cfg.AddContext("b", &Context{Protocol: ProtocolNone}); err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddContext("a", &Context{Protocol: ProtocolHTTP, HTTP: &HTTPContext{URL: "http://x"}}); err != nil {
		t.Fatal(err)
	}
	if cfg.CurrentContext != "b" {
		t.Errorf("current = %q, want first added context", cfg.CurrentContext)
	}
	if got := cfg.ListContexts(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("ListContexts = %v", got)
	}
	if err := cfg.UseContext("a"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.UseContext("missing"); err == nil {
		t.Error("UseContext accepted unknown context")
	}
	if err := cfg.DeleteContext("a"); err != nil {
		t.Fatal(err)
	}
	if cfg.CurrentContext != "" {
		t.Errorf("current = %q after deleting it", cfg.CurrentContext)
	}
	if _, err := cfg.ResolveContext(""); err == nil {
		t.Error("ResolveContext without current context succeeded")
	}
	if err := cfg.DeleteContext("a"); err == nil {
		t.Error("DeleteContext twice succeeded")
	}
}

func TestContextMasked(t *testing.T) {
	ctx := &Context{
		Name:     "lab",
		Realtime: &RealtimeContext{AppID: "1", AccessKey: "abcdefghijkl"},
		MQTT:     &MQTTContext{Broker: "b", Password: "pw"},
	}
	m := ctx.Masked()
	if strings.Contains(m.Realtime.AccessKey, "efgh") || m.MQTT.Password != "**" {
		t.Errorf("masked = %+v %+v", m.Realtime, m.MQTT)
	}
	if ctx.Realtime.AccessKey != "abcdefghijkl" || ctx.MQTT.Password != "pw" {
		t.Error("Masked modified the original context")
	}
}
