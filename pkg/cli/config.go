package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/jsontime"
)

const (
	// DefaultBaseDir is the base configuration directory name
	DefaultBaseDir = ".xiaozhi"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Protocol names accepted in a context.
const (
	ProtocolRealtime = "realtime"
	ProtocolHTTP     = "http"
	ProtocolNone     = "none"
)

// Config represents the main configuration structure for a CLI app
type Config struct {
	// AppName is the application name
	AppName string `yaml:"-"`

	// CurrentContext is the name of the currently active context
	CurrentContext string `yaml:"current_context,omitempty"`

	// Contexts is a map of context name to context configuration
	Contexts map[string]*Context `yaml:"contexts,omitempty"`

	configPath string
}

// Context is one simulated device: how it reaches the dialogue service and
// where its audio goes.
type Context struct {
	Name string `yaml:"name"`

	// DeviceID identifies the device in state reports. Empty means the
	// context name.
	DeviceID string `yaml:"device_id,omitempty"`

	// Protocol is realtime, http or none.
	Protocol string `yaml:"protocol,omitempty"`

	Realtime *RealtimeContext `yaml:"realtime,omitempty"`
	HTTP     *HTTPContext     `yaml:"http,omitempty"`
	Audio    *AudioContext    `yaml:"audio,omitempty"`
	Behavior *BehaviorContext `yaml:"behavior,omitempty"`
	MQTT     *MQTTContext     `yaml:"mqtt,omitempty"`
}

// RealtimeContext holds the binary-framed dialogue endpoint settings.
type RealtimeContext struct {
	URL        string `yaml:"url,omitempty"`
	AppID      string `yaml:"app_id"`
	AccessKey  string `yaml:"access_key"`
	ResourceID string `yaml:"resource_id,omitempty"`
	AppKey     string `yaml:"app_key,omitempty"`

	// Greeting is spoken by the service after a wake word.
	Greeting string `yaml:"greeting,omitempty"`

	// Request is a YAML or JSON file with session parameters.
	Request string `yaml:"request,omitempty"`

	HandshakeTimeout jsontime.Duration `yaml:"handshake_timeout,omitempty"`
	SessionTimeout   jsontime.Duration `yaml:"session_timeout,omitempty"`
}

// HTTPContext holds the request/response endpoint settings.
type HTTPContext struct {
	URL     string            `yaml:"url"`
	Timeout jsontime.Duration `yaml:"timeout,omitempty"`
}

// AudioContext names the raw PCM files standing in for the codec.
type AudioContext struct {
	// Mic is a s16le 16kHz mono file.
	Mic string `yaml:"mic,omitempty"`
	// Speaker receives s16le mono output at SpeakerRate.
	Speaker     string `yaml:"speaker,omitempty"`
	SpeakerRate int    `yaml:"speaker_rate,omitempty"`
}

// BehaviorContext holds device behaviour switches.
type BehaviorContext struct {
	VADTrigger            bool   `yaml:"vad_trigger,omitempty"`
	WakeWordWhileSpeaking bool   `yaml:"wake_word_while_speaking,omitempty"`
	AECMode               string `yaml:"aec_mode,omitempty"`
	CustomMessages        bool   `yaml:"custom_messages,omitempty"`
}

// MQTTContext enables state reporting when Broker is set.
type MQTTContext struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Scope    string `yaml:"scope,omitempty"`
	// Encoding is msgpack (default) or json.
	Encoding string `yaml:"encoding,omitempty"`
	QoS      byte   `yaml:"qos,omitempty"`
}

// LoadConfig loads or creates configuration for the specified app
func LoadConfig(appName string) (*Config, error) {
	return LoadConfigWithPath(appName, "")
}

// LoadConfigWithPath loads configuration from a custom path
func LoadConfigWithPath(appName, customPath string) (*Config, error) {
	configPath := customPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, DefaultBaseDir, appName, DefaultConfigFile)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := &Config{
		AppName:    appName,
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Save()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	for name, ctx := range cfg.Contexts {
		ctx.Name = name
	}
	cfg.AppName = appName
	cfg.configPath = configPath
	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory path
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// AddContext validates and stores a context. The first context added
// becomes current.
func (c *Config) AddContext(name string, ctx *Context) error {
	ctx.Name = name
	if err := ctx.Validate(); err != nil {
		return err
	}
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return c.Save()
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns a specific context
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// ResolveContext returns the context by name, or current context if name is empty
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		if c.CurrentContext == "" {
			return nil, fmt.Errorf("no current context set")
		}
		name = c.CurrentContext
	}
	return c.GetContext(name)
}

// ListContexts returns all context names, sorted.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks that the selected protocol has its settings.
func (ctx *Context) Validate() error {
	switch ctx.ProtocolName() {
	case ProtocolRealtime:
		if ctx.Realtime == nil || ctx.Realtime.AppID == "" || ctx.Realtime.AccessKey == "" {
			return fmt.Errorf("context %q: realtime protocol needs app_id and access_key", ctx.Name)
		}
	case ProtocolHTTP:
		if ctx.HTTP == nil || ctx.HTTP.URL == "" {
			return fmt.Errorf("context %q: http protocol needs a url", ctx.Name)
		}
	case ProtocolNone:
	default:
		return fmt.Errorf("context %q: unknown protocol %q", ctx.Name, ctx.Protocol)
	}
	return nil
}

// ProtocolName returns the protocol, defaulting to realtime.
func (ctx *Context) ProtocolName() string {
	if ctx.Protocol == "" {
		return ProtocolRealtime
	}
	return strings.ToLower(ctx.Protocol)
}

// Device returns the device id used in reports.
func (ctx *Context) Device() string {
	if ctx.DeviceID != "" {
		return ctx.DeviceID
	}
	return ctx.Name
}

// Masked returns a copy safe for display, with secrets masked.
func (ctx *Context) Masked() *Context {
	out := *ctx
	if ctx.Realtime != nil {
		rt := *ctx.Realtime
		rt.AccessKey = MaskAPIKey(rt.AccessKey)
		out.Realtime = &rt
	}
	if ctx.MQTT != nil {
		m := *ctx.MQTT
		m.Password = MaskAPIKey(m.Password)
		out.MQTT = &m
	}
	return &out
}

// MaskAPIKey masks the API key for display
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
