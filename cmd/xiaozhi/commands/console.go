package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/cli"
	"github.com/tengyuan2025/xiaozhi-esp32/pkg/device"
)

// consoleDisplay prints display updates as styled lines.
type consoleDisplay struct {
	w      io.Writer
	styles cli.Styles
	width  int

	mu      sync.Mutex
	status  string
	emotion string
	shown   string
}

func newConsoleDisplay(w io.Writer) *consoleDisplay {
	return &consoleDisplay{w: w, styles: cli.NewStyles(cli.DefaultTheme), width: 80}
}

func (d *consoleDisplay) SetStatus(status string) {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()
	d.UpdateStatusBar(false)
}

func (d *consoleDisplay) SetEmotion(emotion string) {
	d.mu.Lock()
	d.emotion = emotion
	d.mu.Unlock()
	d.UpdateStatusBar(false)
}

func (d *consoleDisplay) SetChatMessage(role, content string) {
	if content == "" {
		return
	}
	d.println(d.styles.ChatLine(role, content))
}

func (d *consoleDisplay) ShowNotification(text string) {
	d.println(d.styles.System.Render("* " + text))
}

// UpdateStatusBar prints the status line when it changed, or always when
// force is set.
func (d *consoleDisplay) UpdateStatusBar(force bool) {
	d.mu.Lock()
	line := d.styles.StatusLine(d.status, d.emotion, d.width)
	if !force && line == d.shown {
		d.mu.Unlock()
		return
	}
	d.shown = line
	d.mu.Unlock()
	d.println(line)
}

func (d *consoleDisplay) println(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.w, s)
}

// consoleLED logs the colour a status LED would show.
type consoleLED struct {
	logger *slog.Logger
}

var ledColors = map[device.State]string{
	device.StateStarting:   "blue",
	device.StateIdle:       "off",
	device.StateConnecting: "blue",
	device.StateListening:  "red",
	device.StateSpeaking:   "green",
	device.StateUpgrading:  "green",
	device.StateActivating: "green",
}

func (l consoleLED) OnStateChanged(s device.State) {
	color, ok := ledColors[s]
	if !ok {
		color = "off"
	}
	l.logger.Debug("led", "state", s, "color", color)
}

// consoleBoard turns a reboot request into process shutdown.
type consoleBoard struct {
	logger   *slog.Logger
	shutdown func()
}

func (b consoleBoard) SetPowerSaveMode(on bool) {
	b.logger.Debug("power save", "on", on)
}

func (b consoleBoard) Reboot() {
	b.logger.Info("reboot requested, exiting")
	b.shutdown()
}

// mcpLogger prints tool-invocation payloads.
type mcpLogger struct {
	logger *slog.Logger
}

func (h mcpLogger) HandleMessage(payload json.RawMessage) {
	h.logger.Info("mcp message", "payload", string(payload))
}
