package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the console colors.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Alert   lipgloss.Color
	User    lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Alert:   lipgloss.Color("#ff5f5f"),
	User:    lipgloss.Color("#5fafff"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Status    lipgloss.Style
	Emotion   lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Alert     lipgloss.Style
	Help      lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Status:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Emotion:   lipgloss.NewStyle().Foreground(t.Dim),
		User:      lipgloss.NewStyle().Bold(true).Foreground(t.User),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		System:    lipgloss.NewStyle().Foreground(t.Dim).Italic(true),
		Alert:     lipgloss.NewStyle().Bold(true).Foreground(t.Alert),
		Help:      lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// StatusLine renders "[status] (emotion)" clipped to width. A width of zero
// disables clipping.
func (s Styles) StatusLine(status, emotion string, width int) string {
	line := s.Status.Render("[" + status + "]")
	if emotion != "" {
		line += " " + s.Emotion.Render("("+emotion+")")
	}
	if width > 1 && lipgloss.Width(line) > width {
		return truncate(status, width-1) + "…"
	}
	return line
}

// ChatLine renders one conversation line.
func (s Styles) ChatLine(role, content string) string {
	var label string
	switch role {
	case "user":
		label = s.User.Render("you")
	case "assistant":
		label = s.Assistant.Render("xiaozhi")
	default:
		label = s.System.Render(role)
	}
	return label + " " + content
}

// AlertLine renders an alert.
func (s Styles) AlertLine(status, message string) string {
	return s.Alert.Render("! "+status) + " " + message
}

// truncate cuts s to at most width cells, keeping whole runes.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	var b strings.Builder
	w := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if w+rw > width {
			break
		}
		b.WriteRune(r)
		w += rw
	}
	return b.String()
}
