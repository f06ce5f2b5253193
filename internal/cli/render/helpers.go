package render

import (
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/fatih/color"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

// Renderer prints the result of a use case
type Renderer[T any] interface {
	Render(result T) error
}

var (
	passedStyle   = color.New(color.FgGreen)
	failedStyle   = color.New(color.FgRed)
	timeoutStyle  = color.New(color.FgYellow)
	skippedStyle  = color.New(color.Faint)
	headerStyle   = color.New(color.Bold, color.FgHiWhite)
	durationStyle = color.New(color.Faint)
	liveStyle     = color.New(color.FgCyan)
)

// FormatWarning formats a warning message with the warning icon
func FormatWarning(message string) string {
	return color.New(color.FgYellow).Sprintf("⚠️  %s", message)
}

// FormatError formats an error message with the error icon
func FormatError(message string) string {
	// Extract just the error message part (after the last colon if it's an error chain)
	parts := strings.Split(message, ": ")
	msg := parts[len(parts)-1]

	// Capitalize first letter
	if len(msg) > 0 {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}

	return color.New(color.FgRed).Sprintf("❌ %s", msg)
}

// FormatSuccess formats a success message with the success icon
func FormatSuccess(message string) string {
	return color.New(color.FgGreen).Sprintf("✅ %s", message)
}

// FormatDuration rounds d for display: milliseconds below a second,
// tenths of a second below a minute, whole seconds above.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// statusIcon returns the icon and style for a scenario status
func statusIcon(s domain.ScenarioStatus) (string, *color.Color) {
	switch s {
	case domain.StatusPassed:
		return "✓", passedStyle
	case domain.StatusFailed:
		return "✗", failedStyle
	case domain.StatusTimedOut:
		return "⏱", timeoutStyle
	case domain.StatusSkipped:
		return "⊘", skippedStyle
	default:
		return "?", skippedStyle
	}
}

// paint applies style unless color output is disabled for this renderer
func paint(enabled bool, style *color.Color, s string) string {
	if !enabled {
		return s
	}
	return style.Sprint(s)
}

// banner underlines a title, measuring it without escape sequences
func banner(title string) string {
	return title + "\n" + strings.Repeat("═", ansi.StringWidth(title))
}
