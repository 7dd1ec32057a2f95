// Package output renders CLI messages and search results as styled text
// or JSON.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Message icons.
const (
	IconSuccess = "✅"
	IconWarning = "⚠️ "
	IconError   = "❌"
)

// progressWidth is the bar width in cells.
const progressWidth = 30

// Writer provides formatted output for the CLI. It is not safe for
// concurrent use.
type Writer struct {
	out    io.Writer
	styles Styles
	tty    bool

	// lastStep is the last progress decile printed in non-terminal mode.
	lastStep int
}

// New creates a Writer. Colors and in-place progress are enabled only
// when out is a terminal; NO_COLOR disables colors.
func New(out io.Writer) *Writer {
	tty := IsTTY(out)
	styles := NoColorStyles()
	if tty && !DetectNoColor() {
		styles = DefaultStyles()
	}
	return &Writer{out: out, styles: styles, tty: tty, lastStep: -1}
}

// NewWithStyles creates a Writer with explicit styles for a non-terminal.
func NewWithStyles(out io.Writer, styles Styles) *Writer {
	return &Writer{out: out, styles: styles, lastStep: -1}
}

// Status prints msg after icon. An empty icon indents the line instead.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		icon = "  "
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) styled(icon string, style lipgloss.Style, msg string) {
	w.Status(icon, style.Render(msg))
}

// Success prints a success message.
func (w *Writer) Success(msg string) { w.styled(IconSuccess, w.styles.Success, msg) }

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

// Warning prints a warning message.
func (w *Writer) Warning(msg string) { w.styled(IconWarning, w.styles.Warning, msg) }

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

// Error prints an error message.
func (w *Writer) Error(msg string) { w.styled(IconError, w.styles.Error, msg) }

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress reports current of total units done. On a terminal the bar is
// redrawn in place; otherwise one line is printed per 10% step so logs
// and pipes stay readable.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	current = min(max(current, 0), total)
	pct := current * 100 / total

	if !w.tty {
		step := pct / 10
		if step == w.lastStep {
			return
		}
		w.lastStep = step
		_, _ = fmt.Fprintf(w.out, "[%d/%d] %3d%% %s\n", current, total, pct, msg)
		return
	}

	bar := w.styles.Success.Render(renderProgressBar(current, total, progressWidth))
	_, _ = fmt.Fprintf(w.out, "\r[%s] %3d%% %s", bar, pct, msg)
	if current == total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// renderProgressBar draws a bar width cells wide.
func renderProgressBar(current, total, width int) string {
	filled := 0
	if total > 0 {
		filled = min(max(current*width/total, 0), width)
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
