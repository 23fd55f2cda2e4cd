package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/modoterra/devconsole/pkg/core"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// colorEnabled reports whether w is a terminal that should get color.
func colorEnabled(w io.Writer) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// highlight writes src to w, syntax highlighted as lang when w is a terminal.
func highlight(w io.Writer, src, lang string) {
	if !strings.HasSuffix(src, "\n") {
		src += "\n"
	}
	if colorEnabled(w) {
		if err := quick.Highlight(w, src, lang, "terminal256", "monokai"); err == nil {
			return
		}
	}
	io.WriteString(w, src)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	highlight(w, string(data), "json")
	return nil
}

// printResult writes a command result: errors and warnings to errw, text
// to w. JSON text is highlighted.
func printResult(w, errw io.Writer, res core.Result) {
	out := strings.TrimRight(res.Output, "\n")
	switch res.Kind {
	case core.KindEmpty, core.KindClear:
		return
	case core.KindError:
		fmt.Fprintln(errw, styled(errw, errorStyle, out))
	case core.KindWarning:
		fmt.Fprintln(errw, styled(errw, warningStyle, out))
	default:
		if trimmed := bytes.TrimSpace([]byte(out)); len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
			highlight(w, out, "json")
			return
		}
		fmt.Fprintln(w, out)
	}
}

func styled(w io.Writer, s lipgloss.Style, text string) string {
	if !colorEnabled(w) {
		return text
	}
	return s.Render(text)
}

func levelStyle(l core.Level) lipgloss.Style {
	switch l {
	case core.LevelCritical, core.LevelError:
		return errorStyle
	case core.LevelWarning:
		return warningStyle
	case core.LevelDebug:
		return dimStyle
	}
	return lipgloss.NewStyle()
}

// formatEntry renders one log entry on a single line.
func formatEntry(w io.Writer, e core.LogEntry) string {
	line := fmt.Sprintf("%s %-8s %-14s %s", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Level, e.Source, e.Message)
	return styled(w, levelStyle(e.Level), line)
}

func formatBytes(b uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b == 0:
		return "-"
	case b >= GB:
		return fmt.Sprintf("%.1fG", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1fM", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1fK", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%dB", b)
	}
}
