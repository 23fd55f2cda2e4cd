package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/transport/uds"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusRestart = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("111")).Bold(true)
	textStyle    = lipgloss.NewStyle()
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type widths struct{ output, processes, full int }
type heights struct{ main, logs int }

func (a App) layout() (widths, heights) {
	const statusBarH, inputH = 1, 1
	logsH := max(a.height/4, 5)
	mainH := max(a.height-logsH-statusBarH-inputH-4, 3)
	outW := max(a.width*2/3-2, 10)
	procW := max(a.width-outW-8, 10)
	return widths{output: outW, processes: procW, full: max(a.width-4, 10)},
		heights{main: mainH, logs: logsH}
}

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}
	w, h := a.layout()

	outPane := a.paneBox(PaneOutput, " Output ", a.renderOutput(), w.output, h.main)
	procPane := a.paneBox(PaneProcesses, " Processes ", a.renderProcesses(w.processes, h.main), w.processes, h.main)
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, outPane, procPane)

	logPane := a.paneBox(PaneLogs, a.logTitle(), a.renderLogs(w.full, h.logs), w.full, h.logs)

	return lipgloss.JoinVertical(lipgloss.Left, topRow, logPane, a.renderInput(), a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane && a.mode != ModeCommand {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderOutput() string {
	if len(a.output) == 0 {
		return dimStyle.Render("type help and press enter")
	}
	return a.outView.View()
}

func (a App) renderProcesses(w, h int) string {
	if len(a.processes) == 0 {
		return dimStyle.Render("no supervised processes")
	}

	var b strings.Builder
	maxVisible := max(h-4, 1)
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}
	for i := start; i < len(a.processes) && i-start < maxVisible; i++ {
		p := a.processes[i]
		line := fmt.Sprintf(" %s %-*s", statusIndicator(p.Status), w-6, truncate(p.Name, w-6))
		if i == a.selectedIdx && a.activePane == PaneProcesses {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}

	if a.selectedIdx < len(a.processes) {
		b.WriteString("\n" + renderProcessDetail(a.processes[a.selectedIdx]))
	}
	return b.String()
}

func renderProcessDetail(p uds.ProcessInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status:   %s\n", colorStatus(p.Status))
	if p.PID > 0 {
		fmt.Fprintf(&b, "PID:      %d\n", p.PID)
	}
	if p.MemBytes > 0 {
		fmt.Fprintf(&b, "Memory:   %s\n", formatBytes(p.MemBytes))
	}
	if p.Restarts > 0 {
		fmt.Fprintf(&b, "Restarts: %d\n", p.Restarts)
	}
	fmt.Fprintf(&b, "Command:  %s\n", dimStyle.Render(p.Command))
	return b.String()
}

func (a App) renderLogs(w, h int) string {
	entries := a.visibleLogs()
	if len(entries) == 0 {
		return dimStyle.Render("no log output")
	}

	start := 0
	if len(entries) > h-1 {
		start = len(entries) - h + 1
	}
	var b strings.Builder
	for _, e := range entries[start:] {
		prefix := fmt.Sprintf("%s %-8s %-12s ", e.Timestamp.Format("15:04:05"), e.Level, truncate(e.Source, 12))
		line := prefix + truncate(e.Message, max(w-len(prefix), 4))
		b.WriteString(levelStyle(e.Level).Render(line) + "\n")
	}
	return b.String()
}

func (a App) logTitle() string {
	title := " Logs "
	if f := strings.TrimSpace(a.filter.Value()); f != "" {
		title += dimStyle.Render("["+f+"]") + " "
	}
	if a.logPaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

func (a App) renderInput() string {
	if a.mode == ModeFilter {
		return a.filter.View()
	}
	return a.input.View()
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	var right string
	switch a.mode {
	case ModeCommand:
		right = "enter:run up/down:history pgup/pgdn:scroll esc:navigate ctrl+c:quit"
	case ModeFilter:
		right = "enter:apply esc:clear"
	default:
		right = "i:command tab:pane j/k:nav /:filter space:pause c:clear r:restart s:stop t:start q:quit"
	}

	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func styleForKind(k core.Kind) lipgloss.Style {
	switch k {
	case core.KindError:
		return errorStyle
	case core.KindWarning:
		return warningStyle
	default:
		return textStyle
	}
}

func levelStyle(l core.Level) lipgloss.Style {
	switch l {
	case core.LevelCritical, core.LevelError:
		return errorStyle
	case core.LevelWarning:
		return warningStyle
	case core.LevelDebug:
		return dimStyle
	default:
		return textStyle
	}
}

func statusIndicator(status string) string {
	switch status {
	case uds.StatusRunning:
		return statusRunning.Render("●")
	case uds.StatusStopped:
		return statusStopped.Render("○")
	case uds.StatusFailed:
		return statusFailed.Render("✖")
	case uds.StatusRestarting:
		return statusRestart.Render("↻")
	default:
		return dimStyle.Render("?")
	}
}

func colorStatus(status string) string {
	switch status {
	case uds.StatusRunning:
		return statusRunning.Render(status)
	case uds.StatusStopped:
		return statusStopped.Render(status)
	case uds.StatusFailed:
		return statusFailed.Render(status)
	case uds.StatusRestarting:
		return statusRestart.Render(status)
	default:
		return dimStyle.Render(status)
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatBytes(b uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
