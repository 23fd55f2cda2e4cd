package model

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/transport/uds"
)

func update(t *testing.T, a App, msg tea.Msg) App {
	t.Helper()
	m, _ := a.Update(msg)
	out, ok := m.(App)
	require.True(t, ok)
	return out
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func logEvent(t *testing.T, source, msg string) eventMsg {
	t.Helper()
	evt, err := uds.NewEvent(uds.EventLogsLine, core.LogEntry{
		Timestamp: time.Now(), Source: source, Level: core.LevelInfo, Message: msg,
	})
	require.NoError(t, err)
	return eventMsg(evt)
}

func TestResultsRenderIntoOutput(t *testing.T) {
	a := update(t, New("/tmp/x.sock"), tea.WindowSizeMsg{Width: 120, Height: 40})
	a = update(t, a, resultMsg{core.Result{Command: "help", Output: "Available Commands:\n  help", Kind: core.KindText}})
	a = update(t, a, resultMsg{core.Result{Command: "nope", Output: "Command 'nope' not found.", Kind: core.KindError}})
	require.Len(t, a.output, 5)
	assert.Contains(t, a.output[0], "> help")
	assert.Contains(t, a.output[4], "not found")

	a = update(t, a, resultMsg{core.Result{Kind: core.KindEmpty}})
	assert.Len(t, a.output, 5)

	a = update(t, a, resultMsg{core.Result{Command: "clear", Kind: core.KindClear}})
	assert.Empty(t, a.output)
}

func TestCommandHistoryRecall(t *testing.T) {
	a := New("/tmp/x.sock")
	a = update(t, a, historyMsg{[]core.HistoryRecord{{Command: "logs 5"}, {Command: "help"}}})
	assert.Equal(t, []string{"help", "logs 5"}, a.history)

	a.input.SetValue("draft")
	a = update(t, a, key("up"))
	assert.Equal(t, "logs 5", a.input.Value())
	a = update(t, a, key("up"))
	assert.Equal(t, "help", a.input.Value())
	a = update(t, a, key("up"))
	assert.Equal(t, "help", a.input.Value())
	a = update(t, a, key("down"))
	a = update(t, a, key("down"))
	assert.Equal(t, "draft", a.input.Value())
}

func TestEnterWithoutConnection(t *testing.T) {
	a := New("/tmp/x.sock")
	a.input.SetValue("status")
	m, cmd := a.Update(key("enter"))
	a = m.(App)
	assert.Nil(t, cmd)
	assert.Equal(t, "not connected", a.statusMsg)
	assert.Equal(t, []string{"status"}, a.history)
	assert.Empty(t, a.input.Value())
}

func TestLiveLogsBoundedAndPaused(t *testing.T) {
	a := New("/tmp/x.sock")
	for i := 0; i < maxLogLines+10; i++ {
		a = update(t, a, logEvent(t, "app", fmt.Sprintf("line %d", i)))
	}
	require.Len(t, a.logEntries, maxLogLines)
	assert.Equal(t, "line 10", a.logEntries[0].Message)

	a = update(t, a, key("esc"))
	require.Equal(t, ModeNormal, a.mode)
	a = update(t, a, key(" "))
	assert.True(t, a.logPaused)
	a = update(t, a, logEvent(t, "app", "ignored"))
	assert.Len(t, a.logEntries, maxLogLines)
}

func TestLogFilter(t *testing.T) {
	a := New("/tmp/x.sock")
	a = update(t, a, logEvent(t, "app", "one"))
	a = update(t, a, logEvent(t, "exec.web", "two"))

	a = update(t, a, key("esc"))
	a = update(t, a, key("/"))
	require.Equal(t, ModeFilter, a.mode)
	for _, r := range "web" {
		a = update(t, a, key(string(r)))
	}
	a = update(t, a, key("enter"))
	assert.Equal(t, ModeNormal, a.mode)

	visible := a.visibleLogs()
	require.Len(t, visible, 1)
	assert.Equal(t, "two", visible[0].Message)
}

func TestProcessesNavigation(t *testing.T) {
	a := update(t, New("/tmp/x.sock"), processesMsg{[]uds.ProcessInfo{
		{Name: "api", Status: uds.StatusRunning, PID: 42},
		{Name: "web", Status: uds.StatusFailed},
	}})
	a = update(t, a, key("esc"))
	a = update(t, a, key("tab"))
	require.Equal(t, PaneProcesses, a.activePane)
	a = update(t, a, key("j"))
	a = update(t, a, key("j"))
	assert.Equal(t, 1, a.selectedIdx)

	a = update(t, a, processesMsg{[]uds.ProcessInfo{{Name: "api"}}})
	assert.Equal(t, 0, a.selectedIdx)
}

func TestViewRenders(t *testing.T) {
	a := New("/tmp/x.sock")
	assert.Equal(t, "loading...", a.View())

	a = update(t, a, tea.WindowSizeMsg{Width: 120, Height: 40})
	a = update(t, a, processesMsg{[]uds.ProcessInfo{{Name: "api", Status: uds.StatusRunning, PID: 42, MemBytes: 3 << 20}}})
	a = update(t, a, logEvent(t, "app", "hello from the app"))
	view := a.View()
	assert.True(t, strings.Contains(view, "Processes"))
	assert.Contains(t, view, "api")
	assert.Contains(t, view, "3.0 MB")
	assert.Contains(t, view, "hello from the app")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 GB", formatBytes(2<<30))
}
