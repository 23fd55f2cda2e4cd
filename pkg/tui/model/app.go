package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/transport/uds"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneOutput Pane = iota
	PaneProcesses
	PaneLogs
)

// Mode identifies the current interaction mode.
type Mode int

const (
	// ModeCommand sends keys to the command line.
	ModeCommand Mode = iota
	ModeNormal
	// ModeFilter edits the log source filter.
	ModeFilter
)

const (
	maxLogLines    = 500
	maxOutputLines = 2000
)

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	events     chan uds.Message

	// Command line and output
	input   textinput.Model
	output  []string
	outView viewport.Model
	history []string
	histIdx int
	draft   string

	// Processes
	processes   []uds.ProcessInfo
	selectedIdx int

	// Logs
	logEntries []core.LogEntry
	logPaused  bool
	filter     textinput.Model

	// UI
	activePane Pane
	mode       Mode
	width      int
	height     int
	statusMsg  string
}

// New creates a new TUI app model.
func New(socketPath string) App {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "type a command, e.g. help"
	in.CharLimit = 4096
	in.Focus()

	fi := textinput.New()
	fi.Prompt = "source: "
	fi.Placeholder = "all"
	fi.CharLimit = 128

	return App{
		socketPath: socketPath,
		events:     make(chan uds.Message, 256),
		input:      in,
		filter:     fi,
		outView:    viewport.New(0, 0),
		activePane: PaneOutput,
		mode:       ModeCommand,
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath, a.events),
		tea.SetWindowTitle("devconsole"),
		textinput.Blink,
	)
}

// connectedMsg indicates successful daemon connection.
type connectedMsg struct {
	client *uds.Client
	ping   uds.PingResponse
}

// disconnectedMsg reports the daemon went away.
type disconnectedMsg struct{}

// resultMsg carries the result of an executed command line.
type resultMsg struct{ res core.Result }

// historyMsg carries past command lines, newest first.
type historyMsg struct{ records []core.HistoryRecord }

// processesMsg carries supervised process state.
type processesMsg struct{ processes []uds.ProcessInfo }

// eventMsg carries a server-pushed event.
type eventMsg uds.Message

// errorMsg carries an error to display.
type errorMsg struct{ err error }

// actionResultMsg carries the result of a process action.
type actionResultMsg struct{ msg string }

func requestCtx(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func connectCmd(socketPath string, events chan uds.Message) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		client.OnEvent(func(m uds.Message) {
			select {
			case events <- m:
			default:
			}
		})
		ctx, cancel := requestCtx(2 * time.Second)
		defer cancel()
		pong, err := client.Ping(ctx)
		if err != nil {
			client.Close()
			return errorMsg{err}
		}
		if err := client.Subscribe(ctx); err != nil {
			client.Close()
			return errorMsg{err}
		}
		return connectedMsg{client: client, ping: pong}
	}
}

// waitForEvent delivers the next pushed event, or disconnectedMsg once the
// connection closes.
func waitForEvent(client *uds.Client, events <-chan uds.Message) tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-events:
			return eventMsg(m)
		case <-client.Done():
			return disconnectedMsg{}
		}
	}
}

func executeCmd(client *uds.Client, line string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := requestCtx(2 * time.Minute)
		defer cancel()
		res, err := client.Execute(ctx, line, map[string]any{"client": "tui"})
		if err != nil {
			return errorMsg{err}
		}
		return resultMsg{res}
	}
}

func fetchHistoryCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := requestCtx(2 * time.Second)
		defer cancel()
		records, err := client.History(ctx, 0)
		if err != nil {
			return errorMsg{err}
		}
		return historyMsg{records}
	}
}

func fetchProcessesCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := requestCtx(2 * time.Second)
		defer cancel()
		procs, err := client.Processes(ctx)
		if err != nil {
			return errorMsg{err}
		}
		return processesMsg{procs}
	}
}

func actionCmd(client *uds.Client, name, action string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := requestCtx(15 * time.Second)
		defer cancel()
		if err := client.ProcessAction(ctx, name, action); err != nil {
			return errorMsg{err}
		}
		return actionResultMsg{msg: action + " " + name}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.connected = true
		a.statusMsg = "connected to " + a.socketPath
		if msg.ping.Version != "" {
			a.statusMsg += " (devconsoled " + msg.ping.Version + ")"
		}
		return a, tea.Batch(
			waitForEvent(a.client, a.events),
			fetchHistoryCmd(a.client),
			fetchProcessesCmd(a.client),
		)

	case disconnectedMsg:
		a.connected = false
		a.statusMsg = "disconnected"
		return a, nil

	case eventMsg:
		a = a.handleEvent(uds.Message(msg))
		var cmds []tea.Cmd
		if a.client != nil {
			cmds = append(cmds, waitForEvent(a.client, a.events))
			if msg.Method == uds.EventProcessesDelta {
				cmds = append(cmds, fetchProcessesCmd(a.client))
			}
		}
		return a, tea.Batch(cmds...)

	case resultMsg:
		a = a.appendResult(msg.res)
		return a, nil

	case historyMsg:
		a.history = a.history[:0]
		for i := len(msg.records) - 1; i >= 0; i-- {
			a.history = append(a.history, msg.records[i].Command)
		}
		a.histIdx = len(a.history)
		return a, nil

	case processesMsg:
		a.processes = msg.processes
		if a.selectedIdx >= len(a.processes) {
			a.selectedIdx = max(0, len(a.processes)-1)
		}
		return a, nil

	case actionResultMsg:
		a.statusMsg = msg.msg
		return a, nil

	case errorMsg:
		if errors.Is(msg.err, uds.ErrClosed) {
			a.connected = false
		}
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	if a.mode == ModeCommand {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a App) handleEvent(m uds.Message) App {
	if m.Method != uds.EventLogsLine || a.logPaused {
		return a
	}
	e, err := uds.DecodeLogLine(m)
	if err != nil {
		a.statusMsg = "error: " + err.Error()
		return a
	}
	a.logEntries = append(a.logEntries, e)
	if len(a.logEntries) > maxLogLines {
		a.logEntries = a.logEntries[len(a.logEntries)-maxLogLines:]
	}
	return a
}

// appendResult renders a command result into the output pane.
func (a App) appendResult(res core.Result) App {
	switch res.Kind {
	case core.KindClear:
		a.output = nil
	case core.KindEmpty:
	default:
		a.output = append(a.output, promptStyle.Render("> "+res.Command))
		for _, line := range strings.Split(strings.TrimRight(res.Output, "\n"), "\n") {
			a.output = append(a.output, styleForKind(res.Kind).Render(line))
		}
		if len(a.output) > maxOutputLines {
			a.output = a.output[len(a.output)-maxOutputLines:]
		}
	}
	a.outView.SetContent(strings.Join(a.output, "\n"))
	a.outView.GotoBottom()
	return a
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}

	switch a.mode {
	case ModeCommand:
		return a.handleCommandKey(msg)
	case ModeFilter:
		switch msg.String() {
		case "esc":
			a.filter.SetValue("")
			fallthrough
		case "enter":
			a.mode = ModeNormal
			a.filter.Blur()
			return a, nil
		}
		var cmd tea.Cmd
		a.filter, cmd = a.filter.Update(msg)
		return a, cmd
	}

	// Normal mode
	switch msg.String() {
	case "q":
		return a, tea.Quit

	case "i", ":", "enter":
		a.mode = ModeCommand
		return a, a.input.Focus()

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "j", "down":
		switch a.activePane {
		case PaneProcesses:
			if len(a.processes) > 0 {
				a.selectedIdx = min(a.selectedIdx+1, len(a.processes)-1)
			}
		case PaneOutput:
			a.outView.ScrollDown(1)
		}
	case "k", "up":
		switch a.activePane {
		case PaneProcesses:
			if a.selectedIdx > 0 {
				a.selectedIdx--
			}
		case PaneOutput:
			a.outView.ScrollUp(1)
		}

	case "/":
		a.mode = ModeFilter
		return a, a.filter.Focus()

	case " ":
		a.logPaused = !a.logPaused

	case "c":
		a.logEntries = nil

	case "r":
		return a.doAction("restart")
	case "s":
		return a.doAction("stop")
	case "t":
		return a.doAction("start")
	}
	return a, nil
}

func (a App) handleCommandKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = ModeNormal
		a.input.Blur()
		return a, nil

	case "enter":
		line := a.input.Value()
		a.input.Reset()
		if strings.TrimSpace(line) == "" {
			return a, nil
		}
		a.history = append(a.history, line)
		a.histIdx = len(a.history)
		a.draft = ""
		if a.client == nil || !a.connected {
			a.statusMsg = "not connected"
			return a, nil
		}
		return a, executeCmd(a.client, line)

	case "up":
		if a.histIdx > 0 {
			if a.histIdx == len(a.history) {
				a.draft = a.input.Value()
			}
			a.histIdx--
			a.input.SetValue(a.history[a.histIdx])
			a.input.CursorEnd()
		}
		return a, nil

	case "down":
		if a.histIdx < len(a.history) {
			a.histIdx++
			if a.histIdx == len(a.history) {
				a.input.SetValue(a.draft)
			} else {
				a.input.SetValue(a.history[a.histIdx])
			}
			a.input.CursorEnd()
		}
		return a, nil

	case "pgup":
		a.outView.HalfPageUp()
		return a, nil
	case "pgdown":
		a.outView.HalfPageDown()
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a App) doAction(action string) (tea.Model, tea.Cmd) {
	if a.client == nil || a.activePane != PaneProcesses || a.selectedIdx >= len(a.processes) {
		return a, nil
	}
	name := a.processes[a.selectedIdx].Name
	a.statusMsg = action + " " + name + "..."
	return a, actionCmd(a.client, name, action)
}

// visibleLogs applies the source filter.
func (a App) visibleLogs() []core.LogEntry {
	q := strings.ToLower(strings.TrimSpace(a.filter.Value()))
	if q == "" {
		return a.logEntries
	}
	var out []core.LogEntry
	for _, e := range a.logEntries {
		if strings.Contains(strings.ToLower(e.Source), q) {
			out = append(out, e)
		}
	}
	return out
}

func (a *App) resize() {
	w, h := a.layout()
	a.outView.Width = w.output
	a.outView.Height = max(h.main-1, 1)
	a.input.Width = max(a.width-4, 10)
}
