package terminal

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/invoke"
	"github.com/modoterra/devconsole/pkg/logs"
	"github.com/modoterra/devconsole/pkg/sandbox"
)

// Help sections of built-in commands, in display order.
const (
	GroupCore     = "Core"
	GroupLogs     = "Logs"
	GroupRequests = "Requests"
	GroupEval     = "Eval"
)

var groupExamples = map[string][]string{
	GroupRequests: {
		"http GET /",
		"http --full GET /api/info",
		`http POST /api/users {"name":"neo"}`,
	},
	GroupEval: {
		"eval 1+2",
		"eval x=2; y=5; result=x*y",
		`eval range(3).map(i, i * i)`,
	},
}

// Services are the subsystems the built-in commands operate on. Nil fields
// disable the commands that need them.
type Services struct {
	Monitor       *logs.Monitor
	DefaultSource string
	Evaluator     *sandbox.Evaluator
	AllowEval     bool
	Invoker       *invoke.Invoker
	Host          core.Host
	// SafeConfigKeys lists the host settings the config command may show.
	SafeConfigKeys []string
	Version        string
}

type builtins struct {
	e   *Engine
	svc Services
}

// RegisterBuiltins installs the standard console commands.
func (e *Engine) RegisterBuiltins(svc Services) error {
	if svc.DefaultSource == "" {
		svc.DefaultSource = logs.DefaultSource
	}
	b := &builtins{e: e, svc: svc}
	cmds := []Command{
		{Name: "help", Group: GroupCore, Description: "Show available commands", Handler: b.help},
		{Name: "clear", Group: GroupCore, Description: "Clear terminal screen", Handler: b.clear},
		{Name: "status", Group: GroupCore, Description: "Show application status", Handler: b.status},
		{Name: "routes", Group: GroupCore, Description: "List all application routes", Handler: b.routes},
		{Name: "config", Group: GroupCore, Description: "Show safe application configuration", Handler: b.config},
		{Name: "history", Usage: "history [N]", Group: GroupCore, Description: "Show recent terminal commands", Handler: b.history},
		{Name: "logs", Usage: "logs [N]", Group: GroupLogs, Description: "Show recent logs (default 10; --source S, --level L)", Handler: b.logs},
		{Name: "sources", Group: GroupLogs, Description: "List log sources", Handler: b.sources},
		{Name: "http", Group: GroupRequests, Description: "HTTP test: http [--full|-f] METHOD /path [JSON]", Handler: b.http(false)},
		{Name: "httpfull", Group: GroupRequests, Description: "HTTP test (full body alias)", Handler: b.http(true)},
		{Name: "eval", Group: GroupEval, Description: "Evaluate an expression (enable terminal.allow_eval)", Handler: b.eval},
		{Name: "vars", Group: GroupEval, Description: "List evaluation variables", Handler: b.vars},
		{Name: "reset", Group: GroupEval, Description: "Clear evaluation variables", Handler: b.reset},
	}
	for _, cmd := range cmds {
		cmd.Builtin = true
		if err := e.RegisterCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (b *builtins) help(ctx context.Context, args []string) (any, error) {
	var custom []Command
	grouped := make(map[string][]Command)
	for _, cmd := range b.e.List() {
		if !cmd.Builtin {
			custom = append(custom, cmd)
			continue
		}
		grouped[cmd.Group] = append(grouped[cmd.Group], cmd)
	}

	lines := []string{"Console – Available Commands", ""}
	if len(custom) > 0 {
		lines = append(lines, "Custom:")
		for _, cmd := range custom {
			lines = append(lines, fmt.Sprintf("  %-12s %s", cmd.Usage, cmd.Description))
		}
		lines = append(lines, "")
	}
	for _, group := range []string{GroupCore, GroupLogs, GroupRequests, GroupEval} {
		if group == GroupEval && !b.svc.AllowEval {
			continue
		}
		cmds := grouped[group]
		if len(cmds) == 0 {
			continue
		}
		lines = append(lines, group+":")
		for _, cmd := range cmds {
			lines = append(lines, fmt.Sprintf("  %-12s %s", cmd.Usage, cmd.Description))
		}
		if ex := groupExamples[group]; len(ex) > 0 {
			lines = append(lines, "  Examples:")
			for _, x := range ex {
				lines = append(lines, "    "+x)
			}
		}
		lines = append(lines, "")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n"), nil
}

func (b *builtins) clear(ctx context.Context, args []string) (any, error) {
	return core.Result{Kind: core.KindClear}, nil
}

func (b *builtins) status(ctx context.Context, args []string) (any, error) {
	h := b.svc.Host
	if h == nil {
		return core.Warning("No host application attached"), nil
	}
	type row struct {
		key   string
		value any
	}
	rows := []row{
		{"Application", h.Name()},
		{"Uptime", time.Since(h.StartedAt()).Round(10 * time.Millisecond)},
		{"Routes", len(h.Routes())},
		{"Console Version", b.svc.Version},
		{"Debug Mode", h.Debug()},
		{"Extensions", "[" + strings.Join(h.Extensions(), ", ") + "]"},
		{"Goroutines", runtime.NumGoroutine()},
	}
	if b.svc.Monitor != nil {
		rows = append(rows, row{"Log Sources", len(b.svc.Monitor.Sources())})
	}

	var sb strings.Builder
	sb.WriteString("Application Status:\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "  %-20s: %v\n", r.key, r.value)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *builtins) routes(ctx context.Context, args []string) (any, error) {
	if b.svc.Host == nil {
		return core.Warning("No host application attached"), nil
	}
	routes := slices.Clone(b.svc.Host.Routes())
	sort.SliceStable(routes, func(i, j int) bool { return routes[i].Pattern < routes[j].Pattern })
	lines := []string{"Application Routes:"}
	for _, r := range routes {
		methods := slices.Clone(r.Methods)
		methods = slices.DeleteFunc(methods, func(m string) bool { return m == "HEAD" || m == "OPTIONS" })
		sort.Strings(methods)
		lines = append(lines, fmt.Sprintf("  %-10s %s", strings.Join(methods, ", "), r.Pattern))
	}
	return strings.Join(lines, "\n"), nil
}

// sensitiveMarkers flag setting names whose values are masked.
var sensitiveMarkers = []string{"SECRET", "PASSWORD", "TOKEN"}

// MaskValue hides the value of sensitive settings.
func MaskValue(key string, value any) string {
	s := fmt.Sprint(value)
	upper := strings.ToUpper(key)
	for _, m := range sensitiveMarkers {
		if strings.Contains(upper, m) {
			if value == nil || s == "" {
				return "Not set"
			}
			return strings.Repeat("*", len(s))
		}
	}
	return s
}

func (b *builtins) config(ctx context.Context, args []string) (any, error) {
	if b.svc.Host == nil {
		return core.Warning("No host application attached"), nil
	}
	settings := b.svc.Host.Settings()
	lines := []string{"Application Configuration:"}
	for _, key := range b.svc.SafeConfigKeys {
		value, ok := settings[key]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %-20s: %s", key, MaskValue(key, value)))
	}
	return strings.Join(lines, "\n"), nil
}

func (b *builtins) history(ctx context.Context, args []string) (any, error) {
	limit := 20
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			limit = n
		}
	}
	records := b.e.History(limit)
	lines := []string{"Recent Commands:"}
	for i := len(records) - 1; i >= 0; i-- {
		lines = append(lines, fmt.Sprintf("  %s > %s", records[i].Timestamp.Format(time.TimeOnly), records[i].Command))
	}
	return strings.Join(lines, "\n"), nil
}

// maxLogMessage is the number of characters of each entry the logs command shows.
const maxLogMessage = 100

func (b *builtins) logs(ctx context.Context, args []string) (any, error) {
	if b.svc.Monitor == nil {
		return core.Errorf("Log monitor not available"), nil
	}
	limit, source, level := 10, b.svc.DefaultSource, ""
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case (a == "--source" || a == "-s") && i+1 < len(args):
			i++
			source = args[i]
		case (a == "--level" || a == "-l") && i+1 < len(args):
			i++
			level = args[i]
		case strings.HasPrefix(a, "--source="):
			source = strings.TrimPrefix(a, "--source=")
		case strings.HasPrefix(a, "--level="):
			level = strings.TrimPrefix(a, "--level=")
		default:
			n, err := strconv.Atoi(a)
			if err != nil || n <= 0 {
				return core.Warning("Usage: logs [N] [--source S] [--level L]"), nil
			}
			limit = n
		}
	}

	entries := b.svc.Monitor.Entries(source, limit, level)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent %d log entries:", len(entries))
	for _, e := range entries {
		msg := e.Message
		if r := []rune(msg); len(r) > maxLogMessage {
			msg = string(r[:maxLogMessage])
		}
		fmt.Fprintf(&sb, "\n  %s [%s] %s", e.Timestamp.Format(time.TimeOnly), e.Level, msg)
	}
	return sb.String(), nil
}

func (b *builtins) sources(ctx context.Context, args []string) (any, error) {
	if b.svc.Monitor == nil {
		return core.Errorf("Log monitor not available"), nil
	}
	files := b.svc.Monitor.FileSources()
	lines := []string{"Log Sources:"}
	for _, name := range b.svc.Monitor.Sources() {
		line := fmt.Sprintf("  %-16s %5d entries", name, b.svc.Monitor.Len(name))
		if path, ok := files[name]; ok {
			line += "  " + path
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (b *builtins) http(full bool) Handler {
	usage := "Usage: http [--full|-f] <METHOD> <PATH> [JSON]"
	if full {
		usage = "Usage: httpfull <METHOD> <PATH> [JSON]"
	}
	return func(ctx context.Context, args []string) (any, error) {
		if b.svc.Invoker == nil {
			return core.Errorf("HTTP invoker not available"), nil
		}
		raw, ok := RawArgs(ctx)
		if !ok {
			raw = strings.Join(args, " ")
		}

		showFull := full
		var words []string
		rest := raw
		for len(words) < 2 {
			var w string
			w, rest = cutWord(rest)
			if w == "" {
				break
			}
			if w == "--full" || w == "-f" {
				showFull = true
				continue
			}
			words = append(words, w)
		}
		if len(words) < 2 {
			return core.Warning(usage), nil
		}
		method, err := invoke.ParseMethod(words[0])
		if err != nil {
			return core.Errorf("Unsupported method: %s", strings.ToUpper(words[0])), nil
		}

		resp, err := b.svc.Invoker.Do(ctx, invoke.Request{Method: method, Target: words[1], Body: rest})
		if err != nil {
			if errors.Is(err, invoke.ErrInvalidBody) {
				return core.Errorf("Invalid JSON: %s", rest), nil
			}
			return core.Errorf("HTTP error: %v", err), nil
		}
		return resp.Render(showFull, b.svc.Invoker.PreviewLimit()), nil
	}
}

// cutWord splits the first whitespace-delimited word off s.
func cutWord(s string) (word, rest string) {
	s = strings.TrimLeft(s, " \t\n")
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func (b *builtins) evalDisabled() core.Result {
	return core.Warning("Eval disabled. Set terminal.allow_eval: true in devconsole.yaml (or DEVCONSOLE_ALLOW_EVAL=1) to use.")
}

func (b *builtins) eval(ctx context.Context, args []string) (any, error) {
	if !b.svc.AllowEval || b.svc.Evaluator == nil {
		return b.evalDisabled(), nil
	}
	src, ok := RawArgs(ctx)
	if !ok {
		src = strings.Join(args, " ")
	}
	if strings.TrimSpace(src) == "" {
		return core.Warning("Usage: eval <expression>"), nil
	}
	out, err := b.svc.Evaluator.Evaluate(ctx, src)
	if err != nil {
		return core.Errorf("Eval error: %v", err), nil
	}
	return out, nil
}

func (b *builtins) vars(ctx context.Context, args []string) (any, error) {
	if !b.svc.AllowEval || b.svc.Evaluator == nil {
		return b.evalDisabled(), nil
	}
	vars := b.svc.Evaluator.Context()
	names := vars.Keys()
	if len(names) == 0 {
		return "No variables defined.", nil
	}
	lines := make([]string, 0, len(names))
	for _, name := range names {
		if v, ok := vars.Get(name); ok {
			lines = append(lines, fmt.Sprintf("  %s = %s", name, sandbox.Repr(v)))
		}
	}
	return "Variables:\n" + strings.Join(lines, "\n"), nil
}

func (b *builtins) reset(ctx context.Context, args []string) (any, error) {
	if !b.svc.AllowEval || b.svc.Evaluator == nil {
		return b.evalDisabled(), nil
	}
	vars := b.svc.Evaluator.Context()
	n := vars.Len()
	vars.Clear()
	return fmt.Sprintf("Cleared %d variables.", n), nil
}
