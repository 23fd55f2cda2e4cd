// Package terminal dispatches console command lines to registered handlers
// and records what was run.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/modoterra/devconsole/pkg/core"
)

// DefaultTimeout bounds a single command when none is configured.
const DefaultTimeout = 30 * time.Second

// maxMacroDepth bounds macros expanding into other macros.
const maxMacroDepth = 8

var (
	// ErrInvalidName is returned when registering a command without a usable name.
	ErrInvalidName = errors.New("invalid command name")
	// ErrUnknownCommand is wrapped by lookups of unregistered commands.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrTimeout is wrapped when a handler exceeds its time budget.
	ErrTimeout = errors.New("command timed out")
)

// Handler runs one command. args excludes the command name. The returned
// value is normalized into a core.Result; a non-nil error becomes an error
// result carrying its message.
type Handler func(ctx context.Context, args []string) (any, error)

// Command is a registry entry.
type Command struct {
	Name        string
	Description string
	// Usage is the synopsis shown by help, e.g. "logs [N]".
	Usage string
	// Group places built-in commands under a help section.
	Group   string
	Builtin bool
	Handler Handler
}

// Options configures an Engine.
type Options struct {
	HistorySize int
	// Timeout is the wall-clock budget of each command.
	Timeout time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Engine owns the command registry and history and executes command lines.
// All methods are safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	commands map[string]Command

	history *History
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an engine with an empty registry.
func New(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		commands: make(map[string]Command),
		history:  NewHistory(opts.HistorySize),
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Timeout returns the per-command budget.
func (e *Engine) Timeout() time.Duration { return e.timeout }

// Register adds or replaces a custom command.
func (e *Engine) Register(name string, h Handler, description string) error {
	return e.RegisterCommand(Command{Name: name, Handler: h, Description: description})
}

// RegisterCommand adds or replaces a command. Names are unique; a later
// registration overwrites an earlier one.
func (e *Engine) RegisterCommand(cmd Command) error {
	if cmd.Name == "" || strings.ContainsAny(cmd.Name, " \t\r\n\"'") {
		return fmt.Errorf("%w: %q", ErrInvalidName, cmd.Name)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("register %s: nil handler", cmd.Name)
	}
	if cmd.Description == "" {
		cmd.Description = "No description"
	}
	if cmd.Usage == "" {
		cmd.Usage = cmd.Name
	}
	e.mu.Lock()
	e.commands[cmd.Name] = cmd
	e.mu.Unlock()
	return nil
}

// RegisterMacro adds a custom command that runs line, followed by any
// arguments given to the macro.
func (e *Engine) RegisterMacro(name, line string) error {
	if _, err := shellquote.Split(line); err != nil {
		return fmt.Errorf("macro %s: %w", name, err)
	}
	return e.RegisterCommand(Command{
		Name:        name,
		Description: "Runs: " + line,
		Handler: func(ctx context.Context, args []string) (any, error) {
			depth, _ := ctx.Value(macroDepthKey{}).(int)
			if depth >= maxMacroDepth {
				return nil, fmt.Errorf("macro %s: expansion too deep", name)
			}
			ctx = context.WithValue(ctx, macroDepthKey{}, depth+1)
			expanded := line
			if len(args) > 0 {
				expanded += " " + shellquote.Join(args...)
			}
			return e.dispatch(ctx, expanded), nil
		},
	})
}

// Unregister removes a command and reports whether it existed.
func (e *Engine) Unregister(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.commands[name]
	delete(e.commands, name)
	return ok
}

// Lookup returns the command registered under name.
func (e *Engine) Lookup(name string) (Command, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cmd, ok := e.commands[name]
	return cmd, ok
}

// Commands returns the name → description map of every command.
func (e *Engine) Commands() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.commands))
	for name, cmd := range e.commands {
		out[name] = cmd.Description
	}
	return out
}

// List returns every command sorted by name.
func (e *Engine) List() []Command {
	e.mu.RLock()
	out := make([]Command, 0, len(e.commands))
	for _, cmd := range e.commands {
		out = append(out, cmd)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns up to limit past invocations, newest first.
func (e *Engine) History(limit int) []core.HistoryRecord {
	return e.history.Recent(limit)
}

// ClearHistory drops all recorded invocations.
func (e *Engine) ClearHistory() {
	e.history.Clear()
}

// Execute runs one command line on behalf of a submitter and always returns
// a Result. Blank lines are ignored; every other line is recorded in the
// history before it is parsed.
func (e *Engine) Execute(ctx context.Context, line string, submitter map[string]any) core.Result {
	if strings.TrimSpace(line) == "" {
		return core.Result{Kind: core.KindEmpty, Command: line, Timestamp: e.now()}
	}
	e.history.Add(core.HistoryRecord{Command: line, Timestamp: e.now(), Context: submitter})
	return e.dispatch(withSubmitter(ctx, submitter), line)
}

func (e *Engine) dispatch(ctx context.Context, line string) core.Result {
	res := e.run(ctx, line)
	res.Command = line
	res.Timestamp = e.now()
	return res
}

func (e *Engine) run(ctx context.Context, line string) core.Result {
	tokens, err := shellquote.Split(line)
	if err != nil {
		return core.Errorf("Command parsing error: %v", err)
	}
	if len(tokens) == 0 {
		return core.Result{Kind: core.KindEmpty}
	}

	name, args := tokens[0], tokens[1:]
	cmd, ok := e.Lookup(name)
	if !ok {
		return core.Errorf("Command '%s' not found. Type 'help' for available commands.", name)
	}

	ctx = context.WithValue(ctx, rawArgsKey{}, rawArgs(line, name, args))
	return e.invoke(ctx, cmd, args)
}

type outcome struct {
	value any
	err   error
	panic any
	stack []byte
}

// invoke runs the handler on its own goroutine under the engine timeout and
// converts panics, errors and timeouts into error results.
func (e *Engine) invoke(ctx context.Context, cmd Command, args []string) core.Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o.panic, o.stack = r, debug.Stack()
			}
			done <- o
		}()
		o.value, o.err = cmd.Handler(ctx, args)
	}()

	select {
	case o := <-done:
		switch {
		case o.panic != nil:
			e.logger.Error("command panicked", "command", cmd.Name, "err", fmt.Sprint(o.panic), "stack", string(o.stack))
			return core.Errorf("Command execution error: %v", o.panic)
		case o.err != nil:
			return core.Errorf("%v", o.err)
		}
		return Normalize(o.value)
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("command timed out", "command", cmd.Name, "timeout", e.timeout)
			return core.Errorf("%v: %s exceeded %s", ErrTimeout, cmd.Name, e.timeout)
		}
		return core.Errorf("Command cancelled: %v", err)
	}
}

// rawArgs recovers the unparsed argument text following the command name.
// Handlers that take free-form input use it so quoting is left intact.
func rawArgs(line, name string, args []string) string {
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, name) {
		rest := trimmed[len(name):]
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			return strings.TrimSpace(rest)
		}
	}
	return strings.Join(args, " ")
}

type (
	rawArgsKey    struct{}
	submitterKey  struct{}
	macroDepthKey struct{}
)

// RawArgs returns the unparsed argument text of the running command.
func RawArgs(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(rawArgsKey{}).(string)
	return s, ok
}

func withSubmitter(ctx context.Context, submitter map[string]any) context.Context {
	if submitter == nil {
		return ctx
	}
	return context.WithValue(ctx, submitterKey{}, submitter)
}

// Submitter returns the context supplied with the running command line.
func Submitter(ctx context.Context) map[string]any {
	s, _ := ctx.Value(submitterKey{}).(map[string]any)
	return s
}
