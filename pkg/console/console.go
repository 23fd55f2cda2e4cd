// Package console assembles the log monitor, the command engine and their
// collaborators into one runtime owned by the host application.
package console

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modoterra/devconsole/pkg/config"
	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/invoke"
	"github.com/modoterra/devconsole/pkg/logs"
	"github.com/modoterra/devconsole/pkg/sandbox"
	"github.com/modoterra/devconsole/pkg/terminal"
)

// ErrDisabled is returned by operations turned off in the configuration.
var ErrDisabled = errors.New("disabled by configuration")

// Options configures a Console.
type Options struct {
	// Config supplies capacities, sources, aliases and feature gates; nil
	// means config.Default().
	Config *config.Config
	// Host is the application the console introspects. It may be nil.
	Host core.Host
	// Logger receives the console's own failures. It is never attached to
	// the console itself.
	Logger *slog.Logger
	// Version is reported by the status command.
	Version string
	// Client performs HTTP requests to non-self targets.
	Client *http.Client
}

// Console is one diagnostic console instance. It is constructed at host
// startup and closed at shutdown; instances share no state.
type Console struct {
	id      string
	cfg     *config.Config
	host    core.Host
	logger  *slog.Logger
	started time.Time

	monitor   *logs.Monitor
	vars      *sandbox.Context
	evaluator *sandbox.Evaluator
	invoker   *invoke.Invoker
	engine    *terminal.Engine

	closeOnce sync.Once
}

// New builds a console from opts.
func New(opts Options) (*Console, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	c := &Console{
		id:      uuid.NewString(),
		cfg:     cfg,
		host:    opts.Host,
		logger:  logger,
		started: time.Now(),
	}

	c.monitor = logs.NewMonitor(logs.Options{
		MaxEntries: cfg.Logs.MaxEntries,
		Aliases:    cfg.Logs.Aliases,
		Logger:     logger.With("component", "logs"),
	})
	for _, src := range cfg.Logs.Sources {
		if src.Path != "" {
			c.monitor.AddSource(src.Name, src.Path)
		} else {
			c.monitor.DeclareSource(src.Name)
		}
	}
	for _, channel := range cfg.Logs.Capture {
		c.monitor.Attach(channel, "")
	}

	c.vars = sandbox.NewContext()
	ev, err := sandbox.New(c.vars, sandbox.Options{
		CostLimit: cfg.Terminal.EvalCostLimit,
		App:       c.appInfo(),
	})
	if err != nil {
		c.monitor.Close()
		return nil, fmt.Errorf("create evaluator: %w", err)
	}
	c.evaluator = ev

	var handler http.Handler
	if opts.Host != nil {
		handler = opts.Host.Handler()
	}
	c.invoker = invoke.New(invoke.Options{
		Handler:      handler,
		SelfHosts:    selfHosts(cfg),
		Client:       opts.Client,
		Timeout:      cfg.HTTP.Timeout,
		PreviewLimit: cfg.HTTP.PreviewLimit,
	})

	c.engine = terminal.New(terminal.Options{
		HistorySize: cfg.Terminal.HistorySize,
		Timeout:     cfg.Terminal.Timeout,
		Logger:      logger.With("component", "terminal"),
	})
	err = c.engine.RegisterBuiltins(terminal.Services{
		Monitor:        c.monitor,
		Evaluator:      c.evaluator,
		AllowEval:      cfg.Terminal.AllowEval,
		Invoker:        c.invoker,
		Host:           opts.Host,
		SafeConfigKeys: cfg.SafeConfigKeys,
		Version:        opts.Version,
	})
	if err != nil {
		c.monitor.Close()
		return nil, fmt.Errorf("register builtins: %w", err)
	}
	for name, line := range cfg.Terminal.Commands {
		if err := c.engine.RegisterMacro(name, line); err != nil {
			c.monitor.Close()
			return nil, fmt.Errorf("register command %s: %w", name, err)
		}
	}

	logger.Debug("console ready", "id", c.id, "sources", len(cfg.Logs.Sources), "eval", cfg.Terminal.AllowEval)
	return c, nil
}

// selfHosts adds the daemon listen address to the configured self hosts.
func selfHosts(cfg *config.Config) []string {
	hosts := append([]string(nil), cfg.HTTP.SelfHosts...)
	if cfg.Daemon.Listen != "" {
		hosts = append(hosts, cfg.Daemon.Listen)
	}
	return hosts
}

// appInfo is the read-only view of the host exposed to scripts as "app".
func (c *Console) appInfo() map[string]any {
	info := map[string]any{"name": c.cfg.Name}
	if c.host == nil {
		return info
	}
	info["name"] = c.host.Name()
	info["debug"] = c.host.Debug()
	info["extensions"] = c.host.Extensions()
	var routes []any
	for _, r := range c.host.Routes() {
		methods := make([]any, len(r.Methods))
		for i, m := range r.Methods {
			methods[i] = m
		}
		routes = append(routes, map[string]any{"pattern": r.Pattern, "methods": methods})
	}
	info["routes"] = routes
	settings := make(map[string]any)
	hs := c.host.Settings()
	for _, key := range c.cfg.SafeConfigKeys {
		if v, ok := hs[key]; ok {
			settings[key] = terminal.MaskValue(key, v)
		}
	}
	info["settings"] = settings
	return info
}

// ID identifies this instance.
func (c *Console) ID() string { return c.id }

// Config returns the configuration the console was built from.
func (c *Console) Config() *config.Config { return c.cfg }

// Monitor exposes the log subsystem.
func (c *Console) Monitor() *logs.Monitor { return c.monitor }

// Engine exposes the command subsystem.
func (c *Console) Engine() *terminal.Engine { return c.engine }

// Host returns the attached host application, if any.
func (c *Console) Host() core.Host { return c.host }

// Uptime reports how long the console has existed.
func (c *Console) Uptime() time.Duration { return time.Since(c.started) }
