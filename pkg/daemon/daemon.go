// Package daemon serves a console runtime over a Unix domain socket,
// supervises child processes and pushes live log lines to subscribers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/modoterra/devconsole/pkg/console"
	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/logs"
	"github.com/modoterra/devconsole/pkg/transport/uds"
)

// Options configures a Daemon.
type Options struct {
	Console *console.Console
	Socket  string
	Version string
	// Supervisor is optional; without it process methods report an error.
	Supervisor *Supervisor
	Logger     *slog.Logger
}

// Daemon is the devconsoled request layer over one Console.
type Daemon struct {
	server     *uds.Server
	console    *console.Console
	supervisor *Supervisor
	version    string
	logger     *slog.Logger

	subMu sync.RWMutex
	// subs maps a connection to its source filter; nil means every source.
	subs map[string][]string

	pumpWG sync.WaitGroup
}

// New creates a new daemon instance.
func New(opts Options) (*Daemon, error) {
	if opts.Console == nil {
		return nil, errors.New("daemon: console is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Daemon{
		server:     uds.NewServer(opts.Socket, opts.Logger),
		console:    opts.Console,
		supervisor: opts.Supervisor,
		version:    opts.Version,
		logger:     opts.Logger,
		subs:       make(map[string][]string),
	}
	d.server.OnDisconnect(d.unsubscribe)
	d.registerHandlers()
	return d, nil
}

// Console returns the served console.
func (d *Daemon) Console() *console.Console { return d.console }

// Server returns the underlying UDS server (for broadcasting events).
func (d *Daemon) Server() *uds.Server { return d.server }

// Run pushes live log lines to subscribers and serves requests until ctx
// is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	entries, cancel := d.console.Subscribe()
	d.pumpWG.Add(1)
	go func() {
		defer d.pumpWG.Done()
		d.pump(ctx, entries)
	}()
	defer func() {
		cancel()
		d.pumpWG.Wait()
	}()
	return d.server.Start(ctx)
}

// Shutdown closes the listener and every client connection.
func (d *Daemon) Shutdown() {
	d.server.Shutdown()
}

func (d *Daemon) pump(ctx context.Context, entries <-chan core.LogEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			d.deliver(e)
		}
	}
}

func (d *Daemon) deliver(e core.LogEntry) {
	d.subMu.RLock()
	var targets []string
	for id, sources := range d.subs {
		if sources == nil || slices.Contains(sources, e.Source) {
			targets = append(targets, id)
		}
	}
	d.subMu.RUnlock()
	if len(targets) == 0 {
		return
	}

	evt, err := uds.NewEvent(uds.EventLogsLine, e)
	if err != nil {
		d.logger.Error("encode log line", "err", err)
		return
	}
	for _, id := range targets {
		if err := d.server.Send(id, evt); err != nil {
			d.logger.Debug("push log line", "conn", id, "err", err)
		}
	}
}

func (d *Daemon) hasLogSubscribers() bool {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	return len(d.subs) > 0
}

func (d *Daemon) unsubscribe(connID string) {
	d.subMu.Lock()
	delete(d.subs, connID)
	d.subMu.Unlock()
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodExecute, d.handleExecute)
	d.server.Handle(uds.MethodCommands, d.handleCommands)
	d.server.Handle(uds.MethodHistory, d.handleHistory)
	d.server.Handle(uds.MethodLogs, d.handleLogs)
	d.server.Handle(uds.MethodSources, d.handleSources)
	d.server.Handle(uds.MethodLogsClear, d.handleClear)
	d.server.Handle(uds.MethodLogsSubscribe, d.handleSubscribe)
	d.server.Handle(uds.MethodLogsUnsubscribe, d.handleUnsubscribe)
	d.server.Handle(uds.MethodAliasSet, d.handleAlias)
	d.server.Handle(uds.MethodProcesses, d.handleProcesses)
	d.server.Handle(uds.MethodProcessAction, d.handleProcessAction)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{
		Pong:    true,
		ID:      d.console.ID(),
		Version: d.version,
		Uptime:  d.console.Uptime(),
	}, nil
}

func (d *Daemon) handleExecute(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.ExecuteRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	submitter := req.Context
	if submitter == nil {
		submitter = map[string]any{}
	}
	submitter["conn"] = uds.ConnID(ctx)
	return d.console.Execute(ctx, req.Line, submitter), nil
}

func (d *Daemon) handleCommands(_ context.Context, _ uds.Message) (any, error) {
	return uds.CommandsResponse{Commands: d.console.Commands()}, nil
}

func (d *Daemon) handleHistory(_ context.Context, msg uds.Message) (any, error) {
	var req uds.HistoryRequest
	if err := msg.UnmarshalData(&req); err != nil && !errors.Is(err, uds.ErrNoData) {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return uds.HistoryResponse{Records: d.console.History(req.Limit)}, nil
}

func (d *Daemon) handleLogs(_ context.Context, msg uds.Message) (any, error) {
	var req uds.LogsRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Source == "" {
		return nil, errors.New("source is required")
	}
	entries, err := d.console.Query(req.Source, logs.Query{
		Limit: req.Limit,
		Level: req.Level,
		Since: req.Since,
		Where: req.Where,
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []core.LogEntry{}
	}
	return uds.LogsResponse{Source: req.Source, Entries: entries}, nil
}

func (d *Daemon) handleSources(_ context.Context, _ uds.Message) (any, error) {
	mon := d.console.Monitor()
	paths := mon.FileSources()
	names := d.console.Sources()
	out := make([]uds.SourceInfo, len(names))
	for i, name := range names {
		out[i] = uds.SourceInfo{Name: name, Entries: mon.Len(name), Path: paths[name]}
	}
	return uds.SourcesResponse{Sources: out}, nil
}

func (d *Daemon) handleClear(_ context.Context, msg uds.Message) (any, error) {
	var req uds.ClearRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := d.console.ClearLogs(req.Source); err != nil {
		return nil, err
	}
	return uds.OKResponse{OK: true}, nil
}

func (d *Daemon) handleSubscribe(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.SubscribeRequest
	if err := msg.UnmarshalData(&req); err != nil && !errors.Is(err, uds.ErrNoData) {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	id := uds.ConnID(ctx)
	var sources []string
	if len(req.Sources) > 0 {
		sources = slices.Clone(req.Sources)
	}
	d.subMu.Lock()
	d.subs[id] = sources
	d.subMu.Unlock()
	d.logger.Debug("log subscription", "conn", id, "sources", sources)
	return uds.OKResponse{OK: true}, nil
}

func (d *Daemon) handleUnsubscribe(ctx context.Context, _ uds.Message) (any, error) {
	d.unsubscribe(uds.ConnID(ctx))
	return uds.OKResponse{OK: true}, nil
}

func (d *Daemon) handleAlias(_ context.Context, msg uds.Message) (any, error) {
	var req uds.AliasRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Prefix == "" || req.Alias == "" {
		return nil, errors.New("prefix and alias are required")
	}
	d.console.SetAlias(req.Prefix, req.Alias)
	return uds.OKResponse{OK: true}, nil
}

func (d *Daemon) handleProcesses(_ context.Context, _ uds.Message) (any, error) {
	if d.supervisor == nil {
		return uds.ProcessesResponse{Processes: []uds.ProcessInfo{}}, nil
	}
	return uds.ProcessesResponse{Processes: d.supervisor.List()}, nil
}

func (d *Daemon) handleProcessAction(_ context.Context, msg uds.Message) (any, error) {
	var req uds.ProcessActionRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if d.supervisor == nil {
		return nil, errors.New("no processes are supervised")
	}
	var err error
	switch req.Action {
	case "start":
		err = d.supervisor.Start(req.Name)
	case "stop":
		err = d.supervisor.Stop(req.Name)
	case "restart":
		err = d.supervisor.Restart(req.Name)
	default:
		return nil, fmt.Errorf("unsupported action %q", req.Action)
	}
	if err != nil {
		return nil, err
	}
	d.logger.Info("process action", "name", req.Name, "action", req.Action)
	info, _ := d.supervisor.Info(req.Name)
	return info, nil
}
