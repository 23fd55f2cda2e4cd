package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/modoterra/devconsole/pkg/config"
	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/transport/uds"
)

// ExecChannelPrefix prefixes the log channel of every supervised process.
const ExecChannelPrefix = "exec."

// stopGrace is how long a stopped process may take to exit after SIGTERM.
const stopGrace = 10 * time.Second

// Sink receives captured output lines. It matches console.Console.Emit.
type Sink func(channel, level, message string)

// process tracks one supervised child.
type process struct {
	name    string
	command string
	dir     string
	env     map[string]string
	restart string

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	status    string
	pid       int
	startedAt time.Time
	failures  int
	stopping  bool
	// gen invalidates pending restarts whenever the process is started or
	// stopped by hand.
	gen int
}

// Supervisor runs configured child processes and feeds their stdout and
// stderr into a Sink on channel "exec.<name>".
type Supervisor struct {
	sink   Sink
	logger *slog.Logger

	mu        sync.RWMutex
	processes map[string]*process

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(ctx context.Context, sink Sink, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = func(string, string, string) {}
	}
	sctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		sink:      sink,
		logger:    logger,
		processes: make(map[string]*process),
		ctx:       sctx,
		cancel:    cancel,
	}
}

// Channel returns the log channel of the named process.
func Channel(name string) string { return ExecChannelPrefix + name }

// Register adds a process to be supervised but doesn't start it yet.
// Registering an existing name stops the old process first.
func (s *Supervisor) Register(name string, x config.Exec) error {
	if _, err := shellquote.Split(x.Command); err != nil {
		return fmt.Errorf("process %s: %w", name, err)
	}
	restart := x.Restart
	if restart == "" {
		restart = config.RestartOnFailure
	}
	s.mu.Lock()
	old := s.processes[name]
	s.processes[name] = &process{
		name:    name,
		command: x.Command,
		dir:     x.Dir,
		env:     x.Env,
		restart: restart,
		status:  uds.StatusStopped,
	}
	s.mu.Unlock()
	if old != nil {
		s.stopProcess(old)
	}
	return nil
}

// Unregister stops and forgets a process.
func (s *Supervisor) Unregister(name string) {
	s.mu.Lock()
	p, ok := s.processes[name]
	delete(s.processes, name)
	s.mu.Unlock()
	if ok {
		s.stopProcess(p)
	}
}

func (s *Supervisor) lookup(name string) (*process, error) {
	s.mu.RLock()
	p, ok := s.processes[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown process: %s", name)
	}
	return p, nil
}

// Start starts a registered process.
func (s *Supervisor) Start(name string) error {
	p, err := s.lookup(name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.status == uds.StatusRunning {
		p.mu.Unlock()
		return nil
	}
	p.stopping = false
	p.failures = 0
	p.gen++
	p.mu.Unlock()
	return s.spawn(p)
}

// Stop stops a running process without restarting it.
func (s *Supervisor) Stop(name string) error {
	p, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.stopProcess(p)
	return nil
}

// Restart stops and restarts a process.
func (s *Supervisor) Restart(name string) error {
	if err := s.Stop(name); err != nil {
		return err
	}
	return s.Start(name)
}

// StartAll starts all registered processes.
func (s *Supervisor) StartAll() {
	for _, name := range s.Names() {
		if err := s.Start(name); err != nil {
			s.logger.Error("start process", "name", name, "err", err)
		}
	}
}

// StopAll terminates every process and waits for the supervision
// goroutines to exit.
func (s *Supervisor) StopAll() {
	s.mu.RLock()
	procs := make([]*process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.stopProcess(p)
		}()
	}
	wg.Wait()
	s.cancel()
	s.wg.Wait()
}

// Names returns the registered process names, sorted.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.processes))
	for name := range s.processes {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// List reports the state of every process, sorted by name.
func (s *Supervisor) List() []uds.ProcessInfo {
	names := s.Names()
	out := make([]uds.ProcessInfo, 0, len(names))
	for _, name := range names {
		if info, ok := s.Info(name); ok {
			out = append(out, info)
		}
	}
	return out
}

// Info reports the state of one process.
func (s *Supervisor) Info(name string) (uds.ProcessInfo, bool) {
	p, err := s.lookup(name)
	if err != nil {
		return uds.ProcessInfo{Name: name, Status: uds.StatusUnknown}, false
	}
	p.mu.Lock()
	info := uds.ProcessInfo{
		Name:      p.name,
		Command:   p.command,
		Status:    p.status,
		PID:       p.pid,
		StartedAt: p.startedAt,
		Restarts:  p.failures,
	}
	p.mu.Unlock()
	info.MemBytes = rssBytes(info.PID)
	return info, true
}

func (s *Supervisor) spawn(p *process) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("supervisor stopped")
	}
	parts, err := shellquote.Split(p.command)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("empty command")
	}

	ctx, cancel := context.WithCancel(s.ctx)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = p.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) }

	cmd.Env = os.Environ()
	for k, v := range p.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		p.mu.Lock()
		p.status = uds.StatusFailed
		p.mu.Unlock()
		s.sink(Channel(p.name), string(core.LevelError), fmt.Sprintf("failed to start: %v", err))
		return fmt.Errorf("start %q: %w", p.command, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.cancel = cancel
	p.pid = cmd.Process.Pid
	p.status = uds.StatusRunning
	p.startedAt = time.Now()
	p.mu.Unlock()

	s.logger.Info("process started", "name", p.name, "pid", cmd.Process.Pid, "command", p.command)
	s.sink(Channel(p.name), string(core.LevelInfo), fmt.Sprintf("started pid %d: %s", cmd.Process.Pid, p.command))

	var pipes sync.WaitGroup
	for _, r := range []struct {
		pipe   io.Reader
		stream string
	}{{stdoutPipe, "stdout"}, {stderrPipe, "stderr"}} {
		pipes.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer pipes.Done()
			err := forwardLines(r.pipe, func(line string) {
				s.sink(Channel(p.name), string(core.ExtractLevel(line)), line)
			})
			if err != nil {
				s.logger.Debug("output stream ended", "name", p.name, "stream", r.stream, "err", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pipes.Wait()
		s.waitAndRestart(p, cmd, cancel)
	}()
	return nil
}

func (s *Supervisor) waitAndRestart(p *process, cmd *exec.Cmd, cancel context.CancelFunc) {
	err := cmd.Wait()
	cancel()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	p.mu.Lock()
	p.pid = 0
	p.cmd = nil
	if p.stopping || s.ctx.Err() != nil {
		p.status = uds.StatusStopped
		p.mu.Unlock()
		s.sink(Channel(p.name), string(core.LevelInfo), "stopped")
		return
	}
	if exitCode == 0 {
		p.status = uds.StatusStopped
	} else {
		p.status = uds.StatusFailed
	}
	p.failures++
	failures := p.failures
	restart := p.restart
	p.mu.Unlock()

	s.logger.Info("process exited", "name", p.name, "exit_code", exitCode, "err", err)
	level := core.LevelInfo
	if exitCode != 0 {
		level = core.LevelError
	}
	s.sink(Channel(p.name), string(level), fmt.Sprintf("exited with code %d", exitCode))

	if !shouldRestart(restart, exitCode) {
		return
	}
	delay := backoff(failures)
	s.logger.Info("restarting process", "name", p.name, "delay", delay, "attempt", failures)

	p.mu.Lock()
	p.status = uds.StatusRestarting
	gen := p.gen
	p.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		p.mu.Lock()
		stale := p.stopping || p.gen != gen
		p.mu.Unlock()
		if stale {
			return
		}
		if err := s.spawn(p); err != nil {
			s.logger.Error("restart failed", "name", p.name, "err", err)
		}
	case <-s.ctx.Done():
	}
}

func shouldRestart(policy string, exitCode int) bool {
	switch policy {
	case config.RestartAlways:
		return true
	case config.RestartOnFailure:
		return exitCode != 0
	}
	return false
}

// stopProcess terminates the process group with SIGTERM, escalating to
// SIGKILL after stopGrace.
func (s *Supervisor) stopProcess(p *process) {
	p.mu.Lock()
	p.stopping = true
	p.gen++
	cmd := p.cmd
	if p.status == uds.StatusRestarting || p.status == uds.StatusFailed {
		p.status = uds.StatusStopped
	}
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		exited := p.cmd != cmd
		p.mu.Unlock()
		if exited {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// backoff returns exponential backoff delay: 1s, 2s, 4s, 8s, 16s, 30s max.
func backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 6 {
		return 30 * time.Second
	}
	d := time.Duration(1<<uint(failures-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
