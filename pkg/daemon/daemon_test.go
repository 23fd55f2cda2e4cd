package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/devconsole/pkg/config"
	"github.com/modoterra/devconsole/pkg/console"
	"github.com/modoterra/devconsole/pkg/core"
	"github.com/modoterra/devconsole/pkg/terminal"
	"github.com/modoterra/devconsole/pkg/transport/uds"
)

type testEnv struct {
	daemon  *Daemon
	console *console.Console
	client  *uds.Client
	sock    string
}

func startDaemon(t *testing.T, mutate func(*config.Config), sup *Supervisor) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Name = "shop"
	if mutate != nil {
		mutate(cfg)
	}
	c, err := console.New(console.Options{Config: cfg, Logger: discardLogger(), Version: "test"})
	require.NoError(t, err)

	sock := filepath.Join(t.TempDir(), "d.sock")
	d, err := New(Options{Console: c, Socket: sock, Version: "test", Supervisor: sup, Logger: discardLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	client, err := uds.Dial(sock)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		cancel()
		<-errCh
		d.Shutdown()
		c.Close()
	})
	return &testEnv{daemon: d, console: c, client: client, sock: sock}
}

func reqCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRequiresConsole(t *testing.T) {
	_, err := New(Options{Socket: "/tmp/x.sock"})
	assert.Error(t, err)
}

func TestDaemonPing(t *testing.T) {
	env := startDaemon(t, nil, nil)
	pong, err := env.client.Ping(reqCtx(t))
	require.NoError(t, err)
	assert.True(t, pong.Pong)
	assert.Equal(t, env.console.ID(), pong.ID)
	assert.Equal(t, "test", pong.Version)
}

func TestDaemonExecute(t *testing.T) {
	env := startDaemon(t, nil, nil)
	require.NoError(t, env.console.Register("whoami", func(ctx context.Context, args []string) (any, error) {
		sub := terminal.Submitter(ctx)
		return "user=" + sub["user"].(string) + " conn=" + sub["conn"].(string), nil
	}, "Shows the submitter"))

	res, err := env.client.Execute(reqCtx(t), "whoami", map[string]any{"user": "neo"})
	require.NoError(t, err)
	assert.Equal(t, core.KindText, res.Kind)
	assert.Contains(t, res.Output, "user=neo conn=conn-")

	res, err = env.client.Execute(reqCtx(t), "nope", nil)
	require.NoError(t, err)
	assert.Equal(t, core.KindError, res.Kind)

	records, err := env.client.History(reqCtx(t), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "nope", records[0].Command)
	assert.Equal(t, "neo", records[1].Context["user"])

	cmds, err := env.client.Commands(reqCtx(t))
	require.NoError(t, err)
	var found bool
	for _, c := range cmds {
		if c.Name == "whoami" {
			found = true
			assert.False(t, c.Builtin)
			assert.Equal(t, "Shows the submitter", c.Description)
		}
	}
	assert.True(t, found)
}

func TestDaemonLogsAndSources(t *testing.T) {
	env := startDaemon(t, nil, nil)
	env.console.Emit("app", "ERROR", "boom")
	env.console.Emit("app", "INFO", "fine")

	entries, err := env.client.Logs(reqCtx(t), uds.LogsRequest{Source: "app", Level: "ERROR"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Message)

	entries, err = env.client.Logs(reqCtx(t), uds.LogsRequest{Source: "app", Where: `message.contains("fi")`})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fine", entries[0].Message)

	_, err = env.client.Logs(reqCtx(t), uds.LogsRequest{})
	assert.ErrorContains(t, err, "source is required")

	sources, err := env.client.Sources(reqCtx(t))
	require.NoError(t, err)
	require.NotEmpty(t, sources)
	var app uds.SourceInfo
	for _, s := range sources {
		if s.Name == "app" {
			app = s
		}
	}
	assert.Equal(t, 2, app.Entries)
}

func TestDaemonClearGate(t *testing.T) {
	env := startDaemon(t, nil, nil)
	env.console.Emit("app", "INFO", "keep")
	assert.ErrorContains(t, env.client.ClearLogs(reqCtx(t), "app"), "disabled")

	open := startDaemon(t, func(c *config.Config) { c.Logs.AllowClear = true }, nil)
	open.console.Emit("app", "INFO", "drop")
	require.NoError(t, open.client.ClearLogs(reqCtx(t), "app"))
	assert.Empty(t, open.console.Entries("app", 0, ""))
}

func TestDaemonAlias(t *testing.T) {
	env := startDaemon(t, nil, nil)
	require.NoError(t, env.client.SetAlias(reqCtx(t), "worker.", "jobs"))
	env.console.Emit("worker.email", "INFO", "sent")
	entries := env.console.Entries("jobs", 0, "")
	require.Len(t, entries, 1)
	assert.Equal(t, "sent", entries[0].Message)

	assert.Error(t, env.client.SetAlias(reqCtx(t), "", "jobs"))
}

func TestDaemonSubscribe(t *testing.T) {
	env := startDaemon(t, nil, nil)
	events := make(chan uds.Message, 16)
	env.client.OnEvent(func(msg uds.Message) { events <- msg })

	require.NoError(t, env.client.Subscribe(reqCtx(t), "app"))
	assert.True(t, env.daemon.hasLogSubscribers())

	env.console.Emit("other", "INFO", "ignored")
	env.console.Emit("app", "WARNING", "watch out")

	select {
	case msg := <-events:
		assert.Equal(t, uds.EventLogsLine, msg.Method)
		e, err := uds.DecodeLogLine(msg)
		require.NoError(t, err)
		assert.Equal(t, "app", e.Source)
		assert.Equal(t, core.LevelWarning, e.Level)
		assert.Equal(t, "watch out", e.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("no logs.line event")
	}
	select {
	case msg := <-events:
		t.Fatalf("unexpected event: %+v", msg)
	default:
	}

	require.NoError(t, env.client.Unsubscribe(reqCtx(t)))
	assert.False(t, env.daemon.hasLogSubscribers())
}

func TestDaemonSubscriptionEndsOnDisconnect(t *testing.T) {
	env := startDaemon(t, nil, nil)
	other, err := uds.Dial(env.sock)
	require.NoError(t, err)
	require.NoError(t, other.Subscribe(reqCtx(t)))
	assert.True(t, env.daemon.hasLogSubscribers())

	other.Close()
	assert.Eventually(t, func() bool { return !env.daemon.hasLogSubscribers() }, 3*time.Second, 10*time.Millisecond)
}

func TestDaemonProcessesWithoutSupervisor(t *testing.T) {
	env := startDaemon(t, nil, nil)
	procs, err := env.client.Processes(reqCtx(t))
	require.NoError(t, err)
	assert.Empty(t, procs)
	assert.ErrorContains(t, env.client.ProcessAction(reqCtx(t), "web", "start"), "no processes")
}

func TestDaemonProcessActions(t *testing.T) {
	requireShell(t)
	sup := NewSupervisor(context.Background(), nil, discardLogger())
	t.Cleanup(sup.StopAll)
	require.NoError(t, sup.Register("sleeper", config.Exec{Command: "sleep 30", Restart: config.RestartNever}))
	env := startDaemon(t, nil, sup)

	require.NoError(t, env.client.ProcessAction(reqCtx(t), "sleeper", "start"))
	procs, err := env.client.Processes(reqCtx(t))
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, uds.StatusRunning, procs[0].Status)

	require.NoError(t, env.client.ProcessAction(reqCtx(t), "sleeper", "stop"))
	assert.ErrorContains(t, env.client.ProcessAction(reqCtx(t), "sleeper", "explode"), "unsupported action")
	assert.ErrorContains(t, env.client.ProcessAction(reqCtx(t), "ghost", "start"), "unknown process")
}
