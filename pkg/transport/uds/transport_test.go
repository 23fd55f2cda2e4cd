package uds

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modoterra/devconsole/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs srv on a socket in a temp dir and returns a connected
// client. Both are torn down with the test.
func startServer(t *testing.T, srv *Server, sock string) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	for i := 0; i < 100; i++ {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	client, err := Dial(sock)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		cancel()
		srv.Shutdown()
		if err := <-errCh; err != nil {
			t.Errorf("server: %v", err)
		}
	})
	return client
}

func newTestServer(t *testing.T) (*Server, string) {
	sock := filepath.Join(t.TempDir(), "test.sock")
	srv := NewServer(sock, testLogger())
	srv.Handle(MethodPing, func(_ context.Context, _ Message) (any, error) {
		return PingResponse{Pong: true, Version: "test"}, nil
	})
	return srv, sock
}

func reqCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPingRoundTrip(t *testing.T) {
	srv, sock := newTestServer(t)
	client := startServer(t, srv, sock)

	pong, err := client.Ping(reqCtx(t))
	if err != nil {
		t.Fatalf("ping request: %v", err)
	}
	if !pong.Pong || pong.Version != "test" {
		t.Errorf("unexpected pong: %+v", pong)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv, sock := newTestServer(t)
	client := startServer(t, srv, sock)

	if _, err := client.Request(reqCtx(t), "NoSuchMethod", nil); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestHandlerErrorAndPanic(t *testing.T) {
	srv, sock := newTestServer(t)
	srv.Handle("fail", func(_ context.Context, _ Message) (any, error) {
		return nil, errors.New("nope")
	})
	srv.Handle("explode", func(_ context.Context, _ Message) (any, error) {
		panic("kaboom")
	})
	client := startServer(t, srv, sock)

	resp, err := client.Request(reqCtx(t), "fail", nil)
	if err == nil || resp.Error != "nope" {
		t.Errorf("fail: got %v / %q", err, resp.Error)
	}
	resp, err = client.Request(reqCtx(t), "explode", nil)
	if err == nil || resp.Error != "internal error: kaboom" {
		t.Errorf("explode: got %v / %q", err, resp.Error)
	}
	// The connection survives a panicking handler.
	if _, err := client.Ping(reqCtx(t)); err != nil {
		t.Errorf("ping after panic: %v", err)
	}
}

func TestRequestsAreConcurrent(t *testing.T) {
	srv, sock := newTestServer(t)
	release := make(chan struct{})
	srv.Handle(MethodExecute, func(ctx context.Context, req Message) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return core.Text("slow done"), nil
	})
	client := startServer(t, srv, sock)

	slow := make(chan error, 1)
	go func() {
		res, err := client.Execute(reqCtx(t), "sleep", nil)
		if err == nil && res.Output != "slow done" {
			err = errors.New("unexpected output " + res.Output)
		}
		slow <- err
	}()

	// A ping on the same connection is answered while execute is pending.
	if _, err := client.Ping(reqCtx(t)); err != nil {
		t.Fatalf("ping while busy: %v", err)
	}
	close(release)
	if err := <-slow; err != nil {
		t.Errorf("execute: %v", err)
	}
}

func TestPayloadDecoding(t *testing.T) {
	srv, sock := newTestServer(t)
	srv.Handle(MethodLogs, func(_ context.Context, req Message) (any, error) {
		var in LogsRequest
		if err := req.UnmarshalData(&in); err != nil {
			return nil, err
		}
		return LogsResponse{Source: in.Source, Entries: []core.LogEntry{
			{Source: in.Source, Level: core.Level(in.Level), Message: "hit"},
		}}, nil
	})
	client := startServer(t, srv, sock)

	entries, err := client.Logs(reqCtx(t), LogsRequest{Source: "app", Level: "ERROR", Limit: 5})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(entries) != 1 || entries[0].Source != "app" || entries[0].Level != core.LevelError {
		t.Errorf("unexpected entries: %+v", entries)
	}

	// A request without a payload fails to decode.
	if _, err := client.Request(reqCtx(t), MethodLogs, nil); err == nil {
		t.Error("expected decode error")
	}
}

func TestUnmarshalDataNoData(t *testing.T) {
	var v struct{}
	if err := (Message{Method: "x"}).UnmarshalData(&v); !errors.Is(err, ErrNoData) {
		t.Errorf("got %v", err)
	}
}

func TestBroadcastEvent(t *testing.T) {
	srv, sock := newTestServer(t)
	client := startServer(t, srv, sock)

	evtCh := make(chan Message, 1)
	client.OnEvent(func(msg Message) {
		evtCh <- msg
	})

	// Ensure connection is registered by doing a ping first.
	if _, err := client.Ping(reqCtx(t)); err != nil {
		t.Fatalf("ping: %v", err)
	}

	evt, _ := NewEvent(EventLogsLine, core.LogEntry{Source: "app", Message: "pushed"})
	srv.Broadcast(evt)

	select {
	case msg := <-evtCh:
		if msg.Method != EventLogsLine {
			t.Errorf("expected method %s, got %s", EventLogsLine, msg.Method)
		}
		e, err := DecodeLogLine(msg)
		if err != nil || e.Message != "pushed" {
			t.Errorf("decode: %+v, %v", e, err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for broadcast event")
	}
}

func TestSendToConnection(t *testing.T) {
	srv, sock := newTestServer(t)
	ids := make(chan string, 1)
	srv.Handle("whoami", func(ctx context.Context, _ Message) (any, error) {
		ids <- ConnID(ctx)
		return nil, nil
	})
	gone := make(chan string, 1)
	srv.OnDisconnect(func(id string) { gone <- id })
	client := startServer(t, srv, sock)

	evtCh := make(chan Message, 1)
	client.OnEvent(func(msg Message) { evtCh <- msg })

	if _, err := client.Request(reqCtx(t), "whoami", nil); err != nil {
		t.Fatalf("whoami: %v", err)
	}
	id := <-ids
	if id == "" {
		t.Fatal("empty connection id")
	}

	evt, _ := NewEvent(EventLogsLine, core.LogEntry{Message: "direct"})
	if err := srv.Send(id, evt); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-evtCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for direct event")
	}

	if err := srv.Send("conn-unknown", evt); err == nil {
		t.Error("expected error for unknown connection")
	}

	client.Close()
	select {
	case got := <-gone:
		if got != id {
			t.Errorf("disconnect id: got %s, want %s", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
}

func TestRequestAfterServerShutdown(t *testing.T) {
	srv, sock := newTestServer(t)
	client := startServer(t, srv, sock)
	if _, err := client.Ping(reqCtx(t)); err != nil {
		t.Fatalf("ping: %v", err)
	}

	srv.Shutdown()
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice shutdown")
	}
	if _, err := client.Ping(reqCtx(t)); err == nil {
		t.Error("expected error after shutdown")
	}
}
