package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/modoterra/devconsole/pkg/core"
)

// ErrClosed is returned for requests on a closed connection.
var ErrClosed = errors.New("connection closed")

// EventHandler is called when the server pushes an event.
type EventHandler func(msg Message)

// Client connects to a devconsoled server over a Unix domain socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner

	mu      sync.Mutex
	wmu     sync.Mutex
	pending map[string]chan Message
	events  EventHandler

	closeOnce sync.Once
	readDone  chan struct{}
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	c := &Client{
		conn:     conn,
		scanner:  bufio.NewScanner(conn),
		pending:  make(map[string]chan Message),
		readDone: make(chan struct{}),
	}
	c.scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	go c.readLoop()
	return c, nil
}

// OnEvent registers a handler for server-pushed events.
func (c *Client) OnEvent(h EventHandler) {
	c.mu.Lock()
	c.events = h
	c.mu.Unlock()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.readDone }

// Request sends a request and waits for the correlated response.
func (c *Client) Request(ctx context.Context, method string, data any) (Message, error) {
	msg, err := NewRequest(method, data)
	if err != nil {
		return Message{}, err
	}

	ch := make(chan Message, 1)
	c.mu.Lock()
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	raw, err := marshalLine(msg)
	if err != nil {
		return Message{}, err
	}
	c.wmu.Lock()
	_, err = c.conn.Write(raw)
	c.wmu.Unlock()
	if err != nil {
		return Message{}, fmt.Errorf("write: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, fmt.Errorf("server error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.readDone:
		return Message{}, ErrClosed
	}
}

// call performs a request and decodes its payload into out.
func (c *Client) call(ctx context.Context, method string, in, out any) error {
	resp, err := c.Request(ctx, method, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.UnmarshalData(out)
}

// Ping checks the daemon is alive.
func (c *Client) Ping(ctx context.Context) (PingResponse, error) {
	var out PingResponse
	err := c.call(ctx, MethodPing, nil, &out)
	return out, err
}

// Execute runs a command line remotely.
func (c *Client) Execute(ctx context.Context, line string, submitter map[string]any) (core.Result, error) {
	var out core.Result
	err := c.call(ctx, MethodExecute, ExecuteRequest{Line: line, Context: submitter}, &out)
	return out, err
}

// Commands lists the registered commands.
func (c *Client) Commands(ctx context.Context) ([]core.CommandInfo, error) {
	var out CommandsResponse
	err := c.call(ctx, MethodCommands, nil, &out)
	return out.Commands, err
}

// History returns up to limit invocations, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]core.HistoryRecord, error) {
	var out HistoryResponse
	err := c.call(ctx, MethodHistory, HistoryRequest{Limit: limit}, &out)
	return out.Records, err
}

// Logs queries one source.
func (c *Client) Logs(ctx context.Context, req LogsRequest) ([]core.LogEntry, error) {
	var out LogsResponse
	err := c.call(ctx, MethodLogs, req, &out)
	return out.Entries, err
}

// Sources lists the logical sources.
func (c *Client) Sources(ctx context.Context) ([]SourceInfo, error) {
	var out SourcesResponse
	err := c.call(ctx, MethodSources, nil, &out)
	return out.Sources, err
}

// ClearLogs empties a source, if the daemon allows it.
func (c *Client) ClearLogs(ctx context.Context, source string) error {
	return c.call(ctx, MethodLogsClear, ClearRequest{Source: source}, nil)
}

// SetAlias adds an alias rule.
func (c *Client) SetAlias(ctx context.Context, prefix, alias string) error {
	return c.call(ctx, MethodAliasSet, AliasRequest{Prefix: prefix, Alias: alias}, nil)
}

// Subscribe starts logs.line events for sources; none means all.
func (c *Client) Subscribe(ctx context.Context, sources ...string) error {
	return c.call(ctx, MethodLogsSubscribe, SubscribeRequest{Sources: sources}, nil)
}

// Unsubscribe stops logs.line events.
func (c *Client) Unsubscribe(ctx context.Context) error {
	return c.call(ctx, MethodLogsUnsubscribe, nil, nil)
}

// Processes lists the daemon's supervised processes.
func (c *Client) Processes(ctx context.Context) ([]ProcessInfo, error) {
	var out ProcessesResponse
	err := c.call(ctx, MethodProcesses, nil, &out)
	return out.Processes, err
}

// ProcessAction starts, stops or restarts a supervised process.
func (c *Client) ProcessAction(ctx context.Context, name, action string) error {
	return c.call(ctx, MethodProcessAction, ProcessActionRequest{Name: name, Action: action}, nil)
}

// Close closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		<-c.readDone
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for c.scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(c.scanner.Bytes(), &msg); err != nil {
			continue
		}

		switch msg.Type {
		case MsgTypeRes:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case MsgTypeEvt:
			c.mu.Lock()
			h := c.events
			c.mu.Unlock()
			if h != nil {
				h(msg)
			}
		}
	}
}

// DecodeLogLine decodes a logs.line event.
func DecodeLogLine(msg Message) (core.LogEntry, error) {
	var e core.LogEntry
	err := msg.UnmarshalData(&e)
	return e, err
}
