// Package uds carries console requests, responses and pushed events as
// newline-delimited JSON over a Unix domain socket.
package uds

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/modoterra/devconsole/pkg/core"
)

var msgCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ErrNoData is returned when decoding a message that carries no payload.
var ErrNoData = errors.New("message has no data")

// UnmarshalData decodes the payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return ErrNoData
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Method, err)
	}
	return nil
}

func encode(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, msgCounter.Add(1))
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	raw, err := encode(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeReq, ID: nextID("req"), Method: method, Data: raw}, nil
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	raw, err := encode(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Data: raw}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Error: errMsg}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	raw, err := encode(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeEvt, ID: nextID("evt"), Method: method, Data: raw}, nil
}

// Methods
const (
	MethodPing            = "ping"
	MethodExecute         = "execute"
	MethodCommands        = "commands"
	MethodHistory         = "history"
	MethodLogs            = "logs"
	MethodSources         = "sources"
	MethodLogsClear       = "logs.clear"
	MethodLogsSubscribe   = "logs.subscribe"
	MethodLogsUnsubscribe = "logs.unsubscribe"
	MethodAliasSet        = "alias.set"
	MethodProcesses       = "processes"
	MethodProcessAction   = "process.action"

	EventLogsLine       = "logs.line"
	EventProcessesDelta = "processes.delta"
)

// PingResponse is the response to a ping request.
type PingResponse struct {
	Pong    bool          `json:"pong"`
	ID      string        `json:"id"`
	Version string        `json:"version"`
	Uptime  time.Duration `json:"uptime"`
}

// ExecuteRequest runs one command line.
type ExecuteRequest struct {
	Line    string         `json:"line"`
	Context map[string]any `json:"context,omitempty"`
}

// CommandsResponse lists registered commands.
type CommandsResponse struct {
	Commands []core.CommandInfo `json:"commands"`
}

// HistoryRequest asks for recent invocations.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse carries invocations, newest first.
type HistoryResponse struct {
	Records []core.HistoryRecord `json:"records"`
}

// LogsRequest queries one logical source.
type LogsRequest struct {
	Source string    `json:"source"`
	Limit  int       `json:"limit,omitempty"`
	Level  string    `json:"level,omitempty"`
	Since  time.Time `json:"since,omitzero"`
	Where  string    `json:"where,omitempty"`
}

// LogsResponse carries matching entries, newest first.
type LogsResponse struct {
	Source  string          `json:"source"`
	Entries []core.LogEntry `json:"entries"`
}

// SourceInfo describes one logical source.
type SourceInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Path    string `json:"path,omitempty"`
}

// SourcesResponse lists logical sources.
type SourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

// ClearRequest empties one source.
type ClearRequest struct {
	Source string `json:"source"`
}

// SubscribeRequest starts pushing logs.line events to the caller. An empty
// Sources list subscribes to every source.
type SubscribeRequest struct {
	Sources []string `json:"sources,omitempty"`
}

// AliasRequest adds an alias rule.
type AliasRequest struct {
	Prefix string `json:"prefix"`
	Alias  string `json:"alias"`
}

// OKResponse acknowledges requests without a payload.
type OKResponse struct {
	OK bool `json:"ok"`
}

// Process states reported for supervised children.
const (
	StatusRunning    = "running"
	StatusStopped    = "stopped"
	StatusFailed     = "failed"
	StatusRestarting = "restarting"
	StatusUnknown    = "unknown"
)

// ProcessInfo describes one supervised child process.
type ProcessInfo struct {
	Name      string    `json:"name"`
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Restarts  int       `json:"restarts"`
	MemBytes  uint64    `json:"mem_bytes,omitempty"`
}

// ProcessesResponse lists supervised processes.
type ProcessesResponse struct {
	Processes []ProcessInfo `json:"processes"`
}

// ProcessActionRequest starts, stops or restarts a supervised process.
type ProcessActionRequest struct {
	Name   string `json:"name"`
	Action string `json:"action"` // start, stop, restart
}
