package core

import (
	"fmt"
	"time"
)

// Kind tags the outcome of a console command.
type Kind string

const (
	KindText    Kind = "text"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindClear   Kind = "clear"
	KindEmpty   Kind = "empty"
)

// Result is the normalized outcome of any command invocation. A Result is
// always produced, including when the handler fails.
type Result struct {
	Output    string    `json:"output"`
	Kind      Kind      `json:"type"`
	Command   string    `json:"command,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Text builds a text result.
func Text(output string) Result {
	return Result{Output: output, Kind: KindText}
}

// Textf builds a formatted text result.
func Textf(format string, args ...any) Result {
	return Text(fmt.Sprintf(format, args...))
}

// Errorf builds an error result.
func Errorf(format string, args ...any) Result {
	return Result{Output: fmt.Sprintf(format, args...), Kind: KindError}
}

// Warning builds a warning result.
func Warning(output string) Result {
	return Result{Output: output, Kind: KindWarning}
}

// HistoryRecord is one past command invocation.
type HistoryRecord struct {
	ID        string         `json:"id"`
	Command   string         `json:"command"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// CommandInfo describes one registered console command.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage"`
	Group       string `json:"group,omitempty"`
	Builtin     bool   `json:"builtin"`
}
