package core

import (
	"strings"
	"time"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Levels lists every level from most to least severe.
var Levels = []Level{LevelCritical, LevelError, LevelWarning, LevelInfo, LevelDebug}

// LookupLevel normalizes a level name, accepting common aliases such as
// WARN and FATAL. ok is false for names that are not levels.
func LookupLevel(s string) (level Level, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "TRACE":
		return LevelDebug, true
	case "INFO", "NOTICE":
		return LevelInfo, true
	case "WARNING", "WARN":
		return LevelWarning, true
	case "ERROR", "ERR":
		return LevelError, true
	case "CRITICAL", "FATAL", "PANIC":
		return LevelCritical, true
	default:
		return "", false
	}
}

// ParseLevel normalizes a level name. Unrecognized names map to INFO.
func ParseLevel(s string) Level {
	if l, ok := LookupLevel(s); ok {
		return l
	}
	return LevelInfo
}

// levelTokens maps substrings found in free-form lines to levels, most
// severe first so "ERROR" wins over "INFO" when a line mentions both.
var levelTokens = []struct {
	token string
	level Level
}{
	{"CRITICAL", LevelCritical},
	{"FATAL", LevelCritical},
	{"ERROR", LevelError},
	{"WARNING", LevelWarning},
	{"WARN", LevelWarning},
	{"INFO", LevelInfo},
	{"DEBUG", LevelDebug},
}

// ExtractLevel infers the level of a free-form line (e.g. from a tailed file)
// by looking for a level name anywhere in it.
func ExtractLevel(line string) Level {
	upper := strings.ToUpper(line)
	for _, t := range levelTokens {
		if strings.Contains(upper, t.token) {
			return t.level
		}
	}
	return LevelInfo
}

// LogEntry is a single captured log event. Entries are never mutated after
// they are appended to a stream buffer.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// TsUnixMs returns the entry time in Unix milliseconds.
func (e LogEntry) TsUnixMs() int64 {
	return e.Timestamp.UnixMilli()
}
