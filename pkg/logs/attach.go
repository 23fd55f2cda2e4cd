package logs

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/modoterra/devconsole/pkg/core"
)

// Attachment connects one producer channel to a Monitor. The adapters it
// hands out stop feeding the monitor once it is detached.
type Attachment struct {
	monitor *Monitor
	channel string
	active  atomic.Bool
}

// Attach connects a producer channel, optionally routing it to alias.
// Attaching the same channel twice returns the existing attachment.
func (m *Monitor) Attach(channel, alias string) *Attachment {
	if alias != "" {
		m.resolver.Set(channel, alias)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attached[channel]; ok {
		return a
	}
	a := &Attachment{monitor: m, channel: channel}
	a.active.Store(true)
	m.attached[channel] = a
	return a
}

// Attachments returns the sorted names of attached channels.
func (m *Monitor) Attachments() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.attached))
	for ch := range m.attached {
		out = append(out, ch)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Channel returns the producer channel name.
func (a *Attachment) Channel() string { return a.channel }

// Active reports whether events are still being recorded.
func (a *Attachment) Active() bool { return a.active.Load() }

// Detach stops recording. Adapters created from the attachment keep working
// as pass-throughs.
func (a *Attachment) Detach() {
	if !a.active.CompareAndSwap(true, false) {
		return
	}
	m := a.monitor
	m.mu.Lock()
	if m.attached[a.channel] == a {
		delete(m.attached, a.channel)
	}
	m.mu.Unlock()
}

func (a *Attachment) emit(channel string, level core.Level, message string) {
	if !a.active.Load() {
		return
	}
	if channel == "" {
		channel = a.channel
	}
	a.monitor.Emit(channel, string(level), message)
}

// Writer returns an io.Writer that records every complete line written to it
// at the given level, e.g. as the output of a standard library log.Logger.
func (a *Attachment) Writer(level core.Level) io.Writer {
	return &lineWriter{att: a, level: level}
}

type lineWriter struct {
	att   *Attachment
	level core.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if line = strings.TrimSpace(line); line != "" {
			w.att.emit("", w.level, line)
		}
	}
	return len(p), nil
}
