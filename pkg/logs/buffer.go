package logs

import (
	"sync"

	"github.com/modoterra/devconsole/pkg/core"
)

// DefaultMaxEntries is the per-source capacity when none is configured.
const DefaultMaxEntries = 1000

// StreamBuffer is a fixed-capacity ring of log entries for one logical
// source. When full, appending drops the oldest entry.
type StreamBuffer struct {
	mu      sync.Mutex
	entries []core.LogEntry
	head    int // index of the oldest entry
	count   int
}

// NewStreamBuffer creates a buffer holding at most capacity entries.
func NewStreamBuffer(capacity int) *StreamBuffer {
	if capacity <= 0 {
		capacity = DefaultMaxEntries
	}
	return &StreamBuffer{entries: make([]core.LogEntry, capacity)}
}

// Append adds an entry at the tail, evicting the oldest one when full.
func (b *StreamBuffer) Append(e core.LogEntry) {
	b.mu.Lock()
	capacity := len(b.entries)
	if b.count < capacity {
		b.entries[(b.head+b.count)%capacity] = e
		b.count++
	} else {
		b.entries[b.head] = e
		b.head = (b.head + 1) % capacity
	}
	b.mu.Unlock()
}

// Snapshot copies the entries out in insertion order, oldest first.
func (b *StreamBuffer) Snapshot() []core.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.LogEntry, b.count)
	capacity := len(b.entries)
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(b.head+i)%capacity]
	}
	return out
}

// Len returns the number of buffered entries.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *StreamBuffer) Cap() int {
	return len(b.entries)
}

// Clear drops every entry.
func (b *StreamBuffer) Clear() {
	b.mu.Lock()
	clear(b.entries)
	b.head, b.count = 0, 0
	b.mu.Unlock()
}
