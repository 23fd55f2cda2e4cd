package terminal

import (
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/modoterra/devconsole/pkg/core"
)

// DefaultHistorySize is the history capacity when none is configured.
const DefaultHistorySize = 100

// History is a bounded ring of executed command lines.
type History struct {
	mu      sync.Mutex
	records []core.HistoryRecord
	head    int
	count   int
}

// NewHistory creates a ring holding at most size records.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{records: make([]core.HistoryRecord, size)}
}

// Add appends a record, dropping the oldest one when full.
func (h *History) Add(rec core.HistoryRecord) core.HistoryRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Context = maps.Clone(rec.Context)

	h.mu.Lock()
	size := len(h.records)
	if h.count < size {
		h.records[(h.head+h.count)%size] = rec
		h.count++
	} else {
		h.records[h.head] = rec
		h.head = (h.head + 1) % size
	}
	h.mu.Unlock()
	return rec
}

// Recent returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (h *History) Recent(limit int) []core.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	out := make([]core.HistoryRecord, limit)
	size := len(h.records)
	for i := 0; i < limit; i++ {
		out[i] = h.records[(h.head+h.count-1-i)%size]
	}
	return out
}

// Len returns the number of records held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Clear drops every record.
func (h *History) Clear() {
	h.mu.Lock()
	clear(h.records)
	h.head, h.count = 0, 0
	h.mu.Unlock()
}
