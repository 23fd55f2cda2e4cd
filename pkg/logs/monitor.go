package logs

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/modoterra/devconsole/pkg/core"
)

// DefaultQueryLimit is the number of entries returned when a query sets no limit.
const DefaultQueryLimit = 100

// rawTimeLayout formats the timestamp prefix of synthesized raw lines.
const rawTimeLayout = "2006-01-02 15:04:05"

// Options configures a Monitor.
type Options struct {
	// MaxEntries is the capacity of every per-source buffer.
	MaxEntries int
	// Aliases seeds the channel prefix → source rule table.
	Aliases map[string]string
	// Logger receives the monitor's own failures. It must not feed back into
	// the monitor; nil means a text logger on stderr.
	Logger *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Monitor ingests log events from any number of goroutines, routes them to
// logical sources and answers queries against the per-source buffers.
type Monitor struct {
	resolver   *Resolver
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	buffers  map[string]*StreamBuffer
	files    map[string]*FileSource
	attached map[string]*Attachment

	subMu  sync.Mutex
	subs   []chan core.LogEntry
	closed bool
}

// NewMonitor creates an empty monitor.
func NewMonitor(opts Options) *Monitor {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		resolver:   NewResolver(opts.Aliases),
		maxEntries: opts.MaxEntries,
		logger:     opts.Logger,
		now:        opts.Now,
		buffers:    make(map[string]*StreamBuffer),
		files:      make(map[string]*FileSource),
		attached:   make(map[string]*Attachment),
	}
}

// MaxEntries returns the per-source buffer capacity.
func (m *Monitor) MaxEntries() int { return m.maxEntries }

// Resolver exposes the alias table.
func (m *Monitor) Resolver() *Resolver { return m.resolver }

// SetAlias routes channels starting with prefix to the alias source.
func (m *Monitor) SetAlias(prefix, alias string) {
	m.resolver.Set(prefix, alias)
}

// Emit records one event from a producer channel. It never panics and never
// reports failure to the caller.
func (m *Monitor) Emit(channel, level, message string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("log ingestion failed", "channel", channel, "err", fmt.Sprint(r))
		}
	}()
	m.Add(m.resolver.Resolve(channel), level, message)
}

// Add records an entry directly under a logical source, bypassing alias
// resolution. Unrecognized levels are stored as INFO.
func (m *Monitor) Add(source, level, message string) {
	now := m.now()
	lvl := core.ParseLevel(level)
	m.append(source, core.LogEntry{
		Timestamp: now,
		Source:    source,
		Level:     lvl,
		Message:   message,
		Raw:       now.Format(rawTimeLayout) + " " + string(lvl) + " " + message,
	})
}

func (m *Monitor) append(source string, e core.LogEntry) {
	m.buffer(source).Append(e)
	m.publish(e)
}

// buffer returns the buffer for source, creating it on first use.
func (m *Monitor) buffer(source string) *StreamBuffer {
	m.mu.RLock()
	b, ok := m.buffers[source]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.buffers[source]; !ok {
		b = NewStreamBuffer(m.maxEntries)
		m.buffers[source] = b
	}
	return b
}

// DeclareSource makes a source visible before anything has been logged to it.
func (m *Monitor) DeclareSource(name string) {
	m.buffer(name)
}

// AddSource associates a backing file with a logical source and absorbs its
// current content.
func (m *Monitor) AddSource(name, path string) {
	fs := NewFileSource(name, path)
	m.mu.Lock()
	m.files[name] = fs
	m.mu.Unlock()
	m.buffer(name)
	m.refresh(name)
}

// FileSources returns the logical source → path map of tailed files.
func (m *Monitor) FileSources() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.files))
	for name, fs := range m.files {
		out[name] = fs.Path
	}
	return out
}

// refresh pulls new lines from the source's backing file, if it has one.
// Read failures are logged and treated as no new data.
func (m *Monitor) refresh(source string) {
	m.mu.RLock()
	fs, ok := m.files[source]
	m.mu.RUnlock()
	if !ok {
		return
	}

	lines, err := fs.Refresh()
	if err != nil {
		m.logger.Warn("tail log file", "source", source, "path", fs.Path, "err", err)
		return
	}
	for _, line := range lines {
		m.append(source, core.LogEntry{
			Timestamp: m.now(),
			Source:    source,
			Level:     core.ExtractLevel(line),
			Message:   line,
			Raw:       line,
		})
	}
}

// RefreshFiles pulls new lines from every file-backed source.
func (m *Monitor) RefreshFiles() {
	m.mu.RLock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	m.mu.RUnlock()
	for _, name := range names {
		m.refresh(name)
	}
}

// Query selects entries from one logical source.
type Query struct {
	// Limit caps the result; zero or less means DefaultQueryLimit.
	Limit int
	// Level keeps only entries of exactly this level.
	Level string
	// Since keeps only entries newer than this instant.
	Since time.Time
	// Where is an optional boolean CEL expression over level, message,
	// source, raw, ts_ms and now_ms.
	Where string
}

// Query returns matching entries of source, newest first. An unknown source
// yields an empty result; the only error is an invalid Where expression.
func (m *Monitor) Query(source string, q Query) ([]core.LogEntry, error) {
	filter, err := compileWhere(q.Where)
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}

	m.refresh(source)

	m.mu.RLock()
	b, ok := m.buffers[source]
	m.mu.RUnlock()
	if !ok {
		return []core.LogEntry{}, nil
	}

	var level core.Level
	if q.Level != "" {
		l, ok := core.LookupLevel(q.Level)
		if !ok {
			return []core.LogEntry{}, nil
		}
		level = l
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	snap := b.Snapshot()
	for i, j := 0, len(snap)-1; i < j; i, j = i+1, j-1 {
		snap[i], snap[j] = snap[j], snap[i]
	}
	sort.SliceStable(snap, func(i, j int) bool {
		return snap[i].Timestamp.After(snap[j].Timestamp)
	})

	out := make([]core.LogEntry, 0, min(limit, len(snap)))
	for _, e := range snap {
		if len(out) == limit {
			break
		}
		if level != "" && e.Level != level {
			continue
		}
		if !q.Since.IsZero() && !e.Timestamp.After(q.Since) {
			continue
		}
		if !filter.match(e, m.now()) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Entries is Query without a Where expression.
func (m *Monitor) Entries(source string, limit int, level string) []core.LogEntry {
	out, _ := m.Query(source, Query{Limit: limit, Level: level})
	return out
}

// Clear empties the buffer of source. The offset of a backing file is kept,
// so cleared lines are not read again.
func (m *Monitor) Clear(source string) {
	m.mu.RLock()
	b, ok := m.buffers[source]
	m.mu.RUnlock()
	if ok {
		b.Clear()
	}
}

// Len returns the number of buffered entries for source.
func (m *Monitor) Len(source string) int {
	m.mu.RLock()
	b, ok := m.buffers[source]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return b.Len()
}

// Sources returns the sorted names of every known logical source: tailed
// files, buffers, and the targets of attached channels.
func (m *Monitor) Sources() []string {
	set := make(map[string]struct{})
	m.mu.RLock()
	for name := range m.buffers {
		set[name] = struct{}{}
	}
	for name := range m.files {
		set[name] = struct{}{}
	}
	channels := make([]string, 0, len(m.attached))
	for ch := range m.attached {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	for _, ch := range channels {
		set[m.resolver.Resolve(ch)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Subscribe returns a channel receiving every new entry and a function that
// ends the subscription. Slow subscribers miss entries rather than block
// producers.
func (m *Monitor) Subscribe() (<-chan core.LogEntry, func()) {
	ch := make(chan core.LogEntry, 256)
	m.subMu.Lock()
	if m.closed {
		m.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			for i, s := range m.subs {
				if s == ch {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

func (m *Monitor) publish(e core.LogEntry) {
	m.subMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- e:
		default:
		}
	}
	m.subMu.Unlock()
}

// Close detaches every attachment and ends all subscriptions.
func (m *Monitor) Close() {
	m.mu.Lock()
	attached := m.attached
	m.attached = make(map[string]*Attachment)
	m.mu.Unlock()
	for _, a := range attached {
		a.active.Store(false)
	}

	m.subMu.Lock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.closed = true
	m.subMu.Unlock()
}
