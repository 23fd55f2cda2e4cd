package logs

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/devconsole/pkg/core"
)

// tickingClock advances one millisecond per call so entry order is observable
// through timestamps.
func tickingClock() func() time.Time {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

func newTestMonitor(maxEntries int) *Monitor {
	return NewMonitor(Options{MaxEntries: maxEntries, Now: tickingClock()})
}

func TestEmitRoutesThroughAlias(t *testing.T) {
	m := newTestMonitor(10)
	m.SetAlias("foo.", "bar")
	m.Emit("foo.baz", "INFO", "x")

	got := m.Entries("bar", 10, "")
	require.Len(t, got, 1)
	assert.Equal(t, "bar", got[0].Source)
	assert.Equal(t, core.LevelInfo, got[0].Level)
	assert.Equal(t, "x", got[0].Message)
	assert.Empty(t, m.Entries("foo", 10, ""))
}

func TestEmitUnknownLevelIsInfo(t *testing.T) {
	m := newTestMonitor(10)
	m.Emit("app", "verbose", "hello")
	got := m.Entries("app", 1, "")
	require.Len(t, got, 1)
	assert.Equal(t, core.LevelInfo, got[0].Level)
	assert.Contains(t, got[0].Raw, "INFO hello")
}

func TestEmitRetainsLastN(t *testing.T) {
	const n, k = 10, 4
	m := newTestMonitor(n)
	for i := 0; i < n+k; i++ {
		m.Emit("svc", "INFO", fmt.Sprint(i))
	}
	got := m.Entries("svc", 100, "")
	require.Len(t, got, n)
	for i, e := range got {
		assert.Equal(t, fmt.Sprint(n+k-1-i), e.Message, "entry %d", i)
	}
}

func TestConcurrentEmitsLoseNothing(t *testing.T) {
	const writers, each = 8, 250
	m := NewMonitor(Options{MaxEntries: writers * each})

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				m.Emit("load", "DEBUG", fmt.Sprintf("%d-%d", w, i))
			}
		}(w)
	}
	// Readers run alongside the writers.
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = m.Entries("load", 10, "")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers*each, m.Len("load"))
	seen := make(map[string]bool)
	for _, e := range m.Entries("load", writers*each, "") {
		seen[e.Message] = true
	}
	assert.Len(t, seen, writers*each)
}

func TestEntriesLevelFilterAndLimit(t *testing.T) {
	m := newTestMonitor(100)
	for i := 0; i < 20; i++ {
		level := "INFO"
		if i%2 == 0 {
			level = "ERROR"
		}
		m.Emit("app", level, fmt.Sprint(i))
	}

	got := m.Entries("app", 5, "ERROR")
	require.Len(t, got, 5)
	for _, e := range got {
		assert.Equal(t, core.LevelError, e.Level)
	}
	assert.Equal(t, []string{"18", "16", "14", "12", "10"}, messages(got))
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Timestamp.After(got[i].Timestamp))
	}

	assert.Len(t, m.Entries("app", 5, "error"), 5, "level filter is case-insensitive")
	assert.Empty(t, m.Entries("app", 5, "LOUD"))
}

func TestQueryUnknownSource(t *testing.T) {
	m := newTestMonitor(10)
	got, err := m.Query("nope", Query{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotContains(t, m.Sources(), "nope")
}

func TestQuerySinceAndWhere(t *testing.T) {
	m := newTestMonitor(10)
	m.Emit("app", "INFO", "first")
	cut := m.Entries("app", 1, "")[0].Timestamp
	m.Emit("app", "WARNING", "disk full")
	m.Emit("app", "INFO", "second")

	got, err := m.Query("app", Query{Since: cut})
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "disk full"}, messages(got))

	got, err = m.Query("app", Query{Where: `message.contains("disk") && level == "WARNING"`})
	require.NoError(t, err)
	assert.Equal(t, []string{"disk full"}, messages(got))

	_, err = m.Query("app", Query{Where: "message +"})
	assert.Error(t, err)
	_, err = m.Query("app", Query{Where: "message"})
	assert.Error(t, err)
}

func TestClearKeepsOtherSources(t *testing.T) {
	m := newTestMonitor(10)
	m.Emit("a", "INFO", "1")
	m.Emit("b", "INFO", "2")
	m.Clear("a")
	m.Clear("missing")
	assert.Empty(t, m.Entries("a", 10, ""))
	assert.Len(t, m.Entries("b", 10, ""), 1)
}

func TestSources(t *testing.T) {
	m := newTestMonitor(10)
	m.DeclareSource("declared")
	m.Emit("worker.mail", "INFO", "sent")
	m.Attach("http.access", "access")
	assert.Equal(t, []string{"access", "declared", "worker"}, m.Sources())
}

func TestSubscribe(t *testing.T) {
	m := newTestMonitor(10)
	ch, cancel := m.Subscribe()
	m.Emit("app", "ERROR", "boom")

	select {
	case e := <-ch:
		assert.Equal(t, "boom", e.Message)
		assert.Equal(t, "app", e.Source)
	case <-time.After(time.Second):
		t.Fatal("no entry delivered")
	}

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok, "channel closed after cancel")
}

func TestCloseEndsSubscriptions(t *testing.T) {
	m := newTestMonitor(10)
	ch, cancel := m.Subscribe()
	a := m.Attach("x", "")
	m.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.False(t, a.Active())

	late, _ := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func messages(entries []core.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}
