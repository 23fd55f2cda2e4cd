package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/devconsole/pkg/core"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFileSourceRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "one\n\n  two  \n")

	fs := NewFileSource("app", path)
	lines, err := fs.Refresh()
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
	assert.EqualValues(t, len("one\n\n  two  \n"), fs.Offset())

	lines, err = fs.Refresh()
	require.NoError(t, err)
	assert.Empty(t, lines, "unchanged file yields nothing")

	appendFile(t, path, "three\n")
	lines, err = fs.Refresh()
	require.NoError(t, err)
	assert.Equal(t, []string{"three"}, lines)
}

func TestFileSourceHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "done\nhalf of a li")

	fs := NewFileSource("app", path)
	lines, err := fs.Refresh()
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, lines)
	assert.EqualValues(t, len("done\n"), fs.Offset())

	lines, err = fs.Refresh()
	require.NoError(t, err)
	assert.Empty(t, lines)

	appendFile(t, path, "ne\nnext\n")
	lines, err = fs.Refresh()
	require.NoError(t, err)
	assert.Equal(t, []string{"half of a line", "next"}, lines)
}

func TestFileSourceTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "a long first line\nanother long line\n")

	fs := NewFileSource("app", path)
	_, err := fs.Refresh()
	require.NoError(t, err)

	require.NoError(t, os.Truncate(path, 0))
	appendFile(t, path, "fresh\n")

	lines, err := fs.Refresh()
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, lines)
}

func TestFileSourceRecreated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "old\n")

	fs := NewFileSource("app", path)
	_, err := fs.Refresh()
	require.NoError(t, err)

	// Rotate: move the old file away and start a new, longer one.
	require.NoError(t, os.Rename(path, filepath.Join(dir, "app.log.1")))
	writeFile(t, path, "rotated line one\nrotated line two\n")

	lines, err := fs.Refresh()
	require.NoError(t, err)
	assert.Equal(t, []string{"rotated line one", "rotated line two"}, lines)
}

func TestFileSourceMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.log")
	fs := NewFileSource("later", path)

	lines, err := fs.Refresh()
	require.NoError(t, err)
	assert.Empty(t, lines)

	writeFile(t, path, "now it exists\n")
	lines, err = fs.Refresh()
	require.NoError(t, err)
	assert.Equal(t, []string{"now it exists"}, lines)
}

func TestMonitorTailsOnQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	writeFile(t, path, "2024-01-01 INFO started\n")

	m := newTestMonitor(10)
	m.AddSource("worker", path)
	assert.Equal(t, 1, m.Len("worker"), "initial content absorbed")
	assert.Equal(t, map[string]string{"worker": path}, m.FileSources())

	appendFile(t, path, "2024-01-01 ERROR failed job 7\n")
	got := m.Entries("worker", 10, "")
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-01 ERROR failed job 7", got[0].Message)
	assert.Equal(t, core.LevelError, got[0].Level)
	assert.Equal(t, got[0].Message, got[0].Raw)

	// Cleared lines are not read again.
	m.Clear("worker")
	assert.Empty(t, m.Entries("worker", 10, ""))

	require.NoError(t, os.Remove(path))
	assert.Empty(t, m.Entries("worker", 10, ""), "missing file is no new data")
}

func TestRefreshFilesPublishes(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log")
	writeFile(t, a, "")
	writeFile(t, b, "")

	m := newTestMonitor(10)
	defer m.Close()
	m.AddSource("a", a)
	m.AddSource("b", b)
	ch, cancel := m.Subscribe()
	defer cancel()

	appendFile(t, a, "one\n")
	appendFile(t, b, "two\n")
	m.RefreshFiles()

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		e := <-ch
		got[e.Source] = e.Message
	}
	assert.Equal(t, map[string]string{"a": "one", "b": "two"}, got)
}
