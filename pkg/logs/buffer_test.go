package logs

import (
	"strconv"
	"testing"

	"github.com/modoterra/devconsole/pkg/core"
)

func TestStreamBufferEvictsOldest(t *testing.T) {
	const n = 5
	for k := 1; k <= 7; k++ {
		t.Run(strconv.Itoa(k), func(t *testing.T) {
			b := NewStreamBuffer(n)
			for i := 0; i < n+k; i++ {
				b.Append(core.LogEntry{Message: strconv.Itoa(i)})
			}
			snap := b.Snapshot()
			if len(snap) != n {
				t.Fatalf("len = %d, want %d", len(snap), n)
			}
			for i, e := range snap {
				if want := strconv.Itoa(k + i); e.Message != want {
					t.Errorf("snap[%d] = %q, want %q", i, e.Message, want)
				}
			}
		})
	}
}

func TestStreamBufferPartial(t *testing.T) {
	b := NewStreamBuffer(10)
	b.Append(core.LogEntry{Message: "a"})
	b.Append(core.LogEntry{Message: "b"})
	snap := b.Snapshot()
	if len(snap) != 2 || snap[0].Message != "a" || snap[1].Message != "b" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if b.Cap() != 10 {
		t.Errorf("Cap() = %d", b.Cap())
	}
}

func TestStreamBufferClear(t *testing.T) {
	b := NewStreamBuffer(3)
	for i := 0; i < 5; i++ {
		b.Append(core.LogEntry{Message: strconv.Itoa(i)})
	}
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("Len() after Clear = %d", b.Len())
	}
	b.Append(core.LogEntry{Message: "x"})
	if snap := b.Snapshot(); len(snap) != 1 || snap[0].Message != "x" {
		t.Fatalf("snapshot after Clear = %+v", snap)
	}
}

func TestStreamBufferDefaultCapacity(t *testing.T) {
	if got := NewStreamBuffer(0).Cap(); got != DefaultMaxEntries {
		t.Errorf("Cap() = %d, want %d", got, DefaultMaxEntries)
	}
}
