package terminal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/devconsole/pkg/core"
)

func TestHistoryKeepsNewest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(core.HistoryRecord{Command: fmt.Sprint("cmd", i)})
	}
	require.Equal(t, 3, h.Len())

	got := h.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "cmd4", got[0].Command)
	assert.Equal(t, "cmd3", got[1].Command)
	assert.Equal(t, "cmd2", got[2].Command)

	assert.Len(t, h.Recent(2), 2)
	assert.Len(t, h.Recent(10), 3)
}

func TestHistoryAssignsIDsAndCopiesContext(t *testing.T) {
	h := NewHistory(0)
	ctx := map[string]any{"user": "neo"}
	a := h.Add(core.HistoryRecord{Command: "a", Context: ctx})
	b := h.Add(core.HistoryRecord{Command: "b"})

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	ctx["user"] = "trinity"
	assert.Equal(t, "neo", h.Recent(0)[1].Context["user"])
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(2)
	h.Add(core.HistoryRecord{Command: "a"})
	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Recent(0))

	h.Add(core.HistoryRecord{Command: "b"})
	assert.Equal(t, "b", h.Recent(1)[0].Command)
}
