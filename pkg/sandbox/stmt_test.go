package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	src := "a = \"x;y\"; b = {\"k\": [1,\n2]}\n// comment\n\nc = a\nprint(c)"
	got, err := splitStatements(src)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, statement{line: 1, target: "a", expr: `"x;y"`}, got[0])
	assert.Equal(t, "b", got[1].target)
	assert.Equal(t, "{\"k\": [1,\n2]}", got[1].expr)
	assert.Equal(t, statement{line: 5, target: "c", expr: "a"}, got[2])
	assert.Equal(t, statement{line: 6, expr: "print(c)"}, got[3])
}

func TestSplitStatementsUnterminated(t *testing.T) {
	_, err := splitStatements(`a = "open`)
	assert.Error(t, err)
}

func TestSplitAssignment(t *testing.T) {
	tests := []struct {
		in, target, expr string
	}{
		{"x = 1", "x", "1"},
		{"x=1", "x", "1"},
		{"total += n", "total", "total + (n)"},
		{"x == 1", "", "x == 1"},
		{"x <= 1", "", "x <= 1"},
		{"x != 1", "", "x != 1"},
		{"f(x)", "", "f(x)"},
		{"_v2 = [1]", "_v2", "[1]"},
		{"2 = x", "", "2 = x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			target, expr := splitAssignment(tt.in)
			assert.Equal(t, tt.target, target)
			assert.Equal(t, tt.expr, expr)
		})
	}
}
