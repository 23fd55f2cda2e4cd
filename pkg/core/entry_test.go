package core

import "testing"

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" info ", LevelInfo},
		{"WARNING", LevelWarning},
		{"warn", LevelWarning},
		{"ERROR", LevelError},
		{"CRITICAL", LevelCritical},
		{"fatal", LevelCritical},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLookupLevel(t *testing.T) {
	if l, ok := LookupLevel("warn"); !ok || l != LevelWarning {
		t.Errorf("LookupLevel(warn) = %q, %v", l, ok)
	}
	if _, ok := LookupLevel("verbose"); ok {
		t.Error("verbose must not be a level")
	}
	if _, ok := LookupLevel(""); ok {
		t.Error("empty string must not be a level")
	}
}

func TestExtractLevel(t *testing.T) {
	tests := []struct {
		line string
		want Level
	}{
		{"2024-01-01 12:00:00 ERROR db: connection refused", LevelError},
		{"[warn] disk almost full", LevelWarning},
		{"INFO request served, ERROR count=0", LevelError},
		{"fatal: out of memory", LevelCritical},
		{"plain line without a level", LevelInfo},
		{"DEBUG cache miss", LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := ExtractLevel(tt.line); got != tt.want {
				t.Errorf("ExtractLevel(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestResultConstructors(t *testing.T) {
	if r := Text("hi"); r.Kind != KindText || r.Output != "hi" {
		t.Errorf("Text: got %+v", r)
	}
	if r := Errorf("bad %d", 1); r.Kind != KindError || r.Output != "bad 1" {
		t.Errorf("Errorf: got %+v", r)
	}
	if r := Warning("careful"); r.Kind != KindWarning {
		t.Errorf("Warning: got %+v", r)
	}
}
