package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modoterra/devconsole/pkg/config"
	"github.com/modoterra/devconsole/pkg/core"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestConfigValidateCommand(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), config.FileName)
	content := []byte(`version: 1
name: test
root: /app
logs:
  sources:
    - name: app
    - name: nginx
      path: /var/log/nginx/error.log
daemon:
  exec:
    web:
      command: php artisan serve
`)
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "config", "validate", tmp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidateInvalid(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "bad.yaml")
	content := []byte(`version: 2
daemon:
  exec:
    web:
      restart: sometimes
`)
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		t.Fatal(err)
	}

	_, errOut, err := execute(t, "config", "validate", tmp)
	if !errors.Is(err, errSilent) {
		t.Fatalf("err = %v, want errSilent", err)
	}
	if !strings.Contains(errOut, "✗") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestConfigInitLaravel(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "artisan"), []byte("#!/usr/bin/env php"), 0o755); err != nil {
		t.Fatal(err)
	}

	tmp := filepath.Join(t.TempDir(), config.FileName)
	if _, _, err := execute(t, "config", "init", "--root", root, "--output", tmp); err != nil {
		t.Fatal(err)
	}

	c, err := config.Load(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Daemon.Exec["queue-worker"]; !ok {
		t.Errorf("exec = %v, want queue-worker", c.Daemon.Exec)
	}

	// A second run must not clobber the file.
	if _, _, err := execute(t, "config", "init", "--root", root, "--output", tmp); err == nil {
		t.Error("expected an error for an existing file")
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "devconsole ") {
		t.Errorf("output = %q", out)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("15m", now)
	if err != nil || !got.Equal(now.Add(-15*time.Minute)) {
		t.Errorf("parseSince(15m) = %v, %v", got, err)
	}
	got, err = parseSince("2024-05-01T10:00:00Z", now)
	if err != nil || got.Hour() != 10 {
		t.Errorf("parseSince(rfc3339) = %v, %v", got, err)
	}
	if got, err := parseSince("", now); err != nil || !got.IsZero() {
		t.Errorf("parseSince(\"\") = %v, %v", got, err)
	}
	if _, err := parseSince("yesterday", now); err == nil {
		t.Error("expected an error")
	}
}

func TestPrintResult(t *testing.T) {
	var out, errOut bytes.Buffer

	printResult(&out, &errOut, core.Text("hello"))
	printResult(&out, &errOut, core.Errorf("boom"))
	printResult(&out, &errOut, core.Result{Kind: core.KindEmpty})

	if out.String() != "hello\n" {
		t.Errorf("stdout = %q", out.String())
	}
	if errOut.String() != "boom\n" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[uint64]string{0: "-", 512: "512B", 2048: "2.0K", 3 << 20: "3.0M"}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
