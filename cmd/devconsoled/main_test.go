package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modoterra/devconsole/pkg/config"
)

func TestVersionCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "devconsoled ") {
		t.Errorf("unexpected version output: %q", buf.String())
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devconsole.yaml")
	content := []byte(`version: 1
name: shop
root: .
logs:
  sources:
    - name: app
      path: ${root}/app.log
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	configPath = path
	t.Cleanup(func() { configPath = "" })

	cfg, err := loadConfig(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "shop" {
		t.Errorf("name = %q", cfg.Name)
	}
	if want := filepath.Join(dir, "app.log"); cfg.Logs.Sources[0].Path != want {
		t.Errorf("source path = %q, want %q", cfg.Logs.Sources[0].Path, want)
	}
}

func TestHostSettingsFromEnv(t *testing.T) {
	t.Setenv("DEVCONSOLE_ENV", "staging")
	t.Setenv("SECRET_KEY", "hunter2")
	cfg := config.Default()
	s := hostSettings(cfg)
	if s["ENV"] != "staging" {
		t.Errorf("ENV = %v", s["ENV"])
	}
	// Masking is the console's job; the host reports raw values.
	if s["SECRET_KEY"] != "hunter2" {
		t.Errorf("SECRET_KEY = %v", s["SECRET_KEY"])
	}
}
