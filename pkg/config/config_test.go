package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseValidConfig(t *testing.T) {
	yaml := `
version: 1
name: shop
root: /srv/shop
logs:
  max_entries: 500
  capture: [sqlalchemy.engine]
  aliases:
    sqlalchemy.: sql
  sources:
    - name: app
    - name: nginx
      path: "${root}/var/log/access.log"
terminal:
  history_size: 50
  timeout: 5s
  allow_eval: true
  commands:
    recent: "logs 20 --level ERROR"
http:
  preview_limit: 500
  self_hosts: [shop.local]
daemon:
  exec:
    worker:
      command: "./bin/worker --queue default"
      dir: "${root}"
      restart: on-failure
`
	c, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if c.Name != "shop" {
		t.Errorf("name: got %q", c.Name)
	}
	if c.Logs.MaxEntries != 500 {
		t.Errorf("max_entries: got %d", c.Logs.MaxEntries)
	}
	if c.Logs.Aliases["sqlalchemy."] != "sql" {
		t.Errorf("aliases: got %v", c.Logs.Aliases)
	}
	if got := c.Logs.Sources[1].Path; got != "/srv/shop/var/log/access.log" {
		t.Errorf("source path interpolation: got %q", got)
	}
	if c.Terminal.Timeout != 5*time.Second {
		t.Errorf("timeout: got %v", c.Terminal.Timeout)
	}
	if !c.Terminal.AllowEval {
		t.Error("allow_eval not set")
	}
	if c.Daemon.Exec["worker"].Dir != "/srv/shop" {
		t.Errorf("exec dir interpolation: got %q", c.Daemon.Exec["worker"].Dir)
	}
	// Unset keys keep their defaults.
	if c.HTTP.Timeout != DefaultHTTPTimeout {
		t.Errorf("http timeout: got %v", c.HTTP.Timeout)
	}
	if c.Daemon.Socket != DefaultSocket {
		t.Errorf("socket: got %q", c.Daemon.Socket)
	}
	if errs := Validate(c); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Logs.MaxEntries != 1000 || c.Terminal.HistorySize != 100 {
		t.Errorf("capacities: got %d/%d", c.Logs.MaxEntries, c.Terminal.HistorySize)
	}
	if c.Terminal.Timeout != 30*time.Second {
		t.Errorf("timeout: got %v", c.Terminal.Timeout)
	}
	if c.Terminal.AllowEval {
		t.Error("eval must be off by default")
	}
	if c.HTTP.PreviewLimit != 2000 {
		t.Errorf("preview limit: got %d", c.HTTP.PreviewLimit)
	}
	if errs := Validate(c); len(errs) != 0 {
		t.Errorf("default config invalid: %v", errs)
	}
}

func TestInterpolationEnv(t *testing.T) {
	t.Setenv("SHOP_LOGS", "/data/logs")
	c, err := Parse([]byte(`
version: 1
root: /srv/shop
logs:
  sources:
    - name: app
      path: "${SHOP_LOGS}/app.log"
daemon:
  exec:
    web:
      command: "serve --root ${root}"
      env:
        LOG_DIR: "${SHOP_LOGS}"
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Logs.Sources[0].Path; got != "/data/logs/app.log" {
		t.Errorf("path: got %q", got)
	}
	web := c.Daemon.Exec["web"]
	if web.Command != "serve --root /srv/shop" {
		t.Errorf("command: got %q", web.Command)
	}
	if web.Env["LOG_DIR"] != "/data/logs" {
		t.Errorf("env: got %v", web.Env)
	}
}

func TestLoadResolvesRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	data := "version: 1\nroot: app\nlogs:\n  sources:\n    - name: app\n      path: \"${root}/app.log\"\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := filepath.Join(dir, "app"); c.Root != want {
		t.Errorf("root: got %q, want %q", c.Root, want)
	}
	if want := filepath.Join(dir, "app", "app.log"); c.Logs.Sources[0].Path != want {
		t.Errorf("path: got %q, want %q", c.Logs.Sources[0].Path, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("version: [")); err == nil {
		t.Fatal("expected error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	c := Default()
	c.Name = "shop"
	c.Root = "/srv/shop"
	c.Terminal.Timeout = 90 * time.Second
	c.Logs.Sources = []Source{{Name: "app", Path: "/srv/shop/app.log"}}

	path := filepath.Join(t.TempDir(), FileName)
	if err := Save(c, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "timeout: 1m30s") {
		t.Errorf("durations should be written as strings:\n%s", raw)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "shop" || got.Terminal.Timeout != 90*time.Second || got.Logs.Sources[0].Path != "/srv/shop/app.log" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("version: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, ok := Find(nested)
	if !ok || path != filepath.Join(dir, FileName) {
		t.Errorf("find: got %q, %v", path, ok)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DEVCONSOLE_ALLOW_EVAL", "1")
	t.Setenv("DEVCONSOLE_MAX_ENTRIES", "42")
	t.Setenv("DEVCONSOLE_HISTORY_SIZE", "bogus")
	t.Setenv("DEVCONSOLE_SOCKET", "/run/dc.sock")
	t.Setenv("DEVCONSOLE_SELF_HOSTS", "a.local, b.local,")

	c := Default()
	FromEnv(c)
	if !c.Terminal.AllowEval {
		t.Error("allow eval not applied")
	}
	if c.Logs.MaxEntries != 42 {
		t.Errorf("max entries: got %d", c.Logs.MaxEntries)
	}
	if c.Terminal.HistorySize != DefaultHistorySize {
		t.Errorf("invalid values must be ignored, got %d", c.Terminal.HistorySize)
	}
	if c.Daemon.Socket != "/run/dc.sock" {
		t.Errorf("socket: got %q", c.Daemon.Socket)
	}
	if len(c.HTTP.SelfHosts) != 2 || c.HTTP.SelfHosts[1] != "b.local" {
		t.Errorf("self hosts: got %v", c.HTTP.SelfHosts)
	}
}

func TestValidateVersionMustBe1(t *testing.T) {
	c := Default()
	c.Version = 2
	assertHasError(t, Validate(c), "version must be 1")
}

func TestValidateCapacities(t *testing.T) {
	c := Default()
	c.Logs.MaxEntries = -1
	c.Terminal.HistorySize = -5
	errs := Validate(c)
	assertHasError(t, errs, "max_entries must be positive")
	assertHasError(t, errs, "history_size must be positive")
}

func TestValidateSources(t *testing.T) {
	c := Default()
	c.Logs.Sources = []Source{{Name: "app"}, {Name: "app"}, {Path: "/x.log"}}
	errs := Validate(c)
	assertHasError(t, errs, "duplicate source")
	assertHasError(t, errs, "name is required")
}

func TestValidateCommands(t *testing.T) {
	c := Default()
	c.Terminal.Commands = map[string]string{"two words": "help", "empty": " "}
	errs := Validate(c)
	assertHasError(t, errs, "invalid command name")
	assertHasError(t, errs, "command line is required")
}

func TestValidateExecRequiresCommand(t *testing.T) {
	c := Default()
	c.Daemon.Exec = map[string]Exec{"serve": {}}
	assertHasError(t, Validate(c), "command is required")
}

func TestValidateExecBadRestart(t *testing.T) {
	c := Default()
	c.Daemon.Exec = map[string]Exec{"serve": {Command: "foo", Restart: "bogus"}}
	assertHasError(t, Validate(c), "restart must be")
}

func TestValidateExecValidRestartPolicies(t *testing.T) {
	for _, policy := range []string{"always", "on-failure", "never", ""} {
		c := Default()
		c.Daemon.Exec = map[string]Exec{"s": {Command: "foo", Restart: policy}}
		if errs := Validate(c); len(errs) != 0 {
			t.Errorf("restart=%q: unexpected errors: %v", policy, errs)
		}
	}
}

func TestValidateJournalUnits(t *testing.T) {
	c := Default()
	c.Daemon.Journal = []string{"nginx.service", "nginx.service", "bad unit"}
	errs := Validate(c)
	assertHasError(t, errs, "duplicate unit")
	assertHasError(t, errs, "invalid unit name")
}

func assertHasError(t *testing.T, errs []error, substr string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e.Error(), substr) {
			return
		}
	}
	t.Errorf("expected error containing %q, got: %v", substr, errs)
}
