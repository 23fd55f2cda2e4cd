// Package presets generates a starting devconsole.yaml for an existing
// project by looking at what is on disk.
package presets

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modoterra/devconsole/pkg/config"
)

// logDirs are searched, relative to the project root, for *.log files.
var logDirs = []string{".", "logs", "log", "storage/logs", "var/log", "tmp/log"}

// Generate creates a configuration for the project at root.
func Generate(root string) (*config.Config, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	fi, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absRoot)
	}

	c := config.Default()
	c.Name = filepath.Base(absRoot)
	c.Root = absRoot
	c.Logs.Sources = append([]config.Source{{Name: "app"}}, discoverLogs(absRoot)...)

	exec := make(map[string]config.Exec)
	if _, err := os.Stat(filepath.Join(absRoot, "artisan")); err == nil {
		exec["scheduler"] = config.Exec{Command: "php artisan schedule:work", Dir: "${root}", Restart: config.RestartAlways}
		exec["queue-worker"] = config.Exec{Command: "php artisan queue:work", Dir: "${root}", Restart: config.RestartOnFailure}
	}
	if hasNpmScript(filepath.Join(absRoot, "package.json"), "dev") {
		exec["vite"] = config.Exec{Command: "npm run dev", Dir: "${root}", Restart: config.RestartAlways}
	}
	procs, err := readProcfile(filepath.Join(absRoot, "Procfile"))
	if err != nil {
		return nil, err
	}
	for name, cmd := range procs {
		exec[name] = config.Exec{Command: cmd, Dir: "${root}", Restart: config.RestartOnFailure}
	}
	if len(exec) > 0 {
		c.Daemon.Exec = exec
	}

	return c, nil
}

// discoverLogs returns one source per log file found, named after the file.
// Paths are written relative to ${root}.
func discoverLogs(root string) []config.Source {
	var out []config.Source
	seen := map[string]bool{"app": true}
	for _, dir := range logDirs {
		matches, _ := filepath.Glob(filepath.Join(root, dir, "*.log"))
		sort.Strings(matches)
		for _, m := range matches {
			rel, err := filepath.Rel(root, m)
			if err != nil {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(m), ".log")
			if seen[name] {
				name = strings.ReplaceAll(filepath.ToSlash(strings.TrimSuffix(rel, ".log")), "/", ".")
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, config.Source{Name: name, Path: "${root}/" + filepath.ToSlash(rel)})
		}
	}
	return out
}

func hasNpmScript(path, script string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	_, ok := pkg.Scripts[script]
	return ok
}

// readProcfile parses "name: command" lines. A missing file is not an error.
func readProcfile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open Procfile: %w", err)
	}
	defer f.Close()

	procs := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, cmd, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if name, cmd = strings.TrimSpace(name), strings.TrimSpace(cmd); name != "" && cmd != "" {
			procs[name] = cmd
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read Procfile: %w", err)
	}
	return procs, nil
}
