package config

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks the configuration for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}
	if c.Logs.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("logs.max_entries must be positive, got %d", c.Logs.MaxEntries))
	}
	if c.Terminal.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("terminal.history_size must be positive, got %d", c.Terminal.HistorySize))
	}
	if c.Terminal.Timeout < 0 {
		errs = append(errs, fmt.Errorf("terminal.timeout must not be negative"))
	}
	if c.HTTP.PreviewLimit < 0 {
		errs = append(errs, fmt.Errorf("http.preview_limit must not be negative"))
	}

	seen := make(map[string]bool)
	for i, s := range c.Logs.Sources {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("logs.sources[%d]: name is required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("logs.sources[%d]: duplicate source %q", i, s.Name))
		}
		seen[s.Name] = true
	}
	for prefix, alias := range c.Logs.Aliases {
		if prefix == "" || alias == "" {
			errs = append(errs, fmt.Errorf("logs.aliases: empty prefix or alias (%q: %q)", prefix, alias))
		}
	}

	for _, name := range sortedKeys(c.Terminal.Commands) {
		if strings.ContainsAny(name, " \t\"'") || name == "" {
			errs = append(errs, fmt.Errorf("terminal.commands: invalid command name %q", name))
		}
		if strings.TrimSpace(c.Terminal.Commands[name]) == "" {
			errs = append(errs, fmt.Errorf("terminal.commands %q: command line is required", name))
		}
	}

	for _, name := range sortedKeys(c.Daemon.Exec) {
		x := c.Daemon.Exec[name]
		if x.Command == "" {
			errs = append(errs, fmt.Errorf("daemon.exec %q: command is required", name))
		}
		switch x.Restart {
		case "", RestartAlways, RestartOnFailure, RestartNever:
		default:
			errs = append(errs, fmt.Errorf("daemon.exec %q: restart must be always, on-failure, or never; got %q", name, x.Restart))
		}
	}

	seenUnits := make(map[string]bool)
	for _, unit := range c.Daemon.Journal {
		if strings.TrimSpace(unit) == "" || strings.ContainsAny(unit, " \t") {
			errs = append(errs, fmt.Errorf("daemon.journal: invalid unit name %q", unit))
		}
		if seenUnits[unit] {
			errs = append(errs, fmt.Errorf("daemon.journal: duplicate unit %q", unit))
		}
		seenUnits[unit] = true
	}
	if c.Daemon.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("daemon.poll_interval must not be negative"))
	}

	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
