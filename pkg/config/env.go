package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays DEVCONSOLE_* environment variables onto c.
func FromEnv(c *Config) {
	if v := os.Getenv("DEVCONSOLE_ALLOW_EVAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Terminal.AllowEval = b
		}
	}
	if v := os.Getenv("DEVCONSOLE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Logs.MaxEntries = n
		}
	}
	if v := os.Getenv("DEVCONSOLE_HISTORY_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Terminal.HistorySize = n
		}
	}
	if v := os.Getenv("DEVCONSOLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Terminal.Timeout = d
		}
	}
	if v := os.Getenv("DEVCONSOLE_SOCKET"); v != "" {
		c.Daemon.Socket = v
	}
	if v := os.Getenv("DEVCONSOLE_LISTEN"); v != "" {
		c.Daemon.Listen = v
	}
	if v := os.Getenv("DEVCONSOLE_SELF_HOSTS"); v != "" {
		c.HTTP.SelfHosts = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.HTTP.SelfHosts = append(c.HTTP.SelfHosts, p)
			}
		}
	}
}
