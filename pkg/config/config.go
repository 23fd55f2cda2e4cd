// Package config loads the devconsole.yaml configuration file.
package config

import "time"

// FileName is the conventional configuration file name.
const FileName = "devconsole.yaml"

// Config represents a devconsole.yaml configuration file.
type Config struct {
	Version        int      `yaml:"version"          json:"version"`
	Name           string   `yaml:"name"             json:"name"`
	Root           string   `yaml:"root"             json:"root"`
	Logs           Logs     `yaml:"logs"             json:"logs"`
	Terminal       Terminal `yaml:"terminal"         json:"terminal"`
	HTTP           HTTP     `yaml:"http"             json:"http"`
	SafeConfigKeys []string `yaml:"safe_config_keys" json:"safe_config_keys,omitempty"`
	Daemon         Daemon   `yaml:"daemon"           json:"daemon"`
}

// Logs configures log aggregation.
type Logs struct {
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
	// CaptureRoot routes the process-wide default logger into the console.
	CaptureRoot bool `yaml:"capture_root" json:"capture_root"`
	// Capture lists producer channels attached at startup.
	Capture []string `yaml:"capture,omitempty" json:"capture,omitempty"`
	// Aliases maps channel prefixes to logical source names.
	Aliases    map[string]string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Sources    []Source          `yaml:"sources,omitempty" json:"sources,omitempty"`
	AllowClear bool              `yaml:"allow_clear"       json:"allow_clear"`
}

// Source declares a logical log source, optionally backed by a file.
type Source struct {
	Name string `yaml:"name"           json:"name"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Terminal configures command execution.
type Terminal struct {
	HistorySize   int               `yaml:"history_size"       json:"history_size"`
	Timeout       time.Duration     `yaml:"timeout"            json:"timeout"`
	AllowEval     bool              `yaml:"allow_eval"         json:"allow_eval"`
	EvalCostLimit uint64            `yaml:"eval_cost_limit"    json:"eval_cost_limit"`
	Commands      map[string]string `yaml:"commands,omitempty" json:"commands,omitempty"` // name -> command line
}

// HTTP configures the request invoker.
type HTTP struct {
	Timeout      time.Duration `yaml:"timeout"              json:"timeout"`
	PreviewLimit int           `yaml:"preview_limit"        json:"preview_limit"`
	SelfHosts    []string      `yaml:"self_hosts,omitempty" json:"self_hosts,omitempty"`
}

// Daemon configures devconsoled.
type Daemon struct {
	Socket string          `yaml:"socket"         json:"socket"`
	Listen string          `yaml:"listen"         json:"listen"`
	Exec   map[string]Exec `yaml:"exec,omitempty" json:"exec,omitempty"`
	// Journal lists systemd units whose journal is followed into the
	// "journal.<unit>" channel.
	Journal []string `yaml:"journal,omitempty" json:"journal,omitempty"`
	// PollInterval is how often process state and file sources are refreshed.
	PollInterval time.Duration `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
}

// Exec is a child process supervised by the daemon. Its output is captured
// into the log source of the same name.
type Exec struct {
	Command string            `yaml:"command"           json:"command"`
	Dir     string            `yaml:"dir,omitempty"     json:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"     json:"env,omitempty"`
	Restart string            `yaml:"restart,omitempty" json:"restart,omitempty"` // always|on-failure|never
}

// Restart policies of supervised processes.
const (
	RestartAlways    = "always"
	RestartOnFailure = "on-failure"
	RestartNever     = "never"
)

// Defaults.
const (
	DefaultMaxEntries    = 1000
	DefaultHistorySize   = 100
	DefaultTimeout       = 30 * time.Second
	DefaultEvalCostLimit = 1_000_000
	DefaultHTTPTimeout   = 10 * time.Second
	DefaultPreviewLimit  = 2000
	DefaultSocket        = "/tmp/devconsole.sock"
	DefaultListen        = "127.0.0.1:8750"
	DefaultPollInterval  = 2 * time.Second
)

// DefaultSafeConfigKeys are the host settings the config command shows when
// none are configured.
var DefaultSafeConfigKeys = []string{"ENV", "DEBUG", "TESTING", "SECRET_KEY", "LISTEN"}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Version: 1}
	c.applyDefaults()
	return c
}

// applyDefaults fills zero values.
func (c *Config) applyDefaults() {
	if c.Logs.MaxEntries == 0 {
		c.Logs.MaxEntries = DefaultMaxEntries
	}
	if c.Terminal.HistorySize == 0 {
		c.Terminal.HistorySize = DefaultHistorySize
	}
	if c.Terminal.Timeout == 0 {
		c.Terminal.Timeout = DefaultTimeout
	}
	if c.Terminal.EvalCostLimit == 0 {
		c.Terminal.EvalCostLimit = DefaultEvalCostLimit
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = DefaultHTTPTimeout
	}
	if c.HTTP.PreviewLimit == 0 {
		c.HTTP.PreviewLimit = DefaultPreviewLimit
	}
	if c.SafeConfigKeys == nil {
		c.SafeConfigKeys = append([]string(nil), DefaultSafeConfigKeys...)
	}
	if c.Daemon.Socket == "" {
		c.Daemon.Socket = DefaultSocket
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = DefaultListen
	}
	if c.Daemon.PollInterval == 0 {
		c.Daemon.PollInterval = DefaultPollInterval
	}
}
