package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a configuration, applies defaults and expands ${root} and
// ${ENV} references.
func Parse(data []byte) (*Config, error) {
	c, err := decode(data)
	if err != nil {
		return nil, err
	}
	c.interpolate()
	return c, nil
}

func decode(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

// Load reads and parses path. A relative or empty root resolves against the
// directory holding the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	if root := os.ExpandEnv(c.Root); !filepath.IsAbs(root) {
		c.Root = filepath.Join(dir, root)
	}
	c.interpolate()
	return c, nil
}

// Save writes c as YAML to path.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Find walks up from dir looking for FileName.
func Find(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		p := filepath.Join(dir, FileName)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// interpolate expands ${root} to the configured root and any other ${NAME}
// to the environment variable NAME.
func (c *Config) interpolate() {
	c.Root = os.ExpandEnv(c.Root)
	expand := func(s string) string {
		if !strings.Contains(s, "$") {
			return s
		}
		return os.Expand(s, func(name string) string {
			if name == "root" {
				return c.Root
			}
			return os.Getenv(name)
		})
	}
	for i := range c.Logs.Sources {
		c.Logs.Sources[i].Path = expand(c.Logs.Sources[i].Path)
	}
	c.Daemon.Socket = expand(c.Daemon.Socket)
	for name, x := range c.Daemon.Exec {
		x.Command = expand(x.Command)
		x.Dir = expand(x.Dir)
		for k, v := range x.Env {
			x.Env[k] = expand(v)
		}
		c.Daemon.Exec[name] = x
	}
}
