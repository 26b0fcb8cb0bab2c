// Package config loads server configuration from an optional YAML file
// with environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "90s" decode.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the server settings.
type Config struct {
	ListenAddr     string   `yaml:"listen_addr"`
	RedisAddr      string   `yaml:"redis_addr"`
	HistoryLimit   int      `yaml:"history_limit"`
	MaxConns       int      `yaml:"max_conns"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
	RegisterLimit  int      `yaml:"register_limit"`
	RegisterWindow Duration `yaml:"register_window"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		HistoryLimit:   50,
		RegisterLimit:  10,
		RegisterWindow: Duration(time.Minute),
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables. Unset or
// malformed values leave the existing setting in place.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HistoryLimit = n
		}
	}
	if v := os.Getenv("MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxConns = n
		}
	}
	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.IdleTimeout = Duration(d)
		}
	}
	if v := os.Getenv("REGISTER_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RegisterLimit = n
		}
	}
	if v := os.Getenv("REGISTER_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.RegisterWindow = Duration(d)
		}
	}
}
