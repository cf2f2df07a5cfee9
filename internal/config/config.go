// Package config loads and validates the monitoring client configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a monitoring session.
type Config struct {
	// Server holds the endpoints of the tracking backend.
	Server ServerConfig `yaml:"server"`

	// Session tunes session-scoped timing behavior.
	Session SessionConfig `yaml:"session"`

	// Reconnect tunes the transport reconnect backoff.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// MetricsAddr, when non-empty, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ServerConfig holds backend endpoints.
type ServerConfig struct {
	// BaseURL is the REST API base, e.g. "http://localhost:3060/api".
	BaseURL string `yaml:"base_url"`

	// SocketURL is the websocket endpoint, e.g. "ws://localhost:3060/api/socket".
	// Derived from BaseURL when empty.
	SocketURL string `yaml:"socket_url"`
}

// SessionConfig tunes the session-scoped intervals.
type SessionConfig struct {
	// PollInterval is the attendance snapshot poll interval.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SweepInterval is the geo staleness sweep interval.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Staleness is the age past which a worker location entry expires.
	Staleness time.Duration `yaml:"staleness"`

	// TapCooldown suppresses duplicate notification-tap navigations.
	TapCooldown time.Duration `yaml:"tap_cooldown"`
}

// ReconnectConfig tunes the transport backoff.
type ReconnectConfig struct {
	InitialMs float64 `yaml:"initial_ms"`
	MaxMs     float64 `yaml:"max_ms"`
	Factor    float64 `yaml:"factor"`
	Jitter    float64 `yaml:"jitter"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			PollInterval:  5 * time.Second,
			SweepInterval: 5 * time.Second,
			Staleness:     12 * time.Second,
			TapCooldown:   2 * time.Second,
		},
		Reconnect: ReconnectConfig{
			InitialMs: 500,
			MaxMs:     30000,
			Factor:    2,
			Jitter:    0.2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file, expanding ${ENV} references, and applies
// defaults for anything unset.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields so a sparse file still yields a
// runnable configuration.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Session.PollInterval <= 0 {
		c.Session.PollInterval = def.Session.PollInterval
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = def.Session.SweepInterval
	}
	if c.Session.Staleness <= 0 {
		c.Session.Staleness = def.Session.Staleness
	}
	if c.Session.TapCooldown <= 0 {
		c.Session.TapCooldown = def.Session.TapCooldown
	}
	if c.Reconnect.InitialMs <= 0 {
		c.Reconnect.InitialMs = def.Reconnect.InitialMs
	}
	if c.Reconnect.MaxMs <= 0 {
		c.Reconnect.MaxMs = def.Reconnect.MaxMs
	}
	if c.Reconnect.Factor <= 0 {
		c.Reconnect.Factor = def.Reconnect.Factor
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Server.SocketURL == "" && c.Server.BaseURL != "" {
		c.Server.SocketURL = deriveSocketURL(c.Server.BaseURL)
	}
}

// Validate checks invariants a running session depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	u, err := url.Parse(c.Server.SocketURL)
	if err != nil {
		return fmt.Errorf("server.socket_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.socket_url must use ws or wss, got %q", u.Scheme)
	}
	if c.Session.Staleness <= c.Session.SweepInterval {
		return fmt.Errorf("session.staleness (%s) must exceed session.sweep_interval (%s)",
			c.Session.Staleness, c.Session.SweepInterval)
	}
	return nil
}

// deriveSocketURL maps an http(s) REST base to the ws(s) socket endpoint.
func deriveSocketURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket"
	return u.String()
}
