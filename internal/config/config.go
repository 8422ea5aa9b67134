// Package config loads the chat client configuration from YAML or
// JSON5 files, with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Config is the chat client configuration.
type Config struct {
	// Server holds the endpoints of the portal's chat backend.
	Server ServerConfig `yaml:"server" json:"server"`

	// Room is the channel to join. The portal runs one community-wide
	// room; the default is "community".
	Room string `yaml:"room" json:"room"`

	// Auth configures credential retrieval.
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// History configures backfill pagination.
	History HistoryConfig `yaml:"history" json:"history"`

	// Timeouts groups the client's timing knobs.
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Log configures logging output.
	Log LogConfig `yaml:"log" json:"log"`

	// Metrics enables Prometheus metric registration.
	Metrics bool `yaml:"metrics" json:"metrics"`
}

// ServerConfig holds endpoint URLs.
type ServerConfig struct {
	// EventsURL is the websocket endpoint for the event channel.
	EventsURL string `yaml:"events_url" json:"events_url"`
	// HistoryURL is the paged message-history REST endpoint.
	HistoryURL string `yaml:"history_url" json:"history_url"`
	// UploadURL is the media upload REST endpoint.
	UploadURL string `yaml:"upload_url" json:"upload_url"`
	// AuthRefreshURL is the credential refresh endpoint.
	AuthRefreshURL string `yaml:"auth_refresh_url" json:"auth_refresh_url"`
}

// AuthConfig configures the credential source.
type AuthConfig struct {
	// Token is the opaque credential. Supports ${ENV} expansion, so
	// "${CHAT_TOKEN}" reads from the environment.
	Token string `yaml:"token" json:"token"`
}

// HistoryConfig configures pagination.
type HistoryConfig struct {
	// PageSize is the number of messages per backfill page.
	PageSize int `yaml:"page_size" json:"page_size"`
}

// TimeoutConfig groups timing knobs in milliseconds. Zero values take
// defaults.
type TimeoutConfig struct {
	// ReconnectIntervalMs is the base reconnect delay; the delay grows
	// linearly with the attempt number.
	ReconnectIntervalMs int `yaml:"reconnect_interval_ms" json:"reconnect_interval_ms"`
	// ReconnectMaxAttempts caps automatic reconnection.
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts" json:"reconnect_max_attempts"`
	// ReconciliationMs bounds the wait for a send's server echo.
	ReconciliationMs int `yaml:"reconciliation_ms" json:"reconciliation_ms"`
	// TypingWindowMs is both the outbound typing refresh interval and
	// the inbound typing expiry window.
	TypingWindowMs int `yaml:"typing_window_ms" json:"typing_window_ms"`
}

// ReconnectInterval returns the reconnect base delay as a duration.
func (t TimeoutConfig) ReconnectInterval() time.Duration {
	return time.Duration(t.ReconnectIntervalMs) * time.Millisecond
}

// Reconciliation returns the echo wait bound as a duration.
func (t TimeoutConfig) Reconciliation() time.Duration {
	return time.Duration(t.ReconciliationMs) * time.Millisecond
}

// TypingWindow returns the typing refresh/expiry window as a duration.
func (t TimeoutConfig) TypingWindow() time.Duration {
	return time.Duration(t.TypingWindowMs) * time.Millisecond
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Room: "community",
		History: HistoryConfig{
			PageSize: 30,
		},
		Timeouts: TimeoutConfig{
			ReconnectIntervalMs:  2000,
			ReconnectMaxAttempts: 5,
			ReconciliationMs:     10000,
			TypingWindowMs:       2000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads, expands, and parses the file at path, layering it over
// the defaults, then validates.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults backfills zero values after parsing, since serialized
// configs may carry explicit zeroes.
func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Room == "" {
		c.Room = defaults.Room
	}
	if c.History.PageSize <= 0 {
		c.History.PageSize = defaults.History.PageSize
	}
	if c.Timeouts.ReconnectIntervalMs <= 0 {
		c.Timeouts.ReconnectIntervalMs = defaults.Timeouts.ReconnectIntervalMs
	}
	if c.Timeouts.ReconnectMaxAttempts <= 0 {
		c.Timeouts.ReconnectMaxAttempts = defaults.Timeouts.ReconnectMaxAttempts
	}
	if c.Timeouts.ReconciliationMs <= 0 {
		c.Timeouts.ReconciliationMs = defaults.Timeouts.ReconciliationMs
	}
	if c.Timeouts.TypingWindowMs <= 0 {
		c.Timeouts.TypingWindowMs = defaults.Timeouts.TypingWindowMs
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.EventsURL == "" {
		return fmt.Errorf("config: server.events_url is required")
	}
	if !strings.HasPrefix(c.Server.EventsURL, "ws://") && !strings.HasPrefix(c.Server.EventsURL, "wss://") {
		return fmt.Errorf("config: server.events_url must be a ws:// or wss:// URL")
	}
	if c.Server.HistoryURL == "" {
		return fmt.Errorf("config: server.history_url is required")
	}
	return nil
}
