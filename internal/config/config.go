package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.telechat/config.toml.
type Config struct {
	// ServerURL is the messaging server's HTTP base URL.
	ServerURL string `toml:"server_url"`
	// WebsocketURL is the live event endpoint. Derived from ServerURL
	// when empty.
	WebsocketURL string `toml:"websocket_url"`
	// DefaultProfile selects the profile when no flag overrides it.
	DefaultProfile string `toml:"default_profile"`
	// PageSize bounds message pages fetched per chat.
	PageSize int `toml:"page_size"`

	Reconnect ReconnectConfig `toml:"reconnect"`
}

// ReconnectConfig tunes the connection manager's retry behavior.
type ReconnectConfig struct {
	BaseDelay   duration `toml:"base_delay"`
	MaxDelay    duration `toml:"max_delay"`
	MaxAttempts int      `toml:"max_attempts"`
}

type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// BaseDelayOrDefault returns the configured backoff floor, defaulting to 1s.
func (r ReconnectConfig) BaseDelayOrDefault() time.Duration {
	if r.BaseDelay > 0 {
		return time.Duration(r.BaseDelay)
	}
	return time.Second
}

// MaxDelayOrDefault returns the configured backoff ceiling, defaulting to 30s.
func (r ReconnectConfig) MaxDelayOrDefault() time.Duration {
	if r.MaxDelay > 0 {
		return time.Duration(r.MaxDelay)
	}
	return 30 * time.Second
}

// MaxAttemptsOrDefault returns the reconnect attempt budget, defaulting to 5.
func (r ReconnectConfig) MaxAttemptsOrDefault() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return 5
}

// PageSizeOrDefault returns the message page size, defaulting to 100.
func (c *Config) PageSizeOrDefault() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return 100
}

// WebsocketURLOrDerived returns the configured websocket endpoint, or one
// derived from the server URL by swapping the scheme.
func (c *Config) WebsocketURLOrDerived() string {
	if c.WebsocketURL != "" {
		return c.WebsocketURL
	}
	u := c.ServerURL
	switch {
	case len(u) >= 8 && u[:8] == "https://":
		u = "wss://" + u[8:]
	case len(u) >= 7 && u[:7] == "http://":
		u = "ws://" + u[7:]
	}
	return u + "/api/v1/ws"
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
