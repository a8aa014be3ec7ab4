// Package config handles configuration loading and management for catchat.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/catchat-dev/catchat/internal/appdir"
)

// ConfigPathEnv overrides the settings file location when set.
const ConfigPathEnv = "CATCHATRC"

// ChannelConfig holds connection-lifecycle tunables for the duplex channel.
type ChannelConfig struct {
	// Endpoint is the WebSocket endpoint; the client identity is appended
	// as the `code` query parameter.
	Endpoint string
	// KeepaliveInterval is the outbound liveness probe period (default 30s).
	KeepaliveInterval time.Duration
	// ReconnectBase is the first reconnect delay (default 3s).
	ReconnectBase time.Duration
	// ReconnectMultiplier grows the delay per attempt (default 1.5).
	ReconnectMultiplier float64
	// MaxReconnectAttempts bounds automatic reconnection (default 5).
	MaxReconnectAttempts int
}

// APIConfig holds the job-control REST collaborator settings.
type APIConfig struct {
	// BaseURL is the REST API base, e.g. "https://host:9943/api".
	BaseURL string `yaml:"base_url"`
	// RequestsPerSecond rate-limits outbound API calls (default 5).
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the rate limiter burst size (default 10).
	Burst int `yaml:"burst"`
}

// ChatConfig holds the chat-completion collaborator settings.
type ChatConfig struct {
	// Endpoint is the OpenAI-compatible completions URL.
	Endpoint string `yaml:"endpoint"`
	// APIKey authorizes requests; empty enables the canned offline reply.
	APIKey string `yaml:"api_key"`
	// Model selects the completion model (default "deepseek-chat").
	Model string `yaml:"model"`
	// Temperature for sampling (default 0.7).
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps the response length (default 2000).
	MaxTokens int `yaml:"max_tokens"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	JSON       bool   `yaml:"json"`
	Components string `yaml:"components"`
}

// Config represents the complete catchat configuration.
type Config struct {
	Channel ChannelConfig
	API     APIConfig
	Chat    ChatConfig
	// Storage selects the durable state backend: "file" (default) or "sqlite".
	Storage string
	Logging LoggingConfig
}

// rawConfig is used for YAML unmarshaling; durations are strings parsed with
// time.ParseDuration (e.g. "30s", "1.5m").
type rawConfig struct {
	Channel struct {
		Endpoint             string  `yaml:"endpoint"`
		KeepaliveInterval    string  `yaml:"keepalive_interval"`
		ReconnectBase        string  `yaml:"reconnect_base"`
		ReconnectMultiplier  float64 `yaml:"reconnect_multiplier"`
		MaxReconnectAttempts int     `yaml:"max_reconnect_attempts"`
	} `yaml:"channel"`
	API     APIConfig     `yaml:"api"`
	Chat    ChatConfig    `yaml:"chat"`
	Storage string        `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Channel.KeepaliveInterval <= 0 {
		c.Channel.KeepaliveInterval = 30 * time.Second
	}
	if c.Channel.ReconnectBase <= 0 {
		c.Channel.ReconnectBase = 3 * time.Second
	}
	if c.Channel.ReconnectMultiplier <= 0 {
		c.Channel.ReconnectMultiplier = 1.5
	}
	if c.Channel.MaxReconnectAttempts <= 0 {
		c.Channel.MaxReconnectAttempts = 5
	}
	if c.API.RequestsPerSecond <= 0 {
		c.API.RequestsPerSecond = 5
	}
	if c.API.Burst <= 0 {
		c.API.Burst = 10
	}
	if c.Chat.Endpoint == "" {
		c.Chat.Endpoint = "https://api.deepseek.com/v1/chat/completions"
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "deepseek-chat"
	}
	if c.Chat.Temperature <= 0 {
		c.Chat.Temperature = 0.7
	}
	if c.Chat.MaxTokens <= 0 {
		c.Chat.MaxTokens = 2000
	}
	if c.Storage == "" {
		c.Storage = "file"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	if c.Channel.Endpoint == "" {
		return fmt.Errorf("channel.endpoint is required")
	}
	if c.Storage != "file" && c.Storage != "sqlite" {
		return fmt.Errorf("storage must be \"file\" or \"sqlite\", got %q", c.Storage)
	}
	return nil
}

// DefaultConfigPath returns the settings file path: the CATCHATRC environment
// variable when set, otherwise settings.yaml in the catchat data directory.
func DefaultConfigPath() (string, error) {
	if envPath := os.Getenv(ConfigPathEnv); envPath != "" {
		return envPath, nil
	}
	return appdir.SettingsPath()
}

// Load reads and parses the configuration file from the given path.
// Defaults are applied to unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := Config{
		API:     raw.API,
		Chat:    raw.Chat,
		Storage: raw.Storage,
		Logging: raw.Logging,
	}
	cfg.Channel.Endpoint = raw.Channel.Endpoint
	cfg.Channel.ReconnectMultiplier = raw.Channel.ReconnectMultiplier
	cfg.Channel.MaxReconnectAttempts = raw.Channel.MaxReconnectAttempts

	if raw.Channel.KeepaliveInterval != "" {
		d, err := time.ParseDuration(raw.Channel.KeepaliveInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid channel.keepalive_interval: %w", err)
		}
		cfg.Channel.KeepaliveInterval = d
	}
	if raw.Channel.ReconnectBase != "" {
		d, err := time.ParseDuration(raw.Channel.ReconnectBase)
		if err != nil {
			return nil, fmt.Errorf("invalid channel.reconnect_base: %w", err)
		}
		cfg.Channel.ReconnectBase = d
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault loads the configuration at path, falling back to defaults
// when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}
