// Package config loads the assistant CLI configuration from a TOML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/feedback"
)

// Config represents the assistant configuration.
type Config struct {
	Endpoint EndpointConfig `toml:"endpoint"`
	Feedback FeedbackConfig `toml:"feedback"`
	Logging  LoggingConfig  `toml:"logging"`
}

// EndpointConfig locates the conversation service.
type EndpointConfig struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// FeedbackConfig tunes when the rating prompt is offered.
type FeedbackConfig struct {
	Threshold int `toml:"threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads the file at ConfigPath, if any, then applies env overrides.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads path, if it exists, then applies env overrides. A missing
// file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	if p := os.Getenv("IASCHOOL_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(StateDir(), "assistant.toml")
}

// StateDir returns the assistant state directory.
func StateDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".iaschool")
}

// Timeout is the request timeout for non-streaming calls.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Endpoint.TimeoutSeconds) * time.Second
}

// LogLevel maps the configured level name onto slog.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultConfig() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			BaseURL:        "http://127.0.0.1:8080",
			TimeoutSeconds: 10,
		},
		Feedback: FeedbackConfig{
			Threshold: feedback.DefaultThreshold,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("IASCHOOL_ENDPOINT"); v != "" {
		c.Endpoint.BaseURL = v
	}
	if v := os.Getenv("IASCHOOL_TOKEN"); v != "" {
		c.Endpoint.Token = v
	}
	if v := os.Getenv("IASCHOOL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IASCHOOL_FEEDBACK_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: IASCHOOL_FEEDBACK_THRESHOLD: %w", err)
		}
		c.Feedback.Threshold = n
	}
	return nil
}

func (c *Config) validate() error {
	c.Endpoint.BaseURL = strings.TrimRight(strings.TrimSpace(c.Endpoint.BaseURL), "/")
	if c.Endpoint.BaseURL == "" {
		return errors.New("config: endpoint.base_url must not be empty")
	}
	if c.Endpoint.TimeoutSeconds <= 0 {
		c.Endpoint.TimeoutSeconds = 10
	}
	if c.Feedback.Threshold <= 0 {
		return fmt.Errorf("config: feedback.threshold must be positive, got %d", c.Feedback.Threshold)
	}
	return nil
}
