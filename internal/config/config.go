// Package config provides configuration types and defaults for dashlink.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds all configuration for dashlink.
type Config struct {
	API         APIConfig         `yaml:"api" mapstructure:"api"`
	Realtime    RealtimeConfig    `yaml:"realtime" mapstructure:"realtime"`
	Auth        AuthConfig        `yaml:"auth" mapstructure:"auth"`
	Feed        FeedConfig        `yaml:"feed" mapstructure:"feed"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	LogRotation LogRotationConfig `yaml:"log_rotation" mapstructure:"log_rotation"`
	Debug       bool              `yaml:"debug" mapstructure:"debug"` // Development mode: diagnostic logging at debug level
}

// APIConfig holds REST gateway settings.
type APIConfig struct {
	BaseURL   string           `yaml:"base_url" mapstructure:"base_url"`
	Timeout   time.Duration    `yaml:"timeout" mapstructure:"timeout"` // Per-request transport timeout
	Retry     RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Fallbacks []FallbackConfig `yaml:"fallbacks" mapstructure:"fallbacks"` // Consulted before the built-in fallbacks
}

// RetryConfig holds capped exponential backoff settings.
// The delay before attempt n+1 is min(BaseDelay * 2^n, MaxDelay).
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

// FallbackConfig maps an endpoint substring to a safe default payload.
type FallbackConfig struct {
	Match   string         `yaml:"match" mapstructure:"match"`
	Payload map[string]any `yaml:"payload" mapstructure:"payload"`
}

// RealtimeConfig holds push channel settings.
type RealtimeConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	URL            string        `yaml:"url" mapstructure:"url"` // Empty derives ws(s)://<api host>/ws
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	HealthEndpoint string        `yaml:"health_endpoint" mapstructure:"health_endpoint"`
	HealthTimeout  time.Duration `yaml:"health_timeout" mapstructure:"health_timeout"`
	Reconnect      RetryConfig   `yaml:"reconnect" mapstructure:"reconnect"`
}

// AuthConfig holds the admin session source.
type AuthConfig struct {
	Token       string `yaml:"token" mapstructure:"token"`
	Role        string `yaml:"role" mapstructure:"role"`
	SessionFile string `yaml:"session_file" mapstructure:"session_file"` // Watched JSON file; overrides Token/Role when present
}

// FeedConfig holds notification feed settings.
type FeedConfig struct {
	MaxItems         int  `yaml:"max_items" mapstructure:"max_items"`
	PageSize         int  `yaml:"page_size" mapstructure:"page_size"`
	RefetchOnConnect bool `yaml:"refetch_on_connect" mapstructure:"refetch_on_connect"`
}

// PathsConfig holds file paths for the control socket and logs.
type PathsConfig struct {
	Socket    string `yaml:"socket" mapstructure:"socket"`
	Telemetry string `yaml:"telemetry" mapstructure:"telemetry"`
	Log       string `yaml:"log" mapstructure:"log"`
}

// LogRotationConfig holds settings for rotating log files.
// Applies to both the --log-file logger and the telemetry sink.
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 10 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxDelay:    10 * time.Second,
			},
			Fallbacks: []FallbackConfig{},
		},
		Realtime: RealtimeConfig{
			Enabled:        true,
			ConnectTimeout: 5 * time.Second,
			HealthEndpoint: "/api/health",
			HealthTimeout:  3 * time.Second,
			Reconnect: RetryConfig{
				MaxAttempts: 5,
				BaseDelay:   time.Second,
				MaxDelay:    5 * time.Second,
			},
		},
		Auth: AuthConfig{
			Role: "admin",
		},
		Feed: FeedConfig{
			MaxItems:         100,
			PageSize:         20,
			RefetchOnConnect: true,
		},
		Paths: PathsConfig{
			Socket:    ".dashlink/dashlink.sock",
			Telemetry: ".dashlink/telemetry.jsonl",
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Validate reports configuration values the gateway or session manager cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("api.base_url: %w", err))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if err := c.API.Retry.validate(); err != nil {
		errs = append(errs, fmt.Errorf("api.retry: %w", err))
	}
	for i, fb := range c.API.Fallbacks {
		if strings.TrimSpace(fb.Match) == "" {
			errs = append(errs, fmt.Errorf("api.fallbacks[%d]: match is empty", i))
		}
	}

	if c.Realtime.Enabled {
		if c.Realtime.ConnectTimeout <= 0 {
			errs = append(errs, errors.New("realtime.connect_timeout must be positive"))
		}
		if c.Realtime.HealthTimeout <= 0 {
			errs = append(errs, errors.New("realtime.health_timeout must be positive"))
		}
		if err := c.Realtime.Reconnect.validate(); err != nil {
			errs = append(errs, fmt.Errorf("realtime.reconnect: %w", err))
		}
	}

	if c.Feed.MaxItems < 1 {
		errs = append(errs, errors.New("feed.max_items must be at least 1"))
	}
	if c.Feed.PageSize < 1 {
		errs = append(errs, errors.New("feed.page_size must be at least 1"))
	}

	return errors.Join(errs...)
}

func (r RetryConfig) validate() error {
	if r.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if r.BaseDelay <= 0 || r.MaxDelay <= 0 {
		return errors.New("base_delay and max_delay must be positive")
	}
	return nil
}

// RealtimeURL returns the configured push channel URL, deriving it from the
// API base URL when unset.
func (c *Config) RealtimeURL() (string, error) {
	if c.Realtime.URL != "" {
		return c.Realtime.URL, nil
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse api.base_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}
