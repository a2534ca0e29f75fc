// Package config handles loading, parsing, and validating application configuration.
// It defines the structure for configuration settings, provides default values,
// loads settings from YAML files, and applies overrides from environment variables.
// file: internal/config/config.go
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/norberterror"
	"github.com/dkoosis/norbert/internal/popup"
	"gopkg.in/yaml.v3"
)

// BackendConfig locates the account-linking backend.
type BackendConfig struct {
	// URL is the base URL of the backend project, e.g. https://xyz.supabase.co.
	URL string `yaml:"url"`
	// AnonKey is the public API key sent as the apikey header.
	AnonKey string `yaml:"anon_key"`
	// ConnectFunction is the edge function that starts a provider connection.
	ConnectFunction string `yaml:"connect_function"`
	// SendCodeFunction dispatches an SMS verification code.
	SendCodeFunction string `yaml:"send_code_function"`
	// VerifyCodeFunction checks an SMS verification code.
	VerifyCodeFunction string `yaml:"verify_code_function"`
	// ChannelsTable is the REST table listing linked channels.
	ChannelsTable string `yaml:"channels_table"`
	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout"`
	// ChannelPollRate limits channel-list queries, in requests per second.
	ChannelPollRate float64 `yaml:"channel_poll_rate"`
	// ChannelPollBurst is the limiter burst size.
	ChannelPollBurst int `yaml:"channel_poll_burst"`
}

// PollingConfig controls the channel polling that follows a popup.
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	// SuccessRefreshDelay delays the channel refresh after an immediate success.
	SuccessRefreshDelay time.Duration `yaml:"success_refresh_delay"`
}

// CallbackConfig configures the OAuth callback page served by `norbert serve`.
type CallbackConfig struct {
	Addr       string        `yaml:"addr"`
	Path       string        `yaml:"path"`
	CloseDelay time.Duration `yaml:"close_delay"`
	// Listen makes `norbert connect` start an in-process callback server so
	// redirects can close the popup early.
	Listen bool `yaml:"listen"`
}

// AuthConfig contains settings related to session token storage.
type AuthConfig struct {
	// TokenPath is the fallback file used when the OS keyring is unavailable.
	// Supports '~' expansion.
	TokenPath string `yaml:"token_path"`
	// KeyringService is the service name under which the token is stored.
	KeyringService string `yaml:"keyring_service"`
	// KeyringUser is the account name under which the token is stored.
	KeyringUser string `yaml:"keyring_user"`
}

// BrowserConfig configures the Chrome instance that hosts popups.
type BrowserConfig struct {
	ChromePath  string `yaml:"chrome_path"`
	UserDataDir string `yaml:"user_data_dir"`
	Headless    bool   `yaml:"headless"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the default logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SchemaConfig holds settings related to JSON schema loading and validation.
type SchemaConfig struct {
	// SchemaOverrideURI replaces the embedded backend response schema with a
	// file:// URI, a plain path or an http(s):// URL.
	SchemaOverrideURI string `yaml:"schemaOverrideURI,omitempty"`
}

// Config is the root configuration structure for Norbert.
type Config struct {
	Backend  BackendConfig        `yaml:"backend"`
	Popup    popup.ManagerOptions `yaml:"popup"`
	Polling  PollingConfig        `yaml:"polling"`
	Callback CallbackConfig       `yaml:"callback"`
	Auth     AuthConfig           `yaml:"auth"`
	Browser  BrowserConfig        `yaml:"browser"`
	Metrics  MetricsConfig        `yaml:"metrics"`
	Logging  LoggingConfig        `yaml:"logging"`
	Schema   SchemaConfig         `yaml:"schema"`
}

// DefaultConfig returns a configuration populated with default values and
// environment overrides applied.
func DefaultConfig() *Config {
	tokenPath := "norbert_token.json" //nolint:gosec // G101: fallback path, not a secret.
	if homeDir, err := os.UserHomeDir(); err == nil {
		tokenPath = filepath.Join(homeDir, ".config", "norbert", "session_token.json")
	}

	cfg := &Config{
		Backend: BackendConfig{
			ConnectFunction:    "unipile-connect",
			SendCodeFunction:   "unipile-send-code",
			VerifyCodeFunction: "unipile-verify-code",
			ChannelsTable:      "channels",
			Timeout:            30 * time.Second,
			ChannelPollRate:    2,
			ChannelPollBurst:   1,
		},
		Popup: popup.DefaultManagerOptions(),
		Polling: PollingConfig{
			Interval:            2 * time.Second,
			MaxAttempts:         20,
			SuccessRefreshDelay: time.Second,
		},
		Callback: CallbackConfig{
			Addr:       "127.0.0.1:8787",
			Path:       "/oauth/callback",
			CloseDelay: time.Second,
		},
		Auth: AuthConfig{
			TokenPath:      tokenPath,
			KeyringService: "norbert",
			KeyringUser:    "backend-session",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{Level: "info"},
	}
	applyEnvironmentOverrides(cfg, logging.GetLogger("config_default"))
	return cfg
}

// LoadFromFile loads configuration from the YAML file at path. Defaults are
// applied first, then the file, then environment variables.
func LoadFromFile(path string) (*Config, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- Path comes from command-line flag or default, considered trusted input.
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", expanded)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file YAML: %s", expanded)
	}

	applyEnvironmentOverrides(cfg, logging.GetLogger("config_load"))
	return cfg, nil
}

// Validate checks values that would make the connection core misbehave.
func (c *Config) Validate() error {
	if c.Backend.URL != "" {
		u, err := url.Parse(c.Backend.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return norberterror.NewConfigError("backend.url", "must be an absolute URL")
		}
	}
	if c.Backend.ChannelPollRate <= 0 {
		return norberterror.NewConfigError("backend.channel_poll_rate", "must be positive")
	}
	if c.Polling.Interval <= 0 {
		return norberterror.NewConfigError("polling.interval", "must be positive")
	}
	if c.Polling.MaxAttempts <= 0 {
		return norberterror.NewConfigError("polling.max_attempts", "must be positive")
	}
	if c.Polling.SuccessRefreshDelay < 0 {
		return norberterror.NewConfigError("polling.success_refresh_delay", "must not be negative")
	}
	if c.Popup.Monitor.TickInterval <= 0 {
		return norberterror.NewConfigError("popup.monitor.tick_interval", "must be positive")
	}
	if c.Popup.Monitor.MaxTicks <= 0 {
		return norberterror.NewConfigError("popup.monitor.max_ticks", "must be positive")
	}
	if c.Popup.Monitor.CloseSettle < 0 || c.Popup.Monitor.TimeoutSettle < 0 {
		return norberterror.NewConfigError("popup.monitor", "settle delays must not be negative")
	}
	if !strings.HasPrefix(c.Callback.Path, "/") {
		return norberterror.NewConfigError("callback.path", "must start with '/'")
	}
	return nil
}

// RequireBackend reports an error unless the backend URL and key are set.
func (c *Config) RequireBackend() error {
	if c.Backend.URL == "" {
		return errors.WithHint(
			norberterror.NewConfigError("backend.url", "is required"),
			"Set backend.url in the config file or NORBERT_BACKEND_URL.")
	}
	if c.Backend.AnonKey == "" {
		return errors.WithHint(
			norberterror.NewConfigError("backend.anon_key", "is required"),
			"Set backend.anon_key in the config file or NORBERT_ANON_KEY.")
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory to expand path")
	}
	return filepath.Join(home, path[1:]), nil
}

// applyEnvironmentOverrides applies configuration overrides from environment variables.
// Environment variables take precedence over values set in configuration files or defaults.
func applyEnvironmentOverrides(cfg *Config, logger logging.Logger) {
	override := func(envVar string, target *string) {
		if v := os.Getenv(envVar); v != "" {
			logger.Debug("Overriding setting from environment.", "envVar", envVar)
			*target = v
		}
	}

	override("NORBERT_BACKEND_URL", &cfg.Backend.URL)
	override("NORBERT_ANON_KEY", &cfg.Backend.AnonKey)
	override("NORBERT_CALLBACK_ADDR", &cfg.Callback.Addr)
	override("NORBERT_CHROME_PATH", &cfg.Browser.ChromePath)
	override("NORBERT_LOG_LEVEL", &cfg.Logging.Level)
	override("NORBERT_SCHEMA_OVERRIDE_URI", &cfg.Schema.SchemaOverrideURI)

	if tokenPath := os.Getenv("NORBERT_TOKEN_PATH"); tokenPath != "" {
		expanded, err := ExpandPath(tokenPath)
		if err != nil {
			logger.Warn("Could not expand '~' in NORBERT_TOKEN_PATH env var.", "error", err)
			expanded = tokenPath
		}
		logger.Debug("Overriding auth token path from environment.", "envVar", "NORBERT_TOKEN_PATH", "value", expanded)
		cfg.Auth.TokenPath = expanded
	}

	if cfg.Backend.AnonKey == "" {
		logger.Debug("Backend anon key is not set (checked environment and config file).")
	}
}
