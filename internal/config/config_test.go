// internal/config/config_test.go

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/norberterror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"NORBERT_BACKEND_URL", "NORBERT_ANON_KEY", "NORBERT_TOKEN_PATH",
		"NORBERT_CALLBACK_ADDR", "NORBERT_CHROME_PATH", "NORBERT_LOG_LEVEL",
		"NORBERT_SCHEMA_OVERRIDE_URI",
	} {
		t.Setenv(v, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()

	assert.Equal(t, 2*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 20, cfg.Polling.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Polling.SuccessRefreshDelay)
	assert.Equal(t, 60, cfg.Popup.Monitor.MaxTicks)
	assert.Equal(t, time.Second, cfg.Popup.Monitor.TickInterval)
	assert.Equal(t, 600, cfg.Popup.Width)
	assert.Equal(t, 700, cfg.Popup.Height)
	assert.Equal(t, "/oauth/callback", cfg.Callback.Path)
	assert.Equal(t, "channels", cfg.Backend.ChannelsTable)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_MergesOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
backend:
  url: "https://project.supabase.co"
  anon_key: "anon"
popup:
  monitor:
    max_ticks: 90
polling:
  interval: 3s
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://project.supabase.co", cfg.Backend.URL)
	assert.Equal(t, "anon", cfg.Backend.AnonKey)
	assert.Equal(t, 90, cfg.Popup.Monitor.MaxTicks)
	assert.Equal(t, time.Second, cfg.Popup.Monitor.TickInterval, "unset fields keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 20, cfg.Polling.MaxAttempts)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.RequireBackend())
}

func TestLoadFromFile_EnvironmentWins(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
backend:
  url: "https://file.example"
  anon_key: "file-key"
`)
	t.Setenv("NORBERT_BACKEND_URL", "https://env.example")
	t.Setenv("NORBERT_ANON_KEY", "env-key")
	t.Setenv("NORBERT_CALLBACK_ADDR", ":9999")
	t.Setenv("NORBERT_CHROME_PATH", "/opt/chrome")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example", cfg.Backend.URL)
	assert.Equal(t, "env-key", cfg.Backend.AnonKey)
	assert.Equal(t, ":9999", cfg.Callback.Addr)
	assert.Equal(t, "/opt/chrome", cfg.Browser.ChromePath)
}

func TestLoadFromFile_TokenPathExpandsHome(t *testing.T) {
	clearEnv(t)
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("NORBERT_TOKEN_PATH", "~/norbert/token.json")

	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join(home, "norbert", "token.json"), cfg.Auth.TokenPath)
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadFromFile(writeConfig(t, "backend: [unterminated"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative backend url", func(c *Config) { c.Backend.URL = "project.supabase.co" }},
		{"zero poll interval", func(c *Config) { c.Polling.Interval = 0 }},
		{"zero max attempts", func(c *Config) { c.Polling.MaxAttempts = 0 }},
		{"negative refresh delay", func(c *Config) { c.Polling.SuccessRefreshDelay = -time.Second }},
		{"zero tick interval", func(c *Config) { c.Popup.Monitor.TickInterval = 0 }},
		{"zero max ticks", func(c *Config) { c.Popup.Monitor.MaxTicks = 0 }},
		{"negative settle", func(c *Config) { c.Popup.Monitor.CloseSettle = -1 }},
		{"callback path", func(c *Config) { c.Callback.Path = "oauth" }},
		{"poll rate", func(c *Config) { c.Backend.ChannelPollRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, norberterror.CategoryConfig, norberterror.GetCategory(err))
		})
	}
}

func TestRequireBackend(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()

	err := cfg.RequireBackend()
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "NORBERT_BACKEND_URL")

	cfg.Backend.URL = "https://project.supabase.co"
	err = cfg.RequireBackend()
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "NORBERT_ANON_KEY")

	cfg.Backend.AnonKey = "anon"
	require.NoError(t, cfg.RequireBackend())
}

func TestExpandPath(t *testing.T) {
	p, err := ExpandPath("/etc/norbert.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/norbert.yaml", p)
}
