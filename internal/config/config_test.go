package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesTemplateAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("API_BASE_URL", "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Errorf("expected template to be written: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.Feed.Limit != 10 || cfg.Feed.MaxReconnects != 5 || cfg.Feed.ReconnectDelay != 5*time.Second {
		t.Errorf("unexpected feed defaults: %+v", cfg.Feed)
	}
	if cfg.Store.Path != filepath.Join(dir, "cart.db") {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Bus.Channel != "auth_channel" {
		t.Errorf("bus channel = %q", cfg.Bus.Channel)
	}
	// Every process using dir shares this session file.
	if cfg.Session.Storage != "file" || cfg.Session.Path != filepath.Join(dir, "session.json") {
		t.Errorf("session = %+v", cfg.Session)
	}
}

func TestLoadReadsFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	content := `
[api]
base_url = "http://files.example:9000/"
timeout = "5s"

[store]
driver = "pebble"

[feed]
limit = 25
reconnect_delay = "2s"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("API_BASE_URL", "https://api.example.com/")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://api.example.com" {
		t.Errorf("env override not applied: %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.API.Timeout)
	}
	if cfg.Store.Driver != "pebble" || cfg.Store.Path != filepath.Join(dir, "cartdb") {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Feed.Limit != 25 || cfg.Feed.ReconnectDelay != 2*time.Second {
		t.Errorf("feed = %+v", cfg.Feed)
	}
	if got := cfg.WebSocketURL(); got != "wss://api.example.com/tickers/ws" {
		t.Errorf("WebSocketURL = %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("API_BASE_URL=http://dotenv.local:8080\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set.
	os.Unsetenv("API_BASE_URL")
	t.Cleanup(func() { os.Unsetenv("API_BASE_URL") })

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "http://dotenv.local:8080" {
		t.Errorf("base url = %q", cfg.API.BaseURL)
	}
	if got := cfg.WebSocketURL(); got != "ws://dotenv.local:8080/tickers/ws" {
		t.Errorf("WebSocketURL = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad url", func(c *Config) { c.API.BaseURL = "localhost" }},
		{"bad driver", func(c *Config) { c.Store.Driver = "indexeddb" }},
		{"bad session", func(c *Config) { c.Session.Storage = "cookie" }},
		{"bad bus", func(c *Config) { c.Bus.Driver = "kafka" }},
		{"zero limit", func(c *Config) { c.Feed.Limit = 0 }},
		{"negative reconnects", func(c *Config) { c.Feed.MaxReconnects = -1 }},
		{"zero delay", func(c *Config) { c.Feed.ReconnectDelay = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			if err := cfg.Validate(); err != nil {
				t.Fatalf("default config invalid: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}
