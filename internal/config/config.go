// Package config provides configuration management for the storefront client.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Store   StoreConfig   `mapstructure:"store"`
	Session SessionConfig `mapstructure:"session"`
	Bus     BusConfig     `mapstructure:"bus"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Log     LogConfig     `mapstructure:"log"`

	Dir string `mapstructure:"-"`
}

// APIConfig holds backend API configuration.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// StoreConfig selects the durable cart store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, pebble
	Path   string `mapstructure:"path"`
}

// SessionConfig selects session storage. File storage is shared by every
// process using the same path; memory storage lives for one process.
type SessionConfig struct {
	Storage string `mapstructure:"storage"` // file, memory
	Path    string `mapstructure:"path"`
}

// BusConfig selects the auth broadcast transport.
type BusConfig struct {
	Driver   string `mapstructure:"driver"` // memory, redis
	RedisURL string `mapstructure:"redis_url"`
	Channel  string `mapstructure:"channel"`
}

// FeedConfig holds live quote feed configuration.
type FeedConfig struct {
	Limit          int           `mapstructure:"limit"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
	Path  string `mapstructure:"path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/storefront"
	}
	return filepath.Join(home, ".config", "storefront")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is replaced by a template and defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := loadDotEnv(configDir); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{Dir: configDir}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default(configDir string) *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{Dir: configDir}
	_ = v.Unmarshal(cfg)
	cfg.resolvePaths()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "")
	v.SetDefault("session.storage", "file")
	v.SetDefault("session.path", "")
	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.redis_url", "redis://localhost:6379/0")
	v.SetDefault("bus.channel", "auth_channel")
	v.SetDefault("feed.limit", 10)
	v.SetDefault("feed.max_reconnects", 5)
	v.SetDefault("feed.reconnect_delay", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", true)
	v.SetDefault("log.path", "")
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

// loadDotEnv loads .env from the working directory and the config directory.
// Variables already set in the environment win.
func loadDotEnv(configDir string) error {
	for _, path := range []string{".env", filepath.Join(configDir, ".env")} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("STOREFRONT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("STOREFRONT_BUS_URL"); v != "" {
		cfg.Bus.Driver = "redis"
		cfg.Bus.RedisURL = v
	}
	if v := os.Getenv("STOREFRONT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) resolvePaths() {
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "pebble":
			c.Store.Path = filepath.Join(c.Dir, "cartdb")
		default:
			c.Store.Path = filepath.Join(c.Dir, "cart.db")
		}
	}
	if c.Session.Path == "" {
		c.Session.Path = filepath.Join(c.Dir, "session.json")
	}
	if c.Log.Path == "" {
		c.Log.Path = filepath.Join(c.Dir, "logs", "storefront.log")
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "pebble" {
		return fmt.Errorf("invalid store driver: %s (must be 'sqlite' or 'pebble')", c.Store.Driver)
	}
	if c.Session.Storage != "file" && c.Session.Storage != "memory" {
		return fmt.Errorf("invalid session storage: %s (must be 'file' or 'memory')", c.Session.Storage)
	}
	if c.Bus.Driver != "memory" && c.Bus.Driver != "redis" {
		return fmt.Errorf("invalid bus driver: %s (must be 'memory' or 'redis')", c.Bus.Driver)
	}
	if c.Bus.Channel == "" {
		return fmt.Errorf("bus.channel must not be empty")
	}
	if c.Feed.Limit <= 0 {
		return fmt.Errorf("feed.limit must be positive")
	}
	if c.Feed.MaxReconnects < 0 {
		return fmt.Errorf("feed.max_reconnects must be non-negative")
	}
	if c.Feed.ReconnectDelay <= 0 {
		return fmt.Errorf("feed.reconnect_delay must be positive")
	}
	return nil
}

// WebSocketURL returns the push channel endpoint derived from the API base URL.
func (c *Config) WebSocketURL() string {
	base := c.API.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/tickers/ws"
}
