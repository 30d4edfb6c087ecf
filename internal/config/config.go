package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	AI        AIConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8400"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// StorageConfig holds session and image storage configuration.
type StorageConfig struct {
	Root            string        `envconfig:"STORAGE_ROOT"`
	ImagesDir       string        `envconfig:"IMAGES_DIR"`
	DebounceWindow  time.Duration `envconfig:"DEBOUNCE_WINDOW" default:"500ms"`
	DisableDebounce bool          `envconfig:"DISABLE_DEBOUNCED_WRITES" default:"false"`
}

// AIConfig holds image-generation provider configuration.
type AIConfig struct {
	APIKey  string `envconfig:"OPENAI_API_KEY"`
	BaseURL string `envconfig:"OPENAI_BASE_URL"`
	Model   string `envconfig:"IMAGE_MODEL" default:"dall-e-3"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("PIXELMUSE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: "8400",
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			DebounceWindow: 500 * time.Millisecond,
		},
		AI: AIConfig{
			Model: "dall-e-3",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
	if err := cfg.applyDefaults(); err != nil {
		cfg.Storage.Root = filepath.Join(os.TempDir(), "pixelmuse")
		cfg.Storage.ImagesDir = filepath.Join(cfg.Storage.Root, "images")
	}
	return cfg
}

// applyDefaults resolves storage paths that depend on the user environment.
func (c *Config) applyDefaults() error {
	if c.Storage.Root == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve user config dir: %w", err)
		}
		c.Storage.Root = filepath.Join(dir, "pixelmuse")
	}
	if c.Storage.ImagesDir == "" {
		c.Storage.ImagesDir = filepath.Join(c.Storage.Root, "images")
	}
	if c.Storage.DebounceWindow <= 0 {
		c.Storage.DebounceWindow = 500 * time.Millisecond
	}
	return nil
}
