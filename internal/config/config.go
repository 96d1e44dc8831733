// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Search    SearchConfig    `yaml:"search"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CORSConfig controls cross-origin access for browser clients.
type CORSConfig struct {
	Enabled         bool          `yaml:"enabled"`
	AllowAllOrigins bool          `yaml:"allow_all_origins"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxAge          time.Duration `yaml:"max_age"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int           `yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout must exceed the longest task deadline or streams are
	// cut off mid-answer.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// UpstreamConfig points at the completions provider.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`
	// RequestsPerSecond paces upstream sends process-wide; zero disables.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// CatalogConfig controls model discovery.
type CatalogConfig struct {
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// StaticModels overrides the built-in fallback list when set.
	StaticModels []string `yaml:"static_models"`
}

// CacheConfig controls the semantic answer cache.
type CacheConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// RateLimitConfig defines per-client request limits.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// SearchConfig controls web grounding.
type SearchConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Catalog: CatalogConfig{
			RefreshTTL: 30 * time.Minute,
		},
		Cache: CacheConfig{
			MaxSize: 500,
			TTL:     30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			MaxRequests: 20,
			Window:      time.Minute,
		},
		Search: SearchConfig{
			Enabled: false,
		},
		CORS: CORSConfig{
			Enabled:         true,
			AllowAllOrigins: true,
			MaxAge:          10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key is required")
	}
	if c.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("upstream.requests_per_second cannot be negative")
	}
	if c.Catalog.RefreshTTL < 0 {
		return fmt.Errorf("catalog.refresh_ttl cannot be negative")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size cannot be negative")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("rate_limit.max_requests must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be positive")
		}
	}
	if c.Search.Enabled && c.Search.APIKey == "" {
		return fmt.Errorf("search.api_key is required when search is enabled")
	}
	return nil
}
