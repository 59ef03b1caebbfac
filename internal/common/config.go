// Package common provides shared utilities for Papertrade
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Papertrade
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Cache       CacheConfig     `toml:"cache"`
	Provider    ProviderConfig  `toml:"provider"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Market      MarketConfig    `toml:"market"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection configuration for the ledger and
// price stores.
type StorageConfig struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// CacheConfig holds hot-cache configuration.
// Backend is "memory" (in-process) or "redis".
type CacheConfig struct {
	Backend           string `toml:"backend"`
	RedisAddress      string `toml:"redis_address"`
	CurrentTTL        string `toml:"current_ttl"`
	HistoryRecent     string `toml:"history_ttl_recent"`
	HistoryMidday     string `toml:"history_ttl_midday"`
	HistoryHistorical string `toml:"history_ttl_historical"`
}

// GetCurrentTTL parses and returns the current-price TTL.
func (c *CacheConfig) GetCurrentTTL() time.Duration {
	return parseDurationOr(c.CurrentTTL, 5*time.Minute)
}

// GetHistoryTTLs returns the history TTL tiers (recent, midday, historical).
func (c *CacheConfig) GetHistoryTTLs() (time.Duration, time.Duration, time.Duration) {
	return parseDurationOr(c.HistoryRecent, time.Hour),
		parseDurationOr(c.HistoryMidday, 4*time.Hour),
		parseDurationOr(c.HistoryHistorical, 7*24*time.Hour)
}

// ProviderConfig holds market-data provider API configuration.
type ProviderConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the provider HTTP timeout
func (c *ProviderConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 10*time.Second)
}

// RateLimitConfig holds the provider call budget.
type RateLimitConfig struct {
	PerMinute int `toml:"per_minute"`
	PerDay    int `toml:"per_day"`
}

// SchedulerConfig holds the background price refresher configuration.
type SchedulerConfig struct {
	Cron             string `toml:"cron"`
	ActiveWindowDays int    `toml:"active_window_days"`
}

// MarketConfig holds trading-calendar configuration.
// CloseTimeUTC is "HH:MM"; Holidays are ISO dates overriding the built-in
// US holiday set when non-empty.
type MarketConfig struct {
	CloseTimeUTC string   `toml:"close_time_utc"`
	Holidays     []string `toml:"holidays"`
}

// GetCloseTimeUTC returns the market close as hour and minute in UTC.
func (c *MarketConfig) GetCloseTimeUTC() (int, int) {
	parts := strings.SplitN(c.CloseTimeUTC, ":", 2)
	if len(parts) == 2 {
		h, herr := strconv.Atoi(parts[0])
		m, merr := strconv.Atoi(parts[1])
		if herr == nil && merr == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			return h, m
		}
	}
	return 21, 0
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000",
			Username:  "root",
			Password:  "root",
			Namespace: "papertrade",
			Database:  "papertrade",
		},
		Cache: CacheConfig{
			Backend:           "memory",
			RedisAddress:      "localhost:6379",
			CurrentTTL:        "5m",
			HistoryRecent:     "1h",
			HistoryMidday:     "4h",
			HistoryHistorical: "168h",
		},
		Provider: ProviderConfig{
			BaseURL: "https://www.alphavantage.co",
			Timeout: "10s",
		},
		RateLimit: RateLimitConfig{
			PerMinute: 5,
			PerDay:    500,
		},
		Scheduler: SchedulerConfig{
			Cron:             "0 0 * * *",
			ActiveWindowDays: 30,
		},
		Market: MarketConfig{
			CloseTimeUTC: "21:00",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PAPERTRADE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("PAPERTRADE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("PAPERTRADE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("PAPERTRADE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if addr := os.Getenv("PAPERTRADE_DB_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if user := os.Getenv("PAPERTRADE_DB_USERNAME"); user != "" {
		config.Storage.Username = user
	}
	if pass := os.Getenv("PAPERTRADE_DB_PASSWORD"); pass != "" {
		config.Storage.Password = pass
	}

	if backend := os.Getenv("PAPERTRADE_CACHE_BACKEND"); backend != "" {
		config.Cache.Backend = backend
	}
	if addr := os.Getenv("PAPERTRADE_REDIS_ADDRESS"); addr != "" {
		config.Cache.RedisAddress = addr
	}

	if key := os.Getenv("PAPERTRADE_PROVIDER_API_KEY"); key != "" {
		config.Provider.APIKey = key
	}
	if url := os.Getenv("PAPERTRADE_PROVIDER_BASE_URL"); url != "" {
		config.Provider.BaseURL = url
	}

	if v := os.Getenv("PAPERTRADE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.RateLimit.PerMinute = n
		}
	}
	if v := os.Getenv("PAPERTRADE_RATE_LIMIT_PER_DAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.RateLimit.PerDay = n
		}
	}

	if cron := os.Getenv("PAPERTRADE_SCHEDULER_CRON"); cron != "" {
		config.Scheduler.Cron = cron
	}
}

// validate rejects configuration the services cannot run with.
func validate(config *Config) error {
	if config.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_minute must be positive, got %d", config.RateLimit.PerMinute)
	}
	if config.RateLimit.PerDay <= 0 {
		return fmt.Errorf("rate_limit.per_day must be positive, got %d", config.RateLimit.PerDay)
	}
	if config.Scheduler.ActiveWindowDays <= 0 {
		config.Scheduler.ActiveWindowDays = 30
	}
	switch config.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be \"memory\" or \"redis\", got %q", config.Cache.Backend)
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
