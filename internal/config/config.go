// Package config holds the portfolio engine's runtime configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Cache    CacheConfig    `toml:"cache"`
	Price    PriceConfig    `toml:"price"`
	LogLevel string         `toml:"log_level"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	IdleTimeout     duration `toml:"idle_timeout"`
	RequestTimeout  duration `toml:"request_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// DatabaseConfig selects PostgreSQL. An empty URL means the in-memory store.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig enables the read-through store cache when URL is set.
type RedisConfig struct {
	URL      string   `toml:"url"`
	StoreTTL duration `toml:"store_ttl"`
}

// CacheConfig controls where computed FIFO results are kept.
type CacheConfig struct {
	Backend string   `toml:"backend"` // memory | redis | none
	TTL     duration `toml:"ttl"`
}

// PriceConfig selects the market price source.
type PriceConfig struct {
	Provider      string            `toml:"provider"` // finnhub | static | none
	FinnhubAPIKey string            `toml:"finnhub_api_key"`
	FinnhubURL    string            `toml:"finnhub_url"`
	RateLimit     int               `toml:"rate_limit"`
	Timeout       duration          `toml:"timeout"`
	QuoteTTL      duration          `toml:"quote_ttl"`
	StaticPrices  map[string]string `toml:"static_prices"`
}

// Defaults returns a Config usable without any file or environment.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			IdleTimeout:     duration{60 * time.Second},
			RequestTimeout:  duration{30 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			StoreTTL: duration{30 * time.Second},
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     duration{10 * time.Minute},
		},
		Price: PriceConfig{
			Provider:   "finnhub",
			FinnhubURL: "https://finnhub.io/api/v1",
			RateLimit:  30,
			Timeout:    duration{10 * time.Second},
			QuoteTTL:   duration{20 * time.Minute},
		},
		LogLevel: "info",
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be > 0")
	}

	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, "cache: backend \"redis\" requires redis.url")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache: unknown backend %q", c.Cache.Backend))
	}
	if c.Cache.Backend != "none" && c.Cache.TTL.Duration <= 0 {
		errs = append(errs, "cache: ttl must be > 0")
	}

	switch c.Price.Provider {
	case "finnhub":
		if c.Price.FinnhubAPIKey == "" {
			errs = append(errs, "price: provider \"finnhub\" requires finnhub_api_key")
		}
		if c.Price.RateLimit < 1 {
			errs = append(errs, "price: rate_limit must be >= 1")
		}
	case "static":
		for t, p := range c.Price.StaticPrices {
			if _, err := decimal.NewFromString(p); err != nil {
				errs = append(errs, fmt.Sprintf("price: static price for %s is not a number: %q", t, p))
			}
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("price: unknown provider %q", c.Price.Provider))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level: unknown level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// StaticPrices parses Price.StaticPrices. Call after Validate.
func (c *Config) StaticPrices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Price.StaticPrices))
	for t, p := range c.Price.StaticPrices {
		if d, err := decimal.NewFromString(p); err == nil {
			out[strings.ToUpper(t)] = d
		}
	}
	return out
}
