package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges an optional TOML file at path on top of the defaults, then
// applies PORTFOLIO_* environment overrides. An empty path skips the file.
// The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from the environment. The bare
// PORT, DATABASE_URL, REDIS_URL and FINNHUB_API_KEY names are read first so
// the prefixed forms win when both are set.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "PORTFOLIO_SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "PORTFOLIO_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "PORTFOLIO_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "PORTFOLIO_SERVER_IDLE_TIMEOUT")
	setDuration(&cfg.Server.RequestTimeout, "PORTFOLIO_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "PORTFOLIO_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "PORTFOLIO_SERVER_CORS_ORIGINS")

	// ── Database ──
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Database.URL, "PORTFOLIO_DATABASE_URL")
	setBool(&cfg.Database.RunMigrations, "PORTFOLIO_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.URL, "PORTFOLIO_REDIS_URL")
	setDuration(&cfg.Redis.StoreTTL, "PORTFOLIO_REDIS_STORE_TTL")

	// ── Cache ──
	setStr(&cfg.Cache.Backend, "PORTFOLIO_CACHE_BACKEND")
	setDuration(&cfg.Cache.TTL, "PORTFOLIO_CACHE_TTL")

	// ── Price ──
	setStr(&cfg.Price.Provider, "PORTFOLIO_PRICE_PROVIDER")
	setStr(&cfg.Price.FinnhubAPIKey, "FINNHUB_API_KEY")
	setStr(&cfg.Price.FinnhubAPIKey, "PORTFOLIO_PRICE_FINNHUB_API_KEY")
	setStr(&cfg.Price.FinnhubURL, "PORTFOLIO_PRICE_FINNHUB_URL")
	setInt(&cfg.Price.RateLimit, "PORTFOLIO_PRICE_RATE_LIMIT")
	setDuration(&cfg.Price.Timeout, "PORTFOLIO_PRICE_TIMEOUT")
	setDuration(&cfg.Price.QuoteTTL, "PORTFOLIO_PRICE_QUOTE_TTL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PORTFOLIO_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
