package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "FINNHUB_API_KEY",
		"PORTFOLIO_SERVER_PORT", "PORTFOLIO_DATABASE_URL", "PORTFOLIO_REDIS_URL",
		"PORTFOLIO_CACHE_BACKEND", "PORTFOLIO_CACHE_TTL", "PORTFOLIO_PRICE_PROVIDER",
		"PORTFOLIO_PRICE_FINNHUB_API_KEY", "PORTFOLIO_LOG_LEVEL", "PORTFOLIO_SERVER_CORS_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func validDefaults() Config {
	cfg := Defaults()
	cfg.Price.FinnhubAPIKey = "test-key"
	return cfg
}

func TestDefaults_Validate(t *testing.T) {
	cfg := validDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20*time.Minute, cfg.Price.QuoteTTL.Duration)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Port, cfg.Server.Port)
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
log_level = "debug"

[server]
port = 9090
shutdown_timeout = "15s"

[cache]
backend = "none"

[price]
provider = "static"

[price.static_prices]
AAPL = "190.50"
msft = "410"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout.Duration, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.LogLevel)

	prices := cfg.StaticPrices()
	require.Len(t, prices, 2)
	assert.Equal(t, "190.5", prices["AAPL"].String())
	assert.Equal(t, "410", prices["MSFT"].String())
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")
	t.Setenv("DATABASE_URL", "postgres://legacy")
	t.Setenv("PORTFOLIO_DATABASE_URL", "postgres://prefixed")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("FINNHUB_API_KEY", "abc")
	t.Setenv("PORTFOLIO_CACHE_BACKEND", "redis")
	t.Setenv("PORTFOLIO_CACHE_TTL", "90s")
	t.Setenv("PORTFOLIO_SERVER_CORS_ORIGINS", "http://a.test, ,http://b.test")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "postgres://prefixed", cfg.Database.URL, "prefixed name wins over alias")
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "abc", cfg.Price.FinnhubAPIKey)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL.Duration)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
}

func TestLoad_BadEnvValueIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORTFOLIO_SERVER_PORT", "not-a-port")
	t.Setenv("PORTFOLIO_CACHE_TTL", "forever")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL.Duration)
}

func TestValidate_CollectsErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "port must be 1-65535"},
		{"redis cache without url", func(c *Config) { c.Cache.Backend = "redis" }, "requires redis.url"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "disk" }, "unknown backend"},
		{"finnhub without key", func(c *Config) { c.Price.FinnhubAPIKey = "" }, "requires finnhub_api_key"},
		{"bad static price", func(c *Config) {
			c.Price.Provider = "static"
			c.Price.StaticPrices = map[string]string{"AAPL": "lots"}
		}, "not a number"},
		{"unknown provider", func(c *Config) { c.Price.Provider = "yahoo" }, "unknown provider"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "unknown level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := validDefaults()
	cfg.Server.Port = -1
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "log_level")
}
