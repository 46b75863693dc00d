// Package config loads service configuration from a YAML file with an
// environment-variable overlay. Env vars win over file values; flags in
// cmd/oracle win over both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"memecoin-lending-oracle/internal/endpoint"
)

// Config is the full service configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`

	// Upstreams
	JupiterEndpoints  []endpoint.Config `yaml:"jupiter_endpoints"`
	DexScreenerURL    string            `yaml:"dexscreener_url"`
	SolanaRPCEndpoint string            `yaml:"solana_rpc_endpoint"`
	StreamURL         string            `yaml:"stream_url"`

	// Storage
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	UseMemory     bool   `yaml:"use_memory"`

	// Pricing
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	TrackedMints    []string      `yaml:"tracked_mints"`

	// Risk
	MaxLoss1h         float64       `yaml:"max_loss_1h"`
	MaxLoss24h        float64       `yaml:"max_loss_24h"`
	MaxLiquidations1h int           `yaml:"max_liquidations_1h"`
	BreakerInterval   time.Duration `yaml:"breaker_interval"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		LogLevel:          "info",
		HTTPAddr:          ":9090",
		CacheTTL:          5 * time.Second,
		RefreshInterval:   15 * time.Second,
		MaxLiquidations1h: 10,
		BreakerInterval:   time.Minute,
	}
}

// Load reads the YAML file at path (optional, empty path skips the file)
// and applies the environment overlay on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays ORACLE_* environment variables.
func (c *Config) applyEnv() {
	setString(&c.LogLevel, "ORACLE_LOG_LEVEL")
	setString(&c.HTTPAddr, "ORACLE_HTTP_ADDR")
	setString(&c.DexScreenerURL, "ORACLE_DEXSCREENER_URL")
	setString(&c.SolanaRPCEndpoint, "ORACLE_SOLANA_RPC_ENDPOINT")
	setString(&c.StreamURL, "ORACLE_STREAM_URL")
	setString(&c.PostgresDSN, "ORACLE_POSTGRES_DSN")
	setString(&c.ClickhouseDSN, "ORACLE_CLICKHOUSE_DSN")
	setString(&c.RedisAddr, "ORACLE_REDIS_ADDR")
	setString(&c.RedisPassword, "ORACLE_REDIS_PASSWORD")
	setInt(&c.RedisDB, "ORACLE_REDIS_DB")
	setBool(&c.UseMemory, "ORACLE_USE_MEMORY")
	setDuration(&c.CacheTTL, "ORACLE_CACHE_TTL")
	setDuration(&c.RefreshInterval, "ORACLE_REFRESH_INTERVAL")
	setFloat(&c.MaxLoss1h, "ORACLE_MAX_LOSS_1H")
	setFloat(&c.MaxLoss24h, "ORACLE_MAX_LOSS_24H")
	setInt(&c.MaxLiquidations1h, "ORACLE_MAX_LIQUIDATIONS_1H")
	setDuration(&c.BreakerInterval, "ORACLE_BREAKER_INTERVAL")

	if v := os.Getenv("ORACLE_TRACKED_MINTS"); v != "" {
		c.TrackedMints = splitList(v)
	}
	if v := os.Getenv("ORACLE_JUPITER_URLS"); v != "" {
		c.JupiterEndpoints = nil
		for i, u := range splitList(v) {
			c.JupiterEndpoints = append(c.JupiterEndpoints, endpoint.Config{
				ID:  fmt.Sprintf("jupiter-%d", i+1),
				URL: u,
			})
		}
	}
}

// Validate checks that the configuration is runnable.
func (c *Config) Validate() error {
	if len(c.JupiterEndpoints) == 0 {
		return fmt.Errorf("at least one jupiter endpoint is required")
	}
	for i, ep := range c.JupiterEndpoints {
		if ep.URL == "" {
			return fmt.Errorf("jupiter endpoint %d has no url", i)
		}
	}
	if !c.UseMemory && (c.PostgresDSN == "" || c.ClickhouseDSN == "") {
		return fmt.Errorf("postgres_dsn and clickhouse_dsn are required (or set use_memory)")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be positive")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, key string) {
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

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
