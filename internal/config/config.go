// Package config loads application settings from a YAML file, a .env file
// and the environment, in that order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config holds all settings.
type Config struct {
	CMC      CMCConfig      `yaml:"cmc"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	Stocks   StocksConfig   `yaml:"stocks"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Log      LogConfig      `yaml:"log"`
}

// CMCConfig configures the listing source.
type CMCConfig struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Start     int           `yaml:"start"`
	Limit     int           `yaml:"limit"`
	Convert   string        `yaml:"convert"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 disables limiting
	Burst     int           `yaml:"burst"`
}

// CacheConfig configures the listing cache.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ServerConfig configures the HTTP dashboard server.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl"`
	EvictInterval  time.Duration `yaml:"evict_interval"`
}

// StocksConfig configures the stock chart source.
type StocksConfig struct {
	BaseURL string `yaml:"base_url"`
	Ticker  string `yaml:"ticker"`
	Days    int    `yaml:"days"`
}

// AnalysisConfig configures the pipeline.
type AnalysisConfig struct {
	Neighbors    int     `yaml:"neighbors"`
	Target       string  `yaml:"target"`
	MinRows      int     `yaml:"min_rows"`
	TestFraction float64 `yaml:"test_fraction"`
	Seed         int64   `yaml:"seed"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		CMC: CMCConfig{
			BaseURL:   "https://pro-api.coinmarketcap.com",
			Start:     1,
			Limit:     50,
			Convert:   "USD",
			Timeout:   30 * time.Second,
			RateLimit: 0.5,
			Burst:     5,
		},
		Cache: CacheConfig{
			Backend: CacheMemory,
			TTL:     5 * time.Minute,
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "insight:"},
		},
		Server: ServerConfig{
			Addr:           ":8080",
			SessionIdleTTL: 30 * time.Minute,
			EvictInterval:  time.Minute,
		},
		Stocks: StocksConfig{
			BaseURL: "https://query1.finance.yahoo.com",
			Ticker:  "AAPL",
			Days:    7,
		},
		Analysis: AnalysisConfig{
			Neighbors:    5,
			Target:       "market_cap",
			MinRows:      10,
			TestFraction: 0.2,
			Seed:         42,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the .env file in the working directory if present, and the
// environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// godotenv never overrides variables already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CMC_API_KEY", &c.CMC.APIKey)
	str("CMC_BASE_URL", &c.CMC.BaseURL)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("REDIS_ADDR", &c.Cache.Redis.Addr)
	str("REDIS_PASSWORD", &c.Cache.Redis.Password)
	str("SERVER_ADDR", &c.Server.Addr)
	str("STOCKS_BASE_URL", &c.Stocks.BaseURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("CMC_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CMC_LIMIT: %w", err)
		}
		c.CMC.Limit = n
	}
	if v, ok := lookup("CACHE_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CACHE_TTL: %w", err)
		}
		c.Cache.TTL = d
	}
	return nil
}

// Validate rejects settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.CMC.BaseURL == "" {
		errs = append(errs, errors.New("cmc.base_url is required"))
	}
	if c.CMC.Start < 1 {
		errs = append(errs, fmt.Errorf("cmc.start must be >= 1, got %d", c.CMC.Start))
	}
	if c.CMC.Limit < 1 || c.CMC.Limit > 5000 {
		errs = append(errs, fmt.Errorf("cmc.limit must be in [1, 5000], got %d", c.CMC.Limit))
	}
	if c.CMC.RateLimit < 0 {
		errs = append(errs, errors.New("cmc.rate_limit must not be negative"))
	}
	switch strings.ToLower(c.Cache.Backend) {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory, redis or none, got %q", c.Cache.Backend))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}
	if c.Analysis.Neighbors < 1 {
		errs = append(errs, fmt.Errorf("analysis.neighbors must be >= 1, got %d", c.Analysis.Neighbors))
	}
	if c.Analysis.TestFraction <= 0 || c.Analysis.TestFraction >= 1 {
		errs = append(errs, fmt.Errorf("analysis.test_fraction must be in (0, 1), got %v", c.Analysis.TestFraction))
	}
	if c.Analysis.MinRows < 2 {
		errs = append(errs, fmt.Errorf("analysis.min_rows must be >= 2, got %d", c.Analysis.MinRows))
	}
	switch c.Analysis.Target {
	case "market_cap", "price", "volume_24h":
	default:
		errs = append(errs, fmt.Errorf("analysis.target must be price, volume_24h or market_cap, got %q", c.Analysis.Target))
	}
	if c.Stocks.Days < 0 {
		errs = append(errs, errors.New("stocks.days must not be negative"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
