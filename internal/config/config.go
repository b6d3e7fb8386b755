// Package config loads quotehub settings from a YAML file, a .env file and
// environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string        `yaml:"addr"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Upstream struct {
	// Provider is alphavantage or fmp.
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

type Scheduler struct {
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

type Cache struct {
	QuoteTTL          time.Duration `yaml:"quote_ttl"`
	AggregateTTL      time.Duration `yaml:"aggregate_ttl"`
	DocumentTTL       time.Duration `yaml:"document_ttl"`
	MaxEntries        int           `yaml:"max_entries"`
	FirstFetchTimeout time.Duration `yaml:"first_fetch_timeout"`
}

type Symbols struct {
	Indices  []string `yaml:"indices"`
	Trending []string `yaml:"trending"`
}

type Live struct {
	Tick       time.Duration `yaml:"tick"`
	MaxSymbols int           `yaml:"max_symbols"`
	Outbox     int           `yaml:"outbox"`
}

type Store struct {
	Driver        string        `yaml:"driver"`
	SQLitePath    string        `yaml:"sqlite_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	Retention     time.Duration `yaml:"retention"`
}

type Events struct {
	// Brokers empty disables publishing.
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Jobs struct {
	Warm  string `yaml:"warm"`
	Prune string `yaml:"prune"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Upstream  Upstream  `yaml:"upstream"`
	Scheduler Scheduler `yaml:"scheduler"`
	Cache     Cache     `yaml:"cache"`
	Symbols   Symbols   `yaml:"symbols"`
	Live      Live      `yaml:"live"`
	Store     Store     `yaml:"store"`
	Events    Events    `yaml:"events"`
	Jobs      Jobs      `yaml:"jobs"`
}

func Default() Config {
	return Config{
		Server: Server{Addr: ":8080", MaxBodyBytes: 1 << 20, RequestTimeout: 30 * time.Second},
		Log:    Log{Level: "info"},
		Upstream: Upstream{
			Provider:          "alphavantage",
			RequestsPerMinute: 5,
			Timeout:           10 * time.Second,
		},
		Scheduler: Scheduler{MaxBackoff: 2 * time.Minute},
		Cache: Cache{
			QuoteTTL:          300 * time.Second,
			AggregateTTL:      900 * time.Second,
			DocumentTTL:       24 * time.Hour,
			MaxEntries:        1000,
			FirstFetchTimeout: 5 * time.Second,
		},
		Symbols: Symbols{
			Indices:  []string{"SPY", "QQQ", "DIA"},
			Trending: []string{"AAPL", "MSFT", "NVDA", "TSLA", "GOOGL", "AMZN"},
		},
		Live: Live{Tick: 5 * time.Second, MaxSymbols: 50, Outbox: 16},
		Store: Store{
			Driver:     "memory",
			SQLitePath: "data/quotehub.db",
			Prefix:     "quotehub",
			Retention:  7 * 24 * time.Hour,
		},
		Events: Events{Topic: "quotehub.quotes"},
		Jobs:   Jobs{Warm: "0 */5 * * * *", Prune: "0 0 * * * *"},
	}
}

// Load reads YAML config from path on top of Default. An empty path falls
// back to CONFIG_FILE, then to config.yaml if present. A .env file in the
// working directory is loaded first; environment variables win over the file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Upstream.Provider {
	case "alphavantage", "fmp":
	default:
		errs = append(errs, fmt.Errorf("upstream.provider must be alphavantage or fmp, got %q", c.Upstream.Provider))
	}
	if c.Upstream.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("upstream.requests_per_minute must be positive"))
	}
	if c.Cache.QuoteTTL <= 0 || c.Cache.AggregateTTL <= 0 || c.Cache.DocumentTTL <= 0 {
		errs = append(errs, errors.New("cache ttls must be positive"))
	}
	if c.Cache.FirstFetchTimeout <= 0 {
		errs = append(errs, errors.New("cache.first_fetch_timeout must be positive"))
	}
	if c.Scheduler.MaxBackoff <= 0 {
		errs = append(errs, errors.New("scheduler.max_backoff must be positive"))
	}
	if c.Live.Tick <= 0 {
		errs = append(errs, errors.New("live.tick must be positive"))
	}
	if c.Live.Outbox <= 0 {
		errs = append(errs, errors.New("live.outbox must be positive"))
	}
	switch c.Store.Driver {
	case "memory", "noop", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
	}
	if c.Store.Driver == "redis" && c.Store.RedisAddr == "" {
		errs = append(errs, errors.New("store.redis_addr is required for the redis driver"))
	}
	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		errs = append(errs, errors.New("events.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	envString("QUOTEHUB_ADDR", &cfg.Server.Addr)
	envString("QUOTEHUB_LOG_LEVEL", &cfg.Log.Level)
	envString("QUOTEHUB_PROVIDER", &cfg.Upstream.Provider)
	envString("QUOTEHUB_BASE_URL", &cfg.Upstream.BaseURL)
	envString("QUOTEHUB_API_KEY", &cfg.Upstream.APIKey)
	switch cfg.Upstream.Provider {
	case "alphavantage":
		envString("ALPHAVANTAGE_API_KEY", &cfg.Upstream.APIKey)
	case "fmp":
		envString("FMP_API_KEY", &cfg.Upstream.APIKey)
	}
	envString("QUOTEHUB_STORE_DRIVER", &cfg.Store.Driver)
	envString("QUOTEHUB_SQLITE_PATH", &cfg.Store.SQLitePath)
	envString("QUOTEHUB_REDIS_ADDR", &cfg.Store.RedisAddr)
	envString("QUOTEHUB_REDIS_PASSWORD", &cfg.Store.RedisPassword)
	envString("QUOTEHUB_EVENTS_TOPIC", &cfg.Events.Topic)
	if v := os.Getenv("QUOTEHUB_KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = splitCSV(v)
	}
	if v := os.Getenv("QUOTEHUB_INDICES"); v != "" {
		cfg.Symbols.Indices = splitCSV(v)
	}
	if v := os.Getenv("QUOTEHUB_TRENDING"); v != "" {
		cfg.Symbols.Trending = splitCSV(v)
	}

	return errors.Join(
		envBool("QUOTEHUB_LOG_PRETTY", &cfg.Log.Pretty),
		envInt("QUOTEHUB_REQUESTS_PER_MINUTE", &cfg.Upstream.RequestsPerMinute),
		envInt("QUOTEHUB_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries),
		envInt("QUOTEHUB_LIVE_MAX_SYMBOLS", &cfg.Live.MaxSymbols),
		envInt("QUOTEHUB_REDIS_DB", &cfg.Store.RedisDB),
		envDuration("QUOTEHUB_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout),
		envDuration("QUOTEHUB_UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout),
		envDuration("QUOTEHUB_MAX_BACKOFF", &cfg.Scheduler.MaxBackoff),
		envDuration("QUOTEHUB_QUOTE_TTL", &cfg.Cache.QuoteTTL),
		envDuration("QUOTEHUB_AGGREGATE_TTL", &cfg.Cache.AggregateTTL),
		envDuration("QUOTEHUB_DOCUMENT_TTL", &cfg.Cache.DocumentTTL),
		envDuration("QUOTEHUB_FIRST_FETCH_TIMEOUT", &cfg.Cache.FirstFetchTimeout),
		envDuration("QUOTEHUB_LIVE_TICK", &cfg.Live.Tick),
		envDuration("QUOTEHUB_STORE_RETENTION", &cfg.Store.Retention),
	)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = x
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	default:
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
