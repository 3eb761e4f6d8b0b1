package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the linkpage application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Cache      CacheConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional raw-event warehouse. When
// disabled, raw click events land in Postgres next to the rollups.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

type RateLimitConfig struct {
	Enabled     bool
	PublicRPS   float64
	PublicBurst int
	MgmtRPS     float64
	MgmtBurst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of click events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// CacheConfig configures the Redis link-resolution cache on the redirect
// hot path.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("LINKPAGE_HTTP_ADDR", ":8080"),
			Env:             getEnv("LINKPAGE_ENV", "development"),
			ShutdownTimeout: getDurationEnv("LINKPAGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("LINKPAGE_DB_HOST", "localhost"),
			Port:     getIntEnv("LINKPAGE_DB_PORT", 5432),
			User:     getEnv("LINKPAGE_DB_USER", "linkpage"),
			Password: getEnv("LINKPAGE_DB_PASSWORD", "linkpage_secret"),
			DBName:   getEnv("LINKPAGE_DB_NAME", "linkpage"),
			SSLMode:  getEnv("LINKPAGE_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("LINKPAGE_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("LINKPAGE_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("LINKPAGE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("LINKPAGE_REDIS_PASSWORD", ""),
			DB:       getIntEnv("LINKPAGE_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("LINKPAGE_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("LINKPAGE_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("LINKPAGE_CLICKHOUSE_DB", "linkpage"),
			User:     getEnv("LINKPAGE_CLICKHOUSE_USER", "default"),
			Password: getEnv("LINKPAGE_CLICKHOUSE_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("LINKPAGE_RATE_LIMIT_ENABLED", true),
			PublicRPS:   getFloatEnv("LINKPAGE_RATE_LIMIT_PUBLIC_RPS", 1000),
			PublicBurst: getIntEnv("LINKPAGE_RATE_LIMIT_PUBLIC_BURST", 200),
			MgmtRPS:     getFloatEnv("LINKPAGE_RATE_LIMIT_MGMT_RPS", 100),
			MgmtBurst:   getIntEnv("LINKPAGE_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("LINKPAGE_LOG_LEVEL", "info"),
			Format: getEnv("LINKPAGE_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("LINKPAGE_METRICS_ENABLED", true),
			Path:    getEnv("LINKPAGE_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("LINKPAGE_GEO_ENABLED", false),
			DatabasePath: getEnv("LINKPAGE_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
		Cache: CacheConfig{
			Enabled: getBoolEnv("LINKPAGE_CACHE_ENABLED", true),
			TTL:     getDurationEnv("LINKPAGE_CACHE_TTL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Geo.Enabled && c.Geo.DatabasePath == "" {
		return fmt.Errorf("LINKPAGE_GEO_DB_PATH is required when geo is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Addr == "" {
		return fmt.Errorf("LINKPAGE_CLICKHOUSE_ADDR is required when clickhouse is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
