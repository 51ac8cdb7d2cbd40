package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Coupons   CouponConfig    `json:"coupons"`
	Logging   LoggingConfig   `json:"logging"`
	Tracing   TracingConfig   `json:"tracing"`
	Cache     CacheConfig     `json:"cache"`
	Features  FeatureConfig   `json:"features"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `json:"port" env:"SERVER_PORT"`
	Host            string `json:"host" env:"SERVER_HOST"`
	ReadTimeout     int    `json:"read_timeout" env:"SERVER_READ_TIMEOUT"`         // seconds
	WriteTimeout    int    `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`       // seconds
	ShutdownTimeout int    `json:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"` // seconds
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path" env:"DATABASE_PATH"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size" env:"MAX_REQUEST_BODY_SIZE"`
	// Allowed CORS origins
	AllowedOrigins []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" env:"RATE_LIMIT_ENABLED"`
	Rate    int  `json:"rate" env:"RATE_LIMIT_RATE"`
	Window  int  `json:"window" env:"RATE_LIMIT_WINDOW"` // in seconds
}

// CouponConfig holds coupon issuance settings.
type CouponConfig struct {
	ValidityDays int `json:"validity_days" env:"COUPON_VALIDITY_DAYS"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Production bool   `json:"production" env:"LOG_PRODUCTION"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" env:"TRACING_ENABLED"`
	Endpoint    string `json:"endpoint" env:"TRACING_ENDPOINT"`
	Environment string `json:"environment" env:"TRACING_ENVIRONMENT"`
}

// CacheConfig holds coupon listing cache settings. An empty RedisAddr
// selects the in-process cache.
type CacheConfig struct {
	Enabled       bool   `json:"enabled" env:"CACHE_ENABLED"`
	TTL           int    `json:"ttl" env:"CACHE_TTL"` // seconds
	RedisAddr     string `json:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"REDIS_DB"`
}

// TTLDuration returns the cache TTL as a duration.
func (c CacheConfig) TTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// FeatureConfig toggles optional surfaces.
type FeatureConfig struct {
	EventHooks bool `json:"event_hooks" env:"FEATURE_EVENT_HOOKS"`
	Dashboard  bool `json:"dashboard" env:"FEATURE_DASHBOARD"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15,
			WriteTimeout:    15,
			ShutdownTimeout: 10,
		},
		Database: DatabaseConfig{
			Path: "./referral.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     []string{"*"},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Coupons: CouponConfig{
			ValidityDays: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Endpoint:    "http://localhost:14268/api/traces",
			Environment: "development",
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     30,
		},
		Features: FeatureConfig{
			EventHooks: true,
			Dashboard:  true,
		},
	}
}

// LoadConfig loads configuration from defaults, an optional JSON config file
// and environment variables. Environment variables take precedence.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Fields whose variable is unset keep their current value.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from path into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Security.MaxRequestBodySize <= 0 {
		return fmt.Errorf("max request body size must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Coupons.ValidityDays <= 0 {
		return fmt.Errorf("coupon validity days must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	return nil
}
