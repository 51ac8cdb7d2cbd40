package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Coupons.ValidityDays != 30 {
		t.Errorf("Expected 30 validity days, got %d", cfg.Coupons.ValidityDays)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults must validate, got %v", err)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"server": {"port": "9090"},
		"database": {"path": "/tmp/from-file.db"},
		"coupons": {"validity_days": 14}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("CACHE_TTL", "120")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port from file, got %s", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Expected env to override file, got %s", cfg.Database.Path)
	}
	if cfg.Coupons.ValidityDays != 14 {
		t.Errorf("Expected validity days from file, got %d", cfg.Coupons.ValidityDays)
	}
	if cfg.Cache.TTLDuration() != 2*time.Minute {
		t.Errorf("Expected cache ttl 2m, got %v", cfg.Cache.TTLDuration())
	}
	if len(cfg.Security.AllowedOrigins) != 2 {
		t.Errorf("Expected 2 origins, got %v", cfg.Security.AllowedOrigins)
	}
	if cfg.RateLimit.Rate != 100 {
		t.Errorf("Expected default rate to survive, got %d", cfg.RateLimit.Rate)
	}
}

func TestLoadConfig_CacheTTLFromFileIsSeconds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"cache": {"ttl": 45}}`), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Cache.TTLDuration(); got != 45*time.Second {
		t.Errorf("Expected cache ttl 45s, got %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected config to validate, got %v", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("COUPON_VALIDITY_DAYS=7\n"), 0o600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}

	// Registers cleanup of the variable that godotenv sets.
	t.Setenv("COUPON_VALIDITY_DAYS", "")
	os.Unsetenv("COUPON_VALIDITY_DAYS")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Coupons.ValidityDays != 7 {
		t.Errorf("Expected validity days from .env, got %d", cfg.Coupons.ValidityDays)
	}

	if err := LoadDotEnv(filepath.Join(dir, "absent.env")); err != nil {
		t.Errorf("Missing .env must not fail, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero rate", func(c *Config) { c.RateLimit.Rate = 0 }},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"zero validity", func(c *Config) { c.Coupons.ValidityDays = 0 }},
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Endpoint = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
