package config

import (
	"fmt"
	"time"

	"learnkit/adapters/sqlx"
)

// LoadProfile returns the defaults for a named deployment profile, overlaid with
// environment variables and validated.
func LoadProfile(name string) (*Config, error) {
	build, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	cfg := build()
	cfg.Profile = name

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s profile: %w", name, err)
	}
	return cfg, nil
}

var profiles = map[string]func() *Config{
	"development": developmentProfile,
	"testing":     testingProfile,
	"staging":     stagingProfile,
	"production":  productionProfile,
}

func developmentProfile() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvDevelopment
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	return cfg
}

func testingProfile() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvTesting
	cfg.Storage.SQL = sqlx.DefaultConfig(sqlx.DriverSQLite)
	cfg.Logging.Level = "warn"
	cfg.Metrics.Enabled = false
	return cfg
}

func stagingProfile() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvStaging
	cfg.Storage.Adapter = AdapterSQL
	cfg.Server.CORSOrigin = ""
	cfg.Security.EnableRateLimit = true
	cfg.Maintenance.Enabled = true
	return cfg
}

func productionProfile() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvProduction
	cfg.Storage.Adapter = AdapterRedis
	cfg.Server.CORSOrigin = ""
	cfg.Server.ShutdownTimeout = 60 * time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Security.EnableRateLimit = true
	cfg.Security.RateLimit = RateLimitConfig{RequestsPerMinute: 120, BurstSize: 20}
	cfg.Maintenance.Enabled = true
	cfg.Maintenance.Schedule = "0 3 * * *"
	return cfg
}
