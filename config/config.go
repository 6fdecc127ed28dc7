package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"learnkit/adapters/redis"
	"learnkit/adapters/sqlx"
	"learnkit/integrations/email"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Storage adapters.
const (
	AdapterMemory = "memory"
	AdapterSQL    = "sql"
	// AdapterRedis keeps durable data in SQL and serves aggregates and the leaderboard from Redis.
	AdapterRedis = "redis"
)

// Config holds the complete application configuration
type Config struct {
	Environment Environment `json:"environment" env:"LEARNKIT_ENV"`
	Profile     string      `json:"profile" env:"LEARNKIT_PROFILE"`

	Server        ServerConfig        `json:"server"`
	Storage       StorageConfig       `json:"storage"`
	Logging       LoggingConfig       `json:"logging"`
	Metrics       MetricsConfig       `json:"metrics"`
	Security      SecurityConfig      `json:"security"`
	Progression   ProgressionConfig   `json:"progression"`
	Catalog       CatalogConfig       `json:"catalog"`
	Notifications NotificationsConfig `json:"notifications"`
	Maintenance   MaintenanceConfig   `json:"maintenance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"LEARNKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"LEARNKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"LEARNKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"LEARNKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"LEARNKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"LEARNKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"LEARNKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"LEARNKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"LEARNKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"LEARNKIT_LOG_LEVEL"`
	Format     string            `json:"format" env:"LEARNKIT_LOG_FORMAT"`
	Output     string            `json:"output" env:"LEARNKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"LEARNKIT_LOG_ATTRIBUTES"`
}

// MetricsConfig controls the in-process analytics hooks and their summary route.
type MetricsConfig struct {
	Enabled bool `json:"enabled" env:"LEARNKIT_METRICS_ENABLED"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"LEARNKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"LEARNKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" env:"LEARNKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int `json:"burst_size" env:"LEARNKIT_SECURITY_RATE_LIMIT_BURST"`
}

// ProgressionConfig holds the XP amounts, the pass threshold and the fallback level curve.
type ProgressionConfig struct {
	PassingScore float64     `json:"passing_score" env:"LEARNKIT_PASSING_SCORE"`
	XP           XPConfig    `json:"xp"`
	Levels       LevelConfig `json:"levels"`
}

// XPConfig mirrors the experience amounts of each activity.
type XPConfig struct {
	LessonCompleted  int64 `json:"lesson_completed" env:"LEARNKIT_XP_LESSON_COMPLETED"`
	QuizPassed       int64 `json:"quiz_passed" env:"LEARNKIT_XP_QUIZ_PASSED"`
	PerfectScore     int64 `json:"perfect_score" env:"LEARNKIT_XP_PERFECT_SCORE"`
	DailyLogin       int64 `json:"daily_login" env:"LEARNKIT_XP_DAILY_LOGIN"`
	StreakBonus      int64 `json:"streak_bonus" env:"LEARNKIT_XP_STREAK_BONUS"`
	StreakBonusEvery int   `json:"streak_bonus_every" env:"LEARNKIT_XP_STREAK_BONUS_EVERY"`
}

// LevelConfig is the level curve used when the catalog file does not define one.
type LevelConfig struct {
	Version      string  `json:"version" env:"LEARNKIT_LEVELS_VERSION"`
	BaseXP       int64   `json:"base_xp" env:"LEARNKIT_LEVELS_BASE_XP"`
	GrowthFactor float64 `json:"growth_factor" env:"LEARNKIT_LEVELS_GROWTH_FACTOR"`
	MaxLevel     int     `json:"max_level" env:"LEARNKIT_LEVELS_MAX_LEVEL"`
}

// CatalogConfig points at the JSON file holding the badge catalog and level rules.
// An empty path reads both from storage.
type CatalogConfig struct {
	Path string `json:"path" env:"LEARNKIT_CATALOG_PATH"`
}

// NotificationsConfig configures outbound webhooks and certificate email.
type NotificationsConfig struct {
	Webhooks       []string      `json:"webhooks,omitempty" env:"LEARNKIT_WEBHOOK_URLS"`
	WebhookSecret  string        `json:"webhook_secret,omitempty" env:"LEARNKIT_WEBHOOK_SECRET"`
	WebhookTimeout time.Duration `json:"webhook_timeout" env:"LEARNKIT_WEBHOOK_TIMEOUT"`
	// Email is used only when an API key is set; otherwise mail is logged.
	Email email.Config `json:"email"`
}

// MaintenanceConfig schedules the periodic aggregate rebuild.
type MaintenanceConfig struct {
	Enabled  bool          `json:"enabled" env:"LEARNKIT_MAINTENANCE_ENABLED"`
	Schedule string        `json:"schedule" env:"LEARNKIT_MAINTENANCE_SCHEDULE"`
	Timeout  time.Duration `json:"timeout" env:"LEARNKIT_MAINTENANCE_TIMEOUT"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file; environment variables win over file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: AdapterMemory,
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
			APIKeys: []string{},
		},
		Progression: ProgressionConfig{
			PassingScore: 60,
			XP: XPConfig{
				LessonCompleted:  10,
				QuizPassed:       50,
				PerfectScore:     25,
				DailyLogin:       5,
				StreakBonus:      50,
				StreakBonusEvery: 7,
			},
			Levels: LevelConfig{
				Version:      "default",
				BaseXP:       100,
				GrowthFactor: 1.25,
				MaxLevel:     100,
			},
		},
		Notifications: NotificationsConfig{
			WebhookTimeout: 5 * time.Second,
			Email: email.Config{
				FromName: "learnkit",
				Timeout:  10 * time.Second,
			},
		},
		Maintenance: MaintenanceConfig{
			Enabled:  false,
			Schedule: "@every 6h",
			Timeout:  10 * time.Minute,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		fn   func() error
	}{
		{"server", c.Server.Validate},
		{"storage", c.Storage.Validate},
		{"logging", c.Logging.Validate},
		{"security", c.Security.Validate},
		{"progression", c.Progression.Validate},
		{"notifications", c.Notifications.Validate},
		{"maintenance", c.Maintenance.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Notifications.WebhookSecret != "" {
		cfg.Notifications.WebhookSecret = "[REDACTED]"
	}
	if cfg.Notifications.Email.APIKey != "" {
		cfg.Notifications.Email.APIKey = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
