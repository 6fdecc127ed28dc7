package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"learnkit/core"
)

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}

	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}

	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}

	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}

	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	validAdapters := []string{AdapterMemory, AdapterSQL, AdapterRedis}
	if !slices.Contains(validAdapters, s.Adapter) {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	switch s.Adapter {
	case AdapterSQL:
		if err := s.SQL.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sql config: %v", err))
		}
	case AdapterRedis:
		// Redis only caches; the durable copy lives in SQL.
		if err := s.SQL.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sql config: %v", err))
		}
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
		if s.Redis.StatsTTL < 0 {
			errs = append(errs, "redis config: stats_ttl cannot be negative")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, l.Level) {
		errs = append(errs, fmt.Sprintf("level must be one of: %s", strings.Join(validLevels, ", ")))
	}

	validFormats := []string{"json", "text"}
	if !slices.Contains(validFormats, l.Format) {
		errs = append(errs, fmt.Sprintf("format must be one of: %s", strings.Join(validFormats, ", ")))
	}

	validOutputs := []string{"stdout", "stderr"}
	if !slices.Contains(validOutputs, l.Output) {
		errs = append(errs, fmt.Sprintf("output must be one of: %s", strings.Join(validOutputs, ", ")))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Validate validates security settings.
func (s *SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks amounts, the pass threshold and the level curve.
func (p *ProgressionConfig) Validate() error {
	var errs []string

	if p.PassingScore <= 0 || p.PassingScore > 100 {
		errs = append(errs, "passing_score must be in (0, 100]")
	}

	amounts := []struct {
		name  string
		value int64
	}{
		{"lesson_completed", p.XP.LessonCompleted},
		{"quiz_passed", p.XP.QuizPassed},
		{"perfect_score", p.XP.PerfectScore},
		{"daily_login", p.XP.DailyLogin},
		{"streak_bonus", p.XP.StreakBonus},
	}
	for _, a := range amounts {
		if a.value < 0 {
			errs = append(errs, fmt.Sprintf("xp.%s cannot be negative", a.name))
		}
	}
	if p.XP.StreakBonusEvery < 1 {
		errs = append(errs, "xp.streak_bonus_every must be >= 1")
	}

	if err := p.Levels.Rules().Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("levels: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Rules converts the section into a level curve.
func (l LevelConfig) Rules() core.LevelRules {
	return core.LevelRules{Version: l.Version, BaseXP: l.BaseXP, GrowthFactor: l.GrowthFactor, MaxLevel: l.MaxLevel}
}

// Validate checks webhook URLs and the email sender.
func (n *NotificationsConfig) Validate() error {
	var errs []string

	for i, raw := range n.Webhooks {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("webhooks[%d] must be an absolute http(s) url", i))
		}
	}
	if len(n.Webhooks) > 0 && n.WebhookTimeout <= 0 {
		errs = append(errs, "webhook_timeout must be positive when webhooks are configured")
	}
	if n.Email.APIKey != "" && n.Email.FromAddress == "" {
		errs = append(errs, "email.from_address is required when an api key is set")
	}
	if n.Email.Timeout < 0 {
		errs = append(errs, "email.timeout must not be negative")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate parses the rebuild schedule when maintenance is enabled.
func (m *MaintenanceConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	var errs []string
	if _, err := cron.ParseStandard(m.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("schedule %q: %v", m.Schedule, err))
	}
	if m.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
