package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"learnkit/core"
)

// SecretStore resolves secrets by name.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from process environment variables.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

// Get returns the variable's value or a wrapped core.ErrNotFound.
func (EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("secret %s: %w", key, core.ErrNotFound)
	}
	return v, nil
}

func (s EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadSecretsFromEnv overrides credentials found in the store.
// A <NAME>_FILE variant is read when the plain variable is unset.
func LoadSecretsFromEnv(ctx context.Context, cfg *Config, store SecretStore) error {
	targets := []struct {
		key string
		dst *string
	}{
		{"LEARNKIT_STORAGE_SQL_DSN", &cfg.Storage.SQL.DSN},
		{"LEARNKIT_REDIS_PASSWORD", &cfg.Storage.Redis.Password},
		{"LEARNKIT_WEBHOOK_SECRET", &cfg.Notifications.WebhookSecret},
		{"LEARNKIT_SENDGRID_API_KEY", &cfg.Notifications.Email.APIKey},
	}
	for _, t := range targets {
		if v := store.GetWithDefault(ctx, t.key, ""); v != "" {
			*t.dst = v
			continue
		}
		path := store.GetWithDefault(ctx, t.key+"_FILE", "")
		if path == "" {
			continue
		}
		b, err := os.ReadFile(path) // #nosec G304 - operator-provided secret mount
		if err != nil {
			return fmt.Errorf("reading %s_FILE: %w", t.key, err)
		}
		*t.dst = strings.TrimSpace(string(b))
	}
	return nil
}
