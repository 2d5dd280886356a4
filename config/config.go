// Package config loads tenantctl configuration using koanf.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	tenantclient "github.com/JohnPlummer/jp-go-tenantclient"
	"github.com/JohnPlummer/jp-go-tenantclient/internal/logging"
)

// DefaultEnvPrefix is the prefix of environment overrides. Nested keys use a double
// underscore, e.g. TENANTCLIENT_CLIENT__RETRY__MAX_ATTEMPTS=5.
const DefaultEnvPrefix = "TENANTCLIENT_"

// DefaultKeyringService is the keyring service tenantctl stores credentials under.
const DefaultKeyringService = "tenantctl"

// Config is the root configuration structure.
type Config struct {
	// BaseURL is the root of the tenant API.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// Name identifies the client in logs, metrics and traces.
	Name string `koanf:"name" validate:"required"`

	// TenantID, when set, overrides the tenant stored in the keyring.
	TenantID string `koanf:"tenant_id"`

	// Token, when set, overrides the token stored in the keyring.
	// Prefer the keyring or the environment over writing it to a file.
	Token string `koanf:"token"`

	Keyring KeyringConfig       `koanf:"keyring"`
	Log     logging.Config      `koanf:"log"     validate:"required"`
	Client  tenantclient.Config `koanf:"client"  validate:"required"`
}

// KeyringConfig controls credential lookup in the OS keyring.
type KeyringConfig struct {
	Enabled bool   `koanf:"enabled"`
	Service string `koanf:"service" validate:"required_if=Enabled true"`
}

// defaults mirrors tenantclient.DefaultConfig so that a partial file or environment
// only overrides what it names.
func defaults() map[string]any {
	d := tenantclient.DefaultConfig()
	return map[string]any{
		"name":      "tenant-api",
		"tenant_id": "",
		"token":     "",

		"keyring.enabled": true,
		"keyring.service": DefaultKeyringService,

		"log.level":            "info",
		"log.format":           "pretty",
		"log.file.enabled":     false,
		"log.file.path":        "",
		"log.file.max_size":    logging.DefaultFileMaxSizeMB,
		"log.file.max_backups": logging.DefaultFileMaxBackups,
		"log.file.max_age":     logging.DefaultFileMaxAgeDays,
		"log.file.compress":    false,

		"client.timeout":                           d.Timeout.String(),
		"client.max_body_bytes":                    d.MaxBodyBytes,
		"client.retry.max_attempts":                d.Retry.MaxAttempts,
		"client.retry.base_delay":                  d.Retry.BaseDelay.String(),
		"client.retry.max_delay":                   d.Retry.MaxDelay.String(),
		"client.retry.jitter":                      d.Retry.Jitter.String(),
		"client.circuit_breaker.failure_threshold": d.CircuitBreaker.FailureThreshold,
		"client.circuit_breaker.reset_timeout":     d.CircuitBreaker.ResetTimeout.String(),
	}
}

// Load loads configuration with the following precedence (highest to lowest):
//  1. overrides, keyed by dotted path such as "client.timeout" (command-line flags)
//  2. Environment variables (envPrefix, DefaultEnvPrefix when empty)
//  3. The YAML file at path, when path is non-empty and the file exists
//  4. Default values
//
// The result is validated before it is returned.
func Load(path, envPrefix string, overrides map[string]any) (*Config, error) {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := loadFileIfExists(k, path); err != nil {
			return nil, fmt.Errorf("loading config file %q: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envPrefix)),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("loading overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFileIfExists loads a YAML config file if it exists.
func loadFileIfExists(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return k.Load(file.Provider(path), yaml.Parser())
}
