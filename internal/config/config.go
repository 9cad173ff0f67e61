// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

// Package config loads pharmadiet settings from defaults, an optional YAML
// file and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/pharmadiet/pharmadiet/internal/auth"
	"github.com/pharmadiet/pharmadiet/internal/logging"
)

// DatabaseURLEnv is consulted when database.url is not configured.
const DatabaseURLEnv = "DATABASE_URL"

// Bounds enforced by Validate.
const (
	MinPasswordLengthFloor = 4
	MinHashIterations      = 1_000
	MaxPasswordScore       = auth.PasswordRequirementCount
)

// Config is the full settings tree.
type Config struct {
	Security SecurityConfig `koanf:"security" json:"security,omitempty" jsonschema:"description=Login lockout, password and token settings"`
	Session  SessionConfig  `koanf:"session" json:"session,omitempty"`
	Log      LogConfig      `koanf:"log" json:"log,omitempty"`
	Database DatabaseConfig `koanf:"database" json:"database,omitempty"`
	Metrics  MetricsConfig  `koanf:"metrics" json:"metrics,omitempty"`
}

// SecurityConfig controls credential handling.
type SecurityConfig struct {
	MaxLoginAttempts   int           `koanf:"max_login_attempts" json:"max_login_attempts,omitempty" jsonschema:"minimum=1,description=Failed logins before the account locks"`
	LockoutDuration    time.Duration `koanf:"lockout_duration" json:"lockout_duration,omitempty" jsonschema:"description=How long a locked account stays locked"`
	SessionTimeout     time.Duration `koanf:"session_timeout" json:"session_timeout,omitempty"`
	RememberMeDuration time.Duration `koanf:"remember_me_duration" json:"remember_me_duration,omitempty"`
	MinPasswordLength  int           `koanf:"min_password_length" json:"min_password_length,omitempty" jsonschema:"minimum=4"`
	MinPasswordScore   int           `koanf:"min_password_score" json:"min_password_score,omitempty" jsonschema:"minimum=1,maximum=5"`
	HashIterations     int           `koanf:"hash_iterations" json:"hash_iterations,omitempty" jsonschema:"minimum=1000"`
	TokenTTL           time.Duration `koanf:"token_ttl" json:"token_ttl,omitempty"`
	ResetTokenTTL      time.Duration `koanf:"reset_token_ttl" json:"reset_token_ttl,omitempty" jsonschema:"description=Lifetime of an administrator-issued password reset code"`
	JWTSecret          string        `koanf:"jwt_secret" json:"jwt_secret,omitempty" jsonschema:"description=HMAC key for bearer tokens; generated per process when empty"`
}

// SessionConfig controls the session registry.
type SessionConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval" json:"sweep_interval,omitempty"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig selects durable storage. Empty URL keeps users in memory.
type DatabaseConfig struct {
	URL string `koanf:"url" json:"url,omitempty"`
}

// MetricsConfig controls the observability server. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Security: SecurityConfig{
			MaxLoginAttempts:   auth.DefaultMaxLoginAttempts,
			LockoutDuration:    auth.DefaultLockoutDuration,
			SessionTimeout:     auth.DefaultSessionTimeout,
			RememberMeDuration: auth.DefaultRememberMeDuration,
			MinPasswordLength:  auth.DefaultMinPasswordLength,
			MinPasswordScore:   auth.DefaultMinPasswordScore,
			HashIterations:     auth.DefaultHashIterations,
			TokenTTL:           auth.DefaultTokenTTL,
			ResetTokenTTL:      auth.DefaultResetTokenTTL,
		},
		Session: SessionConfig{SweepInterval: auth.DefaultSweepInterval},
		Log:     LogConfig{Format: "json", Level: "info"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"log-format":         "log.format",
	"log-level":          "log.level",
	"database-url":       "database.url",
	"metrics-addr":       "metrics.addr",
	"max-login-attempts": "security.max_login_attempts",
	"lockout-duration":   "security.lockout_duration",
	"session-timeout":    "security.session_timeout",
	"hash-iterations":    "security.hash_iterations",
	"sweep-interval":     "session.sweep_interval",
}

// RegisterFlags adds the overridable settings to fs. Defaults shown in help
// come from Default(); only flags the user sets take effect.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL URL (default: $"+DatabaseURLEnv+", empty keeps users in memory)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.Int("max-login-attempts", d.Security.MaxLoginAttempts, "failed logins before lockout")
	fs.Duration("lockout-duration", d.Security.LockoutDuration, "lockout duration")
	fs.Duration("session-timeout", d.Security.SessionTimeout, "session lifetime without remember-me")
	fs.Int("hash-iterations", d.Security.HashIterations, "PBKDF2 iterations")
	fs.Duration("sweep-interval", d.Session.SweepInterval, "expired session sweep interval")
}

// Load builds a Config. path may be empty; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return Config{}, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").With("operation", "decode config").Wrap(err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv(DatabaseURLEnv)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects out-of-range settings, reporting every problem at once.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	s := c.Security
	if s.MaxLoginAttempts < 1 {
		add("security.max_login_attempts must be at least 1, got %d", s.MaxLoginAttempts)
	}
	if s.LockoutDuration <= 0 {
		add("security.lockout_duration must be positive, got %s", s.LockoutDuration)
	}
	if s.SessionTimeout <= 0 {
		add("security.session_timeout must be positive, got %s", s.SessionTimeout)
	}
	if s.RememberMeDuration <= 0 {
		add("security.remember_me_duration must be positive, got %s", s.RememberMeDuration)
	}
	if s.MinPasswordLength < MinPasswordLengthFloor {
		add("security.min_password_length must be at least %d, got %d", MinPasswordLengthFloor, s.MinPasswordLength)
	}
	if s.MinPasswordScore < 1 || s.MinPasswordScore > MaxPasswordScore {
		add("security.min_password_score must be between 1 and %d, got %d", MaxPasswordScore, s.MinPasswordScore)
	}
	if s.HashIterations < MinHashIterations {
		add("security.hash_iterations must be at least %d, got %d", MinHashIterations, s.HashIterations)
	}
	if s.TokenTTL <= 0 {
		add("security.token_ttl must be positive, got %s", s.TokenTTL)
	}
	if s.ResetTokenTTL <= 0 {
		add("security.reset_token_ttl must be positive, got %s", s.ResetTokenTTL)
	}
	if c.Session.SweepInterval <= 0 {
		add("session.sweep_interval must be positive, got %s", c.Session.SweepInterval)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	if len(problems) == 0 {
		return nil
	}
	return oops.Code("CONFIG_INVALID").
		With("problems", problems).
		Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

// EnsureJWTSecret fills an empty JWT secret with a random one. Tokens signed
// with a generated secret do not survive a restart, so a warning is logged.
func (c *Config) EnsureJWTSecret(logger *slog.Logger) error {
	if c.Security.JWTSecret != "" {
		return nil
	}
	secret, err := auth.GenerateSecret()
	if err != nil {
		return oops.Code("CONFIG_SECRET_FAILED").Wrap(err)
	}
	c.Security.JWTSecret = secret
	logger.Warn("security.jwt_secret not set; generated an ephemeral secret",
		"effect", "issued tokens are invalid after restart")
	return nil
}

// AuthConfig converts the settings into auth.Service configuration.
func (c Config) AuthConfig() auth.Config {
	return auth.Config{
		Lockout: auth.LockoutPolicy{
			MaxAttempts: c.Security.MaxLoginAttempts,
			Duration:    c.Security.LockoutDuration,
		},
		Password: auth.PasswordPolicy{
			MinLength: c.Security.MinPasswordLength,
			MinScore:  c.Security.MinPasswordScore,
		},
		SessionTimeout:     c.Security.SessionTimeout,
		RememberMeDuration: c.Security.RememberMeDuration,
		ResetTokenTTL:      c.Security.ResetTokenTTL,
	}
}

// LoggingOptions converts the log settings for logging.Setup.
func (c Config) LoggingOptions(service, version string) logging.Options {
	return logging.Options{
		Service: service,
		Version: version,
		Format:  c.Log.Format,
		Level:   c.Log.Level,
	}
}
