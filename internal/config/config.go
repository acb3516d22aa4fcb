// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authd configuration from layered sources: built-in
// defaults, an optional YAML file, AUTHD_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/logging"
)

// EnvPrefix prefixes every environment variable authd reads.
const EnvPrefix = "AUTHD_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the complete authd configuration.
type Config struct {
	HTTP     HTTPConfig        `koanf:"http"`
	Metrics  MetricsConfig     `koanf:"metrics"`
	Log      LogConfig         `koanf:"log"`
	Session  SessionConfig     `koanf:"session"`
	Store    StoreConfig       `koanf:"store"`
	Database DatabaseConfig    `koanf:"database"`
	Hasher   auth.HasherConfig `koanf:"hasher"`
}

// HTTPConfig configures the public listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	// PublicPaths are globs of paths served without a session.
	PublicPaths []string `koanf:"public_paths"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string   `koanf:"format"`
	Redact []string `koanf:"redact"`
}

// SessionConfig configures the session cookie.
type SessionConfig struct {
	CookieName   string `koanf:"cookie_name"`
	CookieSecure bool   `koanf:"cookie_secure"`
}

// StoreConfig selects the credential store.
type StoreConfig struct {
	Driver string `koanf:"driver"`
}

// DatabaseConfig configures the PostgreSQL store.
type DatabaseConfig struct {
	URL             string `koanf:"url"`
	AutoMigrate     bool   `koanf:"auto_migrate"`
	ConnectAttempts uint64 `koanf:"connect_attempts"`
	MaxConns        int32  `koanf:"max_conns"`
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"http.addr":             ":8080",
		"http.read_timeout":     "10s",
		"http.write_timeout":    "10s",
		"http.shutdown_timeout": "5s",
		"http.allowed_origins":  []string{},
		"http.public_paths": []string{
			"/",
			"/users",
			"/sessions",
			"/reset_password",
			"/profile",
			"/api/v1/status",
			"/api/v1/unauthorized",
			"/api/v1/forbidden",
		},
		"metrics.addr":              "127.0.0.1:9100",
		"log.format":                "json",
		"log.redact":                slices.Clone(logging.DefaultRedactKeys),
		"session.cookie_name":       "session_id",
		"session.cookie_secure":     false,
		"store.driver":              DriverMemory,
		"database.url":              "",
		"database.auto_migrate":     false,
		"database.connect_attempts": 5,
		"database.max_conns":        0,
		"hasher.algorithm":          auth.AlgorithmArgon2id,
		"hasher.argon2_time":        auth.DefaultArgon2Time,
		"hasher.argon2_memory":      auth.DefaultArgon2Memory,
		"hasher.argon2_threads":     auth.DefaultArgon2Threads,
		"hasher.bcrypt_cost":        0,
	}
}

// Loader assembles a Config.
type Loader struct {
	// Path is an optional YAML file.
	Path string
	// Flags, when set, override every other source for flags the user changed.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys. Flags without an entry are ignored.
	FlagKeys map[string]string
}

// Load reads the configuration layers and validates the result.
func (l Loader) Load() (*Config, error) {
	k := koanf.New(".")
	defaults := Defaults()

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if l.Path != "" {
		if err := k.Load(file.Provider(l.Path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "file").
				With("path", l.Path).
				Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValueMapper(defaults)), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if k.String("database.url") == "" {
		if url := os.Getenv("DATABASE_URL"); url != "" {
			if err := k.Set("database.url", url); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "DATABASE_URL").Wrap(err)
			}
		}
	}

	if l.Flags != nil {
		provider := posflag.ProviderWithFlag(l.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := l.FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(l.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Session.CookieName == "" {
		return invalid("session.cookie_name", "session.cookie_name is required")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database.url (or DATABASE_URL) is required for the postgres store")
		}
	default:
		return invalid("store.driver", "store.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Store.Driver)
	}
	switch c.Hasher.Algorithm {
	case auth.AlgorithmArgon2id, auth.AlgorithmBcrypt:
	default:
		return invalid("hasher.algorithm", "hasher.algorithm must be %q or %q, got %q",
			auth.AlgorithmArgon2id, auth.AlgorithmBcrypt, c.Hasher.Algorithm)
	}
	return nil
}

// envKeyMapper maps AUTHD_SESSION_COOKIE_NAME to session.cookie_name when
// that key exists, and otherwise treats a double underscore as the key
// delimiter (AUTHD_HTTP__ADDR → http.addr).
func envKeyMapper(defaults map[string]any) func(string) string {
	flat := make(map[string]string, len(defaults))
	for key := range defaults {
		flat[strings.ReplaceAll(key, ".", "_")] = key
	}
	return func(name string) string {
		name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		if key, ok := flat[name]; ok {
			return key
		}
		return strings.ReplaceAll(name, "__", ".")
	}
}

// envValueMapper maps the variable name with envKeyMapper and splits
// comma-separated values for keys whose default is a list, so that
// AUTHD_HTTP_PUBLIC_PATHS="/,/users" loads as two paths.
func envValueMapper(defaults map[string]any) func(string, string) (string, any) {
	mapKey := envKeyMapper(defaults)
	return func(name, value string) (string, any) {
		key := mapKey(name)
		if _, ok := defaults[key].([]string); !ok {
			return key, value
		}
		items := []string{}
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return key, items
	}
}
