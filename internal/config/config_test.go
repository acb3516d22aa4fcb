// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/pkg/errutil"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := config.Loader{}.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
	assert.Empty(t, cfg.HTTP.AllowedOrigins, "cross-origin requests are refused unless configured")
	assert.Contains(t, cfg.HTTP.PublicPaths, "/api/v1/status")
	assert.Contains(t, cfg.HTTP.PublicPaths, "/profile")
	assert.NotContains(t, cfg.HTTP.PublicPaths, "/api/v1/stats")
	assert.Equal(t, "session_id", cfg.Session.CookieName)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.ElementsMatch(t, []string{"email", "password", "new_password", "reset_token", "session_token"}, cfg.Log.Redact)
	assert.Equal(t, auth.AlgorithmArgon2id, cfg.Hasher.Algorithm)
	assert.Equal(t, uint32(auth.DefaultArgon2Memory), cfg.Hasher.Argon2Memory)
	assert.Equal(t, uint64(5), cfg.Database.ConnectAttempts)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
http:
  addr: ":9090"
  allowed_origins:
    - https://app.example.com
session:
  cookie_name: sid
hasher:
  algorithm: bcrypt
  bcrypt_cost: 12
`)

	cfg, err := config.Loader{Path: path}.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "sid", cfg.Session.CookieName)
	assert.Equal(t, auth.AlgorithmBcrypt, cfg.Hasher.Algorithm)
	assert.Equal(t, 12, cfg.Hasher.BcryptCost)
	assert.Equal(t, "json", cfg.Log.Format, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeYAML(t, "session:\n  cookie_name: from-file\n")
	t.Setenv("AUTHD_SESSION_COOKIE_NAME", "from-env")
	t.Setenv("AUTHD_HTTP__ADDR", ":7070")
	t.Setenv("AUTHD_LOG_FORMAT", "text")

	cfg, err := config.Loader{Path: path}.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Session.CookieName)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvListValues(t *testing.T) {
	t.Setenv("AUTHD_HTTP_PUBLIC_PATHS", "/, /users,,/api/v1/*")
	t.Setenv("AUTHD_HTTP_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("AUTHD_LOG_REDACT", "email")
	t.Setenv("AUTHD_SESSION_COOKIE_NAME", "a,b")

	cfg, err := config.Loader{}.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"/", "/users", "/api/v1/*"}, cfg.HTTP.PublicPaths)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, []string{"email"}, cfg.Log.Redact)
	assert.Equal(t, "a,b", cfg.Session.CookieName, "scalar keys are not split")
}

func TestLoad_EnvEmptyListClearsDefault(t *testing.T) {
	t.Setenv("AUTHD_LOG_REDACT", "")

	cfg, err := config.Loader{}.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Log.Redact)
}

func TestLoad_DatabaseURLFallback(t *testing.T) {
	t.Run("used when database.url is unset", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://fallback/authd")
		t.Setenv("AUTHD_STORE_DRIVER", "postgres")

		cfg, err := config.Loader{}.Load()
		require.NoError(t, err)
		assert.Equal(t, "postgres://fallback/authd", cfg.Database.URL)
	})

	t.Run("explicit setting wins", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://fallback/authd")
		t.Setenv("AUTHD_DATABASE_URL", "postgres://explicit/authd")

		cfg, err := config.Loader{}.Load()
		require.NoError(t, err)
		assert.Equal(t, "postgres://explicit/authd", cfg.Database.URL)
	})
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	t.Setenv("AUTHD_HTTP_ADDR", ":7070")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", ":8080", "listen address")
	flags.String("store", config.DriverMemory, "store driver")
	flags.String("unmapped", "x", "ignored")
	require.NoError(t, flags.Parse([]string{"--addr", ":6060"}))

	cfg, err := config.Loader{
		Flags:    flags,
		FlagKeys: map[string]string{"addr": "http.addr", "store": "store.driver"},
	}.Load()
	require.NoError(t, err)

	assert.Equal(t, ":6060", cfg.HTTP.Addr)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver, "unchanged flags do not override")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Loader{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Load()
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
	errutil.AssertErrorContext(t, err, "source", "file")
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			HTTP:    config.HTTPConfig{Addr: ":8080"},
			Log:     config.LogConfig{Format: "json"},
			Session: config.SessionConfig{CookieName: "session_id"},
			Store:   config.StoreConfig{Driver: config.DriverMemory},
			Hasher:  auth.HasherConfig{Algorithm: auth.AlgorithmArgon2id},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{"missing addr", func(c *config.Config) { c.HTTP.Addr = "" }, "http.addr"},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"missing cookie name", func(c *config.Config) { c.Session.CookieName = "" }, "session.cookie_name"},
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "redis" }, "store.driver"},
		{"postgres without url", func(c *config.Config) { c.Store.Driver = config.DriverPostgres }, "database.url"},
		{"unknown hasher", func(c *config.Config) { c.Hasher.Algorithm = "md5" }, "hasher.algorithm"},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}
