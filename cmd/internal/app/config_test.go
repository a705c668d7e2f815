package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef-app"

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TALLY_AUTH_JWT_SECRET", testSecret)

	cfg := LoadConfig(NewViper())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr)
	assert.Equal(t, time.Duration(0), cfg.HTTP.WriteTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, storage.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, storage.DefaultSchema, cfg.Storage.Schema)
	assert.Equal(t, 15*time.Minute, cfg.Session.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.RefreshTokenTTL)
	assert.Equal(t, testSecret, cfg.Session.JWTSecret)
	assert.True(t, cfg.Realtime.RequireAuth)
	assert.Equal(t, []string{"http://localhost", "http://127.0.0.1"}, cfg.Realtime.AllowedOrigins)
	assert.Equal(t, int64(1<<20), cfg.API.MaxBodyBytes)
	assert.Empty(t, cfg.HTTP.CORS.AllowedOrigins)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TALLY_AUTH_JWT_SECRET", testSecret)
	t.Setenv("TALLY_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("TALLY_AUTH_ACCESS_TTL", "5m")
	t.Setenv("TALLY_WS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("TALLY_WS_REQUIRE_MEMBERSHIP", "true")
	t.Setenv("TALLY_STORAGE_BACKEND", "sqlite")
	t.Setenv("TALLY_STORAGE_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("TALLY_HTTP_TRUST_PROXY", "true")

	cfg := LoadConfig(NewViper())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Session.AccessTokenTTL)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Realtime.AllowedOrigins)
	assert.True(t, cfg.Realtime.RequireMembership)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.SQLitePath)
	assert.True(t, cfg.API.TrustProxy)
}

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tally.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: 127.0.0.1:7070
  cors_allowed_origins:
    - https://app.example.com
log:
  format: text
auth:
  jwt_secret: `+testSecret+`
  refresh_ttl: 48h
ws:
  heartbeat_interval: 30s
`), 0o600))

	t.Setenv("TALLY_LOG_FORMAT", "pretty")

	v := NewViper()
	require.NoError(t, ReadConfigFile(v, path))
	cfg := LoadConfig(v)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:7070", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.CORS.AllowedOrigins)
	assert.Equal(t, 48*time.Hour, cfg.Session.RefreshTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
	// Environment beats the file.
	assert.Equal(t, "pretty", cfg.Log.Format)

	err := ReadConfigFile(NewViper(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestReadConfigFile_OptionalDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, ReadConfigFile(NewViper(), ""))
}

func TestConfig_Validate(t *testing.T) {
	t.Setenv("TALLY_AUTH_JWT_SECRET", testSecret)
	base := LoadConfig(NewViper())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.Session.JWTSecret = "" }},
		{"short secret", func(c *Config) { c.Session.JWTSecret = "too-short" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }},
		{"postgres without url", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"postgres bad schema", func(c *Config) {
			c.Storage.Backend = "postgres"
			c.Storage.DatabaseURL = "postgres://localhost/tally"
			c.Storage.Schema = "drop table;"
		}},
		{"sqlite without path", func(c *Config) {
			c.Storage.Backend = "sqlite"
			c.Storage.SQLitePath = ""
		}},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"bcrypt cost", func(c *Config) { c.Passwords.Cost = 99 }},
		{"heartbeat", func(c *Config) { c.Realtime.HeartbeatTimeout = c.Realtime.HeartbeatInterval }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Realtime.AllowedOrigins = append([]string(nil), base.Realtime.AllowedOrigins...)
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
