package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/api"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/auth/session"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/realtime"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/storage"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/security/password"
)

// EnvPrefix namespaces every environment override: http.addr is TALLY_HTTP_ADDR.
const EnvPrefix = "TALLY"

// DefaultConfigName is looked up in the working directory when --config is not given.
const DefaultConfigName = "tally"

// Config is the full runtime configuration.
type Config struct {
	HTTP    HTTPConfig
	Log     LogConfig
	Storage StorageConfig

	Session   session.Config
	Passwords password.Config
	Realtime  realtime.Config
	API       api.Config
}

type HTTPConfig struct {
	Addr string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	// WriteTimeout of zero leaves long-lived websocket connections alone.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int

	CORS CORSConfig
}

// CORSConfig is the browser cross-origin policy for the REST routes. An empty
// AllowedOrigins list disables CORS handling.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type LogConfig struct {
	Level  string
	Format string // json | text | pretty
	Color  bool
}

type StorageConfig struct {
	Backend     string
	DatabaseURL string
	Schema      string
	SQLitePath  string

	MaxConns int32
	MinConns int32

	// AutoMigrate applies the embedded Postgres schema at startup.
	AutoMigrate bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "0.0.0.0:8080")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", time.Duration(0))
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_header_bytes", 1<<20)
	v.SetDefault("http.max_body_bytes", api.DefaultConfig().MaxBodyBytes)
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("http.cors_allowed_origins", []string{})
	v.SetDefault("http.cors_allow_credentials", false)
	v.SetDefault("http.cors_max_age", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.color", false)

	v.SetDefault("storage.backend", storage.BackendMemory)
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.schema", storage.DefaultSchema)
	v.SetDefault("storage.sqlite_path", "data/tally.db")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.min_conns", 0)
	v.SetDefault("storage.auto_migrate", true)

	sess := session.DefaultConfig()
	v.SetDefault("auth.issuer", sess.Issuer)
	v.SetDefault("auth.access_ttl", sess.AccessTokenTTL)
	v.SetDefault("auth.refresh_ttl", sess.RefreshTokenTTL)
	v.SetDefault("auth.clock_skew", sess.ClockSkew)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.bcrypt_cost", password.DefaultConfig().Cost)
	v.SetDefault("auth.password_min_length", password.DefaultConfig().Policy.MinLength)
	v.SetDefault("auth.login_ip_max", api.DefaultConfig().LoginIPMax)
	v.SetDefault("auth.login_ip_window", api.DefaultConfig().LoginIPWindow)

	ws := realtime.DefaultConfig()
	v.SetDefault("ws.require_auth", ws.RequireAuth)
	v.SetDefault("ws.require_membership", ws.RequireMembership)
	v.SetDefault("ws.origin_required", ws.OriginRequired)
	v.SetDefault("ws.allowed_origins", ws.AllowedOrigins)
	v.SetDefault("ws.dev_insecure", ws.DevInsecure)
	v.SetDefault("ws.send_queue_size", ws.SendQueueSize)
	v.SetDefault("ws.write_timeout", ws.WriteTimeout)
	v.SetDefault("ws.read_idle_timeout", ws.ReadIdleTimeout)
	v.SetDefault("ws.heartbeat_interval", ws.HeartbeatInterval)
	v.SetDefault("ws.heartbeat_timeout", ws.HeartbeatTimeout)
	v.SetDefault("ws.rate_events", ws.RateEvents)
	v.SetDefault("ws.rate_window", ws.RateWindow)
}

// NewViper returns a viper instance with defaults and TALLY_* environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// ReadConfigFile loads path into v. With an empty path it looks for tally.yaml in the
// working directory and silently continues when there is none.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// LoadConfig builds a Config from v. It does not validate.
func LoadConfig(v *viper.Viper) Config {
	pw := password.DefaultConfig()
	pw.Cost = v.GetInt("auth.bcrypt_cost")
	pw.Policy.MinLength = v.GetInt("auth.password_min_length")

	return Config{
		HTTP: HTTPConfig{
			Addr:              strings.TrimSpace(v.GetString("http.addr")),
			ReadHeaderTimeout: v.GetDuration("http.read_header_timeout"),
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:   v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			CORS: CORSConfig{
				AllowedOrigins:   stringList(v, "http.cors_allowed_origins"),
				AllowCredentials: v.GetBool("http.cors_allow_credentials"),
				MaxAge:           v.GetDuration("http.cors_max_age"),
			},
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("log.format"))),
			Color:  v.GetBool("log.color"),
		},
		Storage: StorageConfig{
			Backend:     v.GetString("storage.backend"),
			DatabaseURL: strings.TrimSpace(v.GetString("storage.database_url")),
			Schema:      strings.TrimSpace(v.GetString("storage.schema")),
			SQLitePath:  strings.TrimSpace(v.GetString("storage.sqlite_path")),
			MaxConns:    v.GetInt32("storage.max_conns"),
			MinConns:    v.GetInt32("storage.min_conns"),
			AutoMigrate: v.GetBool("storage.auto_migrate"),
		},
		Session: session.Config{
			Issuer:          v.GetString("auth.issuer"),
			AccessTokenTTL:  v.GetDuration("auth.access_ttl"),
			RefreshTokenTTL: v.GetDuration("auth.refresh_ttl"),
			ClockSkew:       v.GetDuration("auth.clock_skew"),
			JWTSecret:       v.GetString("auth.jwt_secret"),
		},
		Passwords: pw,
		Realtime: realtime.Config{
			RequireAuth:       v.GetBool("ws.require_auth"),
			RequireMembership: v.GetBool("ws.require_membership"),
			OriginRequired:    v.GetBool("ws.origin_required"),
			AllowedOrigins:    stringList(v, "ws.allowed_origins"),
			DevInsecure:       v.GetBool("ws.dev_insecure"),
			SendQueueSize:     v.GetInt("ws.send_queue_size"),
			WriteTimeout:      v.GetDuration("ws.write_timeout"),
			ReadIdleTimeout:   v.GetDuration("ws.read_idle_timeout"),
			HeartbeatInterval: v.GetDuration("ws.heartbeat_interval"),
			HeartbeatTimeout:  v.GetDuration("ws.heartbeat_timeout"),
			RateEvents:        v.GetInt("ws.rate_events"),
			RateWindow:        v.GetDuration("ws.rate_window"),
		},
		API: api.Config{
			TrustProxy:    v.GetBool("http.trust_proxy"),
			MaxBodyBytes:  v.GetInt64("http.max_body_bytes"),
			LoginIPMax:    v.GetInt("auth.login_ip_max"),
			LoginIPWindow: v.GetDuration("auth.login_ip_window"),
		},
	}
}

// Validate fails fast on anything the server cannot start with.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr is required")
	}
	switch c.Log.Format {
	case "json", "text", "pretty":
	default:
		return fmt.Errorf("config: log.format must be json, text or pretty (got %q)", c.Log.Format)
	}

	backend, err := storage.ParseBackend(c.Storage.Backend)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch backend {
	case storage.BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("config: storage.database_url is required for the postgres backend")
		}
		if !storage.ValidSchema(c.Storage.Schema) {
			return fmt.Errorf("config: invalid storage.schema %q", c.Storage.Schema)
		}
	case storage.BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("config: storage.sqlite_path is required for the sqlite backend")
		}
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Passwords.Check(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// stringList accepts both a YAML list and a comma separated env value.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
