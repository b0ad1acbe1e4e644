package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/patient-portal/pkg/messaging/redis"
	"github.com/jwalitptl/patient-portal/pkg/notify"
)

// EnvPrefix prefixes every environment override, e.g. PORTAL_SERVER_PORT.
const EnvPrefix = "PORTAL"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Session    SessionConfig    `mapstructure:"session"`
	Services   ServicesConfig   `mapstructure:"services"`
	Notify     notify.Config    `mapstructure:"notify"`
	Onboarding OnboardingConfig `mapstructure:"onboarding"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Audit      AuditConfig      `mapstructure:"audit"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" split_words:"true"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	PublicURL       string        `mapstructure:"public_url" split_words:"true"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" split_words:"true"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" split_words:"true"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// IdentityConfig points at an OpenID Connect realm.
type IdentityConfig struct {
	Issuer                string   `mapstructure:"issuer"`
	ClientID              string   `mapstructure:"client_id" split_words:"true"`
	ClientSecret          string   `mapstructure:"client_secret" split_words:"true"`
	RedirectURL           string   `mapstructure:"redirect_url" split_words:"true"`
	PostLogoutRedirectURL string   `mapstructure:"post_logout_redirect_url" split_words:"true"`
	Scopes                []string `mapstructure:"scopes"`
	// PublicKey is the realm RSA key, PEM or bare base64 DER.
	PublicKey string `mapstructure:"public_key" split_words:"true"`
}

type SessionConfig struct {
	Store        string        `mapstructure:"store"`
	CookieName   string        `mapstructure:"cookie_name" split_words:"true"`
	CookieSecure bool          `mapstructure:"cookie_secure" split_words:"true"`
	Lifetime     time.Duration `mapstructure:"lifetime"`
	Secret       string        `mapstructure:"secret"`
}

// ServicesConfig holds every backend base URL in one place.
type ServicesConfig struct {
	Users     string        `mapstructure:"users"`
	Search    string        `mapstructure:"search"`
	Records   string        `mapstructure:"records"`
	Messaging string        `mapstructure:"messaging"`
	Images    string        `mapstructure:"images"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type OnboardingConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" split_words:"true"`
}

type AuditConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Buffer          int           `mapstructure:"buffer"`
	RetentionDays   int           `mapstructure:"retention_days" split_words:"true"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" split_words:"true"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" split_words:"true"`
	Burst             int     `mapstructure:"burst"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" split_words:"true"`
}

// DSN renders the Postgres connection string. An empty host disables the
// database.
func (c DatabaseConfig) DSN() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 20<<20)

	v.SetDefault("logging.level", "info")

	v.SetDefault("identity.scopes", []string{"openid", "profile", "email"})

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.cookie_name", "portal_session")
	v.SetDefault("session.cookie_secure", true)
	v.SetDefault("session.lifetime", 8*time.Hour)

	v.SetDefault("services.timeout", 15*time.Second)

	defaults := notify.DefaultConfig()
	v.SetDefault("notify.handshake_timeout", defaults.HandshakeTimeout)
	v.SetDefault("notify.reconnect.enabled", defaults.Reconnect.Enabled)
	v.SetDefault("notify.reconnect.initial_interval", defaults.Reconnect.InitialInterval)
	v.SetDefault("notify.reconnect.max_interval", defaults.Reconnect.MaxInterval)
	v.SetDefault("notify.reconnect.multiplier", defaults.Reconnect.Multiplier)

	v.SetDefault("onboarding.attempts", 10)
	v.SetDefault("onboarding.interval", 500*time.Millisecond)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("audit.buffer", 256)
	v.SetDefault("audit.retention_days", 365)
	v.SetDefault("audit.cleanup_interval", 24*time.Hour)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
}

// LoadConfig reads config.yml (or the file at path) and applies PORTAL_*
// environment overrides. A missing file is not an error when no explicit path
// was given.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	require("identity.issuer", c.Identity.Issuer)
	require("identity.client_id", c.Identity.ClientID)
	require("identity.redirect_url", c.Identity.RedirectURL)
	require("session.secret", c.Session.Secret)
	require("services.users", c.Services.Users)
	require("services.search", c.Services.Search)
	require("services.records", c.Services.Records)
	require("services.messaging", c.Services.Messaging)
	require("services.images", c.Services.Images)
	require("notify.base_url", c.Notify.BaseURL)

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("session.store is redis but redis.url is empty")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}

	if c.Audit.Enabled && c.Database.DSN() == "" {
		return errors.New("audit is enabled but database.host is empty")
	}
	return nil
}
