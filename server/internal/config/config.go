package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardwatch/wardwatch/server/internal/escalation"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort         = 50051
	DefaultHTTPPort         = 8080
	DefaultLogLevel         = "info"
	DefaultStoreDriver      = "memory"
	DefaultStoreRetention   = 24 * time.Hour
	DefaultRedisPrefix      = "wardwatch"
	DefaultNATSSubject      = "wardwatch.alerts"
	DefaultRelayQueueSize   = 256
	DefaultRelaySendTimeout = 5 * time.Second
)

// Config is the root of config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Escalation EscalationConfig `yaml:"escalation"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Session    SessionConfig    `yaml:"session"`
	Store      StoreConfig      `yaml:"store"`
	Relay      RelayConfig      `yaml:"relay"`
}

// ServerConfig holds listener and process settings.
type ServerConfig struct {
	// GRPCPort is the port of the gRPC command surface (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port for the REST API, WebSocket hub and /metrics
	// (default 8080).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error. Hot-reloadable.
	LogLevel string `yaml:"log_level"`

	// Hospitals lists the hospitals whose open alerts are restored from the
	// store at startup.
	Hospitals []string `yaml:"hospitals"`

	// CORSOrigins lists allowed browser origins. Empty allows all.
	CORSOrigins []string `yaml:"cors_origins"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication on every surface.
type AuthConfig struct {
	// Mode is one of: none | apikey | jwt.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected
	// API key. Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key
	// from. Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`

	// JWTSecretEnv names the environment variable holding the HS256 secret.
	// Used when Mode == "jwt".
	JWTSecretEnv string `yaml:"jwt_secret_env"`

	// JWTIssuer, when set, must match the iss claim.
	JWTIssuer string `yaml:"jwt_issuer"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// JWTSecret returns the JWT signing secret resolved from the environment.
func (a AuthConfig) JWTSecret() string { return env(a.JWTSecretEnv) }

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// EscalationConfig is the escalation policy.
type EscalationConfig struct {
	Tiers []TierConfig `yaml:"tiers"`
}

// TierConfig is one rung of the escalation policy.
type TierConfig struct {
	Roles   []string      `yaml:"roles"`
	Timeout time.Duration `yaml:"timeout"`
}

// AlertsConfig bounds the alert engine.
type AlertsConfig struct {
	// MaxDescription is the description limit in characters (default 500).
	MaxDescription int `yaml:"max_description"`

	// ArchiveSize is how many resolved alerts remain queryable (default 200).
	ArchiveSize int `yaml:"archive_size"`

	// CreatorRoles lists the roles allowed to raise alerts. The caller's
	// role comes from its JWT, or from creator_role in the request body when
	// auth is not jwt. An explicit empty list allows every role.
	CreatorRoles []string `yaml:"creator_roles"`
}

// SessionConfig tunes WebSocket sessions. Zero values select the hub defaults.
type SessionConfig struct {
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PongDeadline    time.Duration `yaml:"pong_deadline"`
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	InboundRate     float64       `yaml:"inbound_rate"`
	InboundBurst    int           `yaml:"inbound_burst"`
}

// StoreConfig selects and tunes the persistence adapter.
type StoreConfig struct {
	// Driver is one of: memory | postgres | redis.
	Driver string `yaml:"driver"`

	// Retention is how long resolved alerts are kept by the memory and redis
	// drivers (default 24h).
	Retention time.Duration `yaml:"retention"`

	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Retry    RetryConfig    `yaml:"retry"`
}

// PostgresConfig configures the postgres driver.
type PostgresConfig struct {
	// DSNEnv names the environment variable holding the connection string.
	DSNEnv string `yaml:"dsn_env"`

	// Migrate creates the schema at startup.
	Migrate bool `yaml:"migrate"`
}

// DSN returns the connection string resolved from the environment.
func (p PostgresConfig) DSN() string { return env(p.DSNEnv) }

// RedisConfig configures the redis driver.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string { return env(r.PasswordEnv) }

// RetryConfig tunes the persistence retry queue and circuit breaker. Zero
// values select the store defaults.
type RetryConfig struct {
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// RelayConfig configures outbound event delivery.
type RelayConfig struct {
	QueueSize   int             `yaml:"queue_size"`
	SendTimeout time.Duration   `yaml:"send_timeout"`
	NATS        NATSConfig      `yaml:"nats"`
	Webhooks    []WebhookConfig `yaml:"webhooks"`
}

// NATSConfig configures the NATS sink. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// Events limits delivery to these lifecycle events. Empty means all.
	Events []string `yaml:"events"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return env(w.URLEnv) }

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Policy builds the escalation policy from the tiers.
func (c *Config) Policy() (*escalation.Policy, error) {
	tiers := make([]escalation.Tier, len(c.Escalation.Tiers))
	for i, t := range c.Escalation.Tiers {
		tiers[i] = escalation.Tier{Roles: t.Roles, Timeout: t.Timeout}
	}
	return escalation.NewPolicy(tiers)
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Server.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// defaults returns a Config pre-populated with default values.
//
// yaml.v3 replaces slices wholesale, so a file that sets escalation.tiers
// replaces the default ladder entirely.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			Auth:     AuthConfig{Mode: "none"},
		},
		Escalation: EscalationConfig{
			Tiers: []TierConfig{
				{Roles: []string{"nurse"}, Timeout: 2 * time.Minute},
				{Roles: []string{"charge-nurse", "doctor"}, Timeout: 3 * time.Minute},
				{Roles: []string{"doctor", "attending"}, Timeout: 5 * time.Minute},
			},
		},
		Alerts: AlertsConfig{
			CreatorRoles: []string{"nurse", "charge-nurse", "doctor", "attending", "nurse-call"},
		},
		Store: StoreConfig{
			Driver:    DefaultStoreDriver,
			Retention: DefaultStoreRetention,
			Redis:     RedisConfig{Prefix: DefaultRedisPrefix},
		},
		Relay: RelayConfig{
			QueueSize:   DefaultRelayQueueSize,
			SendTimeout: DefaultRelaySendTimeout,
			NATS:        NATSConfig{SubjectPrefix: DefaultNATSSubject},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort == s.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ")
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	switch s.Auth.Mode {
	case "none", "apikey", "":
	case "jwt":
		if s.Auth.JWTSecretEnv == "" {
			return fmt.Errorf("server.auth.jwt_secret_env is required when mode is jwt")
		}
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want none|apikey|jwt", s.Auth.Mode)
	}

	if len(cfg.Escalation.Tiers) == 0 {
		return fmt.Errorf("escalation.tiers must not be empty")
	}
	for i, t := range cfg.Escalation.Tiers {
		if len(t.Roles) == 0 {
			return fmt.Errorf("escalation.tiers[%d].roles must not be empty", i)
		}
		if t.Timeout <= 0 {
			return fmt.Errorf("escalation.tiers[%d].timeout must be positive", i)
		}
	}

	if cfg.Alerts.MaxDescription < 0 || cfg.Alerts.ArchiveSize < 0 {
		return fmt.Errorf("alerts limits must not be negative")
	}
	for i, r := range cfg.Alerts.CreatorRoles {
		if r == "" {
			return fmt.Errorf("alerts.creator_roles[%d] must not be empty", i)
		}
	}
	if cfg.Session.SendBuffer < 0 || cfg.Session.InboundRate < 0 || cfg.Session.InboundBurst < 0 {
		return fmt.Errorf("session limits must not be negative")
	}

	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Store.Postgres.DSNEnv == "" {
			return fmt.Errorf("store.postgres.dsn_env is required for the postgres driver")
		}
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("store.driver %q unknown: want memory|postgres|redis", cfg.Store.Driver)
	}
	if cfg.Store.Retention < 0 {
		return fmt.Errorf("store.retention must not be negative")
	}

	if cfg.Relay.QueueSize < 0 {
		return fmt.Errorf("relay.queue_size must not be negative")
	}
	for i, w := range cfg.Relay.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("relay.webhooks[%d].type %q unknown: want slack|teams|http", i, w.Type)
		}
		if w.URLEnv == "" {
			return fmt.Errorf("relay.webhooks[%d].url_env is required", i)
		}
		for _, e := range w.Events {
			switch e {
			case "created", "acknowledged", "escalated", "resolved":
			default:
				return fmt.Errorf("relay.webhooks[%d]: unknown event %q", i, e)
			}
		}
	}
	return nil
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
