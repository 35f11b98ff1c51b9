package config

import (
	"errors"
	"time"
)

// Remote modes
const (
	RemoteModeNone    = "none"    // local only
	RemoteModeMemory  = "memory"  // in-process hub, for development
	RemoteModeDirect  = "direct"  // postgres + redis
	RemoteModeGateway = "gateway" // docsync gateway over http
)

// Config represents the docsync client and gateway configuration
type Config struct {
	Client      ClientConfig      `mapstructure:"client"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ClientConfig represents the local side of a sync client
type ClientConfig struct {
	ID            string   `mapstructure:"id"` // Generated when empty
	TenantID      string   `mapstructure:"tenant_id"`
	CacheDir      string   `mapstructure:"cache_dir"`
	CachePrefix   string   `mapstructure:"cache_prefix"`
	ProfileKey    string   `mapstructure:"profile_key"`
	LocalOnlyKeys []string `mapstructure:"local_only_keys"`
}

// RemoteConfig selects and configures the remote adapter
type RemoteConfig struct {
	Mode       string        `mapstructure:"mode"`
	GatewayURL string        `mapstructure:"gateway_url"`
	AuthToken  string        `mapstructure:"auth_token"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SyncConfig represents background synchronization settings
type SyncConfig struct {
	PullTimeout     time.Duration `mapstructure:"pull_timeout"`
	UpsertTimeout   time.Duration `mapstructure:"upsert_timeout"`
	UpsertWorkers   int           `mapstructure:"upsert_workers"`
	UpsertQueueSize int           `mapstructure:"upsert_queue_size"`
}

// DatabaseConfig represents the PostgreSQL collection store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
	EnsureSchema   bool   `mapstructure:"ensure_schema"`
}

// RedisConfig represents the Redis realtime channel configuration
type RedisConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// GatewayConfig represents the HTTP gateway server configuration
type GatewayConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	JWTSecret       string        `mapstructure:"jwt_secret"` // Auth is disabled when empty
	MaxDocumentSize int64         `mapstructure:"max_document_size"`
}

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Client.CacheDir == "" {
		return errors.New("client.cache_dir is required")
	}
	if c.Client.ProfileKey == "" {
		c.Client.ProfileKey = "profile"
	}

	switch c.Remote.Mode {
	case "":
		c.Remote.Mode = RemoteModeNone
	case RemoteModeNone, RemoteModeMemory:
	case RemoteModeDirect:
		if c.Database.Host == "" {
			return errors.New("database.host is required in direct mode")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required in direct mode")
		}
		if c.Redis.Host == "" {
			return errors.New("redis.host is required in direct mode")
		}
	case RemoteModeGateway:
		if c.Remote.GatewayURL == "" {
			return errors.New("remote.gateway_url is required in gateway mode")
		}
	default:
		return errors.New("remote.mode must be one of: none, memory, direct, gateway")
	}

	if c.Sync.UpsertWorkers <= 0 {
		return errors.New("sync.upsert_workers must be positive")
	}
	if c.Sync.UpsertQueueSize <= 0 {
		return errors.New("sync.upsert_queue_size must be positive")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return errors.New("gateway.port must be between 1 and 65535")
	}
	if c.RateLimiter.Enabled && c.RateLimiter.RequestsPerSecond <= 0 {
		return errors.New("rate_limiter.requests_per_second must be positive when enabled")
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "docsync"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			CacheDir:    ".docsync",
			CachePrefix: "docsync.",
			ProfileKey:  "profile",
		},
		Remote: RemoteConfig{
			Mode:    RemoteModeNone,
			Timeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			PullTimeout:     10 * time.Second,
			UpsertTimeout:   10 * time.Second,
			UpsertWorkers:   4,
			UpsertQueueSize: 256,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "docsync",
			User:           "docsync",
			Password:       "",
			MaxConnections: 20,
			MinConnections: 2,
			EnsureSchema:   true,
		},
		Redis: RedisConfig{
			Host:          "localhost",
			Port:          6379,
			Password:      "",
			DB:            0,
			ChannelPrefix: "docsync",
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			PingInterval:    30 * time.Second,
			MaxDocumentSize: 8 << 20,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
