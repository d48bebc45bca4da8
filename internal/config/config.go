// Package config defines the wagerd configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then overridden by WAGER_* environment variables.
type Config struct {
	Store      string           `toml:"store"`
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Protocol   ProtocolConfig   `toml:"protocol"`
	Delegation DelegationConfig `toml:"delegation"`
	Keeper     KeeperConfig     `toml:"keeper"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey gates every route except /healthz when set.
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When enabled, locks, the
// event bus, the market cache and the rate limiter move to Redis.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	CacheTTL   duration `toml:"cache_ttl"`
	// StreamMaxLen bounds the replayable event stream.
	StreamMaxLen int `toml:"stream_max_len"`
}

// S3Config holds the settlement archive bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// AmountDecimals is the token precision used in archive amounts.
	AmountDecimals int `toml:"amount_decimals"`
}

// ProtocolConfig holds the engine tunables.
type ProtocolConfig struct {
	AdminTimelock    duration `toml:"admin_timelock"`
	RevealWindow     duration `toml:"reveal_window"`
	BatchGrace       duration `toml:"batch_grace"`
	EmergencyTimeout duration `toml:"emergency_timeout"`
	MaxTimeBonusBps  int      `toml:"max_time_bonus_bps"`
	ConfirmSecret    string   `toml:"confirm_secret"`
	ClockSkew        duration `toml:"clock_skew"`
	LockTTL          duration `toml:"lock_ttl"`
	LockWait         duration `toml:"lock_wait"`
}

// DelegationConfig tunes the confidential hand-off.
type DelegationConfig struct {
	CommitLatency duration `toml:"commit_latency"`
	AwaitTimeout  duration `toml:"await_timeout"`
	RetryBackoff  duration `toml:"retry_backoff"`
	CommitRetries int      `toml:"commit_retries"`
}

// KeeperConfig is the admin key the overdue calculator acts with.
type KeeperConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// Configured reports whether any key source is set.
func (k KeeperConfig) Configured() bool {
	return k.PrivateKey != "" || k.EncryptedKeyPath != ""
}

// PipelineConfig holds background job parameters.
type PipelineConfig struct {
	Enabled         bool     `toml:"enabled"`
	ArchiveInterval duration `toml:"archive_interval"`
	SettleInterval  duration `toml:"settle_interval"`
}

// duration wraps time.Duration for TOML strings like "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config with the values of config.example.toml.
func Defaults() Config {
	return Config{
		Store: "memory",
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wager",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "wager",
			CacheTTL:   duration{30 * time.Second},

			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wager-archive",
			ForcePathStyle: true,
			AmountDecimals: 6,
		},
		Protocol: ProtocolConfig{
			AdminTimelock:    duration{48 * time.Hour},
			BatchGrace:       duration{24 * time.Hour},
			EmergencyTimeout: duration{7 * 24 * time.Hour},
			MaxTimeBonusBps:  2_000,
			ClockSkew:        duration{5 * time.Minute},
			LockTTL:          duration{10 * time.Second},
			LockWait:         duration{2 * time.Second},
		},
		Delegation: DelegationConfig{
			CommitLatency: duration{2 * time.Second},
			AwaitTimeout:  duration{30 * time.Second},
			RetryBackoff:  duration{250 * time.Millisecond},
			CommitRetries: 8,
		},
		Pipeline: PipelineConfig{
			Enabled:         false,
			ArchiveInterval: duration{time.Hour},
			SettleInterval:  duration{10 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "weights_finalized", "admin_transferred", "protocol_paused"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

var validStores = map[string]bool{
	"memory":   true,
	"postgres": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validStores[strings.ToLower(c.Store)] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: memory, postgres)", c.Store))
	}

	// A worker shares state with the server only through Postgres.
	if strings.EqualFold(c.Mode, "worker") && !strings.EqualFold(c.Store, "postgres") {
		errs = append(errs, "mode worker requires store postgres")
	}

	if strings.EqualFold(c.Store, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 1 {
			errs = append(errs, "redis: stream_max_len must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.AmountDecimals < 0 || c.S3.AmountDecimals > 18 {
			errs = append(errs, "s3: amount_decimals must be 0-18")
		}
	}

	if c.Protocol.MaxTimeBonusBps < 0 || c.Protocol.MaxTimeBonusBps > 10_000 {
		errs = append(errs, "protocol: max_time_bonus_bps must be 0-10000")
	}
	if len(c.Protocol.ConfirmSecret) < 16 {
		errs = append(errs, "protocol: confirm_secret must be at least 16 characters")
	}
	if c.Protocol.ClockSkew.Duration <= 0 {
		errs = append(errs, "protocol: clock_skew must be > 0")
	}
	if c.Protocol.LockTTL.Duration <= 0 {
		errs = append(errs, "protocol: lock_ttl must be > 0")
	}
	if c.Delegation.CommitLatency.Duration < 0 {
		errs = append(errs, "delegation: commit_latency must be >= 0")
	}
	if c.Delegation.RetryBackoff.Duration <= 0 || c.Delegation.CommitRetries < 0 {
		errs = append(errs, "delegation: retry_backoff must be > 0 and commit_retries >= 0")
	}

	if c.Pipeline.Enabled {
		if c.Pipeline.ArchiveInterval.Duration <= 0 || c.Pipeline.SettleInterval.Duration <= 0 {
			errs = append(errs, "pipeline: archive_interval and settle_interval must be > 0")
		}
		if c.Keeper.EncryptedKeyPath != "" && c.Keeper.KeyPassword == "" {
			errs = append(errs, "keeper: key_password is required when encrypted_key_path is set")
		}
	}

	for _, ev := range c.Notify.Events {
		if strings.TrimSpace(ev) == "" {
			errs = append(errs, "notify: events must not contain empty names")
			break
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
