package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, then .env, then WAGER_*
// environment overrides. A missing file is not an error. The result has not
// been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Store, "WAGER_STORE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WAGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WAGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WAGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WAGER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "WAGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "WAGER_SERVER_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WAGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WAGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WAGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WAGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WAGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WAGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WAGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGER_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "WAGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "WAGER_REDIS_KEY_PREFIX")
	setInt(&cfg.Redis.StreamMaxLen, "WAGER_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WAGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WAGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WAGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAGER_S3_FORCE_PATH_STYLE")

	// ── Protocol ──
	setDuration(&cfg.Protocol.AdminTimelock, "WAGER_PROTOCOL_ADMIN_TIMELOCK")
	setDuration(&cfg.Protocol.RevealWindow, "WAGER_PROTOCOL_REVEAL_WINDOW")
	setDuration(&cfg.Protocol.BatchGrace, "WAGER_PROTOCOL_BATCH_GRACE")
	setDuration(&cfg.Protocol.EmergencyTimeout, "WAGER_PROTOCOL_EMERGENCY_TIMEOUT")
	setInt(&cfg.Protocol.MaxTimeBonusBps, "WAGER_PROTOCOL_MAX_TIME_BONUS_BPS")
	setStr(&cfg.Protocol.ConfirmSecret, "WAGER_PROTOCOL_CONFIRM_SECRET")
	setDuration(&cfg.Protocol.ClockSkew, "WAGER_PROTOCOL_CLOCK_SKEW")

	// ── Delegation ──
	setDuration(&cfg.Delegation.CommitLatency, "WAGER_DELEGATION_COMMIT_LATENCY")
	setDuration(&cfg.Delegation.AwaitTimeout, "WAGER_DELEGATION_AWAIT_TIMEOUT")
	setDuration(&cfg.Delegation.RetryBackoff, "WAGER_DELEGATION_RETRY_BACKOFF")
	setInt(&cfg.Delegation.CommitRetries, "WAGER_DELEGATION_COMMIT_RETRIES")

	// ── Keeper ──
	setStr(&cfg.Keeper.PrivateKey, "WAGER_KEEPER_PRIVATE_KEY")
	setStr(&cfg.Keeper.EncryptedKeyPath, "WAGER_KEEPER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keeper.KeyPassword, "WAGER_KEEPER_KEY_PASSWORD")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "WAGER_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.ArchiveInterval, "WAGER_PIPELINE_ARCHIVE_INTERVAL")
	setDuration(&cfg.Pipeline.SettleInterval, "WAGER_PIPELINE_SETTLE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAGER_MODE")
	setStr(&cfg.LogLevel, "WAGER_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
