package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/wagerengine/internal/blob/s3"
	cachemem "github.com/alanyoungcy/wagerengine/internal/cache/memory"
	"github.com/alanyoungcy/wagerengine/internal/cache/redis"
	"github.com/alanyoungcy/wagerengine/internal/config"
	"github.com/alanyoungcy/wagerengine/internal/delegation"
	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/notify"
	"github.com/alanyoungcy/wagerengine/internal/server/handler"
	"github.com/alanyoungcy/wagerengine/internal/service"
	storemem "github.com/alanyoungcy/wagerengine/internal/store/memory"
	"github.com/alanyoungcy/wagerengine/internal/store/postgres"
)

const memoryCacheSize = 4096

// Dependencies bundles everything the modes run. Archive is nil when S3 is
// disabled.
type Dependencies struct {
	Store       domain.Store
	Locks       domain.LockManager
	Bus         domain.SignalBus
	Cache       domain.MarketCache
	RateLimiter domain.RateLimiter
	Archive     *s3blob.Archiver

	Enclave *delegation.LocalEnclave
	Engine  *service.Engine

	Notifier *notify.Notifier

	// Health lists the external dependencies reported by /healthz.
	Health map[string]handler.Pinger
}

// Wire builds the dependencies from cfg and returns them with a cleanup
// function releasing every opened connection.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: map[string]handler.Pinger{}}

	// --- Ledger store ---
	if strings.EqualFold(cfg.Store, "postgres") {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = postgres.NewStore(pgClient.Pool())
		deps.Health["postgres"] = pgClient.Pool().Ping
	} else {
		logger.WarnContext(ctx, "wire: using in-memory ledger; state is lost on restart")
		deps.Store = storemem.New()
	}

	// --- Locks, bus, cache, limiter ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.Cache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.Locks = cachemem.NewLockManager()
		deps.Bus = cachemem.NewSignalBus()
		deps.Cache = cachemem.NewMarketCache(memoryCacheSize, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = cachemem.NewRateLimiter()
	}

	// --- S3 settlement archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archive = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Store.Audit(),
			int32(cfg.S3.AmountDecimals),
		)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Engine ---
	deps.Enclave = delegation.NewLocalEnclave(cfg.Delegation.CommitLatency.Duration, logger)
	deps.Engine = service.NewEngine(service.Deps{
		Store:   deps.Store,
		Locks:   deps.Locks,
		Bus:     deps.Bus,
		Cache:   deps.Cache,
		Enclave: deps.Enclave,
	}, engineOptions(cfg), logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

func engineOptions(cfg *config.Config) service.Options {
	p := cfg.Protocol
	return service.Options{
		AdminTimelock:    p.AdminTimelock.Duration,
		RevealWindow:     p.RevealWindow.Duration,
		BatchGrace:       p.BatchGrace.Duration,
		EmergencyTimeout: p.EmergencyTimeout.Duration,
		MaxTimeBonusBps:  uint64(p.MaxTimeBonusBps),
		ConfirmSecret:    []byte(p.ConfirmSecret),
		LockTTL:          p.LockTTL.Duration,
		LockWait:         p.LockWait.Duration,
		CommitBackoff:    cfg.Delegation.RetryBackoff.Duration,
		CommitRetries:    uint64(cfg.Delegation.CommitRetries),
	}
}
