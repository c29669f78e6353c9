package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/triarb/internal/blob/s3"
	"github.com/alanyoungcy/triarb/internal/cache/redis"
	"github.com/alanyoungcy/triarb/internal/config"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/notify"
	"github.com/alanyoungcy/triarb/internal/server/handler"
	"github.com/alanyoungcy/triarb/internal/store/postgres"
)

const (
	// priceCacheTTL expires mirrored prices once the stream has been silent
	// long enough that they no longer mean anything.
	priceCacheTTL = 5 * time.Minute
	streamMaxLen  = 10000
)

// Dependencies bundles the external integrations a mode may use. Fields are
// nil when the backing service is not configured for the mode.
type Dependencies struct {
	// Stores
	OpportunityStore domain.OpportunityStore
	AuditStore       domain.AuditStore
	AuditReader      handler.AuditReader

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres reports whether mode persists opportunity history.
func needsPostgres(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.Mode)
	return mode == "archive" || (mode == "serve" && cfg.Postgres.Enabled)
}

// needsRedis reports whether mode uses the cache and bus.
func needsRedis(cfg *config.Config) bool {
	return strings.ToLower(cfg.Mode) == "serve" && cfg.Redis.Enabled
}

// needsS3 reports whether mode reads or writes the archive bucket.
func needsS3(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.Mode)
	return mode == "archive" || (mode == "serve" && cfg.S3.Enabled)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg) {
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
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
		audit := postgres.NewAuditStore(pool)
		deps.AuditStore = audit
		deps.AuditReader = audit
	}

	// --- Redis ---
	if needsRedis(cfg) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, priceCacheTTL)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, streamMaxLen)
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		// Archive mode cannot do anything without the bucket; serve mode only
		// loses the archive listing.
		if err := s3Client.CheckBucket(ctx); err != nil {
			if strings.ToLower(cfg.Mode) == "archive" {
				cleanup()
				return nil, nil, fmt.Errorf("wire: %w", err)
			}
			logger.WarnContext(ctx, "archive bucket unreachable", slog.String("error", err.Error()))
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		// The archiver needs opportunity history to read from.
		if deps.OpportunityStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, reader, deps.OpportunityStore, deps.AuditStore)
		}
	}

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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.MinProfitPct, logger)

	return deps, cleanup, nil
}
