package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/superpull/auctiond/internal/blob/s3"
	"github.com/superpull/auctiond/internal/cache/redis"
	"github.com/superpull/auctiond/internal/config"
	"github.com/superpull/auctiond/internal/crypto"
	"github.com/superpull/auctiond/internal/engine"
	"github.com/superpull/auctiond/internal/notify"
	"github.com/superpull/auctiond/internal/platform/issuer"
	"github.com/superpull/auctiond/internal/platform/ledger"
	"github.com/superpull/auctiond/internal/server"
	"github.com/superpull/auctiond/internal/server/handler"
	"github.com/superpull/auctiond/internal/server/ws"
	"github.com/superpull/auctiond/internal/store/postgres"
)

// Dependencies bundles the wired application components. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client

	Engine   *engine.Engine
	EventBus *redis.EventBus
	Notifier *notify.Notifier
	Archiver *s3blob.Archiver
	Hub      *ws.Hub
	Server   *server.Server
}

// Wire constructs all concrete implementations from the given configuration
// and returns them together with a cleanup function that releases resources
// in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.EventBus = redis.NewEventBus(redisClient)

	// --- Delegation seed ---
	masterSeed, err := crypto.LoadSeed(crypto.SeedConfig{
		RawSeed:           cfg.Delegation.MasterSeed,
		EncryptedSeedPath: cfg.Delegation.EncryptedSeedPath,
		SeedPassword:      cfg.Delegation.SeedPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: delegation seed: %w", err)
	}

	// --- External collaborators ---
	custody := ledger.New(cfg.Ledger.BaseURL, cfg.Ledger.APIKey)
	issuance := issuer.New(cfg.Issuer.BaseURL, cfg.Issuer.APIKey)

	// --- Engine ---
	deps.Engine = engine.New(
		pgClient,
		custody,
		issuance,
		deps.EventBus,
		masterSeed,
		logger,
	).
		WithLockManager(redis.NewLockManager(redisClient)).
		WithRateLimiter(redis.NewRateLimiter(redisClient)).
		WithPriceCache(redis.NewPriceCache(redisClient))

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Event archival ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			deps.EventBus,
			s3blob.NewWriter(s3Client),
			postgres.NewAuditStore(pgClient.Pool()),
			time.Duration(cfg.Archive.IntervalSeconds)*time.Second,
			cfg.Archive.BatchSize,
			logger,
		)
	}

	// --- HTTP + WebSocket surface ---
	deps.Hub = ws.NewHub(deps.EventBus, logger)
	deps.Server = server.NewServer(
		server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(map[string]handler.Pinger{
				"postgres": pgClient,
				"redis":    redisClient,
			}, logger),
			Auctions: handler.NewAuctionHandler(deps.Engine, logger),
			Bids:     handler.NewBidHandler(deps.Engine, logger),
			Audit:    handler.NewAuditHandler(deps.Engine, logger),
		},
		deps.Hub,
		redis.NewRateLimiter(redisClient),
		logger,
	)

	return deps, cleanup, nil
}
