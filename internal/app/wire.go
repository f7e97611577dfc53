package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/chainbet/internal/blob/s3"
	"github.com/alanyoungcy/chainbet/internal/cache/memory"
	"github.com/alanyoungcy/chainbet/internal/cache/redis"
	"github.com/alanyoungcy/chainbet/internal/chain"
	"github.com/alanyoungcy/chainbet/internal/config"
	"github.com/alanyoungcy/chainbet/internal/crypto"
	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/metrics"
	"github.com/alanyoungcy/chainbet/internal/network"
	"github.com/alanyoungcy/chainbet/internal/notify"
	"github.com/alanyoungcy/chainbet/internal/server/handler"
	"github.com/alanyoungcy/chainbet/internal/service"
	"github.com/alanyoungcy/chainbet/internal/store/postgres"
)

// Dependencies bundles everything the modes run. Optional backends are nil
// when their config section is disabled.
type Dependencies struct {
	Metrics    *metrics.Metrics
	Registry   *network.Registry
	Provider   *chain.Provider
	Signer     *crypto.Signer
	Reconciler *service.Reconciler

	// Stores (Postgres)
	MarketStore domain.MarketStore
	TxStore     domain.TxStore
	EventStore  domain.EventStore
	AuditStore  domain.AuditStore

	// Caches and messaging (Redis, or the in-process bus)
	MarketCache domain.MarketCache
	StateCache  domain.StateCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// Health pings each configured backend.
	Health map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Health:  make(map[string]handler.Check),
	}

	reg, err := network.FromConfig(cfg.Networks)
	if err != nil {
		return fail("wire: networks: %w", err)
	}
	deps.Registry = reg

	// --- Wallet ---
	src := crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if src.Configured() {
		signer, err := crypto.LoadSigner(src)
		if err != nil {
			return fail("wire: wallet: %w", err)
		}
		deps.Signer = signer
		logger.InfoContext(ctx, "signing wallet loaded", slog.String("address", signer.Address().Hex()))
	} else {
		logger.InfoContext(ctx, "no wallet key configured, running read-only")
	}

	// --- PostgreSQL ---
	if cfg.Database.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		}, logger)
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.TxStore = postgres.NewTxStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLSEnabled:   cfg.Redis.TLSEnabled,
			CacheTTL:     cfg.Redis.CacheTTL.Duration,
			StreamMaxLen: int64(cfg.Redis.StreamMaxLen),
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.StateCache = redis.NewStateCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "redis disabled, using in-process signal bus")
		deps.SignalBus = memory.NewBus(cfg.Redis.StreamMaxLen)
	}

	// --- S3 blob storage ---
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
			return fail("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Health["s3"] = s3Client.Health

		if cfg.Archive.Enabled && deps.MarketStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.MarketStore, deps.EventStore, deps.AuditStore, logger)
		}
	}

	// --- Chain ---
	opts := chain.Options{
		Locks:    deps.LockManager,
		LockTTL:  cfg.Redis.LockTTL.Duration,
		GasLimit: cfg.Chain.GasLimit,
		Logger:   logger,
	}
	if deps.Signer != nil {
		opts.Signer = deps.Signer
	}
	deps.Provider = chain.NewProvider(reg, opts)
	closers = append(closers, deps.Provider.Close)

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
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).
			WithExplorer(func(chainID uint64, txHash string) string {
				if n, ok := reg.Lookup(chainID); ok {
					return n.TxURL(txHash)
				}
				return ""
			})
	}

	deps.Reconciler = newReconciler(cfg, deps, logger)
	closers = append(closers, deps.Reconciler.Wait)

	return deps, cleanup, nil
}

// newReconciler builds the reconciler over whichever optional backends are
// wired. Unwired backends are nil interfaces, which the reconciler skips.
func newReconciler(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *service.Reconciler {
	rec := service.NewReconciler(deps.Provider, deps.Registry, service.ReconcilerConfig{
		MinStake:        cfg.Bet.MinStake,
		DurationDays:    cfg.Bet.DurationDays,
		MaxQuestionLen:  cfg.Bet.MaxQuestionLen,
		ConfirmTimeout:  cfg.Chain.ConfirmTimeout.Duration,
		CallTimeout:     cfg.Chain.CallTimeout.Duration,
		RefreshInterval: cfg.Chain.RefreshInterval.Duration,
	}, logger).
		WithBus(deps.SignalBus).
		WithMarketCache(deps.MarketCache).
		WithStateCache(deps.StateCache).
		WithMarketStore(deps.MarketStore).
		WithTxStore(deps.TxStore).
		WithAudit(deps.AuditStore).
		WithMetrics(deps.Metrics)

	if deps.Notifier != nil {
		rec.WithSettledHook(deps.Notifier.TxSettled)
	}
	return rec
}

// initialSession picks the account the reconciler starts on: the signing
// wallet, else the configured watch account, else disconnected.
func initialSession(cfg *config.Config, signer *crypto.Signer) domain.Session {
	s := domain.Session{ChainID: cfg.Chain.ChainID}
	switch {
	case signer != nil:
		s.Account = signer.Address()
	case cfg.Wallet.WatchAccount != "":
		s.Account = common.HexToAddress(cfg.Wallet.WatchAccount)
	default:
		return s
	}
	s.Connected = true
	return s
}
