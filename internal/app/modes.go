package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/chainbet/internal/blob/s3"
	"github.com/alanyoungcy/chainbet/internal/chain"
	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/server"
	"github.com/alanyoungcy/chainbet/internal/server/handler"
	"github.com/alanyoungcy/chainbet/internal/server/ws"
)

// ServerMode runs the HTTP/WebSocket API and keeps the reconciler fresh on
// new blocks.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBlockWatcher(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// WatchMode runs headless: block-driven refreshes, the event indexer, the
// archiver and operator notifications.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBlockWatcher(ctx, g, deps)
	a.startIndexer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem. The HTTP server honours server.enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBlockWatcher(ctx, g, deps)
	a.startIndexer(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.InfoContext(ctx, "server.enabled is false, API not started")
	}
	return g.Wait()
}

// startBlockWatcher refreshes the reconciler on every new head of the
// session's chain.
func (a *App) startBlockWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return a.followChain(ctx, deps, "block watcher", func(ctx context.Context, chainID uint64, backend chain.Backend) error {
			w := chain.NewBlockWatcher(backend, a.cfg.Chain.PollInterval.Duration, a.logger)
			return w.Run(ctx, deps.Reconciler.HandleBlock)
		})
	})
}

// startIndexer records contract events of the session's chain. It needs
// Postgres to store them.
func (a *App) startIndexer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.EventStore == nil {
		a.logger.InfoContext(ctx, "database disabled, event indexer not started")
		return
	}
	var onEvent func(context.Context, domain.ChainEvent)
	if deps.Notifier != nil {
		onEvent = deps.Notifier.ChainEvent
	}
	g.Go(func() error {
		return a.followChain(ctx, deps, "event indexer", func(ctx context.Context, chainID uint64, backend chain.Backend) error {
			n, err := deps.Registry.Resolve(chainID)
			if err != nil {
				return err
			}
			x := chain.NewEventIndexer(backend, chain.IndexerConfig{
				ChainID:     chainID,
				Contract:    n.Contract,
				FromBlock:   a.cfg.Chain.IndexFromBlock,
				BatchBlocks: a.cfg.Chain.IndexBatchBlocks,
				Store:       deps.EventStore,
				Bus:         deps.SignalBus,
				OnEvent:     onEvent,
				Logger:      a.logger,
			})
			return x.Run(ctx, a.cfg.Chain.PollInterval.Duration)
		})
	})
}

// startArchiver copies resolved markets and indexed events of the session's
// chain to S3 on every archive interval.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	lookback := a.cfg.Archive.Lookback.Duration
	a.logger.InfoContext(ctx, "archiver enabled",
		slog.Duration("interval", interval),
		slog.Duration("lookback", lookback),
	)

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			chainID := deps.Reconciler.Session().ChainID
			since := time.Now().UTC().Add(-lookback)

			markets, err := deps.Archiver.ArchiveResolvedMarkets(ctx, chainID, since)
			if err != nil {
				a.logger.WarnContext(ctx, "archive resolved markets failed", slog.String("error", err.Error()))
			}
			events, err := deps.Archiver.ArchiveEvents(ctx, chainID, since)
			if err != nil {
				a.logger.WarnContext(ctx, "archive events failed", slog.String("error", err.Error()))
			}
			if markets > 0 || events > 0 {
				a.logger.InfoContext(ctx, "archive run complete",
					slog.Uint64("chain_id", chainID),
					slog.Int64("markets", markets),
					slog.Int64("events", events),
				)
			}
		}
	})
}

// followChain runs start against the session's chain and restarts it
// whenever the session switches network. Start errors are logged; the loop
// retries on the next poll.
func (a *App) followChain(ctx context.Context, deps *Dependencies, name string,
	start func(ctx context.Context, chainID uint64, backend chain.Backend) error,
) error {
	logger := a.logger.With(slog.String("loop", name))
	ticker := time.NewTicker(a.cfg.Chain.PollInterval.Duration)
	defer ticker.Stop()

	var (
		current uint64
		stop    = func() {}
		warned  uint64
	)
	defer func() { stop() }()

	for {
		chainID := deps.Reconciler.Session().ChainID
		if chainID != current {
			stop()
			stop, current = func() {}, 0

			backend, err := deps.Provider.Backend(ctx, chainID)
			if err != nil {
				if warned != chainID {
					logger.WarnContext(ctx, "chain unavailable, loop idle",
						slog.Uint64("chain_id", chainID),
						slog.String("error", err.Error()),
					)
					warned = chainID
				}
			} else {
				current, warned = chainID, 0
				stop = a.spawn(ctx, logger, chainID, backend, start)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// spawn runs start in its own goroutine and returns a func that cancels it
// and waits for it to return.
func (a *App) spawn(ctx context.Context, logger *slog.Logger, chainID uint64, backend chain.Backend,
	start func(ctx context.Context, chainID uint64, backend chain.Backend) error,
) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	logger.InfoContext(ctx, "loop started", slog.Uint64("chain_id", chainID))
	go func() {
		defer close(done)
		if err := start(ctx, chainID, backend); err != nil && !errors.Is(err, context.Canceled) {
			logger.WarnContext(ctx, "loop stopped",
				slog.Uint64("chain_id", chainID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// startHTTPServer registers the API and websocket hub and serves until ctx
// ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	status := func() domain.StatusInfo { return a.status(deps) }

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Status:         status,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Metrics:        deps.Metrics,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var (
		events  handler.EventLister
		history handler.TxHistory
		audit   handler.AuditLister
	)
	if deps.EventStore != nil {
		events = deps.EventStore
	}
	if deps.AuditStore != nil {
		audit = deps.AuditStore
	}
	if deps.TxStore != nil {
		history = deps.TxStore
	}

	networks := deps.Registry.All()
	rec := deps.Reconciler
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		Metrics:         deps.Metrics,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Status: handler.NewStatusHandler(status),
		State: handler.NewStateHandler(rec, networks, handler.BetRules{
			MinStake:       a.cfg.Bet.MinStake,
			DurationDays:   rec.DurationOptions(),
			PlatformFeeBps: a.cfg.Bet.PlatformFeeBps,
		}, a.logger),
		Markets: handler.NewMarketHandler(rec, events, a.logger),
		Tx:      handler.NewTxHandler(rec, history, a.logger),
		Archives: handler.NewArchiveHandler(deps.BlobReader, func() string {
			return s3blob.ArchivePrefix(rec.Session().ChainID)
		}, a.logger),
		Audit: handler.NewAuditHandler(audit, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
