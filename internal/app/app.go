// Package app provides the top-level application lifecycle for chainbet. It
// wires the reconciler with its stores, caches, blob storage and notifiers and
// starts the goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/chainbet/internal/config"
	"github.com/alanyoungcy/chainbet/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	closers   []func()
	startedAt time.Time
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now().UTC(),
	}
}

// Run is the main entry point. It wires all dependencies, opens the initial
// session, starts the goroutines of the selected mode and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.openSession(ctx, deps)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "watch":
		return a.WatchMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// openSession points the reconciler at the configured chain and account. A
// network without a deployment is not fatal: the snapshot carries the
// config error until a client switches network.
func (a *App) openSession(ctx context.Context, deps *Dependencies) {
	if err := deps.Reconciler.Restore(ctx); err != nil {
		a.logger.WarnContext(ctx, "snapshot restore failed", slog.String("error", err.Error()))
	}
	s := initialSession(a.cfg, deps.Signer)
	st, err := deps.Reconciler.SetSession(ctx, s)
	switch {
	case err != nil:
		a.logger.WarnContext(ctx, "initial load failed, serving empty snapshot",
			slog.Uint64("chain_id", s.ChainID),
			slog.String("error", err.Error()),
		)
	case st.ConfigError != "":
		a.logger.WarnContext(ctx, "configured chain is not supported",
			slog.Uint64("chain_id", s.ChainID),
			slog.String("config_error", st.ConfigError),
		)
	default:
		a.logger.InfoContext(ctx, "session opened",
			slog.String("network", st.Network),
			slog.String("account", s.Account.Hex()),
			slog.Int("markets", len(st.Markets)),
		)
	}
}

// status summarises the running service for /api/status and the ws hello.
func (a *App) status(deps *Dependencies) domain.StatusInfo {
	st := deps.Reconciler.State()
	info := domain.StatusInfo{
		Mode:          a.cfg.Mode,
		ChainID:       st.Session.ChainID,
		Network:       st.Network,
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		Markets:       len(st.Markets),
	}
	if st.Session.Connected {
		info.Account = st.Session.Account.Hex()
	}
	return info
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
