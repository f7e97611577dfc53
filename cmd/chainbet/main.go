// Command chainbet is the backend entry point for the ChainBet prediction
// market dashboard. It loads configuration, validates it, wires dependencies,
// sets up signal handling, and starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/chainbet/internal/app"
	"github.com/alanyoungcy/chainbet/internal/config"
	"github.com/alanyoungcy/chainbet/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (server, watch, full)")
	encryptOut := flag.String("encrypt-key", "", "write wallet.private_key encrypted with wallet.key_password to this path and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	if *encryptOut != "" {
		if err := encryptKey(cfg, *encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("encrypted key written to %s\n", *encryptOut)
		return
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("chainbet starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("chainbet stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func encryptKey(cfg *config.Config, path string) error {
	if cfg.Wallet.PrivateKey == "" {
		return errors.New("wallet.private_key (or CHAINBET_WALLET_PRIVATE_KEY) is empty")
	}
	if cfg.Wallet.KeyPassword == "" {
		return errors.New("wallet.key_password (or CHAINBET_WALLET_KEY_PASSWORD) is empty")
	}
	return crypto.WriteKeyFile(path, cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword)
}
