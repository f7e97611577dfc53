package chain

import (
	"context"
	"log/slog"
	"time"
)

// BlockWatcher polls the chain head and reports each new block number.
type BlockWatcher struct {
	backend  Backend
	interval time.Duration
	logger   *slog.Logger
}

// NewBlockWatcher creates a watcher polling every interval.
func NewBlockWatcher(backend Backend, interval time.Duration, logger *slog.Logger) *BlockWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &BlockWatcher{
		backend:  backend,
		interval: interval,
		logger:   logger.With(slog.String("component", "block-watcher")),
	}
}

// Run calls onBlock whenever the head advances. It returns nil when ctx ends.
// Poll errors are logged and retried on the next tick.
func (w *BlockWatcher) Run(ctx context.Context, onBlock func(ctx context.Context, number uint64)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last uint64
	for {
		n, err := w.backend.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.WarnContext(ctx, "block number poll failed", slog.String("error", err.Error()))
		} else if n > last {
			last = n
			onBlock(ctx, n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
