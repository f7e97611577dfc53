package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/metrics"
)

const defaultToastLimit = 100

// ToastFeed keeps the most recent user-facing notifications and fans them out
// on the signal bus.
type ToastFeed struct {
	mu     sync.Mutex
	toasts []domain.Toast
	limit  int

	bus     domain.SignalBus
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// NewToastFeed creates a feed retaining at most limit toasts.
func NewToastFeed(limit int, logger *slog.Logger) *ToastFeed {
	if limit <= 0 {
		limit = defaultToastLimit
	}
	return &ToastFeed{
		limit:  limit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "toasts")),
	}
}

// WithBus publishes every toast on domain.ChannelToast.
func (f *ToastFeed) WithBus(bus domain.SignalBus) *ToastFeed {
	f.bus = bus
	return f
}

// WithMetrics counts toasts by level.
func (f *ToastFeed) WithMetrics(m *metrics.Metrics) *ToastFeed {
	f.metrics = m
	return f
}

// Push records a toast and publishes it.
func (f *ToastFeed) Push(ctx context.Context, t domain.Toast) domain.Toast {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = f.now()
	}

	f.mu.Lock()
	f.toasts = append(f.toasts, t)
	if over := len(f.toasts) - f.limit; over > 0 {
		f.toasts = append(f.toasts[:0:0], f.toasts[over:]...)
	}
	f.mu.Unlock()

	f.metrics.Toast(string(t.Level))
	if f.bus != nil {
		payload, _ := json.Marshal(t)
		if err := f.bus.Publish(ctx, domain.ChannelToast, payload); err != nil {
			f.logger.WarnContext(ctx, "toast publish failed", slog.String("error", err.Error()))
		}
	}
	return t
}

// Success pushes a success toast, optionally linked to a transaction.
func (f *ToastFeed) Success(ctx context.Context, msg, txHash, explorerURL string) domain.Toast {
	return f.Push(ctx, domain.Toast{Level: domain.ToastSuccess, Message: msg, TxHash: txHash, ExplorerURL: explorerURL})
}

// Error pushes an error toast.
func (f *ToastFeed) Error(ctx context.Context, msg, txHash, explorerURL string) domain.Toast {
	return f.Push(ctx, domain.Toast{Level: domain.ToastError, Message: msg, TxHash: txHash, ExplorerURL: explorerURL})
}

// Info pushes an informational toast.
func (f *ToastFeed) Info(ctx context.Context, msg string) domain.Toast {
	return f.Push(ctx, domain.Toast{Level: domain.ToastInfo, Message: msg})
}

// List returns up to limit toasts, newest first. limit <= 0 returns all.
func (f *ToastFeed) List(limit int) []domain.Toast {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.toasts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Toast, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, f.toasts[i])
	}
	return out
}
