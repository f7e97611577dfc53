package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/metrics"
)

const defaultTxLimit = 500

// transitions lists the allowed next states for each write-action state.
var transitions = map[domain.TxState][]domain.TxState{
	domain.TxStateIdle:      {domain.TxStateSubmitted, domain.TxStateFailed},
	domain.TxStateSubmitted: {domain.TxStatePending, domain.TxStateFailed},
	domain.TxStatePending:   {domain.TxStateConfirmed, domain.TxStateFailed},
}

// TxTracker owns the lifecycle of every write action and the busy flags that
// disable controls while an action is in flight.
type TxTracker struct {
	mu      sync.RWMutex
	records map[string]domain.TxRecord
	order   []string
	busy    map[string]string // busy key -> record id
	limit   int

	store   domain.TxStore
	bus     domain.SignalBus
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// NewTxTracker creates a tracker that keeps at most limit settled records in memory.
func NewTxTracker(limit int, logger *slog.Logger) *TxTracker {
	if limit <= 0 {
		limit = defaultTxLimit
	}
	return &TxTracker{
		records: make(map[string]domain.TxRecord),
		busy:    make(map[string]string),
		limit:   limit,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "tx_tracker")),
	}
}

// WithStore persists every transition.
func (t *TxTracker) WithStore(s domain.TxStore) *TxTracker {
	t.store = s
	return t
}

// WithBus publishes every transition on domain.ChannelTx and domain.StreamTx.
func (t *TxTracker) WithBus(b domain.SignalBus) *TxTracker {
	t.bus = b
	return t
}

// WithMetrics counts transitions by action and state.
func (t *TxTracker) WithMetrics(m *metrics.Metrics) *TxTracker {
	t.metrics = m
	return t
}

// Begin opens an idle record for action. It fails with domain.ErrActionBusy
// when the same action on the same market is already in flight.
func (t *TxTracker) Begin(ctx context.Context, chainID uint64, action domain.TxAction, marketID *uint64) (domain.TxRecord, error) {
	key := domain.BusyKey(action, marketID)
	now := t.now()

	t.mu.Lock()
	if id, ok := t.busy[key]; ok {
		t.mu.Unlock()
		return domain.TxRecord{}, fmt.Errorf("%w: %s (tx %s)", domain.ErrActionBusy, key, id)
	}
	rec := domain.TxRecord{
		ID:        uuid.NewString(),
		ChainID:   chainID,
		Action:    action,
		MarketID:  marketID,
		State:     domain.TxStateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.records[rec.ID] = rec
	t.order = append(t.order, rec.ID)
	t.busy[key] = rec.ID
	t.pruneLocked()
	t.mu.Unlock()

	t.emit(ctx, rec)
	return rec, nil
}

// Submitted records the broadcast tx hash.
func (t *TxTracker) Submitted(ctx context.Context, id, hash, explorerURL string) (domain.TxRecord, error) {
	return t.advance(ctx, id, domain.TxStateSubmitted, func(r *domain.TxRecord) {
		r.Hash = hash
		r.ExplorerURL = explorerURL
	})
}

// Pending marks that the watcher is observing the tx.
func (t *TxTracker) Pending(ctx context.Context, id string) (domain.TxRecord, error) {
	return t.advance(ctx, id, domain.TxStatePending, nil)
}

// Confirmed settles the record successfully.
func (t *TxTracker) Confirmed(ctx context.Context, id string, block uint64) (domain.TxRecord, error) {
	return t.advance(ctx, id, domain.TxStateConfirmed, func(r *domain.TxRecord) {
		r.BlockNumber = block
	})
}

// Failed settles the record with cause.
func (t *TxTracker) Failed(ctx context.Context, id string, cause error) (domain.TxRecord, error) {
	return t.advance(ctx, id, domain.TxStateFailed, func(r *domain.TxRecord) {
		if cause != nil {
			r.Error = cause.Error()
		}
	})
}

func (t *TxTracker) advance(ctx context.Context, id string, next domain.TxState, mutate func(*domain.TxRecord)) (domain.TxRecord, error) {
	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok {
		t.mu.Unlock()
		return domain.TxRecord{}, fmt.Errorf("tx_tracker: %s: %w", id, domain.ErrNotFound)
	}
	if !allowed(rec.State, next) {
		t.mu.Unlock()
		return rec, fmt.Errorf("tx_tracker: %s: invalid transition %s -> %s", id, rec.State, next)
	}
	rec.State = next
	rec.UpdatedAt = t.now()
	if mutate != nil {
		mutate(&rec)
	}
	t.records[id] = rec
	if next.Terminal() {
		if t.busy[rec.BusyKey()] == id {
			delete(t.busy, rec.BusyKey())
		}
		t.pruneLocked()
	}
	t.mu.Unlock()

	t.emit(ctx, rec)
	return rec, nil
}

func allowed(from, to domain.TxState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// pruneLocked drops the oldest settled records beyond the limit.
func (t *TxTracker) pruneLocked() {
	if len(t.order) <= t.limit {
		return
	}
	keep := t.order[:0:0]
	excess := len(t.order) - t.limit
	for _, id := range t.order {
		if excess > 0 && t.records[id].State.Terminal() {
			delete(t.records, id)
			excess--
			continue
		}
		keep = append(keep, id)
	}
	t.order = keep
}

func (t *TxTracker) emit(ctx context.Context, rec domain.TxRecord) {
	t.metrics.TxTransition(string(rec.Action), string(rec.State))
	t.logger.InfoContext(ctx, "tx transition",
		slog.String("tx_id", rec.ID),
		slog.String("action", string(rec.Action)),
		slog.String("state", string(rec.State)),
		slog.String("hash", rec.Hash),
	)

	if t.store != nil {
		if err := t.store.Upsert(ctx, rec); err != nil {
			t.logger.WarnContext(ctx, "tx persist failed",
				slog.String("tx_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if t.bus != nil {
		payload, _ := json.Marshal(rec)
		if err := t.bus.Publish(ctx, domain.ChannelTx, payload); err != nil {
			t.logger.WarnContext(ctx, "tx publish failed", slog.String("error", err.Error()))
		}
		if err := t.bus.StreamAppend(ctx, domain.StreamTx, payload); err != nil {
			t.logger.WarnContext(ctx, "tx stream append failed", slog.String("error", err.Error()))
		}
	}
}

// Get returns a record by id, falling back to the store for pruned records.
func (t *TxTracker) Get(ctx context.Context, id string) (domain.TxRecord, error) {
	t.mu.RLock()
	rec, ok := t.records[id]
	t.mu.RUnlock()
	if ok {
		return rec, nil
	}
	if t.store != nil {
		rec, err := t.store.GetByID(ctx, id)
		if err != nil {
			return domain.TxRecord{}, fmt.Errorf("tx_tracker: get %s: %w", id, err)
		}
		return rec, nil
	}
	return domain.TxRecord{}, fmt.Errorf("tx_tracker: get %s: %w", id, domain.ErrNotFound)
}

// List returns the in-memory records, newest first.
func (t *TxTracker) List() []domain.TxRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.TxRecord, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, t.records[t.order[i]])
	}
	return out
}

// Busy reports whether the control identified by key is blocked.
func (t *TxTracker) Busy(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.busy[key]
	return ok
}

// BusyKeys returns the blocked control keys in sorted order.
func (t *TxTracker) BusyKeys() []string {
	t.mu.RLock()
	keys := make([]string, 0, len(t.busy))
	for k := range t.busy {
		keys = append(keys, k)
	}
	t.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// InFlight returns the number of records not yet settled.
func (t *TxTracker) InFlight() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.busy)
}
