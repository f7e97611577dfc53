package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market snapshots read from the chain.
type MarketStore interface {
	UpsertBatch(ctx context.Context, chainID uint64, markets []Market) error
	GetByID(ctx context.Context, chainID, id uint64) (Market, error)
	List(ctx context.Context, chainID uint64, opts ListOpts) ([]Market, error)
	ListResolved(ctx context.Context, chainID uint64, since time.Time) ([]Market, error)
	Count(ctx context.Context, chainID uint64) (int64, error)
}

// TxStore persists write-action records.
type TxStore interface {
	Upsert(ctx context.Context, rec TxRecord) error
	GetByID(ctx context.Context, id string) (TxRecord, error)
	List(ctx context.Context, opts ListOpts) ([]TxRecord, error)
}

// EventStore persists indexed contract events.
type EventStore interface {
	InsertBatch(ctx context.Context, events []ChainEvent) error
	ListByMarket(ctx context.Context, chainID, marketID uint64, opts ListOpts) ([]ChainEvent, error)
	ListSince(ctx context.Context, chainID uint64, since time.Time) ([]ChainEvent, error)
	LastBlock(ctx context.Context, chainID uint64) (uint64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
