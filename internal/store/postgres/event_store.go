package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// EventStore implements domain.EventStore. Logs are keyed by tx hash and log
// index, so re-indexing a block range is idempotent.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertBatch stores decoded events, skipping ones already indexed.
func (s *EventStore) InsertBatch(ctx context.Context, events []domain.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}
	const q = `
		INSERT INTO chain_events (
			chain_id, block_number, tx_hash, log_index, name,
			market_id, account, fields, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range events {
		fields, err := json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("postgres: marshal event fields: %w", err)
		}
		batch.Queue(q,
			int64(e.ChainID), int64(e.BlockNumber), e.TxHash, int32(e.LogIndex), string(e.Name),
			int64(e.MarketID), e.Account, fields, e.ObservedAt,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, e := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert event %s/%d: %w", e.TxHash, e.LogIndex, err)
		}
	}
	return nil
}

const selectEventSQL = `
	SELECT chain_id, block_number, tx_hash, log_index, name,
	       market_id, account, fields, observed_at
	FROM chain_events WHERE chain_id = $1`

// ListByMarket returns one market's events in chain order.
func (s *EventStore) ListByMarket(ctx context.Context, chainID, marketID uint64, opts domain.ListOpts) ([]domain.ChainEvent, error) {
	q := newQuery(selectEventSQL, int64(chainID))
	q.where("market_id = %s", int64(marketID))
	q.page(opts, "observed_at", "block_number ASC, log_index ASC")
	return s.query(ctx, q)
}

// ListSince returns events observed at or after since in chain order.
func (s *EventStore) ListSince(ctx context.Context, chainID uint64, since time.Time) ([]domain.ChainEvent, error) {
	q := newQuery(selectEventSQL, int64(chainID))
	q.page(domain.ListOpts{Since: &since}, "observed_at", "block_number ASC, log_index ASC")
	return s.query(ctx, q)
}

// LastBlock returns the highest indexed block, or 0 when nothing is stored.
func (s *EventStore) LastBlock(ctx context.Context, chainID uint64) (uint64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(block_number), 0) FROM chain_events WHERE chain_id = $1`, int64(chainID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: last indexed block: %w", err)
	}
	return uint64(n), nil
}

func (s *EventStore) query(ctx context.Context, q *query) ([]domain.ChainEvent, error) {
	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.ChainEvent
	for rows.Next() {
		var (
			e                        domain.ChainEvent
			chainID, block, marketID int64
			logIndex                 int32
			name                     string
			fields                   []byte
		)
		if err := rows.Scan(&chainID, &block, &e.TxHash, &logIndex, &name,
			&marketID, &e.Account, &fields, &e.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.ChainID = uint64(chainID)
		e.BlockNumber = uint64(block)
		e.LogIndex = uint(logIndex)
		e.Name = domain.ChainEventName(name)
		e.MarketID = uint64(marketID)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.Fields); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event fields: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}

var _ domain.EventStore = (*EventStore)(nil)
