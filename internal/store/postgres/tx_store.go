package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// TxStore implements domain.TxStore. Every lifecycle transition overwrites
// the record's row.
type TxStore struct {
	pool *pgxpool.Pool
}

// NewTxStore creates a new TxStore backed by the given connection pool.
func NewTxStore(pool *pgxpool.Pool) *TxStore {
	return &TxStore{pool: pool}
}

// Upsert writes the current state of a write action.
func (s *TxStore) Upsert(ctx context.Context, rec domain.TxRecord) error {
	const q = `
		INSERT INTO tx_records (
			id, chain_id, action, market_id, hash, state, error,
			block_number, explorer_url, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			hash         = EXCLUDED.hash,
			state        = EXCLUDED.state,
			error        = EXCLUDED.error,
			block_number = EXCLUDED.block_number,
			explorer_url = EXCLUDED.explorer_url,
			updated_at   = EXCLUDED.updated_at`

	var marketID *int64
	if rec.MarketID != nil {
		v := int64(*rec.MarketID)
		marketID = &v
	}
	_, err := s.pool.Exec(ctx, q,
		rec.ID, int64(rec.ChainID), string(rec.Action), marketID, rec.Hash, string(rec.State), rec.Error,
		int64(rec.BlockNumber), rec.ExplorerURL, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert tx %s: %w", rec.ID, err)
	}
	return nil
}

const selectTxSQL = `
	SELECT id::text, chain_id, action, market_id, hash, state, error,
	       block_number, explorer_url, created_at, updated_at
	FROM tx_records WHERE TRUE`

// GetByID returns one record or domain.ErrNotFound.
func (s *TxStore) GetByID(ctx context.Context, id string) (domain.TxRecord, error) {
	rec, err := scanTx(s.pool.QueryRow(ctx, selectTxSQL+` AND id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TxRecord{}, domain.ErrNotFound
		}
		return domain.TxRecord{}, fmt.Errorf("postgres: get tx %s: %w", id, err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *TxStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TxRecord, error) {
	q := newQuery(selectTxSQL)
	q.page(opts, "created_at", "created_at DESC")

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tx: %w", err)
	}
	defer rows.Close()

	var out []domain.TxRecord
	for rows.Next() {
		rec, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan tx: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tx rows: %w", err)
	}
	return out, nil
}

func scanTx(row pgx.Row) (domain.TxRecord, error) {
	var (
		rec            domain.TxRecord
		chainID, block int64
		marketID       *int64
		action, state  string
	)
	if err := row.Scan(&rec.ID, &chainID, &action, &marketID, &rec.Hash, &state, &rec.Error,
		&block, &rec.ExplorerURL, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return domain.TxRecord{}, err
	}
	rec.ChainID = uint64(chainID)
	rec.BlockNumber = uint64(block)
	rec.Action = domain.TxAction(action)
	rec.State = domain.TxState(state)
	if marketID != nil {
		v := uint64(*marketID)
		rec.MarketID = &v
	}
	return rec, nil
}

var _ domain.TxStore = (*TxStore)(nil)
