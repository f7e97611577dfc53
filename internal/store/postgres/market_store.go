package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// MarketStore implements domain.MarketStore. Rows are snapshots of on-chain
// markets; resolved_at records when a refresh first saw the market resolved.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const upsertMarketSQL = `
	INSERT INTO markets (
		chain_id, id, question, target_price, deadline, price_oracle,
		resolved, outcome, total_yes, total_no, total_bettors, token,
		resolved_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11, $12,
		CASE WHEN $7 THEN NOW() END, NOW()
	)
	ON CONFLICT (chain_id, id) DO UPDATE SET
		resolved      = EXCLUDED.resolved,
		outcome       = EXCLUDED.outcome,
		total_yes     = EXCLUDED.total_yes,
		total_no      = EXCLUDED.total_no,
		total_bettors = EXCLUDED.total_bettors,
		resolved_at   = COALESCE(markets.resolved_at, EXCLUDED.resolved_at),
		updated_at    = NOW()`

// UpsertBatch writes a refresh's worth of markets in one batch.
func (s *MarketStore) UpsertBatch(ctx context.Context, chainID uint64, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(upsertMarketSQL,
			int64(chainID), int64(m.ID), m.Question, numeric(m.TargetPrice), m.Deadline, m.PriceOracle.Hex(),
			m.Resolved, m.Outcome, numeric(m.TotalYes), numeric(m.TotalNo), int64(m.TotalBettors), m.Token.Hex(),
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, m := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market %d/%d: %w", chainID, m.ID, err)
		}
	}
	return nil
}

const selectMarketSQL = `
	SELECT id, question, target_price::text, deadline, price_oracle,
	       resolved, outcome, total_yes::text, total_no::text, total_bettors, token
	FROM markets WHERE chain_id = $1`

// GetByID returns one market snapshot or domain.ErrNotFound.
func (s *MarketStore) GetByID(ctx context.Context, chainID, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, selectMarketSQL+` AND id = $2`, int64(chainID), int64(id))
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d/%d: %w", chainID, id, err)
	}
	return m, nil
}

// List returns markets of a chain ordered by id. Since/Until filter on deadline.
func (s *MarketStore) List(ctx context.Context, chainID uint64, opts domain.ListOpts) ([]domain.Market, error) {
	q := newQuery(selectMarketSQL, int64(chainID))
	q.page(opts, "deadline", "id ASC")
	return s.query(ctx, q)
}

// ListResolved returns markets first seen resolved at or after since.
func (s *MarketStore) ListResolved(ctx context.Context, chainID uint64, since time.Time) ([]domain.Market, error) {
	q := newQuery(selectMarketSQL+` AND resolved`, int64(chainID))
	q.where("resolved_at >= %s", since)
	q.page(domain.ListOpts{}, "resolved_at", "resolved_at ASC, id ASC")
	return s.query(ctx, q)
}

// Count returns the number of stored markets for a chain.
func (s *MarketStore) Count(ctx context.Context, chainID uint64) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets WHERE chain_id = $1`, int64(chainID)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

func (s *MarketStore) query(ctx context.Context, q *query) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m               domain.Market
		id, bettors     int64
		target, yes, no string
		oracle, token   string
	)
	if err := row.Scan(&id, &m.Question, &target, &m.Deadline, &oracle,
		&m.Resolved, &m.Outcome, &yes, &no, &bettors, &token); err != nil {
		return domain.Market{}, err
	}
	m.ID = uint64(id)
	m.TotalBettors = uint64(bettors)
	m.PriceOracle = common.HexToAddress(oracle)
	m.Token = common.HexToAddress(token)

	var err error
	if m.TargetPrice, err = parseNumeric(target); err != nil {
		return domain.Market{}, err
	}
	if m.TotalYes, err = parseNumeric(yes); err != nil {
		return domain.Market{}, err
	}
	if m.TotalNo, err = parseNumeric(no); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
