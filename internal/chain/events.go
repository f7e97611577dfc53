package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// IndexerConfig configures an EventIndexer.
type IndexerConfig struct {
	ChainID   uint64
	Contract  common.Address
	FromBlock uint64
	// BatchBlocks caps the block span of a single FilterLogs query.
	BatchBlocks uint64
	Store       domain.EventStore
	Bus         domain.SignalBus
	// OnEvent is called for every decoded event after it is stored.
	OnEvent func(ctx context.Context, ev domain.ChainEvent)
	Logger  *slog.Logger
}

// EventIndexer pulls contract logs in block ranges and records them.
type EventIndexer struct {
	backend Backend
	cfg     IndexerConfig
	next    uint64
	resumed bool
	logger  *slog.Logger
}

// NewEventIndexer creates an indexer reading from backend.
func NewEventIndexer(backend Backend, cfg IndexerConfig) *EventIndexer {
	if cfg.BatchBlocks == 0 {
		cfg.BatchBlocks = 2000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventIndexer{
		backend: backend,
		cfg:     cfg,
		next:    cfg.FromBlock,
		logger:  logger.With(slog.String("component", "event-indexer"), slog.Uint64("chain_id", cfg.ChainID)),
	}
}

// Run syncs on every tick until ctx ends.
func (x *EventIndexer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := x.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			x.logger.WarnContext(ctx, "event sync failed", slog.String("error", err.Error()))
		} else if n > 0 {
			x.logger.InfoContext(ctx, "events indexed", slog.Int("count", n), slog.Uint64("next_block", x.next))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sync indexes every log between the last indexed block and the current
// head. It returns the number of events recorded.
func (x *EventIndexer) Sync(ctx context.Context) (int, error) {
	if !x.resumed && x.cfg.Store != nil {
		last, err := x.cfg.Store.LastBlock(ctx, x.cfg.ChainID)
		if err != nil {
			return 0, fmt.Errorf("chain: indexer resume: %w", err)
		}
		if last+1 > x.next && last > 0 {
			x.next = last + 1
		}
	}
	x.resumed = true

	head, err := x.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: indexer head: %w", err)
	}

	total := 0
	for x.next <= head {
		to := x.next + x.cfg.BatchBlocks - 1
		if to > head {
			to = head
		}
		events, err := x.fetch(ctx, x.next, to)
		if err != nil {
			return total, err
		}
		if err := x.record(ctx, events); err != nil {
			return total, err
		}
		total += len(events)
		x.next = to + 1
	}
	return total, nil
}

func (x *EventIndexer) fetch(ctx context.Context, from, to uint64) ([]domain.ChainEvent, error) {
	topics := []common.Hash{
		marketABI.Events["MarketCreated"].ID,
		marketABI.Events["BetPlaced"].ID,
		marketABI.Events["MarketResolved"].ID,
		marketABI.Events["RewardClaimed"].ID,
	}
	logs, err := x.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{x.cfg.Contract},
		Topics:    [][]common.Hash{topics},
	})
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs %d-%d: %w", from, to, err)
	}

	events := make([]domain.ChainEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := DecodeEvent(x.cfg.ChainID, lg)
		if err != nil {
			x.logger.WarnContext(ctx, "skipping undecodable log",
				slog.String("tx", lg.TxHash.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (x *EventIndexer) record(ctx context.Context, events []domain.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}
	if x.cfg.Store != nil {
		if err := x.cfg.Store.InsertBatch(ctx, events); err != nil {
			return fmt.Errorf("chain: store events: %w", err)
		}
	}
	for _, ev := range events {
		if x.cfg.Bus != nil {
			if payload, err := json.Marshal(ev); err == nil {
				_ = x.cfg.Bus.Publish(ctx, domain.ChannelEvents, payload)
			}
		}
		if x.cfg.OnEvent != nil {
			x.cfg.OnEvent(ctx, ev)
		}
	}
	return nil
}

// DecodeEvent turns a contract log into a ChainEvent.
func DecodeEvent(chainID uint64, lg types.Log) (domain.ChainEvent, error) {
	if len(lg.Topics) < 2 {
		return domain.ChainEvent{}, fmt.Errorf("chain: log has %d topics", len(lg.Topics))
	}
	ev, err := marketABI.EventByID(lg.Topics[0])
	if err != nil {
		return domain.ChainEvent{}, fmt.Errorf("chain: unknown event %s: %w", lg.Topics[0].Hex(), err)
	}

	fields := make(map[string]any)
	if err := marketABI.UnpackIntoMap(fields, ev.Name, lg.Data); err != nil {
		return domain.ChainEvent{}, fmt.Errorf("chain: unpack %s: %w", ev.Name, err)
	}

	out := domain.ChainEvent{
		ChainID:     chainID,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		Name:        domain.ChainEventName(ev.Name),
		MarketID:    new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		Fields:      make(map[string]string, len(fields)),
		ObservedAt:  time.Now().UTC(),
	}
	if len(lg.Topics) > 2 {
		out.Account = common.BytesToAddress(lg.Topics[2].Bytes()).Hex()
	}
	for k, v := range fields {
		out.Fields[k] = stringifyABIValue(v)
	}
	return out, nil
}

func stringifyABIValue(v any) string {
	switch t := v.(type) {
	case *big.Int:
		return t.String()
	case common.Address:
		return t.Hex()
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
