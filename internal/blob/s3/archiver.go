package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// ResolvedMarketSource lists markets settled within a window.
type ResolvedMarketSource interface {
	ListResolved(ctx context.Context, chainID uint64, since time.Time) ([]domain.Market, error)
}

// EventSource lists indexed contract events within a window.
type EventSource interface {
	ListSince(ctx context.Context, chainID uint64, since time.Time) ([]domain.ChainEvent, error)
}

// multipartThreshold is the archive size above which uploads go through the
// multipart manager.
var multipartThreshold = 2 * minPartSize

// Archiver implements domain.Archiver. Each run writes one JSONL object per
// kind under archive/<chain>/<kind>/<date>/<time>.jsonl. Source rows are
// left in place.
type Archiver struct {
	writer  domain.BlobWriter
	markets ResolvedMarketSource
	events  EventSource
	audit   domain.AuditStore
	now     func() time.Time
	logger  *slog.Logger
}

// NewArchiver wires an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, markets ResolvedMarketSource, events EventSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		markets: markets,
		events:  events,
		audit:   audit,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// archivedMarket is the JSONL row for a settled market.
type archivedMarket struct {
	ChainID      uint64    `json:"chain_id"`
	ID           uint64    `json:"id"`
	Question     string    `json:"question"`
	TargetPrice  string    `json:"target_price"`
	Deadline     time.Time `json:"deadline"`
	PriceOracle  string    `json:"price_oracle"`
	Outcome      bool      `json:"outcome"`
	TotalYes     string    `json:"total_yes"`
	TotalNo      string    `json:"total_no"`
	TotalBettors uint64    `json:"total_bettors"`
	Token        string    `json:"token"`
}

// ArchiveResolvedMarkets uploads markets first seen resolved since the cutoff.
func (a *Archiver) ArchiveResolvedMarkets(ctx context.Context, chainID uint64, since time.Time) (int64, error) {
	markets, err := a.markets.ListResolved(ctx, chainID, since)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	rows := make([]archivedMarket, 0, len(markets))
	for _, m := range markets {
		rows = append(rows, archivedMarket{
			ChainID:      chainID,
			ID:           m.ID,
			Question:     m.Question,
			TargetPrice:  bigString(m.TargetPrice),
			Deadline:     m.Deadline,
			PriceOracle:  m.PriceOracle.Hex(),
			Outcome:      m.Outcome,
			TotalYes:     bigString(m.TotalYes),
			TotalNo:      bigString(m.TotalNo),
			TotalBettors: m.TotalBettors,
			Token:        m.Token.Hex(),
		})
	}
	return upload(ctx, a, chainID, "markets", since, rows)
}

// ArchiveEvents uploads contract events observed since the cutoff.
func (a *Archiver) ArchiveEvents(ctx context.Context, chainID uint64, since time.Time) (int64, error) {
	events, err := a.events.ListSince(ctx, chainID, since)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	return upload(ctx, a, chainID, "events", since, events)
}

func upload[T any](ctx context.Context, a *Archiver, chainID uint64, kind string, since time.Time, rows []T) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	path := ArchivePath(chainID, kind, a.now())
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(rows))
	a.logger.InfoContext(ctx, "archive written",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"chain_id": chainID,
			"path":     path,
			"count":    count,
			"since":    since.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// ArchivePath builds the object key for one archive run.
//
//	archive/11155111/markets/2026-03-01/120000.jsonl
func ArchivePath(chainID uint64, kind string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("archive/%d/%s/%s/%s.jsonl", chainID, kind, at.Format("2006-01-02"), at.Format("150405"))
}

// ArchivePrefix is the key prefix of every archive object of a chain.
func ArchivePrefix(chainID uint64) string {
	return fmt.Sprintf("archive/%d/", chainID)
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

var _ domain.Archiver = (*Archiver)(nil)
