package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	parts   int64
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if err := w.Put(ctx, path, data, ""); err != nil {
		return err
	}
	w.parts = partSize
	return nil
}

type stubSource struct {
	markets []domain.Market
	events  []domain.ChainEvent
	since   time.Time
}

func (s *stubSource) ListResolved(_ context.Context, _ uint64, since time.Time) ([]domain.Market, error) {
	s.since = since
	return s.markets, nil
}

func (s *stubSource) ListSince(_ context.Context, _ uint64, since time.Time) ([]domain.ChainEvent, error) {
	s.since = since
	return s.events, nil
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

var runAt = time.Date(2026, 3, 1, 12, 30, 5, 0, time.UTC)

func newTestArchiver(w *memWriter, src *stubSource, audit *memAudit) *Archiver {
	a := NewArchiver(w, src, src, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return runAt }
	return a
}

func TestArchiveResolvedMarkets(t *testing.T) {
	w := newMemWriter()
	audit := &memAudit{}
	src := &stubSource{markets: []domain.Market{
		{
			ID:          3,
			Question:    "BTC above 50k?",
			TargetPrice: big.NewInt(5_000_000_000_000),
			Deadline:    runAt.Add(-time.Hour),
			PriceOracle: common.HexToAddress("0x01"),
			Resolved:    true,
			Outcome:     true,
			TotalYes:    big.NewInt(1_000_000_000),
			TotalNo:     big.NewInt(800_000_000),
			Token:       common.HexToAddress("0x02"),
		},
		{ID: 4, Question: "ETH above 3k?", Resolved: true},
	}}
	since := runAt.Add(-24 * time.Hour)

	n, err := newTestArchiver(w, src, audit).ArchiveResolvedMarkets(context.Background(), 11155111, since)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, since, src.since)

	path := "archive/11155111/markets/2026-03-01/123005.jsonl"
	require.Contains(t, w.objects, path)
	assert.Equal(t, "application/x-ndjson", w.types[path])

	var rows []archivedMarket
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var row archivedMarket
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "1000000000", rows[0].TotalYes)
	assert.Equal(t, "800000000", rows[0].TotalNo)
	assert.Equal(t, "0", rows[1].TotalYes)
	assert.Equal(t, []string{"archive.markets"}, audit.events)
}

func TestArchiveEmptyWindowWritesNothing(t *testing.T) {
	w := newMemWriter()
	audit := &memAudit{}
	n, err := newTestArchiver(w, &stubSource{}, audit).ArchiveEvents(context.Background(), 1, runAt)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
	assert.Empty(t, audit.events)
}

func TestArchiveUploadFailure(t *testing.T) {
	w := newMemWriter()
	w.err = errors.New("bucket gone")
	src := &stubSource{events: []domain.ChainEvent{{Name: domain.EventBetPlaced, MarketID: 1}}}

	_, err := newTestArchiver(w, src, &memAudit{}).ArchiveEvents(context.Background(), 1, runAt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive events upload")
}

func TestArchiveUploadPath(t *testing.T) {
	cases := []struct {
		name      string
		threshold int64
		wantType  string
		wantParts int64
	}{
		{"small archive uses a single put", 2 * minPartSize, "application/x-ndjson", 0},
		{"large archive uses multipart", 1, "", minPartSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := multipartThreshold
			multipartThreshold = tc.threshold
			t.Cleanup(func() { multipartThreshold = prev })

			w := newMemWriter()
			src := &stubSource{events: []domain.ChainEvent{{Name: domain.EventBetPlaced, MarketID: 1}}}
			n, err := newTestArchiver(w, src, &memAudit{}).ArchiveEvents(context.Background(), 1, runAt)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			path := "archive/1/events/2026-03-01/123005.jsonl"
			require.Contains(t, w.objects, path)
			assert.Equal(t, tc.wantType, w.types[path])
			assert.Equal(t, tc.wantParts, w.parts)
		})
	}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://minio:9000", endpointURL("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	assert.Equal(t, "https://minio:9000", endpointURL("minio:9000", true))
}
