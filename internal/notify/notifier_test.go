package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

type captureSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, message)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{EventMarketCreated, " tx_failed "}, discard())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, EventTxConfirmed, "t", "m"))
	require.NoError(t, n.Notify(ctx, EventTxFailed, "t", "m"))
	require.NoError(t, n.Notify(ctx, EventMarketCreated, "t", "m"))

	assert.Len(t, s.titles, 2)
	assert.True(t, n.Enabled(EventTxFailed))
	assert.False(t, n.Enabled(EventMarketResolved))
}

func TestEmptyFilterAllowsAll(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, nil, discard())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.titles, 1)
}

func TestDispatchContinuesPastFailure(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("boom")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventTxFailed, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestTxSettled(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{EventTxFailed}, discard()).
		WithExplorer(func(chainID uint64, hash string) string { return "https://scan/tx/" + hash })

	id := uint64(7)
	ctx := context.Background()
	n.TxSettled(ctx, domain.TxRecord{Action: domain.TxActionPlaceBet, State: domain.TxStateConfirmed, Hash: "0xaa"})
	n.TxSettled(ctx, domain.TxRecord{
		ChainID:  11155111,
		Action:   domain.TxActionPlaceBet,
		MarketID: &id,
		State:    domain.TxStateFailed,
		Hash:     "0xbb",
		Error:    "transaction reverted",
	})
	n.TxSettled(ctx, domain.TxRecord{State: domain.TxStatePending})

	require.Len(t, s.bodies, 1)
	assert.Equal(t, "Transaction failed", s.titles[0])
	assert.Contains(t, s.bodies[0], "place_bet on chain 11155111, market #7")
	assert.Contains(t, s.bodies[0], "error: transaction reverted")
	assert.Contains(t, s.bodies[0], "https://scan/tx/0xbb")
}

func TestChainEvent(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{EventMarketCreated, EventMarketResolved}, discard())

	ctx := context.Background()
	n.ChainEvent(ctx, domain.ChainEvent{Name: domain.EventMarketCreated, MarketID: 2, Fields: map[string]string{"question": "BTC > 100k?"}})
	n.ChainEvent(ctx, domain.ChainEvent{Name: domain.EventMarketResolved, MarketID: 2, Fields: map[string]string{"outcome": "true"}})
	n.ChainEvent(ctx, domain.ChainEvent{Name: domain.EventBetPlaced, MarketID: 2})

	require.Len(t, s.bodies, 2)
	assert.Equal(t, "Market #2 created: BTC > 100k?", s.bodies[0])
	assert.Equal(t, "Market #2 resolved YES", s.bodies[1])
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}
