package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbet/internal/crypto"
	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/network"
	"github.com/alanyoungcy/chainbet/internal/service"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stubService answers every reconciler call from canned values.
type stubService struct {
	state    domain.DashboardState
	market   domain.MarketView
	quote    domain.Quote
	rec      domain.TxRecord
	err      error
	session  domain.Session
	lastBet  service.PlaceBetInput
	balance  domain.Balance
	sessions []domain.Session
	count    uint64
	countErr error
	history  []domain.MarketView
	histErr  error
}

func (s *stubService) State() domain.DashboardState { return s.state }
func (s *stubService) Session() domain.Session      { return s.session }
func (s *stubService) Controls(id uint64) domain.Controls {
	return domain.Controls{MarketID: id, CanBet: true}
}
func (s *stubService) Market(context.Context, uint64) (domain.MarketView, error) {
	return s.market, s.err
}
func (s *stubService) MarketCount(context.Context) (uint64, error) {
	return s.count, s.countErr
}
func (s *stubService) MarketHistory(_ context.Context, opts domain.ListOpts) ([]domain.MarketView, int64, error) {
	return s.history, int64(len(s.history)), s.histErr
}
func (s *stubService) Quote(_ context.Context, id uint64, prediction bool, amount string) (domain.Quote, error) {
	return s.quote, s.err
}
func (s *stubService) CreateMarket(context.Context, service.CreateMarketInput) (domain.TxRecord, error) {
	return s.rec, s.err
}
func (s *stubService) PlaceBet(_ context.Context, in service.PlaceBetInput) (domain.TxRecord, error) {
	s.lastBet = in
	return s.rec, s.err
}
func (s *stubService) ResolveMarket(context.Context, uint64) (domain.TxRecord, error) {
	return s.rec, s.err
}
func (s *stubService) ClaimReward(context.Context, uint64) (domain.TxRecord, error) {
	return s.rec, s.err
}
func (s *stubService) SetSession(_ context.Context, sess domain.Session) (domain.DashboardState, error) {
	s.sessions = append(s.sessions, sess)
	return s.state, s.err
}
func (s *stubService) Toasts(int) []domain.Toast { return nil }
func (s *stubService) Balance(context.Context, string) (domain.Balance, error) {
	return s.balance, s.err
}

func serve(t *testing.T, pattern string, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(method, target, rd))
	return w
}

func TestWriteActionStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"below minimum", fmt.Errorf("%w: Minimum bet is 1 USDC", domain.ErrBelowMinimum), http.StatusBadRequest},
		{"market closed", domain.ErrMarketClosed, http.StatusBadRequest},
		{"busy", fmt.Errorf("%w: place_bet:1", domain.ErrActionBusy), http.StatusConflict},
		{"unsupported network", domain.ErrUnsupportedNetwork, http.StatusConflict},
		{"rpc failure", errors.New("dial tcp: connection refused"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{err: tc.err}
			if tc.err == nil {
				svc.rec = domain.TxRecord{ID: "tx-1", State: domain.TxStateSubmitted}
			}
			h := NewMarketHandler(svc, nil, discard())
			w := serve(t, "POST /api/markets/{id}/bets", h.PlaceBet, http.MethodPost, "/api/markets/1/bets",
				`{"prediction":"yes","amount":"10"}`)
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, service.PlaceBetInput{MarketID: 1, Prediction: true, Amount: "10"}, svc.lastBet)
		})
	}
}

func TestPlaceBetRejectsBadInput(t *testing.T) {
	h := NewMarketHandler(&stubService{}, nil, discard())

	w := serve(t, "POST /api/markets/{id}/bets", h.PlaceBet, http.MethodPost, "/api/markets/abc/bets", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, "POST /api/markets/{id}/bets", h.PlaceBet, http.MethodPost, "/api/markets/1/bets",
		`{"prediction":"maybe","amount":"10"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, "POST /api/markets/{id}/bets", h.PlaceBet, http.MethodPost, "/api/markets/1/bets", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitFailureReturnsRecord(t *testing.T) {
	svc := &stubService{
		rec: domain.TxRecord{ID: "tx-9", State: domain.TxStateFailed, Error: "nonce too low"},
		err: errors.New("reconciler: claim_reward: nonce too low"),
	}
	h := NewMarketHandler(svc, nil, discard())
	w := serve(t, "POST /api/markets/{id}/claim", h.ClaimReward, http.MethodPost, "/api/markets/2/claim", "")
	require.Equal(t, http.StatusBadGateway, w.Code)

	var body struct {
		Error string          `json:"error"`
		Tx    domain.TxRecord `json:"tx"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "claim reward failed", body.Error)
	assert.Equal(t, domain.TxStateFailed, body.Tx.State)
}

func TestListMarketsFiltersAndPages(t *testing.T) {
	svc := &stubService{state: domain.DashboardState{Markets: []domain.MarketView{
		{ID: 0, Question: "a"},
		{ID: 1, Question: "b", Expired: true},
		{ID: 2, Question: "c", Resolved: true},
		{ID: 3, Question: "d"},
	}}}
	h := NewMarketHandler(svc, nil, discard())

	w := serve(t, "GET /api/markets", h.ListMarkets, http.MethodGet, "/api/markets?status=open&limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp listMarketsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Markets, 1)
	assert.Equal(t, "d", resp.Markets[0].Question)
	assert.True(t, resp.Markets[0].Controls.CanBet)
}

func TestListMarketsOnChainCount(t *testing.T) {
	cases := []struct {
		name     string
		countErr error
		want     *uint64
	}{
		{"counter read", nil, ptr(uint64(4))},
		{"counter failed", errors.New("rpc down"), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{count: 4, countErr: tc.countErr, state: domain.DashboardState{Stale: true}}
			h := NewMarketHandler(svc, nil, discard())
			w := serve(t, "GET /api/markets", h.ListMarkets, http.MethodGet, "/api/markets", "")
			require.Equal(t, http.StatusOK, w.Code)
			var resp listMarketsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.want, resp.OnChain)
			assert.True(t, resp.Stale)
		})
	}
}

func TestMarketHistory(t *testing.T) {
	cases := []struct {
		name string
		svc  *stubService
		want int
	}{
		{"no database", &stubService{histErr: fmt.Errorf("reconciler: market history: %w", domain.ErrDisabled)}, http.StatusServiceUnavailable},
		{"stored markets", &stubService{history: []domain.MarketView{{ID: 3, Question: "q", Resolved: true}}}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewMarketHandler(tc.svc, nil, discard())
			w := serve(t, "GET /api/markets/history", h.MarketHistory, http.MethodGet, "/api/markets/history?limit=10", "")
			require.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"total":1`)
				assert.Contains(t, w.Body.String(), `"question":"q"`)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestGetMarketNotFound(t *testing.T) {
	h := NewMarketHandler(&stubService{err: fmt.Errorf("x: %w", domain.ErrNotFound)}, nil, discard())
	w := serve(t, "GET /api/markets/{id}", h.GetMarket, http.MethodGet, "/api/markets/42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOdds(t *testing.T) {
	svc := &stubService{quote: domain.Quote{MarketID: 1, Prediction: "YES", Amount: "10", Odds: "0.80", PotentialWin: "8.00"}}
	h := NewMarketHandler(svc, nil, discard())
	w := serve(t, "GET /api/markets/{id}/odds", h.GetOdds, http.MethodGet, "/api/markets/1/odds?prediction=yes&amount=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"market_id":1,"prediction":"YES","amount":"10","odds":"0.80","potential_win":"8.00","token_symbol":""}`, w.Body.String())
}

func TestListEventsDisabled(t *testing.T) {
	h := NewMarketHandler(&stubService{}, nil, discard())
	w := serve(t, "GET /api/markets/{id}/events", h.ListEvents, http.MethodGet, "/api/markets/1/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPutSession(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sign := func(t *testing.T, msg string) string {
		t.Helper()
		sig, err := signer.SignMessage([]byte(msg))
		require.NoError(t, err)
		return hexutil.Encode(sig)
	}
	other := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	cases := []struct {
		name    string
		account common.Address
		chainID uint64
		msg     string
		want    int
	}{
		{"fresh message", signer.Address(), 1, SessionMessage(signer.Address(), 1, now.Add(-time.Minute)), http.StatusOK},
		{"signed by another account", other, 1, SessionMessage(other, 1, now), http.StatusUnauthorized},
		{"message names another chain", signer.Address(), 1, SessionMessage(signer.Address(), 5, now), http.StatusUnauthorized},
		{"expired message", signer.Address(), 1, SessionMessage(signer.Address(), 1, now.Add(-sessionWindow-time.Second)), http.StatusUnauthorized},
		{"issued in the future", signer.Address(), 1, SessionMessage(signer.Address(), 1, now.Add(2*time.Minute)), http.StatusUnauthorized},
		{"free-form message", signer.Address(), 1, "Sign in to ChainBet", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{state: domain.DashboardState{ConfigError: domain.ErrUnsupportedNetwork.Error()}}
			h := NewStateHandler(svc, nil, BetRules{}, discard())
			h.now = func() time.Time { return now }

			body := fmt.Sprintf(`{"account":%q,"chain_id":%d,"message":%q,"signature":%q}`,
				tc.account.Hex(), tc.chainID, tc.msg, sign(t, tc.msg))
			w := serve(t, "PUT /api/session", h.PutSession, http.MethodPut, "/api/session", body)
			require.Equal(t, tc.want, w.Code, w.Body.String())
			if tc.want != http.StatusOK {
				assert.Empty(t, svc.sessions)
				return
			}
			assert.Contains(t, w.Body.String(), "Please connect to a supported network")
			require.Len(t, svc.sessions, 1)
			assert.Equal(t, domain.Session{Account: signer.Address(), ChainID: 1, Connected: true}, svc.sessions[0])
		})
	}
}

func TestPutSessionRejectsReplayedSignature(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := SessionMessage(signer.Address(), 1, now)
	sig, err := signer.SignMessage([]byte(msg))
	require.NoError(t, err)

	svc := &stubService{}
	h := NewStateHandler(svc, nil, BetRules{}, discard())
	h.now = func() time.Time { return now }
	body := fmt.Sprintf(`{"account":%q,"chain_id":1,"message":%q,"signature":%q}`,
		signer.Address().Hex(), msg, hexutil.Encode(sig))

	w := serve(t, "PUT /api/session", h.PutSession, http.MethodPut, "/api/session", body)
	require.Equal(t, http.StatusOK, w.Code)
	w = serve(t, "PUT /api/session", h.PutSession, http.MethodPut, "/api/session", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Len(t, svc.sessions, 1)
}

func TestPutSessionUnsigned(t *testing.T) {
	svc := &stubService{}
	h := NewStateHandler(svc, nil, BetRules{}, discard())

	w := serve(t, "PUT /api/session", h.PutSession, http.MethodPut, "/api/session", `{"account":"nope","chain_id":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, "PUT /api/session", h.PutSession, http.MethodPut, "/api/session",
		`{"account":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","chain_id":1}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, "PUT /api/session", h.PutSession, http.MethodPut, "/api/session", `{"connected":false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.sessions, 2)
	assert.False(t, svc.sessions[1].Connected)
}

func TestGetSessionMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewStateHandler(&stubService{}, nil, BetRules{}, discard())
	h.now = func() time.Time { return now }

	w := serve(t, "GET /api/session/message", h.GetSessionMessage, http.MethodGet,
		"/api/session/message?account=0x70997970C51812dc3A010C7d01b50e0d17dc79C8&chain_id=11155111", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Message   string    `json:"message"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Sign in to ChainBet\naccount: 0x70997970C51812dc3A010C7d01b50e0d17dc79C8\nchain: 11155111\nissued: 2026-03-01T12:00:00Z", resp.Message)
	assert.True(t, now.Add(sessionWindow).Equal(resp.ExpiresAt))

	w = serve(t, "GET /api/session/message", h.GetSessionMessage, http.MethodGet, "/api/session/message?account=0x1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListNetworksPlatformFee(t *testing.T) {
	nets := []network.Network{{ChainID: 11155111, Name: "Sepolia"}, {ChainID: 1, Name: "Ethereum"}}
	cases := []struct {
		name string
		bps  int
		want string
	}{
		{"fee configured", 250, `"platform_fee_bps":250`},
		{"no fee", 0, `"platform_fee_bps":0`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{session: domain.Session{ChainID: 11155111}}
			h := NewStateHandler(svc, nets, BetRules{MinStake: "1", DurationDays: []int{1, 7}, PlatformFeeBps: tc.bps}, discard())
			w := serve(t, "GET /api/networks", h.ListNetworks, http.MethodGet, "/api/networks", "")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tc.want)

			var resp struct {
				Networks []struct {
					ChainID uint64 `json:"chain_id"`
					Active  bool   `json:"active"`
				} `json:"networks"`
				Rules BetRules `json:"rules"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.bps, resp.Rules.PlatformFeeBps)
			require.Len(t, resp.Networks, 2)
			assert.True(t, resp.Networks[0].Active)
			assert.False(t, resp.Networks[1].Active)
		})
	}
}

func TestListBetsByStatus(t *testing.T) {
	svc := &stubService{state: domain.DashboardState{UserBets: []domain.BetView{
		{MarketID: 0, Status: domain.BetStatusWon},
		{MarketID: 1, Status: domain.BetStatusActive},
	}}}
	h := NewStateHandler(svc, nil, BetRules{}, discard())
	w := serve(t, "GET /api/bets", h.ListBets, http.MethodGet, "/api/bets?status=won", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Bets []domain.BetView `json:"bets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Bets, 1)
	assert.Equal(t, uint64(0), resp.Bets[0].MarketID)
}

func TestGetBalanceUnknownToken(t *testing.T) {
	h := NewStateHandler(&stubService{err: domain.ErrUnknownToken}, nil, BetRules{}, discard())
	w := serve(t, "GET /api/balance/{symbol}", h.GetBalance, http.MethodGet, "/api/balance/DAI", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthDegraded(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, discard())
	w := serve(t, "GET /api/health", h.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
}

func TestGetArchiveRejectsTraversal(t *testing.T) {
	h := NewArchiveHandler(&memBlobs{}, func() string { return "archive/1/" }, discard())
	w := serve(t, "GET /api/archives/{path...}", h.GetArchive, http.MethodGet, "/api/archives/etc/passwd", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListArchives(t *testing.T) {
	blobs := &memBlobs{infos: []domain.BlobInfo{{Path: "archive/1/markets/2026-03-01/120000.jsonl", Size: 10}}}
	h := NewArchiveHandler(blobs, func() string { return "archive/1/" }, discard())
	w := serve(t, "GET /api/archives", h.ListArchives, http.MethodGet, "/api/archives?kind=markets", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "archive/1/markets/", blobs.prefix)
	assert.Contains(t, w.Body.String(), "120000.jsonl")
}

func TestHeadArchive(t *testing.T) {
	cases := []struct {
		name   string
		target string
		blobs  *memBlobs
		want   int
	}{
		{"present", "/api/archives/archive/1/markets/a.jsonl", &memBlobs{exists: true}, http.StatusOK},
		{"absent", "/api/archives/archive/1/markets/a.jsonl", &memBlobs{}, http.StatusNotFound},
		{"store error", "/api/archives/archive/1/markets/a.jsonl", &memBlobs{existsErr: errors.New("s3 down")}, http.StatusBadGateway},
		{"outside archive", "/api/archives/etc/passwd", &memBlobs{exists: true}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewArchiveHandler(tc.blobs, func() string { return "archive/1/" }, discard())
			w := serve(t, "HEAD /api/archives/{path...}", h.HeadArchive, http.MethodHead, tc.target, "")
			assert.Equal(t, tc.want, w.Code)
			assert.Empty(t, w.Body.String())
		})
	}
}

type memAudit struct {
	entries []domain.AuditEntry
	err     error
	opts    domain.ListOpts
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	m.opts = opts
	return m.entries, m.err
}

func TestListAudit(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		audit AuditLister
		want  int
		body  string
	}{
		{"no database", nil, http.StatusServiceUnavailable, "audit log is not enabled"},
		{"entries", &memAudit{entries: []domain.AuditEntry{{ID: 1, Event: "place_bet", CreatedAt: at}}}, http.StatusOK, `"event":"place_bet"`},
		{"empty", &memAudit{}, http.StatusOK, `{"entries":[]}`},
		{"store error", &memAudit{err: errors.New("pg down")}, http.StatusInternalServerError, "failed to list audit log"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAuditHandler(tc.audit, discard())
			w := serve(t, "GET /api/audit", h.ListAudit, http.MethodGet, "/api/audit?limit=5", "")
			assert.Equal(t, tc.want, w.Code)
			assert.Contains(t, w.Body.String(), tc.body)
		})
	}
}

type memBlobs struct {
	infos     []domain.BlobInfo
	prefix    string
	exists    bool
	existsErr error
}

func (m *memBlobs) Get(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("{}\n")), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.prefix = prefix
	return m.infos, nil
}

func (m *memBlobs) Exists(context.Context, string) (bool, error) { return m.exists, m.existsErr }
