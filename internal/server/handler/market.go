package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/service"
)

// MarketService is the reconciler surface behind the market routes.
type MarketService interface {
	State() domain.DashboardState
	Session() domain.Session
	Market(ctx context.Context, id uint64) (domain.MarketView, error)
	MarketCount(ctx context.Context) (uint64, error)
	MarketHistory(ctx context.Context, opts domain.ListOpts) ([]domain.MarketView, int64, error)
	Controls(id uint64) domain.Controls
	Quote(ctx context.Context, id uint64, prediction bool, amount string) (domain.Quote, error)
	CreateMarket(ctx context.Context, in service.CreateMarketInput) (domain.TxRecord, error)
	PlaceBet(ctx context.Context, in service.PlaceBetInput) (domain.TxRecord, error)
	ResolveMarket(ctx context.Context, id uint64) (domain.TxRecord, error)
	ClaimReward(ctx context.Context, id uint64) (domain.TxRecord, error)
}

// EventLister reads indexed contract events.
type EventLister interface {
	ListByMarket(ctx context.Context, chainID, marketID uint64, opts domain.ListOpts) ([]domain.ChainEvent, error)
}

// MarketHandler serves market reads and the four write actions.
type MarketHandler struct {
	markets MarketService
	events  EventLister
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. events may be nil when no
// database is configured.
func NewMarketHandler(markets MarketService, events EventLister, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, events: events, logger: logger}
}

type marketEntry struct {
	domain.MarketView
	Controls domain.Controls `json:"controls"`
}

type listMarketsResponse struct {
	Markets   []marketEntry `json:"markets"`
	Total     int           `json:"total"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
	Loading   bool          `json:"loading"`
	Stale     bool          `json:"stale,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	// OnChain is the contract's market counter, read per request. It runs
	// ahead of len(markets) until the next refresh lands.
	OnChain *uint64 `json:"on_chain_count,omitempty"`
}

// ListMarkets returns the snapshot's markets with their controls.
// GET /api/markets?status=open|expired|resolved&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	st := h.markets.State()

	status := strings.ToLower(r.URL.Query().Get("status"))
	var matched []domain.MarketView
	for _, m := range st.Markets {
		if matchesStatus(m, status) {
			matched = append(matched, m)
		}
	}

	entries := make([]marketEntry, 0, len(matched))
	for _, m := range page(matched, opts) {
		entries = append(entries, marketEntry{MarketView: m, Controls: h.markets.Controls(m.ID)})
	}
	resp := listMarketsResponse{
		Markets:   entries,
		Total:     len(matched),
		Limit:     opts.Limit,
		Offset:    opts.Offset,
		Loading:   st.Loading,
		Stale:     st.Stale,
		LastError: st.LastError,
	}
	if n, err := h.markets.MarketCount(r.Context()); err == nil {
		resp.OnChain = &n
	} else {
		h.logger.DebugContext(r.Context(), "handler: market counter unavailable", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, resp)
}

type marketHistoryResponse struct {
	Markets []domain.MarketView `json:"markets"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// MarketHistory pages through stored market snapshots of the session chain.
// since/until filter on the deadline.
// GET /api/markets/history?limit=50&offset=0&since=&until=
func (h *MarketHandler) MarketHistory(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	markets, total, err := h.markets.MarketHistory(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "market history", err)
		return
	}
	if markets == nil {
		markets = []domain.MarketView{}
	}
	writeJSON(w, http.StatusOK, marketHistoryResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

func matchesStatus(m domain.MarketView, status string) bool {
	switch status {
	case "open":
		return !m.Resolved && !m.Expired
	case "expired":
		return !m.Resolved && m.Expired
	case "resolved":
		return m.Resolved
	}
	return true
}

type marketDetail struct {
	marketEntry
	UserBet *domain.BetView `json:"user_bet,omitempty"`
}

// GetMarket reads one market fresh, falling back to the last good copy.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.Market(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}

	out := marketDetail{marketEntry: marketEntry{MarketView: m, Controls: h.markets.Controls(id)}}
	for _, b := range h.markets.State().UserBets {
		if b.MarketID == id {
			out.UserBet = &b
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOdds previews the payout of a bet.
// GET /api/markets/{id}/odds?prediction=yes&amount=10
func (h *MarketHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	prediction, err := parsePrediction(q.Get("prediction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount := q.Get("amount")
	if amount == "" {
		amount = "0"
	}
	quote, err := h.markets.Quote(r.Context(), id, prediction, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// ListEvents returns indexed contract events of one market.
// GET /api/markets/{id}/events
func (h *MarketHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event history is not enabled")
		return
	}
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.events.ListByMarket(r.Context(), h.markets.Session().ChainID, id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.ChainEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// CreateMarket submits createMarket.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var in service.CreateMarketInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.markets.CreateMarket(r.Context(), in)
	h.writeAction(w, r, "create market", rec, err)
}

type placeBetRequest struct {
	Prediction string `json:"prediction"`
	Amount     string `json:"amount"`
}

// PlaceBet submits placeBet, approving the token first when needed.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prediction, err := parsePrediction(req.Prediction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.markets.PlaceBet(r.Context(), service.PlaceBetInput{MarketID: id, Prediction: prediction, Amount: req.Amount})
	h.writeAction(w, r, "place bet", rec, err)
}

// ResolveMarket submits resolveMarket.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.markets.ResolveMarket(r.Context(), id)
	h.writeAction(w, r, "resolve market", rec, err)
}

// ClaimReward submits claimReward.
// POST /api/markets/{id}/claim
func (h *MarketHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.markets.ClaimReward(r.Context(), id)
	h.writeAction(w, r, "claim reward", rec, err)
}

// writeAction answers 202 with the submitted record. A submit failure still
// returns the failed record so clients can show it.
func (h *MarketHandler) writeAction(w http.ResponseWriter, r *http.Request, op string, rec domain.TxRecord, err error) {
	if err == nil {
		writeJSON(w, http.StatusAccepted, rec)
		return
	}
	if rec.ID == "" {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	h.logger.WarnContext(r.Context(), "handler: "+op+" failed",
		slog.String("tx_id", rec.ID),
		slog.String("error", err.Error()),
	)
	writeJSON(w, statusFor(err), map[string]any{
		"error": op + " failed",
		"tx":    rec,
	})
}
