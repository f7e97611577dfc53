package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/chainbet/internal/crypto"
	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/network"
)

// Dashboard is the reconciler surface behind the session and snapshot routes.
type Dashboard interface {
	State() domain.DashboardState
	Session() domain.Session
	SetSession(ctx context.Context, s domain.Session) (domain.DashboardState, error)
	Toasts(limit int) []domain.Toast
	Balance(ctx context.Context, symbol string) (domain.Balance, error)
}

// BetRules is the client-side betting configuration shown with the networks.
type BetRules struct {
	MinStake       string `json:"min_stake"`
	DurationDays   []int  `json:"duration_days"`
	PlatformFeeBps int    `json:"platform_fee_bps"`
}

// sessionWindow is how long a signed session message stays acceptable.
const sessionWindow = 5 * time.Minute

// StateHandler serves the reconciled snapshot and the session.
type StateHandler struct {
	dash     Dashboard
	networks []network.Network
	rules    BetRules
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	used map[string]time.Time // signature -> issued
}

// NewStateHandler creates a StateHandler.
func NewStateHandler(dash Dashboard, networks []network.Network, rules BetRules, logger *slog.Logger) *StateHandler {
	return &StateHandler{
		dash:     dash,
		networks: networks,
		rules:    rules,
		logger:   logger,
		now:      time.Now,
		used:     make(map[string]time.Time),
	}
}

// GetState returns the full dashboard snapshot.
// GET /api/state
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dash.State())
}

// GetSession returns the active session.
// GET /api/session
func (h *StateHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dash.Session())
}

// sessionRequest switches wallet or network. When Signature is set it must be
// a personal_sign signature by Account of the message built by SessionMessage.
type sessionRequest struct {
	Account   string `json:"account"`
	ChainID   uint64 `json:"chain_id"`
	Connected *bool  `json:"connected"`
	Message   string `json:"message,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// SessionMessage is the text a wallet signs to prove control of account on
// chainID at issued.
func SessionMessage(account common.Address, chainID uint64, issued time.Time) string {
	return fmt.Sprintf("%s\naccount: %s\nchain: %d\nissued: %s",
		sessionMessageHeader, account.Hex(), chainID, issued.UTC().Format(time.RFC3339))
}

const sessionMessageHeader = "Sign in to ChainBet"

// GetSessionMessage returns a fresh message for the wallet to sign.
// GET /api/session/message?account=0x...&chain_id=1
func (h *StateHandler) GetSessionMessage(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if !common.IsHexAddress(account) {
		writeError(w, http.StatusBadRequest, "account must be a hex address")
		return
	}
	chainID, err := strconv.ParseUint(r.URL.Query().Get("chain_id"), 10, 64)
	if err != nil || chainID == 0 {
		writeError(w, http.StatusBadRequest, "chain_id is required")
		return
	}
	issued := h.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    SessionMessage(common.HexToAddress(account), chainID, issued),
		"expires_at": issued.Add(sessionWindow).UTC(),
	})
}

// PutSession switches the session and returns the reloaded snapshot. An
// unsupported network answers 200 with config_error set.
// PUT /api/session
func (h *StateHandler) PutSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.session(req)
	if err != nil {
		writeServiceError(w, r, h.logger, "set session", err)
		return
	}

	st, err := h.dash.SetSession(r.Context(), s)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: set session failed",
			slog.Uint64("chain_id", s.ChainID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *StateHandler) session(req sessionRequest) (domain.Session, error) {
	connected := req.Connected == nil || *req.Connected
	if !connected {
		return domain.Session{ChainID: req.ChainID}, nil
	}
	if !common.IsHexAddress(req.Account) {
		return domain.Session{}, fmt.Errorf("%w: account %q is not a hex address", domain.ErrInvalidInput, req.Account)
	}
	if req.ChainID == 0 {
		return domain.Session{}, fmt.Errorf("%w: chain_id is required", domain.ErrInvalidInput)
	}
	account := common.HexToAddress(req.Account)
	if req.Signature != "" {
		if err := h.verifySession(req, account); err != nil {
			return domain.Session{}, err
		}
	}
	return domain.Session{Account: account, ChainID: req.ChainID, Connected: true}, nil
}

// verifySession accepts a signature once, over a message naming the request's
// account and chain, issued within sessionWindow of now.
func (h *StateHandler) verifySession(req sessionRequest, account common.Address) error {
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature: %v", domain.ErrInvalidInput, err)
	}
	signer, err := crypto.RecoverMessageSigner([]byte(req.Message), sig)
	if err != nil || signer != account {
		return fmt.Errorf("%w: signature does not match account", domain.ErrUnauthorized)
	}
	issued, err := parseSessionMessage(req.Message, account, req.ChainID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	now := h.now()
	if issued.After(now.Add(time.Minute)) || now.Sub(issued) > sessionWindow {
		return fmt.Errorf("%w: session message expired", domain.ErrUnauthorized)
	}

	key := strings.ToLower(req.Signature)
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, at := range h.used {
		if now.Sub(at) > sessionWindow {
			delete(h.used, k)
		}
	}
	if _, seen := h.used[key]; seen {
		return fmt.Errorf("%w: session signature already used", domain.ErrUnauthorized)
	}
	h.used[key] = issued
	return nil
}

func parseSessionMessage(msg string, account common.Address, chainID uint64) (time.Time, error) {
	lines := strings.Split(msg, "\n")
	if len(lines) != 4 || lines[0] != sessionMessageHeader {
		return time.Time{}, fmt.Errorf("malformed session message")
	}
	fields := make(map[string]string, 3)
	for _, l := range lines[1:] {
		k, v, ok := strings.Cut(l, ": ")
		if !ok {
			return time.Time{}, fmt.Errorf("malformed session message")
		}
		fields[k] = v
	}
	if !common.IsHexAddress(fields["account"]) || common.HexToAddress(fields["account"]) != account {
		return time.Time{}, fmt.Errorf("session message names another account")
	}
	if fields["chain"] != strconv.FormatUint(chainID, 10) {
		return time.Time{}, fmt.Errorf("session message names another chain")
	}
	issued, err := time.Parse(time.RFC3339, fields["issued"])
	if err != nil {
		return time.Time{}, fmt.Errorf("session message issued time: %v", err)
	}
	return issued, nil
}

type networkInfo struct {
	network.Network
	Deployed bool `json:"deployed"`
	Active   bool `json:"active"`
}

// ListNetworks returns the configured networks and betting rules.
// GET /api/networks
func (h *StateHandler) ListNetworks(w http.ResponseWriter, r *http.Request) {
	active := h.dash.Session().ChainID
	out := make([]networkInfo, 0, len(h.networks))
	for _, n := range h.networks {
		out = append(out, networkInfo{Network: n, Deployed: n.Deployed(), Active: n.ChainID == active})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"networks": out,
		"rules":    h.rules,
	})
}

// ListToasts returns recent notifications, newest first.
// GET /api/toasts?limit=20
func (h *StateHandler) ListToasts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]any{"toasts": h.dash.Toasts(limit)})
}

// ListBets returns the session account's bets from the snapshot.
// GET /api/bets?status=won
func (h *StateHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets := h.dash.State().UserBets
	if status := strings.ToLower(r.URL.Query().Get("status")); status != "" {
		filtered := bets[:0:0]
		for _, b := range bets {
			if string(b.Status) == status {
				filtered = append(filtered, b)
			}
		}
		bets = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

// GetBalance returns the session account's balance of a token.
// GET /api/balance/{symbol}
func (h *StateHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.dash.Balance(r.Context(), r.PathValue("symbol"))
	if err != nil {
		writeServiceError(w, r, h.logger, "read balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}
