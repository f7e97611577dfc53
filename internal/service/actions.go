package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/units"
)

// CreateMarketInput is a market creation request in display units.
type CreateMarketInput struct {
	Question     string `json:"question"`
	TargetPrice  string `json:"target_price"`
	DurationDays int    `json:"duration_days"`
	Oracle       string `json:"oracle"`
	Token        string `json:"token"`
}

// PlaceBetInput is a bet request in display units.
type PlaceBetInput struct {
	MarketID   uint64 `json:"market_id"`
	Prediction bool   `json:"prediction"`
	Amount     string `json:"amount"`
}

// actionSpec describes the user-facing side effects of one write action.
type actionSpec struct {
	action      domain.TxAction
	marketID    *uint64
	okMsg       string
	failMsg     string
	refetchMkts bool
	refetchBets bool
}

var (
	createSpec  = actionSpec{action: domain.TxActionCreateMarket, okMsg: "Market created successfully!", failMsg: "Failed to create market", refetchMkts: true}
	betSpec     = actionSpec{action: domain.TxActionPlaceBet, okMsg: "Bet placed successfully!", failMsg: "Failed to place bet", refetchMkts: true, refetchBets: true}
	resolveSpec = actionSpec{action: domain.TxActionResolveMarket, okMsg: "Market resolved successfully!", failMsg: "Failed to resolve market", refetchMkts: true}
	claimSpec   = actionSpec{action: domain.TxActionClaimReward, okMsg: "Reward claimed successfully!", failMsg: "Failed to claim reward", refetchBets: true}
	approveSpec = actionSpec{action: domain.TxActionApprove, okMsg: "Token spend approved", failMsg: "Failed to approve token"}
)

func (s actionSpec) on(id uint64) actionSpec {
	s.marketID = &id
	return s
}

// writable returns the active session when the signing wallet is the
// session account.
func (r *Reconciler) writable() (active, error) {
	a, err := r.active()
	if err != nil {
		return active{}, err
	}
	r.mu.RLock()
	err = r.canWriteLocked()
	r.mu.RUnlock()
	if err != nil {
		return active{}, err
	}
	return a, nil
}

// CreateMarket validates the input, resolves the oracle and token for the
// active network and submits createMarket.
func (r *Reconciler) CreateMarket(ctx context.Context, in CreateMarketInput) (domain.TxRecord, error) {
	a, err := r.active()
	if err != nil {
		return domain.TxRecord{}, err
	}

	question := strings.TrimSpace(in.Question)
	switch {
	case question == "":
		return domain.TxRecord{}, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	case len(question) > r.cfg.MaxQuestionLen:
		return domain.TxRecord{}, fmt.Errorf("%w: question longer than %d characters", domain.ErrInvalidInput, r.cfg.MaxQuestionLen)
	}
	target, err := units.ParseUnits(in.TargetPrice, domain.TargetPriceDecimals)
	if err != nil || target.Sign() <= 0 {
		return domain.TxRecord{}, fmt.Errorf("%w: target price %q", domain.ErrInvalidInput, in.TargetPrice)
	}
	if !slices.Contains(r.cfg.DurationDays, in.DurationDays) {
		return domain.TxRecord{}, fmt.Errorf("%w: duration must be one of %v days", domain.ErrInvalidInput, r.DurationOptions())
	}
	oracle, err := a.net.PriceFeed(in.Oracle)
	if err != nil {
		r.toasts.Error(ctx, domain.ErrUnknownOracle.Error(), "", "")
		return domain.TxRecord{}, err
	}
	token, err := a.net.Token(in.Token)
	if err != nil {
		r.toasts.Error(ctx, domain.ErrUnknownToken.Error(), "", "")
		return domain.TxRecord{}, err
	}
	if a, err = r.writable(); err != nil {
		return domain.TxRecord{}, err
	}

	params := domain.CreateMarketParams{
		Question:    question,
		TargetPrice: target,
		Duration:    time.Duration(in.DurationDays) * 24 * time.Hour,
		PriceOracle: oracle,
		Token:       token.Address,
	}
	return r.run(ctx, a, createSpec, func(ctx context.Context) (common.Hash, error) {
		return a.contract.CreateMarket(ctx, params)
	})
}

// PlaceBet stakes amount on one side of a market. When the token allowance is
// short an approve tx is sent and confirmed first.
func (r *Reconciler) PlaceBet(ctx context.Context, in PlaceBetInput) (domain.TxRecord, error) {
	a, err := r.active()
	if err != nil {
		return domain.TxRecord{}, err
	}

	amt, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil || !amt.IsPositive() {
		return domain.TxRecord{}, fmt.Errorf("%w: amount must be a positive number", domain.ErrInvalidInput)
	}
	m, tok, ok := r.snapshotMarket(in.MarketID)
	if amt.LessThan(r.minStake) {
		symbol := tok.Symbol
		if symbol == "" {
			symbol = "tokens"
		}
		return domain.TxRecord{}, fmt.Errorf("%w: Minimum bet is %s %s", domain.ErrBelowMinimum, r.minStake, symbol)
	}
	if !ok {
		cctx, cancel := r.callCtx(ctx)
		m, err = a.contract.MarketInfo(cctx, in.MarketID)
		cancel()
		if err != nil {
			return domain.TxRecord{}, fmt.Errorf("reconciler: market %d: %w", in.MarketID, err)
		}
		if tok, err = r.tokenMeta(ctx, a, m.Token); err != nil {
			return domain.TxRecord{}, err
		}
	}
	if m.Resolved || m.Expired(r.now()) {
		return domain.TxRecord{}, fmt.Errorf("%w: market %d", domain.ErrMarketClosed, in.MarketID)
	}
	raw, err := units.ParseUnits(in.Amount, tok.Decimals)
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if a, err = r.writable(); err != nil {
		return domain.TxRecord{}, err
	}

	spec := betSpec.on(in.MarketID)
	rec, err := r.tracker.Begin(ctx, a.session.ChainID, spec.action, spec.marketID)
	if err != nil {
		return domain.TxRecord{}, err
	}

	cctx, cancel := r.callCtx(ctx)
	allowance, err := a.contract.TokenAllowance(cctx, m.Token, a.session.Account, a.contract.Address())
	cancel()
	if err != nil {
		return r.submitFailed(ctx, spec, rec, fmt.Errorf("reconciler: allowance: %w", err))
	}

	submit := func(ctx context.Context) (common.Hash, error) {
		return a.contract.PlaceBet(ctx, in.MarketID, in.Prediction, raw)
	}
	if allowance.Cmp(raw) >= 0 {
		return r.submit(ctx, a, spec, rec, submit)
	}

	approveRec, err := r.approve(ctx, a, in.MarketID, m.Token, raw)
	if err != nil {
		return r.submitFailed(ctx, spec, rec, err)
	}

	r.detach(ctx, func(wctx context.Context) {
		if _, ok := r.await(wctx, a, approveSpec.on(in.MarketID), approveRec); !ok {
			sctx, cancel := settleCtx(wctx)
			defer cancel()
			failed, _ := r.tracker.Failed(sctx, rec.ID, fmt.Errorf("approve %s did not confirm", approveRec.Hash))
			r.toasts.Error(sctx, spec.failMsg, "", "")
			r.settled(sctx, failed)
			return
		}
		hash, err := submit(wctx)
		if err != nil {
			sctx, cancel := settleCtx(wctx)
			defer cancel()
			_, _ = r.submitFailed(sctx, spec, rec, err)
			return
		}
		sub, err := r.tracker.Submitted(wctx, rec.ID, hash.Hex(), a.net.TxURL(hash.Hex()))
		if err != nil {
			return
		}
		r.await(wctx, a, spec, sub)
	})
	return rec, nil
}

// approve sends an ERC20 approve for exactly amount and tracks it as its own record.
func (r *Reconciler) approve(ctx context.Context, a active, marketID uint64, token common.Address, amount *big.Int) (domain.TxRecord, error) {
	spec := approveSpec.on(marketID)
	rec, err := r.tracker.Begin(ctx, a.session.ChainID, spec.action, spec.marketID)
	if err != nil {
		return domain.TxRecord{}, err
	}
	hash, err := a.contract.ApproveToken(ctx, token, amount)
	if err != nil {
		failed, _ := r.tracker.Failed(ctx, rec.ID, err)
		r.toasts.Error(ctx, spec.failMsg, "", "")
		r.settled(ctx, failed)
		return failed, fmt.Errorf("reconciler: approve: %w", err)
	}
	r.toasts.Info(ctx, "Approving token spend before placing bet")
	return r.tracker.Submitted(ctx, rec.ID, hash.Hex(), a.net.TxURL(hash.Hex()))
}

// ResolveMarket settles an expired market against its oracle.
func (r *Reconciler) ResolveMarket(ctx context.Context, id uint64) (domain.TxRecord, error) {
	a, err := r.active()
	if err != nil {
		return domain.TxRecord{}, err
	}
	cctx, cancel := r.callCtx(ctx)
	m, err := a.contract.MarketInfo(cctx, id)
	cancel()
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("reconciler: market %d: %w", id, err)
	}
	switch {
	case m.Resolved:
		return domain.TxRecord{}, fmt.Errorf("%w: market %d", domain.ErrAlreadyResolved, id)
	case !m.Expired(r.now()):
		return domain.TxRecord{}, fmt.Errorf("%w: market %d closes %s", domain.ErrNotExpired, id, timeLeft(m.Deadline, r.now()))
	}
	if a, err = r.writable(); err != nil {
		return domain.TxRecord{}, err
	}
	return r.run(ctx, a, resolveSpec.on(id), func(ctx context.Context) (common.Hash, error) {
		return a.contract.ResolveMarket(ctx, id)
	})
}

// ClaimReward claims the session account's winnings on a resolved market.
func (r *Reconciler) ClaimReward(ctx context.Context, id uint64) (domain.TxRecord, error) {
	a, err := r.active()
	if err != nil {
		return domain.TxRecord{}, err
	}
	m, b, err := r.readMarketAndBet(ctx, a, id)
	if err != nil {
		return domain.TxRecord{}, err
	}
	switch {
	case !m.Resolved:
		return domain.TxRecord{}, fmt.Errorf("%w: market %d is not resolved", domain.ErrNotClaimable, id)
	case !b.HasStake():
		return domain.TxRecord{}, fmt.Errorf("%w: no bet on market %d", domain.ErrNotClaimable, id)
	case b.Claimed:
		return domain.TxRecord{}, fmt.Errorf("%w: reward on market %d already claimed", domain.ErrNotClaimable, id)
	case !b.Won(m):
		return domain.TxRecord{}, fmt.Errorf("%w: bet on market %d lost", domain.ErrNotClaimable, id)
	}
	if a, err = r.writable(); err != nil {
		return domain.TxRecord{}, err
	}
	return r.run(ctx, a, claimSpec.on(id), func(ctx context.Context) (common.Hash, error) {
		return a.contract.ClaimReward(ctx, id)
	})
}

// run opens a record, submits and hands the tx to a detached watcher.
func (r *Reconciler) run(ctx context.Context, a active, spec actionSpec, send func(context.Context) (common.Hash, error)) (domain.TxRecord, error) {
	rec, err := r.tracker.Begin(ctx, a.session.ChainID, spec.action, spec.marketID)
	if err != nil {
		return domain.TxRecord{}, err
	}
	return r.submit(ctx, a, spec, rec, send)
}

func (r *Reconciler) submit(ctx context.Context, a active, spec actionSpec, rec domain.TxRecord, send func(context.Context) (common.Hash, error)) (domain.TxRecord, error) {
	hash, err := send(ctx)
	if err != nil {
		return r.submitFailed(ctx, spec, rec, err)
	}
	rec, err = r.tracker.Submitted(ctx, rec.ID, hash.Hex(), a.net.TxURL(hash.Hex()))
	if err != nil {
		return rec, err
	}
	r.detach(ctx, func(wctx context.Context) {
		r.await(wctx, a, spec, rec)
	})
	return rec, nil
}

func (r *Reconciler) submitFailed(ctx context.Context, spec actionSpec, rec domain.TxRecord, cause error) (domain.TxRecord, error) {
	failed, _ := r.tracker.Failed(ctx, rec.ID, cause)
	r.toasts.Error(ctx, spec.failMsg, "", "")
	r.logger.WarnContext(ctx, "tx submit failed",
		slog.String("action", string(spec.action)),
		slog.String("error", cause.Error()),
	)
	r.settled(ctx, failed)
	return failed, fmt.Errorf("reconciler: %s: %w", spec.action, cause)
}

// detach runs fn outside the caller's cancellation, bounded by the confirm timeout.
func (r *Reconciler) detach(ctx context.Context, fn func(context.Context)) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ConfirmTimeout)
	r.watchers.Add(1)
	go func() {
		defer r.watchers.Done()
		defer cancel()
		fn(wctx)
	}()
}

// settleTimeout bounds the bookkeeping that follows a terminal tx state.
const settleTimeout = 30 * time.Second

// settleCtx keeps ctx's values but not its deadline or cancellation.
func settleCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// await watches a submitted tx to a terminal state and applies its side
// effects. It reports whether the tx confirmed.
func (r *Reconciler) await(ctx context.Context, a active, spec actionSpec, rec domain.TxRecord) (domain.TxRecord, bool) {
	rec, err := r.tracker.Pending(ctx, rec.ID)
	if err != nil {
		return rec, false
	}

	receipt, err := a.contract.WaitMined(ctx, common.HexToHash(rec.Hash))

	// The watch context may have expired; terminal bookkeeping gets its own.
	ctx, cancel := settleCtx(ctx)
	defer cancel()

	if err != nil {
		failed, _ := r.tracker.Failed(ctx, rec.ID, err)
		r.toasts.Error(ctx, spec.failMsg, rec.Hash, rec.ExplorerURL)
		r.logger.WarnContext(ctx, "tx failed",
			slog.String("action", string(spec.action)),
			slog.String("hash", rec.Hash),
			slog.String("error", err.Error()),
		)
		r.settled(ctx, failed)
		return failed, false
	}

	confirmed, err := r.tracker.Confirmed(ctx, rec.ID, receipt.BlockNumber)
	if err != nil {
		return rec, false
	}
	r.toasts.Success(ctx, spec.okMsg, rec.Hash, rec.ExplorerURL)

	if spec.refetchMkts && spec.marketID != nil && r.marketCache != nil {
		if err := r.marketCache.Invalidate(ctx, a.session.ChainID, *spec.marketID); err != nil {
			r.logger.WarnContext(ctx, "market cache invalidate failed",
				slog.Uint64("market_id", *spec.marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Refetch failures surface through the snapshot and their own toast.
	if spec.refetchMkts {
		_ = r.RefreshMarkets(ctx)
	}
	if spec.refetchBets {
		_ = r.RefreshUserBets(ctx)
	}
	r.settled(ctx, confirmed)
	return confirmed, true
}

func (r *Reconciler) settled(ctx context.Context, rec domain.TxRecord) {
	if rec.ID == "" {
		return
	}
	if r.audit != nil {
		detail := map[string]any{
			"tx_id":    rec.ID,
			"chain_id": rec.ChainID,
			"action":   string(rec.Action),
			"state":    string(rec.State),
			"hash":     rec.Hash,
		}
		if rec.MarketID != nil {
			detail["market_id"] = *rec.MarketID
		}
		if rec.Error != "" {
			detail["error"] = rec.Error
		}
		if err := r.audit.Log(ctx, "tx_"+string(rec.State), detail); err != nil {
			r.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if r.onSettled != nil {
		r.onSettled(ctx, rec)
	}
}
