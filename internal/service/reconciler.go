package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/metrics"
	"github.com/alanyoungcy/chainbet/internal/network"
	"github.com/alanyoungcy/chainbet/internal/units"
)

const (
	readConcurrency = 8

	// maxMarketCount bounds the markets read per refresh. A counter above it
	// is treated as a bad read.
	maxMarketCount = 100_000
)

// ReconcilerConfig holds the betting rules and timeouts the reconciler enforces.
type ReconcilerConfig struct {
	MinStake        string
	DurationDays    []int
	MaxQuestionLen  int
	ConfirmTimeout  time.Duration
	CallTimeout     time.Duration
	RefreshInterval time.Duration
	ToastLimit      int
	TxLimit         int
}

// SettledHook is called once per write action when it reaches a terminal state.
type SettledHook func(ctx context.Context, rec domain.TxRecord)

// Reconciler aggregates on-chain market and bet state for one session, runs
// write actions through the tx lifecycle and re-reads the affected
// collections once an action settles.
type Reconciler struct {
	provider domain.ContractProvider
	registry *network.Registry
	cfg      ReconcilerConfig
	minStake decimal.Decimal

	tracker *TxTracker
	toasts  *ToastFeed

	bus         domain.SignalBus
	marketCache domain.MarketCache
	stateCache  domain.StateCache
	marketStore domain.MarketStore
	audit       domain.AuditStore
	metrics     *metrics.Metrics
	onSettled   SettledHook
	now         func() time.Time
	logger      *slog.Logger

	// refreshMu serializes refreshes so results land in call order.
	refreshMu sync.Mutex

	mu          sync.RWMutex
	session     domain.Session
	net         network.Network
	contract    domain.MarketContract
	configErr   error
	gen         uint64
	markets     []domain.Market
	bets        map[uint64]domain.Bet
	tokens      map[common.Address]tokenMeta
	loading     bool
	lastErr     error
	updatedAt   time.Time
	lastRefresh time.Time
	restored    *domain.DashboardState

	watchers sync.WaitGroup
}

// NewReconciler creates a reconciler with no active session.
func NewReconciler(provider domain.ContractProvider, registry *network.Registry, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	minStake, err := decimal.NewFromString(cfg.MinStake)
	if err != nil || !minStake.IsPositive() {
		minStake = decimal.NewFromInt(1)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}
	if cfg.MaxQuestionLen <= 0 {
		cfg.MaxQuestionLen = 280
	}
	if len(cfg.DurationDays) == 0 {
		cfg.DurationDays = []int{1, 7, 30, 90, 365}
	}
	return &Reconciler{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		minStake: minStake,
		tracker:  NewTxTracker(cfg.TxLimit, logger),
		toasts:   NewToastFeed(cfg.ToastLimit, logger),
		bets:     make(map[uint64]domain.Bet),
		tokens:   make(map[common.Address]tokenMeta),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// WithBus publishes snapshots, toasts and tx transitions.
func (r *Reconciler) WithBus(bus domain.SignalBus) *Reconciler {
	r.bus = bus
	r.tracker.WithBus(bus)
	r.toasts.WithBus(bus)
	return r
}

// WithMarketCache keeps the last good read of each market for stale fallbacks.
func (r *Reconciler) WithMarketCache(c domain.MarketCache) *Reconciler {
	r.marketCache = c
	return r
}

// WithStateCache writes every published snapshot through to c.
func (r *Reconciler) WithStateCache(c domain.StateCache) *Reconciler {
	r.stateCache = c
	return r
}

// WithMarketStore persists every successful market read.
func (r *Reconciler) WithMarketStore(s domain.MarketStore) *Reconciler {
	r.marketStore = s
	return r
}

// WithTxStore persists tx transitions.
func (r *Reconciler) WithTxStore(s domain.TxStore) *Reconciler {
	r.tracker.WithStore(s)
	return r
}

// WithAudit logs every settled write action.
func (r *Reconciler) WithAudit(a domain.AuditStore) *Reconciler {
	r.audit = a
	return r
}

// WithMetrics wires the prometheus collectors.
func (r *Reconciler) WithMetrics(m *metrics.Metrics) *Reconciler {
	r.metrics = m
	r.tracker.WithMetrics(m)
	r.toasts.WithMetrics(m)
	return r
}

// WithClock overrides the time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	r.tracker.now = now
	r.toasts.now = now
	return r
}

// WithSettledHook registers a callback for terminal tx states.
func (r *Reconciler) WithSettledHook(h SettledHook) *Reconciler {
	r.onSettled = h
	return r
}

// Tracker exposes the tx lifecycle tracker.
func (r *Reconciler) Tracker() *TxTracker { return r.tracker }

// Registry exposes the network registry.
func (r *Reconciler) Registry() *network.Registry { return r.registry }

// active is the session context captured at the start of an operation.
type active struct {
	session  domain.Session
	net      network.Network
	contract domain.MarketContract
	gen      uint64
}

func (r *Reconciler) active() (active, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case !r.session.Connected:
		return active{}, domain.ErrNotConnected
	case r.configErr != nil:
		return active{}, r.configErr
	case r.contract == nil:
		return active{}, fmt.Errorf("reconciler: no contract for chain %d: %w", r.session.ChainID, domain.ErrUnsupportedNetwork)
	}
	return active{session: r.session, net: r.net, contract: r.contract, gen: r.gen}, nil
}

// SetSession switches the wallet and network context and reloads all data.
// An unsupported network is not an error: it is reported as the snapshot's
// ConfigError and every action is disabled.
func (r *Reconciler) SetSession(ctx context.Context, s domain.Session) (domain.DashboardState, error) {
	r.mu.Lock()
	if s != r.session {
		r.gen++
		if s.ChainID != r.session.ChainID || !s.Connected {
			r.markets = nil
			r.tokens = make(map[common.Address]tokenMeta)
		}
		r.bets = make(map[uint64]domain.Bet)
		r.lastErr = nil
	}
	r.session = s
	r.contract = nil
	r.configErr = nil
	r.net = network.Network{}
	r.mu.Unlock()

	if !s.Connected {
		r.logger.InfoContext(ctx, "session disconnected")
		r.publish(ctx)
		return r.State(), nil
	}

	net, err := r.registry.Resolve(s.ChainID)
	if err != nil {
		r.mu.Lock()
		r.configErr = err
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "unsupported network", slog.Uint64("chain_id", s.ChainID))
		r.toasts.Error(ctx, domain.ErrUnsupportedNetwork.Error(), "", "")
		r.publish(ctx)
		return r.State(), nil
	}

	contract, err := r.provider.ForChain(ctx, s.ChainID)
	if err != nil {
		if domain.IsConfigError(err) {
			r.mu.Lock()
			r.configErr = err
			r.mu.Unlock()
			r.publish(ctx)
			return r.State(), nil
		}
		r.mu.Lock()
		r.net = net
		r.lastErr = err
		r.mu.Unlock()
		r.toasts.Error(ctx, "Failed to connect to "+net.Name, "", "")
		r.publish(ctx)
		return r.State(), fmt.Errorf("reconciler: bind chain %d: %w", s.ChainID, err)
	}

	r.mu.Lock()
	r.net = net
	r.contract = contract
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "session active",
		slog.String("account", s.Account.Hex()),
		slog.String("network", net.Name),
		slog.String("contract", contract.Address().Hex()),
	)

	// Read failures are already surfaced in the snapshot.
	_ = r.Refresh(ctx)
	return r.State(), nil
}

// Session returns the current session.
func (r *Reconciler) Session() domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// Refresh re-reads markets and then the session account's bets.
func (r *Reconciler) Refresh(ctx context.Context) error {
	if err := r.RefreshMarkets(ctx); err != nil {
		return err
	}
	return r.RefreshUserBets(ctx)
}

// RefreshMarkets re-reads every market. Any single failed read fails the
// whole refresh and the previous snapshot is kept.
func (r *Reconciler) RefreshMarkets(ctx context.Context) error {
	a, err := r.active()
	if err != nil {
		return err
	}
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	return r.refreshMarketsLocked(ctx, a)
}

func (r *Reconciler) refreshMarketsLocked(ctx context.Context, a active) error {
	r.setLoading(true)
	defer r.setLoading(false)

	start := time.Now()
	markets, tokens, err := r.readMarkets(ctx, a)
	r.metrics.ObserveRefresh("markets", time.Since(start))
	if err != nil {
		r.readFailed(ctx, a, "markets", "Failed to fetch markets", err)
		return err
	}

	r.mu.Lock()
	if r.gen != a.gen {
		r.mu.Unlock()
		return nil
	}
	r.markets = markets
	r.restored = nil
	for addr, meta := range tokens {
		r.tokens[addr] = meta
	}
	r.lastErr = nil
	r.updatedAt = r.now()
	r.lastRefresh = r.updatedAt
	r.mu.Unlock()

	r.metrics.SetMarkets(len(markets))
	r.persistMarkets(ctx, a.session.ChainID, markets)
	r.publish(ctx)
	return nil
}

// marketCounter reads the contract's market count and rejects implausible values.
func (r *Reconciler) marketCounter(ctx context.Context, a active) (uint64, error) {
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	count, err := a.contract.MarketCounter(cctx)
	if err != nil {
		return 0, fmt.Errorf("reconciler: market counter: %w", err)
	}
	if count > maxMarketCount {
		return 0, fmt.Errorf("reconciler: market counter %d exceeds limit %d", count, maxMarketCount)
	}
	return count, nil
}

func (r *Reconciler) readMarkets(ctx context.Context, a active) ([]domain.Market, map[common.Address]tokenMeta, error) {
	count, err := r.marketCounter(ctx, a)
	if err != nil {
		return nil, nil, err
	}

	markets := make([]domain.Market, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i := uint64(0); i < count; i++ {
		g.Go(func() error {
			cctx, cancel := r.callCtx(gctx)
			defer cancel()
			m, err := a.contract.MarketInfo(cctx, i)
			if err != nil {
				return fmt.Errorf("reconciler: market %d: %w", i, err)
			}
			m.ID = i
			markets[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	tokens := make(map[common.Address]tokenMeta)
	for _, m := range markets {
		if _, ok := tokens[m.Token]; ok {
			continue
		}
		meta, err := r.tokenMeta(ctx, a, m.Token)
		if err != nil {
			return nil, nil, err
		}
		tokens[m.Token] = meta
	}
	return markets, tokens, nil
}

// tokenMeta resolves symbol and decimals from the registry, then from
// earlier reads, then from the token contract itself.
func (r *Reconciler) tokenMeta(ctx context.Context, a active, addr common.Address) (tokenMeta, error) {
	if t, ok := a.net.TokenByAddress(addr); ok {
		return tokenMeta{Symbol: t.Symbol, Decimals: t.Decimals}, nil
	}
	r.mu.RLock()
	meta, ok := r.tokens[addr]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	dec, err := a.contract.TokenDecimals(cctx, addr)
	if err != nil {
		return tokenMeta{}, fmt.Errorf("reconciler: token %s decimals: %w", addr.Hex(), err)
	}
	return tokenMeta{Symbol: shortAddr(addr), Decimals: dec}, nil
}

// RefreshUserBets re-reads the session account's bet on every market.
func (r *Reconciler) RefreshUserBets(ctx context.Context) error {
	a, err := r.active()
	if err != nil {
		return err
	}
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if a.session.Account == (common.Address{}) {
		return nil
	}

	start := time.Now()
	bets, err := r.readBets(ctx, a)
	r.metrics.ObserveRefresh("bets", time.Since(start))
	if err != nil {
		r.readFailed(ctx, a, "bets", "Failed to fetch your bets", err)
		return err
	}

	r.mu.Lock()
	if r.gen != a.gen {
		r.mu.Unlock()
		return nil
	}
	r.bets = bets
	r.lastErr = nil
	r.updatedAt = r.now()
	r.mu.Unlock()

	r.publish(ctx)
	return nil
}

func (r *Reconciler) readBets(ctx context.Context, a active) (map[uint64]domain.Bet, error) {
	count, err := r.marketCounter(ctx, a)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	known := uint64(len(r.markets))
	r.mu.RUnlock()
	if count > known {
		// Bets are joined with markets, so the market list has to cover them.
		if err := r.refreshMarketsLocked(ctx, a); err != nil {
			return nil, err
		}
	}

	found := make([]domain.Bet, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i := uint64(0); i < count; i++ {
		g.Go(func() error {
			cctx, cancel := r.callCtx(gctx)
			defer cancel()
			b, err := a.contract.UserBet(cctx, i, a.session.Account)
			if err != nil {
				return fmt.Errorf("reconciler: bet on market %d: %w", i, err)
			}
			b.MarketID = i
			found[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bets := make(map[uint64]domain.Bet)
	for _, b := range found {
		if b.HasStake() {
			bets[b.MarketID] = b
		}
	}
	return bets, nil
}

func (r *Reconciler) readFailed(ctx context.Context, a active, collection, msg string, err error) {
	r.metrics.ReadError(collection)
	r.logger.WarnContext(ctx, "refresh failed",
		slog.String("collection", collection),
		slog.Uint64("chain_id", a.session.ChainID),
		slog.String("error", err.Error()),
	)
	r.mu.Lock()
	if r.gen == a.gen {
		r.lastErr = err
	}
	r.mu.Unlock()
	r.toasts.Error(ctx, msg, "", "")
	r.publish(ctx)
}

// HandleBlock refreshes on a new head unless a refresh ran within the
// configured refresh interval.
func (r *Reconciler) HandleBlock(ctx context.Context, number uint64) {
	r.mu.RLock()
	last := r.lastRefresh
	r.mu.RUnlock()
	if r.cfg.RefreshInterval > 0 && r.now().Sub(last) < r.cfg.RefreshInterval {
		return
	}
	if err := r.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrNotConnected) && !domain.IsConfigError(err) {
		r.logger.DebugContext(ctx, "block refresh failed",
			slog.Uint64("block", number),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reconciler) setLoading(v bool) {
	r.mu.Lock()
	r.loading = v
	r.mu.Unlock()
}

func (r *Reconciler) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.CallTimeout)
}

func (r *Reconciler) persistMarkets(ctx context.Context, chainID uint64, markets []domain.Market) {
	if r.marketStore != nil && len(markets) > 0 {
		if err := r.marketStore.UpsertBatch(ctx, chainID, markets); err != nil {
			r.logger.WarnContext(ctx, "market persist failed", slog.String("error", err.Error()))
		}
	}
	if r.marketCache != nil {
		for _, m := range markets {
			if err := r.marketCache.Set(ctx, chainID, m); err != nil {
				r.logger.WarnContext(ctx, "market cache set failed",
					slog.Uint64("market_id", m.ID),
					slog.String("error", err.Error()),
				)
				break
			}
		}
	}
}

// publish fans the current snapshot out to the state cache and the bus.
func (r *Reconciler) publish(ctx context.Context) {
	if r.bus == nil && r.stateCache == nil {
		return
	}
	st := r.State()
	if r.stateCache != nil {
		if err := r.stateCache.SetState(ctx, st); err != nil {
			r.logger.WarnContext(ctx, "state cache write failed", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		payload, err := json.Marshal(st)
		if err != nil {
			return
		}
		if err := r.bus.Publish(ctx, domain.ChannelMarkets, payload); err != nil {
			r.logger.WarnContext(ctx, "state publish failed", slog.String("error", err.Error()))
		}
	}
}

// State returns the reconciled snapshot.
func (r *Reconciler) State() domain.DashboardState {
	busy := r.tracker.BusyKeys()

	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	st := domain.DashboardState{
		Session:   r.session,
		Network:   r.net.Name,
		Markets:   make([]domain.MarketView, 0, len(r.markets)),
		UserBets:  make([]domain.BetView, 0, len(r.bets)),
		Busy:      busy,
		CanWrite:  r.canWriteLocked() == nil,
		Loading:   r.loading,
		UpdatedAt: r.updatedAt,
	}
	if r.configErr != nil {
		st.ConfigError = r.configErr.Error()
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	for _, m := range r.markets {
		tok := r.tokens[m.Token]
		st.Markets = append(st.Markets, marketView(m, r.net, tok, now))
		if b, ok := r.bets[m.ID]; ok {
			st.UserBets = append(st.UserBets, betView(b, m, tok))
		}
	}
	if len(r.markets) == 0 && r.restored != nil && r.session.Connected && r.restored.Session.ChainID == r.session.ChainID {
		st.Stale = true
		for _, m := range r.restored.Markets {
			m.Stale = true
			st.Markets = append(st.Markets, m)
		}
		if r.restored.Session.Account == r.session.Account {
			st.UserBets = append(st.UserBets, r.restored.UserBets...)
		}
	}
	return st
}

// Restore seeds the snapshot from the state cache. The restored markets are
// served, marked stale, until the first successful market refresh of the
// same chain.
func (r *Reconciler) Restore(ctx context.Context) error {
	if r.stateCache == nil {
		return nil
	}
	st, err := r.stateCache.GetState(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reconciler: restore state: %w", err)
	}
	r.mu.Lock()
	if len(r.markets) == 0 {
		r.restored = &st
	}
	r.mu.Unlock()
	r.logger.InfoContext(ctx, "snapshot restored",
		slog.Uint64("chain_id", st.Session.ChainID),
		slog.Int("markets", len(st.Markets)),
	)
	return nil
}

// canWriteLocked reports why writes are disabled, or nil when they are not.
func (r *Reconciler) canWriteLocked() error {
	switch {
	case !r.session.Connected:
		return domain.ErrNotConnected
	case r.configErr != nil:
		return r.configErr
	case r.contract == nil:
		return domain.ErrUnsupportedNetwork
	case r.contract.Signer() == (common.Address{}) || r.contract.Signer() != r.session.Account:
		return domain.ErrReadOnly
	}
	return nil
}

func (r *Reconciler) snapshotMarket(id uint64) (domain.Market, tokenMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id >= uint64(len(r.markets)) {
		return domain.Market{}, tokenMeta{}, false
	}
	m := r.markets[id]
	return m, r.tokens[m.Token], true
}

// Market reads one market fresh. When the read fails the last cached copy is
// returned marked stale.
func (r *Reconciler) Market(ctx context.Context, id uint64) (domain.MarketView, error) {
	a, err := r.active()
	if err != nil {
		return domain.MarketView{}, err
	}
	cctx, cancel := r.callCtx(ctx)
	m, err := a.contract.MarketInfo(cctx, id)
	cancel()
	if err == nil {
		m.ID = id
		tok, terr := r.tokenMeta(ctx, a, m.Token)
		if terr != nil {
			return domain.MarketView{}, terr
		}
		return marketView(m, a.net, tok, r.now()), nil
	}

	r.metrics.ReadError("market")
	readErr := fmt.Errorf("reconciler: market %d: %w", id, err)
	if r.marketCache != nil {
		if cached, cerr := r.marketCache.Get(ctx, a.session.ChainID, id); cerr == nil {
			r.mu.RLock()
			tok := r.tokens[cached.Token]
			r.mu.RUnlock()
			v := marketView(cached, a.net, tok, r.now())
			v.Stale = true
			return v, nil
		}
	}
	if cached, tok, ok := r.snapshotMarket(id); ok {
		v := marketView(cached, a.net, tok, r.now())
		v.Stale = true
		return v, nil
	}
	if r.marketStore != nil {
		if stored, serr := r.marketStore.GetByID(ctx, a.session.ChainID, id); serr == nil {
			v := marketView(stored, a.net, r.knownToken(a.net, stored.Token), r.now())
			v.Stale = true
			return v, nil
		}
	}
	return domain.MarketView{}, readErr
}

// MarketHistory pages through the stored snapshots of the session chain's
// markets and returns them with the stored total.
func (r *Reconciler) MarketHistory(ctx context.Context, opts domain.ListOpts) ([]domain.MarketView, int64, error) {
	if r.marketStore == nil {
		return nil, 0, fmt.Errorf("reconciler: market history: %w", domain.ErrDisabled)
	}
	r.mu.RLock()
	chainID, net := r.session.ChainID, r.net
	r.mu.RUnlock()

	markets, err := r.marketStore.List(ctx, chainID, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("reconciler: market history: %w", err)
	}
	total, err := r.marketStore.Count(ctx, chainID)
	if err != nil {
		return nil, 0, fmt.Errorf("reconciler: market history: %w", err)
	}
	now := r.now()
	views := make([]domain.MarketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, marketView(m, net, r.knownToken(net, m.Token), now))
	}
	return views, total, nil
}

// knownToken returns token metadata without any chain read.
func (r *Reconciler) knownToken(net network.Network, addr common.Address) tokenMeta {
	if t, ok := net.TokenByAddress(addr); ok {
		return tokenMeta{Symbol: t.Symbol, Decimals: t.Decimals}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if meta, ok := r.tokens[addr]; ok {
		return meta
	}
	return tokenMeta{Symbol: shortAddr(addr), Decimals: 18}
}

// UserBet reads the session account's bet on one market.
func (r *Reconciler) UserBet(ctx context.Context, id uint64) (domain.BetView, error) {
	a, err := r.active()
	if err != nil {
		return domain.BetView{}, err
	}
	if a.session.Account == (common.Address{}) {
		return domain.BetView{}, domain.ErrNotConnected
	}
	m, b, err := r.readMarketAndBet(ctx, a, id)
	if err != nil {
		return domain.BetView{}, err
	}
	if !b.HasStake() {
		return domain.BetView{}, fmt.Errorf("reconciler: bet on market %d: %w", id, domain.ErrNotFound)
	}
	tok, err := r.tokenMeta(ctx, a, m.Token)
	if err != nil {
		return domain.BetView{}, err
	}
	return betView(b, m, tok), nil
}

func (r *Reconciler) readMarketAndBet(ctx context.Context, a active, id uint64) (domain.Market, domain.Bet, error) {
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	m, err := a.contract.MarketInfo(cctx, id)
	if err != nil {
		return domain.Market{}, domain.Bet{}, fmt.Errorf("reconciler: market %d: %w", id, err)
	}
	m.ID = id
	b, err := a.contract.UserBet(cctx, id, a.session.Account)
	if err != nil {
		return domain.Market{}, domain.Bet{}, fmt.Errorf("reconciler: bet on market %d: %w", id, err)
	}
	b.MarketID = id
	return m, b, nil
}

// MarketCount reads the number of markets created so far.
func (r *Reconciler) MarketCount(ctx context.Context) (uint64, error) {
	a, err := r.active()
	if err != nil {
		return 0, err
	}
	return r.marketCounter(ctx, a)
}

// Balance reads the session account's balance of a configured token.
func (r *Reconciler) Balance(ctx context.Context, symbol string) (domain.Balance, error) {
	a, err := r.active()
	if err != nil {
		return domain.Balance{}, err
	}
	tok, err := a.net.Token(symbol)
	if err != nil {
		return domain.Balance{}, err
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	raw, err := a.contract.TokenBalance(cctx, tok.Address, a.session.Account)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("reconciler: %s balance: %w", tok.Symbol, err)
	}
	return domain.Balance{
		Account: a.session.Account.Hex(),
		Symbol:  tok.Symbol,
		Token:   tok.Address.Hex(),
		Raw:     raw.String(),
		Amount:  units.FormatFixed(raw, tok.Decimals, 2),
	}, nil
}

// Quote previews odds and payout for a bet without placing it.
func (r *Reconciler) Quote(ctx context.Context, id uint64, prediction bool, amount string) (domain.Quote, error) {
	amt, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil || amt.IsNegative() {
		return domain.Quote{}, fmt.Errorf("%w: amount %q", domain.ErrInvalidInput, amount)
	}

	m, tok, ok := r.snapshotMarket(id)
	if !ok {
		a, err := r.active()
		if err != nil {
			return domain.Quote{}, err
		}
		cctx, cancel := r.callCtx(ctx)
		m, err = a.contract.MarketInfo(cctx, id)
		cancel()
		if err != nil {
			return domain.Quote{}, fmt.Errorf("reconciler: market %d: %w", id, err)
		}
		if tok, err = r.tokenMeta(ctx, a, m.Token); err != nil {
			return domain.Quote{}, err
		}
	}

	odds := Odds(m.TotalYes, m.TotalNo, prediction)
	return domain.Quote{
		MarketID:     id,
		Prediction:   predictionLabel(prediction),
		Amount:       amt.String(),
		Odds:         odds.StringFixed(2),
		PotentialWin: PotentialWin(amt, odds).StringFixed(2),
		TokenSymbol:  tok.Symbol,
	}, nil
}

// Controls reports which actions a client may offer on a market right now.
func (r *Reconciler) Controls(id uint64) domain.Controls {
	c := domain.Controls{MarketID: id}
	for _, action := range []domain.TxAction{
		domain.TxActionPlaceBet, domain.TxActionResolveMarket,
		domain.TxActionClaimReward, domain.TxActionApprove,
	} {
		if r.tracker.Busy(domain.BusyKey(action, &id)) {
			c.Busy = true
			break
		}
	}

	r.mu.RLock()
	writeErr := r.canWriteLocked()
	var (
		m     domain.Market
		found bool
	)
	if id < uint64(len(r.markets)) {
		m, found = r.markets[id], true
	}
	bet, hasBet := r.bets[id]
	r.mu.RUnlock()

	switch {
	case writeErr != nil:
		c.Reason = writeErr.Error()
		return c
	case !found:
		c.Reason = "unknown market"
		return c
	case c.Busy:
		c.Reason = domain.ErrActionBusy.Error()
		return c
	}

	now := r.now()
	c.CanBet = !m.Resolved && !m.Expired(now)
	c.CanResolve = !m.Resolved && m.Expired(now)
	c.CanClaim = hasBet && bet.HasStake() && bet.Won(m) && !bet.Claimed
	switch {
	case m.Resolved && !c.CanClaim:
		c.Reason = domain.ErrAlreadyResolved.Error()
	case m.Expired(now) && !m.Resolved:
		c.Reason = domain.ErrMarketClosed.Error()
	}
	return c
}

// Toasts returns recent notifications, newest first.
func (r *Reconciler) Toasts(limit int) []domain.Toast {
	return r.toasts.List(limit)
}

// Transactions returns the tracked write actions, newest first.
func (r *Reconciler) Transactions() []domain.TxRecord {
	return r.tracker.List()
}

// Transaction returns one tracked write action.
func (r *Reconciler) Transaction(ctx context.Context, id string) (domain.TxRecord, error) {
	return r.tracker.Get(ctx, id)
}

// Wait blocks until every detached tx watcher has returned.
func (r *Reconciler) Wait() {
	r.watchers.Wait()
}

// DurationOptions returns the allowed market durations in days.
func (r *Reconciler) DurationOptions() []int {
	out := append([]int(nil), r.cfg.DurationDays...)
	sort.Ints(out)
	return out
}

func shortAddr(a common.Address) string {
	h := a.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}
