package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/network"
)

const testChainID = 11155111

var (
	testContractAddr = common.HexToAddress("0x00000000000000000000000000000000000000cb")
	testAccount      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	otherAccount     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	thirdAccount     = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	testUSDC         = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	testBTCFeed      = common.HexToAddress("0x1b44F3514812d835EB1BDB0acB33d3fA3351Ee43")
	testNow          = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	errRPC           = errors.New("rpc: connection refused")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func testRegistry() *network.Registry {
	return network.NewRegistry(
		network.Network{
			Key:        "sepolia",
			Name:       "Sepolia",
			ChainID:    testChainID,
			Explorer:   "https://sepolia.etherscan.io",
			Contract:   testContractAddr,
			PriceFeeds: map[string]common.Address{"BTC": testBTCFeed},
			Tokens: map[string]network.Token{
				"USDC": {Symbol: "USDC", Name: "USD Coin", Address: testUSDC, Decimals: 6},
			},
		},
		network.Network{
			Key:     "mumbai",
			Name:    "Mumbai",
			ChainID: 80001,
		},
	)
}

// fakeContract is an in-memory prediction market. Writes take effect when
// their tx is mined so refetches observe the new state only after settlement.
type fakeContract struct {
	mu sync.Mutex

	signer    common.Address
	markets   []domain.Market
	bets      map[uint64]map[common.Address]domain.Bet
	allowance *big.Int
	now       func() time.Time

	counterErr error
	counter    uint64 // reported instead of len(markets) when non-zero
	infoErr    map[uint64]error
	betErr     error
	submitErr  error
	mineErr    error
	gate       chan struct{}

	calls   []string
	effects map[common.Hash]func()
	nonce   int64
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		signer:    testAccount,
		bets:      make(map[uint64]map[common.Address]domain.Bet),
		allowance: usdc(1_000_000),
		now:       func() time.Time { return testNow },
		infoErr:   make(map[uint64]error),
		effects:   make(map[common.Hash]func()),
	}
}

// addMarket appends a market whose totals are the sum of the given bets.
func (f *fakeContract) addMarket(question string, deadline time.Time, bets ...domain.Bet) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uint64(len(f.markets))
	m := domain.Market{
		ID:          id,
		Question:    question,
		TargetPrice: big.NewInt(50_000_00000000),
		Deadline:    deadline,
		PriceOracle: testBTCFeed,
		TotalYes:    new(big.Int),
		TotalNo:     new(big.Int),
		Token:       testUSDC,
	}
	f.bets[id] = make(map[common.Address]domain.Bet)
	for _, b := range bets {
		b.MarketID = id
		f.bets[id][b.Bettor] = b
		if b.Prediction {
			m.TotalYes.Add(m.TotalYes, b.Amount)
		} else {
			m.TotalNo.Add(m.TotalNo, b.Amount)
		}
		m.TotalBettors++
	}
	f.markets = append(f.markets, m)
	return id
}

func (f *fakeContract) resolve(id uint64, outcome bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[id].Resolved = true
	f.markets[id].Outcome = outcome
}

func (f *fakeContract) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeContract) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeContract) resetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeContract) Address() common.Address { return testContractAddr }
func (f *fakeContract) Signer() common.Address  { return f.signer }

func (f *fakeContract) MarketCounter(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MarketCounter")
	if f.counterErr != nil {
		return 0, f.counterErr
	}
	if f.counter != 0 {
		return f.counter, nil
	}
	return uint64(len(f.markets)), nil
}

func (f *fakeContract) MarketInfo(_ context.Context, id uint64) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MarketInfo")
	if err := f.infoErr[id]; err != nil {
		return domain.Market{}, err
	}
	if id >= uint64(len(f.markets)) {
		return domain.Market{}, errors.New("execution reverted: market does not exist")
	}
	m := f.markets[id]
	m.TotalYes = new(big.Int).Set(m.TotalYes)
	m.TotalNo = new(big.Int).Set(m.TotalNo)
	return m, nil
}

func (f *fakeContract) UserBet(_ context.Context, id uint64, account common.Address) (domain.Bet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UserBet")
	if f.betErr != nil {
		return domain.Bet{}, f.betErr
	}
	b, ok := f.bets[id][account]
	if !ok {
		return domain.Bet{Bettor: account, MarketID: id, Amount: new(big.Int)}, nil
	}
	return b, nil
}

func (f *fakeContract) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TokenBalance")
	return usdc(250), nil
}

func (f *fakeContract) TokenAllowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TokenAllowance")
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeContract) TokenDecimals(context.Context, common.Address) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TokenDecimals")
	return 18, nil
}

func (f *fakeContract) send(call string, effect func()) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call)
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.nonce++
	hash := common.BigToHash(big.NewInt(f.nonce))
	f.effects[hash] = effect
	return hash, nil
}

func (f *fakeContract) CreateMarket(_ context.Context, p domain.CreateMarketParams) (common.Hash, error) {
	return f.send("CreateMarket", func() {
		f.markets = append(f.markets, domain.Market{
			ID:          uint64(len(f.markets)),
			Question:    p.Question,
			TargetPrice: p.TargetPrice,
			Deadline:    f.now().Add(p.Duration),
			PriceOracle: p.PriceOracle,
			TotalYes:    new(big.Int),
			TotalNo:     new(big.Int),
			Token:       p.Token,
		})
		f.bets[uint64(len(f.markets)-1)] = make(map[common.Address]domain.Bet)
	})
}

func (f *fakeContract) PlaceBet(_ context.Context, id uint64, prediction bool, amount *big.Int) (common.Hash, error) {
	return f.send("PlaceBet", func() {
		m := &f.markets[id]
		if prediction {
			m.TotalYes.Add(m.TotalYes, amount)
		} else {
			m.TotalNo.Add(m.TotalNo, amount)
		}
		m.TotalBettors++
		f.bets[id][f.signer] = domain.Bet{Bettor: f.signer, MarketID: id, Amount: amount, Prediction: prediction}
	})
}

func (f *fakeContract) ResolveMarket(_ context.Context, id uint64) (common.Hash, error) {
	return f.send("ResolveMarket", func() {
		f.markets[id].Resolved = true
		f.markets[id].Outcome = true
	})
}

func (f *fakeContract) ClaimReward(_ context.Context, id uint64) (common.Hash, error) {
	return f.send("ClaimReward", func() {
		b := f.bets[id][f.signer]
		b.Claimed = true
		f.bets[id][f.signer] = b
	})
}

func (f *fakeContract) ApproveToken(_ context.Context, _ common.Address, amount *big.Int) (common.Hash, error) {
	return f.send("ApproveToken", func() {
		f.allowance = new(big.Int).Set(amount)
	})
}

func (f *fakeContract) WaitMined(ctx context.Context, hash common.Hash) (domain.TxReceipt, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.TxReceipt{}, domain.ErrTxTimeout
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("WaitMined")
	if f.mineErr != nil {
		return domain.TxReceipt{Hash: hash}, f.mineErr
	}
	if effect, ok := f.effects[hash]; ok {
		effect()
		delete(f.effects, hash)
	}
	return domain.TxReceipt{Hash: hash, BlockNumber: 100 + uint64(f.nonce), Success: true}, nil
}

type fakeProvider struct {
	contract *fakeContract
	err      error
}

func (p *fakeProvider) ForChain(_ context.Context, chainID uint64) (domain.MarketContract, error) {
	if p.err != nil {
		return nil, p.err
	}
	if chainID != testChainID {
		return nil, domain.ErrUnsupportedNetwork
	}
	return p.contract, nil
}

// recordingTxStore keeps every persisted transition in order.
type recordingTxStore struct {
	mu     sync.Mutex
	states map[string][]domain.TxState
	last   map[string]domain.TxRecord
}

func newRecordingTxStore() *recordingTxStore {
	return &recordingTxStore{
		states: make(map[string][]domain.TxState),
		last:   make(map[string]domain.TxRecord),
	}
}

func (s *recordingTxStore) Upsert(_ context.Context, rec domain.TxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[rec.ID] = append(s.states[rec.ID], rec.State)
	s.last[rec.ID] = rec
	return nil
}

func (s *recordingTxStore) GetByID(_ context.Context, id string) (domain.TxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.last[id]
	if !ok {
		return domain.TxRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *recordingTxStore) List(context.Context, domain.ListOpts) ([]domain.TxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TxRecord, 0, len(s.last))
	for _, rec := range s.last {
		out = append(out, rec)
	}
	return out, nil
}

func (s *recordingTxStore) history(id string) []domain.TxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TxState(nil), s.states[id]...)
}

// ctxTxStore refuses writes under a done context, as a database driver would.
type ctxTxStore struct {
	*recordingTxStore
}

func (s ctxTxStore) Upsert(ctx context.Context, rec domain.TxRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.recordingTxStore.Upsert(ctx, rec)
}

type memStateCache struct {
	mu    sync.Mutex
	state *domain.DashboardState
}

func (c *memStateCache) SetState(_ context.Context, st domain.DashboardState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = &st
	return nil
}

func (c *memStateCache) GetState(context.Context) (domain.DashboardState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return domain.DashboardState{}, domain.ErrNotFound
	}
	return *c.state, nil
}

type memMarketCache struct {
	mu          sync.Mutex
	markets     map[uint64]domain.Market
	invalidated []uint64
}

func newMemMarketCache() *memMarketCache {
	return &memMarketCache{markets: make(map[uint64]domain.Market)}
}

func (c *memMarketCache) Set(_ context.Context, _ uint64, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	return nil
}

func (c *memMarketCache) Get(_ context.Context, _, id uint64) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memMarketCache) Invalidate(_ context.Context, _, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type memMarketStore struct {
	mu      sync.Mutex
	markets map[uint64]domain.Market
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{markets: make(map[uint64]domain.Market)}
}

func (s *memMarketStore) UpsertBatch(_ context.Context, _ uint64, markets []domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range markets {
		s.markets[m.ID] = m
	}
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, _, id uint64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) List(_ context.Context, _ uint64, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.markets))
	for id := uint64(0); id < uint64(len(s.markets)); id++ {
		if m, ok := s.markets[id]; ok {
			out = append(out, m)
		}
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memMarketStore) ListResolved(context.Context, uint64, time.Time) ([]domain.Market, error) {
	return nil, nil
}

func (s *memMarketStore) Count(context.Context, uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}
