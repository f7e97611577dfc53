package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbet/internal/config"
	"github.com/alanyoungcy/chainbet/internal/crypto"
	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/network"
)

const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenAddr    = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	oracleAddr   = common.HexToAddress("0x1b44F3514812d835EB1BDB0acB33d3fA3351Ee43")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func newTestContract(t *testing.T, b *fakeBackend, signed bool) *Contract {
	t.Helper()
	opts := Options{ChainID: 31337}
	if signed {
		s, err := crypto.NewSigner(devKey)
		require.NoError(t, err)
		opts.Signer = s
	}
	return NewContract(contractAddr, b, opts)
}

func TestReads(t *testing.T) {
	b := newFakeBackend()
	deadline := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	b.on(marketABI, "marketCounter", func([]any) ([]any, error) {
		return []any{big.NewInt(3)}, nil
	})
	b.on(marketABI, "getMarketInfo", func(args []any) ([]any, error) {
		id := args[0].(*big.Int)
		return []any{
			"Will BTC close above 100k?",
			big.NewInt(100_000_00000000),
			big.NewInt(deadline.Unix()),
			oracleAddr,
			false,
			false,
			big.NewInt(1_000_000_000 + id.Int64()),
			big.NewInt(800_000_000),
			big.NewInt(7),
			tokenAddr,
		}, nil
	})
	b.on(marketABI, "getUserBet", func(args []any) ([]any, error) {
		return []any{args[1].(common.Address), big.NewInt(5_000_000), true, false}, nil
	})
	b.on(tokenABI, "balanceOf", func([]any) ([]any, error) {
		return []any{big.NewInt(42_000_000)}, nil
	})
	b.on(tokenABI, "decimals", func([]any) ([]any, error) {
		return []any{uint8(6)}, nil
	})

	c := newTestContract(t, b, false)
	ctx := context.Background()

	n, err := c.MarketCounter(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	m, err := c.MarketInfo(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.ID)
	assert.Equal(t, "Will BTC close above 100k?", m.Question)
	assert.Equal(t, deadline, m.Deadline)
	assert.Equal(t, "1000000002", m.TotalYes.String())
	assert.Equal(t, uint64(7), m.TotalBettors)
	assert.Equal(t, tokenAddr, m.Token)
	assert.Equal(t, oracleAddr, m.PriceOracle)

	bet, err := c.UserBet(ctx, 1, alice)
	require.NoError(t, err)
	assert.Equal(t, alice, bet.Bettor)
	assert.True(t, bet.HasStake())
	assert.True(t, bet.Prediction)

	bal, err := c.TokenBalance(ctx, tokenAddr, alice)
	require.NoError(t, err)
	assert.Equal(t, "42000000", bal.String())

	for i := 0; i < 3; i++ {
		d, err := c.TokenDecimals(ctx, tokenAddr)
		require.NoError(t, err)
		assert.Equal(t, uint8(6), d)
	}
	assert.Equal(t, 1, b.callCount(tokenABI, "decimals"))
}

func TestWritesRequireSigner(t *testing.T) {
	c := newTestContract(t, newFakeBackend(), false)
	_, err := c.ResolveMarket(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrReadOnly)
	assert.Equal(t, common.Address{}, c.Signer())
}

func TestPlaceBetSendsDynamicFeeTx(t *testing.T) {
	b := newFakeBackend()
	b.baseFee = big.NewInt(100)
	c := newTestContract(t, b, true)

	hash, err := c.PlaceBet(context.Background(), 4, false, big.NewInt(2_000_000))
	require.NoError(t, err)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, contractAddr, *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, "201", tx.GasFeeCap().String())

	args, err := marketABI.Methods["placeBet"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, "4", args[0].(*big.Int).String())
	assert.Equal(t, false, args[1])
	assert.Equal(t, "2000000", args[2].(*big.Int).String())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, c.Signer(), from)
}

func TestApproveTargetsToken(t *testing.T) {
	b := newFakeBackend()
	c := newTestContract(t, b, true)

	_, err := c.ApproveToken(context.Background(), tokenAddr, big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, tokenAddr, *b.sent[0].To())
	assert.Equal(t, uint8(types.LegacyTxType), b.sent[0].Type())

	args, err := tokenABI.Methods["approve"].Inputs.Unpack(b.sent[0].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, contractAddr, args[0])
}

func TestEstimateRevertIsNotSent(t *testing.T) {
	b := newFakeBackend()
	b.estimate = errors.New("execution reverted: Market not resolved")
	c := newTestContract(t, b, true)

	_, err := c.ClaimReward(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Market not resolved")
	assert.Empty(t, b.sent)
}

func TestTransactFailures(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(b *fakeBackend)
		signer TxSigner
		want   error
	}{
		{"no contract code", func(b *fakeBackend) { b.code = nil }, nil, bind.ErrNoCode},
		{"signer refuses", func(*fakeBackend) {}, failingSigner{}, domain.ErrSigningFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newFakeBackend()
			tc.setup(b)
			opts := Options{ChainID: 31337}
			if tc.signer != nil {
				opts.Signer = tc.signer
			} else {
				s, err := crypto.NewSigner(devKey)
				require.NoError(t, err)
				opts.Signer = s
			}
			c := NewContract(contractAddr, b, opts)

			_, err := c.ResolveMarket(context.Background(), 1)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, b.sent)
		})
	}
}

type failingSigner struct{}

func (failingSigner) Address() common.Address { return alice }
func (failingSigner) SignTx(*types.Transaction, *big.Int) (*types.Transaction, error) {
	return nil, errors.New("hsm unavailable")
}

func TestGasLimitOverrideSkipsEstimate(t *testing.T) {
	b := newFakeBackend()
	b.estimate = errors.New("estimate must not run")
	s, err := crypto.NewSigner(devKey)
	require.NoError(t, err)
	c := NewContract(contractAddr, b, Options{ChainID: 31337, Signer: s, GasLimit: 300_000})

	_, err = c.ResolveMarket(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	assert.Equal(t, uint64(300_000), b.sent[0].Gas())
}

func TestBlockWatcher(t *testing.T) {
	cases := []struct {
		name    string
		heads   []uint64
		headErr error
		want    []uint64
	}{
		{"reports each advance once", []uint64{5, 5, 6, 8, 8}, nil, []uint64{5, 6, 8}},
		{"ignores a head that goes back", []uint64{9, 7, 10}, nil, []uint64{9, 10}},
		{"retries after a poll error", []uint64{3, 4}, errors.New("rpc timeout"), []uint64{3, 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newFakeBackend()
			b.heads = tc.heads
			b.headErr = tc.headErr
			w := NewBlockWatcher(b, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var (
				mu  sync.Mutex
				got []uint64
			)
			done := make(chan error, 1)
			go func() {
				done <- w.Run(ctx, func(_ context.Context, n uint64) {
					mu.Lock()
					got = append(got, n)
					mu.Unlock()
				})
			}()

			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(got) >= len(tc.want)
			}, time.Second, 5*time.Millisecond)
			cancel()
			require.NoError(t, <-done)

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWaitMined(t *testing.T) {
	b := newFakeBackend()
	c := newTestContract(t, b, false)
	ok := common.HexToHash("0x01")
	bad := common.HexToHash("0x02")

	b.receipts[ok] = []*types.Receipt{nil, {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12), GasUsed: 21000}}
	b.receipts[bad] = []*types.Receipt{{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(13)}}

	r, err := c.WaitMined(context.Background(), ok)
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, uint64(12), r.BlockNumber)

	r, err = c.WaitMined(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrTxReverted)
	assert.False(t, r.Success)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.WaitMined(ctx, common.HexToHash("0x03"))
	assert.ErrorIs(t, err, domain.ErrTxTimeout)
}

func betPlacedLog(t *testing.T, block uint64, marketID int64, bettor common.Address, yes bool, amount int64) types.Log {
	t.Helper()
	ev := marketABI.Events["BetPlaced"]
	data, err := ev.Inputs.NonIndexed().Pack(yes, big.NewInt(amount))
	require.NoError(t, err)
	return types.Log{
		Address:     contractAddr,
		BlockNumber: block,
		TxHash:      common.HexToHash("0xbeef"),
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(marketID)),
			common.BytesToHash(bettor.Bytes()),
		},
		Data: data,
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(31337, betPlacedLog(t, 10, 3, alice, true, 7_000_000))
	require.NoError(t, err)
	assert.Equal(t, domain.EventBetPlaced, ev.Name)
	assert.Equal(t, uint64(3), ev.MarketID)
	assert.Equal(t, alice.Hex(), ev.Account)
	assert.Equal(t, "true", ev.Fields["prediction"])
	assert.Equal(t, "7000000", ev.Fields["amount"])

	_, err = DecodeEvent(1, types.Log{Topics: []common.Hash{common.HexToHash("0x1")}})
	assert.Error(t, err)
}

type memEventStore struct {
	events []domain.ChainEvent
}

func (m *memEventStore) InsertBatch(_ context.Context, evs []domain.ChainEvent) error {
	m.events = append(m.events, evs...)
	return nil
}

func (m *memEventStore) ListByMarket(context.Context, uint64, uint64, domain.ListOpts) ([]domain.ChainEvent, error) {
	return m.events, nil
}

func (m *memEventStore) ListSince(context.Context, uint64, time.Time) ([]domain.ChainEvent, error) {
	return m.events, nil
}

func (m *memEventStore) LastBlock(context.Context, uint64) (uint64, error) {
	var last uint64
	for _, e := range m.events {
		if e.BlockNumber > last {
			last = e.BlockNumber
		}
	}
	return last, nil
}

func TestEventIndexerSync(t *testing.T) {
	b := newFakeBackend()
	b.head = 25
	b.logs = []types.Log{
		betPlacedLog(t, 3, 0, alice, true, 1_000_000),
		betPlacedLog(t, 14, 0, alice, true, 2_000_000),
		betPlacedLog(t, 25, 1, alice, false, 3_000_000),
	}
	store := &memEventStore{}
	var seen []uint64
	x := NewEventIndexer(b, IndexerConfig{
		ChainID:     31337,
		Contract:    contractAddr,
		BatchBlocks: 10,
		Store:       store,
		OnEvent: func(_ context.Context, ev domain.ChainEvent) {
			seen = append(seen, ev.BlockNumber)
		},
	})

	n, err := x.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint64{3, 14, 25}, seen)

	n, err = x.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, store.events, 3)
}

func TestProviderResolvesDeployedOnly(t *testing.T) {
	cfgs := config.DefaultNetworks()
	sep := cfgs["sepolia"]
	sep.Contract = contractAddr.Hex()
	cfgs["sepolia"] = sep
	reg, err := network.FromConfig(cfgs)
	require.NoError(t, err)

	dials := 0
	p := NewProvider(reg, Options{}).WithDialer(func(context.Context, network.Network) (Backend, func(), error) {
		dials++
		return newFakeBackend(), nil, nil
	})

	_, err = p.ForChain(context.Background(), 80001)
	assert.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
	assert.Zero(t, dials)

	c1, err := p.ForChain(context.Background(), 11155111)
	require.NoError(t, err)
	c2, err := p.ForChain(context.Background(), 11155111)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, contractAddr, c1.Address())
	assert.Equal(t, 1, dials)

	_, err = p.Backend(context.Background(), 80001)
	require.NoError(t, err)
	assert.Equal(t, 2, dials)
	p.Close()
}
