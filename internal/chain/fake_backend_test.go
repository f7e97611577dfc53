package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend answers contract calls by 4-byte selector and records sends.
type fakeBackend struct {
	mu        sync.Mutex
	calls     map[string]int
	responses map[[4]byte]func(args []any) ([]byte, error)
	sent      []*types.Transaction
	receipts  map[common.Hash][]*types.Receipt
	baseFee   *big.Int
	head      uint64
	logs      []types.Log
	estimate  error
	heads     []uint64 // successive BlockNumber answers; the last one repeats
	headErr   error
	code      []byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:     make(map[string]int),
		responses: make(map[[4]byte]func(args []any) ([]byte, error)),
		receipts:  make(map[common.Hash][]*types.Receipt),
		code:      []byte{0x60, 0x80},
	}
}

// on registers a handler for method of parsed.
func (f *fakeBackend) on(parsed abi.ABI, method string, fn func(args []any) ([]any, error)) {
	m := parsed.Methods[method]
	var sel [4]byte
	copy(sel[:], m.ID)
	f.responses[sel] = func(args []any) ([]byte, error) {
		vals, err := fn(args)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(vals...)
	}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sel [4]byte
	copy(sel[:], msg.Data[:4])
	h, ok := f.responses[sel]
	if !ok {
		return nil, fmt.Errorf("no handler for selector %x", sel)
	}
	args, err := unpackArgs(sel, msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.calls[fmt.Sprintf("%x", sel)]++
	return h(args)
}

func unpackArgs(sel [4]byte, data []byte) ([]any, error) {
	for _, parsed := range []abi.ABI{marketABI, tokenABI} {
		if m, err := parsed.MethodById(sel[:]); err == nil {
			return m.Inputs.Unpack(data)
		}
	}
	return nil, fmt.Errorf("unknown selector %x", sel)
}

func (f *fakeBackend) callCount(parsed abi.ABI, method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[fmt.Sprintf("%x", parsed.Methods[method].ID)]
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(10), nil }
func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.head), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return 0, f.estimate
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

// TransactionReceipt pops queued receipts; a nil entry means "not mined".
func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.receipts[h]
	if len(q) == 0 {
		return nil, ethereum.NotFound
	}
	r := q[0]
	if len(q) > 1 {
		f.receipts[h] = q[1:]
	}
	if r == nil {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		err := f.headErr
		f.headErr = nil
		return 0, err
	}
	if len(f.heads) > 0 {
		f.head = f.heads[0]
		if len(f.heads) > 1 {
			f.heads = f.heads[1:]
		}
	}
	return f.head, nil
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return f.code, nil
}

func (f *fakeBackend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, ethereum.NotFound
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}
