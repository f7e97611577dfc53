package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// marketInfoResult mirrors the getMarketInfo outputs for UnpackIntoInterface.
type marketInfoResult struct {
	Question     string
	TargetPrice  *big.Int
	Deadline     *big.Int
	PriceOracle  common.Address
	Resolved     bool
	Outcome      bool
	TotalYesBets *big.Int
	TotalNoBets  *big.Int
	TotalBettors *big.Int
	TokenAddress common.Address
}

type userBetResult struct {
	Bettor     common.Address
	Amount     *big.Int
	Prediction bool
	Claimed    bool
}

// call packs method on parsed, executes it against to at the latest block and
// returns the raw output.
func (c *Contract) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) ([]byte, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	return out, nil
}

func (c *Contract) callUint(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, parsed, to, method, args...)
	if err != nil {
		return nil, err
	}
	vals, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("chain: unpack %s: want 1 value, got %d", method, len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unpack %s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

// MarketCounter returns the number of markets created so far.
func (c *Contract) MarketCounter(ctx context.Context) (uint64, error) {
	n, err := c.callUint(ctx, marketABI, c.address, "marketCounter")
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("chain: marketCounter overflow: %s", n)
	}
	return n.Uint64(), nil
}

// MarketInfo reads one market. Ids are zero-based sequence positions.
func (c *Contract) MarketInfo(ctx context.Context, id uint64) (domain.Market, error) {
	out, err := c.call(ctx, marketABI, c.address, "getMarketInfo", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Market{}, err
	}
	var r marketInfoResult
	if err := marketABI.UnpackIntoInterface(&r, "getMarketInfo", out); err != nil {
		return domain.Market{}, fmt.Errorf("chain: unpack getMarketInfo(%d): %w", id, err)
	}
	return domain.Market{
		ID:           id,
		Question:     r.Question,
		TargetPrice:  r.TargetPrice,
		Deadline:     time.Unix(r.Deadline.Int64(), 0).UTC(),
		PriceOracle:  r.PriceOracle,
		Resolved:     r.Resolved,
		Outcome:      r.Outcome,
		TotalYes:     r.TotalYesBets,
		TotalNo:      r.TotalNoBets,
		TotalBettors: r.TotalBettors.Uint64(),
		Token:        r.TokenAddress,
	}, nil
}

// UserBet reads account's bet on market id. A never-placed bet comes back
// with a zero amount.
func (c *Contract) UserBet(ctx context.Context, id uint64, account common.Address) (domain.Bet, error) {
	out, err := c.call(ctx, marketABI, c.address, "getUserBet", new(big.Int).SetUint64(id), account)
	if err != nil {
		return domain.Bet{}, err
	}
	var r userBetResult
	if err := marketABI.UnpackIntoInterface(&r, "getUserBet", out); err != nil {
		return domain.Bet{}, fmt.Errorf("chain: unpack getUserBet(%d): %w", id, err)
	}
	return domain.Bet{
		Bettor:     r.Bettor,
		MarketID:   id,
		Amount:     r.Amount,
		Prediction: r.Prediction,
		Claimed:    r.Claimed,
	}, nil
}

// TokenBalance returns the ERC20 balance of account.
func (c *Contract) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return c.callUint(ctx, tokenABI, token, "balanceOf", account)
}

// TokenAllowance returns how much spender may pull from owner.
func (c *Contract) TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, tokenABI, token, "allowance", owner, spender)
}

// TokenDecimals returns the token's decimals, cached after the first read.
func (c *Contract) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	c.decMu.RLock()
	d, ok := c.decimals[token]
	c.decMu.RUnlock()
	if ok {
		return d, nil
	}

	out, err := c.call(ctx, tokenABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	vals, err := tokenABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("chain: unpack decimals: %w", err)
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("chain: unpack decimals: want 1 value, got %d", len(vals))
	}
	d, ok = vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chain: unpack decimals: unexpected type %T", vals[0])
	}

	c.decMu.Lock()
	c.decimals[token] = d
	c.decMu.Unlock()
	return d, nil
}
