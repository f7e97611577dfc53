package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TargetPriceDecimals is the fixed-point scale of oracle prices.
const TargetPriceDecimals = 8

// Market mirrors the on-chain getMarketInfo tuple.
type Market struct {
	ID           uint64
	Question     string
	TargetPrice  *big.Int // oracle-scaled, 8 decimals
	Deadline     time.Time
	PriceOracle  common.Address
	Resolved     bool
	Outcome      bool // meaningful only when Resolved
	TotalYes     *big.Int
	TotalNo      *big.Int
	TotalBettors uint64
	Token        common.Address
}

// Pool returns the combined stake of both sides.
func (m Market) Pool() *big.Int {
	return new(big.Int).Add(bigOrZero(m.TotalYes), bigOrZero(m.TotalNo))
}

// Expired reports whether the deadline has passed at now.
func (m Market) Expired(now time.Time) bool {
	return now.After(m.Deadline)
}

// Bet mirrors the on-chain getUserBet tuple for a single account.
type Bet struct {
	Bettor     common.Address
	MarketID   uint64
	Amount     *big.Int
	Prediction bool // true = YES
	Claimed    bool
}

// HasStake reports whether the account has a non-zero stake.
func (b Bet) HasStake() bool {
	return b.Amount != nil && b.Amount.Sign() > 0
}

// Won reports whether the bet matches a resolved market's outcome.
func (b Bet) Won(m Market) bool {
	return m.Resolved && b.Prediction == m.Outcome
}

// CreateMarketParams is the argument set for the createMarket call.
type CreateMarketParams struct {
	Question    string
	TargetPrice *big.Int
	Duration    time.Duration
	PriceOracle common.Address
	Token       common.Address
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
