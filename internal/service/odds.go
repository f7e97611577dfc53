package service

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Odds returns the payout multiplier for a side: the opposing pool divided by
// the chosen pool. Either pool being empty yields 1.
func Odds(yes, no *big.Int, prediction bool) decimal.Decimal {
	chosen, opposing := no, yes
	if prediction {
		chosen, opposing = yes, no
	}
	if isZero(chosen) || isZero(opposing) {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromBigInt(opposing, 0).Div(decimal.NewFromBigInt(chosen, 0))
}

// YesPercent is the YES share of the pool, 50 when nothing is staked.
func YesPercent(yes, no *big.Int) decimal.Decimal {
	if yes == nil {
		yes = new(big.Int)
	}
	pool := new(big.Int).Set(yes)
	if no != nil {
		pool.Add(pool, no)
	}
	if pool.Sign() == 0 {
		return decimal.NewFromInt(50)
	}
	return decimal.NewFromBigInt(yes, 0).Mul(hundred).Div(decimal.NewFromBigInt(pool, 0))
}

// PotentialWin is amount times odds, in the same units as amount.
func PotentialWin(amount, odds decimal.Decimal) decimal.Decimal {
	return amount.Mul(odds)
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}
