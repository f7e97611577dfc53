// Package units converts between on-chain integer amounts and display decimals.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a human amount such as "12.5" into base units for a
// token with the given decimals. Fractions finer than the token precision are
// rejected rather than rounded.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("units: parse: empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("units: parse %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("units: parse %q: negative amount", amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("units: parse %q: more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// ToDecimal returns base units as a decimal in display units.
func ToDecimal(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}

// FromDecimal converts a display-unit decimal to base units, truncating.
func FromDecimal(d decimal.Decimal, decimals uint8) *big.Int {
	return d.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FormatUnits renders base units in display units with trailing zeros removed.
func FormatUnits(v *big.Int, decimals uint8) string {
	return ToDecimal(v, decimals).String()
}

// FormatFixed renders base units with exactly places fractional digits.
func FormatFixed(v *big.Int, decimals uint8, places int32) string {
	return ToDecimal(v, decimals).StringFixed(places)
}
