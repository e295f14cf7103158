package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultTokenDecimals is the ERC-20 convention the bet book assumes when a
// token does not say otherwise.
const DefaultTokenDecimals = 18

// ToTokenAmount converts a human amount such as 1.5 into the token's
// smallest unit. Amounts with more fractional digits than the token
// supports are rejected rather than rounded.
func ToTokenAmount(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("domain: token amount %s is negative: %w", amount, ErrEncoding)
	}
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("domain: token amount %s has more than %d decimals: %w", amount, decimals, ErrEncoding)
	}
	return shifted.BigInt(), nil
}

// FromTokenAmount is the inverse of ToTokenAmount.
func FromTokenAmount(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}

var probDenominator = decimal.NewFromInt(1 << 32)

// ProbabilityFromFraction maps p in [0, 1] onto the 2^32 sample space as
// floor(p * 2^32), clamped to [0, 2^32-1].
func ProbabilityFromFraction(p decimal.Decimal) uint32 {
	v := p.Mul(probDenominator).Floor()
	if v.IsNegative() {
		return 0
	}
	if v.GreaterThanOrEqual(probDenominator) {
		return 1<<32 - 1
	}
	return uint32(v.IntPart())
}

// ProbabilityFraction returns prob / 2^32.
func ProbabilityFraction(prob uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(prob)).Div(probDenominator)
}
