// Package bigint provides the arbitrary-precision unsigned integer
// discipline used across order constraints, prices, allowances, and
// balances: everything on the wire is a canonical decimal string, and
// everything in memory is a uint256.Int.
package bigint

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// U256 is the canonical arbitrary-precision unsigned integer type.
type U256 = uint256.Int

// Zero returns a fresh zero-valued U256.
func Zero() *U256 {
	return new(uint256.Int)
}

// FromDecimal parses a decimal string into a U256. It rejects hex,
// negative values, fractions, and leading/trailing whitespace. Leading
// zeros are accepted and dropped, so only canonical input round-trips
// through ToDecimal to the same bytes.
func FromDecimal(s string) (*U256, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return v, nil
}

// ToDecimal renders v as a canonical decimal string: no leading zeros
// (other than the single digit "0"), no sign, no separators.
func ToDecimal(v *U256) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// NormalizeDecimal parses then re-renders a decimal string, canonicalizing
// any non-canonical input (leading zeros, etc). Used when normalizing
// order constraints before encoding (spec §3, §4.2 step 5).
func NormalizeDecimal(s string) (string, error) {
	v, err := FromDecimal(s)
	if err != nil {
		return "", err
	}
	return ToDecimal(v), nil
}

// MulDivSmall computes floor(v * num / den) for small num/den (headroom
// and gas multipliers), using 512-bit intermediate precision so the
// multiplication cannot silently overflow 256 bits.
func MulDivSmall(v *U256, num, den uint64) *U256 {
	if den == 0 {
		panic("bigint: MulDivSmall by zero denominator")
	}
	product := new(uint256.Int)
	_, overflow := product.MulOverflow(v, uint256.NewInt(num))
	if !overflow {
		return new(uint256.Int).Div(product, uint256.NewInt(den))
	}
	// Overflowed 256 bits: fall back to big.Int intermediate math, then
	// truncate back into 256 bits (callers only ever use this for small
	// headroom multipliers, so overflow here indicates a pathological
	// value upstream rather than a case we need to optimize for).
	bv := v.ToBig()
	bv.Mul(bv, new(big.Int).SetUint64(num))
	bv.Div(bv, new(big.Int).SetUint64(den))
	out, _ := uint256.FromBig(bv)
	return out
}
