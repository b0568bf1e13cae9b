package bigint

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// CurvePoint computes the Dutch-auction linear interpolation described in
// spec.md §3/§9: the price moves linearly from startPrice at startTimeSec
// to endPrice at endTimeSec. Floats never leak into the result — the
// division is done with big.Rat and the final value is floored back into
// a uint256, bracketed between the two integer endpoints.
//
// Returns an error if now is outside [startTimeSec, endTimeSec]; prices
// outside the time window are undefined per the invariant in §3 and the
// match must be rejected rather than priced.
func CurvePoint(startPrice, endPrice *U256, startTimeSec, endTimeSec, now uint64) (*U256, error) {
	if now < startTimeSec || now > endTimeSec {
		return nil, fmt.Errorf("curve point at t=%d outside window [%d,%d]", now, startTimeSec, endTimeSec)
	}
	if startTimeSec == endTimeSec {
		return new(uint256.Int).Set(startPrice), nil
	}
	if startPrice.Eq(endPrice) {
		return new(uint256.Int).Set(startPrice), nil
	}

	start := new(big.Rat).SetInt(startPrice.ToBig())
	end := new(big.Rat).SetInt(endPrice.ToBig())
	elapsed := new(big.Rat).SetInt64(int64(now - startTimeSec))
	span := new(big.Rat).SetInt64(int64(endTimeSec - startTimeSec))

	// price = start + (end - start) * elapsed / span
	delta := new(big.Rat).Sub(end, start)
	delta.Mul(delta, elapsed)
	delta.Quo(delta, span)
	price := new(big.Rat).Add(start, delta)

	floored := new(big.Int).Quo(price.Num(), price.Denom())
	out, overflow := uint256.FromBig(floored)
	if overflow {
		return nil, fmt.Errorf("curve point overflow at t=%d", now)
	}
	return out, nil
}

// Min returns the smaller of a and b without mutating either.
func Min(a, b *U256) *U256 {
	if a.Cmp(b) <= 0 {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}
