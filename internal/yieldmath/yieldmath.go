// Package yieldmath is the fixed-point numeric layer: conversions between
// the lending protocol's 27-decimal "ray" rate representation and basis
// points, weighted averages, risk adjustment, and interest projection.
//
// Every function is pure and total. Out-of-range numeric inputs saturate or
// clamp; they never panic and never overflow silently.
package yieldmath

import (
	"errors"

	"github.com/holiman/uint256"
)

// Numeric bounds and denominators
const (
	// MaxReasonableAPYBps caps any APY the system will ever store or report
	// (50000 bps = 500%). Values above it are clamped, never stored raw.
	MaxReasonableAPYBps uint32 = 50000

	// BpsDenominator is the basis-point scale (100% = 10000 bps).
	BpsDenominator uint64 = 10000

	// MaxRiskScore is the upper bound of the [0,100] risk scale.
	MaxRiskScore uint32 = 100

	// SecondsPerYear is the horizon denominator for interest projection.
	SecondsPerYear uint64 = 31_536_000
)

// Typed validation errors
var (
	ErrInvalidWeights   = errors.New("weights exceed denominator")
	ErrInvalidRiskScore = errors.New("risk score above 100")
)

// ray is 10^27, the fixed-point unit used by the lending protocol for rates.
var ray = uint256.MustFromDecimal("1000000000000000000000000000")

// rayClampThreshold is the rate that maps exactly to MaxReasonableAPYBps
// (50000 * 10^27 / 10000 = 5 * 10^27). Anything above converts to a clamped
// result.
var rayClampThreshold = uint256.MustFromDecimal("5000000000000000000000000000")

// maxUint128 bounds TVL and projection results.
var maxUint128 = func() *uint256.Int {
	one := uint256.NewInt(1)
	v := new(uint256.Int).Lsh(one, 128)
	return v.Sub(v, one)
}()

// MaxUint128 returns a copy of 2^128 - 1.
func MaxUint128() *uint256.Int {
	return new(uint256.Int).Set(maxUint128)
}

// FitsUint128 reports whether v is representable in 128 bits.
func FitsUint128(v *uint256.Int) bool {
	return v.Cmp(maxUint128) <= 0
}

// RayToBps converts a 27-decimal rate to basis points, clamped to
// [0, MaxReasonableAPYBps]. The clamp is deliberate lossy behavior, not an
// error: a rate above 500% is treated as "500%, and suspicious", and the
// caller decides what to do with suspicion.
func RayToBps(rate *uint256.Int) uint32 {
	if rate == nil {
		return 0
	}
	if rate.Cmp(rayClampThreshold) > 0 {
		return MaxReasonableAPYBps
	}
	// rate <= 5*10^30 here, so rate * 10000 cannot overflow 256 bits.
	scaled := new(uint256.Int).Mul(rate, uint256.NewInt(BpsDenominator))
	scaled.Div(scaled, ray)
	return uint32(scaled.Uint64())
}

// ClampBps returns value constrained to [min, max].
func ClampBps(value, min, max uint32) uint32 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// WeightedAverageBps combines two basis-point values by integer weights.
// The weights share the 10000 denominator and must not exceed it in sum.
// Both weights zero yields zero rather than a division error.
func WeightedAverageBps(aBps, bBps uint32, weightA, weightB uint64) (uint32, error) {
	if weightA+weightB > BpsDenominator {
		return 0, ErrInvalidWeights
	}
	total := weightA + weightB
	if total == 0 {
		return 0, nil
	}
	sum := uint64(aBps)*weightA + uint64(bBps)*weightB
	return uint32(sum / total), nil
}

// RiskAdjusted discounts an APY by a [0,100] risk score:
// apy * (100 - risk) / 100. The result never exceeds the input.
func RiskAdjusted(apyBps, riskScore uint32) (uint32, error) {
	if riskScore > MaxRiskScore {
		return 0, ErrInvalidRiskScore
	}
	return uint32(uint64(apyBps) * uint64(MaxRiskScore-riskScore) / uint64(MaxRiskScore)), nil
}

// ProjectCompound projects a principal over a horizon using the linear
// approximation principal + principal*apy/10000 * horizon/SecondsPerYear.
// This is not true compounding; callers needing exactness must not rely on
// sub-day precision. The result saturates at 2^128 - 1.
func ProjectCompound(principal *uint256.Int, apyBps uint32, horizonSeconds uint64) *uint256.Int {
	if principal == nil {
		return uint256.NewInt(0)
	}
	apy := ClampBps(apyBps, 0, MaxReasonableAPYBps)

	gain := new(uint256.Int)
	if _, overflow := gain.MulOverflow(principal, uint256.NewInt(uint64(apy))); overflow {
		return MaxUint128()
	}
	if _, overflow := gain.MulOverflow(gain, uint256.NewInt(horizonSeconds)); overflow {
		return MaxUint128()
	}
	gain.Div(gain, uint256.NewInt(BpsDenominator*SecondsPerYear))

	result := new(uint256.Int)
	if _, overflow := result.AddOverflow(principal, gain); overflow {
		return MaxUint128()
	}
	if !FitsUint128(result) {
		return MaxUint128()
	}
	return result
}
