package yieldmath

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRayToBps(t *testing.T) {
	tests := []struct {
		name string
		rate *uint256.Int
		want uint32
	}{
		{
			name: "nil rate",
			rate: nil,
			want: 0,
		},
		{
			name: "zero rate",
			rate: uint256.NewInt(0),
			want: 0,
		},
		{
			name: "five percent",
			rate: uint256.MustFromDecimal("50000000000000000000000000"), // 0.05 ray
			want: 500,
		},
		{
			name: "one hundred percent",
			rate: uint256.MustFromDecimal("1000000000000000000000000000"), // 1 ray
			want: 10000,
		},
		{
			name: "exactly at clamp threshold",
			rate: uint256.MustFromDecimal("5000000000000000000000000000"), // 5 ray
			want: MaxReasonableAPYBps,
		},
		{
			name: "just above clamp threshold",
			rate: uint256.MustFromDecimal("5000000000000000000000000001"),
			want: MaxReasonableAPYBps,
		},
		{
			name: "max uint256",
			rate: new(uint256.Int).Not(uint256.NewInt(0)),
			want: MaxReasonableAPYBps,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RayToBps(tt.rate)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, got, MaxReasonableAPYBps)
		})
	}
}

func TestClampBps(t *testing.T) {
	assert.Equal(t, uint32(100), ClampBps(50, 100, 200))
	assert.Equal(t, uint32(150), ClampBps(150, 100, 200))
	assert.Equal(t, uint32(200), ClampBps(250, 100, 200))
}

func TestWeightedAverageBps(t *testing.T) {
	tests := []struct {
		name             string
		aBps, bBps       uint32
		weightA, weightB uint64
		want             uint32
		wantErr          error
	}{
		{
			name: "standard split",
			aBps: 450, bBps: 700,
			weightA: 7000, weightB: 3000,
			want: 525,
		},
		{
			name: "equal weights",
			aBps: 100, bBps: 300,
			weightA: 5000, weightB: 5000,
			want: 200,
		},
		{
			name: "partial weights normalize by their sum",
			aBps: 100, bBps: 300,
			weightA: 2000, weightB: 2000,
			want: 200,
		},
		{
			name: "both weights zero",
			aBps: 100, bBps: 300,
			weightA: 0, weightB: 0,
			want: 0,
		},
		{
			name: "weights exceed denominator",
			aBps: 100, bBps: 300,
			weightA: 7000, weightB: 4000,
			wantErr: ErrInvalidWeights,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeightedAverageBps(tt.aBps, tt.bBps, tt.weightA, tt.weightB)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRiskAdjusted(t *testing.T) {
	tests := []struct {
		name    string
		apyBps  uint32
		risk    uint32
		want    uint32
		wantErr error
	}{
		{name: "ten percent discount", apyBps: 500, risk: 10, want: 450},
		{name: "thirty percent discount", apyBps: 1000, risk: 30, want: 700},
		{name: "zero risk is identity", apyBps: 1234, risk: 0, want: 1234},
		{name: "full risk zeroes the apy", apyBps: 1234, risk: 100, want: 0},
		{name: "risk above scale", apyBps: 1234, risk: 101, wantErr: ErrInvalidRiskScore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RiskAdjusted(tt.apyBps, tt.risk)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, got, tt.apyBps)
		})
	}
}

func TestProjectCompound(t *testing.T) {
	t.Run("nil principal", func(t *testing.T) {
		assert.True(t, ProjectCompound(nil, 1000, SecondsPerYear).IsZero())
	})

	t.Run("full year at 100 percent doubles", func(t *testing.T) {
		got := ProjectCompound(uint256.NewInt(10000), 10000, SecondsPerYear)
		assert.Equal(t, uint64(20000), got.Uint64())
	})

	t.Run("zero horizon is identity", func(t *testing.T) {
		got := ProjectCompound(uint256.NewInt(10000), 10000, 0)
		assert.Equal(t, uint64(10000), got.Uint64())
	})

	t.Run("half year at 10 percent", func(t *testing.T) {
		got := ProjectCompound(uint256.NewInt(1_000_000), 1000, SecondsPerYear/2)
		assert.Equal(t, uint64(1_050_000), got.Uint64())
	})

	t.Run("apy above the cap is clamped first", func(t *testing.T) {
		capped := ProjectCompound(uint256.NewInt(10000), MaxReasonableAPYBps, SecondsPerYear)
		insane := ProjectCompound(uint256.NewInt(10000), MaxReasonableAPYBps+1, SecondsPerYear)
		assert.Equal(t, capped, insane)
	})

	t.Run("overflow saturates at max uint128", func(t *testing.T) {
		huge := new(uint256.Int).Not(uint256.NewInt(0))
		got := ProjectCompound(huge, MaxReasonableAPYBps, SecondsPerYear)
		assert.Equal(t, MaxUint128(), got)
	})

	t.Run("result just past 128 bits saturates", func(t *testing.T) {
		got := ProjectCompound(MaxUint128(), 10000, SecondsPerYear)
		assert.Equal(t, MaxUint128(), got)
	})
}

func TestFitsUint128(t *testing.T) {
	assert.True(t, FitsUint128(uint256.NewInt(0)))
	assert.True(t, FitsUint128(MaxUint128()))

	over := new(uint256.Int).Add(MaxUint128(), uint256.NewInt(1))
	assert.False(t, FitsUint128(over))
}
