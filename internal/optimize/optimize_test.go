package optimize

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/crossyield/internal/model"
)

const (
	testNow    = uint64(10_000)
	testWindow = 300 * time.Second
)

func record(apyBps uint32, ts uint64) *model.YieldRecord {
	return &model.YieldRecord{
		APYBps:    apyBps,
		TVL:       *uint256.NewInt(1_000_000),
		Timestamp: ts,
		Active:    true,
	}
}

func TestOptimizeRequiresFreshLocal(t *testing.T) {
	policy := DefaultPolicy()

	_, err := Optimize(nil, record(1000, testNow), testNow, testWindow, policy)
	assert.ErrorIs(t, err, ErrPrimarySourceUnavailable)

	stale := record(500, testNow-301)
	_, err = Optimize(stale, record(1000, testNow), testNow, testWindow, policy)
	assert.ErrorIs(t, err, ErrPrimarySourceUnavailable)

	inactive := record(500, testNow)
	inactive.Active = false
	_, err = Optimize(inactive, nil, testNow, testWindow, policy)
	assert.ErrorIs(t, err, ErrPrimarySourceUnavailable)
}

func TestOptimizeLocalOnly(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name   string
		remote *model.YieldRecord
	}{
		{"remote absent", nil},
		{"remote stale", record(1000, testNow-301)},
		{
			name: "remote inactive",
			remote: &model.YieldRecord{
				APYBps:    1000,
				Timestamp: testNow,
				Active:    false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := Optimize(record(500, testNow), tt.remote, testNow, testWindow, policy)
			require.NoError(t, err)

			// 500 bps discounted by the local risk score of 10.
			assert.Equal(t, uint32(450), view.OptimizedAPYBps)
			assert.Equal(t, policy.LocalRiskScore, view.CombinedRiskScore)
			assert.Equal(t, []model.Source{model.SourceLocal}, view.Sources)
			assert.Equal(t, []string{"local"}, view.SourceNames)
			assert.Equal(t, testNow, view.ComputedAt)
		})
	}
}

func TestOptimizeBothSources(t *testing.T) {
	policy := DefaultPolicy()

	// Remote 1000 > local 500 * 1.5: the spike split applies.
	// local: 500 -> 450, remote: 1000 -> 700, 70/30 -> 525.
	view, err := Optimize(record(500, testNow), record(1000, testNow), testNow, testWindow, policy)
	require.NoError(t, err)
	assert.Equal(t, uint32(525), view.OptimizedAPYBps)
	assert.Equal(t, uint32(16), view.CombinedRiskScore)
	assert.Equal(t, []model.Source{model.SourceLocal, model.SourceRemote}, view.Sources)
	assert.Equal(t, []string{"local", "remote"}, view.SourceNames)
}

func TestOptimizeWeightRegimes(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name      string
		localBps  uint32
		remoteBps uint32
		wantAPY   uint32
		wantRisk  uint32
	}{
		{
			// remote = 2x local: down-weighted to 70/30.
			name:     "remote spike",
			localBps: 500, remoteBps: 1000,
			wantAPY:  525, // (450*7000 + 700*3000) / 10000
			wantRisk: 16,
		},
		{
			// local = 2x remote: leaning local at 80/20.
			name:     "local lead",
			localBps: 1000, remoteBps: 500,
			wantAPY:  790, // (900*8000 + 350*2000) / 10000
			wantRisk: 14,
		},
		{
			// Within 1.2x/1.5x of each other: default 60/40 split.
			name:     "comparable sources",
			localBps: 500, remoteBps: 550,
			wantAPY:  424, // (450*6000 + 385*4000) / 10000
			wantRisk: 18,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := Optimize(record(tt.localBps, testNow), record(tt.remoteBps, testNow), testNow, testWindow, policy)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAPY, view.OptimizedAPYBps)
			assert.Equal(t, tt.wantRisk, view.CombinedRiskScore)
		})
	}
}

func TestSelectWeightsBoundaries(t *testing.T) {
	policy := DefaultPolicy()

	// Exactly 1.5x is not a spike; strict inequality.
	wl, wr := selectWeights(1000, 1500, policy)
	assert.Equal(t, policy.DefaultWeightLocal, wl)
	assert.Equal(t, policy.DefaultWeightRemote, wr)

	wl, wr = selectWeights(1000, 1501, policy)
	assert.Equal(t, policy.SpikeWeightLocal, wl)
	assert.Equal(t, policy.SpikeWeightRemote, wr)

	// Exactly 1.2x local lead stays on the default split.
	wl, wr = selectWeights(1200, 1000, policy)
	assert.Equal(t, policy.DefaultWeightLocal, wl)
	assert.Equal(t, policy.DefaultWeightRemote, wr)

	wl, wr = selectWeights(1201, 1000, policy)
	assert.Equal(t, policy.LeadWeightLocal, wl)
	assert.Equal(t, policy.LeadWeightRemote, wr)
}

func TestOptimizeZeroAPYs(t *testing.T) {
	policy := DefaultPolicy()

	view, err := Optimize(record(0, testNow), record(0, testNow), testNow, testWindow, policy)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), view.OptimizedAPYBps)
}
