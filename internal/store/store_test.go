package store

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/yieldmath"
)

func record(apyBps uint32, ts uint64) model.YieldRecord {
	return model.YieldRecord{
		APYBps:    apyBps,
		TVL:       *uint256.NewInt(1_000_000),
		Timestamp: ts,
		Active:    true,
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := New()
	token := model.NamedTokenID("WETH")

	_, ok := s.Get(token, model.SourceLocal)
	assert.False(t, ok)

	s.Upsert(token, model.SourceLocal, record(500, 1000))
	got, ok := s.Get(token, model.SourceLocal)
	require.True(t, ok)
	assert.Equal(t, uint32(500), got.APYBps)

	// Sources are independent slots.
	_, ok = s.Get(token, model.SourceRemote)
	assert.False(t, ok)

	// A second upsert overwrites in place.
	s.Upsert(token, model.SourceLocal, record(600, 2000))
	got, _ = s.Get(token, model.SourceLocal)
	assert.Equal(t, uint32(600), got.APYBps)
	assert.Equal(t, uint64(2000), got.Timestamp)
}

func TestUpsertClampsAPY(t *testing.T) {
	s := New()
	token := model.NamedTokenID("WETH")

	s.Upsert(token, model.SourceLocal, record(yieldmath.MaxReasonableAPYBps+1000, 1000))
	got, ok := s.Get(token, model.SourceLocal)
	require.True(t, ok)
	assert.Equal(t, yieldmath.MaxReasonableAPYBps, got.APYBps)
}

func TestIsFresh(t *testing.T) {
	now := uint64(10_000)
	window := 300 * time.Second

	tests := []struct {
		name   string
		record model.YieldRecord
		want   bool
	}{
		{"current record", record(500, now), true},
		{"exactly at window edge", record(500, now-300), true},
		{"one second past the window", record(500, now-301), false},
		{"future timestamp counts as fresh", record(500, now+60), true},
		{
			name:   "inactive record is never fresh",
			record: model.YieldRecord{APYBps: 500, Timestamp: now, Active: false},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFresh(tt.record, window, now))
		})
	}
}

func TestValidateFreshnessWindow(t *testing.T) {
	assert.NoError(t, ValidateFreshnessWindow(MinFreshness))
	assert.NoError(t, ValidateFreshnessWindow(MaxFreshness))
	assert.NoError(t, ValidateFreshnessWindow(5*time.Minute))
	assert.ErrorIs(t, ValidateFreshnessWindow(MinFreshness-time.Second), ErrInvalidFreshnessWindow)
	assert.ErrorIs(t, ValidateFreshnessWindow(MaxFreshness+time.Second), ErrInvalidFreshnessWindow)
}

func TestDeactivateReactivate(t *testing.T) {
	s := New()
	token := model.NamedTokenID("WETH")
	now := uint64(10_000)
	window := 300 * time.Second

	// Deactivating a pair that was never observed is a no-op.
	s.Deactivate(token, model.SourceLocal)
	assert.ErrorIs(t, s.Reactivate(token, model.SourceLocal), ErrUnknownToken)

	s.Upsert(token, model.SourceLocal, record(500, now))
	got, _ := s.Get(token, model.SourceLocal)
	assert.True(t, IsFresh(got, window, now))

	s.Deactivate(token, model.SourceLocal)
	got, ok := s.Get(token, model.SourceLocal)
	require.True(t, ok, "deactivation must not delete the record")
	assert.False(t, IsFresh(got, window, now))

	require.NoError(t, s.Reactivate(token, model.SourceLocal))
	got, _ = s.Get(token, model.SourceLocal)
	assert.True(t, IsFresh(got, window, now))
}

func TestTokens(t *testing.T) {
	s := New()
	assert.Empty(t, s.Tokens())

	weth := model.NamedTokenID("WETH")
	usdc := model.NamedTokenID("USDC")
	s.Upsert(weth, model.SourceLocal, record(500, 1000))
	s.Upsert(weth, model.SourceRemote, record(700, 1000))
	s.Upsert(usdc, model.SourceLocal, record(300, 1000))

	tokens := s.Tokens()
	assert.Len(t, tokens, 2)
	assert.Contains(t, tokens, weth)
	assert.Contains(t, tokens, usdc)
}
