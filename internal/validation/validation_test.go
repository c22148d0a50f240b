package validation

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/yieldmath"
)

func response(ts uint64) model.YieldResponse {
	return model.YieldResponse{
		RequestID: model.RequestID(model.NamedTokenID("req-1")),
		Token:     model.NamedTokenID("WETH"),
		APYBps:    500,
		TVL:       *uint256.NewInt(1_000_000),
		Timestamp: ts,
	}
}

func TestCheckResponseTimestampWindow(t *testing.T) {
	now := uint64(10_000)
	opts := DefaultOptions() // 3600s past, 300s future

	tests := []struct {
		name    string
		ts      uint64
		wantErr bool
	}{
		{"current timestamp", 10_000, false},
		{"exactly at past edge", 6_400, false},
		{"one second too old", 6_399, true},
		{"exactly at future edge", 10_300, false},
		{"one second too far ahead", 10_301, true},
		{"zero timestamp", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckResponse(response(tt.ts), now, opts)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTimestampOutOfWindow)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckResponseTVLCap(t *testing.T) {
	now := uint64(10_000)
	opts := DefaultOptions()

	resp := response(now)
	resp.TVL = *new(uint256.Int).Set(opts.MaxTVL)
	assert.NoError(t, CheckResponse(resp, now, opts))

	resp.TVL = *new(uint256.Int).Add(opts.MaxTVL, uint256.NewInt(1))
	assert.ErrorIs(t, CheckResponse(resp, now, opts), ErrTVLOutOfRange)
}

func TestCheckResponseNilMaxTVL(t *testing.T) {
	now := uint64(10_000)
	opts := DefaultOptions()
	opts.MaxTVL = nil

	resp := response(now)
	resp.TVL = *new(uint256.Int).Not(uint256.NewInt(0))
	assert.NoError(t, CheckResponse(resp, now, opts))
}

func TestNormalizeClampsAPY(t *testing.T) {
	resp := response(10_000)
	resp.APYBps = yieldmath.MaxReasonableAPYBps + 9999

	got := Normalize(resp)
	assert.Equal(t, yieldmath.MaxReasonableAPYBps, got.APYBps)

	// In-range values pass through untouched.
	resp.APYBps = 750
	assert.Equal(t, uint32(750), Normalize(resp).APYBps)
}
