// Package validation bounds-checks inbound remote yield responses before
// they are allowed anywhere near the store. The relay that delivers them is
// untrusted, so every field is checked against configured limits.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/yieldmath"
)

var (
	// ErrTimestampOutOfWindow rejects timestamps outside the clock-skew
	// window. These are rejected, not clamped: a response dated an hour in
	// the past or minutes in the future is a stale or forged relay, not a
	// numeric edge case.
	ErrTimestampOutOfWindow = errors.New("response timestamp outside clock-skew window")

	// ErrTVLOutOfRange rejects TVL values above the sane maximum.
	ErrTVLOutOfRange = errors.New("response tvl above sane maximum")
)

// Options holds the limits applied to each inbound response.
type Options struct {
	// MaxClockSkewPast is how far in the past a response timestamp may be.
	MaxClockSkewPast time.Duration

	// MaxClockSkewFuture is how far ahead of local time it may be.
	MaxClockSkewFuture time.Duration

	// MaxTVL is the largest TVL accepted from a remote source.
	MaxTVL *uint256.Int
}

// DefaultOptions returns the deployment defaults: one hour of allowed lag,
// five minutes of allowed lead, TVL capped at 2^127 - 1.
func DefaultOptions() Options {
	one := uint256.NewInt(1)
	maxTVL := new(uint256.Int).Lsh(one, 127)
	maxTVL.Sub(maxTVL, one)
	return Options{
		MaxClockSkewPast:   time.Hour,
		MaxClockSkewFuture: 5 * time.Minute,
		MaxTVL:             maxTVL,
	}
}

// CheckResponse verifies the bounded fields of a response at time now.
// APY is not checked here; out-of-range APY is clamped by Normalize rather
// than rejected, because a too-high yield is a risk signal the optimizer
// down-weights, not transport corruption.
func CheckResponse(resp model.YieldResponse, now uint64, opts Options) error {
	past := uint64(opts.MaxClockSkewPast / time.Second)
	future := uint64(opts.MaxClockSkewFuture / time.Second)

	if resp.Timestamp+past < now || resp.Timestamp > now+future {
		logrus.WithFields(logrus.Fields{
			"request":   resp.RequestID.Hex(),
			"timestamp": resp.Timestamp,
			"now":       now,
		}).Debug("Rejected response timestamp")
		return fmt.Errorf("%w: ts=%d now=%d", ErrTimestampOutOfWindow, resp.Timestamp, now)
	}

	if opts.MaxTVL != nil && resp.TVL.Cmp(opts.MaxTVL) > 0 {
		logrus.WithFields(logrus.Fields{
			"request": resp.RequestID.Hex(),
			"tvl":     resp.TVL.String(),
		}).Debug("Rejected response tvl")
		return fmt.Errorf("%w: %s", ErrTVLOutOfRange, resp.TVL.String())
	}
	return nil
}

// Normalize clamps the response APY into the reasonable range. The clamp
// is lossy; callers store the clamped value.
func Normalize(resp model.YieldResponse) model.YieldResponse {
	resp.APYBps = yieldmath.ClampBps(resp.APYBps, 0, yieldmath.MaxReasonableAPYBps)
	return resp
}
