// Package breaker guards the local data source: absurd APY observations,
// drastic TVL jumps, or a run of source failures open the circuit, and the
// coordinator keeps serving the last good record until the source proves
// itself again.
package breaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/yieldmath"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, observations rejected
	StateHalfOpen              // Testing if the source has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the circuit rejects observations.
var ErrOpen = errors.New("circuit breaker open: local source protection engaged")

// Thresholds defines the limits that trip the breaker.
type Thresholds struct {
	// MaxAPYBps is the largest APY observation accepted from the source.
	MaxAPYBps uint32

	// MaxTVLChangeBps bounds the TVL swing between consecutive
	// observations (5000 = 50%). Zero disables the check.
	MaxTVLChangeBps uint64

	// MaxConsecutiveFailures is how many source errors in a row open the
	// circuit. Zero disables the check.
	MaxConsecutiveFailures int
}

// Breaker implements the circuit breaker over single local-source
// observations.
type Breaker struct {
	thresholds Thresholds

	mu               sync.Mutex
	state            State
	lastTrip         time.Time
	resetDelay       time.Duration
	successCount     int
	successThreshold int
	failureCount     int

	lastGood    model.YieldRecord
	hasLastGood bool

	onTrip func(reason string)
}

// New creates a Breaker with the provided thresholds.
func New(t Thresholds) *Breaker {
	return &Breaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
	}
}

// WithResetDelay sets the cooldown before a half-open recovery attempt.
func (b *Breaker) WithResetDelay(delay time.Duration) *Breaker {
	b.resetDelay = delay
	return b
}

// WithSuccessThreshold sets how many accepted observations close a
// half-open circuit.
func (b *Breaker) WithSuccessThreshold(threshold int) *Breaker {
	b.successThreshold = threshold
	return b
}

// WithTripCallback registers a callback invoked whenever the circuit trips.
func (b *Breaker) WithTripCallback(callback func(reason string)) *Breaker {
	b.onTrip = callback
	return b
}

// Check evaluates a fresh observation. An open circuit past its cooldown
// moves to half-open and lets the observation through for evaluation; an
// open circuit inside the cooldown rejects it outright.
func (b *Breaker) Check(record model.YieldRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastTrip) <= b.resetDelay {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.successCount = 0
		logrus.Info("Circuit breaker half-open: testing local source recovery")
	}

	if record.APYBps > b.thresholds.MaxAPYBps {
		reason := fmt.Sprintf("APY exceeds maximum threshold: %d > %d bps", record.APYBps, b.thresholds.MaxAPYBps)
		b.trip(reason)
		return errors.New(reason)
	}

	if b.thresholds.MaxTVLChangeBps > 0 && b.hasLastGood && !b.lastGood.TVL.IsZero() {
		if jumpBps, drastic := tvlJumpBps(&b.lastGood.TVL, &record.TVL, b.thresholds.MaxTVLChangeBps); drastic {
			reason := fmt.Sprintf("TVL change too drastic: %d bps (threshold: %d bps)", jumpBps, b.thresholds.MaxTVLChangeBps)
			b.trip(reason)
			return errors.New(reason)
		}
	}

	b.failureCount = 0
	b.lastGood = record
	b.hasLastGood = true

	if b.state == StateHalfOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.successCount = 0
			logrus.Info("Circuit breaker closed: local source has recovered")
		}
	}
	return nil
}

// RecordFailure counts a source error. Enough of them in a row trips the
// circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.thresholds.MaxConsecutiveFailures > 0 &&
		b.failureCount >= b.thresholds.MaxConsecutiveFailures &&
		b.state != StateOpen {
		b.trip(fmt.Sprintf("local source failed %d consecutive times", b.failureCount))
	}
}

// GetState returns the current state of the circuit breaker.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forcibly closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.successCount = 0
	b.failureCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGood returns the most recent accepted observation, if any.
func (b *Breaker) LastGood() (model.YieldRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastGood, b.hasLastGood
}

// trip opens the circuit. Callers hold b.mu.
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.lastTrip = time.Now()
	b.failureCount = 0
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if b.onTrip != nil {
		go b.onTrip(reason)
	}
}

// tvlJumpBps computes |current-old|/old in basis points and reports
// whether it exceeds the threshold. Integer arithmetic throughout; the
// magnitudes are 128-bit so the intermediate product stays well inside 256
// bits.
func tvlJumpBps(old, current *uint256.Int, thresholdBps uint64) (uint64, bool) {
	diff := new(uint256.Int)
	if current.Cmp(old) >= 0 {
		diff.Sub(current, old)
	} else {
		diff.Sub(old, current)
	}
	diff.Mul(diff, uint256.NewInt(yieldmath.BpsDenominator))
	diff.Div(diff, old)
	if !diff.IsUint64() {
		return math.MaxUint64, true
	}
	jump := diff.Uint64()
	return jump, jump > thresholdBps
}
