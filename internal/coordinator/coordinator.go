// Package coordinator drives the yield aggregation state machine: local
// refreshes, outbound cross-chain requests, inbound response handling with
// replay protection, timeout sweeps, and the optimized read path.
//
// Each token's state is an independently lockable unit. Updates to one
// token are serialized; different tokens progress fully in parallel. No
// network I/O ever happens under a token lock.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/crossyield/internal/breaker"
	"github.com/yourorg/crossyield/internal/codec"
	"github.com/yourorg/crossyield/internal/ledger"
	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/optimize"
	"github.com/yourorg/crossyield/internal/source"
	"github.com/yourorg/crossyield/internal/store"
	"github.com/yourorg/crossyield/internal/transport"
	"github.com/yourorg/crossyield/internal/types"
	"github.com/yourorg/crossyield/internal/validation"
)

// Coordinator-level errors
var (
	// ErrAlreadyPending rejects a second outstanding request for the same
	// token. At most one remote request per token is in flight at a time.
	ErrAlreadyPending = errors.New("remote request already pending for token")

	// ErrUnknownOrFinalizedRequest drops responses whose request id is
	// absent or already terminal. This is the replay guard's public face.
	ErrUnknownOrFinalizedRequest = errors.New("response for unknown or finalized request")

	// ErrLocalSourceUnavailable wraps a failed local refresh. Recoverable:
	// the previous record, if any, stays valid until it ages out.
	ErrLocalSourceUnavailable = errors.New("local source unavailable")

	// ErrResponseTokenMismatch drops responses whose token does not match
	// the request they claim to answer.
	ErrResponseTokenMismatch = errors.New("response token does not match request")
)

// Clock supplies protocol time. Injected so every time-dependent behavior
// is testable with synthetic clocks.
type Clock interface {
	Now() uint64
}

// SystemClock is the wall-clock implementation.
type SystemClock struct{}

func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// Config holds the coordinator's operating parameters.
type Config struct {
	// FreshnessWindow bounds how old a record may be and still contribute
	// to the optimized view. Must be within the store's allowed range.
	FreshnessWindow time.Duration

	// RequestTimeout is how long a request may stay Pending before the
	// sweep fails it.
	RequestTimeout time.Duration

	// Destination is where outbound requests are relayed.
	Destination types.Destination

	// Validation bounds applied to inbound responses.
	Validation validation.Options

	// Policy drives weight selection and risk scoring.
	Policy optimize.Policy
}

// Coordinator wires the store, ledger, codec, and external collaborators
// together.
type Coordinator struct {
	cfg       Config
	store     *store.Store
	ledger    *ledger.Ledger
	codec     *codec.Codec
	local     source.LocalSource
	transport transport.Transport
	clock     Clock
	breaker   *breaker.Breaker
	metrics   *Metrics

	mu         sync.Mutex
	tokenLocks map[model.TokenID]*sync.Mutex
}

// New creates a Coordinator. The breaker and metrics are optional; a nil
// clock defaults to the system clock.
func New(cfg Config, st *store.Store, lg *ledger.Ledger, cd *codec.Codec, local source.LocalSource, tp transport.Transport, clock Clock, brk *breaker.Breaker, metrics *Metrics) (*Coordinator, error) {
	if err := store.ValidateFreshnessWindow(cfg.FreshnessWindow); err != nil {
		return nil, fmt.Errorf("freshness window %s: %w", cfg.FreshnessWindow, err)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Coordinator{
		cfg:        cfg,
		store:      st,
		ledger:     lg,
		codec:      cd,
		local:      local,
		transport:  tp,
		clock:      clock,
		breaker:    brk,
		metrics:    metrics,
		tokenLocks: make(map[model.TokenID]*sync.Mutex),
	}, nil
}

// tokenLock returns the per-token mutex, creating it on first use.
func (c *Coordinator) tokenLock(token model.TokenID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lk, ok := c.tokenLocks[token]
	if !ok {
		lk = &sync.Mutex{}
		c.tokenLocks[token] = lk
	}
	return lk
}

// RefreshLocal pulls the current local observation for a token and stores
// it. Source failures leave the previous record untouched and count toward
// the breaker's consecutive-failure threshold.
func (c *Coordinator) RefreshLocal(ctx context.Context, token model.TokenID) error {
	obs, err := c.local.GetYield(ctx, token)
	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		if c.metrics != nil {
			c.metrics.localErrors.Inc()
		}
		return fmt.Errorf("%w: %v", ErrLocalSourceUnavailable, err)
	}

	record := model.YieldRecord{
		APYBps:    obs.APYBps,
		TVL:       obs.TVL,
		Timestamp: c.clock.Now(),
		Protocol:  obs.Protocol,
		Active:    true,
	}

	if c.breaker != nil {
		if err := c.breaker.Check(record); err != nil {
			if c.metrics != nil {
				c.metrics.localErrors.Inc()
			}
			return fmt.Errorf("%w: %v", ErrLocalSourceUnavailable, err)
		}
	}

	lk := c.tokenLock(token)
	lk.Lock()
	c.store.Upsert(token, model.SourceLocal, record)
	lk.Unlock()

	if c.metrics != nil {
		c.metrics.localRefreshes.Inc()
	}
	return nil
}

// RequestRemote issues a cross-chain yield request for a token. The ledger
// entry and the encoded message are produced under the token lock; the
// transport send happens after it is released. A synchronous send failure
// immediately fails the entry rather than leaving it Pending.
func (c *Coordinator) RequestRemote(ctx context.Context, token model.TokenID, requester model.ActorID) (model.RequestID, error) {
	lk := c.tokenLock(token)
	lk.Lock()

	if c.ledger.HasPending(token) {
		lk.Unlock()
		return model.RequestID{}, fmt.Errorf("%w: %s", ErrAlreadyPending, token.Hex())
	}

	now := c.clock.Now()
	id, err := c.ledger.Create(token, requester, now)
	if err != nil {
		lk.Unlock()
		return model.RequestID{}, err
	}

	raw, err := c.codec.EncodeRequest(model.YieldRequest{
		ID:        id,
		Token:     token,
		Requester: requester,
		CreatedAt: now,
	})
	if err != nil {
		_ = c.ledger.MarkFailed(id)
		lk.Unlock()
		return model.RequestID{}, err
	}
	lk.Unlock()

	if err := c.transport.Send(ctx, c.cfg.Destination, raw, c.cfg.Destination.Fee); err != nil {
		lk.Lock()
		if markErr := c.ledger.MarkFailed(id); markErr != nil {
			logrus.WithError(markErr).WithField("request", id.Hex()).Warn("Could not fail request after send error")
		}
		lk.Unlock()
		if c.metrics != nil {
			c.metrics.sendFailures.Inc()
		}
		return id, fmt.Errorf("sending yield request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.requestsSent.Inc()
	}
	logrus.WithFields(logrus.Fields{
		"request": id.Hex(),
		"token":   token.Hex(),
		"chain":   c.cfg.Destination.Chain,
	}).Info("Remote yield request sent")
	return id, nil
}

// OnRemoteMessage handles one inbound transport delivery. Every failure
// mode drops the message: decode and integrity errors are counted and
// logged, replays surface as ErrUnknownOrFinalizedRequest, and validation
// rejects leave the request Pending for a later, valid redelivery. The
// returned error is observability for the caller, never fatal.
func (c *Coordinator) OnRemoteMessage(raw []byte) error {
	msg, err := codec.Decode(raw)
	if err != nil {
		c.drop(dropReason(err), err, nil)
		return err
	}

	resp, err := codec.DecodeResponse(msg)
	if err != nil {
		c.drop(dropReason(err), err, nil)
		return err
	}

	record, ok := c.ledger.Get(resp.RequestID)
	if !ok || record.Status.Terminal() {
		err := fmt.Errorf("%w: %s", ErrUnknownOrFinalizedRequest, resp.RequestID.Hex())
		c.drop("replay_or_unknown", err, &resp.RequestID)
		return err
	}
	if record.Token != resp.Token {
		err := fmt.Errorf("%w: request %s", ErrResponseTokenMismatch, resp.RequestID.Hex())
		c.drop("token_mismatch", err, &resp.RequestID)
		return err
	}

	lk := c.tokenLock(record.Token)
	lk.Lock()
	defer lk.Unlock()

	now := c.clock.Now()
	if err := validation.CheckResponse(resp, now, c.cfg.Validation); err != nil {
		c.drop("validation", err, &resp.RequestID)
		return err
	}
	resp = validation.Normalize(resp)

	// Mark-as-seen before the state update. A concurrent duplicate loses
	// here and is dropped, no matter how the deliveries interleave.
	if err := c.ledger.Consume(resp.RequestID); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrUnknownOrFinalizedRequest, err)
		c.drop("replay_or_unknown", wrapped, &resp.RequestID)
		return wrapped
	}

	c.store.Upsert(record.Token, model.SourceRemote, model.YieldRecord{
		APYBps:    resp.APYBps,
		TVL:       resp.TVL,
		Timestamp: resp.Timestamp,
		Protocol:  resp.Protocol,
		Active:    true,
	})

	if err := c.ledger.MarkCompleted(resp.RequestID); err != nil {
		// Consume succeeded, so nothing else can have finalized this id.
		logrus.WithError(err).WithField("request", resp.RequestID.Hex()).Error("Could not complete consumed request")
	}

	if c.metrics != nil {
		c.metrics.responsesApplied.Inc()
	}
	logrus.WithFields(logrus.Fields{
		"request": resp.RequestID.Hex(),
		"token":   record.Token.Hex(),
		"apy_bps": resp.APYBps,
	}).Info("Remote yield response applied")
	return nil
}

// Tick runs the timeout sweep. Timed-out tokens need no further action:
// the optimized view degrades to local-only on its own once the remote
// record ages out or never arrives.
func (c *Coordinator) Tick() []model.RequestID {
	expired := c.ledger.SweepTimeouts(c.clock.Now(), uint64(c.cfg.RequestTimeout/time.Second))
	if c.metrics != nil && len(expired) > 0 {
		c.metrics.requestTimeouts.Add(float64(len(expired)))
	}
	return expired
}

// OptimizedView computes the current risk-adjusted view for a token from
// whatever records are fresh right now.
func (c *Coordinator) OptimizedView(token model.TokenID) (model.OptimizedView, error) {
	var localPtr, remotePtr *model.YieldRecord
	if rec, ok := c.store.Get(token, model.SourceLocal); ok {
		localPtr = &rec
	}
	if rec, ok := c.store.Get(token, model.SourceRemote); ok {
		remotePtr = &rec
	}

	view, err := optimize.Optimize(localPtr, remotePtr, c.clock.Now(), c.cfg.FreshnessWindow, c.cfg.Policy)
	if err != nil {
		return model.OptimizedView{}, err
	}
	view.Token = token
	return view, nil
}

// IsProcessed reports whether a request id has been acted on (terminal or
// claimed by the replay guard).
func (c *Coordinator) IsProcessed(id model.RequestID) bool {
	return c.ledger.IsProcessed(id)
}

// Pause marks a (token, source) record inactive; an emergency control.
func (c *Coordinator) Pause(token model.TokenID, src model.Source) {
	lk := c.tokenLock(token)
	lk.Lock()
	defer lk.Unlock()
	c.store.Deactivate(token, src)
}

// Resume re-enables a paused record.
func (c *Coordinator) Resume(token model.TokenID, src model.Source) error {
	lk := c.tokenLock(token)
	lk.Lock()
	defer lk.Unlock()
	return c.store.Reactivate(token, src)
}

// PendingRequests returns the number of outstanding remote requests.
func (c *Coordinator) PendingRequests() int {
	return c.ledger.PendingCount()
}

func (c *Coordinator) drop(reason string, err error, id *model.RequestID) {
	if c.metrics != nil {
		c.metrics.messagesDropped.WithLabelValues(reason).Inc()
	}
	fields := logrus.Fields{"reason": reason}
	if id != nil {
		fields["request"] = id.Hex()
	}
	logrus.WithError(err).WithFields(fields).Warn("Inbound message dropped")
}

// dropReason maps codec errors to metric labels.
func dropReason(err error) string {
	switch {
	case errors.Is(err, codec.ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, codec.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, codec.ErrWrongMessageType):
		return "wrong_message_type"
	case errors.Is(err, codec.ErrMessageSize):
		return "message_size"
	default:
		return "malformed"
	}
}
