// Package ledger tracks every cross-chain request ever issued: pending
// entries awaiting a response, terminal entries retained for audit, and the
// replay-guard set that makes duplicate deliveries a no-op.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/crossyield/internal/model"
)

// Protocol-state errors. These indicate caller or environment bugs and are
// surfaced, never swallowed: masking them would reopen the double-processing
// hole the ledger exists to close.
var (
	ErrIDCollision      = errors.New("request id collision")
	ErrUnknownRequest   = errors.New("unknown request id")
	ErrAlreadyFinalized = errors.New("request already finalized")
	ErrAlreadyProcessed = errors.New("request already consumed by replay guard")
)

// Ledger is an in-memory request ledger. Entries are never physically
// deleted; replay detection depends on completed ids staying resolvable.
type Ledger struct {
	mu       sync.Mutex
	requests map[model.RequestID]model.RequestRecord
	pending  map[model.TokenID]map[model.RequestID]struct{}
	// consumed marks ids the replay guard has claimed before their ledger
	// finalization completed. Mark-as-seen happens before processing, so a
	// duplicate in-flight response loses the race instead of double
	// applying.
	consumed map[model.RequestID]struct{}
	entropy  io.Reader
}

// New creates an empty ledger drawing request-id entropy from the given
// reader.
func New(entropy io.Reader) *Ledger {
	return &Ledger{
		requests: make(map[model.RequestID]model.RequestRecord),
		pending:  make(map[model.TokenID]map[model.RequestID]struct{}),
		consumed: make(map[model.RequestID]struct{}),
		entropy:  entropy,
	}
}

// Create registers a new Pending request and returns its id. The id is the
// keccak of (token, requester, now, 32 entropy bytes); a collision is fatal
// to the caller because it means the entropy source is broken, and retrying
// with the same source would produce the same id.
func (l *Ledger) Create(token model.TokenID, requester model.ActorID, now uint64) (model.RequestID, error) {
	var seed [32]byte
	if _, err := io.ReadFull(l.entropy, seed[:]); err != nil {
		return model.RequestID{}, fmt.Errorf("reading id entropy: %w", err)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], now)
	var id model.RequestID
	copy(id[:], crypto.Keccak256(token[:], requester[:], ts[:], seed[:]))

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.requests[id]; exists {
		return model.RequestID{}, fmt.Errorf("%w: %s", ErrIDCollision, id.Hex())
	}

	l.requests[id] = model.RequestRecord{
		ID:        id,
		Token:     token,
		Requester: requester,
		CreatedAt: now,
		Status:    model.StatusPending,
	}
	if l.pending[token] == nil {
		l.pending[token] = make(map[model.RequestID]struct{})
	}
	l.pending[token][id] = struct{}{}

	logrus.WithFields(logrus.Fields{
		"request": id.Hex(),
		"token":   token.Hex(),
	}).Debug("Request created")
	return id, nil
}

// Get returns the record for an id, if it exists.
func (l *Ledger) Get(id model.RequestID) (model.RequestRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.requests[id]
	return record, ok
}

// MarkCompleted finalizes a Pending request as Completed.
func (l *Ledger) MarkCompleted(id model.RequestID) error {
	return l.finalize(id, model.StatusCompleted)
}

// MarkFailed finalizes a Pending request as Failed.
func (l *Ledger) MarkFailed(id model.RequestID) error {
	return l.finalize(id, model.StatusFailed)
}

// MarkCancelled finalizes a Pending request as Cancelled.
func (l *Ledger) MarkCancelled(id model.RequestID) error {
	return l.finalize(id, model.StatusCancelled)
}

func (l *Ledger) finalize(id model.RequestID, status model.RequestStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalizeLocked(id, status)
}

func (l *Ledger) finalizeLocked(id model.RequestID, status model.RequestStatus) error {
	record, ok := l.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id.Hex())
	}
	if record.Status != model.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, id.Hex(), record.Status)
	}

	record.Status = status
	l.requests[id] = record
	delete(l.pending[record.Token], id)

	logrus.WithFields(logrus.Fields{
		"request": id.Hex(),
		"token":   record.Token.Hex(),
		"status":  status.String(),
	}).Debug("Request finalized")
	return nil
}

// Consume claims an id for processing. The first caller wins; every later
// call, including byte-identical redeliveries, gets ErrAlreadyProcessed.
// Claiming happens before the state update it protects.
func (l *Ledger) Consume(id model.RequestID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id.Hex())
	}
	if record.Status != model.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyProcessed, id.Hex(), record.Status)
	}
	if _, seen := l.consumed[id]; seen {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, id.Hex())
	}
	l.consumed[id] = struct{}{}
	return nil
}

// IsProcessed reports whether an id has reached a terminal state or has
// been claimed by the replay guard, whichever came first.
func (l *Ledger) IsProcessed(id model.RequestID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, seen := l.consumed[id]; seen {
		return true
	}
	record, ok := l.requests[id]
	return ok && record.Status.Terminal()
}

// PendingFor returns the id of the Pending request for a token, if any.
func (l *Ledger) PendingFor(token model.TokenID) (model.RequestID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.pending[token] {
		return id, true
	}
	return model.RequestID{}, false
}

// HasPending reports whether a token has an outstanding request.
func (l *Ledger) HasPending(token model.TokenID) bool {
	_, ok := l.PendingFor(token)
	return ok
}

// PendingCount returns the number of outstanding requests across all tokens.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ids := range l.pending {
		n += len(ids)
	}
	return n
}

// SweepTimeouts transitions every Pending request older than timeoutSeconds
// to Failed and returns their ids. This is the only path out of Pending
// that does not involve an explicit response; there is no silent expiry.
func (l *Ledger) SweepTimeouts(now, timeoutSeconds uint64) []model.RequestID {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []model.RequestID
	for _, ids := range l.pending {
		for id := range ids {
			// A consumed id has a response mid-application; the sweep must
			// not fail it out from under that response.
			if _, seen := l.consumed[id]; seen {
				continue
			}
			record := l.requests[id]
			if now > record.CreatedAt && now-record.CreatedAt > timeoutSeconds {
				expired = append(expired, id)
			}
		}
	}
	for _, id := range expired {
		if err := l.finalizeLocked(id, model.StatusFailed); err != nil {
			// Unreachable for ids taken from the pending index, but a sweep
			// must never abort halfway.
			logrus.WithError(err).WithField("request", id.Hex()).Warn("Timeout sweep could not finalize request")
		}
	}
	if len(expired) > 0 {
		logrus.WithField("count", len(expired)).Info("Timed-out requests failed by sweep")
	}
	return expired
}
