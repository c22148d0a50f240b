// Package store keeps the latest yield observation per (token, source)
// pair and answers freshness queries against it.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/yieldmath"
)

// Freshness window bounds. Deployments pick a window inside this range;
// anything outside is a configuration error, not a clamp.
const (
	MinFreshness = 30 * time.Second
	MaxFreshness = 3600 * time.Second
)

var (
	ErrUnknownToken           = errors.New("no record ever written for token and source")
	ErrInvalidFreshnessWindow = errors.New("freshness window outside allowed range")
)

type key struct {
	token  model.TokenID
	source model.Source
}

// Store holds one YieldRecord per (token, source). Records are overwritten
// in place and never deleted; emergency controls only flip the active flag.
type Store struct {
	mu      sync.RWMutex
	records map[key]model.YieldRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[key]model.YieldRecord)}
}

// Upsert overwrites the record for (token, source). The APY is clamped to
// the reasonable range on the way in, so a stored record can never violate
// the bound no matter what the caller observed.
func (s *Store) Upsert(token model.TokenID, source model.Source, record model.YieldRecord) {
	record.APYBps = yieldmath.ClampBps(record.APYBps, 0, yieldmath.MaxReasonableAPYBps)

	s.mu.Lock()
	s.records[key{token, source}] = record
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"token":   token.Hex(),
		"source":  source.String(),
		"apy_bps": record.APYBps,
	}).Debug("Yield record upserted")
}

// Get returns the record for (token, source) and whether one exists.
func (s *Store) Get(token model.TokenID, source model.Source) (model.YieldRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key{token, source}]
	return record, ok
}

// IsFresh reports whether a record is usable at time now for the given
// window: it must be active and no older than the window. Records
// timestamped in the future count as fresh here; the coordinator rejects
// future-dated responses before they are ever stored.
func IsFresh(record model.YieldRecord, maxAge time.Duration, now uint64) bool {
	if !record.Active {
		return false
	}
	if record.Timestamp > now {
		return true
	}
	return now-record.Timestamp <= uint64(maxAge/time.Second)
}

// ValidateFreshnessWindow rejects windows outside [MinFreshness, MaxFreshness].
func ValidateFreshnessWindow(window time.Duration) error {
	if window < MinFreshness || window > MaxFreshness {
		return ErrInvalidFreshnessWindow
	}
	return nil
}

// Deactivate marks the record inactive, making it permanently stale until
// reactivated. Missing records are a no-op: pausing a token that was never
// observed has nothing to pause.
func (s *Store) Deactivate(token model.TokenID, source model.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{token, source}
	if record, ok := s.records[k]; ok {
		record.Active = false
		s.records[k] = record
		logrus.WithFields(logrus.Fields{
			"token":  token.Hex(),
			"source": source.String(),
		}).Warn("Yield record deactivated")
	}
}

// Reactivate re-enables a previously deactivated record. Unlike Deactivate
// it fails on unknown pairs: reactivating nothing is a caller bug worth
// surfacing.
func (s *Store) Reactivate(token model.TokenID, source model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{token, source}
	record, ok := s.records[k]
	if !ok {
		return ErrUnknownToken
	}
	record.Active = true
	s.records[k] = record
	return nil
}

// Tokens returns every token that has at least one record, for status
// reporting.
func (s *Store) Tokens() []model.TokenID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[model.TokenID]struct{})
	tokens := make([]model.TokenID, 0, len(s.records))
	for k := range s.records {
		if _, ok := seen[k.token]; !ok {
			seen[k.token] = struct{}{}
			tokens = append(tokens, k.token)
		}
	}
	return tokens
}
