// Package model defines the core data structures shared across the yield
// optimizer: opaque identifiers, per-source yield records, cross-chain
// request records, and the on-wire message types.
package model

import (
	"encoding/hex"

	"github.com/holiman/uint256"
)

// TokenID identifies a token. Opaque 32-byte value; decoding it to a
// human-readable symbol is a presentation concern.
type TokenID [32]byte

// ActorID identifies a requester or message sender.
type ActorID [32]byte

// ProtocolID identifies the protocol a yield record was observed on.
type ProtocolID [32]byte

// RequestID identifies a single cross-chain request for its whole lifetime.
type RequestID [32]byte

// Hex returns the lowercase hex encoding of the id.
func (t TokenID) Hex() string    { return hex.EncodeToString(t[:]) }
func (a ActorID) Hex() string    { return hex.EncodeToString(a[:]) }
func (p ProtocolID) Hex() string { return hex.EncodeToString(p[:]) }
func (r RequestID) Hex() string  { return hex.EncodeToString(r[:]) }

// IsZero reports whether the id is all zero bytes.
func (t TokenID) IsZero() bool   { return t == TokenID{} }
func (a ActorID) IsZero() bool   { return a == ActorID{} }
func (r RequestID) IsZero() bool { return r == RequestID{} }

// NamedTokenID builds a TokenID from an ASCII label, zero padded. Labels
// longer than 32 bytes are truncated.
func NamedTokenID(label string) TokenID {
	var t TokenID
	copy(t[:], label)
	return t
}

// NamedActorID builds an ActorID from an ASCII label, zero padded.
func NamedActorID(label string) ActorID {
	var a ActorID
	copy(a[:], label)
	return a
}

// Source is one of the two yield data sources. A closed enum: the optimizer
// works over exactly one local lending-protocol source and one remote source
// behind the cross-chain channel.
type Source int

// Yield data sources
const (
	SourceLocal Source = iota
	SourceRemote
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// YieldRecord is the latest observation for one (token, source) pair.
// APYBps is always within [0, MaxReasonableAPYBps] by the time it is stored;
// out-of-range inputs are clamped at the boundary that produced them.
type YieldRecord struct {
	APYBps    uint32      `json:"apy_bps"`
	TVL       uint256.Int `json:"tvl"`
	Timestamp uint64      `json:"timestamp"`
	Protocol  ProtocolID  `json:"-"`
	Active    bool        `json:"active"`
}

// RequestStatus is the lifecycle state of a cross-chain request.
// Transitions are one-shot: Pending moves to exactly one terminal state and
// never back.
type RequestStatus int

// Request lifecycle states
const (
	StatusPending RequestStatus = iota
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one of the final states.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RequestRecord is one outstanding or historical cross-chain request.
// Records are retained after completion so replayed responses can be
// recognized and dropped.
type RequestRecord struct {
	ID        RequestID
	Token     TokenID
	Requester ActorID
	CreatedAt uint64
	Status    RequestStatus
}

// MessageType discriminates the on-wire message payloads.
type MessageType byte

// On-wire message types
const (
	MessageTypeYieldRequest  MessageType = 0x01
	MessageTypeYieldResponse MessageType = 0x02
	MessageTypeBatchRequest  MessageType = 0x03
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeYieldRequest:
		return "yield_request"
	case MessageTypeYieldResponse:
		return "yield_response"
	case MessageTypeBatchRequest:
		return "batch_request"
	default:
		return "unknown"
	}
}

// Valid reports whether the discriminant is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeYieldRequest || t == MessageTypeYieldResponse || t == MessageTypeBatchRequest
}

// Header carries the envelope fields of an on-wire message.
type Header struct {
	Type      MessageType
	Version   uint32
	Timestamp uint64
	Sender    ActorID
	Nonce     [32]byte
}

// Message is the decoded on-wire unit. Checksum covers header and payload
// and is verified before any payload field is trusted.
type Message struct {
	Header   Header
	Payload  []byte
	Checksum [32]byte
}

// YieldRequest asks the remote side for the current yield of one token.
type YieldRequest struct {
	ID        RequestID
	Token     TokenID
	Requester ActorID
	CreatedAt uint64
}

// YieldResponse carries the remote observation back, keyed by the request id
// it answers.
type YieldResponse struct {
	RequestID RequestID
	Token     TokenID
	Protocol  ProtocolID
	APYBps    uint32
	TVL       uint256.Int
	Timestamp uint64
}

// BatchRequest bundles several yield requests into one message.
type BatchRequest struct {
	Requests []YieldRequest
}

// OptimizedView is the derived, never-persisted per-token result. It is
// recomputed from the underlying records on every read, so it cannot go
// stale independently of its inputs.
type OptimizedView struct {
	Token             TokenID  `json:"-"`
	OptimizedAPYBps   uint32   `json:"optimized_apy_bps"`
	CombinedRiskScore uint32   `json:"combined_risk_score"`
	Sources           []Source `json:"-"`
	SourceNames       []string `json:"contributing_sources"`
	ComputedAt        uint64   `json:"computed_at"`
}
