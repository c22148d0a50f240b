// Package codec encodes and decodes the typed, versioned, checksummed
// messages that cross the transport boundary. Decoding treats every byte as
// attacker controlled: any inconsistency rejects the message, nothing is
// defaulted.
//
// Wire layout:
//
//	[type:1][version:4][timestamp:8][sender:32][nonce:32][payload_len:4][payload:N][checksum:32]
//
// The checksum is Keccak-256 over everything before it.
package codec

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/yieldmath"
)

// Wire sizing and version gate
const (
	HeaderSize   = 1 + 4 + 8 + 32 + 32 + 4
	ChecksumSize = 32

	MinMessageSize = 64
	MaxMessageSize = 32768

	MinSupportedVersion uint32 = 1
	MaxSupportedVersion uint32 = 2
	CurrentVersion      uint32 = 1

	requestPayloadSize  = 32 + 32 + 32 + 8
	responsePayloadSize = 32 + 32 + 32 + 4 + 16 + 8

	// MaxBatchSize caps how many requests one batch message may carry.
	MaxBatchSize = 32
)

// Decode and validation errors
var (
	ErrInvalidRequest     = fmt.Errorf("invalid yield request")
	ErrInvalidResponse    = fmt.Errorf("invalid yield response")
	ErrMessageSize        = fmt.Errorf("message size out of bounds")
	ErrChecksumMismatch   = fmt.Errorf("checksum mismatch")
	ErrWrongMessageType   = fmt.Errorf("wrong message type")
	ErrUnsupportedVersion = fmt.Errorf("unsupported message version")
	ErrMalformed          = fmt.Errorf("malformed message")
)

// Codec builds outbound messages on behalf of a fixed sender. Decoding is
// stateless and exposed as package functions.
type Codec struct {
	sender model.ActorID
	now    func() uint64
	// entropy feeds message nonces; crypto/rand in production, a
	// deterministic reader in tests.
	entropy io.Reader
	// requestTimeout bounds how stale a request's CreatedAt may be at
	// encode time, in seconds.
	requestTimeout uint64
}

// New creates a Codec. A nil entropy reader falls back to crypto/rand.
func New(sender model.ActorID, now func() uint64, entropy io.Reader, requestTimeout uint64) *Codec {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Codec{
		sender:         sender,
		now:            now,
		entropy:        entropy,
		requestTimeout: requestTimeout,
	}
}

// EncodeRequest validates and encodes a yield request.
func (c *Codec) EncodeRequest(req model.YieldRequest) ([]byte, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}
	return c.seal(model.MessageTypeYieldRequest, encodeRequestPayload(req))
}

// EncodeResponse validates and encodes a yield response. Beyond the
// non-null checks it requires the APY to already be within the reasonable
// range and the TVL to fit 128 bits.
func (c *Codec) EncodeResponse(resp model.YieldResponse) ([]byte, error) {
	if resp.RequestID.IsZero() || resp.Token.IsZero() {
		return nil, fmt.Errorf("%w: null identifier", ErrInvalidResponse)
	}
	if resp.APYBps > yieldmath.MaxReasonableAPYBps {
		return nil, fmt.Errorf("%w: apy %d bps above maximum", ErrInvalidResponse, resp.APYBps)
	}
	if !yieldmath.FitsUint128(&resp.TVL) {
		return nil, fmt.Errorf("%w: tvl exceeds 128 bits", ErrInvalidResponse)
	}
	return c.seal(model.MessageTypeYieldResponse, encodeResponsePayload(resp))
}

// EncodeBatchRequest validates and encodes up to MaxBatchSize requests in
// one message.
func (c *Codec) EncodeBatchRequest(batch model.BatchRequest) ([]byte, error) {
	if len(batch.Requests) == 0 || len(batch.Requests) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d requests", ErrInvalidRequest, len(batch.Requests))
	}
	for _, req := range batch.Requests {
		if err := c.validateRequest(req); err != nil {
			return nil, err
		}
	}
	payload := make([]byte, 2, 2+len(batch.Requests)*requestPayloadSize)
	binary.BigEndian.PutUint16(payload, uint16(len(batch.Requests)))
	for _, req := range batch.Requests {
		payload = append(payload, encodeRequestPayload(req)...)
	}
	return c.seal(model.MessageTypeBatchRequest, payload)
}

func (c *Codec) validateRequest(req model.YieldRequest) error {
	if req.ID.IsZero() || req.Token.IsZero() || req.Requester.IsZero() {
		return fmt.Errorf("%w: null identifier", ErrInvalidRequest)
	}
	now := c.now()
	if req.CreatedAt > now {
		return fmt.Errorf("%w: created_at in the future", ErrInvalidRequest)
	}
	if now-req.CreatedAt >= c.requestTimeout {
		return fmt.Errorf("%w: created_at older than request timeout", ErrInvalidRequest)
	}
	return nil
}

// seal wraps a payload with header and checksum.
func (c *Codec) seal(msgType model.MessageType, payload []byte) ([]byte, error) {
	var nonce [32]byte
	if _, err := io.ReadFull(c.entropy, nonce[:]); err != nil {
		return nil, fmt.Errorf("reading nonce entropy: %w", err)
	}

	raw := make([]byte, 0, HeaderSize+len(payload)+ChecksumSize)
	raw = append(raw, byte(msgType))
	raw = binary.BigEndian.AppendUint32(raw, CurrentVersion)
	raw = binary.BigEndian.AppendUint64(raw, c.now())
	raw = append(raw, c.sender[:]...)
	raw = append(raw, nonce[:]...)
	raw = binary.BigEndian.AppendUint32(raw, uint32(len(payload)))
	raw = append(raw, payload...)

	sum := crypto.Keccak256(raw)
	raw = append(raw, sum...)

	if len(raw) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageSize, len(raw))
	}
	return raw, nil
}

// Decode parses and verifies an on-wire message: size bounds, structural
// consistency, checksum, version gate, and a known type discriminant, in
// that order. The returned payload is a copy; the input may be reused.
func Decode(raw []byte) (model.Message, error) {
	var msg model.Message

	if len(raw) < MinMessageSize || len(raw) > MaxMessageSize {
		return msg, fmt.Errorf("%w: %d bytes", ErrMessageSize, len(raw))
	}
	if len(raw) < HeaderSize+ChecksumSize {
		return msg, fmt.Errorf("%w: shorter than header", ErrMalformed)
	}

	payloadLen := binary.BigEndian.Uint32(raw[77:81])
	if HeaderSize+int(payloadLen)+ChecksumSize != len(raw) {
		return msg, fmt.Errorf("%w: payload length %d does not match message size", ErrMalformed, payloadLen)
	}

	body := raw[:len(raw)-ChecksumSize]
	declared := raw[len(raw)-ChecksumSize:]
	if !bytes.Equal(crypto.Keccak256(body), declared) {
		return msg, ErrChecksumMismatch
	}

	msg.Header.Type = model.MessageType(raw[0])
	msg.Header.Version = binary.BigEndian.Uint32(raw[1:5])
	msg.Header.Timestamp = binary.BigEndian.Uint64(raw[5:13])
	copy(msg.Header.Sender[:], raw[13:45])
	copy(msg.Header.Nonce[:], raw[45:77])
	copy(msg.Checksum[:], declared)
	msg.Payload = append([]byte(nil), raw[HeaderSize:len(raw)-ChecksumSize]...)

	if msg.Header.Version < MinSupportedVersion || msg.Header.Version > MaxSupportedVersion {
		return model.Message{}, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, msg.Header.Version)
	}
	if !msg.Header.Type.Valid() {
		return model.Message{}, fmt.Errorf("%w: unknown type 0x%02x", ErrMalformed, raw[0])
	}
	return msg, nil
}

// DecodeRequest extracts a yield request from a decoded message.
func DecodeRequest(msg model.Message) (model.YieldRequest, error) {
	if msg.Header.Type != model.MessageTypeYieldRequest {
		return model.YieldRequest{}, fmt.Errorf("%w: got %s", ErrWrongMessageType, msg.Header.Type)
	}
	if len(msg.Payload) != requestPayloadSize {
		return model.YieldRequest{}, fmt.Errorf("%w: request payload of %d bytes", ErrMalformed, len(msg.Payload))
	}
	return decodeRequestPayload(msg.Payload), nil
}

// DecodeResponse extracts a yield response from a decoded message.
func DecodeResponse(msg model.Message) (model.YieldResponse, error) {
	if msg.Header.Type != model.MessageTypeYieldResponse {
		return model.YieldResponse{}, fmt.Errorf("%w: got %s", ErrWrongMessageType, msg.Header.Type)
	}
	if len(msg.Payload) != responsePayloadSize {
		return model.YieldResponse{}, fmt.Errorf("%w: response payload of %d bytes", ErrMalformed, len(msg.Payload))
	}

	var resp model.YieldResponse
	p := msg.Payload
	copy(resp.RequestID[:], p[0:32])
	copy(resp.Token[:], p[32:64])
	copy(resp.Protocol[:], p[64:96])
	resp.APYBps = binary.BigEndian.Uint32(p[96:100])
	resp.TVL = *new(uint256.Int).SetBytes(p[100:116])
	resp.Timestamp = binary.BigEndian.Uint64(p[116:124])
	return resp, nil
}

// DecodeBatchRequest extracts a batch of yield requests from a decoded
// message.
func DecodeBatchRequest(msg model.Message) (model.BatchRequest, error) {
	if msg.Header.Type != model.MessageTypeBatchRequest {
		return model.BatchRequest{}, fmt.Errorf("%w: got %s", ErrWrongMessageType, msg.Header.Type)
	}
	if len(msg.Payload) < 2 {
		return model.BatchRequest{}, fmt.Errorf("%w: batch payload too short", ErrMalformed)
	}
	count := int(binary.BigEndian.Uint16(msg.Payload[0:2]))
	if count == 0 || count > MaxBatchSize {
		return model.BatchRequest{}, fmt.Errorf("%w: batch count %d", ErrMalformed, count)
	}
	if len(msg.Payload) != 2+count*requestPayloadSize {
		return model.BatchRequest{}, fmt.Errorf("%w: batch payload of %d bytes for %d requests", ErrMalformed, len(msg.Payload), count)
	}

	batch := model.BatchRequest{Requests: make([]model.YieldRequest, 0, count)}
	for i := 0; i < count; i++ {
		offset := 2 + i*requestPayloadSize
		batch.Requests = append(batch.Requests, decodeRequestPayload(msg.Payload[offset:offset+requestPayloadSize]))
	}
	return batch, nil
}

// MessageTypeOf inspects a raw message's type without committing to a full
// decode. It never fails: unparseable input yields (0, false). Routing
// logic uses it to pick a decode path before paying for verification.
func MessageTypeOf(raw []byte) (model.MessageType, bool) {
	if len(raw) < MinMessageSize || len(raw) > MaxMessageSize || len(raw) < HeaderSize+ChecksumSize {
		return 0, false
	}
	t := model.MessageType(raw[0])
	if !t.Valid() {
		return 0, false
	}
	return t, true
}

// IsSupported reports whether the raw bytes decode fully, including
// checksum and version verification. Never fails; any decode error means
// false.
func IsSupported(raw []byte) bool {
	_, err := Decode(raw)
	return err == nil
}

func encodeRequestPayload(req model.YieldRequest) []byte {
	p := make([]byte, 0, requestPayloadSize)
	p = append(p, req.ID[:]...)
	p = append(p, req.Token[:]...)
	p = append(p, req.Requester[:]...)
	p = binary.BigEndian.AppendUint64(p, req.CreatedAt)
	return p
}

func decodeRequestPayload(p []byte) model.YieldRequest {
	var req model.YieldRequest
	copy(req.ID[:], p[0:32])
	copy(req.Token[:], p[32:64])
	copy(req.Requester[:], p[64:96])
	req.CreatedAt = binary.BigEndian.Uint64(p[96:104])
	return req
}

func encodeResponsePayload(resp model.YieldResponse) []byte {
	p := make([]byte, 0, responsePayloadSize)
	p = append(p, resp.RequestID[:]...)
	p = append(p, resp.Token[:]...)
	p = append(p, resp.Protocol[:]...)
	p = binary.BigEndian.AppendUint32(p, resp.APYBps)
	tvl := resp.TVL.Bytes32()
	p = append(p, tvl[16:]...)
	p = binary.BigEndian.AppendUint64(p, resp.Timestamp)
	return p
}
