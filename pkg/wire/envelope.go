// Package wire defines the on-the-wire envelope format and the newline-JSON
// framing that carries it between peers.
package wire

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"lukechampine.com/blake3"

	"github.com/WebFirstLanguage/hivemesh/pkg/codec/joncanon"
	"github.com/WebFirstLanguage/hivemesh/pkg/identity"
)

// Payload kinds.
const (
	KindChatMessage = "chat_message"
	KindInvite      = "invite"
)

// Payload is the signed content of an envelope. channel_id lives inside the
// payload deliberately — it is covered by the signature, so a message
// cannot be re-targeted at a different channel without breaking it.
//
// Extra holds any payload fields this build doesn't recognize — a newer
// protocol version's extension, say. They round-trip through Unmarshal and
// Marshal untouched, so a field this code can't interpret still survives a
// forward (spec.md §6: an envelope passes through opaque to fields unknown
// to the reader) instead of being silently dropped by the fixed schema.
type Payload struct {
	ChannelID    string `json:"channel_id"`
	Kind         string `json:"kind"`
	Content      string `json:"content,omitempty"`
	Timestamp    string `json:"timestamp"`
	IsEncrypted  bool   `json:"is_encrypted,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	EncryptedKey string `json:"encrypted_key,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var payloadKnownKeys = []string{
	"channel_id", "kind", "content", "timestamp",
	"is_encrypted", "nonce", "encrypted_key",
}

// MarshalJSON emits the known fields plus any passthrough Extra fields
// merged back in, so unrecognized fields survive a decode/re-encode cycle.
func (p Payload) MarshalJSON() ([]byte, error) {
	type alias Payload
	return mergeExtra(alias(p), p.Extra)
}

// UnmarshalJSON decodes the known fields and stashes anything else in Extra.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias Payload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := splitExtra(data, payloadKnownKeys)
	if err != nil {
		return err
	}
	a.Extra = extra
	*p = Payload(a)
	return nil
}

// Envelope is the unit exchanged on the wire and stored at rest.
//
// Extra behaves exactly as it does on Payload: fields outside the declared
// schema are preserved rather than dropped when the envelope is decoded and
// later re-marshaled for forwarding.
type Envelope struct {
	MsgID     string  `json:"msg_id"`
	Payload   Payload `json:"payload"`
	SenderID  string  `json:"sender_id"`
	Signature string  `json:"signature"`
	TTL       int     `json:"ttl"`

	Extra map[string]json.RawMessage `json:"-"`
}

var envelopeKnownKeys = []string{"msg_id", "payload", "sender_id", "signature", "ttl"}

// MarshalJSON emits the known fields plus any passthrough Extra fields.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type alias Envelope
	return mergeExtra(alias(e), e.Extra)
}

// UnmarshalJSON decodes the known fields and stashes anything else in Extra.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := splitExtra(data, envelopeKnownKeys)
	if err != nil {
		return err
	}
	a.Extra = extra
	*e = Envelope(a)
	return nil
}

// splitExtra decodes data as a generic object and returns every key not in
// known, each still as raw unparsed JSON.
func splitExtra(data []byte, known []string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

// mergeExtra marshals v (a plain alias struct with no Extra field of its
// own) and merges extra's keys into the resulting object.
func mergeExtra(v interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// NewSignedEnvelope fills in the timestamp if missing, signs the canonical
// payload, and derives msg_id — the broadcast pipeline's first four steps.
func NewSignedEnvelope(id *identity.Identity, payload Payload, ttl int) (*Envelope, error) {
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	canonicalPayload, err := joncanon.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: canonicalize payload: %w", err)
	}

	signature := id.Sign(canonicalPayload)
	msgID := computeMsgID(id.NodeID(), payload.Timestamp, canonicalPayload)

	return &Envelope{
		MsgID:     msgID,
		Payload:   payload,
		SenderID:  id.NodeID(),
		Signature: hex.EncodeToString(signature),
		TTL:       ttl,
	}, nil
}

// computeMsgID derives a deterministic short hash from the envelope's
// origin content, so re-seeing the same logical message through the mesh
// always produces the same id.
func computeMsgID(senderID, timestamp string, canonicalPayload []byte) string {
	hasher := blake3.New(16, nil)
	hasher.Write([]byte(senderID))
	hasher.Write([]byte("\x00"))
	hasher.Write([]byte(timestamp))
	hasher.Write([]byte("\x00"))
	hasher.Write(canonicalPayload)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Verify checks the envelope's signature against the canonical bytes of its
// own payload.
func (e *Envelope) Verify() bool {
	canonicalPayload, err := joncanon.Marshal(e.Payload)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(e.Signature)
	if err != nil {
		return false
	}
	return identity.Verify(e.SenderID, canonicalPayload, sig)
}

// WithDecrementedTTL returns a copy of the envelope with ttl reduced by one,
// for forwarding. The ttl on an envelope may only ever decrease.
func (e *Envelope) WithDecrementedTTL() *Envelope {
	cp := *e
	cp.TTL = e.TTL - 1
	return &cp
}

// Marshal encodes the envelope as one newline-terminated canonical JSON
// frame — one frame per envelope on the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	body, err := joncanon.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}
	return append(body, '\n'), nil
}

// Unmarshal decodes a single frame (without its trailing newline) into an
// envelope.
func Unmarshal(frame []byte) (*Envelope, error) {
	var e Envelope
	if err := joncanon.Unmarshal(frame, &e); err != nil {
		return nil, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	return &e, nil
}

// ErrFrameMalformed wraps a frame that failed to parse as an envelope.
type ErrFrameMalformed struct {
	Err error
}

func (e *ErrFrameMalformed) Error() string {
	return fmt.Sprintf("wire: frame malformed: %v", e.Err)
}

func (e *ErrFrameMalformed) Unwrap() error { return e.Err }

// ErrFrameOversize is returned when a frame exceeds the configured cap. The
// oversize line has already been drained from the stream when it is
// returned.
type ErrFrameOversize struct {
	Limit int
}

func (e *ErrFrameOversize) Error() string {
	return "wire: frame exceeds " + strconv.Itoa(e.Limit) + " byte cap"
}
