// Package constants defines cross-cutting defaults for hivemesh nodes.
package constants

import "time"

// Protocol configuration.
const (
	// ProtocolVersion is the on-wire envelope version.
	ProtocolVersion = 1

	// DefaultTTL is the hop budget a newly broadcast envelope starts with.
	DefaultTTL = 3

	// HashAlgorithm names the hash used for msg_id: BLAKE3 with a 16-byte
	// (128-bit) output. The BID is not hashed; it encodes the raw key.
	HashAlgorithm = "blake3-128"
)

// Frame sizing (§4.E, §9 REDESIGN FLAGS).
const (
	// ProofOfConceptFrameCap is the 1 KiB limit the source spec calls out as
	// a proof-of-concept constant, not a protocol guarantee.
	ProofOfConceptFrameCap = 1024

	// DefaultFrameCap is the production ceiling this implementation ships
	// with, resolving the open question in spec §9: sealed invite envelopes
	// and signatures can approach or exceed 1 KiB, so the shipped default is
	// wider.
	DefaultFrameCap = 64 * 1024
)

// Timing configuration.
const (
	// SeenSetCapacity bounds the gossip router's dedupe FIFO.
	SeenSetCapacity = 1000

	// DialTimeout bounds an outbound connect attempt.
	DialTimeout = 5 * time.Second

	// MaxClockSkew is a bound on how far a received envelope's timestamp may
	// drift from local time. Nothing reads it: received timestamps are not
	// compared against local time.
	MaxClockSkew = 120 * time.Second

	// DiscoveryBrowseInterval is an interval for re-issuing an mDNS browse
	// query. Nothing reads it: the discovery service runs one continuous
	// browse from Start until Stop and never re-issues it.
	DiscoveryBrowseInterval = 30 * time.Second
)

// Reserved channel.
const (
	// GeneralChannel is present on every node, always public, and cannot be
	// left.
	GeneralChannel = "#general"
)

// Channel kinds.
const (
	ChannelPublic  = "public"
	ChannelPrivate = "private"
)

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Envelope payload kinds.
const (
	KindChatMessage = "chat_message"
	KindInvite      = "invite"
)

// Error codes (§7).
const (
	ErrCodeIdentityCorrupted  = 1
	ErrCodeStorageUnavailable = 2
	ErrCodeDiscoveryUnavail   = 3
	ErrCodePeerIO             = 4
	ErrCodeFrameMalformed     = 5
	ErrCodeFrameOversize      = 6
	ErrCodeSignatureInvalid   = 7
	ErrCodeAuthFail           = 8
	ErrCodeOpenFail           = 9
	ErrCodeNotOwner           = 10
	ErrCodeNotSubscribed      = 11
	ErrCodeExists             = 12
	ErrCodeNotConnected       = 13
	ErrCodeInvalidID          = 14
)
