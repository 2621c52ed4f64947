// Package channel implements channel creation, membership, and invite
// processing for private channels.
package channel

import (
	"fmt"
	"sync"

	"github.com/WebFirstLanguage/hivemesh/pkg/constants"
	"github.com/WebFirstLanguage/hivemesh/pkg/identity"
	"github.com/WebFirstLanguage/hivemesh/pkg/logging"
	"github.com/WebFirstLanguage/hivemesh/pkg/security"
	"github.com/WebFirstLanguage/hivemesh/pkg/store"
)

// ErrExists is returned by Create when the channel already exists.
type ErrExists struct{ ChannelID string }

func (e *ErrExists) Error() string { return fmt.Sprintf("channel: %q already exists", e.ChannelID) }

// ErrInvalidID is returned for a channel id that doesn't start with '#'.
type ErrInvalidID struct{ ChannelID string }

func (e *ErrInvalidID) Error() string { return fmt.Sprintf("channel: invalid id %q", e.ChannelID) }

// ErrNotOwner is returned by Invite when the caller doesn't own the
// channel.
type ErrNotOwner struct{ ChannelID string }

func (e *ErrNotOwner) Error() string {
	return fmt.Sprintf("channel: caller does not own %q", e.ChannelID)
}

// ErrNoKey is returned by Invite when the channel's key isn't held.
type ErrNoKey struct{ ChannelID string }

func (e *ErrNoKey) Error() string { return fmt.Sprintf("channel: no key held for %q", e.ChannelID) }

// Manager owns the in-memory channel-key table and mediates between the
// persistence store and the node orchestrator for channel/membership
// operations.
type Manager struct {
	log  *logging.Logger
	id   *identity.Identity
	db   *store.ChannelStore
	keys keyTable
}

type keyTable struct {
	mu   sync.RWMutex
	keys map[string][]byte // channel_id -> 256-bit AEAD key
}

// New creates a channel manager, ensuring #general exists.
func New(id *identity.Identity, db *store.ChannelStore) (*Manager, error) {
	m := &Manager{
		log:  logging.New("channel"),
		id:   id,
		db:   db,
		keys: keyTable{keys: make(map[string][]byte)},
	}
	if err := db.StoreChannel(constants.GeneralChannel, constants.GeneralChannel, constants.ChannelPublic, ""); err != nil {
		return nil, fmt.Errorf("channel: ensure #general: %w", err)
	}
	return m, nil
}

// Key returns the held AEAD key for a channel, if any.
func (m *Manager) Key(channelID string) ([]byte, bool) {
	m.keys.mu.RLock()
	defer m.keys.mu.RUnlock()
	key, ok := m.keys.keys[channelID]
	return key, ok
}

func (m *Manager) setKey(channelID string, key []byte) {
	m.keys.mu.Lock()
	defer m.keys.mu.Unlock()
	m.keys.keys[channelID] = key
}

// Create creates a channel. For private channels, a fresh AEAD key is
// generated, the channel is stored with the caller as owner, and the
// caller is added as a member.
func (m *Manager) Create(channelID, kind string) error {
	if len(channelID) == 0 || channelID[0] != '#' {
		return &ErrInvalidID{ChannelID: channelID}
	}

	existing, err := m.db.GetChannelInfo(channelID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &ErrExists{ChannelID: channelID}
	}

	owner := ""
	if kind == constants.ChannelPrivate {
		key, err := security.GenerateChannelKey()
		if err != nil {
			return fmt.Errorf("channel: generate key: %w", err)
		}
		m.setKey(channelID, key)
		owner = m.id.NodeID()
	}

	if err := m.db.StoreChannel(channelID, channelID, kind, owner); err != nil {
		return err
	}
	if kind == constants.ChannelPrivate {
		if err := m.db.AddMember(channelID, m.id.NodeID(), constants.RoleOwner); err != nil {
			return err
		}
	}
	return nil
}

// Invite seals the channel's AEAD key for target and returns the sealed
// bytes, ready to be placed in an invite envelope's payload. Only the
// recorded owner may invite.
func (m *Manager) Invite(channelID string, targetEncryptionPub *[32]byte) ([]byte, error) {
	meta, err := m.db.GetChannelInfo(channelID)
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.OwnerNodeID != m.id.NodeID() {
		return nil, &ErrNotOwner{ChannelID: channelID}
	}

	key, ok := m.Key(channelID)
	if !ok {
		return nil, &ErrNoKey{ChannelID: channelID}
	}

	return identity.SealFor(targetEncryptionPub, key)
}

// ProcessInvite attempts to open a sealed channel key addressed to this
// identity. On success, it stores the channel as private with senderID as
// owner, adds this node as a member, and stashes the key in memory. On
// failure (the envelope wasn't addressed to us), it returns accepted=false
// with no error — a silent drop.
func (m *Manager) ProcessInvite(channelID, senderID string, sealedKey []byte) (accepted bool, err error) {
	plaintext, openErr := m.id.OpenSealed(sealedKey)
	if openErr != nil {
		m.log.Debugf("invite for %s not addressed to us: %v", channelID, openErr)
		return false, nil
	}

	if err := m.db.StoreChannel(channelID, channelID, constants.ChannelPrivate, senderID); err != nil {
		return false, err
	}
	if err := m.db.AddMember(channelID, m.id.NodeID(), constants.RoleMember); err != nil {
		return false, err
	}
	m.setKey(channelID, plaintext)

	return true, nil
}
