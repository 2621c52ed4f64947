package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ChannelMeta is the metadata row for a channel.
type ChannelMeta struct {
	ChannelID   string
	Name        string
	Kind        string
	OwnerNodeID string // empty for public channels
	CreatedAt   string
	Subscribed  bool
}

// Member is one row of a channel's membership table.
type Member struct {
	NodeID string
	Role   string
}

// ChannelStore persists channels and their membership.
type ChannelStore struct {
	db *DB
}

// NewChannelStore wraps db.
func NewChannelStore(db *DB) *ChannelStore {
	return &ChannelStore{db: db}
}

// StoreChannel inserts a channel record, or does nothing if it already
// exists — idempotent per the persistence contract.
func (s *ChannelStore) StoreChannel(channelID, name, kind, ownerNodeID string) error {
	var owner sql.NullString
	if ownerNodeID != "" {
		owner = sql.NullString{String: ownerNodeID, Valid: true}
	}

	_, err := s.db.conn.Exec(`
		INSERT INTO channels (channel_id, name, kind, owner_node_id, created_at, subscribed)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(channel_id) DO NOTHING
	`, channelID, name, kind, owner, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: store channel: %w", err)
	}
	return nil
}

// GetChannelInfo returns a channel's metadata, or nil if it doesn't exist.
func (s *ChannelStore) GetChannelInfo(channelID string) (*ChannelMeta, error) {
	var meta ChannelMeta
	var owner sql.NullString
	var subscribed int

	err := s.db.conn.QueryRow(`
		SELECT channel_id, name, kind, owner_node_id, created_at, subscribed
		FROM channels WHERE channel_id = ?
	`, channelID).Scan(&meta.ChannelID, &meta.Name, &meta.Kind, &owner, &meta.CreatedAt, &subscribed)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get channel info: %w", err)
	}

	meta.OwnerNodeID = owner.String
	meta.Subscribed = subscribed != 0
	return &meta, nil
}

// SetSubscribed updates a channel's subscribed flag.
func (s *ChannelStore) SetSubscribed(channelID string, subscribed bool) error {
	val := 0
	if subscribed {
		val = 1
	}
	_, err := s.db.conn.Exec(`UPDATE channels SET subscribed = ? WHERE channel_id = ?`, val, channelID)
	if err != nil {
		return fmt.Errorf("store: set subscribed: %w", err)
	}
	return nil
}

// AddMember inserts or replaces a membership row.
func (s *ChannelStore) AddMember(channelID, nodeID, role string) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO channel_members (channel_id, node_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id, node_id) DO UPDATE SET role = excluded.role
	`, channelID, nodeID, role, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: add member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership row.
func (s *ChannelStore) RemoveMember(channelID, nodeID string) error {
	_, err := s.db.conn.Exec(`
		DELETE FROM channel_members WHERE channel_id = ? AND node_id = ?
	`, channelID, nodeID)
	if err != nil {
		return fmt.Errorf("store: remove member: %w", err)
	}
	return nil
}

// IsMember reports whether nodeID is a member of channelID.
func (s *ChannelStore) IsMember(channelID, nodeID string) (bool, error) {
	var count int
	err := s.db.conn.QueryRow(`
		SELECT COUNT(*) FROM channel_members WHERE channel_id = ? AND node_id = ?
	`, channelID, nodeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: is member: %w", err)
	}
	return count > 0, nil
}

// GetMembers returns every member of a channel.
func (s *ChannelStore) GetMembers(channelID string) ([]Member, error) {
	rows, err := s.db.conn.Query(`
		SELECT node_id, role FROM channel_members WHERE channel_id = ?
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: get members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.NodeID, &m.Role); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
