package store

import (
	"database/sql"
	"fmt"
)

// MessageRow is one stored message. Content holds ciphertext for messages
// from private channels, plaintext otherwise.
type MessageRow struct {
	MsgID       string
	ChannelID   string
	SenderID    string
	Timestamp   string
	Content     string
	Signature   string
	IsEncrypted bool
	Nonce       string
}

// Stats is a summary of store contents.
type Stats struct {
	TotalMessages int64
	TotalChannels int64
}

// MessageStore persists messages.
type MessageStore struct {
	db *DB
}

// NewMessageStore wraps db.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// StoreMessage inserts a message row, ignoring conflicts on msg_id. Returns
// false (without error) when the row already existed.
func (s *MessageStore) StoreMessage(row MessageRow) (wasNew bool, err error) {
	var nonce sql.NullString
	if row.Nonce != "" {
		nonce = sql.NullString{String: row.Nonce, Valid: true}
	}

	isEncrypted := 0
	if row.IsEncrypted {
		isEncrypted = 1
	}

	result, err := s.db.conn.Exec(`
		INSERT INTO messages (msg_id, channel_id, sender_id, timestamp, content, signature, is_encrypted, nonce)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO NOTHING
	`, row.MsgID, row.ChannelID, row.SenderID, row.Timestamp, row.Content, row.Signature, isEncrypted, nonce)
	if err != nil {
		return false, fmt.Errorf("store: store message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetMessagesForChannel returns up to limit of the most recent messages in
// a channel, ordered by timestamp ascending.
func (s *MessageStore) GetMessagesForChannel(channelID string, limit int) ([]MessageRow, error) {
	rows, err := s.db.conn.Query(`
		SELECT msg_id, channel_id, sender_id, timestamp, content, signature, is_encrypted, nonce
		FROM messages
		WHERE channel_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get messages for channel: %w", err)
	}
	defer rows.Close()

	var result []MessageRow
	for rows.Next() {
		var row MessageRow
		var nonce sql.NullString
		var isEncrypted int
		if err := rows.Scan(&row.MsgID, &row.ChannelID, &row.SenderID, &row.Timestamp,
			&row.Content, &row.Signature, &isEncrypted, &nonce); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		row.IsEncrypted = isEncrypted != 0
		row.Nonce = nonce.String
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query descended by timestamp to pick the most recent `limit` rows;
	// reverse back to ascending order before returning.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// GetMessageCount returns the number of stored messages, optionally scoped
// to a single channel.
func (s *MessageStore) GetMessageCount(channelID string) (int64, error) {
	var count int64
	var err error
	if channelID == "" {
		err = s.db.conn.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	} else {
		err = s.db.conn.QueryRow(`SELECT COUNT(*) FROM messages WHERE channel_id = ?`, channelID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("store: get message count: %w", err)
	}
	return count, nil
}

// GetStats summarizes the store's contents.
func (s *MessageStore) GetStats() (Stats, error) {
	var stats Stats
	if err := s.db.conn.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&stats.TotalMessages); err != nil {
		return Stats{}, fmt.Errorf("store: stats (messages): %w", err)
	}
	if err := s.db.conn.QueryRow(`SELECT COUNT(*) FROM channels`).Scan(&stats.TotalChannels); err != nil {
		return Stats{}, fmt.Errorf("store: stats (channels): %w", err)
	}
	return stats, nil
}
