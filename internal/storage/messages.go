package storage

import (
	"context"
	"fmt"
	"time"
)

// ChatMessage is a stored chat message. Content is always ciphertext.
type ChatMessage struct {
	ID        int64
	Content   string
	Timestamp time.Time
	UserID    string
	Username  string
	RoomID    string
	Origin    string
}

// ChatKey is the natural key that identifies a chat message across instances.
type ChatKey struct {
	Content string
	UserID  string
	RoomID  string
	Origin  string
}

func (m ChatMessage) Key() ChatKey {
	return ChatKey{Content: m.Content, UserID: m.UserID, RoomID: m.RoomID, Origin: m.Origin}
}

// HasChatMessage reports whether a message with this natural key is stored.
func (r reader) HasChatMessage(ctx context.Context, k ChatKey) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM chat_messages
		WHERE content = ? AND user_id = ? AND room_id = ? AND host_id = ?)`,
		k.Content, k.UserID, k.RoomID, k.Origin).Scan(&one)
	if err != nil {
		return false, fmt.Errorf("check chat message: %w", err)
	}
	return one == 1, nil
}

// ChatHistory returns the last limit messages of a room in insertion order.
// limit <= 0 means all.
func (r reader) ChatHistory(ctx context.Context, roomID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, content, timestamp, user_id, username, room_id, host_id FROM (
			SELECT m.id, m.content, m.timestamp, m.user_id, u.username, m.room_id, m.host_id
			FROM chat_messages m JOIN users u ON u.id = m.user_id
			WHERE m.room_id = ?
			ORDER BY m.id DESC LIMIT ?
		) ORDER BY id ASC`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var ts string
		if err := rows.Scan(&m.ID, &m.Content, &ts, &m.UserID, &m.Username, &m.RoomID, &m.Origin); err != nil {
			return nil, err
		}
		m.Timestamp = parseTime(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// InsertChatMessage stores a message and returns its local id, or
// ErrDuplicate when the natural key is already present.
func (t *Tx) InsertChatMessage(ctx context.Context, m ChatMessage) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO chat_messages (content, timestamp, user_id, room_id, host_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		m.Content, formatTime(m.Timestamp), m.UserID, m.RoomID, m.Origin,
	)
	if err != nil {
		return 0, fmt.Errorf("insert chat message: %w", err)
	}
	return insertedOrDuplicate(res)
}
