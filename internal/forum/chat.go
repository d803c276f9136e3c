package forum

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/petervdpas/goopforum/internal/broadcast"
	"github.com/petervdpas/goopforum/internal/metrics"
	"github.com/petervdpas/goopforum/internal/proto"
	"github.com/petervdpas/goopforum/internal/roomcrypto"
	"github.com/petervdpas/goopforum/internal/storage"
)

// Message is a decrypted chat line as shown to a member.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin"`
}

// SendChat encrypts text with the room public key, stores the ciphertext,
// shows the plaintext to local room members and publishes the ciphertext.
func (s *Service) SendChat(ctx context.Context, author storage.User, roomID, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, invalid("message is empty")
	}
	if !utf8.ValidString(text) {
		return Message{}, invalid("message is not valid utf-8")
	}

	room, err := s.RequireMember(ctx, author, roomID)
	if err != nil {
		return Message{}, err
	}
	if limit := roomcrypto.MaxPlaintextPEM(room.PublicKey); len(text) > limit {
		return Message{}, invalid("message is %d bytes, limit is %d", len(text), limit)
	}

	ciphertext, err := roomcrypto.Encrypt(text, room.PublicKey)
	if err != nil {
		return Message{}, err
	}

	m := storage.ChatMessage{
		Content:   ciphertext,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		UserID:    author.ID,
		RoomID:    roomID,
		Origin:    s.self.ID,
	}
	if err := s.db.Update(ctx, func(tx *storage.Tx) error {
		id, err := tx.InsertChatMessage(ctx, m)
		m.ID = id
		return err
	}); err != nil {
		return Message{}, err
	}
	metrics.ChatMessagesSent.Inc()

	ts := proto.FormatTime(m.Timestamp)
	s.hub.Broadcast(roomID, broadcast.Event{
		Kind:      broadcast.KindChat,
		RoomID:    roomID,
		User:      author.Username,
		Message:   text,
		Timestamp: ts,
	})
	s.publish(ctx, proto.TypeChat, proto.ChatData{
		ID:        m.ID,
		Content:   ciphertext,
		UserID:    author.ID,
		RoomID:    roomID,
		HostID:    s.self.ID,
		Username:  author.Username,
		Timestamp: ts,
	})

	return Message{
		ID:        m.ID,
		RoomID:    roomID,
		UserID:    author.ID,
		Username:  author.Username,
		Content:   text,
		Timestamp: m.Timestamp,
		Origin:    s.self.ID,
	}, nil
}

// History returns the last limit messages of a room, decrypted for a
// member. Rows that cannot be decrypted here are skipped.
func (s *Service) History(ctx context.Context, actor storage.User, roomID string, limit int) ([]Message, error) {
	room, err := s.RequireMember(ctx, actor, roomID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.ChatHistory(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		plain, err := roomcrypto.Decrypt(r.Content, room.PrivateKey)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, Message{
			ID:        r.ID,
			RoomID:    r.RoomID,
			UserID:    r.UserID,
			Username:  r.Username,
			Content:   plain,
			Timestamp: r.Timestamp,
			Origin:    r.Origin,
		})
	}
	if skipped > 0 {
		s.log.Debug().Str("room", roomID).Int("skipped", skipped).Msg("undecryptable messages in history")
	}
	return out, nil
}

// RequireMember returns the room if actor belongs to it, storage.ErrNotFound
// if the room is unknown here, or ErrNotMember.
func (s *Service) RequireMember(ctx context.Context, actor storage.User, roomID string) (storage.Room, error) {
	room, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		return storage.Room{}, err
	}
	member, err := s.db.IsMember(ctx, roomID, actor.ID)
	if err != nil {
		return storage.Room{}, err
	}
	if !member {
		return storage.Room{}, ErrNotMember
	}
	return room, nil
}
