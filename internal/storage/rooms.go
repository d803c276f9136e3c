package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Room is a chat room with its RSA key pair. PrivateKey is empty on
// instances that only know the public half.
type Room struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	OwnerName   string
	Origin      string
	PublicKey   string
	PrivateKey  string
	CreatedAt   time.Time
}

// Member is a room participant.
type Member struct {
	ID       string
	Username string
}

const roomSelect = `
	SELECT r.id, r.name, r.description, r.owner_id, COALESCE(u.username, ''),
	       r.host_id, r.public_key, r.private_key, r.created_at
	FROM chatrooms r LEFT JOIN users u ON u.id = r.owner_id`

func scanRoom(row interface{ Scan(...any) error }) (Room, error) {
	var r Room
	var created string
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.OwnerID, &r.OwnerName,
		&r.Origin, &r.PublicKey, &r.PrivateKey, &created); err != nil {
		return Room{}, err
	}
	r.CreatedAt = parseTime(created)
	return r, nil
}

// GetRoom returns a room by id, or ErrNotFound.
func (r reader) GetRoom(ctx context.Context, id string) (Room, error) {
	room, err := scanRoom(r.q.QueryRowContext(ctx, roomSelect+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	return room, err
}

func (r reader) queryRooms(ctx context.Context, query string, args ...any) ([]Room, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ListRooms returns every known room.
func (r reader) ListRooms(ctx context.Context) ([]Room, error) {
	return r.queryRooms(ctx, roomSelect+` ORDER BY r.created_at, r.name`)
}

// RoomsForUser returns the rooms a user is a member of.
func (r reader) RoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	return r.queryRooms(ctx, roomSelect+`
		JOIN chatroom_members m ON m.room_id = r.id
		WHERE m.user_id = ? ORDER BY r.created_at, r.name`, userID)
}

// Members lists a room's members.
func (r reader) Members(ctx context.Context, roomID string) ([]Member, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT u.id, u.username FROM chatroom_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ? ORDER BY u.username`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Username); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsMember reports whether userID belongs to roomID.
func (r reader) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM chatroom_members WHERE room_id = ? AND user_id = ?)`,
		roomID, userID).Scan(&one)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return one == 1, nil
}

// CreateRoom inserts a new room. An existing id yields ErrDuplicate.
func (t *Tx) CreateRoom(ctx context.Context, room Room) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO chatrooms (id, name, description, owner_id, host_id, public_key, private_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		room.ID, room.Name, room.Description, room.OwnerID, room.Origin,
		room.PublicKey, room.PrivateKey, formatTime(room.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	_, err = insertedOrDuplicate(res)
	return err
}

// UpsertRoom stores a replicated room. The key pair of a known room never
// changes, except that a missing private key may be filled in.
func (t *Tx) UpsertRoom(ctx context.Context, room Room) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO chatrooms (id, name, description, owner_id, host_id, public_key, private_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name        = excluded.name,
			description = excluded.description,
			private_key = CASE WHEN chatrooms.private_key = '' THEN excluded.private_key ELSE chatrooms.private_key END`,
		room.ID, room.Name, room.Description, room.OwnerID, room.Origin,
		room.PublicKey, room.PrivateKey, formatTime(room.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}
	return nil
}

// AddMembers adds users to a room; existing memberships are kept.
func (t *Tx) AddMembers(ctx context.Context, roomID string, userIDs ...string) error {
	for _, uid := range userIDs {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO chatroom_members (room_id, user_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING`, roomID, uid); err != nil {
			return fmt.Errorf("add member %s: %w", uid, err)
		}
	}
	return nil
}

// DeleteRoom removes a room together with its messages and memberships.
func (t *Tx) DeleteRoom(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM chatrooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
