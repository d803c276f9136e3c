package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a forum account. Local users belong to this instance; the rest are
// shadow rows created from replicated events.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Avatar       string
	CreatedAt    time.Time
	Origin       string
	Local        bool
}

const userColumns = `id, username, email, password_hash, avatar, created_at, host_id, local`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var created string
	var local int
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Avatar, &created, &u.Origin, &local); err != nil {
		return User{}, err
	}
	u.CreatedAt = parseTime(created)
	u.Local = local != 0
	return u, nil
}

// GetUser returns a user by id.
func (r reader) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// LocalUserByName returns the local account with the given username.
func (r reader) LocalUserByName(ctx context.Context, username string) (User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? AND local = 1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// ListUsers returns every known user, local and shadow.
func (r reader) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// InsertUser stores a new user row. A clash on id or on a local username
// yields ErrDuplicate.
func (t *Tx) InsertUser(ctx context.Context, u User) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		u.ID, u.Username, u.Email, u.PasswordHash, avatarOrDefault(u.Avatar),
		formatTime(u.CreatedAt), u.Origin, boolInt(u.Local),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	_, err = insertedOrDuplicate(res)
	return err
}

// UpsertShadowUser creates or refreshes a replicated user. Local users are
// never overwritten by remote data.
func (t *Tx) UpsertShadowUser(ctx context.Context, u User) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, '', ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			username = CASE WHEN excluded.username = '' THEN users.username ELSE excluded.username END,
			email    = CASE WHEN excluded.email = '' THEN users.email ELSE excluded.email END,
			avatar   = excluded.avatar,
			host_id  = CASE WHEN excluded.host_id = '' THEN users.host_id ELSE excluded.host_id END
		WHERE users.local = 0`,
		u.ID, u.Username, u.Email, avatarOrDefault(u.Avatar), formatTime(u.CreatedAt), u.Origin,
	)
	if err != nil {
		return fmt.Errorf("upsert shadow user: %w", err)
	}
	return nil
}

// EnsureUser creates a shadow user if no row with that id exists yet.
// Existing rows are left alone.
func (t *Tx) EnsureUser(ctx context.Context, id, username, origin string) error {
	if username == "" {
		username = "unknown"
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (id, username, created_at, host_id, local)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING`,
		id, username, formatTime(time.Time{}), origin,
	)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// DeleteUser removes a user. Their posts, messages, owned rooms (with those
// rooms' messages and memberships) and memberships go with them.
func (t *Tx) DeleteUser(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func avatarOrDefault(a string) string {
	if a == "" {
		return "default.jpg"
	}
	return a
}
