package storage

import (
	"context"
	"fmt"
	"time"
)

// Post is a forum post. Content is stored as written.
type Post struct {
	ID         int64
	Title      string
	Content    string
	DatePosted time.Time
	UserID     string
	Username   string
	Origin     string
}

// PostKey is the natural key that identifies a post across instances.
type PostKey struct {
	Title   string
	Content string
	UserID  string
	Origin  string
}

func (p Post) Key() PostKey {
	return PostKey{Title: p.Title, Content: p.Content, UserID: p.UserID, Origin: p.Origin}
}

// HasPost reports whether a post with this natural key is already stored.
func (r reader) HasPost(ctx context.Context, k PostKey) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM posts
		WHERE title = ? AND content = ? AND user_id = ? AND host_id = ?)`,
		k.Title, k.Content, k.UserID, k.Origin).Scan(&one)
	if err != nil {
		return false, fmt.Errorf("check post: %w", err)
	}
	return one == 1, nil
}

const postSelect = `
	SELECT p.id, p.title, p.content, p.date_posted, p.user_id, u.username, p.host_id
	FROM posts p JOIN users u ON u.id = p.user_id`

func (r reader) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		var p Post
		var posted string
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &posted, &p.UserID, &p.Username, &p.Origin); err != nil {
			return nil, err
		}
		p.DatePosted = parseTime(posted)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ListPosts returns the newest posts first. limit <= 0 means all.
func (r reader) ListPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.queryPosts(ctx, postSelect+` ORDER BY p.date_posted DESC, p.id DESC LIMIT ?`, limit)
}

// PostsByUser returns one author's posts, newest first.
func (r reader) PostsByUser(ctx context.Context, userID string) ([]Post, error) {
	return r.queryPosts(ctx, postSelect+` WHERE p.user_id = ? ORDER BY p.date_posted DESC, p.id DESC`, userID)
}

// InsertPost stores a post and returns its local id, or ErrDuplicate when a
// post with the same natural key already exists.
func (t *Tx) InsertPost(ctx context.Context, p Post) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO posts (title, content, date_posted, user_id, host_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		p.Title, p.Content, formatTime(p.DatePosted), p.UserID, p.Origin,
	)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}
	return insertedOrDuplicate(res)
}
