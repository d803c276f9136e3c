package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrDuplicate is returned by inserts whose natural key already exists.
	ErrDuplicate = errors.New("duplicate record")
	ErrNotFound  = errors.New("not found")
)

// timeLayout is how timestamps are stored (UTC, second precision).
const timeLayout = "2006-01-02 15:04:05"

var schema = []struct {
	name string
	sql  string
}{
	{"users table", `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL,
			email         TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			avatar        TEXT NOT NULL DEFAULT 'default.jpg',
			created_at    TEXT NOT NULL,
			host_id       TEXT NOT NULL DEFAULT '',
			local         INTEGER NOT NULL DEFAULT 0
		)`},
	{"local username index", `
		CREATE UNIQUE INDEX IF NOT EXISTS users_local_username
			ON users(username) WHERE local = 1`},
	{"posts table", `
		CREATE TABLE IF NOT EXISTS posts (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			title       TEXT NOT NULL,
			content     TEXT NOT NULL,
			date_posted TEXT NOT NULL,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			host_id     TEXT NOT NULL DEFAULT ''
		)`},
	{"posts dedup index", `
		CREATE UNIQUE INDEX IF NOT EXISTS posts_dedup
			ON posts(title, content, user_id, host_id)`},
	{"chatrooms table", `
		CREATE TABLE IF NOT EXISTS chatrooms (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			owner_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			host_id     TEXT NOT NULL DEFAULT '',
			public_key  TEXT NOT NULL,
			private_key TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`},
	{"chatroom members table", `
		CREATE TABLE IF NOT EXISTS chatroom_members (
			room_id TEXT NOT NULL REFERENCES chatrooms(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (room_id, user_id)
		)`},
	{"chat messages table", `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			content   TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			room_id   TEXT NOT NULL REFERENCES chatrooms(id) ON DELETE CASCADE,
			host_id   TEXT NOT NULL DEFAULT ''
		)`},
	{"chat messages dedup index", `
		CREATE UNIQUE INDEX IF NOT EXISTS chat_messages_dedup
			ON chat_messages(content, user_id, room_id, host_id)`},
	{"chat messages room index", `
		CREATE INDEX IF NOT EXISTS chat_messages_room ON chat_messages(room_id, id)`},
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// reader holds every read query so they are available both on the DB and
// inside a write transaction.
type reader struct {
	q querier
}

// DB wraps the instance's SQLite database.
type DB struct {
	reader
	db   *sql.DB
	path string
	mu   sync.Mutex // serializes write transactions
}

// Tx is a write transaction opened by DB.Update.
type Tx struct {
	reader
	tx *sql.Tx
}

// Open opens or creates the forum database in the given directory.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dir, "forum.db")

	// Pragmas go in the DSN so every pooled connection gets them;
	// foreign_keys in particular is per connection.
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + dbPath + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, s := range schema {
		if _, err := db.Exec(s.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s: %w", s.name, err)
		}
	}

	return &DB{reader: reader{q: db}, db: db, path: dbPath}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// Update runs fn inside a single write transaction. The transaction commits
// only if fn returns nil; any error rolls back every write fn made.
func (d *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{reader: reader{q: sqlTx}, tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// insertedOrDuplicate turns an ON CONFLICT DO NOTHING result into an id or
// ErrDuplicate.
func insertedOrDuplicate(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrDuplicate
	}
	return res.LastInsertId()
}
