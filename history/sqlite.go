package history

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed width, so that posted_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	run_id    TEXT PRIMARY KEY,
	num       INTEGER NOT NULL,
	title     TEXT NOT NULL,
	image_url TEXT NOT NULL,
	alt       TEXT NOT NULL,
	strip_url TEXT NOT NULL,
	group_id  TEXT NOT NULL,
	owner_id  INTEGER NOT NULL,
	photo_id  INTEGER NOT NULL,
	post_id   INTEGER NOT NULL,
	posted_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_posted_at ON posts (posted_at);
`

// SQLiteStore keeps records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection, so ":memory:" databases are shared by all queries.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Put inserts r.
func (s *SQLiteStore) Put(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO posts (run_id, num, title, image_url, alt, strip_url, group_id, owner_id, photo_id, post_id, posted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Num, r.Title, r.ImageURL, r.Alt, r.StripURL, r.GroupID,
		r.OwnerID, r.PhotoID, r.PostID, r.PostedAt.UTC().Format(timeLayout),
	)
	return err
}

// List returns up to limit records, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, num, title, image_url, alt, strip_url, group_id, owner_id, photo_id, post_id, posted_at
FROM posts
ORDER BY posted_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r        Record
			postedAt string
		)
		if err := rows.Scan(&r.RunID, &r.Num, &r.Title, &r.ImageURL, &r.Alt, &r.StripURL, &r.GroupID,
			&r.OwnerID, &r.PhotoID, &r.PostID, &postedAt); err != nil {
			return nil, err
		}
		if r.PostedAt, err = time.Parse(timeLayout, postedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
