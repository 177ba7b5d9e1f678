package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/a11ypanel/dbopen"
	"github.com/hazyhaar/a11ypanel/idgen"
)

const sqlitePrefix = "blob:sqlite/"

// Schema creates the blobs table.
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
	id         TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blobs_expires ON blobs(expires_at);
`

// SQLite is a Store backed by an SQLite table, shared between processes
// that open the same file.
type SQLite struct {
	db    *sql.DB
	ttl   time.Duration
	now   func() time.Time
	newID idgen.Generator
}

// NewSQLite creates the schema on db and returns a store.
func NewSQLite(db *sql.DB, ttl time.Duration) (*SQLite, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("blob: schema: %w", err)
	}
	return &SQLite{db: db, ttl: ttl, now: time.Now, newID: idgen.UUIDv7()}, nil
}

func (s *SQLite) Put(ctx context.Context, data []byte) (string, error) {
	now := s.now()
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM blobs WHERE expires_at <= ?`, now.UnixMilli()); err != nil {
		return "", fmt.Errorf("blob: sweep: %w", err)
	}
	id := s.newID()
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO blobs (id, data, expires_at) VALUES (?, ?, ?)`,
		id, data, now.Add(s.ttl).UnixMilli())
	if err != nil {
		return "", fmt.Errorf("blob: put: %w", err)
	}
	return sqlitePrefix + id, nil
}

func (s *SQLite) Fetch(ctx context.Context, ref string) ([]byte, error) {
	id, ok := refID(ref, sqlitePrefix)
	if !ok {
		return nil, ErrNotFound
	}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blobs WHERE id = ? AND expires_at > ?`,
		id, s.now().UnixMilli()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob: fetch: %w", err)
	}
	return data, nil
}

func (s *SQLite) Revoke(ctx context.Context, ref string) error {
	id, ok := refID(ref, sqlitePrefix)
	if !ok {
		return nil
	}
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM blobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("blob: revoke: %w", err)
	}
	return nil
}
