// Package settings persists the archive and policy last chosen by the user
// so that the next panel mount starts with them.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/a11ypanel/dbopen"
)

// Options is the persisted panel configuration.
type Options struct {
	SelectedArchive string `json:"selected_archive,omitempty"`
	SelectedRuleset string `json:"selected_ruleset,omitempty"`
}

// Store loads and saves Options. Load on an empty store returns the zero
// Options and no error.
type Store interface {
	Load(ctx context.Context) (Options, error)
	Save(ctx context.Context, o Options) error
}

// Schema for the options table.
const Schema = `
CREATE TABLE IF NOT EXISTS options (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const optionsKey = "OPTIONS"

// SQLite is a Store over the options table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates the schema on db.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("settings: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context) (Options, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM options WHERE key = ?`, optionsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Options{}, nil
	}
	if err != nil {
		return Options{}, fmt.Errorf("settings: load: %w", err)
	}
	var o Options
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return Options{}, fmt.Errorf("settings: decode: %w", err)
	}
	return o, nil
}

func (s *SQLite) Save(ctx context.Context, o Options) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO options (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		optionsKey, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Memory is a process-local Store.
type Memory struct {
	mu sync.Mutex
	o  Options
}

func (m *Memory) Load(context.Context) (Options, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.o, nil
}

func (m *Memory) Save(_ context.Context, o Options) error {
	m.mu.Lock()
	m.o = o
	m.mu.Unlock()
	return nil
}
