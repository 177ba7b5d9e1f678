package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/a11ypanel/dbopen"
	"github.com/hazyhaar/a11ypanel/report"
)

// Cache keeps the last completed scan of each tab.
type Cache interface {
	Get(ctx context.Context, tab report.TabID) (report.ScanComplete, bool, error)
	Put(ctx context.Context, sc report.ScanComplete) error
	Invalidate(ctx context.Context, tab report.TabID) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu   sync.RWMutex
	last map[report.TabID]report.ScanComplete
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{last: make(map[report.TabID]report.ScanComplete)}
}

func (m *MemoryCache) Get(_ context.Context, tab report.TabID) (report.ScanComplete, bool, error) {
	m.mu.RLock()
	sc, ok := m.last[tab]
	m.mu.RUnlock()
	if ok {
		sc.Report = sc.Report.Clone()
	}
	return sc, ok, nil
}

func (m *MemoryCache) Put(_ context.Context, sc report.ScanComplete) error {
	sc.Report = sc.Report.Clone()
	m.mu.Lock()
	m.last[sc.TabID] = sc
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Invalidate(_ context.Context, tab report.TabID) error {
	m.mu.Lock()
	delete(m.last, tab)
	m.mu.Unlock()
	return nil
}

// CacheSchema creates the scan_results table.
const CacheSchema = `
CREATE TABLE IF NOT EXISTS scan_results (
	tab_id     INTEGER PRIMARY KEY,
	tab_url    TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// SQLiteCache persists the last scan of each tab so a restarted
// coordinator can still answer SCAN_CACHED.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache creates the schema on db.
func NewSQLiteCache(db *sql.DB) (*SQLiteCache, error) {
	if _, err := db.Exec(CacheSchema); err != nil {
		return nil, fmt.Errorf("coordinator: cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

func (s *SQLiteCache) Get(ctx context.Context, tab report.TabID) (report.ScanComplete, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM scan_results WHERE tab_id = ?`, int64(tab)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return report.ScanComplete{}, false, nil
	}
	if err != nil {
		return report.ScanComplete{}, false, fmt.Errorf("coordinator: cache get: %w", err)
	}
	var sc report.ScanComplete
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return report.ScanComplete{}, false, fmt.Errorf("coordinator: cache decode: %w", err)
	}
	return sc, true, nil
}

func (s *SQLiteCache) Put(ctx context.Context, sc report.ScanComplete) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("coordinator: cache encode: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO scan_results (tab_id, tab_url, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(tab_id) DO UPDATE SET tab_url = excluded.tab_url, payload = excluded.payload, created_at = excluded.created_at`,
		int64(sc.TabID), sc.TabURL, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("coordinator: cache put: %w", err)
	}
	return nil
}

func (s *SQLiteCache) Invalidate(ctx context.Context, tab report.TabID) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM scan_results WHERE tab_id = ?`, int64(tab)); err != nil {
		return fmt.Errorf("coordinator: cache invalidate: %w", err)
	}
	return nil
}
