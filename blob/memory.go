package blob

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/a11ypanel/idgen"
)

const memoryPrefix = "blob:memory/"

type entry struct {
	data    []byte
	expires time.Time
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	newID   idgen.Generator
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithTTL sets the reference lifetime. Default: DefaultTTL.
func WithTTL(d time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty Memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		ttl:     DefaultTTL,
		now:     time.Now,
		newID:   idgen.UUIDv7(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Put(_ context.Context, data []byte) (string, error) {
	id := m.newID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.entries[id] = entry{data: append([]byte(nil), data...), expires: m.now().Add(m.ttl)}
	return memoryPrefix + id, nil
}

func (m *Memory) Fetch(_ context.Context, ref string) ([]byte, error) {
	id, ok := refID(ref, memoryPrefix)
	if !ok {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || !m.now().Before(e.expires) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (m *Memory) Revoke(_ context.Context, ref string) error {
	if id, ok := refID(ref, memoryPrefix); ok {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
	}
	return nil
}

// Len returns the number of live references.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	return len(m.entries)
}

func (m *Memory) sweepLocked() {
	now := m.now()
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
		}
	}
}
