package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

// Memory is an in-process Backend: a mutex-guarded map with lazy
// expiry. Entries are dropped on access once they are past TTL plus
// the grace window; inside the window they are still returned so
// stale-while-revalidate reads can use them.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memEntry
	grace time.Duration
	now   func() time.Time
}

type memEntry struct {
	key   Key
	entry *Entry
}

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithGrace keeps expired entries readable for d past their TTL.
func WithGrace(d time.Duration) MemoryOption {
	return func(m *Memory) { m.grace = d }
}

// withClock overrides time for tests.
func withClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty in-process backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{items: map[string]memEntry{}, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the entry for key. Entries past TTL but inside the
// grace window are returned expired; older ones are evicted.
func (m *Memory) Get(_ context.Context, key Key) (*Entry, bool, error) {
	m.mu.RLock()
	it, ok := m.items[key.String()]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.evictable(it.entry) {
		m.mu.Lock()
		// Re-check under the write lock; a Set may have replaced it.
		if cur, ok := m.items[key.String()]; ok && m.evictable(cur.entry) {
			delete(m.items, key.String())
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return it.entry, true, nil
}

func (m *Memory) evictable(e *Entry) bool {
	return e.TTL > 0 && m.now().Sub(e.CreatedAt) > e.TTL+m.grace
}

// Set stores the entry, replacing any previous value.
func (m *Memory) Set(_ context.Context, key Key, e *Entry) error {
	m.mu.Lock()
	m.items[key.String()] = memEntry{key: key, entry: e}
	m.mu.Unlock()
	return nil
}

// Delete removes the key if present.
func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.items, key.String())
	m.mu.Unlock()
	return nil
}

// Exists reports whether a non-evictable entry is stored under key.
func (m *Memory) Exists(ctx context.Context, key Key) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// InvalidatePattern removes keys matching the glob pattern.
func (m *Memory) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.items {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return n, err
		}
		if ok {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

// InvalidateTags removes entries carrying any of the given tags.
func (m *Memory) InvalidateTags(_ context.Context, tags ...string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, it := range m.items {
		for _, t := range it.entry.Tags {
			if want[t] {
				delete(m.items, k)
				n++
				break
			}
		}
	}
	return n, nil
}

// Clear drops everything.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.items = map[string]memEntry{}
	m.mu.Unlock()
	return nil
}

// Len returns the stored entry count, including not-yet-evicted
// expired entries.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}
