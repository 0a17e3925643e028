package guard

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached snapshot of a table tagged with the backend version it
// was read at.
type Entry struct {
	Version  string    `cbor:"1,keyasint"`
	Records  [][]byte  `cbor:"2,keyasint"`
	StoredAt time.Time `cbor:"3,keyasint"`
}

// Cache stores table snapshots. Implementations must be safe for
// concurrent use. A miss is reported as ok=false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache is an in-process Cache. Each Service owns its own instance;
// there is no package-level cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return Entry{}, false, nil
	}
	return e.entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{entry: entry, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// NopCache never stores anything; every Load reads the backend.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }

func (NopCache) Set(context.Context, string, Entry, time.Duration) error { return nil }

func (NopCache) Delete(context.Context, string) error { return nil }
