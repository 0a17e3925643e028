// Package guard coordinates access to a storage.Backend.
//
// WithLock serializes writers with advisory locks and a bounded wait. Load
// is a read-through cache whose entries are only served while younger than
// the TTL and tagged with the table's current backend version. Every write
// made through the guard invalidates its table's cache entry before the
// caller's lock is released. Cache keys carry the backend's identity so
// stores sharing one cache never see each other's entries.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/metrics"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTTL          = 30 * time.Second
)

// Config tunes lock waiting and caching.
type Config struct {
	Timeout      time.Duration
	PollInterval time.Duration
	TTL          time.Duration
}

// Lock names a resource and the mode to hold it in.
type Lock struct {
	Resource string
	Mode     storage.LockMode
}

// Guard wraps a backend with locking and caching.
type Guard struct {
	backend storage.Backend
	cache   Cache
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time

	storeMu sync.Mutex
	storeID string
}

// New creates a Guard. A nil cache or a negative TTL disables caching.
// Zero config values take the defaults.
func New(backend storage.Backend, cache Cache, cfg Config, logger zerolog.Logger) *Guard {
	if cache == nil {
		cache = NopCache{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	switch {
	case cfg.TTL == 0:
		cfg.TTL = DefaultTTL
	case cfg.TTL < 0:
		cfg.TTL = 0
	}

	return &Guard{
		backend: backend,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Backend returns the wrapped backend.
func (g *Guard) Backend() storage.Backend { return g.backend }

// WithLock runs fn while holding resource in mode. It waits at most the
// configured timeout and then fails with errs.ErrLockTimeout. It never
// retries fn.
func (g *Guard) WithLock(ctx context.Context, resource string, mode storage.LockMode, fn func() error) error {
	release, err := g.acquire(ctx, resource, mode)
	if err != nil {
		return err
	}

	fnErr := fn()

	if err := release(); err != nil {
		g.logger.Warn().Err(err).Str("resource", resource).Msg("failed to release lock")
		if fnErr == nil {
			return errs.E("lock.release", resource, "", errs.Storage(err))
		}
	}

	return fnErr
}

// WithLocks acquires locks in the order given, runs fn, and releases them
// in reverse order.
func (g *Guard) WithLocks(ctx context.Context, locks []Lock, fn func() error) error {
	if len(locks) == 0 {
		return fn()
	}

	head, rest := locks[0], locks[1:]
	return g.WithLock(ctx, head.Resource, head.Mode, func() error {
		return g.WithLocks(ctx, rest, fn)
	})
}

func (g *Guard) acquire(ctx context.Context, resource string, mode storage.LockMode) (storage.Release, error) {
	start := g.now()
	deadline := start.Add(g.cfg.Timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		release, ok, err := g.backend.TryLock(ctx, resource, mode)
		if err != nil {
			return nil, errs.E("lock.acquire", resource, "", errs.Storage(err))
		}
		if ok {
			metrics.LockWaitSeconds.WithLabelValues(mode.String()).Observe(g.now().Sub(start).Seconds())
			return release, nil
		}

		remaining := deadline.Sub(g.now())
		if remaining <= 0 {
			metrics.LockTimeouts.WithLabelValues(mode.String()).Inc()
			g.logger.Debug().
				Str("resource", resource).
				Str("mode", mode.String()).
				Dur("waited", g.now().Sub(start)).
				Msg("lock wait timed out")
			return nil, errs.E("lock.acquire", resource, "", errs.ErrLockTimeout)
		}

		wait := min(g.cfg.PollInterval, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Load returns the records of table, served from cache when the entry is
// fresh and matches the backend's current version.
func (g *Guard) Load(ctx context.Context, table storage.Table) ([][]byte, error) {
	// Read the version before the data so a concurrent write can only make
	// the stored entry look older than it is, never newer.
	version, err := g.backend.Version(ctx, table)
	if err != nil {
		return nil, errs.Storage(err)
	}

	key, err := g.cacheKey(ctx, table)
	if err != nil {
		return nil, errs.Storage(err)
	}

	if g.cfg.TTL > 0 {
		entry, ok, err := g.cache.Get(ctx, key)
		switch {
		case err != nil:
			g.logger.Warn().Err(err).Str("table", string(table)).Msg("cache read failed")
		case ok && entry.Version == version && g.now().Sub(entry.StoredAt) < g.cfg.TTL:
			metrics.CacheLookups.WithLabelValues(string(table), "hit").Inc()
			return entry.Records, nil
		case ok:
			metrics.CacheLookups.WithLabelValues(string(table), "stale").Inc()
		default:
			metrics.CacheLookups.WithLabelValues(string(table), "miss").Inc()
		}
	}

	records, err := g.backend.ReadAll(ctx, table)
	if err != nil {
		return nil, errs.Storage(err)
	}

	if g.cfg.TTL > 0 {
		entry := Entry{Version: version, Records: records, StoredAt: g.now()}
		if err := g.cache.Set(ctx, key, entry, g.cfg.TTL); err != nil {
			g.logger.Warn().Err(err).Str("table", string(table)).Msg("cache write failed")
		}
	}

	return records, nil
}

// Append writes records to table and invalidates its cache entry. Call it
// while holding the table's lock.
func (g *Guard) Append(ctx context.Context, table storage.Table, records ...[]byte) error {
	if err := g.backend.Append(ctx, table, records...); err != nil {
		return errs.Storage(err)
	}
	g.Invalidate(ctx, table)
	return nil
}

// Replace swaps the contents of table and invalidates its cache entry.
// Call it while holding the table's exclusive lock.
func (g *Guard) Replace(ctx context.Context, table storage.Table, records [][]byte) error {
	if err := g.backend.Replace(ctx, table, records); err != nil {
		return errs.Storage(err)
	}
	g.Invalidate(ctx, table)
	return nil
}

// Invalidate drops the cache entry for table. A failed delete is logged;
// the version check still keeps readers from serving the stale entry.
func (g *Guard) Invalidate(ctx context.Context, table storage.Table) {
	key, err := g.cacheKey(ctx, table)
	if err == nil {
		err = g.cache.Delete(ctx, key)
	}
	if err != nil {
		g.logger.Warn().Err(err).Str("table", string(table)).Msg("cache invalidation failed")
	}
}

// cacheKey scopes table to the backend kind and store identity. The
// identity is fetched once per guard.
func (g *Guard) cacheKey(ctx context.Context, table storage.Table) (string, error) {
	g.storeMu.Lock()
	defer g.storeMu.Unlock()

	if g.storeID == "" {
		id, err := g.backend.Identity(ctx)
		if err != nil {
			return "", err
		}
		g.storeID = id
	}

	return g.backend.Kind() + ":" + g.storeID + ":table:" + string(table), nil
}
