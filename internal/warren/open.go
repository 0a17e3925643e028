package warren

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/hay-kot/warren/internal/core/config"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/store/cborlog"
	"github.com/hay-kot/warren/internal/store/flatfile"
	"github.com/hay-kot/warren/internal/store/postgres"
	"github.com/hay-kot/warren/internal/store/rediscache"
	"github.com/hay-kot/warren/internal/store/sqlite"
)

// Open creates the backend, cache, and event log named by cfg and returns
// a Service that owns them.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	cache, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	svc := New(Options{
		Backend: backend,
		Cache:   cache,
		Events:  cborlog.New(cfg.EventsFile()),
		Config:  *cfg,
		Logger:  logger,
	})
	svc.closers = append(svc.closers, backend.Close)
	if closeCache != nil {
		svc.closers = append(svc.closers, closeCache)
	}

	logger.Debug().
		Str("backend", backend.Kind()).
		Str("cache", cfg.Cache.Kind).
		Str("data_dir", cfg.DataDir).
		Msg("service opened")

	return svc, nil
}

// OpenBackend opens the storage adapter selected by cfg.Backend.Kind.
func OpenBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendFlatfile, "":
		return flatfile.New(cfg.StoreDir()), nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath()), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		b, err := sqlite.Open(ctx, sqlite.Config{
			Path:   cfg.SQLitePath(),
			Lease:  cfg.Lock.Lease,
			Logger: logger.With().Str("component", "sqlite").Logger(),
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return b, nil
	case config.BackendPostgres:
		b, err := postgres.Open(ctx, postgres.Config{
			URL:       cfg.Backend.URL,
			LockConns: cfg.Backend.LockConns,
			Logger:    logger.With().Str("component", "postgres").Logger(),
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres backend: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

func openCache(ctx context.Context, cfg *config.Config) (guard.Cache, func() error, error) {
	switch cfg.Cache.Kind {
	case config.CacheMemory, "":
		return guard.NewMemoryCache(), nil, nil
	case config.CacheNone:
		return guard.NopCache{}, nil, nil
	case config.CacheRedis:
		c, err := rediscache.New(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis cache: %w", err)
		}
		return c, c.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache kind %q", cfg.Cache.Kind)
	}
}
