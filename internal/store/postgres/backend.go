// Package postgres provides a storage.Backend on PostgreSQL using pgx.
//
// Locks are session-level advisory locks. Each held lock pins one
// connection from a lock pool that is separate from the pool serving
// reads and writes, so lock holders can always reach their data. A caller
// that cannot get a lock connection within LockWait sees the lock as
// contended and the guard's bounded wait applies.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hay-kot/warren/internal/core/storage"
)

const (
	DefaultLockConns = 32
	DefaultLockWait  = 250 * time.Millisecond
)

// Config holds the parameters for opening a PostgreSQL backend.
type Config struct {
	URL string

	// LockConns caps the connections pinned by held locks. Defaults to
	// DefaultLockConns.
	LockConns int32

	// LockWait bounds the wait for a free lock connection. Defaults to
	// DefaultLockWait.
	LockWait time.Duration

	Logger zerolog.Logger
}

// Backend implements storage.Backend on PostgreSQL.
type Backend struct {
	pool     *pgxpool.Pool
	locks    *pgxpool.Pool
	id       string
	lockWait time.Duration
	logger   zerolog.Logger
}

// Open connects both pools, pings, and creates the schema.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.LockConns <= 0 {
		cfg.LockConns = DefaultLockConns
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	lockCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}
	lockCfg.MaxConns = cfg.LockConns
	lockCfg.MinConns = 0

	locks, err := pgxpool.NewWithConfig(ctx, lockCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: connect lock pool: %w", err)
	}

	b := &Backend{pool: pool, locks: locks, lockWait: cfg.LockWait, logger: cfg.Logger}
	if err := b.migrate(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}

	b.logger.Debug().
		Int32("data_conns", pool.Config().MaxConns).
		Int32("lock_conns", cfg.LockConns).
		Msg("postgres backend opened")

	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS table_versions (
	name    TEXT PRIMARY KEY,
	version BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`
	for _, table := range storage.Tables {
		schema += fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	row_id BIGSERIAL PRIMARY KEY,
	body   JSONB NOT NULL
);`, table)
	}

	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: create schema: %w", err)
	}

	_, err := b.pool.Exec(ctx, `
INSERT INTO store_meta (key, value) VALUES ('store_id', $1)
ON CONFLICT (key) DO NOTHING`, uuid.NewString())
	if err != nil {
		return fmt.Errorf("postgres: init store id: %w", err)
	}

	if err := b.pool.QueryRow(ctx, "SELECT value FROM store_meta WHERE key = 'store_id'").Scan(&b.id); err != nil {
		return fmt.Errorf("postgres: read store id: %w", err)
	}
	return nil
}

// Kind implements storage.Backend.
func (b *Backend) Kind() string { return "postgres" }

// Identity returns the ID stored in store_meta when the schema was created.
func (b *Backend) Identity(context.Context) (string, error) { return b.id, nil }

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Append inserts records and bumps the table version in one transaction.
func (b *Backend) Append(ctx context.Context, table storage.Table, records ...[]byte) error {
	if err := storage.CheckTable(table); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if err := insertRecords(ctx, tx, table, records); err != nil {
			return err
		}
		return bumpVersion(ctx, tx, table)
	})
}

// ReadAll returns the table's bodies in row order.
func (b *Backend) ReadAll(ctx context.Context, table storage.Table) ([][]byte, error) {
	if err := storage.CheckTable(table); err != nil {
		return nil, err
	}

	rows, err := b.pool.Query(ctx, fmt.Sprintf("SELECT body::text FROM %s ORDER BY row_id", table))
	if err != nil {
		return nil, fmt.Errorf("postgres: read %s: %w", table, err)
	}
	defer rows.Close()

	var records [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", table, err)
		}
		records = append(records, []byte(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read %s: %w", table, err)
	}

	return records, nil
}

// Replace deletes every row of table and inserts records in one
// transaction.
func (b *Backend) Replace(ctx context.Context, table storage.Table, records [][]byte) error {
	if err := storage.CheckTable(table); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("postgres: clear %s: %w", table, err)
		}
		if err := insertRecords(ctx, tx, table, records); err != nil {
			return err
		}
		return bumpVersion(ctx, tx, table)
	})
}

// Version returns the table's write counter.
func (b *Backend) Version(ctx context.Context, table storage.Table) (string, error) {
	if err := storage.CheckTable(table); err != nil {
		return "", err
	}

	var version int64
	err := b.pool.QueryRow(ctx, "SELECT version FROM table_versions WHERE name = $1", string(table)).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "0", nil
		}
		return "", fmt.Errorf("postgres: version %s: %w", table, err)
	}

	return strconv.FormatInt(version, 10), nil
}

// TryLock takes a session advisory lock on a lock-pool connection held for
// the duration of the lock. An exhausted lock pool reports ok=false.
func (b *Backend) TryLock(ctx context.Context, resource string, mode storage.LockMode) (storage.Release, bool, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, b.lockWait)
	conn, err := b.locks.Acquire(acquireCtx)
	cancel()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			b.logger.Debug().Str("resource", resource).Msg("lock pool exhausted")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgres: acquire: %w", err)
	}

	lockFn, unlockFn := "pg_try_advisory_lock", "pg_advisory_unlock"
	if mode == storage.Shared {
		lockFn, unlockFn = "pg_try_advisory_lock_shared", "pg_advisory_unlock_shared"
	}

	key := storage.AdvisoryKey(resource)

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT "+lockFn+"($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("postgres: lock %s: %w", resource, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release := func() error {
		defer conn.Release()
		if _, err := conn.Exec(context.Background(), "SELECT "+unlockFn+"($1)", key); err != nil {
			return fmt.Errorf("postgres: unlock %s: %w", resource, err)
		}
		return nil
	}

	return release, true, nil
}

// Close closes both pools.
func (b *Backend) Close() error {
	b.locks.Close()
	b.pool.Close()
	return nil
}

func insertRecords(ctx context.Context, tx pgx.Tx, table storage.Table, records [][]byte) error {
	query := fmt.Sprintf("INSERT INTO %s (body) VALUES ($1::jsonb)", table)
	for i, rec := range records {
		if _, err := tx.Exec(ctx, query, string(rec)); err != nil {
			return fmt.Errorf("postgres: insert %s record %d: %w", table, i, err)
		}
	}
	return nil
}

func bumpVersion(ctx context.Context, tx pgx.Tx, table storage.Table) error {
	_, err := tx.Exec(ctx, `
INSERT INTO table_versions (name, version) VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET version = table_versions.version + 1`, string(table))
	if err != nil {
		return fmt.Errorf("postgres: bump version %s: %w", table, err)
	}
	return nil
}
