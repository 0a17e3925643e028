// Package sqlite provides a storage.Backend on a SQLite database.
//
// Each logical table is a SQL table of JSON bodies ordered by an
// autoincrement row id. A table_versions row is bumped in the same
// transaction as every write so cache entries can be validated across
// processes. Advisory locks are leases in the resource_locks table: shared
// leases coexist, an exclusive lease requires no other holders, and an
// expired lease is discarded so a crashed holder cannot wedge a resource.
package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hay-kot/warren/internal/core/storage"
)

// DefaultLease bounds how long an abandoned lock survives its holder.
const DefaultLease = time.Minute

// Config holds the parameters for opening a SQLite backend.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	// Lease is the lifetime of a lock row. Defaults to DefaultLease.
	Lease time.Duration

	Logger zerolog.Logger
}

// Backend implements storage.Backend on SQLite.
type Backend struct {
	pool   *sqlitex.Pool
	path   string
	id     string
	lease  time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// Open creates the pool, applies pragmas to every connection, and creates
// the schema.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	lease := cfg.Lease
	if lease <= 0 {
		lease = DefaultLease
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", cfg.Path, err)
	}

	b := &Backend{
		pool:   pool,
		path:   cfg.Path,
		lease:  lease,
		logger: cfg.Logger,
		now:    time.Now,
	}

	if err := b.migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	b.logger.Debug().
		Str("path", cfg.Path).
		Int("pool_size", poolSize).
		Msg("sqlite backend opened")

	return b, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer b.pool.Put(conn)

	schema := `
CREATE TABLE IF NOT EXISTS table_versions (
	name    TEXT PRIMARY KEY,
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS resource_locks (
	lock_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	resource   TEXT NOT NULL,
	owner      TEXT NOT NULL,
	mode       TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS resource_locks_resource ON resource_locks(resource);
`
	for _, table := range storage.Tables {
		schema += fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	row_id INTEGER PRIMARY KEY AUTOINCREMENT,
	body   TEXT NOT NULL
);`, table)
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite: create schema: %w", err)
	}

	err = sqlitex.Execute(conn, "INSERT OR IGNORE INTO store_meta (key, value) VALUES ('store_id', ?)", &sqlitex.ExecOptions{
		Args: []any{uuid.NewString()},
	})
	if err != nil {
		return fmt.Errorf("sqlite: init store id: %w", err)
	}

	err = sqlitex.Execute(conn, "SELECT value FROM store_meta WHERE key = 'store_id'", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			b.id = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("sqlite: read store id: %w", err)
	}
	return nil
}

// Kind implements storage.Backend.
func (b *Backend) Kind() string { return "sqlite" }

// Identity returns the ID stored in store_meta when the database was
// created.
func (b *Backend) Identity(context.Context) (string, error) { return b.id, nil }

// Append inserts records and bumps the table version in one transaction.
func (b *Backend) Append(ctx context.Context, table storage.Table, records ...[]byte) (err error) {
	if err := storage.CheckTable(table); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	conn, err := b.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer b.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	defer endFn(&err)

	if err = insertRecords(conn, table, records); err != nil {
		return err
	}
	return bumpVersion(conn, table)
}

// ReadAll returns the table's bodies in row order.
func (b *Backend) ReadAll(ctx context.Context, table storage.Table) ([][]byte, error) {
	if err := storage.CheckTable(table); err != nil {
		return nil, err
	}

	conn, err := b.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: take: %w", err)
	}
	defer b.pool.Put(conn)

	var records [][]byte
	err = sqlitex.Execute(conn, fmt.Sprintf("SELECT body FROM %s ORDER BY row_id", table), &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, []byte(stmt.ColumnText(0)))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: read %s: %w", table, err)
	}

	return records, nil
}

// Replace deletes every row of table and inserts records in one
// transaction.
func (b *Backend) Replace(ctx context.Context, table storage.Table, records [][]byte) (err error) {
	if err := storage.CheckTable(table); err != nil {
		return err
	}

	conn, err := b.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer b.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	defer endFn(&err)

	if err = sqlitex.Execute(conn, fmt.Sprintf("DELETE FROM %s", table), nil); err != nil {
		return fmt.Errorf("sqlite: clear %s: %w", table, err)
	}
	if err = insertRecords(conn, table, records); err != nil {
		return err
	}
	return bumpVersion(conn, table)
}

// Version returns the table's write counter.
func (b *Backend) Version(ctx context.Context, table storage.Table) (string, error) {
	if err := storage.CheckTable(table); err != nil {
		return "", err
	}

	conn, err := b.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("sqlite: take: %w", err)
	}
	defer b.pool.Put(conn)

	var version int64
	err = sqlitex.Execute(conn, "SELECT version FROM table_versions WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{string(table)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return "", fmt.Errorf("sqlite: version %s: %w", table, err)
	}

	return strconv.FormatInt(version, 10), nil
}

// TryLock takes a lease on resource if no conflicting lease is live.
func (b *Backend) TryLock(ctx context.Context, resource string, mode storage.LockMode) (storage.Release, bool, error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: take: %w", err)
	}
	defer b.pool.Put(conn)

	lockID, ok, err := b.acquire(conn, resource, mode)
	if err != nil || !ok {
		return nil, false, err
	}

	release := func() error {
		// The caller's context may already be done; the lease must still go.
		conn, err := b.pool.Take(context.Background())
		if err != nil {
			return fmt.Errorf("sqlite: take: %w", err)
		}
		defer b.pool.Put(conn)

		err = sqlitex.Execute(conn, "DELETE FROM resource_locks WHERE lock_id = ?", &sqlitex.ExecOptions{
			Args: []any{lockID},
		})
		if err != nil {
			return fmt.Errorf("sqlite: release lock %s: %w", resource, err)
		}
		return nil
	}

	return release, true, nil
}

func (b *Backend) acquire(conn *sqlite.Conn, resource string, mode storage.LockMode) (lockID int64, ok bool, err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	defer endFn(&err)

	now := b.now()

	err = sqlitex.Execute(conn, "DELETE FROM resource_locks WHERE expires_at < ?", &sqlitex.ExecOptions{
		Args: []any{now.UnixNano()},
	})
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: expire locks: %w", err)
	}

	var holders, exclusive int
	err = sqlitex.Execute(conn, "SELECT mode FROM resource_locks WHERE resource = ?", &sqlitex.ExecOptions{
		Args: []any{resource},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			holders++
			if stmt.ColumnText(0) == storage.Exclusive.String() {
				exclusive++
			}
			return nil
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: inspect locks: %w", err)
	}

	if exclusive > 0 || (mode == storage.Exclusive && holders > 0) {
		return 0, false, nil
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO resource_locks (resource, owner, mode, expires_at) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{resource, uuid.NewString(), mode.String(), now.Add(b.lease).UnixNano()},
		})
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: insert lock: %w", err)
	}

	return conn.LastInsertRowID(), true, nil
}

// Close closes the pool, blocking until borrowed connections return.
func (b *Backend) Close() error {
	if err := b.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: closing %s: %w", b.path, err)
	}
	return nil
}

func insertRecords(conn *sqlite.Conn, table storage.Table, records [][]byte) error {
	query := fmt.Sprintf("INSERT INTO %s (body) VALUES (?)", table)
	for i, rec := range records {
		err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{string(rec)},
		})
		if err != nil {
			return fmt.Errorf("sqlite: insert %s record %d: %w", table, i, err)
		}
	}
	return nil
}

func bumpVersion(conn *sqlite.Conn, table storage.Table) error {
	err := sqlitex.Execute(conn, `
INSERT INTO table_versions (name, version) VALUES (?, 1)
ON CONFLICT(name) DO UPDATE SET version = version + 1`,
		&sqlitex.ExecOptions{Args: []any{string(table)}},
	)
	if err != nil {
		return fmt.Errorf("sqlite: bump version %s: %w", table, err)
	}
	return nil
}
