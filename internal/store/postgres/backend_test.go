package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/core/storage/storagetest"
)

func testURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("WARREN_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("WARREN_TEST_POSTGRES_URL not set")
	}
	return url
}

func openTestBackend(t *testing.T, cfg Config) *Backend {
	t.Helper()
	ctx := context.Background()

	cfg.URL = testURL(t)
	cfg.Logger = zerolog.Nop()

	b, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	for _, table := range storage.Tables {
		_, err := b.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", table))
		require.NoError(t, err)
	}
	_, err = b.pool.Exec(ctx, "TRUNCATE table_versions")
	require.NoError(t, err)

	return b
}

func TestBackend_Contract(t *testing.T) {
	testURL(t)

	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return openTestBackend(t, Config{})
	})
}

func TestTryLock_ExhaustedLockPoolReportsContention(t *testing.T) {
	b := openTestBackend(t, Config{LockConns: 1, LockWait: 50 * time.Millisecond})
	ctx := context.Background()

	release, ok, err := b.TryLock(ctx, "channels", storage.Shared)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	_, ok, err = b.TryLock(ctx, "messages", storage.Exclusive)
	require.NoError(t, err)
	assert.False(t, ok, "no lock connection is free")
	assert.Less(t, time.Since(start), 2*time.Second)

	// Data access does not compete with held locks.
	require.NoError(t, b.Append(ctx, storage.TableMessages, []byte(`{"n":1}`)))
	records, err := b.ReadAll(ctx, storage.TableMessages)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	require.NoError(t, release())

	release, ok, err = b.TryLock(ctx, "messages", storage.Exclusive)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, release())
}
