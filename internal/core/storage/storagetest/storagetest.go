// Package storagetest holds the behavioural contract every storage.Backend
// must satisfy. Adapter packages call Run from their own tests.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/storage"
)

// Factory returns a fresh, empty backend. Cleanup is registered on t.
type Factory func(t *testing.T) storage.Backend

// Run exercises b against the storage contract.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend)
	}{
		{"EmptyTableReadsEmpty", testEmptyTable},
		{"AppendPreservesOrder", testAppendOrder},
		{"ReplaceSwapsContents", testReplace},
		{"VersionChangesOnWrite", testVersion},
		{"UnknownTableRejected", testUnknownTable},
		{"TablesAreIndependent", testTablesIndependent},
		{"ConcurrentAppends", testConcurrentAppends},
		{"ExclusiveLockExcludes", testExclusiveLock},
		{"SharedLocksCoexist", testSharedLocks},
		{"LocksAreScopedToResource", testLockScope},
		{"ConcurrentNestedLocks", testConcurrentNestedLocks},
		{"IdentityIsStable", testIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, factory(t))
		})
	}
}

func testEmptyTable(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	records, err := b.ReadAll(ctx, storage.TableChannels)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = b.Version(ctx, storage.TableChannels)
	require.NoError(t, err)
}

func testAppendOrder(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, storage.TableMessages, []byte(`{"n":1}`), []byte(`{"n":2}`)))
	require.NoError(t, b.Append(ctx, storage.TableMessages, []byte(`{"n":3}`)))

	records, err := b.ReadAll(ctx, storage.TableMessages)
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i, rec := range records {
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i+1), string(rec))
	}
}

func testReplace(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, storage.TableQueuedFiles, []byte(`{"id":"a"}`), []byte(`{"id":"b"}`)))
	require.NoError(t, b.Replace(ctx, storage.TableQueuedFiles, [][]byte{[]byte(`{"id":"c"}`)}))

	records, err := b.ReadAll(ctx, storage.TableQueuedFiles)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"id":"c"}`, string(records[0]))

	require.NoError(t, b.Replace(ctx, storage.TableQueuedFiles, nil))
	records, err = b.ReadAll(ctx, storage.TableQueuedFiles)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testVersion(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	v0, err := b.Version(ctx, storage.TableChannelMemory)
	require.NoError(t, err)

	require.NoError(t, b.Append(ctx, storage.TableChannelMemory, []byte(`{"k":"a"}`)))
	v1, err := b.Version(ctx, storage.TableChannelMemory)
	require.NoError(t, err)
	assert.NotEqual(t, v0, v1, "append must change version")

	require.NoError(t, b.Replace(ctx, storage.TableChannelMemory, [][]byte{[]byte(`{"k":"b"}`), []byte(`{"k":"c"}`)}))
	v2, err := b.Version(ctx, storage.TableChannelMemory)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2, "replace must change version")

	v3, err := b.Version(ctx, storage.TableChannelMemory)
	require.NoError(t, err)
	assert.Equal(t, v2, v3, "version must be stable without writes")
}

func testUnknownTable(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	err := b.Append(ctx, storage.Table("users; drop"), []byte(`{}`))
	require.ErrorIs(t, err, storage.ErrUnknownTable)

	_, err = b.ReadAll(ctx, storage.Table("nope"))
	require.ErrorIs(t, err, storage.ErrUnknownTable)
}

func testTablesIndependent(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	require.NoError(t, b.Append(ctx, storage.TableAgentStates, []byte(`{"id":"agent-1"}`)))

	records, err := b.ReadAll(ctx, storage.TableChannels)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testConcurrentAppends(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				rec := fmt.Appendf(nil, `{"w":%d,"i":%d}`, w, i)
				if err := b.Append(ctx, storage.TableMessages, rec); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	records, err := b.ReadAll(ctx, storage.TableMessages)
	require.NoError(t, err)
	assert.Len(t, records, writers*perWriter)
}

func testExclusiveLock(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	release, ok, err := b.TryLock(ctx, "queued_files", storage.Exclusive)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx, "queued_files", storage.Exclusive)
	require.NoError(t, err)
	assert.False(t, ok, "second exclusive lock must fail")

	_, ok, err = b.TryLock(ctx, "queued_files", storage.Shared)
	require.NoError(t, err)
	assert.False(t, ok, "shared lock must fail while exclusive is held")

	require.NoError(t, release())

	release, ok, err = b.TryLock(ctx, "queued_files", storage.Exclusive)
	require.NoError(t, err)
	require.True(t, ok, "lock must be free after release")
	require.NoError(t, release())
}

func testSharedLocks(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	r1, ok, err := b.TryLock(ctx, "messages", storage.Shared)
	require.NoError(t, err)
	require.True(t, ok)

	r2, ok, err := b.TryLock(ctx, "messages", storage.Shared)
	require.NoError(t, err)
	require.True(t, ok, "shared locks must coexist")

	_, ok, err = b.TryLock(ctx, "messages", storage.Exclusive)
	require.NoError(t, err)
	assert.False(t, ok, "exclusive must wait for shared holders")

	require.NoError(t, r1())
	require.NoError(t, r2())
}

func testLockScope(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	r1, ok, err := b.TryLock(ctx, "messages/channel_a", storage.Exclusive)
	require.NoError(t, err)
	require.True(t, ok)

	r2, ok, err := b.TryLock(ctx, "messages/channel_b", storage.Exclusive)
	require.NoError(t, err)
	require.True(t, ok, "different resources must not contend")

	require.NoError(t, r1())
	require.NoError(t, r2())
}

func testIdentity(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	id, err := b.Identity(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, b.Append(ctx, storage.TableChannels, []byte(`{"id":"a"}`)))

	again, err := b.Identity(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again, "writes must not change the identity")
}

// testConcurrentNestedLocks holds three nested locks per writer, the way
// message appends do, while reading and writing through the same backend.
func testConcurrentNestedLocks(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	g := guard.New(b, guard.NewMemoryCache(), guard.Config{
		Timeout:      20 * time.Second,
		PollInterval: 5 * time.Millisecond,
	}, zerolog.Nop())

	locks := []guard.Lock{
		{Resource: string(storage.TableChannels), Mode: storage.Shared},
		{Resource: string(storage.TableMessages), Mode: storage.Shared},
		{Resource: "messages/channel_a", Mode: storage.Exclusive},
	}

	const writers = 8
	const rounds = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers*rounds)
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range rounds {
				err := g.WithLocks(ctx, locks, func() error {
					if _, err := g.Load(ctx, storage.TableChannels); err != nil {
						return err
					}
					if _, err := g.Load(ctx, storage.TableMessages); err != nil {
						return err
					}
					return g.Append(ctx, storage.TableMessages, fmt.Appendf(nil, `{"w":%d,"i":%d}`, w, i))
				})
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Minute):
		t.Fatal("writers holding nested locks did not finish")
	}
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	records, err := b.ReadAll(ctx, storage.TableMessages)
	require.NoError(t, err)
	assert.Len(t, records, writers*rounds)
}
