package cborlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/warren/internal/core/events"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "events.cbor"))
}

func TestLog_ListEmpty(t *testing.T) {
	l := newTestLog(t)

	got, err := l.List(context.Background(), events.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLog_RecordAndList(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i, typ := range []events.Type{events.ChannelCreated, events.FileQueued, events.FileClaimed} {
		err := l.Record(ctx, events.Event{
			Type:      typ,
			ChannelID: "channel_1",
			Subject:   fmt.Sprintf("s%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	got, err := l.List(ctx, events.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, events.FileClaimed, got[0].Type, "newest first")
	assert.NotEmpty(t, got[0].ID)
	assert.True(t, got[2].Timestamp.Equal(base))

	claims, err := l.List(ctx, events.Filter{Type: events.FileClaimed})
	require.NoError(t, err)
	assert.Len(t, claims, 1)

	limited, err := l.List(ctx, events.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLog_ConcurrentRecords(t *testing.T) {
	l := newTestLog(t)
	other := New(l.Path())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, log := range []*Log{l, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				assert.NoError(t, log.Record(ctx, events.Event{Type: events.MessageAppended}))
			}
		}()
	}
	wg.Wait()

	got, err := l.List(ctx, events.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 50)
}

func TestLog_TruncatedTailIsIgnored(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, events.Event{Type: events.ChannelCreated}))
	require.NoError(t, l.Record(ctx, events.Event{Type: events.ChannelArchived}))

	info, err := os.Stat(l.Path())
	require.NoError(t, err)
	require.NoError(t, os.Truncate(l.Path(), info.Size()-3))

	got, err := l.List(ctx, events.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, events.ChannelCreated, got[0].Type)
}

func TestLog_RecordAfterTornWrite(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, events.Event{Type: events.ChannelCreated}))
	require.NoError(t, l.Record(ctx, events.Event{Type: events.ChannelArchived}))

	info, err := os.Stat(l.Path())
	require.NoError(t, err)
	require.NoError(t, os.Truncate(l.Path(), info.Size()-3))

	// A fresh handle has no record of the file's last good size.
	writer := New(l.Path())
	for i := range 3 {
		require.NoError(t, writer.Record(ctx, events.Event{Type: events.MemorySet, Subject: fmt.Sprintf("k%d", i)}))
	}

	got, err := l.List(ctx, events.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "k2", got[0].Subject)
	assert.Equal(t, events.ChannelCreated, got[3].Type)

	dropped, err := l.Compact(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
}

func TestLog_RecordAfterExternalTruncation(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, events.Event{Type: events.ChannelCreated}))
	require.NoError(t, l.Record(ctx, events.Event{Type: events.ChannelArchived}))

	// Same handle: the cached tail no longer matches the file.
	info, err := os.Stat(l.Path())
	require.NoError(t, err)
	require.NoError(t, os.Truncate(l.Path(), info.Size()-1))

	require.NoError(t, l.Record(ctx, events.Event{Type: events.FileQueued}))

	got, err := l.List(ctx, events.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.FileQueued, got[0].Type)
}

func TestLog_Compact(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, l.Record(ctx, events.Event{Type: events.MemorySet, Subject: fmt.Sprintf("k%d", i)}))
	}

	dropped, err := l.Compact(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)

	got, err := l.List(ctx, events.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "k4", got[0].Subject)
	assert.Equal(t, "k3", got[1].Subject)

	dropped, err = l.Compact(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, dropped)
}
