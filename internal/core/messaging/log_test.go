package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/store/flatfile"
)

type fixture struct {
	registry *channel.Registry
	log      *Log
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	g := guard.New(flatfile.New(t.TempDir()), guard.NewMemoryCache(), guard.Config{}, zerolog.Nop())
	registry := channel.NewRegistry(g, channel.Limits{})
	return fixture{
		registry: registry,
		log:      NewLog(g, registry, Limits{MaxMessageLength: 1000}),
	}
}

// channelWith creates a channel and joins the given agents to it.
func (f fixture) channelWith(t *testing.T, name string, agents ...string) channel.Channel {
	t.Helper()
	ctx := context.Background()

	c, err := f.registry.Create(ctx, name, "general", "")
	require.NoError(t, err)
	for _, a := range agents {
		_, err := f.registry.AddMember(ctx, c.ID, a, "")
		require.NoError(t, err)
	}
	return c
}

func TestLog_FirstMessageHasSequenceOne(t *testing.T) {
	f := newFixture(t)
	ops := f.channelWith(t, "ops", "agent-a")

	msg, err := f.log.Append(context.Background(), ops.ID, "agent-a", "deploy starting", "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), msg.Sequence)
	assert.Equal(t, KindText, msg.Kind)
	assert.Equal(t, ops.ID, msg.ChannelID)
	assert.NotEmpty(t, msg.ID)
}

func TestLog_SequencesArePerChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := f.channelWith(t, "ops", "agent-a")
	dev := f.channelWith(t, "dev", "agent-a")

	for i := range 3 {
		msg, err := f.log.Append(ctx, ops.ID, "agent-a", fmt.Sprintf("ops %d", i), "text")
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), msg.Sequence)
	}

	msg, err := f.log.Append(ctx, dev.ID, "agent-a", "dev 0", "text")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Sequence)
}

func TestLog_ConcurrentAppendsGetUniqueSequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := f.channelWith(t, "ops", "agent-a", "agent-b")

	const perAgent = 10
	var wg sync.WaitGroup
	errCh := make(chan error, 2*perAgent)

	for _, agent := range []string{"agent-a", "agent-b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perAgent {
				if _, err := f.log.Append(ctx, ops.ID, agent, fmt.Sprintf("%s %d", agent, i), ""); err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	messages, err := f.log.Since(ctx, ops.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2*perAgent)
	for i, m := range messages {
		assert.Equal(t, int64(i+1), m.Sequence)
	}
}

func TestLog_AppendRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := f.channelWith(t, "ops", "agent-a")
	archived := f.channelWith(t, "old", "agent-a")
	_, err := f.registry.Archive(ctx, archived.ID)
	require.NoError(t, err)

	tests := []struct {
		name      string
		channelID string
		author    string
		body      string
		kind      string
		wantErr   error
	}{
		{"not a member", ops.ID, "agent-z", "hi", "", errs.ErrValidation},
		{"too long", ops.ID, "agent-a", strings.Repeat("x", 1001), "", errs.ErrMessageTooLong},
		{"empty body", ops.ID, "agent-a", "", "", errs.ErrValidation},
		{"unknown kind", ops.ID, "agent-a", "hi", "shout", errs.ErrInvalidKind},
		{"structured not json", ops.ID, "agent-a", "{oops", "structured", errs.ErrValidation},
		{"archived channel", archived.ID, "agent-a", "hi", "", errs.ErrValidation},
		{"missing channel", "channel_missing", "agent-a", "hi", "", errs.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.log.Append(ctx, tt.channelID, tt.author, tt.body, tt.kind)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	messages, err := f.log.Since(ctx, ops.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestLog_MessageLengthCountsRunes(t *testing.T) {
	f := newFixture(t)
	ops := f.channelWith(t, "ops", "agent-a")

	_, err := f.log.Append(context.Background(), ops.ID, "agent-a", strings.Repeat("é", 1000), "")
	require.NoError(t, err)
}

func TestLog_StructuredBody(t *testing.T) {
	f := newFixture(t)
	ops := f.channelWith(t, "ops", "agent-a")

	msg, err := f.log.Append(context.Background(), ops.ID, "agent-a", `{"status":"green"}`, "structured")
	require.NoError(t, err)
	assert.Equal(t, KindStructured, msg.Kind)
}

func TestLog_Since(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := f.channelWith(t, "ops", "agent-a")

	for i := range 5 {
		_, err := f.log.Append(ctx, ops.ID, "agent-a", fmt.Sprintf("m%d", i), "")
		require.NoError(t, err)
	}

	messages, err := f.log.Since(ctx, ops.ID, 3)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, int64(4), messages[0].Sequence)
	assert.Equal(t, "m4", messages[1].Body)

	messages, err = f.log.Since(ctx, ops.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestLog_Search(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := f.channelWith(t, "ops", "agent-a")
	dev := f.channelWith(t, "dev", "agent-a")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.log.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, body := range []string{"Deploy failed", "coffee", "deploy fixed"} {
		_, err := f.log.Append(ctx, ops.ID, "agent-a", body, "")
		require.NoError(t, err)
	}
	_, err := f.log.Append(ctx, dev.ID, "agent-a", "deploy preview", "")
	require.NoError(t, err)

	all, err := f.log.Search(ctx, "DEPLOY", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "deploy preview", all[0].Body)
	assert.Equal(t, "Deploy failed", all[2].Body)

	inOps, err := f.log.Search(ctx, "deploy", ops.ID, 1)
	require.NoError(t, err)
	require.Len(t, inOps, 1)
	assert.Equal(t, "deploy fixed", inOps[0].Body)
}

func TestLog_SearchLimitIsClamped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := f.channelWith(t, "ops", "agent-a")

	for i := range HardSearchLimit + 5 {
		_, err := f.log.Append(ctx, ops.ID, "agent-a", fmt.Sprintf("note %d", i), "")
		require.NoError(t, err)
	}

	found, err := f.log.Search(ctx, "note", "", 10_000)
	require.NoError(t, err)
	assert.Len(t, found, HardSearchLimit)
}

func TestLog_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := f.channelWith(t, "ops", "agent-a")
	quiet := f.channelWith(t, "quiet", "agent-a")

	for range 3 {
		_, err := f.log.Append(ctx, ops.ID, "agent-a", "hello", "")
		require.NoError(t, err)
	}

	stats, err := f.log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[ops.ID].Count)
	assert.Equal(t, int64(3), stats[ops.ID].LastSequence)
	_, ok := stats[quiet.ID]
	assert.False(t, ok)

	one, err := f.log.ChannelStats(ctx, quiet.ID)
	require.NoError(t, err)
	assert.Zero(t, one.Count)
}

func TestLog_PruneKeepsHighWaterMark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := f.channelWith(t, "ops", "agent-a")

	old := time.Now().Add(-48 * time.Hour)
	f.log.now = func() time.Time { return old }
	for i := range 3 {
		_, err := f.log.Append(ctx, ops.ID, "agent-a", fmt.Sprintf("old %d", i), "")
		require.NoError(t, err)
	}
	f.log.now = time.Now

	removed, err := f.log.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	next, err := f.log.Append(ctx, ops.ID, "agent-a", "fresh", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Sequence, "pruning must not reuse sequence keys")

	removed, err = f.log.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestLog_DeleteChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := f.channelWith(t, "ops", "agent-a")
	dev := f.channelWith(t, "dev", "agent-a")

	for _, id := range []string{ops.ID, ops.ID, dev.ID} {
		_, err := f.log.Append(ctx, id, "agent-a", "hi", "")
		require.NoError(t, err)
	}

	removed, err := f.log.DeleteChannel(ctx, ops.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := f.log.Since(ctx, dev.ID, 0)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
