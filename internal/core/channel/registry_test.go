package channel

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/store/flatfile"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	g := guard.New(flatfile.New(t.TempDir()), guard.NewMemoryCache(), guard.Config{}, zerolog.Nop())
	return NewRegistry(g, Limits{})
}

func TestRegistry_Create(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	c, err := r.Create(ctx, "  ops  ", "meeting", "daily standup")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(c.ID, "channel_"))
	assert.Equal(t, "ops", c.Name)
	assert.Equal(t, KindMeeting, c.Kind)
	assert.Equal(t, StatusActive, c.Status)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := r.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
}

func TestRegistry_CreateDefaultsKind(t *testing.T) {
	r := newTestRegistry(t)

	c, err := r.Create(context.Background(), "general chat", "", "")
	require.NoError(t, err)
	assert.Equal(t, KindGeneral, c.Kind)
}

func TestRegistry_CreateRejectsDuplicateNames(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, "Ops", "general", "")
	require.NoError(t, err)

	_, err = r.Create(ctx, "ops", "general", "")
	require.ErrorIs(t, err, errs.ErrDuplicateName)

	_, err = r.Create(ctx, "OPS", "support", "")
	require.ErrorIs(t, err, errs.ErrDuplicateName)
}

func TestRegistry_CreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    string
		desc    string
		wantErr error
	}{
		{"bad characters", "ops!", "general", "", errs.ErrValidation},
		{"empty name", "   ", "general", "", errs.ErrValidation},
		{"name too long", strings.Repeat("a", 101), "general", "", errs.ErrValidation},
		{"description too long", "ops", "general", strings.Repeat("d", 501), errs.ErrValidation},
		{"unknown kind", "ops", "broadcast", "", errs.ErrInvalidKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			_, err := r.Create(context.Background(), tt.input, tt.kind, tt.desc)
			require.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestRegistry_CreateReportsFieldErrors(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create(context.Background(), "bad/name", "general", strings.Repeat("d", 501))

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Len(t, fieldErrs, 2)
}

func TestRegistry_ConcurrentCreateSameName(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	const workers = 6
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(ctx, "race", "general", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var created, dupes int
	for err := range results {
		switch {
		case err == nil:
			created++
		case assert.ErrorIs(t, err, errs.ErrDuplicateName):
			dupes++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, dupes)

	channels, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Get(context.Background(), "channel_missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "channel_missing", e.ID)
}

func TestRegistry_AddMember(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	c, err := r.Create(ctx, "ops", "general", "")
	require.NoError(t, err)

	m, err := r.AddMember(ctx, c.ID, "agent-1", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.SessionID, "session_"))

	again, err := r.AddMember(ctx, c.ID, "agent-1", "session_other")
	require.NoError(t, err)
	assert.Equal(t, m.SessionID, again.SessionID, "joining twice must be idempotent")

	got, err := r.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Members, 1)
	assert.True(t, got.HasMember("agent-1"))
	assert.False(t, got.HasMember("agent-2"))

	_, err = r.AddMember(ctx, "channel_missing", "agent-1", "")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = r.AddMember(ctx, c.ID, "", "")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestRegistry_AddMemberKeepsSessionID(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	c, err := r.Create(ctx, "ops", "general", "")
	require.NoError(t, err)

	m, err := r.AddMember(ctx, c.ID, "agent-1", "host-session-42")
	require.NoError(t, err)
	assert.Equal(t, "host-session-42", m.SessionID)

	got, err := r.Get(ctx, c.ID)
	require.NoError(t, err)
	stored, ok := got.Member("agent-1")
	require.True(t, ok)
	assert.Equal(t, "host-session-42", stored.SessionID)

	_, err = r.AddMember(ctx, c.ID, "agent-2", "bad\x00session")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestRegistry_Archive(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	c, err := r.Create(ctx, "ops", "general", "")
	require.NoError(t, err)

	archived, err := r.Archive(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)

	_, err = r.Archive(ctx, c.ID)
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = r.AddMember(ctx, c.ID, "agent-1", "")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestRegistry_ListNewestFirstAndPurge(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Create(ctx, "first", "general", "")
	require.NoError(t, err)
	second, err := r.Create(ctx, "second", "general", "")
	require.NoError(t, err)

	channels, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, second.ID, channels[0].ID)

	var cascaded string
	purged, err := r.Purge(ctx, first.ID, func(_ context.Context, c Channel) error {
		cascaded = c.ID
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, purged.ID)
	assert.Equal(t, first.ID, cascaded)

	_, err = r.Purge(ctx, first.ID, nil)
	require.ErrorIs(t, err, errs.ErrNotFound)

	channels, err = r.List(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)

	found, err := r.FindByName(ctx, "SECOND")
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
}

func TestRegistry_PurgeKeepsChannelWhenCascadeFails(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	c, err := r.Create(ctx, "ops", "general", "")
	require.NoError(t, err)

	_, err = r.Purge(ctx, c.ID, func(context.Context, Channel) error {
		return errs.Storage(assert.AnError)
	})
	require.ErrorIs(t, err, errs.ErrStorage)

	_, err = r.Get(ctx, c.ID)
	require.NoError(t, err)
}
