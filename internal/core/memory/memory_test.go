package memory

import (
	"context"
	"strings"
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

func newTestStore(t *testing.T) (*Store, channel.Channel) {
	t.Helper()
	g := guard.New(flatfile.New(t.TempDir()), guard.NewMemoryCache(), guard.Config{}, zerolog.Nop())
	registry := channel.NewRegistry(g, channel.Limits{})

	c, err := registry.Create(context.Background(), "ops", "general", "")
	require.NoError(t, err)

	return NewStore(g, registry), c
}

func TestStore_SetPreservesCreatedAt(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }

	created, err := s.Set(ctx, c.ID, "plan", "v1", "")
	require.NoError(t, err)
	assert.Equal(t, KindContext, created.Kind)

	later := first.Add(time.Hour)
	s.now = func() time.Time { return later }

	updated, err := s.Set(ctx, c.ID, "plan", "v2", "decision")
	require.NoError(t, err)

	assert.Equal(t, "v2", updated.Value)
	assert.Equal(t, KindDecision, updated.Kind)
	assert.True(t, updated.CreatedAt.Equal(first), "created_at must survive an update")
	assert.True(t, updated.UpdatedAt.Equal(later))

	all, err := s.All(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "v2", all["plan"].Value)
}

func TestStore_SetIsIdempotent(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	for range 3 {
		_, err := s.Set(ctx, c.ID, "owner", "agent-a", "artifact")
		require.NoError(t, err)
	}

	all, err := s.All(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "agent-a", all["owner"].Value)
}

func TestStore_SetRejections(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		channelID string
		key       string
		value     string
		kind      string
		wantErr   error
	}{
		{"missing channel", "channel_missing", "k", "v", "", errs.ErrNotFound},
		{"empty key", c.ID, " ", "v", "", errs.ErrValidation},
		{"unknown kind", c.ID, "k", "v", "note", errs.ErrInvalidKind},
		{"value too large", c.ID, "k", strings.Repeat("v", 64*1024+1), "", errs.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Set(ctx, tt.channelID, tt.key, tt.value, tt.kind)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStore_GetAndDelete(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, c.ID, "plan")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.Set(ctx, c.ID, "plan", "ship it", "decision")
	require.NoError(t, err)

	got, err := s.Get(ctx, c.ID, "plan")
	require.NoError(t, err)
	assert.Equal(t, "ship it", got.Value)

	require.NoError(t, s.Delete(ctx, c.ID, "plan"))
	require.ErrorIs(t, s.Delete(ctx, c.ID, "plan"), errs.ErrNotFound)

	_, err = s.Get(ctx, c.ID, "plan")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_KeysAreScopedToChannel(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	other, err := s.channels.(*channel.Registry).Create(ctx, "dev", "general", "")
	require.NoError(t, err)

	_, err = s.Set(ctx, c.ID, "plan", "ops plan", "")
	require.NoError(t, err)
	_, err = s.Set(ctx, other.ID, "plan", "dev plan", "")
	require.NoError(t, err)

	got, err := s.Get(ctx, other.ID, "plan")
	require.NoError(t, err)
	assert.Equal(t, "dev plan", got.Value)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[c.ID])

	removed, err := s.DeleteChannel(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, other.ID, "plan")
	require.NoError(t, err)
}
