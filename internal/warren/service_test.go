package warren

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/warren/internal/core/agent"
	"github.com/hay-kot/warren/internal/core/config"
	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/events"
	"github.com/hay-kot/warren/internal/core/queue"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/store/flatfile"
)

// backends opens a fresh service per storage adapter.
var backends = map[string]func(t *testing.T) *Service{
	config.BackendFlatfile: func(t *testing.T) *Service {
		return openTestService(t, config.BackendFlatfile)
	},
	config.BackendSQLite: func(t *testing.T) *Service {
		return openTestService(t, config.BackendSQLite)
	},
}

func openTestService(t *testing.T, kind string) *Service {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend.Kind = kind

	svc, err := Open(context.Background(), &cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func forEachBackend(t *testing.T, fn func(t *testing.T, svc *Service)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestService_OpsChannelFirstMessage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		_, err := svc.CreateChannel(ctx, "ops", "general", "")
		require.NoError(t, err)
		_, err = svc.AddUserToChannel(ctx, "ops", "A", "")
		require.NoError(t, err)
		_, err = svc.AddUserToChannel(ctx, "ops", "B", "")
		require.NoError(t, err)

		_, err = svc.AddMessage(ctx, "ops", "A", "status check", "")
		require.NoError(t, err)

		messages, err := svc.GetMessages(ctx, "ops", 0)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, int64(1), messages[0].Sequence)
		assert.Equal(t, "status check", messages[0].Body)
	})
}

func TestService_PriorityClaimOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		c, err := svc.CreateChannel(ctx, "ingest", "", "")
		require.NoError(t, err)

		_, err = svc.AddFileToQueue(ctx, c.ID, "notes.txt", 1, "")
		require.NoError(t, err)
		_, err = svc.AddFileToQueue(ctx, c.ID, "report.csv", 5, "")
		require.NoError(t, err)

		first, err := svc.GetNextFileFromQueue(ctx, c.ID, "worker")
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, "report.csv", first.Name)

		second, err := svc.GetNextFileFromQueue(ctx, c.ID, "worker")
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, "notes.txt", second.Name)
	})
}

func TestService_ConcurrentClaimsOneWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		c, err := svc.CreateChannel(ctx, "race", "", "")
		require.NoError(t, err)
		_, err = svc.AddFileToQueue(ctx, c.ID, "only.bin", 0, "")
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			results [2]*queue.File
			errList [2]error
		)
		for i := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errList[i] = svc.GetNextFileFromQueue(ctx, c.ID, "")
			}()
		}
		wg.Wait()

		require.NoError(t, errList[0])
		require.NoError(t, errList[1])

		var winners int
		for _, f := range results {
			if f != nil {
				winners++
				assert.Equal(t, queue.StatusProcessing, f.Status)
			}
		}
		assert.Equal(t, 1, winners, "exactly one claimer gets the file")
	})
}

func TestService_MemoryUpsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		_, err := svc.CreateChannel(ctx, "ops", "", "")
		require.NoError(t, err)

		first, err := svc.SetChannelMemory(ctx, "ops", "plan", "draft", "")
		require.NoError(t, err)

		second, err := svc.SetChannelMemory(ctx, "ops", "plan", "final", "decision")
		require.NoError(t, err)
		assert.True(t, second.CreatedAt.Equal(first.CreatedAt))

		all, err := svc.GetChannelMemory(ctx, "ops")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "final", all["plan"].Value)

		require.NoError(t, svc.DeleteChannelMemory(ctx, "ops", "plan"))
		_, err = svc.GetChannelMemoryEntry(ctx, "ops", "plan")
		require.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestService_CompleteAndFail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		c, err := svc.CreateChannel(ctx, "work", "", "")
		require.NoError(t, err)
		for _, p := range []string{"a.txt", "b.txt"} {
			_, err := svc.AddFileToQueue(ctx, c.ID, p, 0, "")
			require.NoError(t, err)
		}

		a, err := svc.GetNextFileFromQueue(ctx, c.ID, "worker")
		require.NoError(t, err)
		b, err := svc.GetNextFileFromQueue(ctx, c.ID, "worker")
		require.NoError(t, err)

		done, err := svc.CompleteFile(ctx, a.ID, "worker")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusDone, done.Status)

		failed, err := svc.FailFile(ctx, b.ID, "")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, failed.Status)

		_, err = svc.CompleteFile(ctx, a.ID, "worker")
		require.ErrorIs(t, err, errs.ErrInvalidTransition)

		files, err := svc.ListQueue(ctx, c.ID, queue.StatusDone)
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})
}

func TestService_StatusAndPresence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		_, err := svc.RegisterAgent(ctx, "idle-agent", []string{"csv"})
		require.NoError(t, err)

		c, err := svc.CreateChannel(ctx, "ops", "", "")
		require.NoError(t, err)
		_, err = svc.AddUserToChannel(ctx, c.ID, "A", "")
		require.NoError(t, err)
		msg, err := svc.AddMessage(ctx, c.ID, "A", "hello", "")
		require.NoError(t, err)
		_, err = svc.AddFileToQueue(ctx, c.ID, "x.txt", 0, "")
		require.NoError(t, err)
		_, err = svc.SetChannelMemory(ctx, c.ID, "k", "v", "")
		require.NoError(t, err)

		st, err := svc.GetChannelStatus(ctx, "ops")
		require.NoError(t, err)
		assert.Equal(t, 1, st.MemberCount)
		assert.Equal(t, 1, st.MessageCount)
		assert.Equal(t, int64(1), st.LastSequence)
		assert.Equal(t, 1, st.Queue.Queued)
		assert.Equal(t, 1, st.MemoryCount)
		assert.False(t, st.UpdatedAt.Before(msg.CreatedAt))

		sys, err := svc.GetSystemStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sys.ChannelCount)
		assert.Equal(t, 1, sys.ActiveChannels)
		assert.Equal(t, 2, sys.AgentCount)
		assert.Equal(t, 1, sys.AvailableAgents)
		assert.Equal(t, 1, sys.ActiveAgents)
		assert.Equal(t, 1, sys.MessageCount)
		assert.Equal(t, 1, sys.QueueDepth)
		assert.Equal(t, svc.Backend(), sys.Backend)

		a, err := svc.GetAgent(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, agent.StatusActive, a.Status)
		assert.Equal(t, c.ID, a.CurrentChannel)

		off, err := svc.MarkAgentOffline(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, agent.StatusOffline, off.Status)
	})
}

func TestService_ArchiveAndPurge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		c, err := svc.CreateChannel(ctx, "temp", "", "")
		require.NoError(t, err)
		_, err = svc.AddUserToChannel(ctx, c.ID, "A", "")
		require.NoError(t, err)
		_, err = svc.AddMessage(ctx, c.ID, "A", "one", "")
		require.NoError(t, err)
		_, err = svc.AddFileToQueue(ctx, c.ID, "f.txt", 0, "")
		require.NoError(t, err)
		_, err = svc.SetChannelMemory(ctx, c.ID, "k", "v", "")
		require.NoError(t, err)

		_, err = svc.ArchiveChannel(ctx, c.ID)
		require.NoError(t, err)

		_, err = svc.AddMessage(ctx, c.ID, "A", "two", "")
		require.ErrorIs(t, err, errs.ErrValidation)

		history, err := svc.GetMessages(ctx, c.ID, 0)
		require.NoError(t, err)
		assert.Len(t, history, 1, "archived history stays readable")

		res, err := svc.PurgeChannel(ctx, "temp")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Messages)
		assert.Equal(t, 1, res.Files)
		assert.Equal(t, 1, res.MemoryEntries)

		_, err = svc.GetChannel(ctx, c.ID)
		require.ErrorIs(t, err, errs.ErrNotFound)

		again, err := svc.CreateChannel(ctx, "temp", "", "")
		require.NoError(t, err)
		assert.NotEqual(t, c.ID, again.ID, "channel ids are never reused")

		messages, err := svc.GetMessages(ctx, again.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

// flakyBackend fails Replace on one table while failing is set.
type flakyBackend struct {
	storage.Backend
	table   storage.Table
	failing atomic.Bool
}

func (b *flakyBackend) Replace(ctx context.Context, table storage.Table, records [][]byte) error {
	if table == b.table && b.failing.Load() {
		return errors.New("disk unavailable")
	}
	return b.Backend.Replace(ctx, table, records)
}

func TestService_PurgeRetriesToCompletion(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Backend: flatfile.New(t.TempDir()), table: storage.TableQueuedFiles}
	svc := New(Options{Backend: backend, Config: config.DefaultConfig(), Logger: zerolog.Nop()})

	c, err := svc.CreateChannel(ctx, "temp", "", "")
	require.NoError(t, err)
	_, err = svc.AddUserToChannel(ctx, c.ID, "A", "")
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, c.ID, "A", "one", "")
	require.NoError(t, err)
	_, err = svc.AddFileToQueue(ctx, c.ID, "f.txt", 0, "")
	require.NoError(t, err)
	_, err = svc.SetChannelMemory(ctx, c.ID, "k", "v", "")
	require.NoError(t, err)

	backend.failing.Store(true)
	_, err = svc.PurgeChannel(ctx, c.ID)
	require.ErrorIs(t, err, errs.ErrStorage)

	_, err = svc.GetChannel(ctx, c.ID)
	require.NoError(t, err, "channel record survives a failed purge")
	messages, err := svc.GetMessages(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages, "rows removed before the failure stay removed")

	backend.failing.Store(false)
	res, err := svc.PurgeChannel(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Messages)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.MemoryEntries)

	_, err = svc.GetChannel(ctx, c.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestService_AddUserToChannelRecordsSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		c, err := svc.CreateChannel(ctx, "ops", "", "")
		require.NoError(t, err)

		m, err := svc.AddUserToChannel(ctx, "ops", "A", "pane-3")
		require.NoError(t, err)
		assert.Equal(t, "pane-3", m.SessionID)

		again, err := svc.AddUserToChannel(ctx, "ops", "A", "pane-9")
		require.NoError(t, err)
		assert.Equal(t, "pane-3", again.SessionID, "rejoining keeps the first session")

		got, err := svc.GetChannel(ctx, c.ID)
		require.NoError(t, err)
		stored, ok := got.Member("A")
		require.True(t, ok)
		assert.Equal(t, "pane-3", stored.SessionID)
	})
}

func TestService_SearchMessages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		c, err := svc.CreateChannel(ctx, "ops", "", "")
		require.NoError(t, err)
		_, err = svc.AddUserToChannel(ctx, c.ID, "A", "")
		require.NoError(t, err)
		for _, body := range []string{"disk full", "all good", "Disk cleaned"} {
			_, err := svc.AddMessage(ctx, c.ID, "A", body, "")
			require.NoError(t, err)
		}

		found, err := svc.SearchMessages(ctx, "disk", "", 0)
		require.NoError(t, err)
		assert.Len(t, found, 2)

		_, err = svc.SearchMessages(ctx, "disk", "missing", 0)
		require.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestService_Subscribe(t *testing.T) {
	svc := openTestService(t, config.BackendFlatfile)
	ctx := context.Background()

	c, err := svc.CreateChannel(ctx, "live", "", "")
	require.NoError(t, err)
	_, err = svc.AddUserToChannel(ctx, c.ID, "A", "")
	require.NoError(t, err)

	stream, cancel, err := svc.Subscribe(ctx, "live")
	require.NoError(t, err)

	sent, err := svc.AddMessage(ctx, c.ID, "A", "ping", "")
	require.NoError(t, err)

	select {
	case got := <-stream:
		assert.Equal(t, sent.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the message")
	}

	cancel()
	_, open := <-stream
	assert.False(t, open)
}

func TestService_RecordsEvents(t *testing.T) {
	svc := openTestService(t, config.BackendFlatfile)
	ctx := context.Background()

	c, err := svc.CreateChannel(ctx, "audit", "", "")
	require.NoError(t, err)
	_, err = svc.AddFileToQueue(ctx, c.ID, "a.txt", 0, "")
	require.NoError(t, err)
	_, err = svc.GetNextFileFromQueue(ctx, c.ID, "worker")
	require.NoError(t, err)

	got, err := svc.Events().List(ctx, events.Filter{ChannelID: c.ID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, events.FileClaimed, got[0].Type)
	assert.Equal(t, events.ChannelCreated, got[2].Type)

	// A failed operation records nothing.
	_, err = svc.CreateChannel(ctx, "audit", "", "")
	require.ErrorIs(t, err, errs.ErrDuplicateName)

	all, err := svc.Events().List(ctx, events.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestService_Maintain(t *testing.T) {
	svc := openTestService(t, config.BackendFlatfile)
	ctx := context.Background()
	svc.cfg.Retention.ProcessingTimeout = time.Millisecond
	svc.cfg.Retention.AgentTimeout = time.Millisecond

	c, err := svc.CreateChannel(ctx, "maint", "", "")
	require.NoError(t, err)
	_, err = svc.AddFileToQueue(ctx, c.ID, "a.txt", 0, "")
	require.NoError(t, err)
	_, err = svc.GetNextFileFromQueue(ctx, c.ID, "worker")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	report, err := svc.Maintain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesReclaimed)
	assert.Equal(t, 1, report.AgentsOffline)

	again, err := svc.GetNextFileFromQueue(ctx, c.ID, "worker")
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend.Kind = "mysql"

	_, err := Open(context.Background(), &cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestOpen_SQLiteCustomPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend.Kind = config.BackendSQLite
	cfg.Backend.Path = filepath.Join(t.TempDir(), "nested", "warren.db")

	svc, err := Open(context.Background(), &cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	assert.Equal(t, config.BackendSQLite, svc.Backend())
}
