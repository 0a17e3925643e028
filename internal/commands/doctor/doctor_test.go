package doctor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/warren/internal/core/config"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/queue"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/store/flatfile"
)

func newTestGuard(t *testing.T) *guard.Guard {
	t.Helper()
	return guard.New(flatfile.New(t.TempDir()), nil, guard.Config{}, zerolog.Nop())
}

func seed(t *testing.T, g *guard.Guard, table storage.Table, rows ...string) {
	t.Helper()
	records := make([][]byte, len(rows))
	for i, r := range rows {
		records[i] = []byte(r)
	}
	require.NoError(t, g.Append(context.Background(), table, records...))
}

func TestOrphanCheck_NoOrphans(t *testing.T) {
	g := newTestGuard(t)
	seed(t, g, storage.TableChannels, `{"id":"c1","name":"ops"}`)
	seed(t, g, storage.TableMessages, `{"id":"m1","channel_id":"c1"}`)

	result := NewOrphanCheck(g, false).Run(context.Background())

	assert.Equal(t, "Orphaned Records", result.Name)
	require.Len(t, result.Items, 1)
	assert.Equal(t, StatusPass, result.Items[0].Status)
}

func TestOrphanCheck_ReportsOrphans(t *testing.T) {
	g := newTestGuard(t)
	seed(t, g, storage.TableChannels, `{"id":"c1","name":"ops"}`)
	seed(t, g, storage.TableMessages,
		`{"id":"m1","channel_id":"c1"}`,
		`{"id":"m2","channel_id":"gone"}`,
	)
	seed(t, g, storage.TableChannelMemory, `{"channel_id":"gone","key":"k"}`)

	result := NewOrphanCheck(g, false).Run(context.Background())

	require.Len(t, result.Items, 2)
	for _, item := range result.Items {
		assert.Equal(t, StatusWarn, item.Status)
		assert.True(t, item.Fixable)
	}
	assert.Equal(t, 2, CountFixable([]Result{result}))

	records, err := g.Load(context.Background(), storage.TableMessages)
	require.NoError(t, err)
	assert.Len(t, records, 2, "report mode must not modify the table")
}

func TestOrphanCheck_Fix(t *testing.T) {
	g := newTestGuard(t)
	seed(t, g, storage.TableChannels, `{"id":"c1","name":"ops"}`)
	seed(t, g, storage.TableQueuedFiles,
		`{"file_id":"f1","channel_id":"gone"}`,
		`{"file_id":"f2","channel_id":"c1"}`,
	)

	result := NewOrphanCheck(g, true).Run(context.Background())

	require.Len(t, result.Items, 1)
	assert.Equal(t, StatusPass, result.Items[0].Status)
	assert.Contains(t, result.Items[0].Detail, "removed 1")

	records, err := g.Load(context.Background(), storage.TableQueuedFiles)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, string(records[0]), `"f2"`)
}

func TestClaimsCheck(t *testing.T) {
	g := newTestGuard(t)
	stale := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)
	fresh := time.Now().UTC().Format(time.RFC3339Nano)
	seed(t, g, storage.TableQueuedFiles,
		`{"file_id":"f1","channel_id":"c1","path":"/a.csv","status":"PROCESSING","assigned_to":"w1","claimed_at":"`+stale+`"}`,
		`{"file_id":"f2","channel_id":"c1","path":"/b.csv","status":"PROCESSING","assigned_to":"w2","claimed_at":"`+fresh+`"}`,
	)
	q := queue.New(g, nil, 0)

	result := NewClaimsCheck(q, time.Minute, false).Run(context.Background())
	require.Len(t, result.Items, 1)
	assert.Equal(t, "/a.csv", result.Items[0].Label)
	assert.Equal(t, StatusWarn, result.Items[0].Status)

	result = NewClaimsCheck(q, time.Minute, true).Run(context.Background())
	require.Len(t, result.Items, 1)
	assert.Equal(t, StatusPass, result.Items[0].Status)

	f, err := q.Get(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusQueued, f.Status)
}

func TestStorageCheck(t *testing.T) {
	backend := flatfile.New(t.TempDir())
	require.NoError(t, backend.Append(context.Background(), storage.TableChannels, []byte(`{"id":"c1"}`)))

	result := NewStorageCheck(backend).Run(context.Background())

	assert.Equal(t, "Storage (flatfile)", result.Name)
	require.Len(t, result.Items, len(storage.Tables))
	for _, item := range result.Items {
		assert.Equal(t, StatusPass, item.Status, item.Label)
	}
	assert.Equal(t, "1 records", result.Items[0].Detail)
}

func TestReport_JSON(t *testing.T) {
	results := RunAll(context.Background(), []Check{NewConfigCheck(nil, "")})

	report := NewReport(results)
	assert.False(t, report.Healthy)
	assert.Equal(t, 1, report.Failed)

	data, err := json.Marshal(report.Checks[0].Items[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"Config loaded","status":"fail","detail":"configuration not loaded"}`, string(data))
}

func TestRunAll_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := RunAll(ctx, []Check{NewConfigCheck(nil, "")})
	require.Len(t, results, 1)
	assert.Equal(t, "skipped", results[0].Items[0].Label)
}

func TestConfigCheck_Defaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	result := NewConfigCheck(&cfg, filepath.Join(cfg.DataDir, "missing.yaml")).Run(context.Background())

	passed, warned, failed := Summary([]Result{result})
	assert.Zero(t, warned)
	assert.Zero(t, failed)
	assert.Equal(t, 3, passed)
}

func TestConfigCheck_DataDirIsFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(cfg.DataDir, []byte("x"), 0o644))

	result := NewConfigCheck(&cfg, "").Run(context.Background())

	_, _, failed := Summary([]Result{result})
	assert.Equal(t, 1, failed)
	assert.Equal(t, "data_dir", result.Items[0].Label)
}
