package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/config"
	"github.com/hay-kot/warren/internal/core/messaging"
	"github.com/hay-kot/warren/internal/core/queue"
	"github.com/hay-kot/warren/internal/printer"
	"github.com/hay-kot/warren/internal/warren"
)

func newTestFlags(t *testing.T) *Flags {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	svc, err := warren.Open(context.Background(), &cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return &Flags{
		ConfigPath: filepath.Join(cfg.DataDir, "config.yaml"),
		DataDir:    cfg.DataDir,
		Config:     &cfg,
		Service:    svc,
	}
}

// run executes one warren invocation and returns stdout.
func run(t *testing.T, flags *Flags, args ...string) string {
	t.Helper()

	var stdout, stderr bytes.Buffer
	app := &cli.Command{Name: "warren", Writer: &stdout, ErrWriter: &stderr}
	app = NewChannelCmd(flags).Register(app)
	app = NewMsgCmd(flags).Register(app)
	app = NewQueueCmd(flags).Register(app)
	app = NewMemCmd(flags).Register(app)
	app = NewAgentCmd(flags).Register(app)
	app = NewStatusCmd(flags).Register(app)

	ctx := printer.NewContext(context.Background(), printer.New(&stderr))
	err := app.Run(ctx, append([]string{"warren"}, args...))
	require.NoError(t, err, "warren %s\nstderr: %s", strings.Join(args, " "), stderr.String())
	return stdout.String()
}

func TestChannelAndMessages(t *testing.T) {
	flags := newTestFlags(t)

	out := run(t, flags, "channel", "create", "--json", "--kind", "meeting", "ops")
	var ch channel.Channel
	require.NoError(t, json.Unmarshal([]byte(out), &ch))
	assert.Equal(t, "ops", ch.Name)
	assert.Equal(t, channel.KindMeeting, ch.Kind)

	run(t, flags, "channel", "join", "ops", "alice")

	out = run(t, flags, "msg", "send", "--agent", "alice", "ops", "hello", "team")
	var sent messaging.Message
	require.NoError(t, json.Unmarshal([]byte(out), &sent))
	assert.Equal(t, int64(1), sent.Sequence)
	assert.Equal(t, "hello team", sent.Body)

	run(t, flags, "msg", "send", "--agent", "alice", "ops", "second")

	out = run(t, flags, "msg", "read", "--since", "1", "OPS")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var read messaging.Message
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &read))
	assert.Equal(t, int64(2), read.Sequence)
	assert.Equal(t, "second", read.Body)

	out = run(t, flags, "channel", "show", "--json", "ops")
	var st warren.ChannelStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.MemberCount)
	assert.Equal(t, 2, st.MessageCount)
}

func TestChannelJoinSession(t *testing.T) {
	t.Setenv("WARREN_SESSION_ID", "")
	flags := newTestFlags(t)
	run(t, flags, "channel", "create", "ops")

	run(t, flags, "channel", "join", "--session", "tmux-7", "ops", "alice")
	run(t, flags, "channel", "join", "ops", "bob")

	out := run(t, flags, "channel", "show", "--json", "ops")
	var st warren.ChannelStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))

	alice, ok := st.Channel.Member("alice")
	require.True(t, ok)
	assert.Equal(t, "tmux-7", alice.SessionID)

	bob, ok := st.Channel.Member("bob")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(bob.SessionID, "session_"))
}

func TestQueueCommands(t *testing.T) {
	flags := newTestFlags(t)
	run(t, flags, "channel", "create", "ops")

	dir := t.TempDir()
	low := filepath.Join(dir, "low.csv")
	high := filepath.Join(dir, "high.csv")
	require.NoError(t, os.WriteFile(low, []byte("a,b\n"), 0o644))
	require.NoError(t, os.WriteFile(high, []byte("c,d\n"), 0o644))

	run(t, flags, "queue", "add", "--priority", "1", "ops", low)
	run(t, flags, "queue", "add", "--priority", "9", "ops", high)

	out := run(t, flags, "queue", "claim", "--agent", "w1", "ops")
	var claimed queue.File
	require.NoError(t, json.Unmarshal([]byte(out), &claimed))
	assert.Equal(t, high, claimed.Path)
	assert.Equal(t, queue.StatusProcessing, claimed.Status)
	assert.Equal(t, "w1", claimed.AssignedTo)

	run(t, flags, "queue", "done", "--agent", "w1", claimed.ID)

	out = run(t, flags, "queue", "ls", "--json", "--status", "DONE", "ops")
	var done []queue.File
	require.NoError(t, json.Unmarshal([]byte(out), &done))
	require.Len(t, done, 1)
	assert.Equal(t, claimed.ID, done[0].ID)

	run(t, flags, "queue", "claim", "--agent", "w2", "ops")
	out = run(t, flags, "queue", "claim", "--agent", "w3", "ops")
	assert.Empty(t, out, "an empty queue prints nothing")
}

func TestMemoryCommands(t *testing.T) {
	flags := newTestFlags(t)
	run(t, flags, "channel", "create", "ops")

	run(t, flags, "mem", "set", "--kind", "decision", "ops", "schema", "v2")
	assert.Equal(t, "v2\n", run(t, flags, "mem", "get", "ops", "schema"))

	run(t, flags, "mem", "set", "ops", "schema", "v3")
	assert.Equal(t, "v3\n", run(t, flags, "mem", "get", "ops", "schema"))

	run(t, flags, "mem", "rm", "ops", "schema")
	out := run(t, flags, "mem", "ls", "--json", "ops")
	assert.JSONEq(t, "{}", out)
}

func TestStatusJSON(t *testing.T) {
	flags := newTestFlags(t)
	run(t, flags, "channel", "create", "ops")
	run(t, flags, "agent", "register", "--cap", "csv", "alice")
	run(t, flags, "channel", "join", "ops", "alice")
	run(t, flags, "msg", "send", "--agent", "alice", "ops", "hi")

	out := run(t, flags, "status", "--json")
	var st warren.SystemStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.ChannelCount)
	assert.Equal(t, 1, st.AgentCount)
	assert.Equal(t, 1, st.MessageCount)
	assert.Equal(t, "flatfile", st.Backend)
}
