package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/messaging"
	"github.com/hay-kot/warren/internal/warren"
)

const (
	messagesPollInterval = 500 * time.Millisecond
	pollTimeout          = 5 * time.Second
)

// Source is the part of the service the watcher uses.
type Source interface {
	GetMessages(ctx context.Context, channelRef string, cursor int64) ([]messaging.Message, error)
	GetChannelStatus(ctx context.Context, channelRef string) (warren.ChannelStatus, error)
	ArchiveChannel(ctx context.Context, channelRef string) (channel.Channel, error)
}

// messagesLoadedMsg is sent when messages after a cursor are loaded.
type messagesLoadedMsg struct {
	messages []messaging.Message
	err      error
}

// statusLoadedMsg is sent when the channel summary is loaded.
type statusLoadedMsg struct {
	status warren.ChannelStatus
	err    error
}

// archivedMsg is sent when an archive request finishes.
type archivedMsg struct {
	channel channel.Channel
	err     error
}

// pollTickMsg is sent to trigger the next poll.
type pollTickMsg struct{}

// loadMessages returns a command that loads messages after cursor.
func loadMessages(src Source, ref string, cursor int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()

		messages, err := src.GetMessages(ctx, ref, cursor)
		return messagesLoadedMsg{messages: messages, err: err}
	}
}

// loadStatus returns a command that loads the channel summary.
func loadStatus(src Source, ref string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()

		st, err := src.GetChannelStatus(ctx, ref)
		return statusLoadedMsg{status: st, err: err}
	}
}

// archiveChannel returns a command that archives the watched channel.
func archiveChannel(src Source, ref string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()

		ch, err := src.ArchiveChannel(ctx, ref)
		return archivedMsg{channel: ch, err: err}
	}
}

// schedulePollTick returns a command that schedules the next poll tick.
func schedulePollTick() tea.Cmd {
	return tea.Tick(messagesPollInterval, func(time.Time) tea.Msg {
		return pollTickMsg{}
	})
}
