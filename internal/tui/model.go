package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/messaging"
	"github.com/hay-kot/warren/internal/warren"
)

// maxMessages bounds how many messages the watcher keeps in memory.
const maxMessages = 2000

// headerHeight is the rows used by the title and summary lines plus spacing.
const headerHeight = 3

// Model is the channel watcher. It polls the channel for messages after
// the last sequence it has seen and renders them newest at the bottom.
type Model struct {
	src Source
	ref string

	status   warren.ChannelStatus
	loaded   bool
	messages []messaging.Message
	cursor   int64
	inFlight bool
	err      error

	view    *MessagesView
	preview *MessagePreviewModal
	confirm *Modal
	spinner spinner.Model

	width  int
	height int
}

// New creates a watcher for the channel named or identified by ref.
func New(src Source, ref string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return Model{
		src:      src,
		ref:      ref,
		inFlight: true, // Init loads from the start
		view:     NewMessagesView(),
		spinner:  s,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		loadStatus(m.src, m.ref),
		loadMessages(m.src, m.ref, 0),
		schedulePollTick(),
		m.spinner.Tick,
	)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.view.SetSize(msg.Width, max(msg.Height-headerHeight, 1))
		if m.preview != nil {
			p := NewMessagePreviewModal(m.preview.message, m.width, m.height)
			m.preview = &p
		}
		return m, nil

	case statusLoadedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
		}
		return m, nil

	case messagesLoadedMsg:
		m.inFlight = false
		m.loaded = true
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.appendMessages(msg.messages)
		return m, nil

	case archivedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.status.Channel = msg.channel
		return m, nil

	case pollTickMsg:
		cmds := []tea.Cmd{loadStatus(m.src, m.ref), schedulePollTick()}
		if !m.inFlight {
			m.inFlight = true
			cmds = append(cmds, loadMessages(m.src, m.ref, m.cursor))
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		if m.loaded {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

// appendMessages adds messages newer than the cursor.
func (m *Model) appendMessages(msgs []messaging.Message) {
	added := false
	for _, msg := range msgs {
		if msg.Sequence <= m.cursor {
			continue
		}
		m.messages = append(m.messages, msg)
		m.cursor = msg.Sequence
		added = true
	}
	if !added {
		return
	}
	if over := len(m.messages) - maxMessages; over > 0 {
		m.messages = append([]messaging.Message(nil), m.messages[over:]...)
	}
	m.view.SetMessages(m.messages)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.confirm != nil {
		switch msg.String() {
		case "left", "right", "h", "l", "tab":
			m.confirm.ToggleSelection()
		case "esc", "q":
			m.confirm = nil
		case "enter":
			ok := m.confirm.ConfirmSelected()
			m.confirm = nil
			if ok {
				return m, archiveChannel(m.src, m.ref)
			}
		}
		return m, nil
	}

	if m.preview != nil {
		switch msg.String() {
		case "enter", "esc", "q":
			m.preview = nil
		case "up", "k":
			m.preview.ScrollUp()
		case "down", "j":
			m.preview.ScrollDown()
		}
		return m, nil
	}

	if m.view.IsFiltering() {
		switch msg.Type {
		case tea.KeyEsc:
			m.view.CancelFilter()
		case tea.KeyEnter:
			m.view.ConfirmFilter()
		case tea.KeyBackspace:
			m.view.DeleteFilterRune()
		case tea.KeyRunes, tea.KeySpace:
			for _, r := range msg.Runes {
				m.view.AddFilterRune(r)
			}
		}
		return m, nil
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		m.view.MoveUp()
	case "down", "j":
		m.view.MoveDown()
	case "G", "end":
		m.view.MoveToEnd()
	case "/":
		m.view.StartFilter()
	case "esc":
		m.view.CancelFilter()
	case "A":
		if m.status.Channel.Status == channel.StatusActive {
			modal := NewModal("Archive channel", "Archive #"+m.status.Channel.Name+"? It will stop accepting messages.")
			m.confirm = &modal
		}
	case "enter":
		if sel := m.view.SelectedMessage(); sel != nil {
			p := NewMessagePreviewModal(*sel, m.width, m.height)
			m.preview = &p
		}
	}
	return m, nil
}

// View renders the model.
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}
	if m.preview != nil {
		return m.preview.View(m.width, m.height)
	}
	if m.confirm != nil {
		return m.confirm.View(m.width, m.height)
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")

	switch {
	case !m.loaded:
		b.WriteString(" " + m.spinner.View() + " Loading " + m.ref)
	default:
		b.WriteString(m.view.View())
	}
	return b.String()
}

func (m Model) headerView() string {
	name := m.ref
	if m.status.Channel.Name != "" {
		name = m.status.Channel.Name
	}
	title := titleStyle.Render("#" + name)

	var state string
	switch m.status.Channel.Status {
	case channel.StatusActive:
		state = activeStyle.Render(string(channel.StatusActive))
	case channel.StatusArchived:
		state = archivedStyle.Render(string(channel.StatusArchived))
	}

	st := m.status
	info := headerInfoStyle.Render(fmt.Sprintf("%d members %s %d messages %s queue %d/%d %s memory %d %s updated %s",
		st.MemberCount, iconDot,
		st.MessageCount, iconDot,
		st.Queue.Queued, st.Queue.Processing, iconDot,
		st.MemoryCount, iconDot,
		humanize.Time(st.UpdatedAt)))
	if st.UpdatedAt.IsZero() {
		info = ""
	}

	line := lipgloss.JoinHorizontal(lipgloss.Top, title, " ", state)
	out := line + "\n " + info
	if m.err != nil {
		out += "\n" + errorStyle.Render(m.err.Error())
	} else {
		out += "\n"
	}
	return out
}
