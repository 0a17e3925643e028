package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/warren/internal/core/messaging"
)

// MessagesView is a compact renderer for a channel's messages.
// It displays messages in a single-line format:
// #seq timestamp [author] message_preview...                     age
type MessagesView struct {
	messages   []messaging.Message
	cursor     int
	width      int
	height     int
	offset     int // scroll offset for viewport
	filtering  bool
	filter     string
	filteredAt []int // indices of messages matching filter
}

// NewMessagesView creates a new messages view.
func NewMessagesView() *MessagesView {
	return &MessagesView{
		filteredAt: make([]int, 0),
	}
}

// SetMessages sets the messages to display. When the cursor was on the
// newest message it follows to the new newest one.
func (v *MessagesView) SetMessages(msgs []messaging.Message) {
	following := v.AtEnd()
	v.messages = msgs
	v.applyFilter()
	if following {
		v.MoveToEnd()
	}
}

// SetSize sets the viewport dimensions.
func (v *MessagesView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.clampOffset()
}

// visibleLines returns the number of visible message lines.
func (v *MessagesView) visibleLines() int {
	// column header (1), help (1)
	reserved := 2
	if v.filtering || v.filter != "" {
		reserved++
	}
	return max(v.height-reserved, 1)
}

// clampOffset ensures the offset keeps the cursor visible.
func (v *MessagesView) clampOffset() {
	visible := v.visibleLines()
	total := len(v.filteredAt)

	if v.cursor < v.offset {
		v.offset = v.cursor
	} else if v.cursor >= v.offset+visible {
		v.offset = v.cursor - visible + 1
	}

	v.offset = max(min(v.offset, total-visible), 0)
}

// MoveUp moves cursor up.
func (v *MessagesView) MoveUp() {
	if v.cursor > 0 {
		v.cursor--
		v.clampOffset()
	}
}

// MoveDown moves cursor down.
func (v *MessagesView) MoveDown() {
	if v.cursor < len(v.filteredAt)-1 {
		v.cursor++
		v.clampOffset()
	}
}

// MoveToEnd selects the newest visible message.
func (v *MessagesView) MoveToEnd() {
	v.cursor = max(len(v.filteredAt)-1, 0)
	v.clampOffset()
}

// AtEnd reports whether the newest visible message is selected or there
// is nothing to select.
func (v *MessagesView) AtEnd() bool {
	return len(v.filteredAt) == 0 || v.cursor == len(v.filteredAt)-1
}

// SelectedMessage returns the currently selected message, or nil if none.
func (v *MessagesView) SelectedMessage() *messaging.Message {
	if len(v.filteredAt) == 0 || v.cursor >= len(v.filteredAt) {
		return nil
	}
	idx := v.filteredAt[v.cursor]
	if idx >= len(v.messages) {
		return nil
	}
	return &v.messages[idx]
}

// StartFilter begins filter input mode.
func (v *MessagesView) StartFilter() {
	v.filtering = true
	v.filter = ""
}

// CancelFilter cancels filtering and clears the filter.
func (v *MessagesView) CancelFilter() {
	v.filtering = false
	v.filter = ""
	v.applyFilter()
}

// IsFiltering returns true if filter input is active.
func (v *MessagesView) IsFiltering() bool {
	return v.filtering
}

// AddFilterRune adds a rune to the filter.
func (v *MessagesView) AddFilterRune(r rune) {
	v.filter += string(r)
	v.applyFilter()
}

// DeleteFilterRune removes the last rune from the filter.
func (v *MessagesView) DeleteFilterRune() {
	r := []rune(v.filter)
	if len(r) == 0 {
		return
	}
	v.filter = string(r[:len(r)-1])
	v.applyFilter()
}

// ConfirmFilter confirms the filter and exits filter mode.
func (v *MessagesView) ConfirmFilter() {
	v.filtering = false
	v.applyFilter()
}

// applyFilter updates filteredAt based on current filter.
func (v *MessagesView) applyFilter() {
	v.filteredAt = v.filteredAt[:0]
	filter := strings.ToLower(v.filter)

	for i := range v.messages {
		if filter == "" || matchesFilter(&v.messages[i], filter) {
			v.filteredAt = append(v.filteredAt, i)
		}
	}

	if v.cursor >= len(v.filteredAt) {
		v.cursor = max(len(v.filteredAt)-1, 0)
	}
	v.clampOffset()
}

func matchesFilter(msg *messaging.Message, filter string) bool {
	return strings.Contains(strings.ToLower(msg.AuthorID), filter) ||
		strings.Contains(strings.ToLower(string(msg.Kind)), filter) ||
		strings.Contains(strings.ToLower(msg.Body), filter)
}

// View renders the messages view.
func (v *MessagesView) View() string {
	var b strings.Builder

	// Order: Seq | Time | Author | Message | Age
	seqWidth := 6     // "#12345"
	timeWidth := 8    // "14:32:01"
	authorWidth := 16 // "[agent-name   ]"
	ageWidth := 4     // "2m", "1h", "3d"
	padding := 5      // spaces between columns
	contentWidth := max(v.width-seqWidth-timeWidth-authorWidth-ageWidth-padding-2, 20)

	if v.filtering {
		filterPrompt := lipgloss.NewStyle().Foreground(colorBlue).Bold(true).Render("Filter: ")
		b.WriteString(" ")
		b.WriteString(filterPrompt)
		b.WriteString(v.filter)
		b.WriteString("▎")
		b.WriteString("\n")
	} else if v.filter != "" {
		filterShow := lipgloss.NewStyle().Foreground(colorGray).Render(fmt.Sprintf("Filter: %s", v.filter))
		b.WriteString(" ")
		b.WriteString(filterShow)
		b.WriteString("\n")
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray)
	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %*s",
		seqWidth, "Seq", timeWidth, "Time", authorWidth, "Author", contentWidth, "Message", ageWidth, "Age")
	b.WriteString("  ")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	linesRendered := 0

	if len(v.filteredAt) == 0 {
		text := "  No messages"
		if len(v.messages) > 0 {
			text = "  No matching messages"
		}
		b.WriteString(lipgloss.NewStyle().Foreground(colorGray).Render(text))
		b.WriteString("\n")
		linesRendered = 1
	} else {
		end := min(v.offset+v.visibleLines(), len(v.filteredAt))
		for i := v.offset; i < end; i++ {
			msg := &v.messages[v.filteredAt[i]]
			b.WriteString(renderMessageLine(msg, i == v.cursor, seqWidth, authorWidth, contentWidth, ageWidth))
			b.WriteString("\n")
			linesRendered++
		}
	}

	for i := linesRendered; i < v.visibleLines(); i++ {
		b.WriteString("\n")
	}

	help := lipgloss.NewStyle().Foreground(colorGray).PaddingLeft(1).
		Render("↑/↓ navigate • G newest • enter preview • / filter • q quit")
	b.WriteString(help)

	return b.String()
}

// renderMessageLine renders a single message line in compact format.
func renderMessageLine(msg *messaging.Message, selected bool, seqW, authorW, contentW, ageW int) string {
	var b strings.Builder

	if selected {
		b.WriteString(selectedBorderStyle.Render("┃"))
		b.WriteString(" ")
	} else {
		b.WriteString("  ")
	}

	grayStyle := lipgloss.NewStyle().Foreground(colorGray)
	b.WriteString(grayStyle.Render(fmt.Sprintf("%-*s", seqW, fmt.Sprintf("#%d", msg.Sequence))))
	b.WriteString(" ")
	b.WriteString(grayStyle.Render(msg.CreatedAt.Format("15:04:05")))
	b.WriteString(" ")

	author := truncate(msg.AuthorID, authorW-2)
	authorStyle := lipgloss.NewStyle().Foreground(ColorForString(msg.AuthorID))
	b.WriteString(authorStyle.Render(fmt.Sprintf("[%-*s]", authorW-2, author)))
	b.WriteString(" ")

	body := strings.Join(strings.Fields(msg.Body), " ")
	if msg.Kind != messaging.KindText {
		body = fmt.Sprintf("(%s) %s", msg.Kind, body)
	}
	bodyStyle := lipgloss.NewStyle().Foreground(colorWhite)
	if msg.Kind == messaging.KindSystem {
		bodyStyle = bodyStyle.Foreground(colorYellow).Italic(true)
	}
	if selected {
		bodyStyle = bodyStyle.Bold(true)
	}
	b.WriteString(bodyStyle.Render(fmt.Sprintf("%-*s", contentW, truncate(body, contentW))))
	b.WriteString(" ")

	b.WriteString(grayStyle.Render(fmt.Sprintf("%*s", ageW, formatAge(msg.CreatedAt))))

	return b.String()
}

// truncate cuts s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// formatAge returns a human-readable relative time string.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
