package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/warren/internal/core/messaging"
)

// Message preview modal layout constants.
const (
	previewModalMaxWidth  = 100 // maximum modal width in columns
	previewModalMaxHeight = 30  // maximum modal height in rows
	previewModalMargin    = 4   // margin from screen edges
	previewModalChrome    = 8   // rows for title, metadata, help, and spacing
	previewModalPadding   = 4   // padding inside content area
	glamourGutter         = 2   // glamour adds gutter space
)

// MessagePreviewModal displays a message with markdown rendering.
type MessagePreviewModal struct {
	message  messaging.Message
	viewport viewport.Model
}

// NewMessagePreviewModal creates a new preview modal for the given message.
func NewMessagePreviewModal(msg messaging.Message, width, height int) MessagePreviewModal {
	modalWidth := min(width-previewModalMargin, previewModalMaxWidth)
	modalHeight := min(height-previewModalMargin, previewModalMaxHeight)
	contentHeight := max(modalHeight-previewModalChrome, 1)

	vp := viewport.New(modalWidth-previewModalPadding, contentHeight)
	vp.Style = lipgloss.NewStyle()

	m := MessagePreviewModal{
		message:  msg,
		viewport: vp,
	}
	m.renderContent(modalWidth - previewModalPadding - glamourGutter)

	return m
}

// previewMarkdown returns the markdown shown for msg. Structured bodies
// are pretty printed inside a JSON code block.
func previewMarkdown(msg messaging.Message) string {
	if msg.Kind != messaging.KindStructured {
		return msg.Body
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(msg.Body), "", "  "); err != nil {
		return msg.Body
	}
	return "```json\n" + buf.String() + "\n```"
}

// renderContent renders the message body as markdown.
func (m *MessagePreviewModal) renderContent(width int) {
	source := previewMarkdown(m.message)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("tokyo-night"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		m.viewport.SetContent(source)
		return
	}

	rendered, err := renderer.Render(source)
	if err != nil {
		m.viewport.SetContent(source)
		return
	}

	content := strings.TrimSpace(rendered)
	content = stripLeadingDecorative(content)
	content = stripTrailingDecorative(content)
	m.viewport.SetContent(content)
}

// ScrollUp scrolls the viewport up.
func (m *MessagePreviewModal) ScrollUp() {
	m.viewport.ScrollUp(1)
}

// ScrollDown scrolls the viewport down.
func (m *MessagePreviewModal) ScrollDown() {
	m.viewport.ScrollDown(1)
}

// View renders the preview modal centered in a width x height area.
func (m MessagePreviewModal) View(width, height int) string {
	modalWidth := min(width-previewModalMargin, previewModalMaxWidth)
	modalHeight := min(height-previewModalMargin, previewModalMaxHeight)

	author := lipgloss.NewStyle().Foreground(ColorForString(m.message.AuthorID)).Render(m.message.AuthorID)
	metadata := fmt.Sprintf("%s %s %s %s %s",
		previewSeqStyle.Render(fmt.Sprintf("#%d", m.message.Sequence)),
		author,
		iconDot,
		previewTimeStyle.Render(m.message.CreatedAt.Format("2006-01-02 15:04:05")),
		previewTimeStyle.Render("("+string(m.message.Kind)+")"),
	)

	scrollInfo := ""
	if m.viewport.TotalLineCount() > m.viewport.VisibleLineCount() {
		scrollInfo = previewTimeStyle.Render(fmt.Sprintf(" (%.0f%%)", m.viewport.ScrollPercent()*100))
	}

	modalContent := lipgloss.JoinVertical(
		lipgloss.Left,
		modalTitleStyle.Render("Message"+scrollInfo),
		"",
		metadata,
		previewDividerStyle.Render(strings.Repeat("─", max(modalWidth-previewModalPadding, 0))),
		m.viewport.View(),
		modalHelpStyle.Render("[↑/↓/j/k] scroll  [enter/esc] close"),
	)

	modal := modalStyle.
		Width(modalWidth).
		Height(modalHeight).
		Render(modalContent)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modal)
}

// Preview modal specific styles.
var (
	previewSeqStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	previewTimeStyle = lipgloss.NewStyle().
				Foreground(colorGray)

	previewDividerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#3b4261"))
)

// ansiPattern matches ANSI escape sequences.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// isDecorativeLine checks if a line contains only decorative characters
// (horizontal rules, spaces) after stripping ANSI codes.
func isDecorativeLine(line string) bool {
	stripped := strings.TrimSpace(ansiPattern.ReplaceAllString(line, ""))
	for _, r := range stripped {
		if r != '─' && r != '━' && r != '-' && r != '=' {
			return false
		}
	}
	return true
}

// stripLeadingDecorative removes leading decorative lines from content.
func stripLeadingDecorative(content string) string {
	lines := strings.Split(content, "\n")
	start := 0
	for start < len(lines) && isDecorativeLine(lines[start]) {
		start++
	}
	return strings.Join(lines[start:], "\n")
}

// stripTrailingDecorative removes trailing decorative lines from content.
func stripTrailingDecorative(content string) string {
	lines := strings.Split(content, "\n")
	end := len(lines)
	for end > 0 && isDecorativeLine(lines[end-1]) {
		end--
	}
	return strings.Join(lines[:end], "\n")
}
