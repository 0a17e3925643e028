// Package tui implements the Bubble Tea channel watcher for warren.
package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/zeebo/blake3"
)

// Tokyo Night color palette.
var (
	colorGreen  = lipgloss.Color("#9ece6a") // green
	colorYellow = lipgloss.Color("#e0af68") // yellow
	colorRed    = lipgloss.Color("#f7768e") // red
	colorBlue   = lipgloss.Color("#7aa2f7") // blue
	colorGray   = lipgloss.Color("#565f89") // comment
	colorWhite  = lipgloss.Color("#c0caf5") // foreground
)

// identityPalette colors agent names so each author keeps one color.
var identityPalette = []lipgloss.Color{
	"#7aa2f7", "#9ece6a", "#e0af68", "#bb9af7",
	"#7dcfff", "#ff9e64", "#73daca", "#f7768e",
}

// ColorForString picks a stable palette color for s.
func ColorForString(s string) lipgloss.Color {
	sum := blake3.Sum256([]byte(s))
	return identityPalette[int(sum[0])%len(identityPalette)]
}

var (
	// Title style for the channel header.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			PaddingLeft(1)

	headerInfoStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	activeStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	archivedStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			PaddingLeft(1)

	// Selected border style for left accent bar.
	selectedBorderStyle = lipgloss.NewStyle().
				Foreground(colorBlue)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorBlue)
)

// Modal styles.
var (
	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBlue).
			Padding(1, 2)

	modalTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	modalHelpStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			MarginTop(1)

	modalButtonStyle = lipgloss.NewStyle().
				Foreground(colorGray).
				Padding(0, 2)

	modalButtonSelectedStyle = lipgloss.NewStyle().
					Foreground(colorWhite).
					Background(colorBlue).
					Bold(true).
					Padding(0, 2)
)

// Icons and symbols.
const iconDot = "•"
