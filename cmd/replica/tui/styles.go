// Package tui provides the live watch view for the replica daemon.
// It uses Charmbracelet's Bubble Tea, Lip Gloss, and Bubbles.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/replica/pkg/replica/journal"
)

// Color palette for the TUI.
var (
	// Primary colors
	primaryColor = lipgloss.Color("#7D56F4")
	accentColor  = lipgloss.Color("#00D9FF")

	// Status colors
	successColor = lipgloss.Color("#28A745")
	warningColor = lipgloss.Color("#FFC107")
	dangerColor  = lipgloss.Color("#DC3545")

	// Neutral colors
	mutedColor  = lipgloss.Color("#666666")
	borderColor = lipgloss.Color("#333333")
)

var (
	// dividerStyle creates horizontal dividers.
	dividerStyle = lipgloss.NewStyle().
			Foreground(borderColor)

	// titleStyle for main titles.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// mutedTextStyle for less important text.
	mutedTextStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// errorTextStyle for error messages.
	errorTextStyle = lipgloss.NewStyle().
			Foreground(dangerColor)

	// successTextStyle for success messages.
	successTextStyle = lipgloss.NewStyle().
				Foreground(successColor)

	// warningTextStyle for warning messages.
	warningTextStyle = lipgloss.NewStyle().
				Foreground(warningColor)

	// pathStyle for the synchronized roots.
	pathStyle = lipgloss.NewStyle().
			Foreground(accentColor)
)

// Feed styles.
var (
	feedTimeStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	createStyle = lipgloss.NewStyle().
			Foreground(successColor)

	modifyStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	removeStyle = lipgloss.NewStyle().
			Foreground(dangerColor)

	passStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)
)

// Key hint styles.
var (
	// keyStyle for keyboard key hints.
	keyStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	// keyDescStyle for key descriptions.
	keyDescStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// kindStyle returns the style for an action kind.
func kindStyle(k journal.Kind) lipgloss.Style {
	switch k {
	case journal.CreateDir, journal.AddFile:
		return createStyle
	case journal.ModifyFile:
		return modifyStyle
	case journal.RemoveDir, journal.RemoveFile:
		return removeStyle
	default:
		return mutedTextStyle
	}
}

// kindChar returns a one character marker for an action kind.
func kindChar(k journal.Kind) string {
	switch k {
	case journal.CreateDir, journal.AddFile:
		return "+"
	case journal.ModifyFile:
		return "~"
	case journal.RemoveDir, journal.RemoveFile:
		return "-"
	default:
		return "?"
	}
}

// renderDivider creates a horizontal divider line.
func renderDivider(width int) string {
	return dividerStyle.Render(repeatChar('─', width))
}

// repeatChar repeats a character n times.
func repeatChar(char rune, n int) string {
	if n <= 0 {
		return ""
	}
	result := make([]rune, n)
	for i := range result {
		result[i] = char
	}
	return string(result)
}

// truncatePath truncates a path to fit within maxLen, preserving the end.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return path[:maxLen]
	}
	return "..." + path[len(path)-(maxLen-3):]
}

// renderKeyHints renders key/description pairs on one line.
func renderKeyHints(pairs ...string) string {
	var out string
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			out += "  "
		}
		out += keyStyle.Render("["+pairs[i]+"]") + " " + keyDescStyle.Render(pairs[i+1])
	}
	return out
}
