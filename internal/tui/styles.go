package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#58a6ff"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d2a8ff"))

	goodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3fb950"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d29922"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f85149")).
			Bold(true)

	dividerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#30363d"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#484f58"))
)
