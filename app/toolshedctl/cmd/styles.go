package cmd

import "github.com/charmbracelet/lipgloss"

var (
	successColor = lipgloss.Color("#73F59F") // Green
	errorColor   = lipgloss.Color("#FF6B6B") // Red
	warningColor = lipgloss.Color("#FFE066") // Yellow
	mutedColor   = lipgloss.Color("#626262") // Gray
	accentColor  = lipgloss.Color("#5A9CF7") // Blue

	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	accentStyle  = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
)
