package main

import "github.com/charmbracelet/lipgloss"

// styles contains all lipgloss styles used for human output.
// lipgloss drops colors on its own when stdout is not a terminal.
var styles = struct {
	Label  lipgloss.Style
	Muted  lipgloss.Style
	Unread lipgloss.Style
	Error  lipgloss.Style
	Warn   lipgloss.Style

	// Phase colors
	PhaseConnected    lipgloss.Style
	PhaseConnecting   lipgloss.Style
	PhaseDisconnected lipgloss.Style
}{
	Label: lipgloss.NewStyle().
		Bold(true),

	Muted: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Unread: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")),

	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),

	Warn: lipgloss.NewStyle().
		Foreground(lipgloss.Color("220")),

	PhaseConnected: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("114")),

	PhaseConnecting: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220")),

	PhaseDisconnected: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("245")),
}

func phaseStyle(phase string) lipgloss.Style {
	switch phase {
	case "connected":
		return styles.PhaseConnected
	case "connecting", "backoff":
		return styles.PhaseConnecting
	default:
		return styles.PhaseDisconnected
	}
}
