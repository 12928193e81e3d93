package tui

import "github.com/charmbracelet/lipgloss"

// Palette. Each color has a light and dark terminal variant.
var (
	ColorUser      = lipgloss.AdaptiveColor{Light: "#1f7a4d", Dark: "#87d7af"}
	ColorAI        = lipgloss.AdaptiveColor{Light: "#2255aa", Dark: "#87afff"}
	ColorSystem    = lipgloss.AdaptiveColor{Light: "#6c6c6c", Dark: "#8a8a8a"}
	ColorError     = lipgloss.AdaptiveColor{Light: "#c0392b", Dark: "#ff6b6b"}
	ColorAccent    = lipgloss.AdaptiveColor{Light: "#7d3cc8", Dark: "#c3a6ff"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#d0d0d0", Dark: "#3a3a3a"}
	ColorRecording = lipgloss.AdaptiveColor{Light: "#d00000", Dark: "#ff3030"}
)

var (
	styleHeader = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(ColorMuted)

	styleFooter = lipgloss.NewStyle().Foreground(ColorSystem).Faint(true)

	// The input border dims while a reply is streaming.
	styleInput = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAI).
			Padding(0, 1)
	styleInputBusy = styleInput.BorderForeground(ColorMuted)

	styleUserLabel = lipgloss.NewStyle().Foreground(ColorUser).Bold(true)
	styleAILabel   = lipgloss.NewStyle().Foreground(ColorAI).Bold(true)

	styleSystem   = lipgloss.NewStyle().Foreground(ColorSystem)
	styleThinking = lipgloss.NewStyle().Foreground(ColorSystem).Italic(true).Faint(true)
	styleError    = lipgloss.NewStyle().Foreground(ColorError).Bold(true)

	styleSpinner   = lipgloss.NewStyle().Foreground(ColorAccent)
	styleRecording = lipgloss.NewStyle().Foreground(ColorRecording).Bold(true).Blink(true)
)
