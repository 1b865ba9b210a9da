// Package ui renders the grid engine's snapshots as a full-screen terminal
// application. It is a pure consumer of engine snapshots: every state change
// goes through an engine method and comes back as a new snapshot.
package ui

import "github.com/charmbracelet/lipgloss"

// Palette shared by every view.
var (
	colorAccent  = lipgloss.Color("#8BC34A")
	colorMuted   = lipgloss.Color("#6b7280")
	colorError   = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
	colorSelect  = lipgloss.Color("#2196F3")
)

// Styles groups the lipgloss styles used by the grid view.
type Styles struct {
	Title     lipgloss.Style
	Header    lipgloss.Style
	SortedCol lipgloss.Style
	Row       lipgloss.Style
	CursorRow lipgloss.Style
	Selected  lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Status    lipgloss.Style
	EditCell  lipgloss.Style
}

// DefaultStyles returns the standard theme.
func DefaultStyles() Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Header:    lipgloss.NewStyle().Bold(true).Underline(true),
		SortedCol: lipgloss.NewStyle().Bold(true).Underline(true).Foreground(colorAccent),
		Row:       lipgloss.NewStyle(),
		CursorRow: lipgloss.NewStyle().Reverse(true),
		Selected:  lipgloss.NewStyle().Foreground(colorSelect),
		Muted:     lipgloss.NewStyle().Foreground(colorMuted),
		Error:     lipgloss.NewStyle().Foreground(colorError),
		Warning:   lipgloss.NewStyle().Foreground(colorWarning),
		Status:    lipgloss.NewStyle().Foreground(colorMuted),
		EditCell:  lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
	}
}
