package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/quern/internal/item"
)

// Theme centralizes all styling for the launcher.
type Theme struct {
	Border   lipgloss.Style
	Title    lipgloss.Style
	Row      lipgloss.Style
	Selected lipgloss.Style
	Subtext  lipgloss.Style
	Dim      lipgloss.Style

	Alert        lipgloss.Style
	Notification lipgloss.Style

	Loaded  lipgloss.Style
	Failed  lipgloss.Style
	Pending lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Row: lipgloss.NewStyle().PaddingLeft(2),
		Selected: lipgloss.NewStyle().
			PaddingLeft(1).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")),
		Subtext: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),

		Alert:        lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
		Notification: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		Loaded:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Pending: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// urgencyStyle returns the text style for rows of urgency u.
func (t Theme) urgencyStyle(u string) lipgloss.Style {
	switch u {
	case item.UrgencyAlert.String():
		return t.Alert
	case item.UrgencyNotification.String():
		return t.Notification
	default:
		return lipgloss.NewStyle()
	}
}
