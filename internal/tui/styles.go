// Package tui is the interactive terminal front end over the catalog: browsing, search, updates and
// live transaction progress.
package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette - matches existing CLI colors
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Green
	ColorWarning   = lipgloss.Color("#F59E0B") // Yellow
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorMuted     = lipgloss.Color("#6B7280") // Gray
	ColorText      = lipgloss.Color("#F3F4F6") // Light gray
	ColorBg        = lipgloss.Color("#1F2937") // Dark gray
	ColorBgAlt     = lipgloss.Color("#374151") // Slightly lighter
)

// BackendColors tints the badge of each backend.
var BackendColors = map[string]lipgloss.Color{
	"flatpak":    lipgloss.Color("#4A90D9"),
	"packagekit": lipgloss.Color("#3DAEE9"),
	"native":     lipgloss.Color("#A80030"),
}

// StateColors tints resource states.
var StateColors = map[string]lipgloss.Color{
	"installed":   ColorSuccess,
	"upgradeable": ColorWarning,
	"installing":  ColorSecondary,
	"removing":    ColorSecondary,
}

// Styles contains all the lipgloss styles used in the TUI
type Styles struct {
	// App frame
	Header lipgloss.Style
	Footer lipgloss.Style

	// Tabs
	Tab         lipgloss.Style
	TabActive   lipgloss.Style
	TabInactive lipgloss.Style

	// Content
	Title       lipgloss.Style
	Subtitle    lipgloss.Style
	Description lipgloss.Style

	// List items
	ListItemSelected lipgloss.Style

	// Resource display
	ResourceName    lipgloss.Style
	ResourceVersion lipgloss.Style
	ResourceDesc    lipgloss.Style

	// Status indicators
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style

	// Input
	InputPrompt lipgloss.Style

	// Spinner
	Spinner lipgloss.Style

	// Dialog
	Dialog       lipgloss.Style
	DialogTitle  lipgloss.Style
	DialogButton lipgloss.Style
}

// DefaultStyles returns the default style configuration
func DefaultStyles() *Styles {
	s := &Styles{}

	// App frame
	s.Header = lipgloss.NewStyle().
		Foreground(ColorText).
		Background(ColorBgAlt).
		Padding(0, 1).
		Bold(true)

	s.Footer = lipgloss.NewStyle().
		Foreground(ColorMuted).
		Padding(0, 1)

	// Tabs
	s.Tab = lipgloss.NewStyle().
		Padding(0, 2)

	s.TabActive = s.Tab.
		Foreground(ColorPrimary).
		Bold(true).
		Underline(true)

	s.TabInactive = s.Tab.
		Foreground(ColorMuted)

	// Content
	s.Title = lipgloss.NewStyle().
		Foreground(ColorText).
		Bold(true).
		MarginBottom(1)

	s.Subtitle = lipgloss.NewStyle().
		Foreground(ColorSecondary).
		Bold(true)

	s.Description = lipgloss.NewStyle().
		Foreground(ColorMuted)

	// List items
	s.ListItemSelected = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		PaddingLeft(0).
		SetString("> ")

	// Resource display
	s.ResourceName = lipgloss.NewStyle().
		Foreground(ColorText).
		Bold(true)

	s.ResourceVersion = lipgloss.NewStyle().
		Foreground(ColorSuccess)

	s.ResourceDesc = lipgloss.NewStyle().
		Foreground(ColorMuted)

	// Status indicators
	s.Success = lipgloss.NewStyle().
		Foreground(ColorSuccess).
		Bold(true)

	s.Warning = lipgloss.NewStyle().
		Foreground(ColorWarning).
		Bold(true)

	s.Error = lipgloss.NewStyle().
		Foreground(ColorError).
		Bold(true)

	s.Info = lipgloss.NewStyle().
		Foreground(ColorSecondary)

	s.InputPrompt = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true)

	// Spinner
	s.Spinner = lipgloss.NewStyle().
		Foreground(ColorPrimary)

	// Dialog
	s.Dialog = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPrimary).
		Padding(1, 2).
		Width(60)

	s.DialogTitle = lipgloss.NewStyle().
		Foreground(ColorText).
		Bold(true).
		MarginBottom(1)

	s.DialogButton = lipgloss.NewStyle().
		Foreground(ColorText).
		Background(ColorPrimary).
		Padding(0, 2).
		MarginRight(1)

	return s
}

// StateStyle returns the style for a resource state name.
func StateStyle(state string) lipgloss.Style {
	color, ok := StateColors[state]
	if !ok {
		color = ColorMuted
	}
	return lipgloss.NewStyle().Foreground(color)
}

// Badge creates a badge-style label
func Badge(text string, color lipgloss.Color) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(color).
		Padding(0, 1).
		Render(text)
}

// BackendBadge creates a badge for a backend and scope.
func BackendBadge(backend, scope string) string {
	color, ok := BackendColors[backend]
	if !ok {
		color = ColorMuted
	}
	label := backend
	if scope != "" {
		label += "/" + scope
	}
	return Badge(label, color)
}
