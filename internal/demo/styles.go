package demo

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorBlue = lipgloss.Color("#4f8cff")
	colorGray = lipgloss.Color("#9aa4b2")
)

type styles struct {
	Title    lipgloss.Style
	Item     lipgloss.Style
	Selected lipgloss.Style
	Help     lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(colorBlue),
		Item:     lipgloss.NewStyle(),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(colorBlue),
		Help:     lipgloss.NewStyle().Foreground(colorGray),
	}
}

func joinHelp(parts []string) string {
	return strings.Join(parts, " • ")
}
