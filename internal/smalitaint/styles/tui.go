// Package styles holds the terminal look of the CLI: the markdown theme of
// reports and the lipgloss styles of the listing viewer.
package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// DefaultWidth is used when the terminal size is unknown.
const DefaultWidth = 80

var (
	Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color(charmtone.Charple.Hex())).
		Bold(true).
		MarginLeft(2)

	Menu = lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1)

	Selected = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Malibu.Hex()))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Added    = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Guac.Hex()))
	Errored  = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Cherry.Hex()))
)

// Gutter returns the marker shown left of a listing line.
func Gutter(changed bool) string {
	if changed {
		return Added.Render("+ ")
	}
	return "  "
}
