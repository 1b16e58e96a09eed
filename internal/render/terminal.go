// Package render provides terminal styling and markdown output for the
// taskgraph CLI and the status tool.
package render

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Ayu-flavored palette shared by all renderers.
var (
	ColorAccent = lipgloss.Color("#39BAE6")
	ColorPass   = lipgloss.Color("#AAD94C")
	ColorWarn   = lipgloss.Color("#FFB454")
	ColorFail   = lipgloss.Color("#F07178")
	ColorMuted  = lipgloss.Color("#5C6773")
)

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor determines if ANSI color codes should be used.
// Respects NO_COLOR, CLICOLOR=0 and CLICOLOR_FORCE, falling back to TTY
// detection.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return IsTerminal()
}

// GetWidth returns the width of the terminal or a default value.
func GetWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
