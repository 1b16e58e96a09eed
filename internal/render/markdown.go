package render

import (
	"github.com/charmbracelet/glamour"
)

// Markdown renders markdown for the terminal using glamour. Falls back to
// the raw text when colors are off or rendering fails, so piped output
// stays machine-readable.
func Markdown(markdown string) string {
	if !ShouldUseColor() {
		return markdown
	}

	// Wider lines cause eye-tracking fatigue; cap well under wide terminals.
	const maxReadableWidth = 100
	wrapWidth := GetWidth()
	if wrapWidth > maxReadableWidth {
		wrapWidth = maxReadableWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
