// Package ui renders CLI output with a small fixed palette.
package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/Mschirtzinger/taskboard/internal/schema"
)

// Palette colors.
var (
	ColorAccent = lipgloss.Color("#7aa2f7")
	ColorPass   = lipgloss.Color("#9ece6a")
	ColorWarn   = lipgloss.Color("#e0af68")
	ColorFail   = lipgloss.Color("#f7768e")
	ColorMuted  = lipgloss.Color("#565f89")
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	boldStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Underline(true)
)

// Init picks the color profile for w. Output that is not a terminal, or
// any output when NO_COLOR is set, is rendered without escapes.
func Init(w io.Writer) {
	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
}

// RenderAccent highlights identifiers and headings.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass marks a successful outcome.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn marks something that needs attention.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail marks an error.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted de-emphasizes secondary details.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderBold renders s in bold.
func RenderBold(s string) string { return boldStyle.Render(s) }

// RenderHeader renders a column or section header.
func RenderHeader(s string) string { return headerStyle.Render(s) }

// RenderStatus colors a task status.
func RenderStatus(s schema.Status) string {
	switch s {
	case schema.StatusCompleted:
		return passStyle.Render(string(s))
	case schema.StatusInProgress:
		return accentStyle.Render(string(s))
	default:
		return mutedStyle.Render(string(s))
	}
}

// RenderPriority colors a task priority.
func RenderPriority(p schema.Priority) string {
	switch p {
	case schema.PriorityHigh:
		return failStyle.Render(string(p))
	case schema.PriorityMedium:
		return warnStyle.Render(string(p))
	default:
		return passStyle.Render(string(p))
	}
}

// RenderSwatch renders a block in a project's hex color.
func RenderSwatch(hex string) string {
	if hex == "" {
		hex = schema.DefaultProjectColor
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Render("■")
}

// PadRight pads s to width visible cells, ignoring escape sequences.
func PadRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// Truncate shortens s to at most width runes, marking the cut with "…".
func Truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

// Columns lays out blocks side by side with a gap between them.
func Columns(gap int, blocks ...string) string {
	spaced := make([]string, 0, len(blocks)*2)
	for i, b := range blocks {
		if i > 0 && gap > 0 {
			spaced = append(spaced, strings.Repeat(" ", gap))
		}
		spaced = append(spaced, b)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, spaced...)
}
