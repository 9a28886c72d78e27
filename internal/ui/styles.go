// Package ui styles the status lines chat-stream prints on stderr.
//
// stdout carries ingested lines only, so every styled string is meant for
// stderr and colors are decided by what stderr is attached to.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Palette (ANSI 256).
var (
	ColorAccent = lipgloss.Color("39")
	ColorPass   = lipgloss.Color("78")
	ColorWarn   = lipgloss.Color("214")
	ColorFail   = lipgloss.Color("203")
	ColorMuted  = lipgloss.Color("245")
)

var (
	renderer    = newRenderer(os.Stderr, isTerminal(os.Stderr))
	accentStyle = renderer.NewStyle().Foreground(ColorAccent).Bold(true)
	passStyle   = renderer.NewStyle().Foreground(ColorPass).Bold(true)
	warnStyle   = renderer.NewStyle().Foreground(ColorWarn).Bold(true)
	failStyle   = renderer.NewStyle().Foreground(ColorFail).Bold(true)
	mutedStyle  = renderer.NewStyle().Foreground(ColorMuted)
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// newRenderer returns a renderer for w. Without a terminal, or with
// NO_COLOR set, output is plain text.
func newRenderer(w io.Writer, tty bool) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	if !tty || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

// RenderAccent styles informational markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles errors.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted styles secondary detail.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
