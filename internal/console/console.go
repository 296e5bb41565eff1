// Package console prints prt's user-facing lines, colorized when the
// destination supports it.
package console

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// ColorMode selects when ANSI colors are emitted
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// Console writes lines to a terminal (or any writer) with optional styling
type Console struct {
	out      io.Writer
	renderer *lipgloss.Renderer

	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
	warningStyle lipgloss.Style
	boldStyle    lipgloss.Style
}

// New creates a console writing to out. In auto mode colors are only used
// when out is a terminal.
func New(out io.Writer, mode ColorMode) *Console {
	if out == nil {
		out = os.Stdout
	}

	renderer := lipgloss.NewRenderer(out)
	if useColor(out, mode) {
		renderer.SetColorProfile(termenv.ANSI)
	} else {
		renderer.SetColorProfile(termenv.Ascii)
	}

	return &Console{
		out:          out,
		renderer:     renderer,
		errorStyle:   renderer.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		successStyle: renderer.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		warningStyle: renderer.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		boldStyle:    renderer.NewStyle().Foreground(lipgloss.Color("15")).Bold(true),
	}
}

func useColor(out io.Writer, mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Error styles text as an error
func (c *Console) Error(text string) string { return c.errorStyle.Render(text) }

// Success styles text as a success
func (c *Console) Success(text string) string { return c.successStyle.Render(text) }

// Warning styles text as a warning
func (c *Console) Warning(text string) string { return c.warningStyle.Render(text) }

// Bold styles text in bold
func (c *Console) Bold(text string) string { return c.boldStyle.Render(text) }

// Println writes one line
func (c *Console) Println(line string) {
	fmt.Fprintln(c.out, line)
}

// Printf writes a formatted line; a trailing newline is added
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Width returns the printed width of s, ignoring escape sequences
func Width(s string) int {
	return lipgloss.Width(s)
}
