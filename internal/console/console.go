// Package console renders operator-facing output for runs and the
// status command. A Console is passed to whatever needs one; there is
// no package-level singleton, so tests capture output by handing in a
// buffer.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Stage outcome labels accepted by StageResult.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

var (
	bannerStyle = lipgloss.NewStyle().Bold(true)
	stageStyle  = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Console writes run output to one writer. Safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool
}

// New returns a styled console on stdout.
func New() *Console {
	return &Console{w: os.Stdout, styled: true}
}

// NewPlain returns an unstyled console, for tests and non-TTY sinks.
func NewPlain(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) render(st lipgloss.Style, s string) string {
	if !c.styled {
		return s
	}
	return st.Render(s)
}

func (c *Console) line(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, s)
}

// Banner prints the bold run header.
func (c *Console) Banner(format string, args ...any) {
	c.line(c.render(bannerStyle, fmt.Sprintf(format, args...)))
}

// Stage prints a bold heading introducing a pipeline phase, preceded
// by a blank line.
func (c *Console) Stage(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w)
	fmt.Fprintln(c.w, c.render(stageStyle, name))
}

// Printf writes one formatted line.
func (c *Console) Printf(format string, args ...any) {
	c.line(fmt.Sprintf(format, args...))
}

// Warnf writes a whole line in the warning style.
func (c *Console) Warnf(format string, args ...any) {
	c.line(c.render(warnStyle, fmt.Sprintf(format, args...)))
}

// Errorf writes a whole line in the error style.
func (c *Console) Errorf(format string, args ...any) {
	c.line(c.render(errStyle, fmt.Sprintf(format, args...)))
}

// Good, Warn, Bad and Dim style fragments for embedding in Printf
// lines, so a value can stand out inside an otherwise plain line.
func (c *Console) Good(s string) string { return c.render(okStyle, s) }
func (c *Console) Warn(s string) string { return c.render(warnStyle, s) }
func (c *Console) Bad(s string) string  { return c.render(errStyle, s) }
func (c *Console) Dim(s string) string  { return c.render(dimStyle, s) }

// StageResult prints the outcome marker line for a pipeline stage.
func (c *Console) StageResult(stage, outcome, detail string) {
	marker, style := "✓", okStyle
	switch outcome {
	case OutcomeDegraded:
		marker, style = "~", warnStyle
	case OutcomeSkipped:
		marker, style = "-", dimStyle
	case OutcomeFailed:
		marker, style = "✗", errStyle
	}
	line := "  " + c.render(style, marker) + " " + stage
	if detail != "" {
		line += " " + c.render(dimStyle, "("+detail+")")
	}
	c.line(line)
}

// Table prints a bordered table.
func (c *Console) Table(headers []string, rows [][]string) {
	t := table.New().Border(lipgloss.RoundedBorder()).Headers(headers...)
	for _, row := range rows {
		t.Row(row...)
	}
	c.line(t.Render())
}
