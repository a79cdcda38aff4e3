// Package console renders the conversation event stream on a terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gravicode/talkingbot/internal/eventlog"
)

const timeLayout = "02-Jan-06 15:04:05"

type styles struct {
	stamp     lipgloss.Style
	separator lipgloss.Style
	user      lipgloss.Style
	status    lipgloss.Style
	setup     lipgloss.Style
	failure   lipgloss.Style
	tool      lipgloss.Style
	assistant lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		stamp:     r.NewStyle().Faint(true),
		separator: r.NewStyle().Foreground(lipgloss.Color("8")),
		user:      r.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
		status:    r.NewStyle().Foreground(lipgloss.Color("8")),
		setup:     r.NewStyle().Foreground(lipgloss.Color("12")),
		failure:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		tool:      r.NewStyle().Foreground(lipgloss.Color("11")),
		assistant: r.NewStyle().Foreground(lipgloss.Color("15")),
	}
}

// Console writes events to a terminal, coloring them when out is a TTY.
type Console struct {
	out    io.Writer
	styles styles
	inline bool
}

// New builds a console for out.
func New(out io.Writer) *Console {
	return &Console{
		out:    out,
		styles: newStyles(lipgloss.NewRenderer(out)),
	}
}

// Run prints events until ch closes or ctx ends.
func (c *Console) Run(ctx context.Context, ch <-chan eventlog.Event) {
	for {
		select {
		case <-ctx.Done():
			c.finishLine()
			return
		case ev, ok := <-ch:
			if !ok {
				c.finishLine()
				return
			}
			c.Render(ev)
		}
	}
}

// Render prints one event.
func (c *Console) Render(ev eventlog.Event) {
	if !ev.NewLine {
		_, _ = io.WriteString(c.out, c.styles.assistant.Render(ev.Message))
		c.inline = true
		return
	}
	c.finishLine()

	if ev.Message == "" {
		fmt.Fprintln(c.out, c.styles.separator.Render(ev.Line()))
		return
	}
	stamp := c.styles.stamp.Render(ev.Time.Format(timeLayout) + " =>")
	fmt.Fprintln(c.out, stamp+" "+c.styleFor(ev.Message).Render(ev.Message))
}

func (c *Console) finishLine() {
	if c.inline {
		fmt.Fprintln(c.out)
		c.inline = false
	}
}

func (c *Console) styleFor(msg string) lipgloss.Style {
	switch {
	case strings.HasPrefix(msg, " >>> USER:"):
		return c.styles.user
	case strings.Contains(msg, "ERROR"), strings.Contains(msg, " failed"):
		return c.styles.failure
	case strings.HasPrefix(msg, "function call:"):
		return c.styles.tool
	case strings.HasPrefix(msg, " * "):
		return c.styles.setup
	case strings.HasPrefix(msg, " <<< "), strings.HasPrefix(msg, " >>> "):
		return c.styles.status
	default:
		return c.styles.assistant
	}
}
