// Package ui renders process tables, detail blocks, and log lines for
// the CLI. All functions return strings; printing is the caller's job.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/gopm-io/gopm/internal/protocol"
)

// Theme groups the lipgloss styles used across the CLI output.
type Theme struct {
	Header  lipgloss.Style
	Border  lipgloss.Style
	Cell    lipgloss.Style
	Muted   lipgloss.Style
	Label   lipgloss.Style
	Accent  lipgloss.Style
	Good    lipgloss.Style
	Bad     lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
}

// DefaultTheme returns the standard gopm color scheme.
func DefaultTheme() Theme {
	return Theme{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		Border:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Cell:    lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Label:   lipgloss.NewStyle().Bold(true),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		Good:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
	}
}

// Renderer formats CLI output with a theme.
type Renderer struct {
	theme Theme
}

// NewRenderer returns a renderer using the default theme.
func NewRenderer() *Renderer {
	return &Renderer{theme: DefaultTheme()}
}

// statusStyle picks the color for a process status.
func (r *Renderer) statusStyle(status protocol.ProcessStatus) lipgloss.Style {
	switch status {
	case protocol.StatusRunning:
		return r.theme.Good
	case protocol.StatusStopped:
		return r.theme.Bad
	case protocol.StatusErrored:
		return r.theme.Bad.Bold(true)
	case protocol.StatusRestarting:
		return r.theme.Warning
	default:
		return r.theme.Cell
	}
}

// cpuStyle colors CPU usage by load band.
func (r *Renderer) cpuStyle(cpu float64) lipgloss.Style {
	switch {
	case cpu > 80.0:
		return r.theme.Bad
	case cpu > 50.0:
		return r.theme.Warning
	case cpu > 20.0:
		return r.theme.Info
	default:
		return r.theme.Good
	}
}

// memoryStyle colors memory usage by megabyte band.
func (r *Renderer) memoryStyle(memory uint64) lipgloss.Style {
	mb := memory / 1024 / 1024
	switch {
	case mb > 1000:
		return r.theme.Bad
	case mb > 500:
		return r.theme.Warning
	case mb > 100:
		return r.theme.Info
	default:
		return r.theme.Good
	}
}
