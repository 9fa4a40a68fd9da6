package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type styles struct {
	title   lipgloss.Style
	shape   lipgloss.Style
	op      lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	current lipgloss.Style
	err     lipgloss.Style
	dim     lipgloss.Style
}

func colorStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		shape:   lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		op:      lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		key:     lipgloss.NewStyle().Bold(true),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		current: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD700")),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

func plainStyles() styles {
	s := lipgloss.NewStyle()
	return styles{title: s, shape: s, op: s, key: s, value: s, current: s, err: s, dim: s}
}

// outputStyles colors only when stdout is a terminal.
func outputStyles() styles {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return colorStyles()
	}
	return plainStyles()
}
