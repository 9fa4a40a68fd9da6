package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const maxHistory = 12

type interactiveModel struct {
	session *session
	input   textinput.Model
	history []string
	st      styles
}

func newInteractiveModel() *interactiveModel {
	st := colorStyles()
	ti := textinput.New()
	ti.Placeholder = "set x 1"
	ti.Prompt = "> "
	ti.Width = 60
	ti.Focus()
	m := &interactiveModel{session: newSession(st), input: ti, st: st}
	if out, err := m.session.execLine("new"); err == nil {
		m.history = append(m.history, out)
	}
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			if line == "quit" || line == "exit" {
				return m, tea.Quit
			}
			m.record(line)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) record(line string) {
	out, err := m.session.execLine(line)
	entry := m.st.dim.Render("> " + line)
	switch {
	case err != nil:
		entry += "\n" + m.st.err.Render("Error: "+err.Error())
	case out != "":
		entry += "\n" + out
	}
	m.history = append(m.history, entry)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(m.st.title.Render("Shape Explorer"))
	b.WriteString("\n\n")
	b.WriteString(m.session.tree())
	b.WriteString("\n\n")
	for _, h := range m.history {
		b.WriteString(h)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(m.st.dim.Render("new [NAME] [reuse|tombstone] • add KEY TYPE • set/const KEY VALUE • del KEY • flags N • get KEY • stats • esc quit"))

	return b.String()
}

func runInteractive() error {
	p := tea.NewProgram(newInteractiveModel(), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
