package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// option is one answer of a question. Key is the single-letter shortcut.
type option struct {
	key   string
	label string
}

// question is a multiple-choice prompt.
type question struct {
	title   string
	details []string
	options []option
}

// choiceModel is a bubbletea model selecting one option of a question.
type choiceModel struct {
	q         question
	cursor    int
	chosen    int
	cancelled bool
}

func newChoiceModel(q question) choiceModel {
	return choiceModel{q: q, chosen: -1}
}

// Init is the first command that is run when the program starts
func (m choiceModel) Init() tea.Cmd {
	return nil
}

// Update handles key presses
func (m choiceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.cancelled = true
		return m, tea.Quit
	case tea.KeyUp, tea.KeyShiftTab:
		m.cursor = (m.cursor - 1 + len(m.q.options)) % len(m.q.options)
		return m, nil
	case tea.KeyDown, tea.KeyTab:
		m.cursor = (m.cursor + 1) % len(m.q.options)
		return m, nil
	case tea.KeyEnter:
		m.chosen = m.cursor
		return m, tea.Quit
	case tea.KeyRunes:
		s := strings.ToLower(string(key.Runes))
		switch s {
		case "k":
			if !m.hasKey("k") {
				m.cursor = (m.cursor - 1 + len(m.q.options)) % len(m.q.options)
				return m, nil
			}
		case "j":
			if !m.hasKey("j") {
				m.cursor = (m.cursor + 1) % len(m.q.options)
				return m, nil
			}
		}
		for i, o := range m.q.options {
			if o.key == s {
				m.cursor, m.chosen = i, i
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m choiceModel) hasKey(k string) bool {
	for _, o := range m.q.options {
		if o.key == k {
			return true
		}
	}
	return false
}

// View renders the question
func (m choiceModel) View() string {
	if m.chosen >= 0 || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.q.title))
	b.WriteString("\n")
	for _, d := range m.q.details {
		b.WriteString(hintStyle.Render("  " + d))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for i, o := range m.q.options {
		text := fmt.Sprintf("[%s] %s", o.key, o.label)
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + text))
		} else {
			b.WriteString("  " + text)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("↑/↓ to move, enter or shortcut to choose, esc to abort"))
	b.WriteString("\n")
	return b.String()
}

// answer returns the chosen option key, or "" when nothing was chosen.
func (m choiceModel) answer() string {
	if m.cancelled || m.chosen < 0 {
		return ""
	}
	return m.q.options[m.chosen].key
}
