// Package demo is a small menu-driven terminal program used to exercise
// tuitest against a real TUI. It draws in the normal screen so stream and
// buffer sessions both see it.
package demo

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Title is the first line of every frame.
const Title = "tuitest demo"

// DefaultItems is the menu shown by New.
var DefaultItems = []string{"Apples", "Bananas", "Cherries", "Dates", "Elderberries"}

// Model is the bubbletea model of the demo.
type Model struct {
	items    []string
	cursor   int
	selected string
	greeting string

	input   textinput.Model
	editing bool

	keys     keyMap
	styles   styles
	quitting bool
}

// New returns a model showing items, or DefaultItems when none are given.
func New(items ...string) Model {
	if len(items) == 0 {
		items = DefaultItems
	}
	ti := textinput.New()
	ti.Prompt = "Name: "
	ti.Placeholder = "type / to edit"
	ti.CharLimit = 32

	return Model{
		items:  items,
		input:  ti,
		keys:   defaultKeyMap(),
		styles: defaultStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.editing {
		return m.updateInput(keyMsg)
	}

	switch {
	case key.Matches(keyMsg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(keyMsg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, m.keys.Select):
		m.selected = m.items[m.cursor]
	case key.Matches(keyMsg, m.keys.Name):
		m.editing = true
		return m, m.input.Focus()
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		if name := strings.TrimSpace(m.input.Value()); name != "" {
			m.greeting = "Hello, " + name + "!"
		}
		m.editing = false
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Cancel):
		m.editing = false
		m.input.Blur()
		return m, nil
	case msg.Type == tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return "Bye!\n"
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render(Title))
	b.WriteString("\n\n")
	for i, item := range m.items {
		if i == m.cursor {
			b.WriteString(m.styles.Selected.Render("> " + item))
		} else {
			b.WriteString(m.styles.Item.Render("  " + item))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(m.status())
	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render(m.keys.help()))
	b.WriteString("\n")
	return b.String()
}

func (m Model) status() string {
	switch {
	case m.greeting != "" && m.selected != "":
		return m.greeting + " Selected: " + m.selected
	case m.greeting != "":
		return m.greeting
	case m.selected != "":
		return "Selected: " + m.selected
	}
	return "Nothing selected"
}

// Selected returns the last item chosen with enter.
func (m Model) Selected() string { return m.selected }

// Run starts the demo on the process's terminal and blocks until the user
// quits or ctx is done.
func Run(ctx context.Context, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(New(), opts...).Run()
	return err
}
