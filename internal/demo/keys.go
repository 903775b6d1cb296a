package demo

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the demo's keybindings.
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Name   key.Binding
	Cancel key.Binding
	Quit   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select"),
		),
		Name: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "name"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// help renders the short help line.
func (k keyMap) help() string {
	var parts []string
	for _, b := range []key.Binding{k.Up, k.Down, k.Select, k.Name, k.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return joinHelp(parts)
}
