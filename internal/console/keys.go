package console

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings of the operator console.
type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	Select   key.Binding
	Back     key.Binding
	Reload   key.Binding
	Camera   key.Binding
	Manual   key.Binding
	Bulk     key.Binding
	Events   key.Binding
	Toggle   key.Binding
	All      key.Binding
	Search   key.Binding
	Retry    key.Binding
	Continue key.Binding

	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	Select: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "select"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "back"),
	),
	Reload: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reload"),
	),
	Camera: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "camera on/off"),
	),
	Manual: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "manual entry"),
	),
	Bulk: key.NewBinding(
		key.WithKeys("b"),
		key.WithHelp("b", "email lookup"),
	),
	Events: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "switch event"),
	),
	Toggle: key.NewBinding(
		key.WithKeys(" "),
		key.WithHelp("space", "toggle"),
	),
	All: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "select all"),
	),
	Search: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "edit email"),
	),
	Retry: key.NewBinding(
		key.WithKeys("t"),
		key.WithHelp("t", "try again"),
	),
	Continue: key.NewBinding(
		key.WithKeys("enter", "o"),
		key.WithHelp("enter", "ok"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "quit"),
	),
}
