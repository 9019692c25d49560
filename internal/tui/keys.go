package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the browse key bindings.
type KeyMap struct {
	Up        key.Binding
	Down      key.Binding
	NextView  key.Binding
	PrevView  key.Binding
	Equipment key.Binding
	Projects  key.Binding
	Forum     key.Binding
	Profile   key.Binding
	Admin     key.Binding
	Reload    key.Binding
	Approve   key.Binding
	Reject    key.Binding
	SignIn    key.Binding
	SignOut   key.Binding
	Quit      key.Binding

	// Sign-in form.
	Submit    key.Binding
	NextField key.Binding
	Cancel    key.Binding
	ForceQuit key.Binding
}

// DefaultKeyMap uses vim-style j/k alongside arrows and number keys for views.
var DefaultKeyMap = KeyMap{
	Up:        key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
	Down:      key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
	NextView:  key.NewBinding(key.WithKeys("tab", "l"), key.WithHelp("tab", "next view")),
	PrevView:  key.NewBinding(key.WithKeys("shift+tab", "h"), key.WithHelp("shift+tab", "previous view")),
	Equipment: key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "equipment")),
	Projects:  key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "projects")),
	Forum:     key.NewBinding(key.WithKeys("3"), key.WithHelp("3", "forum")),
	Profile:   key.NewBinding(key.WithKeys("4"), key.WithHelp("4", "profile")),
	Admin:     key.NewBinding(key.WithKeys("5"), key.WithHelp("5", "admin")),
	Reload:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Approve:   key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
	Reject:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reject")),
	SignIn:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sign in")),
	SignOut:   key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "sign out")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Submit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
	NextField: key.NewBinding(key.WithKeys("tab", "shift+tab", "up", "down"), key.WithHelp("tab", "next field")),
	Cancel:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	ForceQuit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}
