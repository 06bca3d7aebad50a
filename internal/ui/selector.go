package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// SelectorItem is one choice in a Selector. Disabled items are shown but
// cannot be picked.
type SelectorItem struct {
	ID          string
	Label       string
	Description string
	Current     bool
	Disabled    bool
}

// Selector is an interactive list. It satisfies tea.Model so it can run as
// its own program.
type Selector struct {
	title    string
	items    []SelectorItem
	cursor   int
	selected int
	done     bool
}

// NewSelector starts on the current item, or the first enabled one
func NewSelector(title string, items []SelectorItem) *Selector {
	s := &Selector{title: title, items: items, cursor: -1, selected: -1}
	for i, item := range items {
		if item.Disabled {
			continue
		}
		if s.cursor < 0 || item.Current {
			s.cursor = i
		}
		if item.Current {
			break
		}
	}
	return s
}

// Selected returns the chosen item ID, or "" if nothing was chosen
func (s *Selector) Selected() string {
	if s.selected < 0 {
		return ""
	}
	return s.items[s.selected].ID
}

// Done reports whether the user picked an item or cancelled
func (s *Selector) Done() bool {
	return s.done
}

func (s *Selector) Init() tea.Cmd {
	return nil
}

func (s *Selector) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || s.done {
		return s, nil
	}

	switch key.String() {
	case "up", "k":
		s.move(-1)
	case "down", "j":
		s.move(1)
	case "enter":
		if s.cursor >= 0 {
			s.selected = s.cursor
			s.done = true
			return s, tea.Quit
		}
	case "esc", "q", "ctrl+c":
		s.done = true
		return s, tea.Quit
	}
	return s, nil
}

// move steps the cursor over disabled items
func (s *Selector) move(delta int) {
	for i := s.cursor + delta; i >= 0 && i < len(s.items); i += delta {
		if !s.items[i].Disabled {
			s.cursor = i
			return
		}
	}
}

func (s *Selector) View() string {
	if s.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(s.title))
	b.WriteString(" ")
	b.WriteString(HelpStyle.Render("(↑/↓ navigate, enter select, esc cancel)"))
	b.WriteString("\n\n")

	for i, item := range s.items {
		if i == s.cursor {
			b.WriteString(SelectorCursor.Render(SymbolArrow) + " ")
		} else {
			b.WriteString("  ")
		}

		display := item.Label
		if display == "" {
			display = item.ID
		}
		label := fmt.Sprintf("%-30s", display)
		switch {
		case item.Disabled:
			b.WriteString(DimStyle.Render(label))
		case i == s.cursor:
			b.WriteString(SelectorActive.Render(label))
		default:
			b.WriteString(SelectorItemStyle.Render(label))
		}

		desc := item.Description
		if item.Current {
			desc += " (current)"
		}
		if desc != "" {
			b.WriteString(DimStyle.Render(desc))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Pick runs a Selector and returns the chosen ID. Cancelling returns "".
func Pick(title string, items []SelectorItem) (string, error) {
	s := NewSelector(title, items)
	if _, err := tea.NewProgram(s).Run(); err != nil {
		return "", err
	}
	return s.Selected(), nil
}
