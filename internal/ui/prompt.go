package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Input asks for a single line. Enter is refused while validate fails.
type Input struct {
	title     string
	input     textinput.Model
	validate  func(string) error
	err       error
	submitted bool
	done      bool
}

func NewInput(title, placeholder string, validate func(string) error) *Input {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 512
	ti.Width = 72
	ti.Prompt = PromptStyle.Render(SymbolPrompt) + " "
	ti.Focus()
	return &Input{title: title, input: ti, validate: validate}
}

// Value is the trimmed input, or "" if the prompt was cancelled
func (in *Input) Value() string {
	if !in.submitted {
		return ""
	}
	return strings.TrimSpace(in.input.Value())
}

func (in *Input) Init() tea.Cmd {
	return textinput.Blink
}

func (in *Input) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			value := strings.TrimSpace(in.input.Value())
			if in.validate != nil {
				if in.err = in.validate(value); in.err != nil {
					return in, nil
				}
			}
			in.submitted = true
			in.done = true
			return in, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			in.done = true
			return in, tea.Quit
		}
	}

	var cmd tea.Cmd
	in.input, cmd = in.input.Update(msg)
	return in, cmd
}

func (in *Input) View() string {
	if in.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render(in.title))
	b.WriteString("\n")
	b.WriteString(in.input.View())
	b.WriteString("\n")
	if in.err != nil {
		b.WriteString(ErrorStyle.Render(SymbolCross + " " + in.err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

// Ask runs an Input and returns what was entered. Cancelling returns "".
func Ask(title, placeholder string, validate func(string) error) (string, error) {
	in := NewInput(title, placeholder, validate)
	if _, err := tea.NewProgram(in).Run(); err != nil {
		return "", err
	}
	return in.Value(), nil
}
