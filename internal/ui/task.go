package ui

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var ErrInterrupted = errors.New("interrupted")

type taskDoneMsg struct {
	err error
}

// taskModel shows a spinner next to the task title and its current status
type taskModel struct {
	title    string
	status   func() string
	spinner  spinner.Model
	cancel   context.CancelFunc
	err      error
	finished bool
}

func newTaskModel(title string, status func() string, cancel context.CancelFunc) *taskModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)
	return &taskModel{title: title, status: status, spinner: sp, cancel: cancel}
}

func (m *taskModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *taskModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.cancel()
			m.err = ErrInterrupted
			m.finished = true
			return m, tea.Quit
		}
	case taskDoneMsg:
		m.err = msg.err
		m.finished = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *taskModel) View() string {
	if m.finished {
		return ""
	}
	line := m.spinner.View() + " " + m.title
	if m.status != nil {
		if s := m.status(); s != "" {
			line += " " + DimStyle.Render(s)
		}
	}
	return line + "\n"
}

// Console runs spinner tasks on stderr and lets prompts borrow the terminal
// while a task is running.
type Console struct {
	mu      sync.Mutex
	program *tea.Program
}

// Run calls fn while showing a spinner. status, when set, is polled on each
// frame. Ctrl+C cancels fn's context and returns ErrInterrupted.
func (c *Console) Run(ctx context.Context, title string, status func() string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newTaskModel(title, status, cancel)
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	c.mu.Lock()
	c.program = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.program = nil
		c.mu.Unlock()
	}()

	go func() {
		p.Send(taskDoneMsg{err: fn(ctx)})
	}()

	if _, err := p.Run(); err != nil && !m.finished {
		return err
	}
	return m.err
}

// Suspend hands the terminal back for the duration of fn
func (c *Console) Suspend(fn func() error) error {
	c.mu.Lock()
	p := c.program
	c.mu.Unlock()

	if p != nil {
		if err := p.ReleaseTerminal(); err != nil {
			return err
		}
		defer func() { _ = p.RestoreTerminal() }()
	}
	return fn()
}
