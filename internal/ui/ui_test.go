package ui

import (
	"context"
	"errors"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSelector(t *testing.T) {
	items := []SelectorItem{
		{ID: "embedded", Label: "Embedded wallet"},
		{ID: "external:io.x", Label: "Signer X", Disabled: true},
		{ID: "browser", Label: "Browser wallet"},
	}

	t.Run("skips disabled items", func(t *testing.T) {
		s := NewSelector("Connect", items)
		s.Update(key("down"))
		_, cmd := s.Update(key("enter"))
		assert.NotNil(t, cmd)
		assert.True(t, s.Done())
		assert.Equal(t, "browser", s.Selected())
	})

	t.Run("starts on current", func(t *testing.T) {
		withCurrent := append([]SelectorItem(nil), items...)
		withCurrent[2].Current = true
		s := NewSelector("Connect", withCurrent)
		s.Update(key("up"))
		s.Update(key("enter"))
		assert.Equal(t, "embedded", s.Selected())
	})

	t.Run("cancel", func(t *testing.T) {
		s := NewSelector("Connect", items)
		s.Update(key("esc"))
		assert.True(t, s.Done())
		assert.Empty(t, s.Selected())
		assert.Empty(t, s.View())
	})

	t.Run("nothing selectable", func(t *testing.T) {
		s := NewSelector("Connect", []SelectorItem{{ID: "a", Disabled: true}})
		s.Update(key("enter"))
		assert.False(t, s.Done())
		assert.Contains(t, s.View(), "a")
	})
}

func TestInput(t *testing.T) {
	notEmpty := func(s string) error {
		if s == "" {
			return errors.New("required")
		}
		return nil
	}

	t.Run("refuses invalid input", func(t *testing.T) {
		in := NewInput("Recipient", "0x...", notEmpty)
		in.Update(key("enter"))
		assert.Contains(t, in.View(), "required")
		assert.Empty(t, in.Value())

		in.Update(key("0x01"))
		in.Update(key("enter"))
		assert.Equal(t, "0x01", in.Value())
	})

	t.Run("cancel", func(t *testing.T) {
		in := NewInput("Recipient", "", nil)
		in.Update(key("abc"))
		in.Update(key("esc"))
		assert.Empty(t, in.Value())
	})
}

func TestTaskModel(t *testing.T) {
	t.Run("shows status until done", func(t *testing.T) {
		m := newTaskModel("Connecting", func() string { return "deploying" }, func() {})
		assert.Contains(t, m.View(), "Connecting")
		assert.Contains(t, m.View(), "deploying")

		m.Update(spinner.TickMsg{})
		failed := errors.New("boom")
		_, cmd := m.Update(taskDoneMsg{err: failed})
		require.NotNil(t, cmd)
		assert.Equal(t, failed, m.err)
		assert.Empty(t, m.View())
	})

	t.Run("ctrl+c cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		m := newTaskModel("Connecting", nil, cancel)
		m.Update(key("ctrl+c"))
		assert.ErrorIs(t, m.err, ErrInterrupted)
		assert.Error(t, ctx.Err())
	})
}

func TestConsoleSuspendWithoutTask(t *testing.T) {
	var c Console
	called := false
	require.NoError(t, c.Suspend(func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestStateBadge(t *testing.T) {
	assert.Contains(t, StateBadge("connected"), "connected")
	assert.Contains(t, StateBadge("disconnected"), "disconnected")
}
