package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

type fakeController struct {
	continues int
	pauses    int
	steps     []domain.StepKind
	err       error
}

func (c *fakeController) Continue() error { c.continues++; return c.err }
func (c *fakeController) Pause() error    { c.pauses++; return c.err }
func (c *fakeController) Step(kind domain.StepKind) error {
	c.steps = append(c.steps, kind)
	return c.err
}

func newTestModel(ctrl *fakeController) Model {
	events := make(chan Event)
	errs := make(chan error)
	m := New("orders", 4200, events, errs, ctrl)
	sized, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return sized.(Model)
}

func TestModelTracksStateFromEvents(t *testing.T) {
	m := newTestModel(&fakeController{})
	require.Equal(t, domain.StateRunning, m.state)

	next, cmd := m.Update(eventMsg(Event{
		Kind:     "state_change",
		Line:     "paused at Order.cs:31 (breakpoint)",
		State:    domain.StatePaused,
		Location: "Order.cs:31",
	}))
	m = next.(Model)

	require.NotNil(t, cmd, "should re-arm the event wait")
	assert.Equal(t, domain.StatePaused, m.state)
	assert.Contains(t, m.View(), "PAUSED at Order.cs:31")
	assert.Contains(t, m.View(), "paused at Order.cs:31 (breakpoint)")
}

func TestModelControlKeys(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'i'}})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'o'}})
	m = next.(Model)

	assert.Equal(t, 1, ctrl.continues)
	assert.Equal(t, 1, ctrl.pauses)
	assert.Equal(t, []domain.StepKind{domain.StepOver, domain.StepInto, domain.StepOut}, ctrl.steps)
}

func TestModelSurfacesControlErrors(t *testing.T) {
	ctrl := &fakeController{err: assert.AnError}
	m := newTestModel(ctrl)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	m = next.(Model)

	assert.Contains(t, m.View(), assert.AnError.Error())
}

func TestModelQuitKey(t *testing.T) {
	m := newTestModel(&fakeController{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModelFeedClosed(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl)

	next, _ := m.Update(feedClosedMsg{})
	m = next.(Model)

	assert.Contains(t, m.View(), "session ended")
	assert.Contains(t, m.View(), "ENDED")

	// control keys are inert once the session is gone
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	m = next.(Model)
	assert.Zero(t, ctrl.continues)
}

func TestModelScrollbackCap(t *testing.T) {
	m := newTestModel(&fakeController{})
	for i := 0; i < maxLines+50; i++ {
		next, _ := m.Update(eventMsg(Event{Kind: "process_output", Line: "line"}))
		m = next.(Model)
	}
	assert.Len(t, m.lines, maxLines)
}
