// Package tui renders a live debug session as a terminal UI: a scrolling
// event feed with the lifecycle state pinned in the header and execution
// control on single keys. It consumes pre-rendered event lines so the
// formatting stays identical to the plain text stream.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

// scrollback cap; older lines fall off the top.
const maxLines = 2000

// Event is one line of the session feed. State is meaningful on lifecycle
// events and carries the value the header should show from then on.
type Event struct {
	Kind     string // domain record type tag
	Line     string
	State    domain.LifecycleState
	Location string // "file:line" when the event carries a position
}

// Controller is the slice of the engine the UI drives. Calls are issued from
// the update loop and must not block.
type Controller interface {
	Continue() error
	Pause() error
	Step(kind domain.StepKind) error
}

type keyMap struct {
	Continue key.Binding
	Pause    key.Binding
	StepOver key.Binding
	StepInto key.Binding
	StepOut  key.Binding
	Up       key.Binding
	Down     key.Binding
	Follow   key.Binding
	Quit     key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Continue: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "continue")),
		Pause:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
		StepOver: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "step over")),
		StepInto: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "step into")),
		StepOut:  key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "step out")),
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll down")),
		Follow:   key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("G", "follow tail")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Continue, k.Pause, k.StepOver, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Continue, k.Pause, k.StepOver, k.StepInto, k.StepOut},
		{k.Up, k.Down, k.Follow, k.Quit},
	}
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("63")).Padding(0, 1)
	pausedStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	runningStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	endedStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	locationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

type eventMsg Event
type errMsg struct{ err error }
type feedClosedMsg struct{}

// Model is the bubbletea model for the session viewer.
type Model struct {
	process string
	pid     int

	events <-chan Event
	errs   <-chan error
	ctrl   Controller

	keys     keyMap
	help     help.Model
	viewport viewport.Model

	lines    []string
	state    domain.LifecycleState
	location string
	lastErr  string
	follow   bool
	ended    bool
	ready    bool
}

// New builds the viewer. The feed ends when events is closed; the UI stays up
// so the tail remains readable until the user quits.
func New(process string, pid int, events <-chan Event, errs <-chan error, ctrl Controller) Model {
	return Model{
		process: process,
		pid:     pid,
		events:  events,
		errs:    errs,
		ctrl:    ctrl,
		keys:    newKeyMap(),
		help:    help.New(),
		state:   domain.StateRunning,
		follow:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitEvent(), m.waitErr())
}

func (m Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) waitErr() tea.Cmd {
	return func() tea.Msg {
		err, ok := <-m.errs
		if !ok {
			return nil
		}
		return errMsg{err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 2
		footerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.help.Width = msg.Width
		m.refresh()
		return m, nil

	case eventMsg:
		m.append(Event(msg))
		return m, m.waitEvent()

	case errMsg:
		m.lastErr = msg.err.Error()
		return m, m.waitErr()

	case feedClosedMsg:
		m.ended = true
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Continue):
		m.control(m.ctrl.Continue)
		return m, nil
	case key.Matches(msg, m.keys.Pause):
		m.control(m.ctrl.Pause)
		return m, nil
	case key.Matches(msg, m.keys.StepOver):
		m.control(func() error { return m.ctrl.Step(domain.StepOver) })
		return m, nil
	case key.Matches(msg, m.keys.StepInto):
		m.control(func() error { return m.ctrl.Step(domain.StepInto) })
		return m, nil
	case key.Matches(msg, m.keys.StepOut):
		m.control(func() error { return m.ctrl.Step(domain.StepOut) })
		return m, nil
	case key.Matches(msg, m.keys.Follow):
		m.follow = true
		m.viewport.GotoBottom()
		return m, nil
	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
		m.follow = false
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// control issues an engine call and surfaces its error in the footer. The
// engine rejects calls that are invalid for the current state, so the UI
// does not gate keys itself.
func (m *Model) control(fn func() error) {
	if m.ctrl == nil || m.ended {
		return
	}
	if err := fn(); err != nil {
		m.lastErr = err.Error()
	} else {
		m.lastErr = ""
	}
}

func (m *Model) append(ev Event) {
	if ev.State != "" {
		m.state = ev.State
		m.location = ev.Location
	}
	m.lines = append(m.lines, ev.Line)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.lastErr = ""
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) statusBadge() string {
	if m.ended {
		return endedStyle.Render("ENDED")
	}
	switch m.state {
	case domain.StatePaused:
		badge := "PAUSED"
		if m.location != "" {
			badge += " at " + m.location
		}
		return pausedStyle.Render(badge)
	case domain.StateDisconnected:
		return endedStyle.Render("DISCONNECTED")
	default:
		return runningStyle.Render("RUNNING")
	}
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}
	header := headerStyle.Render(fmt.Sprintf("mdbg %s (PID %d)", m.process, m.pid)) + " " + m.statusBadge()
	footer := m.help.View(m.keys)
	if m.lastErr != "" {
		footer = errStyle.Render(m.lastErr) + "  " + footer
	}
	if m.ended {
		footer = endedStyle.Render("session ended, q to quit") + "  " + footer
	}
	return header + "\n\n" + m.viewport.View() + "\n" + locationStyle.Render(strings.Repeat("─", max(1, m.viewport.Width))) + "\n" + footer
}
