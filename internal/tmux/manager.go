// Package tmux mirrors a debug session's text output into a dedicated tmux
// pane, so a human can watch the stream the agent is consuming without
// sharing its pipe.
package tmux

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/GianlucaP106/gotmux/gotmux"
)

// ErrNoPaneAvailable means writes were attempted before GetOrCreateSession
// established a target pane.
var ErrNoPaneAvailable = errors.New("no tmux pane available")

// ErrTmuxNotAvailable means the tmux binary is not on PATH.
var ErrTmuxNotAvailable = errors.New("tmux not available")

// Config controls which tmux session the mirror writes to.
type Config struct {
	SessionName string
	ProcessName string // debuggee name, used in banners
}

// Manager owns one tmux session used as the mirror target. Session lifecycle
// goes through gotmux; pane writes shell out to tmux verbs directly.
type Manager struct {
	mu     sync.Mutex
	tmux   *gotmux.Tmux
	config Config
	pane   string // "session:window.pane" target, set once the session exists
}

// IsTmuxAvailable reports whether the tmux binary can be found.
func IsTmuxAvailable() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// GenerateSessionName derives a stable session name from the debuggee name.
func GenerateSessionName(process string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, process)
	if name == "" {
		name = "session"
	}
	return "mdbg-" + name
}

// NewManager connects to the tmux server. The session itself is not created
// until GetOrCreateSession.
func NewManager(config Config) (*Manager, error) {
	if !IsTmuxAvailable() {
		return nil, ErrTmuxNotAvailable
	}
	t, err := gotmux.DefaultTmux()
	if err != nil {
		return nil, fmt.Errorf("connect to tmux: %w", err)
	}
	if config.SessionName == "" {
		config.SessionName = GenerateSessionName(config.ProcessName)
	}
	return &Manager{tmux: t, config: config}, nil
}

// SessionName returns the tmux session the mirror targets.
func (m *Manager) SessionName() string {
	return m.config.SessionName
}

// AttachCommand returns the shell command a human runs to watch the mirror.
func (m *Manager) AttachCommand() string {
	return fmt.Sprintf("tmux attach-session -t %s", m.config.SessionName)
}

// GetOrCreateSession ensures the target session exists and records the pane
// target for subsequent writes.
func (m *Manager) GetOrCreateSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.tmux.ListSessions()
	if err == nil {
		for _, s := range sessions {
			if s.Name == m.config.SessionName {
				m.pane = fmt.Sprintf("%s:0.0", m.config.SessionName)
				return nil
			}
		}
	}

	if _, err := m.tmux.NewSession(&gotmux.SessionOptions{Name: m.config.SessionName}); err != nil {
		return fmt.Errorf("create tmux session %q: %w", m.config.SessionName, err)
	}
	m.pane = fmt.Sprintf("%s:0.0", m.config.SessionName)
	return nil
}

// Cleanup kills the mirror session. Safe to call when it never existed.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.tmux.ListSessions()
	if err != nil {
		return nil
	}
	for _, s := range sessions {
		if s.Name == m.config.SessionName {
			if err := s.Kill(); err != nil {
				return fmt.Errorf("kill tmux session %q: %w", m.config.SessionName, err)
			}
			break
		}
	}
	m.pane = ""
	return nil
}

// command runs a raw tmux verb against the server. gotmux covers session
// lifecycle; scrollback and send-keys manipulation still go through the
// binary directly.
func (m *Manager) command(args ...string) (string, error) {
	out, err := exec.Command("tmux", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
