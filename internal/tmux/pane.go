package tmux

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

// ClearPane wipes the pane and its scrollback so a new session starts from a
// clean screen.
func (m *Manager) ClearPane() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pane == "" {
		return ErrNoPaneAvailable
	}
	for _, verb := range [][]string{
		{"send-keys", "-t", m.pane, "-R"},
		{"clear-history", "-t", m.pane},
		{"send-keys", "-t", m.pane, "clear", "Enter"},
	} {
		if _, err := m.command(verb...); err != nil {
			return err
		}
	}
	return nil
}

// ClearPaneWithBanner clears the pane and stamps it with a session marker.
func (m *Manager) ClearPaneWithBanner(message string) error {
	if err := m.ClearPane(); err != nil {
		return err
	}
	banner := fmt.Sprintf(
		"═══════════════════════════════════════════════════════════\n"+
			"  mdbg - %s\n"+
			"  Session: %s | Started: %s\n"+
			"═══════════════════════════════════════════════════════════",
		message,
		m.config.SessionName,
		time.Now().Format("2006-01-02 15:04:05"),
	)
	return m.WriteLines(strings.Split(banner, "\n"))
}

// WriteSessionBanner marks the start of a debug session in the pane. When the
// same pane is reused across sessions, the previous session's summary rides
// along so the boundary is visible in scrollback.
func (m *Manager) WriteSessionBanner(sessionID, process string, pid int, prev *domain.SessionSummary) error {
	prevInfo := ""
	if prev != nil {
		prevInfo = fmt.Sprintf("Previous: %d stops, %d breakpoint hits, %d exceptions | ",
			prev.Stops, prev.BreakpointHits, prev.Exceptions)
	}
	banner := fmt.Sprintf(
		"\n══════════════════════════════════════════════════════════════\n"+
			"  SESSION %s: %s (PID: %d)\n"+
			"  %s%s\n"+
			"══════════════════════════════════════════════════════════════",
		sessionID,
		process,
		pid,
		prevInfo,
		time.Now().Format("2006-01-02 15:04:05"),
	)
	return m.WriteLines(strings.Split(banner, "\n"))
}

// WriteLine echoes one line into the pane.
func (m *Manager) WriteLine(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pane == "" {
		return ErrNoPaneAvailable
	}
	_, err := m.command("send-keys", "-t", m.pane, fmt.Sprintf("echo '%s'", escapeTmuxString(line)), "Enter")
	return err
}

// WriteLines writes lines in order, stopping at the first failure.
func (m *Manager) WriteLines(lines []string) error {
	for _, line := range lines {
		if err := m.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}

// escapeTmuxString makes a line safe inside the single-quoted echo that
// send-keys executes.
func escapeTmuxString(s string) string {
	s = strings.ReplaceAll(s, "'", "'\"'\"'")
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return s
}

// Writer adapts the pane into an io.Writer so the text renderer can target
// it directly. Partial lines are held until their newline arrives.
type Writer struct {
	manager *Manager
	pending strings.Builder
}

// NewWriter wraps manager for line-buffered writes.
func NewWriter(manager *Manager) *Writer {
	return &Writer{manager: manager}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.pending.Write(p)

	for {
		content := w.pending.String()
		idx := strings.IndexByte(content, '\n')
		if idx < 0 {
			break
		}
		line := content[:idx]
		w.pending.Reset()
		w.pending.WriteString(content[idx+1:])
		if line == "" {
			continue
		}
		if err := w.manager.WriteLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes whatever partial line is still buffered.
func (w *Writer) Flush() error {
	if w.pending.Len() == 0 {
		return nil
	}
	line := w.pending.String()
	w.pending.Reset()
	return w.manager.WriteLine(line)
}

var _ io.Writer = (*Writer)(nil)
