package output

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

// TextWriter renders stream records as human-readable lines, one per record.
// Heartbeats and agent hints are dropped; they exist for machine consumers.
type TextWriter struct {
	w io.Writer
}

// NewTextWriter wraps w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// Write renders a record, prefixed with the local arrival time.
func (t *TextWriter) Write(record any) error {
	line, ok := Format(record)
	if !ok {
		return nil
	}
	_, err := fmt.Fprintf(t.w, "%s %s\n", time.Now().Format("15:04:05"), line)
	return err
}

// Format builds the text rendering of a record without a timestamp prefix,
// so the TUI and the tmux mirror can reuse it with their own framing. The
// second return is false for records that have no text form.
func Format(record any) (string, bool) {
	switch rec := record.(type) {
	case *Ready:
		return fmt.Sprintf("ready: %s (pid %d, %s) session %s", rec.Process, rec.PID, rec.Mode, rec.SessionID), true
	case *domain.SessionStart:
		entry := ""
		if rec.StopAtEntry {
			entry = ", held at entry"
		}
		return fmt.Sprintf("session started: %s (pid %d, %s%s)", rec.Process, rec.PID, rec.Mode, entry), true
	case *domain.SessionEnd:
		return formatSessionEnd(rec), true
	case *domain.StateChange:
		return formatStateChange(rec), true
	case *domain.BreakpointHit:
		loc := locationOf(rec.Location)
		hits := ""
		if rec.HitCount > 1 {
			hits = fmt.Sprintf(", hit %d", rec.HitCount)
		}
		return fmt.Sprintf("breakpoint #%d at %s [thread %d%s]", rec.BreakpointID, loc, rec.ThreadID, hits), true
	case *AnnotatedException:
		line := formatException(&rec.ExceptionHit)
		if rec.Known {
			line += fmt.Sprintf(" (seen %d times)", rec.Occurrences)
		}
		return line, true
	case *domain.ExceptionHit:
		return formatException(rec), true
	case *domain.StepCompleted:
		step := "step"
		if rec.Kind != "" {
			step += " " + string(rec.Kind)
		}
		return fmt.Sprintf("%s complete at %s [thread %d]", step, locationOf(rec.Location), rec.ThreadID), true
	case *domain.ModuleEvent:
		verb := "loaded"
		if rec.Type == domain.TypeModuleUnload {
			verb = "unloaded"
		}
		symbols := ""
		if rec.HasSymbols {
			symbols = " (symbols)"
		}
		return fmt.Sprintf("module %s: %s%s", verb, rec.Name, symbols), true
	case *domain.ProcessOutput:
		return fmt.Sprintf("%s| %s", rec.Stream, rec.Text), true
	case *ErrorRecord:
		line := fmt.Sprintf("error [%s]: %s", rec.Code, rec.Message)
		if rec.Hint != "" {
			line += " (hint: " + rec.Hint + ")"
		}
		return line, true
	case *Cutoff:
		return fmt.Sprintf("cutoff reached (%s) after %d events", rec.Reason, rec.Events), true
	case *AgentHints, *Heartbeat:
		return "", false
	}
	return "", false
}

func formatStateChange(rec *domain.StateChange) string {
	switch rec.To {
	case domain.StatePaused:
		line := fmt.Sprintf("paused (%s)", rec.Reason)
		if loc := locationOf(rec.Location); loc != "" {
			line += " at " + loc
		}
		if rec.ThreadID != 0 {
			line += fmt.Sprintf(" [thread %d]", rec.ThreadID)
		}
		return line
	case domain.StateRunning:
		return "running"
	default:
		return string(rec.To)
	}
}

func formatException(rec *domain.ExceptionHit) string {
	chance := "first-chance"
	if rec.Unhandled {
		chance = "unhandled"
	}
	line := fmt.Sprintf("exception %s", rec.ExceptionType)
	if rec.Message != "" {
		line += ": " + rec.Message
	}
	line += fmt.Sprintf(" (%s)", chance)
	if loc := locationOf(rec.Location); loc != "" {
		line += " at " + loc
	}
	return line
}

func formatSessionEnd(rec *domain.SessionEnd) string {
	line := fmt.Sprintf("session ended: %s", rec.Reason)
	if rec.ExitCode != nil {
		line += fmt.Sprintf(" (code %d)", *rec.ExitCode)
	}
	line += fmt.Sprintf(" after %s", (time.Duration(rec.DurationSecs) * time.Second).String())
	if s := rec.Summary; s != nil {
		parts := []string{}
		if s.BreakpointHits > 0 {
			parts = append(parts, fmt.Sprintf("%d breakpoint hits", s.BreakpointHits))
		}
		if s.Exceptions > 0 {
			parts = append(parts, fmt.Sprintf("%d exceptions", s.Exceptions))
		}
		if s.OutputLines > 0 {
			parts = append(parts, fmt.Sprintf("%d output lines", s.OutputLines))
		}
		if len(parts) > 0 {
			line += " (" + strings.Join(parts, ", ") + ")"
		}
	}
	return line
}

// locationOf renders a source location the way humans read one: file:line
// when symbols resolved it, otherwise method and module.
func locationOf(loc *domain.SourceLocation) string {
	if loc == nil {
		return ""
	}
	if s := sourceOf(loc); s != "" {
		return s
	}
	if loc.Method != "" {
		return loc.Method
	}
	if loc.Module != "" {
		return filepath.Base(loc.Module)
	}
	return ""
}
