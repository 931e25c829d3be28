package domain

import "time"

// SchemaVersion is bumped whenever the shape of any emitted record changes
// in a way agents need to know about.
const SchemaVersion = 1

// LifecycleState describes where a debug session is in its lifecycle.
// Legal transitions: disconnected -> running <-> paused -> disconnected.
type LifecycleState string

const (
	StateDisconnected LifecycleState = "disconnected"
	StateRunning      LifecycleState = "running"
	StatePaused       LifecycleState = "paused"
)

// PauseReason says why a paused session stopped. Empty unless State is paused.
type PauseReason string

const (
	PauseNone       PauseReason = ""
	PauseEntry      PauseReason = "entry"
	PauseBreakpoint PauseReason = "breakpoint"
	PauseStep       PauseReason = "step"
	PauseException  PauseReason = "exception"
	PauseRequested  PauseReason = "pause"
)

// LaunchMode records how the session was established.
type LaunchMode string

const (
	ModeAttach LaunchMode = "attach"
	ModeLaunch LaunchMode = "launch"
)

// StepKind selects the granularity of a step request.
type StepKind string

const (
	StepOver StepKind = "over"
	StepInto StepKind = "into"
	StepOut  StepKind = "out"
)

// ParseStepKind maps user input to a StepKind, defaulting to StepOver.
func ParseStepKind(s string) StepKind {
	switch s {
	case "into", "in", "i":
		return StepInto
	case "out", "o":
		return StepOut
	default:
		return StepOver
	}
}

// SourceLocation identifies a spot in debuggee code. Module/method/offset come
// from the native runtime; file and line are filled in by the symbol resolver
// when debug information is available.
type SourceLocation struct {
	Module      string `json:"module,omitempty"`
	Method      string `json:"method,omitempty"`
	MethodToken uint32 `json:"method_token,omitempty"`
	ILOffset    uint32 `json:"il_offset"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
}

// Session is the caller-visible snapshot of the single active debug session.
type Session struct {
	ID             string          `json:"id"`
	PID            int             `json:"pid"`
	ProcessName    string          `json:"process"`
	ExecutablePath string          `json:"executable,omitempty"`
	RuntimeVersion string          `json:"runtime_version,omitempty"`
	Mode           LaunchMode      `json:"mode"`
	State          LifecycleState  `json:"state"`
	PauseReason    PauseReason     `json:"pause_reason,omitempty"`
	Location       *SourceLocation `json:"location,omitempty"`
	ThreadID       int             `json:"thread_id,omitempty"`
	Args           []string        `json:"args,omitempty"`
	Cwd            string          `json:"cwd,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
}

// Paused reports whether the session is stopped and inspectable.
func (s *Session) Paused() bool { return s != nil && s.State == StatePaused }

// Live reports whether the session is connected to a debuggee.
func (s *Session) Live() bool {
	return s != nil && (s.State == StateRunning || s.State == StatePaused)
}
