package domain

import "time"

// Event record type tags as they appear on the wire.
const (
	TypeSessionStart  = "session_start"
	TypeSessionEnd    = "session_end"
	TypeStateChange   = "state_change"
	TypeBreakpointHit = "breakpoint_hit"
	TypeException     = "exception"
	TypeStepComplete  = "step_complete"
	TypeModuleLoad    = "module_load"
	TypeModuleUnload  = "module_unload"
	TypeProcessOutput = "process_output"
)

// SessionStart is emitted once when a debug session is established.
type SessionStart struct {
	Type           string     `json:"type"` // "session_start"
	SchemaVersion  int        `json:"schemaVersion"`
	SessionID      string     `json:"session_id"`
	PID            int        `json:"pid"`
	Process        string     `json:"process"`
	Mode           LaunchMode `json:"mode"`
	RuntimeVersion string     `json:"runtime_version,omitempty"`
	StopAtEntry    bool       `json:"stop_at_entry,omitempty"`
	Timestamp      string     `json:"timestamp"` // ISO8601
}

// SessionEnd is emitted once when the session reaches disconnected.
type SessionEnd struct {
	Type          string          `json:"type"` // "session_end"
	SchemaVersion int             `json:"schemaVersion"`
	SessionID     string          `json:"session_id"`
	PID           int             `json:"pid"`
	Reason        string          `json:"reason"` // detached, terminated, exited, error
	ExitCode      *int            `json:"exit_code,omitempty"`
	DurationSecs  int             `json:"duration_seconds"`
	Summary       *SessionSummary `json:"summary,omitempty"`
}

// SessionSummary aggregates what happened over a session's lifetime.
type SessionSummary struct {
	Stops          int `json:"stops"`
	BreakpointHits int `json:"breakpoint_hits"`
	Exceptions     int `json:"exceptions"`
	Unhandled      int `json:"unhandled_exceptions"`
	Steps          int `json:"steps"`
	ModuleLoads    int `json:"module_loads"`
	OutputLines    int `json:"output_lines"`
}

// StateChange is emitted on every lifecycle transition.
type StateChange struct {
	Type          string          `json:"type"` // "state_change"
	SchemaVersion int             `json:"schemaVersion"`
	From          LifecycleState  `json:"from"`
	To            LifecycleState  `json:"to"`
	Reason        PauseReason     `json:"reason,omitempty"`
	ThreadID      int             `json:"thread_id,omitempty"`
	Location      *SourceLocation `json:"location,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

// BreakpointHit is emitted when the debuggee stops on a registered breakpoint.
type BreakpointHit struct {
	Type          string          `json:"type"` // "breakpoint_hit"
	SchemaVersion int             `json:"schemaVersion"`
	BreakpointID  int             `json:"breakpoint_id,omitempty"`
	ThreadID      int             `json:"thread_id"`
	HitCount      int             `json:"hit_count,omitempty"`
	Location      *SourceLocation `json:"location,omitempty"`
}

// ExceptionHit is emitted for both first-chance and unhandled exceptions.
type ExceptionHit struct {
	Type          string          `json:"type"` // "exception"
	SchemaVersion int             `json:"schemaVersion"`
	ExceptionType string          `json:"exception_type"`
	Message       string          `json:"message,omitempty"`
	FirstChance   bool            `json:"first_chance"`
	Unhandled     bool            `json:"unhandled"`
	ThreadID      int             `json:"thread_id"`
	Location      *SourceLocation `json:"location,omitempty"`
}

// StepCompleted is emitted when a step request finishes.
type StepCompleted struct {
	Type          string          `json:"type"` // "step_complete"
	SchemaVersion int             `json:"schemaVersion"`
	Kind          StepKind        `json:"kind"`
	ThreadID      int             `json:"thread_id"`
	Location      *SourceLocation `json:"location,omitempty"`
}

// ModuleEvent is emitted when the runtime loads or unloads a module.
type ModuleEvent struct {
	Type          string `json:"type"` // "module_load" / "module_unload"
	SchemaVersion int    `json:"schemaVersion"`
	Path          string `json:"path"`
	Name          string `json:"name"`
	HasSymbols    bool   `json:"has_symbols"`
}

// ProcessOutput carries a line of debuggee stdout/stderr (launch mode only).
type ProcessOutput struct {
	Type          string `json:"type"` // "process_output"
	SchemaVersion int    `json:"schemaVersion"`
	Stream        string `json:"stream"` // stdout or stderr
	Text          string `json:"text"`
}

func NewSessionStart(sess *Session, stopAtEntry bool) *SessionStart {
	return &SessionStart{
		Type:           TypeSessionStart,
		SchemaVersion:  SchemaVersion,
		SessionID:      sess.ID,
		PID:            sess.PID,
		Process:        sess.ProcessName,
		Mode:           sess.Mode,
		RuntimeVersion: sess.RuntimeVersion,
		StopAtEntry:    stopAtEntry,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}

func NewSessionEnd(sess *Session, reason string, exitCode *int) *SessionEnd {
	dur := 0
	if !sess.StartedAt.IsZero() {
		dur = int(time.Since(sess.StartedAt).Seconds())
	}
	return &SessionEnd{
		Type:          TypeSessionEnd,
		SchemaVersion: SchemaVersion,
		SessionID:     sess.ID,
		PID:           sess.PID,
		Reason:        reason,
		ExitCode:      exitCode,
		DurationSecs:  dur,
	}
}

func NewStateChange(from, to LifecycleState, reason PauseReason, threadID int, loc *SourceLocation) *StateChange {
	return &StateChange{
		Type:          TypeStateChange,
		SchemaVersion: SchemaVersion,
		From:          from,
		To:            to,
		Reason:        reason,
		ThreadID:      threadID,
		Location:      loc,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}
