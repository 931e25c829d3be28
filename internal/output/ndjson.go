package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

// SchemaVersion mirrors domain.SchemaVersion for the records this package owns.
const SchemaVersion = domain.SchemaVersion

// ContractVersion versions the agent-facing stream contract: which record
// types exist, when ready and heartbeat fire, and how hints are to be read.
// Bump it when an agent driving an older stream would misbehave.
const ContractVersion = 1

// Stream record type tags owned by this package. Session event tags live in
// the domain package next to their records.
const (
	TypeReady      = "ready"
	TypeAgentHints = "agent_hints"
	TypeHeartbeat  = "heartbeat"
	TypeError      = "error"
	TypeProcess    = "process"
	TypeCutoff     = "cutoff_reached"
)

// Cutoff reasons.
const (
	CutoffMaxEvents   = "max_events"
	CutoffMaxDuration = "max_duration"
)

// NDJSONWriter serializes records as one JSON object per line. It is safe
// for concurrent use; the event loop and the heartbeat ticker share one.
type NDJSONWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewNDJSONWriter wraps w. Records are flushed line by line, never buffered,
// so agents reading the pipe see events as they happen.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{enc: json.NewEncoder(w)}
}

// Write emits any record as a single NDJSON line.
func (w *NDJSONWriter) Write(record any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(record)
}

// Ready is the stream preamble, emitted once the debug session is
// established and events are about to flow.
type Ready struct {
	Type            string            `json:"type"` // "ready"
	SchemaVersion   int               `json:"schemaVersion"`
	Timestamp       string            `json:"timestamp"`
	SessionID       string            `json:"session_id"`
	PID             int               `json:"pid"`
	Process         string            `json:"process"`
	Mode            domain.LaunchMode `json:"mode"`
	ContractVersion int               `json:"contract_version"`
}

func (w *NDJSONWriter) WriteReady(sess *domain.Session) error {
	return w.Write(&Ready{
		Type:            TypeReady,
		SchemaVersion:   SchemaVersion,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		SessionID:       sess.ID,
		PID:             sess.PID,
		Process:         sess.ProcessName,
		Mode:            sess.Mode,
		ContractVersion: ContractVersion,
	})
}

// AgentHints tells stream consumers how to drive the session without
// tripping over the state machine.
type AgentHints struct {
	Type             string   `json:"type"` // "agent_hints"
	SchemaVersion    int      `json:"schemaVersion"`
	SessionID        string   `json:"session_id"`
	ContractVersion  int      `json:"contract_version"`
	RecommendedScope string   `json:"recommended_scope"`
	Hints            []string `json:"hints"`
}

// DefaultHints is what attach and launch emit unless the caller overrides
// them.
var DefaultHints = []string{
	"inspect threads, frames, and variables only while state is paused",
	"issue one step or evaluation at a time and wait for its record",
	"breakpoints set before their module loads bind automatically once symbols arrive",
	"variable paths go stale on any resume; re-inspect after the next stop",
}

func (w *NDJSONWriter) WriteAgentHints(sessionID string, hints []string) error {
	if len(hints) == 0 {
		hints = DefaultHints
	}
	return w.Write(&AgentHints{
		Type:             TypeAgentHints,
		SchemaVersion:    SchemaVersion,
		SessionID:        sessionID,
		ContractVersion:  ContractVersion,
		RecommendedScope: "session_id + paused snapshots only",
		Hints:            hints,
	})
}

// Heartbeat is a liveness record for long sessions where the debuggee can
// run for minutes without producing an event.
type Heartbeat struct {
	Type            string                `json:"type"` // "heartbeat"
	SchemaVersion   int                   `json:"schemaVersion"`
	Timestamp       string                `json:"timestamp"`
	UptimeSeconds   int                   `json:"uptime_seconds"`
	EventsSinceLast int                   `json:"events_since_last"`
	SessionID       string                `json:"session_id"`
	State           domain.LifecycleState `json:"state"`
	ContractVersion int                   `json:"contract_version"`
}

func (w *NDJSONWriter) WriteHeartbeat(hb *Heartbeat) error {
	return w.Write(hb)
}

// Cutoff is the last record before a session is shut down because it hit a
// --max-events or --max-duration limit. Agents should treat it like a clean
// session_end and re-attach if they want more.
type Cutoff struct {
	Type          string `json:"type"` // "cutoff_reached"
	SchemaVersion int    `json:"schemaVersion"`
	Timestamp     string `json:"timestamp"`
	SessionID     string `json:"session_id"`
	Reason        string `json:"reason"` // "max_events" or "max_duration"
	Events        int    `json:"events"` // events emitted before the cutoff
}

func (w *NDJSONWriter) WriteCutoff(reason, sessionID string, events int) error {
	return w.Write(&Cutoff{
		Type:          TypeCutoff,
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		SessionID:     sessionID,
		Reason:        reason,
		Events:        events,
	})
}

// ErrorRecord reports a failed operation on the stream without tearing it
// down. Fatal errors are followed by a session_end record.
type ErrorRecord struct {
	Type          string `json:"type"` // "error"
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Op            string `json:"op,omitempty"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

func (w *NDJSONWriter) WriteError(code, op, message, hint string) error {
	return w.Write(&ErrorRecord{
		Type:          TypeError,
		SchemaVersion: SchemaVersion,
		Code:          code,
		Op:            op,
		Message:       message,
		Hint:          hint,
	})
}

// ProcessRow is one candidate debuggee in ps output, shared by the NDJSON
// and table renderings.
type ProcessRow struct {
	Type          string `json:"type,omitempty"` // "process" when streamed
	SchemaVersion int    `json:"schemaVersion,omitempty"`
	PID           int    `json:"pid"`
	PPID          int    `json:"ppid,omitempty"`
	Executable    string `json:"executable"`
	Runtime       string `json:"runtime,omitempty"` // runtime host hint, when detected
}

func (w *NDJSONWriter) WriteProcess(row ProcessRow) error {
	row.Type = TypeProcess
	row.SchemaVersion = SchemaVersion
	return w.Write(&row)
}
