package nativedbg

import "github.com/mdbg-dev/mdbg/internal/domain"

// EventKind tags the variants of Event.
type EventKind int

const (
	EventProcessCreated EventKind = iota
	EventAppDomainCreated
	EventAppDomainExited
	EventModuleLoaded
	EventModuleUnloaded
	EventBreakpointHit
	EventException
	EventStepComplete
	EventManualBreak
	EventProcessExited
	EventEvalComplete
	EventEvalException
	EventLogMessage
	EventNameChanged
	EventSymbolsUpdated
	EventThreadCreated
	EventThreadExited
)

var eventKindNames = map[EventKind]string{
	EventProcessCreated:   "process_created",
	EventAppDomainCreated: "appdomain_created",
	EventAppDomainExited:  "appdomain_exited",
	EventModuleLoaded:     "module_loaded",
	EventModuleUnloaded:   "module_unloaded",
	EventBreakpointHit:    "breakpoint_hit",
	EventException:        "exception",
	EventStepComplete:     "step_complete",
	EventManualBreak:      "manual_break",
	EventProcessExited:    "process_exited",
	EventEvalComplete:     "eval_complete",
	EventEvalException:    "eval_exception",
	EventLogMessage:       "log_message",
	EventNameChanged:      "name_changed",
	EventSymbolsUpdated:   "symbols_updated",
	EventThreadCreated:    "thread_created",
	EventThreadExited:     "thread_exited",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ExceptionInfo describes a thrown debuggee exception.
type ExceptionInfo struct {
	TypeName    string
	Message     string
	FirstChance bool
	Unhandled   bool
}

// Event is the tagged union delivered to EventHandlers. Kind selects which
// payload fields are meaningful; the rest stay zero. Location carries only
// native positions (module, token, offset); file and line are resolved later.
// Every delivery suspends the debuggee; the handler side owes exactly one
// Continue unless it deliberately leaves the process paused.
type Event struct {
	Kind      EventKind
	ThreadID  int
	AppDomain string
	Module    *ModuleInfo
	Location  *domain.SourceLocation
	Exception *ExceptionInfo
	EvalID    string
	Result    Value
	Message   string
	ExitCode  int
}
