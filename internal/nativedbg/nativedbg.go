// Package nativedbg defines the boundary between the debug engine and the
// native debugging interface of a managed runtime. Drivers deliver callbacks
// strictly serialized on a single dispatch goroutine per process; after every
// stopping event the debuggee stays suspended until Continue is called
// exactly once.
package nativedbg

import (
	"errors"
	"io"
	"time"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrNoRuntime       = errors.New("no managed runtime loaded in target")
	ErrThreadNotFound  = errors.New("thread not found")
	ErrFrameNotFound   = errors.New("frame not found")
	ErrFieldNotFound   = errors.New("field not found")
	ErrMethodNotFound  = errors.New("method not found")
	ErrProcessExited   = errors.New("process has exited")
	ErrNotSuspended    = errors.New("process is not suspended")
	ErrAlreadyResumed  = errors.New("pending process already resumed")
	ErrUnsupported     = errors.New("not supported on this platform")
)

// EventHandler receives debug events. Handlers run on the driver's dispatch
// goroutine; the debuggee stays suspended for stopping events until the
// handler (or someone after it) calls Process.Continue.
type EventHandler func(Event)

// RuntimeInstance identifies one managed runtime loaded in a target process.
type RuntimeInstance struct {
	Version string
	Path    string
}

// LaunchSpec describes a process to create suspended.
type LaunchSpec struct {
	Executable string
	Args       []string
	Dir        string
	Env        []string
	Stdout     io.Writer // debuggee output sinks; nil discards
	Stderr     io.Writer
}

// ModuleInfo describes a loaded module. Symbols is populated when the runtime
// hands debug information over inline; file-based symbol stores leave it nil.
type ModuleInfo struct {
	Path       string
	Name       string
	HasSymbols bool
	Symbols    *SymbolTable
}

// SymbolTable is an in-memory sequence-point table for one module.
type SymbolTable struct {
	Lines []LineEntry
}

// LineEntry maps one IL range start to a source position.
type LineEntry struct {
	MethodToken uint32
	ILOffset    uint32
	File        string
	Line        int
}

// Driver is the entry point to a native debugging backend.
type Driver interface {
	// EnumerateRuntimes lists managed runtimes loaded in the target, newest
	// first. An empty slice with nil error means the process exists but
	// hosts no runtime.
	EnumerateRuntimes(pid int) ([]RuntimeInstance, error)

	// Attach connects to a running process without suspending it. The
	// returned Process is live immediately; events begin flowing to h.
	Attach(pid int, rt RuntimeInstance, h EventHandler) (Process, error)

	// LaunchSuspended creates the debuggee with its initial thread held.
	// The runtime inside it has not started; callers must register the
	// startup notification before resuming.
	LaunchSuspended(spec LaunchSpec) (PendingProcess, error)
}

// PendingProcess is a created-but-suspended debuggee during the launch
// handshake.
type PendingProcess interface {
	PID() int

	// NotifyRuntimeStartup registers a one-shot callback fired when the
	// managed runtime inside the process finishes initializing. Must be
	// called before Resume.
	NotifyRuntimeStartup(cb func(RuntimeInstance)) error

	// Resume releases the held initial thread.
	Resume() error

	// Kill destroys the pending process. Used when the runtime never
	// announces itself within the handshake deadline.
	Kill() error

	// Bind starts debugging the announced runtime. Installing the handler
	// triggers the ProcessCreated event as the first delivery.
	Bind(rt RuntimeInstance, h EventHandler) (Process, error)
}

// Process is an attached debuggee.
type Process interface {
	PID() int
	Name() string

	// Continue resumes after a stopping event. One continue per stop.
	Continue() error

	// Stop suspends the running debuggee synchronously.
	Stop(timeout time.Duration) error

	// Detach disconnects leaving the process running.
	Detach() error

	// Terminate kills the debuggee.
	Terminate() error

	Threads() ([]Thread, error)
	Thread(id int) (Thread, error)
	Modules() ([]ModuleInfo, error)

	// SetBreakpoint places an IL breakpoint. The module must be loaded.
	SetBreakpoint(modulePath string, methodToken, ilOffset uint32) (Breakpoint, error)

	// NewEval prepares a remote evaluation on the given thread. The thread
	// must be stopped at a safe point.
	NewEval(threadID int) (Eval, error)
}

// Breakpoint is a set IL breakpoint.
type Breakpoint interface {
	Activate(on bool) error
	Remove() error
}

// Thread is one managed thread of the debuggee.
type Thread interface {
	ID() int
	Name() string

	// Frames walks the call stack, innermost first, up to max entries.
	Frames(max int) ([]Frame, error)

	// NewStepper creates a stepper anchored at the thread's current frame.
	NewStepper() (Stepper, error)
}

// Stepper issues step requests. Completion arrives as a StepComplete event.
type Stepper interface {
	Step(kind domain.StepKind) error
	Deactivate() error
}

// NamedValue pairs a slot name with its current value.
type NamedValue struct {
	Name  string
	Value Value
}

// Frame is one stack frame of a suspended thread. Values read from a frame
// are only valid until the next resume.
type Frame interface {
	Location() domain.SourceLocation
	Internal() bool

	Locals() ([]NamedValue, error)
	Arguments() ([]NamedValue, error)

	// This returns the receiver, or nil for static frames.
	This() (Value, error)
}

// Eval is one prepared remote evaluation. The debuggee must be resumed after
// CallMethod for the call to make progress; completion is delivered as an
// EvalComplete or EvalException event carrying the Eval's ID.
type Eval interface {
	ID() string
	CallMethod(m Method, this Value, args []Value) error
	Abort() error
}
