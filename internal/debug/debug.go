// Package debug is the session engine: it owns the one live debugging
// session, receives every native event on a single dispatch path, decides
// for each event whether the debuggee resumes or stays paused, and exposes
// the synchronous operation surface (attach, launch, continue, step, pause,
// disconnect, evaluate, inspect) that tools build on.
//
// Concurrency model: one lock guards the session and the evaluation slot;
// the wait hub carries its own lock. Native events arrive strictly
// serialized, and every delivered event leaves the debuggee suspended until
// the engine (or a caller) issues exactly one continue for it.
package debug

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/symbols"
	"github.com/mdbg-dev/mdbg/internal/value"
)

// Options tunes one engine instance. Zero values take defaults.
type Options struct {
	Logger   *zap.Logger
	Clock    clock.Clock
	Resolver symbols.Resolver // optional source-line resolution

	LaunchTimeout time.Duration // runtime-ready handshake bound
	EvalTimeout   time.Duration // per-evaluation bound
	StopTimeout   time.Duration // native stop-all-threads bound

	Value value.Options // formatting caps
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.LaunchTimeout <= 0 {
		o.LaunchTimeout = 15 * time.Second
	}
	if o.EvalTimeout <= 0 {
		o.EvalTimeout = 5 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 3 * time.Second
	}
	if o.Value == (value.Options{}) {
		o.Value = value.DefaultOptions()
	}
	return o
}

// Debugger drives at most one session at a time over a native backend.
type Debugger struct {
	log    *zap.Logger
	clock  clock.Clock
	driver nativedbg.Driver
	opts   Options

	hub  *waitHub
	subs *subscriberSet

	// mu guards everything below: the session state machine, the process
	// handle, the entry hold, the eval slot and the module table.
	mu   sync.Mutex
	sess *domain.Session
	proc nativedbg.Process

	// bootstrapping reserves the engine while an attach or launch is mid-
	// handshake, before a session exists to reject a second one.
	bootstrapping bool

	// stop-at-entry hold: armed by launch, cleared by the first explicit
	// continue. While armed, nothing auto-continues.
	entryHold bool

	pendingStep bool
	stepper     nativedbg.Stepper

	eval evalSlot

	modules map[string]nativedbg.ModuleInfo

	exitCode *int
}

// New builds an engine over driver. The engine starts Disconnected.
func New(driver nativedbg.Driver, opts Options) *Debugger {
	opts = opts.withDefaults()
	return &Debugger{
		log:     opts.Logger.Named("debug"),
		clock:   opts.Clock,
		driver:  driver,
		opts:    opts,
		hub:     newWaitHub(opts.Clock),
		subs:    &subscriberSet{},
		modules: map[string]nativedbg.ModuleInfo{},
	}
}

// Session returns a snapshot of the live session, or nil when disconnected.
func (d *Debugger) Session() *domain.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return nil
	}
	snap := *d.sess
	if d.sess.Location != nil {
		loc := *d.sess.Location
		snap.Location = &loc
	}
	return &snap
}

// ExitCode returns the debuggee's exit code once it has exited.
func (d *Debugger) ExitCode() *int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exitCode == nil {
		return nil
	}
	code := *d.exitCode
	return &code
}

// Modules returns the currently loaded modules in no particular order.
func (d *Debugger) Modules() []nativedbg.ModuleInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]nativedbg.ModuleInfo, 0, len(d.modules))
	for _, m := range d.modules {
		out = append(out, m)
	}
	return out
}

// FindModuleByPath looks up a loaded module by full path or basename.
func (d *Debugger) FindModuleByPath(path string) (nativedbg.ModuleInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.modules[path]; ok {
		return m, true
	}
	for _, m := range d.modules {
		if m.Name == path {
			return m, true
		}
	}
	return nativedbg.ModuleInfo{}, false
}

// SetBreakpointAt installs a native breakpoint at an exact code position.
// The breakpoint collaborator calls this once it has bound a source line to
// a method token and IL offset.
func (d *Debugger) SetBreakpointAt(modulePath string, methodToken, ilOffset uint32) (nativedbg.Breakpoint, error) {
	const op = "set_breakpoint"

	d.mu.Lock()
	p := d.proc
	st := d.stateLocked()
	d.mu.Unlock()
	if p == nil {
		return nil, wrongState(op, string(st), "Running or Paused")
	}
	bp, err := p.SetBreakpoint(modulePath, methodToken, ilOffset)
	if err != nil {
		return nil, wrapf(CodeNativeFailure, op, err, "set breakpoint %s %#x+%d", modulePath, methodToken, ilOffset)
	}
	return bp, nil
}

// state reads the lifecycle state without copying the whole session.
func (d *Debugger) state() domain.LifecycleState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked()
}

func (d *Debugger) stateLocked() domain.LifecycleState {
	if d.sess == nil {
		return domain.StateDisconnected
	}
	return d.sess.State
}
