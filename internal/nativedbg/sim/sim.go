// Package sim implements the nativedbg.Driver contract against a scripted
// in-process target instead of a live runtime. The engine's behavior
// (dispatch, continuation policy, stepping, evaluation) is identical over
// sim and over a real backend, which makes it the substrate for engine tests
// and for the doctor self-check.
//
// A Target scripts one managed process: a single entry function whose
// statements execute one per continue, plus an object graph built from plain
// Go values. Struct fields become debuggee fields (unexported ones too, read
// through reflect2), embedded structs become base classes, and registered
// closures become invokable methods.
package sim

import (
	"fmt"
	"sync"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// Target is a scripted debuggee. Build one with NewTarget, then hand it to
// NewDriver.
type Target struct {
	name    string
	pid     int
	version string

	entry   *Function
	callers []callerFrame
	modules []*moduleScript
	classes *classRegistry

	// launch handshake behavior
	runtimeNeverReady bool

	nextToken uint32
}

type callerFrame struct {
	method   string
	module   string
	internal bool
}

type moduleScript struct {
	name       string
	path       string
	hasSymbols bool
}

// Function is the scripted entry point. Statements occupy consecutive source
// lines; execution stops at the end unless Loop was requested.
type Function struct {
	target *Target

	name      string
	module    string
	token     uint32
	file      string
	startLine int
	count     int

	throws map[int]*thrownException // statement index -> exception
	logs   map[int]string
	prints map[int]string

	locals []slot
	args   []slot
	this   any

	loops bool
}

type slot struct {
	name string
	val  any
}

type thrownException struct {
	typeName  string
	message   string
	unhandled bool
}

// NewTarget scripts a managed process named name with a synthetic PID.
func NewTarget(name string) *Target {
	return &Target{
		name:      name,
		pid:       4200,
		version:   "v9.0.4",
		classes:   newClassRegistry(),
		nextToken: 0x06000001,
	}
}

// PID returns the synthetic process ID the target answers to.
func (t *Target) PID() int { return t.pid }

// SetPID overrides the synthetic PID.
func (t *Target) SetPID(pid int) *Target { t.pid = pid; return t }

// RuntimeVersion overrides the announced runtime version.
func (t *Target) RuntimeVersion(v string) *Target { t.version = v; return t }

// RuntimeNeverReady makes launched processes never announce runtime startup,
// for exercising the launch handshake timeout.
func (t *Target) RuntimeNeverReady() *Target { t.runtimeNeverReady = true; return t }

// Module scripts a loaded module. Symbol tables are generated from the
// functions scripted into it.
func (t *Target) Module(name string, hasSymbols bool) *Target {
	t.modules = append(t.modules, &moduleScript{
		name:       name,
		path:       "/opt/app/" + name,
		hasSymbols: hasSymbols,
	})
	return t
}

// Function scripts the entry function: count statements starting at startLine
// of file, inside the most recently added module.
func (t *Target) Function(name, file string, startLine, count int) *Function {
	if len(t.modules) == 0 {
		t.Module(t.name+".dll", true)
	}
	f := &Function{
		target:    t,
		name:      name,
		module:    t.modules[len(t.modules)-1].path,
		token:     t.nextToken,
		file:      file,
		startLine: startLine,
		count:     count,
		throws:    map[int]*thrownException{},
		logs:      map[int]string{},
		prints:    map[int]string{},
	}
	t.nextToken++
	t.entry = f
	return f
}

// Caller adds an outer backdrop frame below the entry function.
func (t *Target) Caller(method, module string, internal bool) *Target {
	t.callers = append(t.callers, callerFrame{method: method, module: module, internal: internal})
	return t
}

// Class registers a display type name for a Go type, using sample purely for
// its type. Field display names come from `sim` struct tags when present.
func (t *Target) Class(displayName string, sample any) *Target {
	t.classes.register(displayName, sample)
	return t
}

// Method registers an invokable method on a previously registered class.
// Getter-style members use the runtime naming convention, e.g. "get_Name".
func (t *Target) Method(className, methodName string, fn MethodFunc) *Target {
	t.classes.method(className, methodName, fn, false)
	return t
}

// ValueOf converts a Go value into a debuggee value handle using the
// target's class registry.
func (t *Target) ValueOf(v any) nativedbg.Value {
	return t.classes.valueOf(v)
}

// HangingMethod registers a method whose remote invocation never completes,
// for exercising the evaluation timeout and abort path.
func (t *Target) HangingMethod(className, methodName string) *Target {
	t.classes.method(className, methodName, nil, true)
	return t
}

// MethodFunc is the body of a scripted method. this and args arrive as the
// plain Go values behind the debuggee handles.
type MethodFunc func(this any, args []any) (any, error)

// RaisedException makes a MethodFunc fault the evaluation with a typed
// debuggee exception instead of a plain error.
type RaisedException struct {
	TypeName string
	Message  string
}

func (e *RaisedException) Error() string {
	return fmt.Sprintf("%s: %s", e.TypeName, e.Message)
}

// Local scripts a local variable of the entry function.
func (f *Function) Local(name string, val any) *Function {
	f.locals = append(f.locals, slot{name: name, val: val})
	return f
}

// Arg scripts an argument of the entry function.
func (f *Function) Arg(name string, val any) *Function {
	f.args = append(f.args, slot{name: name, val: val})
	return f
}

// This scripts the receiver of the entry function. Nil means a static frame.
func (f *Function) This(val any) *Function {
	f.this = val
	return f
}

// Throw makes the statement at the given source line raise an exception.
// Unhandled exceptions are delivered twice, first-chance then unhandled, the
// way the native interface reports them. At most one effect per line.
func (f *Function) Throw(line int, typeName, message string, unhandled bool) *Function {
	f.throws[f.claim(line)] = &thrownException{typeName: typeName, message: message, unhandled: unhandled}
	return f
}

// Log makes the statement at the given source line emit a runtime log event.
func (f *Function) Log(line int, message string) *Function {
	f.logs[f.claim(line)] = message
	return f
}

// Print makes the statement at the given source line write to the debuggee's
// stdout. Non-stopping.
func (f *Function) Print(line int, text string) *Function {
	f.prints[f.claim(line)] = text
	return f
}

// Loop makes execution spin forever after the last statement instead of
// exiting, so that pause-while-running paths can be exercised.
func (f *Function) Loop() *Function {
	f.loops = true
	return f
}

// Line returns the source line of the statement at index i.
func (f *Function) Line(i int) int { return f.startLine + i }

// File returns the source file the function's statements map to.
func (f *Function) File() string { return f.file }

// Token returns the function's method token.
func (f *Function) Token() uint32 { return f.token }

// OffsetOf returns the IL offset of the statement at the given source line.
func (f *Function) OffsetOf(line int) uint32 { return uint32(f.index(line)) * 4 }

// ModulePath returns the path of the module containing the function.
func (f *Function) ModulePath() string { return f.module }

func (f *Function) index(line int) int {
	i := line - f.startLine
	if i < 0 || i >= f.count {
		panic(fmt.Sprintf("sim: line %d outside %s (%d..%d)", line, f.name, f.startLine, f.startLine+f.count-1))
	}
	return i
}

func (f *Function) claim(line int) int {
	i := f.index(line)
	if _, ok := f.throws[i]; ok {
		panic(fmt.Sprintf("sim: line %d already has an effect", line))
	}
	if _, ok := f.logs[i]; ok {
		panic(fmt.Sprintf("sim: line %d already has an effect", line))
	}
	if _, ok := f.prints[i]; ok {
		panic(fmt.Sprintf("sim: line %d already has an effect", line))
	}
	return i
}

func (f *Function) locationAt(i int) *domain.SourceLocation {
	return &domain.SourceLocation{
		Module:      f.module,
		Method:      f.name,
		MethodToken: f.token,
		ILOffset:    uint32(i) * 4,
	}
}

func (t *Target) moduleInfos() []nativedbg.ModuleInfo {
	out := make([]nativedbg.ModuleInfo, 0, len(t.modules))
	for _, m := range t.modules {
		info := nativedbg.ModuleInfo{Path: m.path, Name: m.name, HasSymbols: m.hasSymbols}
		if m.hasSymbols && t.entry != nil && t.entry.module == m.path {
			table := &nativedbg.SymbolTable{}
			for i := 0; i < t.entry.count; i++ {
				table.Lines = append(table.Lines, nativedbg.LineEntry{
					MethodToken: t.entry.token,
					ILOffset:    uint32(i) * 4,
					File:        t.entry.file,
					Line:        t.entry.startLine + i,
				})
			}
			info.Symbols = table
		}
		out = append(out, info)
	}
	return out
}

// Driver implements nativedbg.Driver over one Target. A driver serves at
// most one attached process at a time.
type Driver struct {
	mu     sync.Mutex
	target *Target
	proc   *Process
}

// NewDriver wraps target in a driver.
func NewDriver(target *Target) *Driver {
	return &Driver{target: target}
}

// EnumerateRuntimes reports the target's runtime for its own PID and
// process-not-found for anything else.
func (d *Driver) EnumerateRuntimes(pid int) ([]nativedbg.RuntimeInstance, error) {
	if pid != d.target.pid {
		return nil, fmt.Errorf("pid %d: %w", pid, nativedbg.ErrProcessNotFound)
	}
	return []nativedbg.RuntimeInstance{{Version: d.target.version, Path: "/usr/share/runtime/" + d.target.version}}, nil
}

// Attach connects to the running target without suspending it.
func (d *Driver) Attach(pid int, rt nativedbg.RuntimeInstance, h nativedbg.EventHandler) (nativedbg.Process, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pid != d.target.pid {
		return nil, fmt.Errorf("pid %d: %w", pid, nativedbg.ErrProcessNotFound)
	}
	if d.proc != nil && !d.proc.gone() {
		return nil, fmt.Errorf("pid %d: already being debugged", pid)
	}
	p := newProcess(d.target, h, false)
	d.proc = p
	p.start()
	return p, nil
}

// LaunchSuspended scripts process creation with the initial thread held.
func (d *Driver) LaunchSuspended(spec nativedbg.LaunchSpec) (nativedbg.PendingProcess, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if spec.Executable == "" {
		return nil, fmt.Errorf("launch: empty executable")
	}
	if d.proc != nil && !d.proc.gone() {
		return nil, fmt.Errorf("launch: target already being debugged")
	}
	return &pending{driver: d, spec: spec}, nil
}

// Process returns the currently attached process, for test assertions.
func (d *Driver) Process() *Process {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.proc
}

// pending implements nativedbg.PendingProcess for the launch handshake.
type pending struct {
	driver *Driver
	spec   nativedbg.LaunchSpec

	mu       sync.Mutex
	cb       func(nativedbg.RuntimeInstance)
	resumed  bool
	killed   bool
	notified bool
}

func (p *pending) PID() int { return p.driver.target.pid }

func (p *pending) NotifyRuntimeStartup(cb func(nativedbg.RuntimeInstance)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumed {
		return nativedbg.ErrAlreadyResumed
	}
	p.cb = cb
	return nil
}

func (p *pending) Resume() error {
	p.mu.Lock()
	if p.resumed {
		p.mu.Unlock()
		return nativedbg.ErrAlreadyResumed
	}
	p.resumed = true
	cb := p.cb
	neverReady := p.driver.target.runtimeNeverReady
	p.mu.Unlock()

	if cb == nil || neverReady {
		return nil
	}
	rt := nativedbg.RuntimeInstance{Version: p.driver.target.version}
	go func() {
		p.mu.Lock()
		if p.killed {
			p.mu.Unlock()
			return
		}
		p.notified = true
		p.mu.Unlock()
		cb(rt)
	}()
	return nil
}

func (p *pending) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

// Killed reports whether the handshake gave up on this process.
func (p *pending) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *pending) Bind(rt nativedbg.RuntimeInstance, h nativedbg.EventHandler) (nativedbg.Process, error) {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return nil, nativedbg.ErrProcessExited
	}
	p.mu.Unlock()

	d := p.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	proc := newProcess(d.target, h, true)
	proc.stdout = p.spec.Stdout
	d.proc = proc
	proc.start()
	return proc, nil
}
