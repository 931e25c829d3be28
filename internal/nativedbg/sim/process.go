package sim

import (
	"fmt"
	"io"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

const mainThreadID = 1

type bpKey struct {
	token  uint32
	offset uint32
}

type breakpoint struct {
	p      *Process
	key    bpKey
	active bool
}

type evalRequest struct {
	id       string
	threadID int
	fn       MethodFunc
	hang     bool
	this     any
	args     []any
}

// Process implements nativedbg.Process over the scripted target. One
// goroutine owns execution and event delivery; every stopping event suspends
// the script until Continue.
type Process struct {
	target  *Target
	handler nativedbg.EventHandler
	stdout  io.Writer

	mu   sync.Mutex
	cond *sync.Cond

	suspended bool
	dead      bool
	exitSent  bool

	pc        int
	excPhase  int // 0 none, 1 first-chance delivered, 2 unhandled delivered
	excAt     int
	stepArmed bool

	evalReq  *evalRequest
	evalHung bool

	boot      []nativedbg.Event
	bps       map[bpKey]*breakpoint
	continues int

	launched bool
}

func newProcess(t *Target, h nativedbg.EventHandler, launched bool) *Process {
	p := &Process{
		target:   t,
		handler:  h,
		pc:       -1,
		bps:      map[bpKey]*breakpoint{},
		launched: launched,
	}
	p.cond = sync.NewCond(&p.mu)
	p.boot = append(p.boot,
		nativedbg.Event{Kind: nativedbg.EventProcessCreated, ThreadID: mainThreadID},
		nativedbg.Event{Kind: nativedbg.EventAppDomainCreated, ThreadID: mainThreadID, AppDomain: "DefaultDomain"},
		nativedbg.Event{Kind: nativedbg.EventThreadCreated, ThreadID: mainThreadID},
	)
	for _, m := range t.moduleInfos() {
		mod := m
		p.boot = append(p.boot, nativedbg.Event{Kind: nativedbg.EventModuleLoaded, ThreadID: mainThreadID, Module: &mod})
	}
	return p
}

func (p *Process) start() {
	go p.run()
}

func (p *Process) run() {
	p.mu.Lock()
	for {
		for p.suspended && !p.dead {
			p.cond.Wait()
		}
		if p.dead {
			break
		}
		ev := p.advanceLocked()
		if ev == nil {
			// free-running: a looping script or a hung remote call
			for !p.suspended && !p.dead && len(p.boot) == 0 {
				p.cond.Wait()
			}
			continue
		}
		p.suspended = true
		h := p.handler
		e := *ev
		p.mu.Unlock()
		h(e)
		p.mu.Lock()
	}
	p.mu.Unlock()
}

// advanceLocked executes script until the next event. Nil means the script
// runs without stopping.
func (p *Process) advanceLocked() *nativedbg.Event {
	if len(p.boot) > 0 {
		ev := p.boot[0]
		p.boot = p.boot[1:]
		return &ev
	}

	if req := p.evalReq; req != nil {
		if req.hang {
			p.evalHung = true
			return nil
		}
		p.evalReq = nil
		res, err := req.fn(req.this, req.args)
		if err != nil {
			return &nativedbg.Event{
				Kind:      nativedbg.EventEvalException,
				ThreadID:  req.threadID,
				EvalID:    req.id,
				Exception: toExceptionInfo(err),
			}
		}
		return &nativedbg.Event{
			Kind:     nativedbg.EventEvalComplete,
			ThreadID: req.threadID,
			EvalID:   req.id,
			Result:   p.valueOf(res),
		}
	}

	f := p.target.entry
	if f == nil {
		return p.exitEventLocked(0)
	}

	switch p.excPhase {
	case 1:
		exc := f.throws[p.excAt]
		if exc != nil && exc.unhandled {
			p.excPhase = 2
			return &nativedbg.Event{
				Kind:     nativedbg.EventException,
				ThreadID: mainThreadID,
				Location: f.locationAt(p.excAt),
				Exception: &nativedbg.ExceptionInfo{
					TypeName: exc.typeName, Message: exc.message, Unhandled: true,
				},
			}
		}
		p.excPhase = 0 // caught; execution proceeds past the throw
	case 2:
		// Continuing an unhandled exception tears the process down.
		return p.exitEventLocked(134)
	}

	if p.stepArmed {
		p.stepArmed = false
		next := p.pc + 1
		if next >= f.count {
			return p.exitEventLocked(0)
		}
		p.pc = next
		return &nativedbg.Event{
			Kind:     nativedbg.EventStepComplete,
			ThreadID: mainThreadID,
			Location: f.locationAt(next),
		}
	}

	for next := p.pc + 1; next < f.count; next++ {
		if txt, ok := f.prints[next]; ok && p.stdout != nil {
			fmt.Fprintln(p.stdout, txt)
		}
		if msg, ok := f.logs[next]; ok {
			p.pc = next
			return &nativedbg.Event{
				Kind:     nativedbg.EventLogMessage,
				ThreadID: mainThreadID,
				Message:  msg,
				Location: f.locationAt(next),
			}
		}
		if exc, ok := f.throws[next]; ok {
			p.pc = next
			p.excPhase = 1
			p.excAt = next
			return &nativedbg.Event{
				Kind:     nativedbg.EventException,
				ThreadID: mainThreadID,
				Location: f.locationAt(next),
				Exception: &nativedbg.ExceptionInfo{
					TypeName: exc.typeName, Message: exc.message, FirstChance: true,
				},
			}
		}
		if bp, ok := p.bps[bpKey{token: f.token, offset: uint32(next) * 4}]; ok && bp.active {
			p.pc = next
			return &nativedbg.Event{
				Kind:     nativedbg.EventBreakpointHit,
				ThreadID: mainThreadID,
				Location: f.locationAt(next),
			}
		}
	}

	if f.loops {
		p.pc = f.count - 1
		return nil
	}
	return p.exitEventLocked(0)
}

func (p *Process) exitEventLocked(code int) *nativedbg.Event {
	p.exitSent = true
	return &nativedbg.Event{Kind: nativedbg.EventProcessExited, ThreadID: mainThreadID, ExitCode: code}
}

func (p *Process) PID() int { return p.target.pid }

func (p *Process) Name() string { return p.target.name }

func (p *Process) Continue() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return nativedbg.ErrProcessExited
	}
	p.continues++
	if p.exitSent {
		// final release after the exit event
		p.exitSent = false
		p.dead = true
		p.cond.Broadcast()
		return nil
	}
	if !p.suspended {
		return nativedbg.ErrNotSuspended
	}
	p.suspended = false
	p.cond.Broadcast()
	return nil
}

func (p *Process) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead || p.exitSent {
		return nativedbg.ErrProcessExited
	}
	if !p.suspended {
		p.suspended = true
		p.cond.Broadcast()
	}
	return nil
}

func (p *Process) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
	p.cond.Broadcast()
	return nil
}

func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
	p.cond.Broadcast()
	return nil
}

func (p *Process) Threads() ([]nativedbg.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return nil, nativedbg.ErrProcessExited
	}
	return []nativedbg.Thread{&thread{p: p, id: mainThreadID, name: "Main"}}, nil
}

func (p *Process) Thread(id int) (nativedbg.Thread, error) {
	if id != mainThreadID {
		return nil, fmt.Errorf("thread %d: %w", id, nativedbg.ErrThreadNotFound)
	}
	return &thread{p: p, id: id, name: "Main"}, nil
}

func (p *Process) Modules() ([]nativedbg.ModuleInfo, error) {
	return p.target.moduleInfos(), nil
}

func (p *Process) SetBreakpoint(modulePath string, methodToken, ilOffset uint32) (nativedbg.Breakpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return nil, nativedbg.ErrProcessExited
	}
	found := false
	for _, m := range p.target.modules {
		if m.path == modulePath {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("module %q not loaded", modulePath)
	}
	key := bpKey{token: methodToken, offset: ilOffset}
	bp := &breakpoint{p: p, key: key, active: true}
	p.bps[key] = bp
	return bp, nil
}

func (b *breakpoint) Activate(on bool) error {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	b.active = on
	return nil
}

func (b *breakpoint) Remove() error {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	delete(b.p.bps, b.key)
	return nil
}

func (p *Process) NewEval(threadID int) (nativedbg.Eval, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return nil, nativedbg.ErrProcessExited
	}
	if !p.suspended {
		return nil, nativedbg.ErrNotSuspended
	}
	if threadID != mainThreadID {
		return nil, fmt.Errorf("thread %d: %w", threadID, nativedbg.ErrThreadNotFound)
	}
	return &eval{p: p, id: uuid.NewV4().String(), threadID: threadID}, nil
}

type eval struct {
	p        *Process
	id       string
	threadID int
}

func (e *eval) ID() string { return e.id }

func (e *eval) CallMethod(m nativedbg.Method, this nativedbg.Value, args []nativedbg.Value) error {
	mm, ok := m.(*methodMeta)
	if !ok {
		return fmt.Errorf("method %q: %w", m.Name(), nativedbg.ErrMethodNotFound)
	}
	goArgs := make([]any, 0, len(args))
	for _, a := range args {
		goArgs = append(goArgs, GoValue(a))
	}

	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.evalReq != nil || e.p.evalHung {
		return fmt.Errorf("evaluation already in flight")
	}
	e.p.evalReq = &evalRequest{
		id:       e.id,
		threadID: e.threadID,
		fn:       mm.fn,
		hang:     mm.hang,
		this:     GoValue(this),
		args:     goArgs,
	}
	return nil
}

func (e *eval) Abort() error {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.evalHung || e.p.evalReq != nil {
		e.p.evalHung = false
		e.p.evalReq = nil
		e.p.suspended = true
		e.p.cond.Broadcast()
	}
	return nil
}

// Inject schedules an arbitrary event for delivery at the next scheduling
// point. Test hook for event kinds the script does not produce naturally.
func (p *Process) Inject(ev nativedbg.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boot = append(p.boot, ev)
	p.cond.Broadcast()
}

// Continues reports how many times Continue succeeded, for asserting the
// one-continue-per-event contract.
func (p *Process) Continues() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.continues
}

// Suspended reports whether the script is currently held.
func (p *Process) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

func (p *Process) gone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dead
}

func toExceptionInfo(err error) *nativedbg.ExceptionInfo {
	if rex, ok := err.(*RaisedException); ok {
		return &nativedbg.ExceptionInfo{TypeName: rex.TypeName, Message: rex.Message}
	}
	return &nativedbg.ExceptionInfo{TypeName: "System.Exception", Message: err.Error()}
}

type thread struct {
	p    *Process
	id   int
	name string
}

func (t *thread) ID() int { return t.id }

func (t *thread) Name() string { return t.name }

func (t *thread) Frames(max int) ([]nativedbg.Frame, error) {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	if t.p.dead {
		return nil, nativedbg.ErrProcessExited
	}
	if !t.p.suspended {
		return nil, nativedbg.ErrNotSuspended
	}
	f := t.p.target.entry
	if f == nil {
		return nil, nil
	}
	frames := []nativedbg.Frame{&frame{p: t.p, fn: f, pcIdx: t.p.pc}}
	for i := range t.p.target.callers {
		c := t.p.target.callers[i]
		frames = append(frames, &frame{p: t.p, backdrop: &c})
	}
	if max > 0 && len(frames) > max {
		frames = frames[:max]
	}
	return frames, nil
}

func (t *thread) NewStepper() (nativedbg.Stepper, error) {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	if !t.p.suspended {
		return nil, nativedbg.ErrNotSuspended
	}
	return &stepper{p: t.p}, nil
}

type stepper struct {
	p *Process
}

func (s *stepper) Step(kind domain.StepKind) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.dead {
		return nativedbg.ErrProcessExited
	}
	s.p.stepArmed = true
	return nil
}

func (s *stepper) Deactivate() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.stepArmed = false
	return nil
}

type frame struct {
	p        *Process
	fn       *Function
	pcIdx    int
	backdrop *callerFrame
}

func (f *frame) Location() domain.SourceLocation {
	if f.backdrop != nil {
		return domain.SourceLocation{Method: f.backdrop.method, Module: f.backdrop.module}
	}
	idx := f.pcIdx
	if idx < 0 {
		idx = 0
	}
	return *f.fn.locationAt(idx)
}

func (f *frame) Internal() bool {
	return f.backdrop != nil && f.backdrop.internal
}

func (f *frame) Locals() ([]nativedbg.NamedValue, error) {
	if f.backdrop != nil {
		return nil, nil
	}
	return f.p.namedValues(f.fn.locals), nil
}

func (f *frame) Arguments() ([]nativedbg.NamedValue, error) {
	if f.backdrop != nil {
		return nil, nil
	}
	return f.p.namedValues(f.fn.args), nil
}

func (f *frame) This() (nativedbg.Value, error) {
	if f.backdrop != nil || f.fn.this == nil {
		return nil, nil
	}
	return f.p.valueOf(f.fn.this), nil
}

func (p *Process) namedValues(slots []slot) []nativedbg.NamedValue {
	out := make([]nativedbg.NamedValue, 0, len(slots))
	for _, s := range slots {
		out = append(out, nativedbg.NamedValue{Name: s.name, Value: p.valueOf(s.val)})
	}
	return out
}
