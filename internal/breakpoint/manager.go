// Package breakpoint tracks user breakpoints across the life of a debug
// session. A breakpoint set against code that is not loaded yet parks as
// pending and binds automatically when a module with matching symbols
// arrives.
package breakpoint

import (
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/mdbg-dev/mdbg/internal/debug"
	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/symbols"
)

// State says whether a breakpoint is armed in the debuggee.
type State string

const (
	StatePending State = "pending" // no loaded module covers the location yet
	StateBound   State = "bound"   // installed in debuggee code
)

// Spec is a user breakpoint request. Line is the requested source line; the
// bound position may slide forward to the next line that has code.
type Spec struct {
	File string
	Line int

	// Transparent breakpoints count hits and report them but never hold
	// the debuggee.
	Transparent bool
}

// Breakpoint is the caller-visible snapshot of one breakpoint.
type Breakpoint struct {
	ID          int    `json:"id"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	BoundLine   int    `json:"bound_line,omitempty"`
	Module      string `json:"module,omitempty"`
	State       State  `json:"state"`
	Enabled     bool   `json:"enabled"`
	Transparent bool   `json:"transparent,omitempty"`
	HitCount    int    `json:"hit_count"`
}

// Engine is the slice of the debug engine the manager drives.
type Engine interface {
	SetBreakpointAt(modulePath string, methodToken, ilOffset uint32) (nativedbg.Breakpoint, error)
	Subscribe(sub *debug.Subscriber) func()
}

type record struct {
	id      int
	spec    Spec
	state   State
	enabled bool
	bound   symbols.Placement
	hits    int
	handle  nativedbg.Breakpoint
}

// Manager owns the pending/bound lifecycle. It subscribes to the engine on
// construction and reacts to module loads on the dispatch path, so
// breakpoints set before launch are installed during runtime boot, before
// user code runs.
type Manager struct {
	log   *zap.Logger
	eng   Engine
	syms  symbols.Resolver
	unsub func()

	mu     sync.Mutex
	nextID int
	bps    map[int]*record
}

func NewManager(eng Engine, syms symbols.Resolver, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		log:    log,
		eng:    eng,
		syms:   syms,
		nextID: 1,
		bps:    make(map[int]*record),
	}
	m.unsub = eng.Subscribe(&debug.Subscriber{
		ModuleLoaded:   m.onModuleLoaded,
		ModuleUnloaded: m.onModuleUnloaded,
		BreakpointHit:  m.onHit,
		ProcessExited:  m.onProcessExited,
	})
	return m
}

// Close detaches the manager from the engine. Breakpoints already installed
// in the debuggee stay installed.
func (m *Manager) Close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

// Set registers a breakpoint and binds it immediately when loaded symbols
// already cover the location. Otherwise it parks as pending; that is not an
// error.
func (m *Manager) Set(spec Spec) (Breakpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &record{id: m.nextID, spec: spec, state: StatePending, enabled: true}
	m.nextID++
	if err := m.bindLocked(r); err != nil {
		return Breakpoint{}, err
	}
	m.bps[r.id] = r
	m.log.Debug("breakpoint set",
		zap.Int("id", r.id),
		zap.String("file", spec.File),
		zap.Int("line", spec.Line),
		zap.String("state", string(r.state)))
	return r.snapshot(), nil
}

// Remove deletes a breakpoint, uninstalling it from the debuggee if bound.
func (m *Manager) Remove(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.bps[id]
	if !ok {
		return &debug.Error{Code: debug.CodeNotFound, Op: "remove_breakpoint", Message: "no breakpoint " + strconv.Itoa(id)}
	}
	if r.handle != nil {
		if err := r.handle.Remove(); err != nil {
			m.log.Warn("native breakpoint removal failed", zap.Int("id", id), zap.Error(err))
		}
	}
	delete(m.bps, id)
	return nil
}

// SetEnabled toggles a breakpoint without forgetting it. Disabled bound
// breakpoints are deactivated in the debuggee and re-armed on enable.
func (m *Manager) SetEnabled(id int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.bps[id]
	if !ok {
		return &debug.Error{Code: debug.CodeNotFound, Op: "enable_breakpoint", Message: "no breakpoint " + strconv.Itoa(id)}
	}
	r.enabled = on
	if r.handle != nil {
		if err := r.handle.Activate(on); err != nil {
			return &debug.Error{Code: debug.CodeNativeFailure, Op: "enable_breakpoint", Err: err}
		}
	}
	return nil
}

// List returns every breakpoint, ordered by ID.
func (m *Manager) List() []Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Breakpoint, 0, len(m.bps))
	for _, r := range m.bps {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Match finds the breakpoint installed at a stop location. Callers running
// after the manager in subscriber order see the hit already counted.
func (m *Manager) Match(loc *domain.SourceLocation) (Breakpoint, bool) {
	if loc == nil {
		return Breakpoint{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.matchLocked(loc); r != nil {
		return r.snapshot(), true
	}
	return Breakpoint{}, false
}

// onModuleLoaded binds pending breakpoints whose source is covered by the
// newly indexed module. Runs on the dispatch path after the symbol index has
// absorbed the module.
func (m *Manager) onModuleLoaded(mod nativedbg.ModuleInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.bps {
		if r.state != StatePending {
			continue
		}
		if err := m.bindLocked(r); err != nil {
			m.log.Warn("deferred breakpoint bind failed",
				zap.Int("id", r.id),
				zap.String("module", mod.Path),
				zap.Error(err))
			continue
		}
		if r.state == StateBound {
			m.log.Info("breakpoint bound",
				zap.Int("id", r.id),
				zap.String("file", r.bound.File),
				zap.Int("line", r.bound.Line))
		}
	}
}

// onModuleUnloaded reverts breakpoints living in the departing module to
// pending; their native handles die with the module.
func (m *Manager) onModuleUnloaded(mod nativedbg.ModuleInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.bps {
		if r.state == StateBound && r.bound.ModulePath == mod.Path {
			r.state = StatePending
			r.handle = nil
			r.bound = symbols.Placement{}
		}
	}
}

// onHit counts the hit and, for transparent breakpoints, asks the engine to
// keep going.
func (m *Manager) onHit(n *debug.BreakpointNotice) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.matchLocked(n.Location)
	if r == nil {
		return
	}
	r.hits++
	if r.spec.Transparent {
		n.RequestContinue = true
	}
}

// onProcessExited forgets every native handle. Specs and hit counts survive
// so a relaunched session re-binds the same set.
func (m *Manager) onProcessExited(int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.bps {
		r.state = StatePending
		r.handle = nil
		r.bound = symbols.Placement{}
	}
}

func (m *Manager) bindLocked(r *record) error {
	pl, ok := m.syms.FindLine(r.spec.File, r.spec.Line)
	if !ok {
		return nil // stays pending
	}
	h, err := m.eng.SetBreakpointAt(pl.ModulePath, pl.MethodToken, pl.ILOffset)
	if err != nil {
		if debug.IsCode(err, debug.CodeWrongState) {
			return nil // no live process yet; bind again on the next load
		}
		return err
	}
	if !r.enabled {
		if aerr := h.Activate(false); aerr != nil {
			m.log.Warn("could not deactivate bound breakpoint", zap.Int("id", r.id), zap.Error(aerr))
		}
	}
	r.handle = h
	r.bound = pl
	r.state = StateBound
	return nil
}

func (m *Manager) matchLocked(loc *domain.SourceLocation) *record {
	if loc == nil {
		return nil
	}
	for _, r := range m.bps {
		if r.state != StateBound {
			continue
		}
		if r.bound.MethodToken == loc.MethodToken &&
			r.bound.ILOffset == loc.ILOffset &&
			r.bound.ModulePath == loc.Module {
			return r
		}
	}
	return nil
}

func (r *record) snapshot() Breakpoint {
	bp := Breakpoint{
		ID:          r.id,
		File:        r.spec.File,
		Line:        r.spec.Line,
		State:       r.state,
		Enabled:     r.enabled,
		Transparent: r.spec.Transparent,
		HitCount:    r.hits,
	}
	if r.state == StateBound {
		bp.BoundLine = r.bound.Line
		bp.Module = r.bound.ModulePath
	}
	return bp
}
