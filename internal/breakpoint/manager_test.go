package breakpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mdbg-dev/mdbg/internal/debug"
	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/nativedbg/sim"
	"github.com/mdbg-dev/mdbg/internal/symbols"
)

const srcFile = "/src/orders/OrderService.cs"

type harness struct {
	tgt  *sim.Target
	eng  *debug.Debugger
	drv  *sim.Driver
	syms *symbols.Index
	mgr  *Manager
	fn   *sim.Function
}

// newHarness wires engine, symbol index and manager exactly the way the CLI
// does: the index subscriber first so symbols are indexed before the manager
// sees the same module-load event, the manager second.
func newHarness(t *testing.T, loop bool) *harness {
	t.Helper()

	tgt := sim.NewTarget("orders")
	tgt.Module("Orders.dll", true)
	fn := tgt.Function("OrderService.Process", srcFile, 30, 8)
	if loop {
		fn.Loop()
	}

	drv := sim.NewDriver(tgt)
	syms := symbols.NewIndex()
	eng := debug.New(drv, debug.Options{
		Logger:        zap.NewNop(),
		Resolver:      syms,
		LaunchTimeout: 2 * time.Second,
		EvalTimeout:   2 * time.Second,
		StopTimeout:   time.Second,
	})
	eng.Subscribe(&debug.Subscriber{
		ModuleLoaded:   func(m nativedbg.ModuleInfo) { syms.AddModule(m) },
		ModuleUnloaded: func(m nativedbg.ModuleInfo) { syms.RemoveModule(m.Path) },
	})
	mgr := NewManager(eng, syms, zap.NewNop())
	t.Cleanup(func() {
		mgr.Close()
		_ = eng.Disconnect()
	})
	return &harness{tgt: tgt, eng: eng, drv: drv, syms: syms, mgr: mgr, fn: fn}
}

func (h *harness) launchHeld(t *testing.T) {
	t.Helper()
	sess, err := h.eng.Launch(context.Background(), debug.LaunchConfig{
		Executable:  "/opt/app/orders",
		StopAtEntry: true,
	})
	require.NoError(t, err)
	require.Equal(t, domain.PauseEntry, sess.PauseReason)
}

func (h *harness) attachSettled(t *testing.T) {
	t.Helper()
	_, err := h.eng.Attach(context.Background(), h.tgt.PID())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.drv.Process().Continues() == 4
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) waitPaused(t *testing.T) *domain.Session {
	t.Helper()
	res, err := h.eng.WaitForState(context.Background(), domain.StatePaused, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, debug.OutcomeObserved, res.Outcome)
	return h.eng.Session()
}

func TestPendingBreakpointBindsOnModuleLoad(t *testing.T) {
	h := newHarness(t, true)
	h.launchHeld(t)

	// nothing is loaded at the entry hold, so the request parks
	bp, err := h.mgr.Set(Spec{File: srcFile, Line: h.fn.Line(2)})
	require.NoError(t, err)
	assert.Equal(t, StatePending, bp.State)
	assert.True(t, bp.Enabled)

	require.NoError(t, h.eng.Continue())
	sess := h.waitPaused(t)
	assert.Equal(t, domain.PauseBreakpoint, sess.PauseReason)
	require.NotNil(t, sess.Location)
	assert.Equal(t, h.fn.Line(2), sess.Location.Line)

	list := h.mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, StateBound, list[0].State)
	assert.Equal(t, h.fn.Line(2), list[0].BoundLine)
	assert.Equal(t, "/opt/app/Orders.dll", list[0].Module)
	assert.Equal(t, 1, list[0].HitCount)

	hit, ok := h.mgr.Match(sess.Location)
	require.True(t, ok)
	assert.Equal(t, bp.ID, hit.ID)
	assert.Equal(t, 1, hit.HitCount)

	_, ok = h.mgr.Match(nil)
	assert.False(t, ok)
}

func TestSetBindsImmediatelyWhenSymbolsPresent(t *testing.T) {
	h := newHarness(t, true)
	h.attachSettled(t)

	bp, err := h.mgr.Set(Spec{File: srcFile, Line: h.fn.Line(1)})
	require.NoError(t, err)
	assert.Equal(t, StateBound, bp.State)
	assert.Equal(t, h.fn.Line(1), bp.BoundLine)
}

func TestRequestedLineSlidesToNextCode(t *testing.T) {
	h := newHarness(t, true)
	h.attachSettled(t)

	bp, err := h.mgr.Set(Spec{File: srcFile, Line: h.fn.Line(0) - 1})
	require.NoError(t, err)
	assert.Equal(t, StateBound, bp.State)
	assert.Equal(t, h.fn.Line(0)-1, bp.Line, "requested line is preserved")
	assert.Equal(t, h.fn.Line(0), bp.BoundLine, "bound position slides to the first line with code")

	past, err := h.mgr.Set(Spec{File: srcFile, Line: 999})
	require.NoError(t, err)
	assert.Equal(t, StatePending, past.State, "a line beyond all code never binds")
}

// Breakpoints set before launch bind during runtime boot and are armed
// before the first user statement runs.
func TestTransparentBreakpointNeverHolds(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.mgr.Set(Spec{File: srcFile, Line: h.fn.Line(2), Transparent: true})
	require.NoError(t, err)

	_, err = h.eng.Launch(context.Background(), debug.LaunchConfig{Executable: "/opt/app/orders"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.drv.Process().Continues() == 5
	}, 2*time.Second, 5*time.Millisecond, "boot plus one transparent hit")
	assert.Equal(t, domain.StateRunning, h.eng.Session().State)

	list := h.mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].HitCount)
	assert.True(t, list[0].Transparent)
}

func TestDisabledBreakpointDoesNotFire(t *testing.T) {
	h := newHarness(t, true)

	bp, err := h.mgr.Set(Spec{File: srcFile, Line: h.fn.Line(2)})
	require.NoError(t, err)
	require.NoError(t, h.mgr.SetEnabled(bp.ID, false))

	_, err = h.eng.Launch(context.Background(), debug.LaunchConfig{Executable: "/opt/app/orders"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.drv.Process().Continues() == 4
	}, 2*time.Second, 5*time.Millisecond, "boot only, no hit")
	assert.Equal(t, domain.StateRunning, h.eng.Session().State)

	list := h.mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, StateBound, list[0].State)
	assert.False(t, list[0].Enabled)
	assert.Zero(t, list[0].HitCount)
}

func TestRemove(t *testing.T) {
	h := newHarness(t, true)

	err := h.mgr.Remove(7)
	require.Error(t, err)
	assert.True(t, debug.IsCode(err, debug.CodeNotFound))

	bp, err := h.mgr.Set(Spec{File: srcFile, Line: h.fn.Line(2)})
	require.NoError(t, err)
	require.NoError(t, h.mgr.Remove(bp.ID))
	assert.Empty(t, h.mgr.List())
}

func TestSetEnabledUnknown(t *testing.T) {
	h := newHarness(t, true)
	err := h.mgr.SetEnabled(7, true)
	require.Error(t, err)
	assert.True(t, debug.IsCode(err, debug.CodeNotFound))
}

func TestModuleUnloadRevertsToPending(t *testing.T) {
	h := newHarness(t, true)
	h.attachSettled(t)

	bp, err := h.mgr.Set(Spec{File: srcFile, Line: h.fn.Line(1)})
	require.NoError(t, err)
	require.Equal(t, StateBound, bp.State)

	mods := h.eng.Modules()
	require.Len(t, mods, 1)
	h.drv.Process().Inject(nativedbg.Event{
		Kind:     nativedbg.EventModuleUnloaded,
		ThreadID: 1,
		Module:   &mods[0],
	})

	require.Eventually(t, func() bool {
		list := h.mgr.List()
		return len(list) == 1 && list[0].State == StatePending
	}, 2*time.Second, 5*time.Millisecond)
}

// A process exit drops every native handle; the surviving specs re-bind and
// re-fire when the same engine attaches to a fresh run of the target.
func TestExitThenReattachRebinds(t *testing.T) {
	h := newHarness(t, false) // straight-line script runs off the end
	h.launchHeld(t)

	_, err := h.mgr.Set(Spec{File: srcFile, Line: h.fn.Line(1)})
	require.NoError(t, err)

	require.NoError(t, h.eng.Continue())
	sess := h.waitPaused(t)
	require.Equal(t, domain.PauseBreakpoint, sess.PauseReason)

	require.NoError(t, h.eng.Continue())
	res, err := h.eng.WaitForState(context.Background(), domain.StateDisconnected, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, debug.OutcomeObserved, res.Outcome)

	list := h.mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, StatePending, list[0].State)
	assert.Equal(t, 1, list[0].HitCount, "history survives the exit")

	_, err = h.eng.Attach(context.Background(), h.tgt.PID())
	require.NoError(t, err)
	sess = h.waitPaused(t)
	assert.Equal(t, domain.PauseBreakpoint, sess.PauseReason)

	list = h.mgr.List()
	require.Len(t, list, 1)
	assert.Equal(t, StateBound, list[0].State)
	assert.Equal(t, 2, list[0].HitCount)
}
