package debug

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/nativedbg/sim"
	"github.com/mdbg-dev/mdbg/internal/symbols"
)

const srcFile = "/src/orders/OrderService.cs"

// Debuggee object graph used across the evaluation and inspection tests.
// Tags carry the runtime-visible field names; an embedded struct plays the
// base class.
type custBase struct {
	region string `sim:"_region"`
}

type customer struct {
	custBase
	name   string `sim:"<Name>k__BackingField"`
	email  string `sim:"_email"`
	Friend *customer
}

type orderSvc struct {
	user  *customer `sim:"_user"`
	Count int32
	Mode  string
	mode  string `sim:"<Mode>k__BackingField"`
}

func newCustomer() *customer {
	return &customer{
		custBase: custBase{region: "EU"},
		name:     "Alice",
		email:    "alice@example.com",
	}
}

// newScript builds the standard target: one module with symbols and an entry
// function with eight plain statements on lines 30..37 that spins after the
// last one.
func newScript() (*sim.Target, *sim.Function) {
	tgt := sim.NewTarget("orders")
	tgt.Module("Orders.dll", true)
	fn := tgt.Function("OrderService.Process", srcFile, 30, 8)
	fn.This(&orderSvc{user: newCustomer(), Count: 3, Mode: "direct", mode: "backing"}).
		Local("total", int32(42)).
		Local("greeting", "hello").
		Arg("verbose", true).
		Loop()
	tgt.Caller("Program.Main", "/opt/app/Orders.dll", false)
	tgt.Caller("System.Threading.ExecutionContext.Run", "/usr/share/runtime/System.Private.CoreLib.dll", true)

	tgt.Class("Orders.CustomerBase", custBase{}).
		Class("Orders.Customer", customer{}).
		Class("Orders.OrderService", orderSvc{}).
		Method("Orders.Customer", "get_Name", func(any, []any) (any, error) {
			return "from-getter", nil
		}).
		Method("Orders.Customer", "get_Title", func(any, []any) (any, error) {
			return "Dr.", nil
		}).
		Method("Orders.Customer", "Describe", func(any, []any) (any, error) {
			return "customer record", nil
		}).
		Method("Orders.Customer", "Fail", func(any, []any) (any, error) {
			return nil, &sim.RaisedException{TypeName: "System.InvalidOperationException", Message: "no such user"}
		}).
		Method("Orders.CustomerBase", "get_Kind", func(any, []any) (any, error) {
			return "person", nil
		}).
		Method("Orders.OrderService", "get_Mode", func(any, []any) (any, error) {
			return "getter", nil
		}).
		HangingMethod("Orders.Customer", "Freeze")
	return tgt, fn
}

// newExitScript builds a target whose three plain statements run straight
// to process exit.
func newExitScript() (*sim.Target, *sim.Function) {
	tgt := sim.NewTarget("orders")
	tgt.Module("Orders.dll", true)
	fn := tgt.Function("OrderService.Process", srcFile, 30, 3)
	return tgt, fn
}

// newTestDebugger wires an engine over the scripted driver the way the
// session manager does in production: a symbol index fed by module events
// serves as the location resolver.
func newTestDebugger(t *testing.T, tgt *sim.Target) (*Debugger, *sim.Driver) {
	t.Helper()

	drv := sim.NewDriver(tgt)
	syms := symbols.NewIndex()
	eng := New(drv, Options{
		Logger:        zap.NewNop(),
		Resolver:      syms,
		LaunchTimeout: 2 * time.Second,
		EvalTimeout:   2 * time.Second,
		StopTimeout:   time.Second,
	})
	eng.Subscribe(&Subscriber{
		ModuleLoaded:   func(m nativedbg.ModuleInfo) { syms.AddModule(m) },
		ModuleUnloaded: func(m nativedbg.ModuleInfo) { syms.RemoveModule(m.Path) },
	})
	t.Cleanup(func() { _ = eng.Disconnect() })
	return eng, drv
}

func attachRunning(t *testing.T, eng *Debugger, tgt *sim.Target) *domain.Session {
	t.Helper()
	sess, err := eng.Attach(context.Background(), tgt.PID())
	require.NoError(t, err)
	require.Equal(t, domain.StateRunning, sess.State)
	return sess
}

// launchHeld launches stop-at-entry so breakpoints can be planted before any
// user code runs.
func launchHeld(t *testing.T, eng *Debugger) *domain.Session {
	t.Helper()
	sess, err := eng.Launch(context.Background(), LaunchConfig{
		Executable:  "/opt/app/orders",
		StopAtEntry: true,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatePaused, sess.State)
	require.Equal(t, domain.PauseEntry, sess.PauseReason)
	return sess
}

func waitState(t *testing.T, eng *Debugger, want domain.LifecycleState) WaitResult {
	t.Helper()
	res, err := eng.WaitForState(context.Background(), want, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, OutcomeObserved, res.Outcome)
	return res
}

// pauseAtLine plants a breakpoint on the given source line of the entry
// function and runs until it hits.
func pauseAtLine(t *testing.T, eng *Debugger, fn *sim.Function, line int) {
	t.Helper()
	_, err := eng.SetBreakpointAt(fn.ModulePath(), fn.Token(), fn.OffsetOf(line))
	require.NoError(t, err)
	require.NoError(t, eng.Continue())
	waitState(t, eng, domain.StatePaused)
	sess := eng.Session()
	require.Equal(t, domain.PauseBreakpoint, sess.PauseReason)
	require.NotNil(t, sess.Location)
	require.Equal(t, line, sess.Location.Line)
}

func settledContinues(t *testing.T, drv *sim.Driver, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return drv.Process().Continues() == want
	}, 2*time.Second, 5*time.Millisecond, "expected exactly %d continues", want)
}

// eventLog is a subscriber that records everything the engine publishes.
type eventLog struct {
	mu      sync.Mutex
	changes []*domain.StateChange
	breaks  []*BreakpointNotice
	excs    []*ExceptionNotice
	steps   []*StepNotice
	logs    []*LogNotice
	loaded  []nativedbg.ModuleInfo
	exits   []int
}

func (l *eventLog) subscriber() *Subscriber {
	return &Subscriber{
		StateChanged: func(sc *domain.StateChange) {
			l.mu.Lock()
			l.changes = append(l.changes, sc)
			l.mu.Unlock()
		},
		BreakpointHit: func(n *BreakpointNotice) {
			l.mu.Lock()
			l.breaks = append(l.breaks, n)
			l.mu.Unlock()
		},
		ExceptionHit: func(n *ExceptionNotice) {
			l.mu.Lock()
			l.excs = append(l.excs, n)
			l.mu.Unlock()
		},
		StepCompleted: func(n *StepNotice) {
			l.mu.Lock()
			l.steps = append(l.steps, n)
			l.mu.Unlock()
		},
		RuntimeLog: func(n *LogNotice) {
			l.mu.Lock()
			l.logs = append(l.logs, n)
			l.mu.Unlock()
		},
		ModuleLoaded: func(m nativedbg.ModuleInfo) {
			l.mu.Lock()
			l.loaded = append(l.loaded, m)
			l.mu.Unlock()
		},
		ProcessExited: func(code int) {
			l.mu.Lock()
			l.exits = append(l.exits, code)
			l.mu.Unlock()
		},
	}
}

func (l *eventLog) states() []domain.LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.LifecycleState, 0, len(l.changes))
	for _, sc := range l.changes {
		out = append(out, sc.To)
	}
	return out
}

func (l *eventLog) stateCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}

func (l *eventLog) exceptions() []*ExceptionNotice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*ExceptionNotice(nil), l.excs...)
}

func (l *eventLog) runtimeLogs() []*LogNotice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*LogNotice(nil), l.logs...)
}

func (l *eventLog) exitCodes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.exits...)
}

// syncBuffer collects debuggee stdout without racing the writer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAttach(t *testing.T) {
	t.Run("session snapshot", func(t *testing.T) {
		tgt, _ := newScript()
		eng, drv := newTestDebugger(t, tgt)

		sess := attachRunning(t, eng, tgt)
		assert.NotEmpty(t, sess.ID)
		assert.Equal(t, tgt.PID(), sess.PID)
		assert.Equal(t, "orders", sess.ProcessName)
		assert.Equal(t, "v9.0.4", sess.RuntimeVersion)
		assert.Equal(t, domain.ModeAttach, sess.Mode)
		assert.Nil(t, eng.ExitCode())

		// boot events resume one-for-one, then the script free-runs
		settledContinues(t, drv, 4)
		assert.False(t, drv.Process().Suspended())
		assert.Equal(t, domain.StateRunning, eng.Session().State)
	})

	t.Run("unknown pid", func(t *testing.T) {
		tgt, _ := newScript()
		eng, _ := newTestDebugger(t, tgt)

		_, err := eng.Attach(context.Background(), 99999)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeNotFound))
		assert.Nil(t, eng.Session())
	})

	t.Run("second session rejected", func(t *testing.T) {
		tgt, _ := newScript()
		eng, _ := newTestDebugger(t, tgt)
		attachRunning(t, eng, tgt)

		_, err := eng.Attach(context.Background(), tgt.PID())
		assert.True(t, IsCode(err, CodeWrongState))
		_, err = eng.Launch(context.Background(), LaunchConfig{Executable: "/opt/app/orders"})
		assert.True(t, IsCode(err, CodeWrongState))
	})

	t.Run("clock stamps the session", func(t *testing.T) {
		tgt, _ := newScript()
		drv := sim.NewDriver(tgt)
		mock := clock.NewMock()
		eng := New(drv, Options{Clock: mock})
		t.Cleanup(func() { _ = eng.Disconnect() })

		sess, err := eng.Attach(context.Background(), tgt.PID())
		require.NoError(t, err)
		assert.True(t, sess.StartedAt.Equal(mock.Now()))
	})
}

func TestSessionSnapshotIsolation(t *testing.T) {
	tgt, fn := newScript()
	eng, _ := newTestDebugger(t, tgt)
	launchHeld(t, eng)
	pauseAtLine(t, eng, fn, fn.Line(2))

	s1 := eng.Session()
	require.NotNil(t, s1.Location)
	s1.State = domain.StateDisconnected
	s1.Location.Line = 9999

	s2 := eng.Session()
	assert.Equal(t, domain.StatePaused, s2.State)
	assert.Equal(t, fn.Line(2), s2.Location.Line)
}

func TestModules(t *testing.T) {
	tgt, _ := newScript()
	eng, drv := newTestDebugger(t, tgt)
	log := &eventLog{}
	eng.Subscribe(log.subscriber())
	attachRunning(t, eng, tgt)
	settledContinues(t, drv, 4)

	mods := eng.Modules()
	require.Len(t, mods, 1)
	assert.Equal(t, "/opt/app/Orders.dll", mods[0].Path)
	assert.Equal(t, "Orders.dll", mods[0].Name)
	assert.True(t, mods[0].HasSymbols)

	got, ok := eng.FindModuleByPath("/opt/app/Orders.dll")
	require.True(t, ok)
	assert.Equal(t, "Orders.dll", got.Name)
	_, ok = eng.FindModuleByPath("/opt/app/Missing.dll")
	assert.False(t, ok)

	log.mu.Lock()
	loaded := len(log.loaded)
	log.mu.Unlock()
	assert.Equal(t, 1, loaded)

	// unload drops it from the map and resumes the debuggee
	drv.Process().Inject(nativedbg.Event{
		Kind:     nativedbg.EventModuleUnloaded,
		ThreadID: 1,
		Module:   &mods[0],
	})
	require.Eventually(t, func() bool {
		return len(eng.Modules()) == 0
	}, 2*time.Second, 5*time.Millisecond)
	settledContinues(t, drv, 5)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	tgt, _ := newScript()
	eng, drv := newTestDebugger(t, tgt)
	log := &eventLog{}
	unsub := eng.Subscribe(log.subscriber())
	attachRunning(t, eng, tgt)
	settledContinues(t, drv, 4)

	require.NoError(t, eng.Pause())
	waitState(t, eng, domain.StatePaused)
	require.Equal(t, 1, log.stateCount())

	unsub()
	require.NoError(t, eng.Continue())
	waitState(t, eng, domain.StateRunning)
	assert.Equal(t, 1, log.stateCount(), "unsubscribed recorder must see no further changes")
}
