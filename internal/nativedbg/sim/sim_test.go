package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

type baseEntity struct {
	id int32 `sim:"_id"`
}

type user struct {
	baseEntity
	Name    string
	email   string `sim:"_email"`
	backing string `sim:"<Display>k__BackingField"`
	counter int32  `sim:"Instances,static"`
	secret  string `sim:"-"`
	Friend  *user
}

type collector struct {
	events chan nativedbg.Event
}

func newCollector() *collector {
	return &collector{events: make(chan nativedbg.Event)}
}

func (c *collector) handle(ev nativedbg.Event) {
	c.events <- ev
}

func (c *collector) next(t *testing.T) nativedbg.Event {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nativedbg.Event{}
	}
}

// continueThrough consumes events up to and including the first one of the
// wanted kind, continuing the process after every delivery before it.
func (c *collector) continueThrough(t *testing.T, p nativedbg.Process, want nativedbg.EventKind) nativedbg.Event {
	t.Helper()
	for i := 0; i < 32; i++ {
		ev := c.next(t)
		if ev.Kind == want {
			return ev
		}
		require.NoError(t, p.Continue(), "continue after %s", ev.Kind)
	}
	t.Fatalf("event %s never arrived", want)
	return nativedbg.Event{}
}

func TestValueModel(t *testing.T) {
	tgt := NewTarget("ValueApp")
	tgt.Class("MyApp.Entity", baseEntity{})
	tgt.Class("MyApp.User", user{})

	reg := tgt.classes

	t.Run("object fields and base chain", func(t *testing.T) {
		u := &user{Name: "Alice", email: "a@example.com", backing: "display", secret: "x"}
		u.id = 7

		v := reg.valueOf(u)
		require.Equal(t, nativedbg.KindObject, v.Kind())
		assert.Equal(t, "MyApp.User", v.TypeName())
		assert.NotZero(t, v.Address())

		obj := v.(nativedbg.ObjectValue)
		names := []string{}
		for _, f := range obj.Class().Fields() {
			names = append(names, f.Name)
		}
		assert.Contains(t, names, "Name")
		assert.Contains(t, names, "_email")
		assert.Contains(t, names, "<Display>k__BackingField")
		assert.NotContains(t, names, "secret")

		base := obj.Class().Base()
		require.NotNil(t, base)
		assert.Equal(t, "MyApp.Entity", base.Name())

		nameVal, err := obj.Field("Name")
		require.NoError(t, err)
		assert.Equal(t, "Alice", GoValue(nameVal))

		emailVal, err := obj.Field("_email")
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", GoValue(emailVal))

		// field declared on the base class resolves through the chain
		idVal, err := obj.Field("_id")
		require.NoError(t, err)
		assert.Equal(t, int32(7), GoValue(idVal))

		_, err = obj.Field("Nope")
		assert.ErrorIs(t, err, nativedbg.ErrFieldNotFound)

		// statics are metadata only, not instance-readable
		_, err = obj.Field("Instances")
		assert.ErrorIs(t, err, nativedbg.ErrFieldNotFound)
	})

	t.Run("pointer identity is stable", func(t *testing.T) {
		u := &user{Name: "A"}
		u.Friend = u

		v1 := reg.valueOf(u).(nativedbg.ObjectValue)
		friend, err := v1.Field("Friend")
		require.NoError(t, err)
		assert.Equal(t, v1.Address(), friend.Address())
	})

	t.Run("nil pointer is a typed null", func(t *testing.T) {
		var u *user
		v := reg.valueOf(u)
		assert.Equal(t, nativedbg.KindNull, v.Kind())
		assert.Equal(t, "MyApp.User", v.TypeName())
		assert.Zero(t, v.Address())
	})

	t.Run("strings", func(t *testing.T) {
		v := reg.valueOf("héllo").(nativedbg.StringValue)
		assert.Equal(t, "System.String", v.TypeName())
		assert.Equal(t, 5, v.Len())

		text, err := v.Text(3)
		require.NoError(t, err)
		assert.Equal(t, "hél", text)

		text, err = v.Text(0)
		require.NoError(t, err)
		assert.Equal(t, "héllo", text)
	})

	t.Run("arrays", func(t *testing.T) {
		v := reg.valueOf([]int32{10, 20, 30}).(nativedbg.ArrayValue)
		assert.Equal(t, "System.Int32[]", v.TypeName())
		assert.Equal(t, "System.Int32", v.ElementTypeName())
		assert.Equal(t, 3, v.Len())
		assert.NotZero(t, v.Address())

		el, err := v.Element(1)
		require.NoError(t, err)
		assert.Equal(t, int32(20), GoValue(el))

		_, err = v.Element(3)
		assert.Error(t, err)

		empty := reg.valueOf([]int32{}).(nativedbg.ArrayValue)
		assert.Equal(t, 0, empty.Len())
		assert.Zero(t, empty.Address())
	})

	t.Run("primitives", func(t *testing.T) {
		tests := []struct {
			val      any
			typeName string
			elem     nativedbg.ElementType
		}{
			{true, "System.Boolean", nativedbg.ElemBoolean},
			{int32(-5), "System.Int32", nativedbg.ElemInt32},
			{int64(1 << 40), "System.Int64", nativedbg.ElemInt64},
			{uint8(255), "System.Byte", nativedbg.ElemUInt8},
			{float64(2.5), "System.Double", nativedbg.ElemFloat64},
			{Char('A'), "System.Char", nativedbg.ElemChar},
		}
		for _, tt := range tests {
			t.Run(tt.typeName, func(t *testing.T) {
				v := reg.valueOf(tt.val)
				require.Equal(t, nativedbg.KindPrimitive, v.Kind())
				pv := v.(nativedbg.PrimitiveValue)
				assert.Equal(t, tt.typeName, pv.TypeName())
				assert.Equal(t, tt.elem, pv.ElementType())
				assert.NotEmpty(t, pv.Bytes())
			})
		}
	})

	t.Run("boxed unwraps", func(t *testing.T) {
		v := reg.valueOf(Boxed{V: int32(9)})
		require.Equal(t, nativedbg.KindBoxed, v.Kind())
		inner, err := v.(nativedbg.BoxedValue).Unbox()
		require.NoError(t, err)
		assert.Equal(t, nativedbg.KindPrimitive, inner.Kind())
		assert.Equal(t, int32(9), GoValue(inner))
	})
}

func TestDriverAttachLifecycle(t *testing.T) {
	tgt := NewTarget("RunToExit")
	tgt.Function("MyApp.Program.Main", "Program.cs", 10, 3)
	drv := NewDriver(tgt)

	rts, err := drv.EnumerateRuntimes(tgt.PID())
	require.NoError(t, err)
	require.Len(t, rts, 1)

	_, err = drv.EnumerateRuntimes(99999)
	assert.ErrorIs(t, err, nativedbg.ErrProcessNotFound)

	col := newCollector()
	proc, err := drv.Attach(tgt.PID(), rts[0], col.handle)
	require.NoError(t, err)

	ev := col.next(t)
	assert.Equal(t, nativedbg.EventProcessCreated, ev.Kind)
	require.NoError(t, proc.Continue())

	ev = col.continueThrough(t, proc, nativedbg.EventProcessExited)
	assert.Equal(t, 0, ev.ExitCode)

	// the exit event still requires its final continue
	require.NoError(t, proc.Continue())
	assert.Error(t, proc.Continue())
}

func TestBreakpointStepAndFrames(t *testing.T) {
	tgt := NewTarget("OrderSvc")
	f := tgt.Function("MyApp.OrderService.Process", "OrderService.cs", 20, 5).
		Local("count", int32(3)).
		Arg("orderId", "ord-1").
		This(&user{Name: "svc"})
	tgt.Caller("MyApp.Program.Main", "/opt/app/OrderSvc.dll", false)
	tgt.Class("MyApp.User", user{})

	drv := NewDriver(tgt)
	col := newCollector()
	proc, err := drv.Attach(tgt.PID(), nativedbg.RuntimeInstance{}, col.handle)
	require.NoError(t, err)

	ev := col.next(t)
	require.Equal(t, nativedbg.EventProcessCreated, ev.Kind)

	_, err = proc.SetBreakpoint(f.ModulePath(), f.Token(), f.OffsetOf(22))
	require.NoError(t, err)
	require.NoError(t, proc.Continue())

	ev = col.continueThrough(t, proc, nativedbg.EventBreakpointHit)
	require.NotNil(t, ev.Location)
	assert.Equal(t, f.OffsetOf(22), ev.Location.ILOffset)

	thr, err := proc.Thread(1)
	require.NoError(t, err)
	frames, err := thr.Frames(0)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "MyApp.OrderService.Process", frames[0].Location().Method)
	assert.Equal(t, "MyApp.Program.Main", frames[1].Location().Method)

	locals, err := frames[0].Locals()
	require.NoError(t, err)
	require.Len(t, locals, 1)
	assert.Equal(t, "count", locals[0].Name)

	args, err := frames[0].Arguments()
	require.NoError(t, err)
	require.Len(t, args, 1)

	this, err := frames[0].This()
	require.NoError(t, err)
	require.NotNil(t, this)
	assert.Equal(t, "MyApp.User", this.TypeName())

	stepper, err := thr.NewStepper()
	require.NoError(t, err)
	require.NoError(t, stepper.Step(domain.StepOver))
	require.NoError(t, proc.Continue())

	ev = col.next(t)
	require.Equal(t, nativedbg.EventStepComplete, ev.Kind)
	assert.Equal(t, f.OffsetOf(23), ev.Location.ILOffset)
}

func TestEvalCompleteAndException(t *testing.T) {
	tgt := NewTarget("EvalApp")
	tgt.Function("MyApp.Main", "Main.cs", 1, 3).Local("u", &user{Name: "Alice"})
	tgt.Class("MyApp.User", user{}).
		Method("MyApp.User", "get_Display", func(this any, args []any) (any, error) {
			return "Alice (admin)", nil
		}).
		Method("MyApp.User", "Fail", func(this any, args []any) (any, error) {
			return nil, &RaisedException{TypeName: "System.InvalidOperationException", Message: "nope"}
		}).
		HangingMethod("MyApp.User", "get_Stuck")

	drv := NewDriver(tgt)
	col := newCollector()
	proc, err := drv.Attach(tgt.PID(), nativedbg.RuntimeInstance{}, col.handle)
	require.NoError(t, err)

	f := tgt.entry
	_, err = proc.SetBreakpoint(f.ModulePath(), f.Token(), f.OffsetOf(2))
	require.NoError(t, err)

	ev := col.next(t)
	require.Equal(t, nativedbg.EventProcessCreated, ev.Kind)
	require.NoError(t, proc.Continue())
	col.continueThrough(t, proc, nativedbg.EventBreakpointHit)

	thr, err := proc.Thread(1)
	require.NoError(t, err)
	frames, err := thr.Frames(1)
	require.NoError(t, err)
	locals, err := frames[0].Locals()
	require.NoError(t, err)
	uVal := locals[0].Value.(nativedbg.ObjectValue)

	cls := uVal.Class()
	getter, ok := cls.Method("get_Display")
	require.True(t, ok)

	t.Run("complete", func(t *testing.T) {
		ev8, err := proc.NewEval(1)
		require.NoError(t, err)
		require.NoError(t, ev8.CallMethod(getter, uVal, nil))
		require.NoError(t, proc.Continue())

		done := col.next(t)
		require.Equal(t, nativedbg.EventEvalComplete, done.Kind)
		assert.Equal(t, ev8.ID(), done.EvalID)
		assert.Equal(t, "Alice (admin)", GoValue(done.Result))
		assert.True(t, proc.(*Process).Suspended())
	})

	t.Run("exception", func(t *testing.T) {
		fail, ok := cls.Method("Fail")
		require.True(t, ok)

		ev8, err := proc.NewEval(1)
		require.NoError(t, err)
		require.NoError(t, ev8.CallMethod(fail, uVal, nil))
		require.NoError(t, proc.Continue())

		done := col.next(t)
		require.Equal(t, nativedbg.EventEvalException, done.Kind)
		require.NotNil(t, done.Exception)
		assert.Equal(t, "System.InvalidOperationException", done.Exception.TypeName)
	})

	t.Run("hang then abort", func(t *testing.T) {
		stuck, ok := cls.Method("get_Stuck")
		require.True(t, ok)

		ev8, err := proc.NewEval(1)
		require.NoError(t, err)
		require.NoError(t, ev8.CallMethod(stuck, uVal, nil))
		require.NoError(t, proc.Continue())

		// no completion arrives; abort restores the suspended state
		require.NoError(t, ev8.Abort())
		assert.Eventually(t, proc.(*Process).Suspended, time.Second, 10*time.Millisecond)
	})
}

func TestLaunchHandshake(t *testing.T) {
	t.Run("runtime announces startup", func(t *testing.T) {
		tgt := NewTarget("LaunchApp")
		tgt.Function("MyApp.Main", "Main.cs", 1, 2)
		drv := NewDriver(tgt)

		pp, err := drv.LaunchSuspended(nativedbg.LaunchSpec{Executable: "/opt/app/LaunchApp"})
		require.NoError(t, err)

		ready := make(chan nativedbg.RuntimeInstance, 1)
		require.NoError(t, pp.NotifyRuntimeStartup(func(rt nativedbg.RuntimeInstance) {
			ready <- rt
		}))
		require.NoError(t, pp.Resume())

		var rt nativedbg.RuntimeInstance
		select {
		case rt = <-ready:
		case <-time.After(2 * time.Second):
			t.Fatal("runtime startup never announced")
		}

		col := newCollector()
		proc, err := pp.Bind(rt, col.handle)
		require.NoError(t, err)
		ev := col.next(t)
		assert.Equal(t, nativedbg.EventProcessCreated, ev.Kind)
		require.NoError(t, proc.Continue())
		col.continueThrough(t, proc, nativedbg.EventProcessExited)
		require.NoError(t, proc.Continue())
	})

	t.Run("never-ready runtime is killable", func(t *testing.T) {
		tgt := NewTarget("DeadApp").RuntimeNeverReady()
		drv := NewDriver(tgt)

		pp, err := drv.LaunchSuspended(nativedbg.LaunchSpec{Executable: "/opt/app/DeadApp"})
		require.NoError(t, err)

		fired := make(chan struct{}, 1)
		require.NoError(t, pp.NotifyRuntimeStartup(func(nativedbg.RuntimeInstance) {
			fired <- struct{}{}
		}))
		require.NoError(t, pp.Resume())

		select {
		case <-fired:
			t.Fatal("startup callback fired for a never-ready runtime")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, pp.Kill())
		sp := pp.(*pending)
		assert.True(t, sp.Killed())

		_, err = sp.Bind(nativedbg.RuntimeInstance{}, func(nativedbg.Event) {})
		assert.ErrorIs(t, err, nativedbg.ErrProcessExited)
	})

	t.Run("register after resume fails", func(t *testing.T) {
		tgt := NewTarget("LateApp")
		drv := NewDriver(tgt)
		pp, err := drv.LaunchSuspended(nativedbg.LaunchSpec{Executable: "/x"})
		require.NoError(t, err)
		require.NoError(t, pp.Resume())
		assert.ErrorIs(t, pp.NotifyRuntimeStartup(func(nativedbg.RuntimeInstance) {}), nativedbg.ErrAlreadyResumed)
	})
}

func TestUnhandledExceptionFlow(t *testing.T) {
	tgt := NewTarget("Crasher")
	tgt.Function("MyApp.Main", "Main.cs", 1, 3).
		Throw(2, "System.NullReferenceException", "object reference not set", true)
	drv := NewDriver(tgt)
	col := newCollector()
	proc, err := drv.Attach(tgt.PID(), nativedbg.RuntimeInstance{}, col.handle)
	require.NoError(t, err)

	ev := col.continueThrough(t, proc, nativedbg.EventException)
	require.NotNil(t, ev.Exception)
	assert.True(t, ev.Exception.FirstChance)
	assert.False(t, ev.Exception.Unhandled)

	require.NoError(t, proc.Continue())
	ev = col.next(t)
	require.Equal(t, nativedbg.EventException, ev.Kind)
	assert.True(t, ev.Exception.Unhandled)

	require.NoError(t, proc.Continue())
	ev = col.next(t)
	require.Equal(t, nativedbg.EventProcessExited, ev.Kind)
	assert.NotZero(t, ev.ExitCode)
}
