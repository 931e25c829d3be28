package debug

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

// Every operation with a state precondition fails fast, without touching the
// native layer, when called from the wrong state.
func TestStatePreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("disconnected", func(t *testing.T) {
		tgt, _ := newScript()
		eng, _ := newTestDebugger(t, tgt)

		assert.True(t, IsCode(eng.Continue(), CodeWrongState))
		assert.True(t, IsCode(eng.Step(domain.StepOver), CodeWrongState))
		assert.True(t, IsCode(eng.Pause(), CodeWrongState))

		_, err := eng.Evaluate(ctx, "this", 0, 0, 0)
		assert.True(t, IsCode(err, CodeWrongState))
		_, err = eng.InspectObject(ctx, "this", 1, 0, 0)
		assert.True(t, IsCode(err, CodeWrongState))
		_, err = eng.GetVariables(0, 0, 1)
		assert.True(t, IsCode(err, CodeWrongState))
		_, err = eng.GetStackFrames(0, 0)
		assert.True(t, IsCode(err, CodeWrongState))
		_, err = eng.GetThreads()
		assert.True(t, IsCode(err, CodeWrongState))

		assert.NoError(t, eng.Disconnect(), "disconnect is idempotent")
	})

	t.Run("running", func(t *testing.T) {
		tgt, _ := newScript()
		eng, drv := newTestDebugger(t, tgt)
		attachRunning(t, eng, tgt)
		settledContinues(t, drv, 4)

		assert.True(t, IsCode(eng.Continue(), CodeWrongState))
		assert.True(t, IsCode(eng.Step(domain.StepOver), CodeWrongState))
		_, err := eng.Evaluate(ctx, "this", 0, 0, 0)
		assert.True(t, IsCode(err, CodeWrongState))
		_, err = eng.GetVariables(0, 0, 1)
		assert.True(t, IsCode(err, CodeWrongState))

		// rejections never reached the debuggee
		assert.Equal(t, 4, drv.Process().Continues())
		assert.Equal(t, domain.StateRunning, eng.Session().State)
	})
}

func TestPause(t *testing.T) {
	tgt, _ := newScript()
	eng, drv := newTestDebugger(t, tgt)
	attachRunning(t, eng, tgt)
	settledContinues(t, drv, 4)

	require.NoError(t, eng.Pause())
	sess := eng.Session()
	assert.Equal(t, domain.StatePaused, sess.State)
	assert.Equal(t, domain.PauseRequested, sess.PauseReason)
	assert.True(t, drv.Process().Suspended())

	// repeated pause is a no-op and keeps the original reason
	require.NoError(t, eng.Pause())
	assert.Equal(t, domain.PauseRequested, eng.Session().PauseReason)

	require.NoError(t, eng.Continue())
	assert.Equal(t, domain.StateRunning, eng.Session().State)
	settledContinues(t, drv, 5)
	assert.False(t, drv.Process().Suspended())
}

// A user-requested pause carries no stop thread; frame operations fall back
// to the first runtime thread.
func TestPauseThenInspect(t *testing.T) {
	tgt, _ := newScript()
	eng, drv := newTestDebugger(t, tgt)
	attachRunning(t, eng, tgt)
	settledContinues(t, drv, 4)

	require.NoError(t, eng.Pause())
	res, err := eng.Evaluate(context.Background(), "total", 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "42", res.Value)

	threads, err := eng.GetThreads()
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, 1, threads[0].ID)
}

func TestBreakpointThenStep(t *testing.T) {
	tgt, fn := newScript()
	eng, drv := newTestDebugger(t, tgt)
	log := &eventLog{}
	eng.Subscribe(log.subscriber())
	launchHeld(t, eng)
	pauseAtLine(t, eng, fn, fn.Line(2))

	require.NoError(t, eng.Step(domain.StepOver))
	res, err := eng.WaitForStepComplete(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, OutcomeObserved, res.Outcome)
	require.NotNil(t, res.Location)
	assert.Equal(t, fn.Line(3), res.Location.Line)
	assert.Equal(t, srcFile, res.Location.File)

	sess := eng.Session()
	assert.Equal(t, domain.StatePaused, sess.State)
	assert.Equal(t, domain.PauseStep, sess.PauseReason)
	assert.Equal(t, fn.Line(3), sess.Location.Line)

	// entry continue + three boot + the step's own resume; the landing holds
	settledContinues(t, drv, 5)
	assert.True(t, drv.Process().Suspended())

	log.mu.Lock()
	steps := len(log.steps)
	log.mu.Unlock()
	assert.Equal(t, 1, steps)

	// a second step moves one more line
	require.NoError(t, eng.Step(domain.StepOver))
	res, err = eng.WaitForStepComplete(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, OutcomeObserved, res.Outcome)
	assert.Equal(t, fn.Line(4), res.Location.Line)
}

func TestStepOffTheEndExits(t *testing.T) {
	tgt, fn := newExitScript()
	eng, _ := newTestDebugger(t, tgt)
	launchHeld(t, eng)
	pauseAtLine(t, eng, fn, fn.Line(2))

	// stepping off the last statement exits instead of landing
	require.NoError(t, eng.Step(domain.StepOver))
	waitState(t, eng, domain.StateDisconnected)
	require.NotNil(t, eng.ExitCode())
	assert.Equal(t, 0, *eng.ExitCode())

	// no landing ever arrives; the wait runs out instead of hanging
	res, err := eng.WaitForStepComplete(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
}

func TestDisconnect(t *testing.T) {
	t.Run("detaches an attach session", func(t *testing.T) {
		tgt, _ := newScript()
		eng, _ := newTestDebugger(t, tgt)
		attachRunning(t, eng, tgt)

		require.NoError(t, eng.Disconnect())
		assert.Nil(t, eng.Session())
		assert.Nil(t, eng.ExitCode())
		require.NoError(t, eng.Disconnect())

		// the target is free for a fresh session
		attachRunning(t, eng, tgt)
	})

	t.Run("terminates a launch session", func(t *testing.T) {
		tgt, fn := newScript()
		eng, _ := newTestDebugger(t, tgt)
		launchHeld(t, eng)
		pauseAtLine(t, eng, fn, fn.Line(2))

		require.NoError(t, eng.Disconnect())
		assert.Nil(t, eng.Session())
	})

	t.Run("abandons blocked waiters", func(t *testing.T) {
		tgt, _ := newScript()
		eng, _ := newTestDebugger(t, tgt)
		attachRunning(t, eng, tgt)

		errCh := make(chan error, 1)
		go func() {
			_, err := eng.WaitForState(context.Background(), domain.StatePaused, 5*time.Second)
			errCh <- err
		}()
		require.Eventually(t, func() bool {
			eng.hub.mu.Lock()
			defer eng.hub.mu.Unlock()
			return eng.hub.state != nil
		}, 2*time.Second, time.Millisecond)

		require.NoError(t, eng.Disconnect())
		select {
		case err := <-errCh:
			require.Error(t, err)
			assert.True(t, IsCode(err, CodeWrongState))
		case <-time.After(2 * time.Second):
			t.Fatal("waiter was not abandoned")
		}
	})
}
