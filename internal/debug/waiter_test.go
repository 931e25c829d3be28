package debug

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "observed", OutcomeObserved.String())
	assert.Equal(t, "timed_out", OutcomeTimedOut.String())
	assert.Equal(t, "cancelled", OutcomeCancelled.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

func TestWaitForStateFastPath(t *testing.T) {
	tgt, _ := newScript()
	eng, _ := newTestDebugger(t, tgt)
	attachRunning(t, eng, tgt)

	res, err := eng.WaitForState(context.Background(), domain.StateRunning, time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeObserved, res.Outcome)
	assert.Equal(t, domain.StateRunning, res.State)
}

func TestWaitForStateTimeout(t *testing.T) {
	tgt, _ := newScript()
	eng, _ := newTestDebugger(t, tgt)
	attachRunning(t, eng, tgt)

	res, err := eng.WaitForState(context.Background(), domain.StatePaused, 50*time.Millisecond)
	require.NoError(t, err, "a timeout is an outcome, not a failure")
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
}

func TestWaitForStateCancelled(t *testing.T) {
	tgt, _ := newScript()
	eng, _ := newTestDebugger(t, tgt)
	attachRunning(t, eng, tgt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := eng.WaitForState(ctx, domain.StatePaused, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}

func TestWaitForStateObserved(t *testing.T) {
	tgt, _ := newScript()
	eng, drv := newTestDebugger(t, tgt)
	attachRunning(t, eng, tgt)
	settledContinues(t, drv, 4)

	type outcome struct {
		res WaitResult
		err error
	}
	got := make(chan outcome, 1)
	go func() {
		res, err := eng.WaitForState(context.Background(), domain.StatePaused, 2*time.Second)
		got <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		eng.hub.mu.Lock()
		defer eng.hub.mu.Unlock()
		return eng.hub.state != nil
	}, time.Second, 5*time.Millisecond, "wait never registered")

	require.NoError(t, eng.Pause())

	o := <-got
	require.NoError(t, o.err)
	assert.Equal(t, OutcomeObserved, o.res.Outcome)
	assert.Equal(t, domain.StatePaused, o.res.State)
}

func TestWaitBusy(t *testing.T) {
	tgt, _ := newScript()
	eng, _ := newTestDebugger(t, tgt)
	attachRunning(t, eng, tgt)

	t.Run("step", func(t *testing.T) {
		pw, err := eng.hub.registerStep("test")
		require.NoError(t, err)
		defer eng.hub.clear(pw)

		_, err = eng.WaitForStepComplete(context.Background(), time.Second)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeBusy))
	})

	t.Run("state", func(t *testing.T) {
		pw, err := eng.hub.registerState("test", domain.StatePaused)
		require.NoError(t, err)
		defer eng.hub.clear(pw)

		_, err = eng.WaitForState(context.Background(), domain.StatePaused, time.Second)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeBusy))
	})
}

func TestWaitForStepCancelled(t *testing.T) {
	eng, _, _ := pausedEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := eng.WaitForStepComplete(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}

// A step that lands before anyone is blocked must still satisfy the next
// wait, and exactly once.
func TestStepCompletionLatches(t *testing.T) {
	eng, _, fn := pausedEngine(t)

	require.NoError(t, eng.Step(domain.StepOver))
	waitState(t, eng, domain.StatePaused)

	res, err := eng.WaitForStepComplete(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeObserved, res.Outcome)
	assert.Equal(t, domain.StatePaused, res.State)
	require.NotNil(t, res.Location)
	assert.Equal(t, fn.Line(3), res.Location.Line)

	// consumed: the next wait sees nothing
	res, err = eng.WaitForStepComplete(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
}

func TestStepDropsStaleLatch(t *testing.T) {
	eng, _, fn := pausedEngine(t)

	require.NoError(t, eng.Step(domain.StepOver))
	waitState(t, eng, domain.StatePaused)

	// the unobserved landing on line 3 is superseded by the new step
	require.NoError(t, eng.Step(domain.StepOver))
	waitState(t, eng, domain.StatePaused)

	res, err := eng.WaitForStepComplete(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, OutcomeObserved, res.Outcome)
	require.NotNil(t, res.Location)
	assert.Equal(t, fn.Line(4), res.Location.Line)
}

func TestHubSignalStateMatching(t *testing.T) {
	h := newWaitHub(clock.New())

	pw, err := h.registerState("test", domain.StatePaused)
	require.NoError(t, err)

	h.signalState(domain.StateRunning)
	select {
	case <-pw.done:
		t.Fatal("mismatched state must not wake the waiter")
	default:
	}

	h.signalState(domain.StatePaused)
	select {
	case sig := <-pw.done:
		assert.Equal(t, domain.StatePaused, sig.state)
	case <-time.After(time.Second):
		t.Fatal("matching state never delivered")
	}

	h.mu.Lock()
	assert.Nil(t, h.state, "fired waiter stays deregistered")
	h.mu.Unlock()
}

func TestHubClearIsIdentityChecked(t *testing.T) {
	h := newWaitHub(clock.New())

	pw, err := h.registerStep("test")
	require.NoError(t, err)

	h.clear(newPendingWait())
	h.mu.Lock()
	assert.Same(t, pw, h.step, "clearing a stranger leaves the waiter")
	h.mu.Unlock()

	h.clear(pw)
	_, err = h.registerStep("test")
	assert.NoError(t, err, "slot reusable after clear")
}

func TestHubStepLatchLifecycle(t *testing.T) {
	h := newWaitHub(clock.New())

	h.signalStep(&domain.SourceLocation{Line: 10})
	sig := h.takeStepLatch()
	require.NotNil(t, sig)
	assert.Equal(t, 10, sig.loc.Line)
	assert.Nil(t, h.takeStepLatch(), "latch consumes exactly once")

	h.signalStep(&domain.SourceLocation{Line: 11})
	h.dropStepLatch()
	assert.Nil(t, h.takeStepLatch())
}

func TestHubAbandonWakesAllWaiters(t *testing.T) {
	h := newWaitHub(clock.New())

	h.signalStep(&domain.SourceLocation{Line: 12}) // no waiter: latches

	step, err := h.registerStep("test")
	require.NoError(t, err)
	state, err := h.registerState("test", domain.StatePaused)
	require.NoError(t, err)

	torn := errors.New("session ended")
	h.abandon(torn)

	sig := <-step.done
	assert.ErrorIs(t, sig.err, torn)
	sig = <-state.done
	assert.ErrorIs(t, sig.err, torn)
	assert.Nil(t, h.takeStepLatch(), "abandon discards the latch")

	_, err = h.registerStep("test")
	assert.NoError(t, err, "slots free after abandon")
}
