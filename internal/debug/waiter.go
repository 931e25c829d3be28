package debug

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

// Outcome classifies how a blocking wait ended. Timeouts are outcomes, not
// errors: they mean the condition was not observed in time.
type Outcome int

const (
	OutcomeObserved Outcome = iota
	OutcomeTimedOut
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeObserved:
		return "observed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// WaitResult reports what a wait observed.
type WaitResult struct {
	Outcome  Outcome
	State    domain.LifecycleState  // state waits: the state observed
	Location *domain.SourceLocation // step waits: where execution landed
}

type waitSignal struct {
	state domain.LifecycleState
	loc   *domain.SourceLocation
	err   error // set when the wait was abandoned (session tear-down)
}

type pendingWait struct {
	done chan waitSignal
}

func newPendingWait() *pendingWait {
	return &pendingWait{done: make(chan waitSignal, 1)}
}

// waitHub is the synchronization bridge between the dispatch path and
// blocked callers. At most one step wait and one state wait are outstanding
// at a time; a second registration of the same kind is rejected.
type waitHub struct {
	clock clock.Clock

	mu          sync.Mutex
	step        *pendingWait
	stepLatch   *waitSignal // completion that landed with no waiter blocked
	state       *pendingWait
	stateTarget domain.LifecycleState
}

func newWaitHub(c clock.Clock) *waitHub {
	return &waitHub{clock: c}
}

func (h *waitHub) registerStep(op string) (*pendingWait, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.step != nil {
		return nil, errf(CodeBusy, op, "a step wait is already outstanding")
	}
	pw := newPendingWait()
	h.step = pw
	return pw, nil
}

func (h *waitHub) registerState(op string, target domain.LifecycleState) (*pendingWait, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != nil {
		return nil, errf(CodeBusy, op, "a state wait is already outstanding")
	}
	pw := newPendingWait()
	h.state = pw
	h.stateTarget = target
	return pw, nil
}

// clear removes pw from whichever slot still holds it. Identity-checked so a
// late clear never evicts a successor wait.
func (h *waitHub) clear(pw *pendingWait) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.step == pw {
		h.step = nil
	}
	if h.state == pw {
		h.state = nil
	}
}

// signalStep wakes the step waiter with the landing location. With no waiter
// blocked the completion is latched so a wait that starts just after the step
// lands still observes it.
func (h *waitHub) signalStep(loc *domain.SourceLocation) {
	h.mu.Lock()
	pw := h.step
	h.step = nil
	if pw == nil {
		h.stepLatch = &waitSignal{loc: loc}
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	pw.done <- waitSignal{loc: loc}
}

// takeStepLatch consumes the latched completion, if one is pending.
func (h *waitHub) takeStepLatch() *waitSignal {
	h.mu.Lock()
	defer h.mu.Unlock()
	sig := h.stepLatch
	h.stepLatch = nil
	return sig
}

// dropStepLatch discards a latched completion. Arming a fresh step
// supersedes an unobserved older landing.
func (h *waitHub) dropStepLatch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stepLatch = nil
}

// signalState wakes the state waiter when the new state matches its target.
func (h *waitHub) signalState(st domain.LifecycleState) {
	h.mu.Lock()
	pw := h.state
	if pw == nil || h.stateTarget != st {
		h.mu.Unlock()
		return
	}
	h.state = nil
	h.mu.Unlock()
	pw.done <- waitSignal{state: st}
}

// abandon wakes every outstanding waiter with err. Called when the session
// ends while waits are still blocked on it.
func (h *waitHub) abandon(err error) {
	h.mu.Lock()
	step, state := h.step, h.state
	h.step, h.state = nil, nil
	h.stepLatch = nil
	h.mu.Unlock()
	if step != nil {
		step.done <- waitSignal{err: err}
	}
	if state != nil {
		state.done <- waitSignal{err: err}
	}
}

// await races the signal against the deadline and the caller's cancellation.
// Cancellation wins over a simultaneous deadline; timeout <= 0 waits
// indefinitely.
func (h *waitHub) await(ctx context.Context, pw *pendingWait, timeout time.Duration) (waitSignal, Outcome) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := h.clock.Timer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case sig := <-pw.done:
		return sig, OutcomeObserved
	case <-ctx.Done():
		h.clear(pw)
		return waitSignal{}, OutcomeCancelled
	case <-deadline:
		h.clear(pw)
		return waitSignal{}, OutcomeTimedOut
	}
}

// WaitForState blocks until the session's lifecycle state equals target, the
// timeout elapses, or ctx is cancelled. An already-matching state returns
// immediately. A second concurrent state wait fails with Busy.
func (d *Debugger) WaitForState(ctx context.Context, target domain.LifecycleState, timeout time.Duration) (WaitResult, error) {
	const op = "wait_for_state"

	d.mu.Lock()
	current := d.stateLocked()
	d.mu.Unlock()
	if current == target {
		return WaitResult{Outcome: OutcomeObserved, State: current}, nil
	}

	pw, err := d.hub.registerState(op, target)
	if err != nil {
		return WaitResult{}, err
	}

	// The state may have reached the target between the check and the
	// registration; re-check so the wait cannot miss it.
	d.mu.Lock()
	current = d.stateLocked()
	d.mu.Unlock()
	if current == target {
		d.hub.clear(pw)
		return WaitResult{Outcome: OutcomeObserved, State: current}, nil
	}

	sig, outcome := d.hub.await(ctx, pw, timeout)
	switch outcome {
	case OutcomeCancelled:
		return WaitResult{Outcome: OutcomeCancelled}, ctx.Err()
	case OutcomeTimedOut:
		return WaitResult{Outcome: OutcomeTimedOut}, nil
	}
	if sig.err != nil {
		return WaitResult{}, sig.err
	}
	return WaitResult{Outcome: OutcomeObserved, State: sig.state}, nil
}

// WaitForStepComplete blocks until the next step completes, the timeout
// elapses, or ctx is cancelled. A completion that landed before the wait
// started and was never observed satisfies it immediately. A second
// concurrent step wait fails with Busy.
func (d *Debugger) WaitForStepComplete(ctx context.Context, timeout time.Duration) (WaitResult, error) {
	const op = "wait_for_step"

	if sig := d.hub.takeStepLatch(); sig != nil {
		return WaitResult{Outcome: OutcomeObserved, State: domain.StatePaused, Location: sig.loc}, nil
	}

	pw, err := d.hub.registerStep(op)
	if err != nil {
		return WaitResult{}, err
	}
	sig, outcome := d.hub.await(ctx, pw, timeout)
	switch outcome {
	case OutcomeCancelled:
		return WaitResult{Outcome: OutcomeCancelled}, ctx.Err()
	case OutcomeTimedOut:
		return WaitResult{Outcome: OutcomeTimedOut}, nil
	}
	if sig.err != nil {
		return WaitResult{}, sig.err
	}
	return WaitResult{Outcome: OutcomeObserved, State: domain.StatePaused, Location: sig.loc}, nil
}
