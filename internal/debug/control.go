package debug

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// Continue resumes a paused debuggee and restores Running. It is also the
// explicit continue that releases a stop-at-entry hold.
func (d *Debugger) Continue() error {
	const op = "continue"

	d.mu.Lock()
	if st := d.stateLocked(); st != domain.StatePaused {
		d.mu.Unlock()
		return wrongState(op, string(st), string(domain.StatePaused))
	}
	p := d.proc
	if err := p.Continue(); err != nil {
		d.mu.Unlock()
		return wrapf(CodeNativeFailure, op, err, "native continue")
	}
	d.entryHold = false
	sc := d.transitionLocked(domain.StateRunning, domain.PauseNone, nil, 0)
	d.mu.Unlock()

	d.afterTransition(sc)
	return nil
}

// Step arms a stepper of the given kind on the paused thread and resumes.
// The landing stop arrives as a StepComplete event; use WaitForStepComplete
// to block on it. A step while an earlier one is still pending replaces it.
func (d *Debugger) Step(kind domain.StepKind) error {
	const op = "step"

	d.mu.Lock()
	if st := d.stateLocked(); st != domain.StatePaused {
		d.mu.Unlock()
		return wrongState(op, string(st), string(domain.StatePaused))
	}
	p := d.proc
	threadID := d.sess.ThreadID
	if threadID == 0 {
		threadID = firstThreadID(p)
	}
	if threadID == 0 {
		d.mu.Unlock()
		return errf(CodeNotFound, op, "paused session has no active thread")
	}

	if d.stepper != nil {
		if err := d.stepper.Deactivate(); err != nil {
			d.log.Warn("deactivate superseded stepper failed", zap.Error(err))
		}
		d.stepper = nil
		d.pendingStep = false
	}

	th, err := p.Thread(threadID)
	if err != nil {
		d.mu.Unlock()
		return wrapf(CodeNotFound, op, err, "thread %d", threadID)
	}
	stepper, err := th.NewStepper()
	if err != nil {
		d.mu.Unlock()
		return wrapf(CodeNativeFailure, op, err, "create stepper on thread %d", threadID)
	}
	if err := stepper.Step(kind); err != nil {
		d.mu.Unlock()
		return wrapf(CodeNativeFailure, op, err, "arm %s step", kind)
	}
	if err := p.Continue(); err != nil {
		if derr := stepper.Deactivate(); derr != nil {
			d.log.Warn("deactivate stepper after failed continue", zap.Error(derr))
		}
		d.mu.Unlock()
		return wrapf(CodeNativeFailure, op, err, "native continue")
	}
	d.stepper = stepper
	d.pendingStep = true
	d.entryHold = false
	sc := d.transitionLocked(domain.StateRunning, domain.PauseNone, nil, 0)
	d.mu.Unlock()

	d.hub.dropStepLatch()
	d.afterTransition(sc)
	return nil
}

// Pause stops all debuggee threads. Idempotent while already paused. Blocks
// until the native stop returns, bounded by the stop timeout.
func (d *Debugger) Pause() error {
	const op = "pause"

	d.mu.Lock()
	st := d.stateLocked()
	if st == domain.StatePaused {
		d.mu.Unlock()
		return nil
	}
	if st != domain.StateRunning {
		d.mu.Unlock()
		return wrongState(op, string(st), string(domain.StateRunning))
	}
	p := d.proc
	d.mu.Unlock()

	// The native stop blocks; it must not run under the state lock.
	if err := p.Stop(d.opts.StopTimeout); err != nil {
		if errors.Is(err, nativedbg.ErrProcessExited) {
			return wrongState(op, string(domain.StateDisconnected), string(domain.StateRunning))
		}
		return wrapf(CodeNativeFailure, op, err, "native stop")
	}

	d.mu.Lock()
	var sc *domain.StateChange
	// An event may have paused the session while the stop was in flight;
	// its reason wins over ours.
	if d.stateLocked() == domain.StateRunning {
		sc = d.transitionLocked(domain.StatePaused, domain.PauseRequested, nil, 0)
	}
	d.mu.Unlock()

	d.afterTransition(sc)
	return nil
}

// Disconnect ends the session: attach-mode targets are detached and keep
// running, launch-mode targets are terminated. Teardown failures are logged,
// never propagated; the session is gone either way. Idempotent.
func (d *Debugger) Disconnect() error {
	d.mu.Lock()
	p := d.proc
	sess := d.sess
	if sess == nil && p == nil {
		d.mu.Unlock()
		return nil
	}
	mode := domain.ModeAttach
	if sess != nil {
		mode = sess.Mode
	}
	d.proc = nil
	d.entryHold = false
	d.pendingStep = false
	d.stepper = nil
	d.eval.failLocked(errf(CodeWrongState, "evaluate", "session ended"))
	sc := d.transitionLocked(domain.StateDisconnected, domain.PauseNone, nil, 0)
	d.sess = nil
	d.mu.Unlock()

	var errs *multierror.Error
	if p != nil {
		if err := p.Stop(d.opts.StopTimeout); err != nil && !errors.Is(err, nativedbg.ErrProcessExited) {
			errs = multierror.Append(errs, fmt.Errorf("stop: %w", err))
		}
		switch mode {
		case domain.ModeLaunch:
			if err := p.Terminate(); err != nil && !errors.Is(err, nativedbg.ErrProcessExited) {
				errs = multierror.Append(errs, fmt.Errorf("terminate: %w", err))
			}
		default:
			if err := p.Detach(); err != nil && !errors.Is(err, nativedbg.ErrProcessExited) {
				errs = multierror.Append(errs, fmt.Errorf("detach: %w", err))
			}
		}
	}

	d.afterTransition(sc)
	d.hub.abandon(errf(CodeWrongState, "wait", "session ended while waiting"))

	if err := errs.ErrorOrNil(); err != nil {
		d.log.Warn("session teardown reported native failures", zap.Error(err))
	} else {
		d.log.Info("session ended", zap.String("mode", string(mode)))
	}
	return nil
}
