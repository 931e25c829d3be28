package debug

import (
	"go.uber.org/zap"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// shouldAutoContinue is the continuation policy for every event that has no
// stronger rule of its own: resume the debuggee unless a stop-at-entry
// launch is still holding at its first stop. Kinds with stronger rules
// (StepComplete, ManualBreak and unhandled exceptions never resume,
// ProcessExited always does) decide in their handlers.
func shouldAutoContinue(entryHold bool) bool {
	return !entryHold
}

// handleEvent is the single dispatch path. The native layer delivers events
// strictly serialized and suspends the debuggee before each delivery; every
// branch below either issues exactly one continue or deliberately leaves the
// debuggee paused for a caller to resume. Attach and launch wrap this in a
// gate closure so no event is processed before the session is installed.
func (d *Debugger) handleEvent(ev nativedbg.Event) {
	d.log.Debug("native event",
		zap.Stringer("kind", ev.Kind),
		zap.Int("thread", ev.ThreadID))

	switch ev.Kind {
	case nativedbg.EventProcessCreated:
		d.onProcessCreated(ev)
	case nativedbg.EventBreakpointHit:
		d.onBreakpoint(ev)
	case nativedbg.EventException:
		d.onException(ev)
	case nativedbg.EventStepComplete:
		d.onStepComplete(ev)
	case nativedbg.EventManualBreak:
		d.onManualBreak(ev)
	case nativedbg.EventProcessExited:
		d.onProcessExited(ev)
	case nativedbg.EventEvalComplete, nativedbg.EventEvalException:
		d.onEvalDone(ev)
	case nativedbg.EventModuleLoaded:
		d.onModuleLoaded(ev)
	case nativedbg.EventModuleUnloaded:
		d.onModuleUnloaded(ev)
	case nativedbg.EventLogMessage:
		d.onRuntimeLog(ev)
	default:
		// app domain and thread lifecycle, name changes, symbol updates:
		// bookkeeping-free, resume per policy
		d.autoContinue(ev.Kind)
	}
}

// transitionLocked mutates the session along one lifecycle edge and returns
// the change record to publish after unlock. Paused carries reason, location
// and thread; Running and Disconnected clear all three. Callers hold d.mu.
func (d *Debugger) transitionLocked(st domain.LifecycleState, reason domain.PauseReason, loc *domain.SourceLocation, threadID int) *domain.StateChange {
	if d.sess == nil {
		return nil
	}
	from := d.sess.State
	d.sess.State = st
	if st == domain.StatePaused {
		d.sess.PauseReason = reason
		d.sess.Location = loc
		d.sess.ThreadID = threadID
	} else {
		d.sess.PauseReason = domain.PauseNone
		d.sess.Location = nil
		d.sess.ThreadID = 0
	}
	return domain.NewStateChange(from, st, d.sess.PauseReason, threadID, loc)
}

// afterTransition publishes the change and wakes matching state waiters.
// Subscribers observe the transition before waiters do.
func (d *Debugger) afterTransition(sc *domain.StateChange) {
	if sc == nil {
		return
	}
	d.subs.stateChanged(sc)
	d.hub.signalState(sc.To)
}

// autoContinue resumes the debuggee when the policy allows it.
func (d *Debugger) autoContinue(kind nativedbg.EventKind) {
	d.mu.Lock()
	hold := d.entryHold
	p := d.proc
	d.mu.Unlock()
	if !shouldAutoContinue(hold) {
		return
	}
	d.continueProcess(p, kind.String())
}

func (d *Debugger) continueProcess(p nativedbg.Process, after string) {
	if p == nil {
		return
	}
	if err := p.Continue(); err != nil {
		d.log.Warn("continue failed", zap.String("after", after), zap.Error(err))
	}
}

// resolveLocation fills File/Line through the symbol resolver when one is
// wired. The input location is never mutated.
func (d *Debugger) resolveLocation(loc *domain.SourceLocation) *domain.SourceLocation {
	if loc == nil || d.opts.Resolver == nil {
		return loc
	}
	resolved := *loc
	if d.opts.Resolver.Resolve(&resolved) {
		return &resolved
	}
	return loc
}

// onProcessCreated settles a stop-at-entry launch into its entry pause;
// otherwise it is a plain bookkeeping event.
func (d *Debugger) onProcessCreated(ev nativedbg.Event) {
	d.mu.Lock()
	hold := d.entryHold
	var sc *domain.StateChange
	if hold {
		sc = d.transitionLocked(domain.StatePaused, domain.PauseEntry, nil, ev.ThreadID)
	}
	d.mu.Unlock()

	if hold {
		d.afterTransition(sc)
		return
	}
	d.autoContinue(ev.Kind)
}

// onBreakpoint pauses at the hit and republishes it; a subscriber that wants
// the stop to be transparent requests continuation, which restores Running.
func (d *Debugger) onBreakpoint(ev nativedbg.Event) {
	loc := d.resolveLocation(ev.Location)

	d.mu.Lock()
	sc := d.transitionLocked(domain.StatePaused, domain.PauseBreakpoint, loc, ev.ThreadID)
	d.mu.Unlock()
	d.afterTransition(sc)

	notice := &BreakpointNotice{ThreadID: ev.ThreadID, Location: loc}
	d.subs.breakpointHit(notice)
	if !notice.RequestContinue {
		return
	}

	d.mu.Lock()
	sc = d.transitionLocked(domain.StateRunning, domain.PauseNone, nil, 0)
	p := d.proc
	d.mu.Unlock()
	d.afterTransition(sc)
	d.continueProcess(p, "transparent breakpoint")
}

// onException routes the two exception phases: first-chance continues unless
// a subscriber vetoes, unhandled always pauses.
func (d *Debugger) onException(ev nativedbg.Event) {
	info := nativedbg.ExceptionInfo{}
	if ev.Exception != nil {
		info = *ev.Exception
	}
	loc := d.resolveLocation(ev.Location)

	if info.Unhandled {
		d.mu.Lock()
		sc := d.transitionLocked(domain.StatePaused, domain.PauseException, loc, ev.ThreadID)
		d.mu.Unlock()
		d.afterTransition(sc)
		d.subs.exceptionHit(&ExceptionNotice{
			ThreadID:  ev.ThreadID,
			Location:  loc,
			Exception: info,
		})
		return
	}

	notice := &ExceptionNotice{
		ThreadID:    ev.ThreadID,
		Location:    loc,
		Exception:   info,
		FirstChance: true,
	}
	d.subs.exceptionHit(notice)
	if notice.RequestPause {
		d.mu.Lock()
		sc := d.transitionLocked(domain.StatePaused, domain.PauseException, loc, ev.ThreadID)
		d.mu.Unlock()
		d.afterTransition(sc)
		return
	}
	d.autoContinue(ev.Kind)
}

// onStepComplete lands the pending step. The caller that armed the step (or
// a step waiter) decides when execution resumes.
func (d *Debugger) onStepComplete(ev nativedbg.Event) {
	loc := d.resolveLocation(ev.Location)

	d.mu.Lock()
	d.pendingStep = false
	d.stepper = nil
	sc := d.transitionLocked(domain.StatePaused, domain.PauseStep, loc, ev.ThreadID)
	d.mu.Unlock()

	d.afterTransition(sc)
	d.hub.signalStep(loc)
	d.subs.stepCompleted(&StepNotice{ThreadID: ev.ThreadID, Location: loc})
}

// onManualBreak records a debuggee-initiated break. Never resumes.
func (d *Debugger) onManualBreak(ev nativedbg.Event) {
	loc := d.resolveLocation(ev.Location)

	d.mu.Lock()
	sc := d.transitionLocked(domain.StatePaused, domain.PauseRequested, loc, ev.ThreadID)
	d.mu.Unlock()
	d.afterTransition(sc)
}

// onProcessExited tears the session down and issues the mandatory final
// continue that lets the runtime finish unloading.
func (d *Debugger) onProcessExited(ev nativedbg.Event) {
	code := ev.ExitCode

	d.mu.Lock()
	p := d.proc
	d.proc = nil
	d.exitCode = &code
	d.entryHold = false
	d.pendingStep = false
	d.stepper = nil
	d.eval.failLocked(errf(CodeNativeFailure, "evaluate", "process exited during evaluation"))
	sc := d.transitionLocked(domain.StateDisconnected, domain.PauseNone, nil, 0)
	d.sess = nil
	d.mu.Unlock()

	d.afterTransition(sc)
	d.subs.processExited(code)
	d.hub.abandon(errf(CodeWrongState, "wait", "session ended while waiting"))

	d.log.Info("process exited", zap.Int("exit_code", code))
	d.continueProcess(p, "process exit")
}

// onEvalDone correlates an evaluation completion with the active slot. A
// matching completion is delivered and the debuggee stays suspended for the
// evaluating caller; anything else is stale and resumes per policy.
func (d *Debugger) onEvalDone(ev nativedbg.Event) {
	d.mu.Lock()
	delivered := d.eval.completeLocked(ev)
	d.mu.Unlock()

	if delivered {
		return
	}
	d.log.Debug("unmatched evaluation completion", zap.String("eval_id", ev.EvalID))
	d.autoContinue(ev.Kind)
}

func (d *Debugger) onModuleLoaded(ev nativedbg.Event) {
	if ev.Module != nil {
		mod := *ev.Module
		d.mu.Lock()
		d.modules[mod.Path] = mod
		d.mu.Unlock()
		d.subs.moduleLoaded(mod)
	}
	d.autoContinue(ev.Kind)
}

func (d *Debugger) onModuleUnloaded(ev nativedbg.Event) {
	if ev.Module != nil {
		mod := *ev.Module
		d.mu.Lock()
		delete(d.modules, mod.Path)
		d.mu.Unlock()
		d.subs.moduleUnloaded(mod)
	}
	d.autoContinue(ev.Kind)
}

func (d *Debugger) onRuntimeLog(ev nativedbg.Event) {
	d.subs.runtimeLog(&LogNotice{
		ThreadID: ev.ThreadID,
		Message:  ev.Message,
		Location: d.resolveLocation(ev.Location),
	})
	d.autoContinue(ev.Kind)
}
