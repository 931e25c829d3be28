package debug

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/value"
)

// DebuggeeException reports an exception raised inside the debuggee during a
// remote call. Callers reach it through errors.As on an EVAL_FAILED error.
type DebuggeeException struct {
	TypeName string
	Message  string
}

func (e *DebuggeeException) Error() string {
	if e.Message == "" {
		return e.TypeName
	}
	return fmt.Sprintf("%s: %s", e.TypeName, e.Message)
}

type evalOutcome struct {
	value nativedbg.Value
	exc   *nativedbg.ExceptionInfo
	err   error
}

// evalSlot serializes remote evaluations: the native protocol has no call
// stacking, so at most one evaluation operation may be in flight per
// process. Guarded by the engine's state lock.
type evalSlot struct {
	active bool
	id     string // correlation handle of the in-flight native call
	done   chan evalOutcome
}

func (s *evalSlot) acquireLocked(op string) error {
	if s.active {
		return errf(CodeBusy, op, "an evaluation is already in flight")
	}
	s.active = true
	return nil
}

func (s *evalSlot) releaseLocked() {
	s.active = false
	s.id = ""
	s.done = nil
}

func (s *evalSlot) armLocked(id string) chan evalOutcome {
	s.id = id
	s.done = make(chan evalOutcome, 1)
	return s.done
}

func (s *evalSlot) disarmLocked() {
	s.id = ""
	s.done = nil
}

// completeLocked correlates a native completion with the armed call. Stale
// or unknown completions are not delivered.
func (s *evalSlot) completeLocked(ev nativedbg.Event) bool {
	if !s.active || s.done == nil || s.id == "" || ev.EvalID != s.id {
		return false
	}
	out := evalOutcome{}
	if ev.Kind == nativedbg.EventEvalException {
		out.exc = ev.Exception
	} else {
		out.value = ev.Result
	}
	s.done <- out
	s.disarmLocked()
	return true
}

// failLocked wakes the armed call with err, if one is waiting.
func (s *evalSlot) failLocked(err error) {
	if s.done != nil {
		s.done <- evalOutcome{err: err}
	}
	s.disarmLocked()
}

// Evaluate resolves a member-access expression in a paused frame and
// formats the resulting value. Pure field access never touches the native
// evaluator; property getters and method calls run as remote calls under
// the single evaluation slot.
func (d *Debugger) Evaluate(ctx context.Context, expr string, threadID, frameIndex int, timeout time.Duration) (*domain.EvalResult, error) {
	const op = "evaluate"
	if timeout <= 0 {
		timeout = d.opts.EvalTimeout
	}

	p, threadID, err := d.beginEval(op, threadID)
	if err != nil {
		return nil, err
	}
	defer d.endEval()

	val, err := d.resolvePath(ctx, p, threadID, frameIndex, expr, timeout)
	if err != nil {
		d.log.Debug("evaluation failed", zap.String("expression", expr), zap.Error(err))
		return nil, err
	}

	info, err := value.Format(val, d.opts.Value)
	if err != nil {
		return nil, wrapf(CodeEvalFailed, op, err, "format result of %q", expr)
	}
	return &domain.EvalResult{
		Expression: expr,
		Value:      info.Display,
		TypeName:   info.TypeName,
		Expandable: info.Expandable,
	}, nil
}

// InspectObject resolves an expression like Evaluate and expands the result
// into a variable tree depth levels deep.
func (d *Debugger) InspectObject(ctx context.Context, expr string, depth, threadID, frameIndex int) (*domain.VariableNode, error) {
	const op = "inspect"
	if depth <= 0 {
		depth = 1
	}

	p, threadID, err := d.beginEval(op, threadID)
	if err != nil {
		return nil, err
	}
	defer d.endEval()

	val, err := d.resolvePath(ctx, p, threadID, frameIndex, expr, d.opts.EvalTimeout)
	if err != nil {
		return nil, err
	}

	name := expr
	scope := domain.ScopeLocal
	if i := lastDot(expr); i >= 0 {
		name = expr[i+1:]
		scope = domain.ScopeField
	} else if expr == "this" {
		scope = domain.ScopeThis
	}
	node, err := value.Tree(name, expr, scope, val, depth, d.opts.Value)
	if err != nil {
		return nil, wrapf(CodeEvalFailed, op, err, "expand %q", expr)
	}
	return node, nil
}

// beginEval validates the paused precondition and claims the evaluation
// slot. On success the caller owes endEval.
func (d *Debugger) beginEval(op string, threadID int) (nativedbg.Process, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.stateLocked(); st != domain.StatePaused {
		return nil, 0, wrongState(op, string(st), string(domain.StatePaused))
	}
	if err := d.eval.acquireLocked(op); err != nil {
		return nil, 0, err
	}
	if threadID == 0 {
		threadID = d.sess.ThreadID
	}
	if threadID == 0 {
		threadID = firstThreadID(d.proc)
	}
	if threadID == 0 {
		d.eval.releaseLocked()
		return nil, 0, errf(CodeNotFound, op, "no runtime threads in target process")
	}
	return d.proc, threadID, nil
}

// endEval releases the slot. Runs even when the evaluation failed so a
// wedged slot can never block future evaluations.
func (d *Debugger) endEval() {
	d.mu.Lock()
	d.eval.releaseLocked()
	d.mu.Unlock()
}

// remoteCall invokes a debuggee method out of process: arm the slot with the
// native call's correlation id, issue the call, resume the debuggee so it
// can run, and wait for the completion event. On timeout the call is aborted
// best-effort and the debuggee returns to its suspended state.
func (d *Debugger) remoteCall(ctx context.Context, p nativedbg.Process, threadID int, m nativedbg.Method, this nativedbg.Value, timeout time.Duration) (nativedbg.Value, error) {
	const op = "evaluate"

	ev, err := p.NewEval(threadID)
	if err != nil {
		return nil, wrapf(CodeNativeFailure, op, err, "create evaluation on thread %d", threadID)
	}

	d.mu.Lock()
	done := d.eval.armLocked(ev.ID())
	d.mu.Unlock()

	if err := ev.CallMethod(m, this, nil); err != nil {
		d.disarmEval()
		return nil, wrapf(CodeNativeFailure, op, err, "call %s", m.Name())
	}
	// remote calls execute only while the debuggee is resumed
	if err := p.Continue(); err != nil {
		d.disarmEval()
		return nil, wrapf(CodeNativeFailure, op, err, "resume debuggee for %s", m.Name())
	}

	timer := d.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.exc != nil {
			return nil, &Error{
				Code:    CodeEvalFailed,
				Op:      op,
				Message: fmt.Sprintf("%s raised %s", m.Name(), out.exc.TypeName),
				Err:     &DebuggeeException{TypeName: out.exc.TypeName, Message: out.exc.Message},
			}
		}
		return out.value, nil
	case <-timer.C:
		d.abortEval(ev)
		return nil, errf(CodeEvalTimeout, op, "%s did not complete within %s", m.Name(), timeout)
	case <-ctx.Done():
		d.abortEval(ev)
		return nil, ctx.Err()
	}
}

func (d *Debugger) disarmEval() {
	d.mu.Lock()
	d.eval.disarmLocked()
	d.mu.Unlock()
}

// abortEval stops an overdue native call. Best effort: if the abort itself
// fails the slot is still disarmed, so later evaluations are never wedged.
func (d *Debugger) abortEval(ev nativedbg.Eval) {
	if err := ev.Abort(); err != nil {
		d.log.Warn("abort evaluation failed", zap.Error(err))
	}
	d.disarmEval()
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
