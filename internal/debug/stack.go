package debug

import (
	"errors"

	"github.com/samber/lo"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/value"
)

// GetThreads lists the debuggee's threads. Allowed in both live states; the
// Current flag marks the thread that caused the most recent stop.
func (d *Debugger) GetThreads() ([]domain.ThreadInfo, error) {
	const op = "get_threads"

	d.mu.Lock()
	if st := d.stateLocked(); st == domain.StateDisconnected {
		d.mu.Unlock()
		return nil, wrongState(op, string(st), "Running or Paused")
	}
	p := d.proc
	active := d.sess.ThreadID
	d.mu.Unlock()

	threads, err := p.Threads()
	if err != nil {
		return nil, wrapf(CodeNativeFailure, op, err, "enumerate threads")
	}
	return lo.Map(threads, func(th nativedbg.Thread, _ int) domain.ThreadInfo {
		return domain.ThreadInfo{ID: th.ID(), Name: th.Name(), Current: th.ID() == active}
	}), nil
}

// GetStackFrames walks a paused thread's stack, innermost first, resolving
// source positions where symbols allow. threadID 0 means the stop thread;
// max 0 means no limit.
func (d *Debugger) GetStackFrames(threadID, max int) ([]domain.StackFrame, error) {
	const op = "get_stack_frames"

	p, threadID, err := d.pausedThread(op, threadID)
	if err != nil {
		return nil, err
	}

	th, err := p.Thread(threadID)
	if err != nil {
		return nil, wrapf(CodeNotFound, op, err, "thread %d", threadID)
	}
	frames, err := th.Frames(max)
	if err != nil {
		return nil, d.stackErr(op, err, threadID)
	}

	out := make([]domain.StackFrame, 0, len(frames))
	for i, fr := range frames {
		loc := fr.Location()
		resolved := d.resolveLocation(&loc)
		out = append(out, domain.StackFrame{
			Index:    i,
			Method:   resolved.Method,
			Module:   resolved.Module,
			Location: resolved,
			Internal: fr.Internal(),
		})
	}
	return out, nil
}

// GetVariables renders the receiver, locals and arguments of a paused
// frame, each expanded depth levels.
func (d *Debugger) GetVariables(threadID, frameIndex, depth int) ([]*domain.VariableNode, error) {
	const op = "get_variables"
	if depth <= 0 {
		depth = 1
	}

	p, threadID, err := d.pausedThread(op, threadID)
	if err != nil {
		return nil, err
	}
	frame, err := d.frameAt(op, p, threadID, frameIndex)
	if err != nil {
		return nil, err
	}

	var out []*domain.VariableNode
	add := func(name string, scope domain.VariableScope, v nativedbg.Value) error {
		node, err := value.Tree(name, name, scope, v, depth, d.opts.Value)
		if err != nil {
			return wrapf(CodeNativeFailure, op, err, "expand %s", name)
		}
		out = append(out, node)
		return nil
	}

	this, err := frame.This()
	if err != nil {
		return nil, wrapf(CodeNativeFailure, op, err, "read receiver")
	}
	if this != nil {
		if err := add("this", domain.ScopeThis, this); err != nil {
			return nil, err
		}
	}

	locals, err := frame.Locals()
	if err != nil {
		return nil, wrapf(CodeNativeFailure, op, err, "read locals")
	}
	for _, nv := range locals {
		if err := add(nv.Name, domain.ScopeLocal, nv.Value); err != nil {
			return nil, err
		}
	}

	args, err := frame.Arguments()
	if err != nil {
		return nil, wrapf(CodeNativeFailure, op, err, "read arguments")
	}
	for _, nv := range args {
		if err := add(nv.Name, domain.ScopeArgument, nv.Value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// pausedThread validates the paused precondition and defaults threadID to
// the stop thread.
func (d *Debugger) pausedThread(op string, threadID int) (nativedbg.Process, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.stateLocked(); st != domain.StatePaused {
		return nil, 0, wrongState(op, string(st), string(domain.StatePaused))
	}
	if threadID == 0 {
		threadID = d.sess.ThreadID
	}
	if threadID == 0 {
		// Paused without a stop thread (user-requested pause). Fall back to
		// the first runtime thread so frame and eval operations still work.
		threadID = firstThreadID(d.proc)
	}
	if threadID == 0 {
		return nil, 0, errf(CodeNotFound, op, "no runtime threads in target process")
	}
	return d.proc, threadID, nil
}

func firstThreadID(p nativedbg.Process) int {
	threads, err := p.Threads()
	if err != nil || len(threads) == 0 {
		return 0
	}
	return threads[0].ID()
}

// frameAt fetches one frame of a paused thread's stack.
func (d *Debugger) frameAt(op string, p nativedbg.Process, threadID, frameIndex int) (nativedbg.Frame, error) {
	th, err := p.Thread(threadID)
	if err != nil {
		return nil, wrapf(CodeNotFound, op, err, "thread %d", threadID)
	}
	frames, err := th.Frames(0)
	if err != nil {
		return nil, d.stackErr(op, err, threadID)
	}
	if frameIndex < 0 || frameIndex >= len(frames) {
		return nil, errf(CodeNotFound, op, "frame %d out of range (thread %d has %d frames)",
			frameIndex, threadID, len(frames))
	}
	return frames[frameIndex], nil
}

func (d *Debugger) stackErr(op string, err error, threadID int) error {
	switch {
	case errors.Is(err, nativedbg.ErrNotSuspended):
		return wrongState(op, string(domain.StateRunning), string(domain.StatePaused))
	case errors.Is(err, nativedbg.ErrProcessExited):
		return wrongState(op, string(domain.StateDisconnected), string(domain.StatePaused))
	default:
		return wrapf(CodeNativeFailure, op, err, "walk stack of thread %d", threadID)
	}
}
