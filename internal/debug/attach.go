package debug

import (
	"context"
	"errors"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// reserveBootstrap claims the engine for one attach/launch handshake.
func (d *Debugger) reserveBootstrap(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess != nil {
		return errf(CodeWrongState, op, "a session is already active (pid %d)", d.sess.PID)
	}
	if d.bootstrapping {
		return errf(CodeBusy, op, "another attach or launch is in progress")
	}
	d.bootstrapping = true
	return nil
}

func (d *Debugger) releaseBootstrap() {
	d.mu.Lock()
	d.bootstrapping = false
	d.mu.Unlock()
}

// Attach connects to a running process hosting a supported runtime and
// leaves it Running. The attach is non-suspending: the debuggee keeps
// executing while events begin to flow.
func (d *Debugger) Attach(ctx context.Context, pid int) (*domain.Session, error) {
	const op = "attach"

	if err := d.reserveBootstrap(op); err != nil {
		return nil, err
	}
	defer d.releaseBootstrap()

	runtimes, err := d.driver.EnumerateRuntimes(pid)
	switch {
	case errors.Is(err, nativedbg.ErrProcessNotFound):
		return nil, wrapf(CodeNotFound, op, err, "process %d not found", pid)
	case errors.Is(err, nativedbg.ErrNoRuntime):
		return nil, wrapf(CodeNotFound, op, err, "process %d hosts no supported runtime", pid)
	case err != nil:
		return nil, wrapf(CodeNativeFailure, op, err, "enumerate runtimes in pid %d", pid)
	case len(runtimes) == 0:
		return nil, errf(CodeNotFound, op, "process %d hosts no supported runtime", pid)
	}
	rt := runtimes[len(runtimes)-1] // newest runtime wins when several are loaded

	gate := make(chan struct{})
	handler := func(ev nativedbg.Event) {
		<-gate
		d.handleEvent(ev)
	}
	proc, err := d.driver.Attach(pid, rt, handler)
	if err != nil {
		close(gate)
		return nil, wrapf(CodeNativeFailure, op, err, "native attach to pid %d rejected", pid)
	}

	sess := &domain.Session{
		ID:             uuid.NewV4().String(),
		PID:            pid,
		ProcessName:    proc.Name(),
		RuntimeVersion: rt.Version,
		Mode:           domain.ModeAttach,
		State:          domain.StateRunning,
		StartedAt:      d.clock.Now(),
	}

	d.mu.Lock()
	d.sess = sess
	d.proc = proc
	d.exitCode = nil
	d.entryHold = false
	d.modules = map[string]nativedbg.ModuleInfo{}
	d.mu.Unlock()
	close(gate)

	d.log.Info("attached",
		zap.Int("pid", pid),
		zap.String("process", proc.Name()),
		zap.String("runtime", rt.Version))
	return d.Session(), nil
}
