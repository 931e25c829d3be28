package debug

import (
	"context"
	"io"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// LaunchConfig describes the process to create under the debugger.
type LaunchConfig struct {
	Executable  string
	Args        []string
	Cwd         string
	Env         []string // KEY=VALUE pairs appended to the inherited environment
	StopAtEntry bool

	Stdout io.Writer
	Stderr io.Writer
}

// Launch creates the target suspended, waits for its runtime to come up,
// binds the debug interface and returns with the session Running, or Paused
// at the first stop when StopAtEntry is set. A handshake that outlives the
// launch timeout kills the half-started process so it never leaks.
func (d *Debugger) Launch(ctx context.Context, cfg LaunchConfig) (*domain.Session, error) {
	const op = "launch"

	if cfg.Executable == "" {
		return nil, errf(CodeNotFound, op, "no executable given")
	}
	if err := d.reserveBootstrap(op); err != nil {
		return nil, err
	}
	defer d.releaseBootstrap()

	pend, err := d.driver.LaunchSuspended(nativedbg.LaunchSpec{
		Executable: cfg.Executable,
		Args:       cfg.Args,
		Dir:        cfg.Cwd,
		Env:        cfg.Env,
		Stdout:     cfg.Stdout,
		Stderr:     cfg.Stderr,
	})
	if err != nil {
		return nil, wrapf(CodeNativeFailure, op, err, "create suspended process %q", cfg.Executable)
	}

	// The runtime-ready callback must be registered before the first
	// instruction runs; registering after resume is a protocol violation.
	runtimeReady := make(chan nativedbg.RuntimeInstance, 1)
	if err := pend.NotifyRuntimeStartup(func(rt nativedbg.RuntimeInstance) {
		runtimeReady <- rt
	}); err != nil {
		d.killPending(pend)
		return nil, wrapf(CodeNativeFailure, op, err, "register runtime-startup callback")
	}
	if err := pend.Resume(); err != nil {
		d.killPending(pend)
		return nil, wrapf(CodeNativeFailure, op, err, "resume suspended process")
	}

	var rt nativedbg.RuntimeInstance
	timer := d.clock.Timer(d.opts.LaunchTimeout)
	defer timer.Stop()
	select {
	case rt = <-runtimeReady:
	case <-timer.C:
		d.killPending(pend)
		return nil, errf(CodeTimeout, op, "runtime did not start within %s", d.opts.LaunchTimeout)
	case <-ctx.Done():
		d.killPending(pend)
		return nil, ctx.Err()
	}

	gate := make(chan struct{})
	handler := func(ev nativedbg.Event) {
		<-gate
		d.handleEvent(ev)
	}
	proc, err := pend.Bind(rt, handler)
	if err != nil {
		close(gate)
		d.killPending(pend)
		return nil, wrapf(CodeNativeFailure, op, err, "bind debug interface")
	}

	sess := &domain.Session{
		ID:             uuid.NewV4().String(),
		PID:            proc.PID(),
		ProcessName:    proc.Name(),
		ExecutablePath: cfg.Executable,
		RuntimeVersion: rt.Version,
		Mode:           domain.ModeLaunch,
		State:          domain.StateRunning,
		Args:           cfg.Args,
		Cwd:            cfg.Cwd,
		StartedAt:      d.clock.Now(),
	}

	d.mu.Lock()
	d.sess = sess
	d.proc = proc
	d.exitCode = nil
	d.entryHold = cfg.StopAtEntry
	d.modules = map[string]nativedbg.ModuleInfo{}
	d.mu.Unlock()
	close(gate)

	if cfg.StopAtEntry {
		res, err := d.WaitForState(ctx, domain.StatePaused, d.opts.LaunchTimeout)
		if err != nil {
			return nil, err
		}
		if res.Outcome != OutcomeObserved {
			return nil, errf(CodeTimeout, op, "entry stop not reached within %s", d.opts.LaunchTimeout)
		}
	}

	d.log.Info("launched",
		zap.String("executable", cfg.Executable),
		zap.Int("pid", sess.PID),
		zap.Bool("stop_at_entry", cfg.StopAtEntry),
		zap.String("runtime", rt.Version))
	return d.Session(), nil
}

// killPending reaps a half-launched process. Best effort: the launch is
// already failing for its own reason.
func (d *Debugger) killPending(p nativedbg.PendingProcess) {
	if err := p.Kill(); err != nil {
		d.log.Warn("kill pending process failed", zap.Int("pid", p.PID()), zap.Error(err))
	}
}
