package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mdbg-dev/mdbg/internal/breakpoint"
	"github.com/mdbg-dev/mdbg/internal/config"
	"github.com/mdbg-dev/mdbg/internal/debug"
	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/nativedbg/sim"
	"github.com/mdbg-dev/mdbg/internal/output"
	"github.com/mdbg-dev/mdbg/internal/tmux"
)

// DoctorCmd checks the environment and runs a self-test debug session
type DoctorCmd struct{}

// checkResult holds the result of a diagnostic check
type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // ok, warning, error
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// doctorReport is the complete diagnostic report
type doctorReport struct {
	Type       string        `json:"type"`
	Timestamp  string        `json:"timestamp"`
	Checks     []checkResult `json:"checks"`
	AllPassed  bool          `json:"all_passed"`
	ErrorCount int           `json:"error_count"`
	WarnCount  int           `json:"warn_count"`
}

// Run executes the doctor command
func (c *DoctorCmd) Run(globals *Globals) error {
	report := doctorReport{
		Type:      "doctor",
		Timestamp: time.Now().Format(time.RFC3339),
		AllPassed: true,
	}

	report.Checks = append(report.Checks,
		c.checkNativeBridge(),
		c.checkTmux(),
		c.checkConfig(),
		c.checkStateDir(),
		c.checkSimSession(globals),
	)

	for _, check := range report.Checks {
		switch check.Status {
		case "error":
			report.ErrorCount++
			report.AllPassed = false
		case "warning":
			report.WarnCount++
		}
	}

	if globals.Format == "ndjson" {
		return output.NewNDJSONWriter(globals.Stdout).Write(&report)
	}

	fmt.Fprintln(globals.Stdout, "mdbg doctor")
	fmt.Fprintln(globals.Stdout)
	for _, check := range report.Checks {
		fmt.Fprintf(globals.Stdout, "[%s] %s: %s\n", check.Status, check.Name, check.Message)
		if check.Details != "" {
			fmt.Fprintf(globals.Stdout, "      %s\n", check.Details)
		}
	}
	fmt.Fprintln(globals.Stdout)
	if report.AllPassed {
		fmt.Fprintln(globals.Stdout, "All checks passed")
	} else {
		fmt.Fprintf(globals.Stdout, "%d error(s), %d warning(s)\n", report.ErrorCount, report.WarnCount)
	}
	return nil
}

// checkNativeBridge reports whether real processes can be debugged.
func (c *DoctorCmd) checkNativeBridge() checkResult {
	if _, err := nativedbg.NewNativeDriver(); err != nil {
		return checkResult{
			Name:    "Native debugging bridge",
			Status:  "warning",
			Message: err.Error(),
			Details: "only the sim backend is available; run sessions with --backend sim",
		}
	}
	return checkResult{Name: "Native debugging bridge", Status: "ok", Message: "available"}
}

func (c *DoctorCmd) checkTmux() checkResult {
	if !tmux.IsTmuxAvailable() {
		return checkResult{
			Name:    "tmux",
			Status:  "warning",
			Message: "tmux not found in PATH",
			Details: "--tmux session mirroring will be unavailable",
		}
	}
	return checkResult{Name: "tmux", Status: "ok", Message: "available"}
}

func (c *DoctorCmd) checkConfig() checkResult {
	if path := config.ConfigFile(); path != "" {
		if _, err := config.LoadFromFile(path); err != nil {
			return checkResult{Name: "Configuration", Status: "error", Message: err.Error(), Details: path}
		}
		return checkResult{Name: "Configuration", Status: "ok", Message: "loaded " + path}
	}
	return checkResult{Name: "Configuration", Status: "ok", Message: "built-in defaults (no config file)"}
}

// checkStateDir verifies breakpoint and exception state can be persisted.
func (c *DoctorCmd) checkStateDir() checkResult {
	home, err := os.UserHomeDir()
	if err != nil {
		return checkResult{Name: "State directory", Status: "warning", Message: err.Error()}
	}
	dir := filepath.Join(home, ".mdbg")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return checkResult{Name: "State directory", Status: "warning", Message: err.Error(), Details: dir}
	}
	if !c.checkWritePermission(dir) {
		return checkResult{
			Name:    "State directory",
			Status:  "warning",
			Message: "not writable",
			Details: dir + " (breakpoint and exception history will not persist)",
		}
	}
	return checkResult{Name: "State directory", Status: "ok", Message: dir}
}

// checkWritePermission tests if we can write to a directory
func (c *DoctorCmd) checkWritePermission(dir string) bool {
	probe := filepath.Join(dir, ".mdbg-doctor-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// checkSimSession drives a full debug cycle against the built-in sample
// target: launch held at entry, bind a breakpoint, hit it, read variables,
// evaluate a property, step, and run to a clean exit.
func (c *DoctorCmd) checkSimSession(globals *Globals) checkResult {
	const name = "Self-test debug session"
	fail := func(stage string, err error) checkResult {
		return checkResult{Name: name, Status: "error", Message: stage, Details: err.Error()}
	}

	target, fn := sim.SampleTarget()
	parts := buildEngine(globals, sim.NewDriver(target))
	defer parts.close()
	eng := parts.eng
	defer eng.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := eng.Launch(ctx, debug.LaunchConfig{Executable: "SampleApp.dll", StopAtEntry: true})
	if err != nil {
		return fail("launch failed", err)
	}
	if !sess.Paused() {
		return fail("launch", fmt.Errorf("expected an entry pause, got state %s", sess.State))
	}

	// Set before any module has loaded, so this also proves the
	// pending-to-bound path.
	bpLine := fn.Line(1)
	if _, err := parts.bps.Set(breakpoint.Spec{File: fn.File(), Line: bpLine}); err != nil {
		return fail("set breakpoint failed", err)
	}
	if err := eng.Continue(); err != nil {
		return fail("continue from entry failed", err)
	}

	res, err := eng.WaitForState(ctx, domain.StatePaused, 10*time.Second)
	if err != nil {
		return fail("wait for breakpoint failed", err)
	}
	if res.Outcome != debug.OutcomeObserved {
		return fail("wait for breakpoint", fmt.Errorf("breakpoint not hit within timeout"))
	}
	hit := eng.Session()
	if hit == nil || hit.PauseReason != domain.PauseBreakpoint {
		return fail("breakpoint", fmt.Errorf("expected a breakpoint pause, got %+v", hit))
	}
	bps := parts.bps.List()
	if len(bps) != 1 || bps[0].State != breakpoint.StateBound || bps[0].HitCount != 1 {
		return fail("breakpoint", fmt.Errorf("expected one bound breakpoint with one hit, got %+v", bps))
	}

	vars, err := eng.GetVariables(hit.ThreadID, 0, 1)
	if err != nil {
		return fail("read variables failed", err)
	}
	if len(vars) == 0 {
		return fail("read variables", fmt.Errorf("no variables visible at the breakpoint"))
	}

	ev, err := eng.Evaluate(ctx, "this.Summary", hit.ThreadID, 0, 0)
	if err != nil {
		return fail("evaluate failed", err)
	}

	if err := eng.Step(domain.StepOver); err != nil {
		return fail("step failed", err)
	}
	stepRes, err := eng.WaitForStepComplete(ctx, 10*time.Second)
	if err != nil {
		return fail("wait for step failed", err)
	}
	if stepRes.Outcome != debug.OutcomeObserved {
		return fail("step", fmt.Errorf("step did not complete within timeout"))
	}

	if err := eng.Continue(); err != nil {
		return fail("final continue failed", err)
	}
	endRes, err := eng.WaitForState(ctx, domain.StateDisconnected, 10*time.Second)
	if err != nil {
		return fail("wait for exit failed", err)
	}
	if endRes.Outcome != debug.OutcomeObserved {
		return fail("exit", fmt.Errorf("process did not exit within timeout"))
	}
	code := eng.ExitCode()
	if code == nil || *code != 0 {
		return fail("exit", fmt.Errorf("expected exit code 0, got %v", code))
	}

	return checkResult{
		Name:   name,
		Status: "ok",
		Message: fmt.Sprintf("launch, breakpoint at %s:%d, %d variables, eval %s = %s, step, exit 0",
			filepath.Base(fn.File()), bpLine, len(vars), ev.Expression, ev.Value),
	}
}
