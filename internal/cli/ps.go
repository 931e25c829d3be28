package cli

import (
	"fmt"

	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/output"
)

// PsCmd lists processes that look like attachable debuggees
type PsCmd struct {
	Filter string `arg:"" optional:"" help:"Case-insensitive substring match on the executable name"`
	All    bool   `short:"a" help:"Include processes with no detected managed runtime"`
}

// Run executes the ps command
func (c *PsCmd) Run(globals *Globals) error {
	// Runtime detection needs the native bridge; without it the listing
	// still works, it just cannot flag debuggables.
	drv, err := nativedbg.NewNativeDriver()
	if err != nil {
		drv = nil
		globals.Debug("runtime probe unavailable: %v", err)
	}

	procs, err := nativedbg.ListCandidates(drv, c.Filter)
	if err != nil {
		return outputErrorCommon(globals, "LIST_FAILED", "ps", err.Error())
	}

	probing := drv != nil
	rows := make([]output.ProcessRow, 0, len(procs))
	for _, p := range procs {
		if probing && !c.All && !p.Debuggable {
			continue
		}
		rows = append(rows, output.ProcessRow{
			PID:        p.PID,
			PPID:       p.PPID,
			Executable: p.Name,
			Runtime:    p.Runtime,
		})
	}

	if globals.Format == "ndjson" {
		w := output.NewNDJSONWriter(globals.Stdout)
		for _, row := range rows {
			if err := w.WriteProcess(row); err != nil {
				return err
			}
		}
		return nil
	}

	if len(rows) == 0 {
		fmt.Fprintln(globals.Stderr, "No matching processes")
		return nil
	}
	if !probing && !globals.Quiet {
		fmt.Fprintln(globals.Stderr, "Note: runtime detection unavailable, showing all processes")
	}
	return output.RenderProcesses(globals.Stdout, rows)
}
