package output

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/mdbg-dev/mdbg/internal/breakpoint"
	"github.com/mdbg-dev/mdbg/internal/domain"
)

// Table renderings for text output mode. NDJSON mode never calls these.

// RenderThreads writes a table of managed threads.
func RenderThreads(w io.Writer, threads []domain.ThreadInfo) error {
	tbl := tablewriter.NewTable(w)
	tbl.Header([]string{"ID", "NAME", "CURRENT"})
	for _, th := range threads {
		current := ""
		if th.Current {
			current = "*"
		}
		if err := tbl.Append([]string{strconv.Itoa(th.ID), th.Name, current}); err != nil {
			return err
		}
	}
	return tbl.Render()
}

// RenderFrames writes a call stack table, innermost frame first.
func RenderFrames(w io.Writer, frames []domain.StackFrame) error {
	tbl := tablewriter.NewTable(w)
	tbl.Header([]string{"#", "METHOD", "SOURCE", "MODULE"})
	for _, fr := range frames {
		method := fr.Method
		if fr.Internal {
			method = "[" + method + "]"
		}
		row := []string{
			strconv.Itoa(fr.Index),
			method,
			sourceOf(fr.Location),
			filepath.Base(fr.Module),
		}
		if err := tbl.Append(row); err != nil {
			return err
		}
	}
	return tbl.Render()
}

// RenderVariables writes a variable table, with expanded children indented
// under their parent.
func RenderVariables(w io.Writer, vars []*domain.VariableNode) error {
	tbl := tablewriter.NewTable(w)
	tbl.Header([]string{"NAME", "TYPE", "VALUE", "SCOPE"})
	var rows [][]string
	flattenVariables(&rows, vars, 0)
	for _, row := range rows {
		if err := tbl.Append(row); err != nil {
			return err
		}
	}
	return tbl.Render()
}

// Children are listed under their parent by full path rather than indent so
// the NAME cell can be pasted straight back into an inspect call.
func flattenVariables(rows *[][]string, nodes []*domain.VariableNode, depth int) {
	for _, n := range nodes {
		name := n.Name
		if depth > 0 && n.Path != "" {
			name = n.Path
		}
		value := n.Value
		if n.Expandable && len(n.Children) == 0 {
			value += " +"
		}
		*rows = append(*rows, []string{name, n.TypeName, value, string(n.Scope)})
		flattenVariables(rows, n.Children, depth+1)
	}
}

// RenderBreakpoints writes the breakpoint table.
func RenderBreakpoints(w io.Writer, bps []breakpoint.Breakpoint) error {
	tbl := tablewriter.NewTable(w)
	tbl.Header([]string{"ID", "LOCATION", "STATE", "ENABLED", "HITS", "MODULE"})
	for _, bp := range bps {
		loc := fmt.Sprintf("%s:%d", bp.File, bp.Line)
		if bp.BoundLine != 0 && bp.BoundLine != bp.Line {
			loc += " -> " + strconv.Itoa(bp.BoundLine)
		}
		enabled := "yes"
		if !bp.Enabled {
			enabled = "no"
		}
		row := []string{
			strconv.Itoa(bp.ID),
			loc,
			string(bp.State),
			enabled,
			strconv.Itoa(bp.HitCount),
			filepath.Base(bp.Module),
		}
		if err := tbl.Append(row); err != nil {
			return err
		}
	}
	return tbl.Render()
}

// RenderProcesses writes the candidate debuggee table for ps.
func RenderProcesses(w io.Writer, rows []ProcessRow) error {
	tbl := tablewriter.NewTable(w)
	tbl.Header([]string{"PID", "PPID", "EXECUTABLE", "RUNTIME"})
	for _, row := range rows {
		cells := []string{
			strconv.Itoa(row.PID),
			strconv.Itoa(row.PPID),
			row.Executable,
			row.Runtime,
		}
		if err := tbl.Append(cells); err != nil {
			return err
		}
	}
	return tbl.Render()
}

// RenderExceptionHistory writes the persisted exception signatures, most
// hits first.
func RenderExceptionHistory(w io.Writer, recs []*ExceptionRecord) error {
	tbl := tablewriter.NewTable(w)
	tbl.Header([]string{"SIGNATURE", "HITS", "FIRST SEEN", "LAST SEEN"})
	for _, rec := range recs {
		row := []string{
			rec.Signature,
			strconv.Itoa(rec.TotalHits),
			rec.FirstSeen.Format("2006-01-02 15:04"),
			rec.LastSeen.Format("2006-01-02 15:04"),
		}
		if err := tbl.Append(row); err != nil {
			return err
		}
	}
	return tbl.Render()
}

func sourceOf(loc *domain.SourceLocation) string {
	if loc == nil || loc.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", loc.File, loc.Line)
}
