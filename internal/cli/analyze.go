package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/output"
)

// AnalyzeCmd summarizes a captured session transcript
type AnalyzeCmd struct {
	File           string `arg:"" help:"Transcript file captured with --capture" type:"path"`
	PersistHistory bool   `help:"Fold the transcript's exceptions into the cross-session history"`
	HistoryFile    string `help:"Alternate exception history file" type:"path"`
}

type analysisException struct {
	Signature string     `json:"signature"`
	Count     int        `json:"count"`
	Unhandled bool       `json:"unhandled"`
	Known     bool       `json:"known"`
	FirstSeen *time.Time `json:"first_seen,omitempty"`
}

type analysisSummary struct {
	TotalEntries    int            `json:"total_entries"`
	ByType          map[string]int `json:"by_type"`
	SessionID       string         `json:"session_id,omitempty"`
	Process         string         `json:"process,omitempty"`
	PID             int            `json:"pid,omitempty"`
	Mode            string         `json:"mode,omitempty"`
	EndReason       string         `json:"end_reason,omitempty"`
	ExitCode        *int           `json:"exit_code,omitempty"`
	DurationSeconds int64          `json:"duration_seconds,omitempty"`
}

type analysisOutput struct {
	Type                string              `json:"type"`
	File                string              `json:"file"`
	Summary             analysisSummary     `json:"summary"`
	Exceptions          []analysisException `json:"exceptions,omitempty"`
	NewExceptionCount   int                 `json:"new_exception_count"`
	KnownExceptionCount int                 `json:"known_exception_count"`
}

// exceptionTally accumulates hits of one signature while scanning.
type exceptionTally struct {
	signature string
	count     int
	unhandled bool
}

// Run executes the analyze command
func (c *AnalyzeCmd) Run(globals *Globals) error {
	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	summary := analysisSummary{ByType: map[string]int{}}
	tallies := map[string]*exceptionTally{}
	order := []string{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !gjson.Valid(line) {
			continue
		}
		rec := gjson.Parse(line)
		typ := rec.Get("type").String()
		if typ == "" {
			continue
		}
		summary.TotalEntries++
		summary.ByType[typ]++

		switch typ {
		case "session_start":
			summary.SessionID = rec.Get("session_id").String()
			summary.Process = rec.Get("process").String()
			summary.PID = int(rec.Get("pid").Int())
			summary.Mode = rec.Get("mode").String()
		case "session_end":
			summary.EndReason = rec.Get("reason").String()
			summary.DurationSeconds = rec.Get("duration_seconds").Int()
			if code := rec.Get("exit_code"); code.Exists() {
				v := int(code.Int())
				summary.ExitCode = &v
			}
		case "exception":
			sig := rec.Get("signature").String()
			if sig == "" {
				sig = signatureFromRecord(rec)
			}
			t, ok := tallies[sig]
			if !ok {
				t = &exceptionTally{signature: sig}
				tallies[sig] = t
				order = append(order, sig)
			}
			t.count++
			if rec.Get("unhandled").Bool() {
				t.unhandled = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	if summary.TotalEntries == 0 {
		return fmt.Errorf("no valid records in %s", c.File)
	}

	// Annotate against history before recording, so Known means "seen in an
	// earlier session", not "seen earlier in this file".
	history := output.NewExceptionStore(c.HistoryFile)
	exceptions := make([]analysisException, 0, len(tallies))
	newCount, knownCount := 0, 0
	for _, sig := range order {
		t := tallies[sig]
		ex := analysisException{Signature: t.signature, Count: t.count, Unhandled: t.unhandled}
		if rec := history.Get(t.signature); rec != nil {
			ex.Known = true
			first := rec.FirstSeen
			ex.FirstSeen = &first
			knownCount++
		} else {
			newCount++
		}
		exceptions = append(exceptions, ex)
	}
	sort.SliceStable(exceptions, func(i, j int) bool {
		return exceptions[i].Count > exceptions[j].Count
	})

	if c.PersistHistory {
		for _, t := range tallies {
			history.Record(t.signature, t.count)
		}
		if err := history.Save(); err != nil {
			return fmt.Errorf("save exception history: %w", err)
		}
	}

	if globals.Format == "ndjson" {
		out := analysisOutput{
			Type:                "analysis",
			File:                c.File,
			Summary:             summary,
			Exceptions:          exceptions,
			NewExceptionCount:   newCount,
			KnownExceptionCount: knownCount,
		}
		return json.NewEncoder(globals.Stdout).Encode(out)
	}

	c.renderText(globals, summary, exceptions)
	return nil
}

func (c *AnalyzeCmd) renderText(globals *Globals, summary analysisSummary, exceptions []analysisException) {
	w := globals.Stdout
	fmt.Fprintf(w, "Analysis of %s\n\n", c.File)
	if summary.SessionID != "" {
		fmt.Fprintf(w, "Session %s: %s (pid %d, %s)\n", summary.SessionID, summary.Process, summary.PID, summary.Mode)
	}
	if summary.EndReason != "" {
		end := fmt.Sprintf("Ended: %s after %ds", summary.EndReason, summary.DurationSeconds)
		if summary.ExitCode != nil {
			end += fmt.Sprintf(", exit code %d", *summary.ExitCode)
		}
		fmt.Fprintln(w, end)
	}
	fmt.Fprintf(w, "Total entries: %d\n\n", summary.TotalEntries)

	fmt.Fprintln(w, "Records by type:")
	types := make([]string, 0, len(summary.ByType))
	for t := range summary.ByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if summary.ByType[types[i]] != summary.ByType[types[j]] {
			return summary.ByType[types[i]] > summary.ByType[types[j]]
		}
		return types[i] < types[j]
	})
	for _, t := range types {
		fmt.Fprintf(w, "  %-16s %d\n", t, summary.ByType[t])
	}

	if len(exceptions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Exceptions:")
		for _, ex := range exceptions {
			line := fmt.Sprintf("  %dx %s", ex.Count, ex.Signature)
			if ex.Unhandled {
				line += " (unhandled)"
			}
			if ex.Known {
				line += " [known]"
			}
			fmt.Fprintln(w, line)
		}
	}
}

// signatureFromRecord rebuilds a signature for transcripts written before
// signatures were embedded in exception records.
func signatureFromRecord(rec gjson.Result) string {
	hit := domain.ExceptionHit{ExceptionType: rec.Get("exception_type").String()}
	if loc := rec.Get("location"); loc.Exists() {
		hit.Location = &domain.SourceLocation{
			Module: loc.Get("module").String(),
			Method: loc.Get("method").String(),
		}
	}
	return output.Signature(&hit)
}
