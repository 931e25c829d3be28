package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mdbg-dev/mdbg/internal/output"
)

// HistoryCmd groups exception history commands
type HistoryCmd struct {
	Show  HistoryShowCmd  `cmd:"" default:"1" help:"Show recorded exception signatures"`
	Clear HistoryClearCmd `cmd:"" help:"Clear the recorded exception signatures"`
}

// HistoryShowCmd prints the cross-session exception history
type HistoryShowCmd struct {
	File string `help:"Alternate exception history file" type:"path"`
}

type historyRecordOutput struct {
	Signature string    `json:"signature"`
	TotalHits int       `json:"total_hits"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type historyOutput struct {
	Type       string                `json:"type"`
	Count      int                   `json:"count"`
	Signatures []historyRecordOutput `json:"signatures"`
}

// Run executes the history show command
func (c *HistoryShowCmd) Run(globals *Globals) error {
	store := output.NewExceptionStore(c.File)
	recs := store.All()

	if globals.Format == "ndjson" {
		out := historyOutput{
			Type:       "exception_history",
			Count:      len(recs),
			Signatures: make([]historyRecordOutput, 0, len(recs)),
		}
		for _, rec := range recs {
			out.Signatures = append(out.Signatures, historyRecordOutput{
				Signature: rec.Signature,
				TotalHits: rec.TotalHits,
				FirstSeen: rec.FirstSeen,
				LastSeen:  rec.LastSeen,
			})
		}
		return json.NewEncoder(globals.Stdout).Encode(out)
	}

	if len(recs) == 0 {
		fmt.Fprintln(globals.Stdout, "No exception history recorded")
		return nil
	}
	return output.RenderExceptionHistory(globals.Stdout, recs)
}

// HistoryClearCmd wipes the cross-session exception history
type HistoryClearCmd struct {
	File string `help:"Alternate exception history file" type:"path"`
}

// Run executes the history clear command
func (c *HistoryClearCmd) Run(globals *Globals) error {
	store := output.NewExceptionStore(c.File)
	removed := store.Count()
	store.Clear()
	if err := store.Save(); err != nil {
		return fmt.Errorf("save exception history: %w", err)
	}

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]any{
			"type":    "history_cleared",
			"removed": removed,
		})
	}
	fmt.Fprintf(globals.Stdout, "Exception history cleared (%d signatures removed)\n", removed)
	return nil
}
