package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/filter"
	"github.com/mdbg-dev/mdbg/internal/output"
)

// ReplayCmd re-renders a captured transcript, optionally through the same
// filters a live stream accepts. NDJSON mode passes matching lines through
// verbatim so original timestamps survive; text mode re-renders them.
type ReplayCmd struct {
	File    string   `arg:"" help:"Transcript file captured with --capture" type:"path"`
	Match   string   `short:"p" help:"Only replay records whose text matches this regex"`
	Exclude []string `short:"x" help:"Drop records whose text matches this regex"`
	Where   []string `help:"Structured filter on any record field (field=value, field!=value, field>n)"`
	Type    []string `short:"t" help:"Only replay records of these types"`
}

// Run executes the replay command
func (c *ReplayCmd) Run(globals *Globals) error {
	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var pattern *regexp.Regexp
	if c.Match != "" {
		pattern, err = regexp.Compile(c.Match)
		if err != nil {
			return fmt.Errorf("invalid --match pattern: %w", err)
		}
	}
	excludes := make([]*regexp.Regexp, 0, len(c.Exclude))
	for _, ex := range c.Exclude {
		re, err := regexp.Compile(ex)
		if err != nil {
			return fmt.Errorf("invalid --exclude pattern: %w", err)
		}
		excludes = append(excludes, re)
	}
	where, err := filter.NewWhereFilter(c.Where)
	if err != nil {
		return err
	}
	types := map[string]bool{}
	for _, t := range c.Type {
		types[strings.ToLower(strings.TrimSpace(t))] = true
	}

	if !globals.Quiet {
		fmt.Fprintf(globals.Stderr, "Replaying logs from %s\n", c.File)
	}

	var text *output.TextWriter
	if globals.Format != "ndjson" {
		text = output.NewTextWriter(globals.Stdout)
	}

	replayed := 0
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
		if len(types) > 0 && !types[typ] {
			continue
		}
		if pattern != nil || len(excludes) > 0 {
			if payload, ok := payloadText(rec); ok {
				if pattern != nil && !pattern.MatchString(payload) {
					continue
				}
				if matchesAny(excludes, payload) {
					continue
				}
			}
		}
		if where != nil && !where.MatchLine([]byte(line)) {
			continue
		}

		if text == nil {
			fmt.Fprintln(globals.Stdout, line)
		} else if record, ok := decodeRecord(typ, line); ok {
			if err := text.Write(record); err != nil {
				return err
			}
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	if !globals.Quiet {
		fmt.Fprintf(globals.Stderr, "Replayed %d entries\n", replayed)
	}
	return nil
}

// payloadText mirrors the live pipeline's text extraction: only output and
// exception records carry a greppable payload.
func payloadText(rec gjson.Result) (string, bool) {
	switch rec.Get("type").String() {
	case domain.TypeProcessOutput:
		return rec.Get("text").String(), true
	case domain.TypeException:
		return rec.Get("message").String(), true
	default:
		return "", false
	}
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// decodeRecord rebuilds the typed record for a transcript line so the text
// renderer can format it. Unknown types have no text form.
func decodeRecord(typ, line string) (any, bool) {
	var target any
	switch typ {
	case "ready":
		target = &output.Ready{}
	case domain.TypeSessionStart:
		target = &domain.SessionStart{}
	case domain.TypeSessionEnd:
		target = &domain.SessionEnd{}
	case domain.TypeStateChange:
		target = &domain.StateChange{}
	case domain.TypeBreakpointHit:
		target = &domain.BreakpointHit{}
	case domain.TypeException:
		target = &output.AnnotatedException{}
	case domain.TypeStepComplete:
		target = &domain.StepCompleted{}
	case domain.TypeModuleLoad, domain.TypeModuleUnload:
		target = &domain.ModuleEvent{}
	case domain.TypeProcessOutput:
		target = &domain.ProcessOutput{}
	case "cutoff_reached":
		target = &output.Cutoff{}
	case "error":
		target = &output.ErrorRecord{}
	default:
		return nil, false
	}
	if err := json.Unmarshal([]byte(line), target); err != nil {
		return nil, false
	}
	return target, true
}
