package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mdbg-dev/mdbg/internal/breakpoint"
	"github.com/mdbg-dev/mdbg/internal/debug"
	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/filter"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/output"
	"github.com/mdbg-dev/mdbg/internal/tmux"
)

// streamFlags are shared by attach and launch: everything that shapes the
// event stream rather than how the session is established.
type streamFlags struct {
	Backend       string   `default:"native" enum:"native,sim" help:"Debugging backend (native or sim)"`
	Break         []string `short:"b" help:"Breakpoint as file:line (can be repeated); hits are reported and execution continues"`
	Match         string   `short:"p" help:"Regex; drop output and exception records whose text does not match"`
	Exclude       []string `short:"x" help:"Regex; drop output and exception records whose text matches (can be repeated)"`
	Where         []string `help:"Field filter like 'exception_type^System.' (can be repeated, all must match)"`
	Dedupe        string   `help:"Suppress repeated output lines: 'consecutive' or a window like 5s"`
	Heartbeat     string   `default:"30s" help:"Interval between heartbeat records while nothing happens (0 disables)"`
	MaxEvents     int      `help:"Stop after emitting this many event records (0 = unlimited)"`
	MaxDuration   string   `help:"Stop after this long, e.g. 10m (0 = unlimited)"`
	Capture       string   `help:"Also write every record to this NDJSON transcript file"`
	PersistBreaks bool     `name:"persist-breakpoints" help:"Save breakpoints on exit and restore them next session for the same process"`
	Hints         []string `name:"hint" help:"Extra agent hint appended to the agent_hints preamble (can be repeated)"`
	Tmux          bool     `help:"Mirror the session into a tmux pane"`
	TmuxSession   string   `help:"Custom tmux session name (default: mdbg-<process>)"`

	HoldOnException bool `help:"Stay paused on unhandled exceptions instead of reporting and continuing"`
}

// parseBreakSpec splits "file:line" into a breakpoint spec. Windows drive
// letters survive because the split happens on the last colon.
func parseBreakSpec(s string) (breakpoint.Spec, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return breakpoint.Spec{}, fmt.Errorf("breakpoint %q: want file:line", s)
	}
	line, err := strconv.Atoi(s[i+1:])
	if err != nil || line <= 0 {
		return breakpoint.Spec{}, fmt.Errorf("breakpoint %q: bad line number", s)
	}
	return breakpoint.Spec{File: s[:i], Line: line, Transparent: true}, nil
}

// streamSinks is where stream records go: the display writer picked by
// --format, an optional transcript, and an optional tmux pane fed with the
// text rendering.
type streamSinks struct {
	ndjson *output.NDJSONWriter
	text   *output.TextWriter

	capture *transcript
	pane    *tmux.Writer
	paneFmt *output.TextWriter

	pipeline *filter.Pipeline
	dedupe   *filter.DedupeFilter
}

// emit sends one record through the filter pipeline to every sink and
// reports whether it was written. The transcript receives everything the
// display does.
func (s *streamSinks) emit(record any) (bool, error) {
	if !s.pipeline.Match(record) {
		return false, nil
	}
	if po, ok := record.(*domain.ProcessOutput); ok && s.dedupe != nil {
		if res := s.dedupe.Check(po.Text); !res.ShouldEmit {
			return false, nil
		}
	}
	if err := s.write(record); err != nil {
		return false, err
	}
	return true, nil
}

// write bypasses filtering; preamble and closing records always go out.
func (s *streamSinks) write(record any) error {
	if s.capture != nil {
		if err := s.capture.Write(record); err != nil {
			return err
		}
	}
	if s.pane != nil && s.paneFmt != nil {
		s.paneFmt.Write(record)
	}
	if s.ndjson != nil {
		return s.ndjson.Write(record)
	}
	return s.text.Write(record)
}

func (s *streamSinks) close() {
	if s.pane != nil {
		s.pane.Flush()
	}
	if s.capture != nil {
		s.capture.Close()
	}
}

// buildSinks assembles the sinks from the shared flags. The caller owns
// closing them.
func buildSinks(globals *Globals, f *streamFlags) (*streamSinks, error) {
	var pattern *regexp.Regexp
	if f.Match != "" {
		re, err := regexp.Compile(f.Match)
		if err != nil {
			return nil, fmt.Errorf("invalid --match pattern: %w", err)
		}
		pattern = re
	}
	var excludes []*regexp.Regexp
	for _, x := range f.Exclude {
		re, err := regexp.Compile(x)
		if err != nil {
			return nil, fmt.Errorf("invalid --exclude pattern: %w", err)
		}
		excludes = append(excludes, re)
	}
	where, err := filter.NewWhereFilter(f.Where)
	if err != nil {
		return nil, err
	}

	sinks := &streamSinks{
		pipeline: filter.NewPipeline(pattern, excludes, where),
	}

	switch f.Dedupe {
	case "":
	case "consecutive":
		sinks.dedupe = filter.NewDedupeFilter(0)
	default:
		window, err := time.ParseDuration(f.Dedupe)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("invalid --dedupe %q: want 'consecutive' or a duration like 5s", f.Dedupe)
		}
		sinks.dedupe = filter.NewDedupeFilter(window)
	}

	if f.Capture != "" {
		cap, err := openTranscript(f.Capture)
		if err != nil {
			return nil, fmt.Errorf("open capture file: %w", err)
		}
		sinks.capture = cap
	}

	if globals.Format == "ndjson" {
		sinks.ndjson = output.NewNDJSONWriter(globals.Stdout)
	} else {
		sinks.text = output.NewTextWriter(globals.Stdout)
	}
	return sinks, nil
}

// attachTmux mirrors the session into a tmux pane and prints the pointer
// record telling the user (or agent) how to attach to it.
func attachTmux(globals *Globals, f *streamFlags, sess *domain.Session, prev *domain.SessionSummary, sinks *streamSinks) *tmux.Manager {
	if !f.Tmux || !tmux.IsTmuxAvailable() {
		return nil
	}
	sessionName := f.TmuxSession
	if sessionName == "" {
		sessionName = tmux.GenerateSessionName(sess.ProcessName)
	}
	mgr, err := tmux.NewManager(tmux.Config{
		SessionName: sessionName,
		ProcessName: sess.ProcessName,
	})
	if err != nil {
		globals.Debug("tmux unavailable: %v", err)
		return nil
	}
	if err := mgr.GetOrCreateSession(); err != nil {
		globals.Debug("tmux session failed: %v", err)
		return nil
	}
	mgr.WriteSessionBanner(sess.ID, sess.ProcessName, sess.PID, prev)
	sinks.pane = tmux.NewWriter(mgr)
	sinks.paneFmt = output.NewTextWriter(sinks.pane)

	if sinks.ndjson != nil {
		sinks.ndjson.Write(tmuxRecord{Type: "tmux", Session: sessionName, Attach: mgr.AttachCommand()})
	} else {
		fmt.Fprintf(globals.Stderr, "Tmux session: %s\n", sessionName)
		fmt.Fprintf(globals.Stderr, "Attach with: %s\n", mgr.AttachCommand())
	}
	return mgr
}

// tmuxRecord points stream consumers at the mirror session.
type tmuxRecord struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Attach  string `json:"attach"`
}

// streamEvent wraps one domain record for the pump channel. Control records
// must not be lost; payload records may be dropped under backpressure.
type streamEvent struct {
	record  any
	control bool
}

// streamFeed adapts engine callbacks into a channel the event loop owns.
// Callbacks run on the engine dispatch path and must not block: control
// records use a blocking send only because the loop drains with priority and
// the buffer is sized for bursts; payload records drop when full.
type streamFeed struct {
	ch      chan streamEvent
	dropped int64
}

func newStreamFeed(buffer int) *streamFeed {
	if buffer <= 0 {
		buffer = 256
	}
	return &streamFeed{ch: make(chan streamEvent, buffer)}
}

func (f *streamFeed) control(record any) {
	f.ch <- streamEvent{record: record, control: true}
}

func (f *streamFeed) payload(record any) {
	select {
	case f.ch <- streamEvent{record: record}:
	default:
		f.dropped++
	}
}

// runStream is the shared attach/launch body: preamble, breakpoints, the
// event pump, cutoffs, and teardown. The caller builds the feed and
// subscribes to the engine before establishing the session, so records from
// runtime boot land in the feed instead of being lost; the loop here only
// drains. runStream owns unsub and the engine collaborators from parts, and
// disconnects the engine before returning.
func runStream(globals *Globals, f *streamFlags, parts *engineParts, sess *domain.Session, stopAtEntry bool, feed *streamFeed, unsub func()) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	sinks, err := buildSinks(globals, f)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_FLAGS", "stream", err.Error())
	}
	defer sinks.close()

	prevSummary := previousSummary(parts.history)
	tmuxMgr := attachTmux(globals, f, sess, prevSummary, sinks)
	if tmuxMgr != nil {
		defer tmuxMgr.Cleanup()
	}

	// Preamble. ready + agent_hints are agent furniture; text mode skips
	// them and announces on stderr instead.
	if globals.Format == "ndjson" {
		sinks.ndjson.WriteReady(sess)
		hints := output.DefaultHints
		if len(f.Hints) > 0 {
			hints = append(append([]string{}, output.DefaultHints...), f.Hints...)
		}
		sinks.ndjson.WriteAgentHints(sess.ID, hints)
		if sinks.capture != nil {
			sinks.capture.Write(readyRecord(sess))
		}
	} else if !globals.Quiet {
		fmt.Fprintf(globals.Stderr, "Debugging %s (pid %d), session %s\n", sess.ProcessName, sess.PID, sess.ID)
		fmt.Fprintln(globals.Stderr, "Press Ctrl+C to stop")
	}

	// Breakpoints: explicit --break flags first, then any persisted set for
	// this process. All transparent; the stream observes, it does not hold.
	specs := make([]breakpoint.Spec, 0, len(f.Break))
	for _, b := range f.Break {
		spec, err := parseBreakSpec(b)
		if err != nil {
			return outputErrorCommon(globals, "INVALID_FLAGS", "stream", err.Error())
		}
		specs = append(specs, spec)
	}
	var statePath string
	if f.PersistBreaks {
		statePath, err = defaultBreakpointStatePath(sess.ProcessName)
		if err == nil {
			specs = append(specs, restoredSpecs(statePath, specs)...)
		}
	}
	for _, spec := range specs {
		if _, err := parts.bps.Set(spec); err != nil {
			return outputEngineError(globals, err)
		}
	}

	// session_start brackets the stream and is never filtered.
	start := parts.tracker.Begin(sess, stopAtEntry)
	if err := sinks.write(start); err != nil {
		unsub()
		return err
	}
	events := 1

	// A held launch stays paused only long enough for the preamble and the
	// breakpoints above; the stream has no interactive continue.
	if stopAtEntry {
		if err := parts.eng.Continue(); err != nil {
			globals.Debug("entry continue failed: %v", err)
		}
	}

	heartbeatEvery := parseOptionalDuration(f.Heartbeat)
	maxDuration := parseOptionalDuration(f.MaxDuration)

	var ticker *time.Ticker
	var tick <-chan time.Time
	if heartbeatEvery > 0 {
		ticker = time.NewTicker(heartbeatEvery)
		tick = ticker.C
		defer ticker.Stop()
	}
	var durationCh <-chan time.Time
	if maxDuration > 0 {
		timer := time.NewTimer(maxDuration)
		durationCh = timer.C
		defer timer.Stop()
	}

	eventsAtLastBeat := events
	endReason := "detached"
	if sess.Mode == domain.ModeLaunch {
		endReason = "terminated"
	}
	var cutoff string

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case <-durationCh:
			cutoff = output.CutoffMaxDuration
			break loop

		case <-tick:
			hb := &output.Heartbeat{
				Type:            output.TypeHeartbeat,
				SchemaVersion:   output.SchemaVersion,
				Timestamp:       time.Now().UTC().Format(time.RFC3339),
				UptimeSeconds:   int(parts.tracker.Elapsed().Seconds()),
				EventsSinceLast: events - eventsAtLastBeat,
				SessionID:       sess.ID,
				State:           sessionState(parts.eng),
				ContractVersion: output.ContractVersion,
			}
			eventsAtLastBeat = events
			if globals.Format == "ndjson" {
				sinks.ndjson.WriteHeartbeat(hb)
			}
			if sinks.capture != nil {
				sinks.capture.Write(hb)
			}

		case ev := <-feed.ch:
			if _, ok := ev.record.(*streamExit); ok {
				endReason = "exited"
				break loop
			}
			emitted, err := sinks.emit(ev.record)
			if err != nil {
				break loop
			}
			if emitted {
				events++
			}
			// The engine holds the debuggee on an unhandled exception.
			// The stream observes rather than debugs, so release it
			// unless the user asked to hold, even when filters dropped
			// the record itself.
			if ann, ok := ev.record.(*output.AnnotatedException); ok && ann.Unhandled && !f.HoldOnException {
				if err := parts.eng.Continue(); err != nil {
					globals.Debug("continue after unhandled exception: %v", err)
				}
			}
			if f.MaxEvents > 0 && events >= f.MaxEvents {
				cutoff = output.CutoffMaxEvents
				break loop
			}
		}
	}

	unsub()
	drainFeed(feed, sinks, &events)

	if cutoff != "" {
		if globals.Format == "ndjson" {
			sinks.ndjson.WriteCutoff(cutoff, sess.ID, events)
		} else if !globals.Quiet {
			fmt.Fprintf(globals.Stderr, "Cutoff reached (%s) after %d events\n", cutoff, events)
		}
		if sinks.capture != nil {
			sinks.capture.Write(cutoffRecord(cutoff, sess.ID, events))
		}
	}

	teardownStream(globals, f, parts, sinks, statePath, sess.ProcessName, endReason)
	if feed.dropped > 0 {
		globals.Debug("dropped %d payload records under backpressure", feed.dropped)
	}
	return nil
}

// streamExit is the loop-internal marker that the debuggee is gone.
type streamExit struct{ code int }

// streamSubscriber converts engine notices into domain records on the feed.
// It runs on the dispatch path, so it only counts, converts, and sends;
// control decisions happen in the loop.
func streamSubscriber(parts *engineParts, feed *streamFeed) *debug.Subscriber {
	return &debug.Subscriber{
		StateChanged: func(sc *domain.StateChange) {
			if sc.To == domain.StatePaused {
				parts.tracker.CountStop()
			}
			feed.control(sc)
		},
		BreakpointHit: func(n *debug.BreakpointNotice) {
			parts.tracker.CountBreakpoint()
			rec := &domain.BreakpointHit{
				Type:          domain.TypeBreakpointHit,
				SchemaVersion: domain.SchemaVersion,
				ThreadID:      n.ThreadID,
				Location:      n.Location,
			}
			if bp, ok := parts.bps.Match(n.Location); ok {
				rec.BreakpointID = bp.ID
				rec.HitCount = bp.HitCount
			}
			feed.control(rec)
		},
		ExceptionHit: func(n *debug.ExceptionNotice) {
			unhandled := !n.FirstChance
			parts.tracker.CountException(unhandled)
			hit := &domain.ExceptionHit{
				Type:          domain.TypeException,
				SchemaVersion: domain.SchemaVersion,
				ExceptionType: n.Exception.TypeName,
				Message:       n.Exception.Message,
				FirstChance:   n.FirstChance,
				Unhandled:     unhandled,
				ThreadID:      n.ThreadID,
				Location:      n.Location,
			}
			annotated := parts.history.Observe(hit)
			feed.control(&annotated)
		},
		StepCompleted: func(n *debug.StepNotice) {
			parts.tracker.CountStep()
			feed.control(&domain.StepCompleted{
				Type:          domain.TypeStepComplete,
				SchemaVersion: domain.SchemaVersion,
				ThreadID:      n.ThreadID,
				Location:      n.Location,
			})
		},
		ModuleLoaded: func(m nativedbg.ModuleInfo) {
			parts.tracker.CountModuleLoad()
			feed.payload(&domain.ModuleEvent{
				Type:          domain.TypeModuleLoad,
				SchemaVersion: domain.SchemaVersion,
				Path:          m.Path,
				Name:          m.Name,
				HasSymbols:    m.HasSymbols,
			})
		},
		ModuleUnloaded: func(m nativedbg.ModuleInfo) {
			feed.payload(&domain.ModuleEvent{
				Type:          domain.TypeModuleUnload,
				SchemaVersion: domain.SchemaVersion,
				Path:          m.Path,
				Name:          m.Name,
				HasSymbols:    m.HasSymbols,
			})
		},
		RuntimeLog: func(n *debug.LogNotice) {
			parts.tracker.CountOutput()
			feed.payload(&domain.ProcessOutput{
				Type:          domain.TypeProcessOutput,
				SchemaVersion: domain.SchemaVersion,
				Stream:        "debug",
				Text:          n.Message,
			})
		},
		ProcessExited: func(code int) {
			feed.control(&streamExit{code: code})
		},
	}
}

// drainFeed flushes records already queued when the loop exits, so the
// stream never loses an event that beat the shutdown.
func drainFeed(feed *streamFeed, sinks *streamSinks, events *int) {
	for {
		select {
		case ev := <-feed.ch:
			if _, ok := ev.record.(*streamExit); ok {
				continue
			}
			if emitted, err := sinks.emit(ev.record); err == nil && emitted {
				*events++
			}
		default:
			return
		}
	}
}

// teardownStream closes out the session: persists breakpoints and exception
// history, emits session_end, and disconnects the engine.
func teardownStream(globals *Globals, f *streamFlags, parts *engineParts, sinks *streamSinks, statePath, process, reason string) {
	if f.PersistBreaks && statePath != "" {
		saveCurrentBreakpoints(globals, parts.bps, statePath, process)
	}
	if err := parts.history.Save(); err != nil {
		globals.Debug("saving exception history: %v", err)
	}

	parts.close()

	exitCode := parts.eng.ExitCode()
	if err := parts.eng.Disconnect(); err != nil {
		globals.Debug("disconnect: %v", err)
	}
	if end := parts.tracker.End(reason, exitCode); end != nil {
		sinks.write(end)
	}
}

// previousSummary distills the exception history into the compact line the
// tmux banner shows for returning sessions. Nil when there is no history.
func previousSummary(history *output.ExceptionStore) *domain.SessionSummary {
	if history == nil || history.Count() == 0 {
		return nil
	}
	sum := &domain.SessionSummary{}
	for _, rec := range history.All() {
		sum.Exceptions += rec.TotalHits
	}
	return sum
}

// restoredSpecs loads the persisted breakpoint set, skipping entries already
// covered by explicit flags.
func restoredSpecs(statePath string, have []breakpoint.Spec) []breakpoint.Spec {
	st, err := loadBreakpointState(statePath)
	if err != nil || st == nil {
		return nil
	}
	seen := make(map[string]bool, len(have))
	for _, s := range have {
		seen[fmt.Sprintf("%s:%d", s.File, s.Line)] = true
	}
	var out []breakpoint.Spec
	for _, b := range st.Breakpoints {
		if seen[fmt.Sprintf("%s:%d", b.File, b.Line)] {
			continue
		}
		out = append(out, breakpoint.Spec{File: b.File, Line: b.Line, Transparent: true})
	}
	return out
}

// saveCurrentBreakpoints writes the manager's current set for the next
// session against the same process.
func saveCurrentBreakpoints(globals *Globals, mgr *breakpoint.Manager, statePath, process string) {
	var saved []savedBreakpoint
	for _, bp := range mgr.List() {
		saved = append(saved, savedBreakpoint{File: bp.File, Line: bp.Line})
	}
	if err := saveBreakpointState(statePath, saved, process); err != nil {
		globals.Debug("saving breakpoints: %v", err)
	}
}

// sessionState reads the engine's lifecycle state for heartbeats.
func sessionState(eng *debug.Debugger) domain.LifecycleState {
	if sess := eng.Session(); sess != nil {
		return sess.State
	}
	return domain.StateDisconnected
}

// readyRecord rebuilds the preamble record for the transcript, which always
// captures NDJSON regardless of the display format.
func readyRecord(sess *domain.Session) *output.Ready {
	return &output.Ready{
		Type:            output.TypeReady,
		SchemaVersion:   output.SchemaVersion,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		SessionID:       sess.ID,
		PID:             sess.PID,
		Process:         sess.ProcessName,
		Mode:            sess.Mode,
		ContractVersion: output.ContractVersion,
	}
}

func cutoffRecord(reason, sessionID string, events int) *output.Cutoff {
	return &output.Cutoff{
		Type:          output.TypeCutoff,
		SchemaVersion: output.SchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		SessionID:     sessionID,
		Reason:        reason,
		Events:        events,
	}
}

// parseOptionalDuration treats empty and "0" as disabled.
func parseOptionalDuration(s string) time.Duration {
	if s == "" || s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}
