package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mdbg-dev/mdbg/internal/breakpoint"
	"github.com/mdbg-dev/mdbg/internal/debug"
	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/output"
	"github.com/mdbg-dev/mdbg/internal/tui"
)

// UICmd launches an interactive session viewer. Unlike the stream commands,
// breakpoints here hold the debuggee until the user resumes it.
type UICmd struct {
	PID        int      `arg:"" optional:"" help:"Process id to attach to; omit with --backend sim to launch the sample target"`
	Backend    string   `default:"native" enum:"native,sim" help:"Debugging backend"`
	Break      []string `short:"b" help:"Breakpoint at file:line (can be repeated)"`
	BufferSize int      `default:"512" help:"Number of events to buffer for the viewer"`
}

// Run executes the UI command
func (c *UICmd) Run(globals *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	specs := make([]breakpoint.Spec, 0, len(c.Break))
	for _, raw := range c.Break {
		spec, err := parseBreakSpec(raw)
		if err != nil {
			return err
		}
		spec.Transparent = false
		specs = append(specs, spec)
	}

	if c.PID == 0 && c.Backend != "sim" {
		return fmt.Errorf("no process id given; pick one with 'mdbg ps', or use --backend sim")
	}

	drv, err := openDriver(c.Backend, c.PID)
	if err != nil {
		return fmt.Errorf("open debugging backend: %w", err)
	}

	parts := buildEngine(globals, drv)
	feed := newUIFeed(c.BufferSize)
	unsub := parts.eng.Subscribe(uiSubscriber(globals, parts, feed))

	var sess *domain.Session
	if c.PID > 0 {
		sess, err = parts.eng.Attach(ctx, c.PID)
	} else {
		sess, err = parts.eng.Launch(ctx, debug.LaunchConfig{
			Executable: "SampleApp.dll",
			Stdout:     &outputFeeder{stream: "stdout", emit: feed.output(parts)},
			Stderr:     &outputFeeder{stream: "stderr", emit: feed.output(parts)},
		})
	}
	if err != nil {
		unsub()
		parts.close()
		return err
	}
	globals.logger.BindSession(func() string { return sess.ID })
	parts.tracker.Begin(sess, false)

	for _, spec := range specs {
		if _, err := parts.bps.Set(spec); err != nil {
			feed.fail(fmt.Errorf("breakpoint %s:%d: %w", spec.File, spec.Line, err))
		}
	}

	model := tui.New(sess.ProcessName, sess.PID, feed.events, feed.errs, parts.eng)
	p := tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, runErr := p.Run()

	unsub()
	feed.Close()
	parts.close()
	if err := parts.history.Save(); err != nil {
		globals.Debug("save exception history: %v", err)
	}
	if err := parts.eng.Disconnect(); err != nil {
		globals.Debug("disconnect: %v", err)
	}

	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}

// uiFeed carries rendered events into the bubbletea model. Posts after Close
// and posts into a full buffer are dropped; a stalled viewer must never stall
// the dispatch path.
type uiFeed struct {
	events chan tui.Event
	errs   chan error

	mu     sync.Mutex
	closed bool

	fetching chan struct{}
}

func newUIFeed(buffer int) *uiFeed {
	if buffer <= 0 {
		buffer = 512
	}
	return &uiFeed{
		events:   make(chan tui.Event, buffer),
		errs:     make(chan error, 8),
		fetching: make(chan struct{}, 1),
	}
}

func (f *uiFeed) post(ev tui.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.events <- ev:
	default:
	}
}

func (f *uiFeed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.errs <- err:
	default:
	}
}

func (f *uiFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.events)
	close(f.errs)
}

// output adapts the feed for the launch stdout/stderr pipes.
func (f *uiFeed) output(parts *engineParts) func(*domain.ProcessOutput) {
	return func(rec *domain.ProcessOutput) {
		parts.tracker.CountOutput()
		if line, ok := output.Format(rec); ok {
			f.post(tui.Event{Kind: rec.Type, Line: line})
		}
	}
}

// uiSubscriber renders engine notifications into viewer events. Pause context
// (frames and locals) is fetched on a separate goroutine because engine calls
// must not run on the dispatch path.
func uiSubscriber(globals *Globals, parts *engineParts, feed *uiFeed) *debug.Subscriber {
	return &debug.Subscriber{
		StateChanged: func(sc *domain.StateChange) {
			if sc.To == domain.StatePaused {
				parts.tracker.CountStop()
			}
			if line, ok := output.Format(sc); ok {
				feed.post(tui.Event{Kind: sc.Type, Line: line, State: sc.To, Location: uiLocation(sc.Location)})
			}
			if sc.To == domain.StatePaused && sc.Reason != domain.PauseEntry {
				fetchPauseContext(globals, parts, feed, sc.ThreadID)
			}
		},
		BreakpointHit: func(n *debug.BreakpointNotice) {
			parts.tracker.CountBreakpoint()
			hit := &domain.BreakpointHit{
				Type:          domain.TypeBreakpointHit,
				SchemaVersion: domain.SchemaVersion,
				ThreadID:      n.ThreadID,
				Location:      n.Location,
			}
			if bp, ok := parts.bps.Match(n.Location); ok {
				hit.BreakpointID = bp.ID
				hit.HitCount = bp.HitCount
			}
			if line, ok := output.Format(hit); ok {
				feed.post(tui.Event{Kind: hit.Type, Line: line, Location: uiLocation(n.Location)})
			}
		},
		ExceptionHit: func(n *debug.ExceptionNotice) {
			parts.tracker.CountException(n.Exception.Unhandled)
			hit := domain.ExceptionHit{
				Type:          domain.TypeException,
				SchemaVersion: domain.SchemaVersion,
				ExceptionType: n.Exception.TypeName,
				Message:       n.Exception.Message,
				FirstChance:   n.FirstChance,
				Unhandled:     n.Exception.Unhandled,
				ThreadID:      n.ThreadID,
				Location:      n.Location,
			}
			annotated := parts.history.Observe(&hit)
			if line, ok := output.Format(&annotated); ok {
				feed.post(tui.Event{Kind: hit.Type, Line: line})
			}
		},
		StepCompleted: func(n *debug.StepNotice) {
			parts.tracker.CountStep()
			rec := &domain.StepCompleted{
				Type:          domain.TypeStepComplete,
				SchemaVersion: domain.SchemaVersion,
				ThreadID:      n.ThreadID,
				Location:      n.Location,
			}
			if line, ok := output.Format(rec); ok {
				feed.post(tui.Event{Kind: rec.Type, Line: line, Location: uiLocation(n.Location)})
			}
		},
		ModuleLoaded: func(m nativedbg.ModuleInfo) {
			parts.tracker.CountModuleLoad()
			rec := moduleRecord(domain.TypeModuleLoad, m)
			if line, ok := output.Format(rec); ok {
				feed.post(tui.Event{Kind: rec.Type, Line: line})
			}
		},
		ModuleUnloaded: func(m nativedbg.ModuleInfo) {
			rec := moduleRecord(domain.TypeModuleUnload, m)
			if line, ok := output.Format(rec); ok {
				feed.post(tui.Event{Kind: rec.Type, Line: line})
			}
		},
		RuntimeLog: func(n *debug.LogNotice) {
			parts.tracker.CountOutput()
			rec := &domain.ProcessOutput{
				Type:          domain.TypeProcessOutput,
				SchemaVersion: domain.SchemaVersion,
				Stream:        "debug",
				Text:          n.Message,
			}
			if line, ok := output.Format(rec); ok {
				feed.post(tui.Event{Kind: rec.Type, Line: line})
			}
		},
		ProcessExited: func(code int) {
			feed.post(tui.Event{
				Kind:  domain.TypeSessionEnd,
				Line:  fmt.Sprintf("process exited (code %d)", code),
				State: domain.StateDisconnected,
			})
		},
	}
}

// fetchPauseContext pulls the top frames and locals for the paused thread and
// appends them under the pause line. Single flight: a fetch still in progress
// wins over a newer pause, which can only mean the user is moving fast anyway.
func fetchPauseContext(globals *Globals, parts *engineParts, feed *uiFeed, threadID int) {
	select {
	case feed.fetching <- struct{}{}:
	default:
		return
	}
	go func() {
		defer func() { <-feed.fetching }()

		frames, err := parts.eng.GetStackFrames(threadID, 5)
		if err != nil {
			globals.Debug("fetch frames: %v", err)
			return
		}
		for _, fr := range frames {
			line := fmt.Sprintf("  #%d %s", fr.Index, fr.Method)
			if loc := uiLocation(fr.Location); loc != "" {
				line += " (" + loc + ")"
			}
			feed.post(tui.Event{Kind: "stack", Line: line})
		}

		vars, err := parts.eng.GetVariables(threadID, 0, 1)
		if err != nil {
			globals.Debug("fetch variables: %v", err)
			return
		}
		for _, v := range vars {
			feed.post(tui.Event{Kind: "variables", Line: fmt.Sprintf("  %s = %s (%s)", v.Name, v.Value, v.TypeName)})
		}
	}()
}

func moduleRecord(tag string, m nativedbg.ModuleInfo) *domain.ModuleEvent {
	return &domain.ModuleEvent{
		Type:          tag,
		SchemaVersion: domain.SchemaVersion,
		Path:          m.Path,
		Name:          m.Name,
		HasSymbols:    m.HasSymbols,
	}
}

func uiLocation(loc *domain.SourceLocation) string {
	if loc == nil || loc.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", loc.File, loc.Line)
}
