package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mdbg-dev/mdbg/internal/debug"
	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/launchcfg"
	"github.com/mdbg-dev/mdbg/internal/session"
)

// LaunchCmd starts a program under the debugger and streams its debug events
type LaunchCmd struct {
	Executable string   `arg:"" optional:"" help:"Program to launch; omit to use a launch profile"`
	Args       []string `arg:"" optional:"" passthrough:"" help:"Arguments passed to the program"`

	Profile     string   `help:"launchSettings.json profile name (default: first profile in the file)"`
	ProfileFile string   `type:"path" help:"Explicit launchSettings.json path (default: discover from cwd)"`
	Cwd         string   `type:"path" help:"Working directory for the debuggee"`
	Env         []string `short:"e" help:"KEY=VALUE environment override (can be repeated)"`
	StopAtEntry bool     `help:"Hold the debuggee at its first stop until the preamble and breakpoints are in place"`
	DryRunJSON  bool     `help:"Print the resolved launch plan as JSON and exit without launching"`

	Stream streamFlags `embed:""`
}

// launchPlan is what --dry-run-json prints: the fully resolved launch inputs,
// before any process is created.
type launchPlan struct {
	Executable  string
	Args        []string
	Cwd         string
	Env         []string
	StopAtEntry bool
	Profile     string `json:",omitempty"`
	ProfilePath string `json:",omitempty"`
	Backend     string
}

// Run executes the launch command
func (c *LaunchCmd) Run(globals *Globals) error {
	if err := validateStreamFlags(globals, &c.Stream, c.DryRunJSON); err != nil {
		return err
	}

	plan, err := c.resolve(globals)
	if err != nil {
		return outputErrorCommon(globals, string(debug.CodeNotFound), "launch", err.Error(),
			"pass an executable, or point --profile-file at a launchSettings.json")
	}

	if c.DryRunJSON {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(globals.Stdout, string(data))
		return nil
	}

	drv, err := openDriver(c.Stream.Backend, 0)
	if err != nil {
		return outputErrorCommon(globals, string(debug.CodeNativeFailure), "launch", err.Error(),
			"try --backend sim, or run 'mdbg doctor'")
	}

	parts := buildEngine(globals, drv)

	// Subscribe before launching: without stop-at-entry the debuggee runs as
	// soon as the runtime is up, and its first events must not outrun the
	// subscription.
	feed := newStreamFeed(globals.Config.Defaults.EventBuffer)
	unsub := parts.eng.Subscribe(streamSubscriber(parts, feed))

	sess, err := parts.eng.Launch(context.Background(), debug.LaunchConfig{
		Executable:  plan.Executable,
		Args:        plan.Args,
		Cwd:         plan.Cwd,
		Env:         plan.Env,
		StopAtEntry: plan.StopAtEntry,
		Stdout:      feedOutput(feed, parts.tracker, "stdout"),
		Stderr:      feedOutput(feed, parts.tracker, "stderr"),
	})
	if err != nil {
		unsub()
		parts.close()
		return outputEngineError(globals, err)
	}
	globals.logger.BindSession(func() string { return sess.ID })

	return runStream(globals, &c.Stream, parts, sess, plan.StopAtEntry, feed, unsub)
}

// resolve merges the launch profile (when one applies) with the command line.
// Flags win over profile values; profile env vars and --env both apply, flags
// last.
func (c *LaunchCmd) resolve(globals *Globals) (*launchPlan, error) {
	plan := &launchPlan{
		Executable:  c.Executable,
		Args:        c.Args,
		Cwd:         c.Cwd,
		Env:         c.Env,
		StopAtEntry: c.StopAtEntry || globals.Config.Defaults.StopAtEntry,
		Backend:     c.Stream.Backend,
	}

	profileName := c.Profile
	if profileName == "" {
		profileName = globals.Config.Defaults.Profile
	}

	path := c.ProfileFile
	if path == "" && (profileName != "" || c.Executable == "") {
		path, _ = launchcfg.Find(".")
	}
	if path == "" {
		if plan.Executable == "" {
			return nil, fmt.Errorf("no executable given and no launchSettings.json found")
		}
		return plan, nil
	}

	file, err := launchcfg.Load(path)
	if err != nil {
		return nil, err
	}
	prof, err := file.Profile(profileName)
	if err != nil {
		return nil, err
	}

	plan.Profile = prof.Name
	plan.ProfilePath = path
	if plan.Executable == "" {
		plan.Executable = prof.Executable
	}
	if len(plan.Args) == 0 {
		plan.Args = prof.Args
	}
	if plan.Cwd == "" {
		plan.Cwd = prof.Cwd
	}
	if len(prof.Env) > 0 {
		plan.Env = append(append([]string{}, prof.Env...), c.Env...)
	}
	if plan.Executable == "" {
		return nil, fmt.Errorf("profile %q has no executablePath and none was given", prof.Name)
	}
	return plan, nil
}

// outputFeeder converts one stdout/stderr pipe into process_output records.
// The driver's pipe pump calls Write; lines split here so a partial write
// never emits half a line.
type outputFeeder struct {
	emit   func(*domain.ProcessOutput)
	stream string

	mu      sync.Mutex
	pending strings.Builder
}

func (o *outputFeeder) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending.Write(p)
	content := o.pending.String()
	o.pending.Reset()

	for {
		i := strings.IndexByte(content, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(content[:i], "\r")
		content = content[i+1:]
		if line == "" {
			continue
		}
		o.emit(&domain.ProcessOutput{
			Type:          domain.TypeProcessOutput,
			SchemaVersion: domain.SchemaVersion,
			Stream:        o.stream,
			Text:          line,
		})
	}

	o.pending.WriteString(content)
	return len(p), nil
}

// feedOutput builds the emit hook for a live stream: lines count toward the
// session summary and may drop under backpressure.
func feedOutput(feed *streamFeed, tracker *session.Tracker, stream string) *outputFeeder {
	return &outputFeeder{
		stream: stream,
		emit: func(rec *domain.ProcessOutput) {
			tracker.CountOutput()
			feed.payload(rec)
		},
	}
}
