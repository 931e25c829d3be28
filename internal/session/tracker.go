package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

// Tracker aggregates activity counters over one debug session and produces
// the session_start / session_end records that bracket an event stream.
type Tracker struct {
	clock clock.Clock

	mu        sync.Mutex
	started   bool
	sessID    string
	pid       int
	startedAt time.Time
	sum       domain.SessionSummary
}

// NewTracker creates a tracker. A nil clock falls back to the wall clock.
func NewTracker(c clock.Clock) *Tracker {
	if c == nil {
		c = clock.New()
	}
	return &Tracker{clock: c}
}

// Begin records the session under observation and returns its start record.
func (t *Tracker) Begin(sess *domain.Session, stopAtEntry bool) *domain.SessionStart {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = true
	t.sessID = sess.ID
	t.pid = sess.PID
	t.startedAt = t.clock.Now()
	t.sum = domain.SessionSummary{}
	return domain.NewSessionStart(sess, stopAtEntry)
}

// CountStop tallies a transition into paused, whatever the reason.
func (t *Tracker) CountStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Stops++
}

// CountBreakpoint tallies a breakpoint hit, including transparent hits that
// never surface as a stop.
func (t *Tracker) CountBreakpoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.BreakpointHits++
}

// CountException tallies an exception notice.
func (t *Tracker) CountException(unhandled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Exceptions++
	if unhandled {
		t.sum.Unhandled++
	}
}

// CountStep tallies a completed step.
func (t *Tracker) CountStep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Steps++
}

// CountModuleLoad tallies a module load.
func (t *Tracker) CountModuleLoad() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.ModuleLoads++
}

// CountOutput tallies one line of captured debuggee output.
func (t *Tracker) CountOutput() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.OutputLines++
}

// End closes the session and returns its end record with the aggregated
// summary. Returns nil if Begin was never called.
func (t *Tracker) End(reason string, exitCode *int) *domain.SessionEnd {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return nil
	}
	t.started = false

	sum := t.sum
	return &domain.SessionEnd{
		Type:          domain.TypeSessionEnd,
		SchemaVersion: domain.SchemaVersion,
		SessionID:     t.sessID,
		PID:           t.pid,
		Reason:        reason,
		ExitCode:      exitCode,
		DurationSecs:  int(t.clock.Now().Sub(t.startedAt).Seconds()),
		Summary:       &sum,
	}
}

// Summary returns a snapshot of the counters for status displays.
func (t *Tracker) Summary() domain.SessionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sum
}

// Elapsed reports how long the session has been open.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0
	}
	return t.clock.Now().Sub(t.startedAt)
}
