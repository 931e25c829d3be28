package debug

import (
	"sync"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// BreakpointNotice is handed to subscribers when the debuggee stops on a
// breakpoint. The default is to stay paused; a subscriber that wants
// execution to proceed (unmatched condition, transparent tracepoint) sets
// RequestContinue before returning.
type BreakpointNotice struct {
	ThreadID int
	Location *domain.SourceLocation

	RequestContinue bool
}

// ExceptionNotice is handed to subscribers for both exception phases. For
// first-chance exceptions the default is to continue; a subscriber holding
// an exception breakpoint sets RequestPause to keep the debuggee stopped.
// Unhandled exceptions always pause regardless of the flag.
type ExceptionNotice struct {
	ThreadID    int
	Location    *domain.SourceLocation
	Exception   nativedbg.ExceptionInfo
	FirstChance bool

	RequestPause bool
}

// StepNotice reports a completed step.
type StepNotice struct {
	ThreadID int
	Location *domain.SourceLocation
}

// LogNotice carries a runtime-emitted log message.
type LogNotice struct {
	ThreadID int
	Message  string
	Location *domain.SourceLocation
}

// Subscriber receives engine notifications on the dispatch path. Nil
// callbacks are skipped. Callbacks run with no engine lock held but block
// event delivery, so they must return promptly and must not call back into
// blocking engine operations.
type Subscriber struct {
	StateChanged   func(*domain.StateChange)
	BreakpointHit  func(*BreakpointNotice)
	ExceptionHit   func(*ExceptionNotice)
	StepCompleted  func(*StepNotice)
	ModuleLoaded   func(nativedbg.ModuleInfo)
	ModuleUnloaded func(nativedbg.ModuleInfo)
	RuntimeLog     func(*LogNotice)
	ProcessExited  func(exitCode int)
}

// subscriberSet is the registry; iteration order is registration order.
type subscriberSet struct {
	mu   sync.Mutex
	subs []*Subscriber
}

func (s *subscriberSet) add(sub *Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, have := range s.subs {
			if have == sub {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *subscriberSet) snapshot() []*Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscriber, len(s.subs))
	copy(out, s.subs)
	return out
}

// Subscribe registers sub for engine notifications and returns its
// deregistration func. Safe to call at any session state.
func (d *Debugger) Subscribe(sub *Subscriber) func() {
	return d.subs.add(sub)
}

func (s *subscriberSet) stateChanged(sc *domain.StateChange) {
	for _, sub := range s.snapshot() {
		if sub.StateChanged != nil {
			sub.StateChanged(sc)
		}
	}
}

func (s *subscriberSet) breakpointHit(n *BreakpointNotice) {
	for _, sub := range s.snapshot() {
		if sub.BreakpointHit != nil {
			sub.BreakpointHit(n)
		}
	}
}

func (s *subscriberSet) exceptionHit(n *ExceptionNotice) {
	for _, sub := range s.snapshot() {
		if sub.ExceptionHit != nil {
			sub.ExceptionHit(n)
		}
	}
}

func (s *subscriberSet) stepCompleted(n *StepNotice) {
	for _, sub := range s.snapshot() {
		if sub.StepCompleted != nil {
			sub.StepCompleted(n)
		}
	}
}

func (s *subscriberSet) moduleLoaded(m nativedbg.ModuleInfo) {
	for _, sub := range s.snapshot() {
		if sub.ModuleLoaded != nil {
			sub.ModuleLoaded(m)
		}
	}
}

func (s *subscriberSet) moduleUnloaded(m nativedbg.ModuleInfo) {
	for _, sub := range s.snapshot() {
		if sub.ModuleUnloaded != nil {
			sub.ModuleUnloaded(m)
		}
	}
}

func (s *subscriberSet) runtimeLog(n *LogNotice) {
	for _, sub := range s.snapshot() {
		if sub.RuntimeLog != nil {
			sub.RuntimeLog(n)
		}
	}
}

func (s *subscriberSet) processExited(code int) {
	for _, sub := range s.snapshot() {
		if sub.ProcessExited != nil {
			sub.ProcessExited(code)
		}
	}
}
