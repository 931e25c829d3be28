package filter

import (
	"sync"
	"time"
)

// DedupeFilter collapses repeated identical output lines. A debuggee stuck
// printing in a tight loop would otherwise drown the stream and burn the
// agent's context on noise.
type DedupeFilter struct {
	mu       sync.Mutex
	window   time.Duration // 0 = collapse consecutive repeats only
	seen     map[string]*dedupeEntry
	lastText string
}

type dedupeEntry struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// NewDedupeFilter builds the filter. With window=0 only back-to-back repeats
// are suppressed; with window>0 any repeat inside the window is.
func NewDedupeFilter(window time.Duration) *DedupeFilter {
	return &DedupeFilter{
		window: window,
		seen:   make(map[string]*dedupeEntry),
	}
}

// DedupeResult reports the verdict for one line.
type DedupeResult struct {
	ShouldEmit bool
	Count      int // occurrences so far, 1 on first sight
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Check records one output line and decides whether it should be emitted.
func (f *DedupeFilter) Check(text string) DedupeResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if f.window > 0 {
		f.expire(now)
	}

	if existing, ok := f.seen[text]; ok {
		existing.count++
		existing.lastSeen = now

		suppressed := f.window > 0 || f.lastText == text
		if suppressed {
			return DedupeResult{
				ShouldEmit: false,
				Count:      existing.count,
				FirstSeen:  existing.firstSeen,
				LastSeen:   existing.lastSeen,
			}
		}
	}

	f.seen[text] = &dedupeEntry{count: 1, firstSeen: now, lastSeen: now}
	f.lastText = text
	return DedupeResult{ShouldEmit: true, Count: 1, FirstSeen: now, LastSeen: now}
}

// Suppressed returns texts with more than one occurrence and their counts,
// for a summary record when the session ends.
func (f *DedupeFilter) Suppressed() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]int)
	for text, entry := range f.seen {
		if entry.count > 1 {
			out[text] = entry.count
		}
	}
	return out
}

// Reset clears all state, e.g. when the debuggee restarts.
func (f *DedupeFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]*dedupeEntry)
	f.lastText = ""
}

func (f *DedupeFilter) expire(now time.Time) {
	cutoff := now.Add(-f.window)
	for text, entry := range f.seen {
		if entry.lastSeen.Before(cutoff) {
			delete(f.seen, text)
		}
	}
}
