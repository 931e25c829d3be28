package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mdbg-dev/mdbg/internal/domain"
)

// ExceptionRecord is the persisted memory of one exception signature.
type ExceptionRecord struct {
	Signature string    `json:"signature"`
	TotalHits int       `json:"total_hits"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// AnnotatedException is an exception event enriched with cross-session
// history, so an agent can tell a recurring failure from a brand new one.
type AnnotatedException struct {
	domain.ExceptionHit
	Signature   string     `json:"signature"`
	Known       bool       `json:"known"`
	Occurrences int        `json:"occurrences"`
	FirstSeen   *time.Time `json:"first_seen,omitempty"`
}

// Signature reduces an exception event to a stable cross-run key: the
// exception type plus where it was raised. The message is excluded because
// messages commonly embed ids, addresses, and timestamps.
func Signature(ev *domain.ExceptionHit) string {
	sig := ev.ExceptionType
	if loc := ev.Location; loc != nil {
		switch {
		case loc.Method != "":
			sig += " at " + loc.Method
		case loc.Module != "":
			sig += " in " + filepath.Base(loc.Module)
		}
	}
	return sig
}

// ExceptionStore remembers exception signatures across debug sessions so
// repeat offenders are flagged the moment they fire again. All methods are
// safe for concurrent use.
type ExceptionStore struct {
	mu         sync.RWMutex
	path       string
	signatures map[string]*ExceptionRecord
}

// NewExceptionStore opens the store backed by path, defaulting to
// ~/.mdbg/exceptions.json. A missing or unreadable file starts empty.
func NewExceptionStore(path string) *ExceptionStore {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".mdbg", "exceptions.json")
	}
	s := &ExceptionStore{
		path:       path,
		signatures: make(map[string]*ExceptionRecord),
	}
	_ = s.Load()
	return s
}

// Record folds hits of one signature into the store and reports whether the
// signature was new.
func (s *ExceptionStore) Record(signature string, hits int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(signature, hits)
}

func (s *ExceptionStore) recordLocked(signature string, hits int) bool {
	now := time.Now()
	rec, ok := s.signatures[signature]
	if !ok {
		s.signatures[signature] = &ExceptionRecord{
			Signature: signature,
			TotalHits: hits,
			FirstSeen: now,
			LastSeen:  now,
		}
		return true
	}
	rec.TotalHits += hits
	rec.LastSeen = now
	return false
}

// IsKnown reports whether the signature has been seen before.
func (s *ExceptionStore) IsKnown(signature string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.signatures[signature]
	return ok
}

// Get returns a copy of the record for signature, or nil.
func (s *ExceptionStore) Get(signature string) *ExceptionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.signatures[signature]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// All returns copies of every record, most hits first.
func (s *ExceptionStore) All() []*ExceptionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ExceptionRecord, 0, len(s.signatures))
	for _, rec := range s.signatures {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalHits != out[j].TotalHits {
			return out[i].TotalHits > out[j].TotalHits
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

// Count returns the number of distinct signatures.
func (s *ExceptionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signatures)
}

// Clear drops all in-memory records. The file is untouched until Save.
func (s *ExceptionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signatures = make(map[string]*ExceptionRecord)
}

// Annotate enriches an exception event from history without recording it.
func (s *ExceptionStore) Annotate(ev *domain.ExceptionHit) AnnotatedException {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig := Signature(ev)
	out := AnnotatedException{ExceptionHit: *ev, Signature: sig}
	if rec, ok := s.signatures[sig]; ok {
		out.Known = true
		out.Occurrences = rec.TotalHits
		first := rec.FirstSeen
		out.FirstSeen = &first
	}
	return out
}

// Observe records the event and returns it annotated. Known reflects history
// from before this observation; Occurrences includes it.
func (s *ExceptionStore) Observe(ev *domain.ExceptionHit) AnnotatedException {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig := Signature(ev)
	isNew := s.recordLocked(sig, 1)
	rec := s.signatures[sig]
	first := rec.FirstSeen
	return AnnotatedException{
		ExceptionHit: *ev,
		Signature:    sig,
		Known:        !isNew,
		Occurrences:  rec.TotalHits,
		FirstSeen:    &first,
	}
}

// historyFile is the on-disk shape. Version guards future migrations.
type historyFile struct {
	Version    int                         `json:"version"`
	Signatures map[string]*ExceptionRecord `json:"signatures"`
}

// Save writes the store to disk, creating parent directories as needed. The
// write goes through a temp file so a crash cannot truncate the history.
func (s *ExceptionStore) Save() error {
	s.mu.RLock()
	file := historyFile{Version: 1, Signatures: s.signatures}
	data, err := json.MarshalIndent(&file, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load replaces the in-memory contents with the on-disk file. A missing
// file is not an error.
func (s *ExceptionStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var file historyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Signatures == nil {
		file.Signatures = make(map[string]*ExceptionRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signatures = file.Signatures
	return nil
}
