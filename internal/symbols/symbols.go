// Package symbols maps runtime code locations (method token + IL offset) to
// source positions and back, backed by the line tables modules publish when
// their debug symbols load.
package symbols

import (
	"strings"
	"sync"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// Placement is a resolved code position a breakpoint can bind to.
type Placement struct {
	ModulePath  string
	MethodToken uint32
	ILOffset    uint32
	File        string
	Line        int
}

// Resolver answers both directions of the source mapping.
type Resolver interface {
	// Resolve fills File and Line on loc from its method token and IL
	// offset. Returns false when no loaded module covers the location.
	Resolve(loc *domain.SourceLocation) bool

	// FindLine locates the code position for a source line. When the exact
	// line has no code, the placement slides forward to the next line that
	// does within the same file.
	FindLine(file string, line int) (Placement, bool)
}

// Index is a table-backed Resolver. Modules are added as their symbols load
// and removed on unload; lookups tolerate both full paths and basenames.
type Index struct {
	mu      sync.RWMutex
	modules map[string][]nativedbg.LineEntry
}

func NewIndex() *Index {
	return &Index{modules: make(map[string][]nativedbg.LineEntry)}
}

// AddModule indexes a module's line table. Modules without symbols are
// ignored.
func (ix *Index) AddModule(mod nativedbg.ModuleInfo) {
	if !mod.HasSymbols || mod.Symbols == nil {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.modules[mod.Path] = mod.Symbols.Lines
}

func (ix *Index) RemoveModule(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.modules, path)
}

// Resolve implements Resolver. The winning entry is the one with the
// greatest IL offset not beyond the location's, scoped to the same method.
func (ix *Index) Resolve(loc *domain.SourceLocation) bool {
	if loc == nil || loc.MethodToken == 0 {
		return false
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	lines, ok := ix.modules[loc.Module]
	if !ok {
		// the location may carry a basename while the table is keyed by path
		for path, ls := range ix.modules {
			if baseName(path) == loc.Module {
				lines, ok = ls, true
				break
			}
		}
		if !ok {
			return false
		}
	}

	var best *nativedbg.LineEntry
	for i := range lines {
		e := &lines[i]
		if e.MethodToken != loc.MethodToken || e.ILOffset > loc.ILOffset {
			continue
		}
		if best == nil || e.ILOffset > best.ILOffset {
			best = e
		}
	}
	if best == nil {
		return false
	}
	loc.File = best.File
	loc.Line = best.Line
	return true
}

// FindLine implements Resolver across every indexed module.
func (ix *Index) FindLine(file string, line int) (Placement, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var best *Placement
	for path, lines := range ix.modules {
		for i := range lines {
			e := &lines[i]
			if !fileMatches(e.File, file) || e.Line < line {
				continue
			}
			if best == nil || e.Line < best.Line ||
				(e.Line == best.Line && e.ILOffset < best.ILOffset) {
				best = &Placement{
					ModulePath:  path,
					MethodToken: e.MethodToken,
					ILOffset:    e.ILOffset,
					File:        e.File,
					Line:        e.Line,
				}
			}
		}
	}
	if best == nil {
		return Placement{}, false
	}
	return *best, true
}

// fileMatches accepts an exact path, or a relative suffix on a path
// separator boundary (so "Program.cs" matches "/src/app/Program.cs" but
// "ram.cs" does not).
func fileMatches(entryFile, query string) bool {
	if entryFile == query {
		return true
	}
	if !strings.HasSuffix(entryFile, query) {
		return false
	}
	sep := entryFile[len(entryFile)-len(query)-1]
	return sep == '/' || sep == '\\'
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
