package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// savedBreakpoints is the on-disk breakpoint set for one debuggee, keyed by
// process name so the next session against the same program starts with the
// same breakpoints.
type savedBreakpoints struct {
	Version     int               `json:"version"`
	Process     string            `json:"process"`
	SavedAt     string            `json:"saved_at"`
	Breakpoints []savedBreakpoint `json:"breakpoints"`
}

type savedBreakpoint struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// defaultBreakpointStatePath returns ~/.mdbg/breakpoints/<process>.json,
// creating the directory.
func defaultBreakpointStatePath(process string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".mdbg", "breakpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create breakpoint state directory: %w", err)
	}
	return filepath.Join(dir, sanitizeProcessName(process)+".json"), nil
}

// sanitizeProcessName keeps saved state filenames flat even when the
// debuggee name carries path separators.
func sanitizeProcessName(process string) string {
	name := filepath.Base(process)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "process"
	}
	return name
}

// loadBreakpointState reads saved breakpoints; a missing file is nil, nil.
func loadBreakpointState(path string) (*savedBreakpoints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read breakpoint state: %w", err)
	}
	var st savedBreakpoints
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse breakpoint state %s: %w", path, err)
	}
	return &st, nil
}

// saveBreakpointState writes the set atomically enough for a dotfile:
// the whole document in one WriteFile.
func saveBreakpointState(path string, breakpoints []savedBreakpoint, process string) error {
	st := savedBreakpoints{
		Version:     1,
		Process:     process,
		SavedAt:     time.Now().UTC().Format(time.RFC3339),
		Breakpoints: breakpoints,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
