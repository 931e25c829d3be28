package nativedbg

import (
	"fmt"
	"sort"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// ProcessInfo is a host process candidate for attaching.
type ProcessInfo struct {
	PID        int    `json:"pid"`
	PPID       int    `json:"ppid"`
	Name       string `json:"name"`
	Runtime    string `json:"runtime,omitempty"`
	Debuggable bool   `json:"debuggable"`
}

// FindProcess verifies a PID exists on the host. Returns ErrProcessNotFound
// when it does not.
func FindProcess(pid int) (*ProcessInfo, error) {
	p, err := ps.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("query process %d: %w", pid, err)
	}
	if p == nil {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
	}
	return &ProcessInfo{PID: p.Pid(), PPID: p.PPid(), Name: p.Executable()}, nil
}

// ListCandidates enumerates host processes, probing each one for a loaded
// managed runtime via the driver. filter narrows by case-insensitive
// substring on the executable name; empty matches all. Probe failures mark
// a process non-debuggable rather than failing the listing.
func ListCandidates(d Driver, filter string) ([]ProcessInfo, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	needle := strings.ToLower(filter)
	var out []ProcessInfo
	for _, p := range procs {
		name := p.Executable()
		if needle != "" && !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		info := ProcessInfo{PID: p.Pid(), PPID: p.PPid(), Name: name}
		if d != nil {
			if rts, err := d.EnumerateRuntimes(p.Pid()); err == nil && len(rts) > 0 {
				info.Debuggable = true
				info.Runtime = rts[0].Version
			}
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Debuggable != out[j].Debuggable {
			return out[i].Debuggable
		}
		return out[i].PID < out[j].PID
	})
	return out, nil
}
