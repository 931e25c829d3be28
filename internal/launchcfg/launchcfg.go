// Package launchcfg reads launchSettings.json files, the project-local
// convention managed runtimes use to describe how an application should be
// started: named profiles carrying the executable, its arguments, the
// working directory and environment overrides.
package launchcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Profile is one named launch configuration.
type Profile struct {
	Name       string
	Executable string
	Args       []string
	Cwd        string
	Env        []string // KEY=VALUE, sorted
}

// File is a parsed launchSettings.json.
type File struct {
	Path string

	profiles []Profile // document order
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read launch settings: %w", err)
	}
	return Parse(path, data)
}

// Parse parses launchSettings.json content. path is used in error messages
// only.
func Parse(path string, data []byte) (*File, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: not valid JSON", path)
	}
	profs := gjson.GetBytes(data, "profiles")
	if !profs.IsObject() {
		return nil, fmt.Errorf("%s: no profiles section", path)
	}

	f := &File{Path: path}
	profs.ForEach(func(key, val gjson.Result) bool {
		p := Profile{
			Name:       key.String(),
			Executable: val.Get("executablePath").String(),
			Args:       SplitArgs(val.Get("commandLineArgs").String()),
			Cwd:        val.Get("workingDirectory").String(),
		}
		if env := val.Get("environmentVariables"); env.IsObject() {
			env.ForEach(func(k, v gjson.Result) bool {
				p.Env = append(p.Env, k.String()+"="+v.String())
				return true
			})
			sort.Strings(p.Env)
		}
		f.profiles = append(f.profiles, p)
		return true
	})
	if len(f.profiles) == 0 {
		return nil, fmt.Errorf("%s: profiles section is empty", path)
	}
	return f, nil
}

// Names lists profile names in document order.
func (f *File) Names() []string {
	out := make([]string, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p.Name)
	}
	return out
}

// Profile returns the named profile. An empty name selects the first profile
// in the file, matching how runtimes pick a default.
func (f *File) Profile(name string) (Profile, error) {
	if name == "" {
		return f.profiles[0], nil
	}
	for _, p := range f.profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%s: no profile %q (have %s)",
		f.Path, name, strings.Join(f.Names(), ", "))
}

// Find locates a project's launchSettings.json: dir itself first, then the
// conventional Properties subdirectory.
func Find(dir string) (string, bool) {
	for _, cand := range []string{
		filepath.Join(dir, "launchSettings.json"),
		filepath.Join(dir, "Properties", "launchSettings.json"),
	} {
		if st, err := os.Stat(cand); err == nil && !st.IsDir() {
			return cand, true
		}
	}
	return "", false
}

// SplitArgs splits a commandLineArgs value into argv, honoring single and
// double quotes. Quotes delimit; they do not appear in the resulting
// arguments, and an empty quoted pair yields an empty argument.
func SplitArgs(s string) []string {
	var (
		out    []string
		cur    strings.Builder
		quote  rune
		quoted bool
	)
	flush := func() {
		if quoted || cur.Len() > 0 {
			out = append(out, cur.String())
		}
		cur.Reset()
		quoted = false
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			quoted = true
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
