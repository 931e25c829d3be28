package cli

import (
	"encoding/json"
	"fmt"

	"github.com/mdbg-dev/mdbg/internal/config"
)

// ConfigCmd groups configuration inspection commands
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show current configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show which config file is in use"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample configuration file"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct{}

type configDefaultsOutput struct {
	LaunchTimeout  string `json:"launch_timeout"`
	EvalTimeout    string `json:"eval_timeout"`
	PauseTimeout   string `json:"pause_timeout"`
	StepTimeout    string `json:"step_timeout"`
	MaxStringLen   int    `json:"max_string_len"`
	MaxArrayElems  int    `json:"max_array_elems"`
	MaxExpandDepth int    `json:"max_expand_depth"`
	EventBuffer    int    `json:"event_buffer"`
	Profile        string `json:"profile,omitempty"`
	StopAtEntry    bool   `json:"stop_at_entry"`
}

type configOutput struct {
	Type     string               `json:"type"`
	Format   string               `json:"format"`
	Level    string               `json:"level"`
	Quiet    bool                 `json:"quiet"`
	Verbose  bool                 `json:"verbose"`
	Defaults configDefaultsOutput `json:"defaults"`
}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	if cfg == nil {
		cfg = config.Default()
	}

	if globals.Format == "ndjson" {
		out := configOutput{
			Type:    "config",
			Format:  cfg.Format,
			Level:   cfg.Level,
			Quiet:   cfg.Quiet,
			Verbose: cfg.Verbose,
			Defaults: configDefaultsOutput{
				LaunchTimeout:  cfg.Defaults.LaunchTimeout,
				EvalTimeout:    cfg.Defaults.EvalTimeout,
				PauseTimeout:   cfg.Defaults.PauseTimeout,
				StepTimeout:    cfg.Defaults.StepTimeout,
				MaxStringLen:   cfg.Defaults.MaxStringLen,
				MaxArrayElems:  cfg.Defaults.MaxArrayElems,
				MaxExpandDepth: cfg.Defaults.MaxExpandDepth,
				EventBuffer:    cfg.Defaults.EventBuffer,
				Profile:        cfg.Defaults.Profile,
				StopAtEntry:    cfg.Defaults.StopAtEntry,
			},
		}
		return json.NewEncoder(globals.Stdout).Encode(out)
	}

	fmt.Fprintln(globals.Stdout, "Current Configuration:")
	fmt.Fprintf(globals.Stdout, "  format: %s\n", cfg.Format)
	fmt.Fprintf(globals.Stdout, "  level: %s\n", cfg.Level)
	fmt.Fprintf(globals.Stdout, "  quiet: %v\n", cfg.Quiet)
	fmt.Fprintf(globals.Stdout, "  verbose: %v\n", cfg.Verbose)
	fmt.Fprintln(globals.Stdout)
	fmt.Fprintln(globals.Stdout, "Defaults:")
	fmt.Fprintf(globals.Stdout, "  launch_timeout: %s\n", cfg.Defaults.LaunchTimeout)
	fmt.Fprintf(globals.Stdout, "  eval_timeout: %s\n", cfg.Defaults.EvalTimeout)
	fmt.Fprintf(globals.Stdout, "  pause_timeout: %s\n", cfg.Defaults.PauseTimeout)
	fmt.Fprintf(globals.Stdout, "  step_timeout: %s\n", cfg.Defaults.StepTimeout)
	fmt.Fprintf(globals.Stdout, "  max_string_len: %d\n", cfg.Defaults.MaxStringLen)
	fmt.Fprintf(globals.Stdout, "  max_array_elems: %d\n", cfg.Defaults.MaxArrayElems)
	fmt.Fprintf(globals.Stdout, "  max_expand_depth: %d\n", cfg.Defaults.MaxExpandDepth)
	fmt.Fprintf(globals.Stdout, "  event_buffer: %d\n", cfg.Defaults.EventBuffer)
	if cfg.Defaults.Profile != "" {
		fmt.Fprintf(globals.Stdout, "  profile: %s\n", cfg.Defaults.Profile)
	}
	fmt.Fprintf(globals.Stdout, "  stop_at_entry: %v\n", cfg.Defaults.StopAtEntry)
	return nil
}

// ConfigPathCmd shows which config file is in use
type ConfigPathCmd struct{}

type configPathOutput struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Run executes the config path command
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(configPathOutput{
			Type: "config_path",
			Path: path,
		})
	}

	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found")
		fmt.Fprintln(globals.Stdout)
		fmt.Fprintln(globals.Stdout, "Searched for .mdbg.yaml / .mdbg.yml in:")
		fmt.Fprintln(globals.Stdout, "  - current directory")
		fmt.Fprintln(globals.Stdout, "  - home directory")
		fmt.Fprintln(globals.Stdout)
		fmt.Fprintln(globals.Stdout, "Generate one with: mdbg config generate > ~/.mdbg.yaml")
		return nil
	}

	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

// ConfigGenerateCmd prints a sample configuration file
type ConfigGenerateCmd struct{}

// Run executes the config generate command
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	fmt.Fprint(globals.Stdout, `# mdbg configuration file
# Place at ~/.mdbg.yaml or ./.mdbg.yaml

# Output format: ndjson, text, or auto
format: ndjson

# Internal log level under --verbose
level: info

# Suppress informational output
quiet: false

# Verbose internal logging to stderr
verbose: false

# Default values for debug sessions
defaults:
  # Engine operation timeouts
  launch_timeout: 15s
  eval_timeout: 5s
  pause_timeout: 3s
  step_timeout: 10s

  # Value rendering caps
  max_string_len: 100
  max_array_elems: 100
  max_expand_depth: 3

  # Event buffer between the engine and output sinks
  event_buffer: 256

  # Launch profile from launchSettings.json ("" means first profile)
  profile: ""

  # Pause at the entry point on launch
  stop_at_entry: false
`)
	return nil
}
