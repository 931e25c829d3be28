// Package cli implements the mdbg command tree. Commands are kong structs;
// each Run receives the shared Globals holding resolved output settings and
// the loaded configuration. Output goes through internal/output so every
// command speaks the same NDJSON dialect.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/mdbg-dev/mdbg/internal/config"
)

// Version and Commit are stamped at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

// CLI is the top-level command tree.
type CLI struct {
	Format  string `help:"Output format: ndjson, text, or auto (ndjson when stdout is not a terminal)" enum:"ndjson,text,auto" default:"${config_format}"`
	Level   string `help:"Internal log level under --verbose" default:"${config_level}"`
	Quiet   bool   `short:"q" help:"Suppress informational output"`
	Verbose bool   `help:"Verbose internal logging to stderr (JSON)"`

	Ps         PsCmd         `cmd:"" help:"List candidate debuggee processes"`
	Attach     AttachCmd     `cmd:"" help:"Attach to a running process and stream debug events"`
	Launch     LaunchCmd     `cmd:"" help:"Launch an executable under the debugger and stream debug events"`
	UI         UICmd         `cmd:"" name:"ui" help:"Interactive session viewer"`
	Doctor     DoctorCmd     `cmd:"" help:"Self-test the debugging stack end to end"`
	Analyze    AnalyzeCmd    `cmd:"" help:"Analyze a captured session transcript"`
	Replay     ReplayCmd     `cmd:"" help:"Re-render a captured session transcript through filters"`
	History    HistoryCmd    `cmd:"" help:"Show or clear the cross-session exception history"`
	Schema     SchemaCmd     `cmd:"" help:"Print JSON schemas of the stream records"`
	Config     ConfigCmd     `cmd:"" help:"Show, locate, or generate configuration"`
	Completion CompletionCmd `cmd:"" help:"Generate shell completion scripts"`
	Version    VersionCmd    `cmd:"" help:"Show version information"`
	Update     UpdateCmd     `cmd:"" help:"Show how to upgrade mdbg"`
}

// Globals carries resolved output settings into every command's Run.
type Globals struct {
	Format  string
	Level   string
	Quiet   bool
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	logger *agentLogger
}

// NewGlobalsWithConfig resolves the effective globals from parsed flags and
// the loaded configuration. An "auto" format becomes text on a terminal and
// ndjson everywhere else, so agents reading a pipe never see tables.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	if cfg == nil {
		cfg = config.Default()
	}
	g := &Globals{
		Format:  c.Format,
		Level:   c.Level,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	if g.Format == "" {
		g.Format = cfg.Format
	}
	if g.Format == "auto" {
		if f, ok := g.Stdout.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			g.Format = "text"
		} else {
			g.Format = "ndjson"
		}
	}
	g.logger = newAgentLogger(g)
	return g
}

// Debug logs an internal diagnostic line. A no-op unless --verbose is set.
func (g *Globals) Debug(format string, args ...any) {
	if g == nil || g.logger == nil {
		return
	}
	g.logger.Debug(fmt.Sprintf(format, args...))
}
