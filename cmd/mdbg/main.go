package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/mdbg-dev/mdbg/internal/cli"
	"github.com/mdbg-dev/mdbg/internal/config"
)

const quickStart = `mdbg - managed runtime debugging for AI agents

Quick start:
  mdbg ps                               List attachable processes
  mdbg attach PID                       Attach and stream debug events
  mdbg launch ./bin/app                 Launch under the debugger
  mdbg launch -b Program.cs:25 ./bin/app  Break at a source line

For help:
  mdbg --help                           All commands and flags
  mdbg schema                           Machine-readable record schemas
`

func main() {
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config values seed the flag defaults; explicit flags still win.
	vars := kong.Vars{
		"config_format": cfg.Format,
		"config_level":  cfg.Level,
	}

	ctx := kong.Parse(&c,
		kong.Name("mdbg"),
		kong.Description("mdbg: Debug managed runtime processes for AI agents\n\nAI agents: run 'mdbg schema' for machine-readable record schemas"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		os.Exit(1)
	}
}
