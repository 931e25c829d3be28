package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/mdbg-dev/mdbg/internal/output"
)

// UpdateCmd shows how to upgrade mdbg
type UpdateCmd struct{}

// updateOutput is the NDJSON shape of the upgrade instructions record.
type updateOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"current_version"`
	Commit        string `json:"commit"`
	GoVersion     string `json:"go_version"`
	Install       string `json:"install"`
	ReleasesURL   string `json:"releases_url"`
}

const (
	installCmd     = "go install github.com/mdbg-dev/mdbg/cmd/mdbg@latest"
	releasePageURL = "https://github.com/mdbg-dev/mdbg/releases"
)

// Run executes the update command
func (c *UpdateCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(updateOutput{
			Type:          "update",
			SchemaVersion: output.SchemaVersion,
			Version:       Version,
			Commit:        Commit,
			GoVersion:     runtime.Version(),
			Install:       installCmd,
			ReleasesURL:   releasePageURL,
		})
	}

	fmt.Fprintf(globals.Stdout, "mdbg %s (%s, %s)\n\n", Version, Commit, runtime.Version())
	fmt.Fprintln(globals.Stdout, "Upgrade:")
	fmt.Fprintf(globals.Stdout, "  %s\n\n", installCmd)
	fmt.Fprintln(globals.Stdout, "Release notes:")
	fmt.Fprintf(globals.Stdout, "  %s\n", releasePageURL)
	return nil
}
