package cli

import (
	"encoding/json"
	"fmt"

	"github.com/mdbg-dev/mdbg/internal/output"
)

// VersionCmd prints version information
type VersionCmd struct{}

// versionOutput is the NDJSON shape of the version record.
type versionOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
}

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		encoder := json.NewEncoder(globals.Stdout)
		return encoder.Encode(versionOutput{
			Type:          "version",
			SchemaVersion: output.SchemaVersion,
			Version:       Version,
			Commit:        Commit,
		})
	}

	fmt.Fprintf(globals.Stdout, "mdbg version %s (%s)\n", Version, Commit)
	return nil
}
