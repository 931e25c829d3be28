package cli

// validateStreamFlags centralizes the flag combinations attach/launch share,
// so both commands reject them identically.
func validateStreamFlags(globals *Globals, f *streamFlags, dryRunJSON bool) error {
	if dryRunJSON && f.Tmux {
		return outputErrorCommon(globals, "INVALID_FLAGS", "", "--dry-run-json cannot be combined with --tmux", "drop --tmux or remove --dry-run-json")
	}
	if dryRunJSON && globals != nil && globals.Format != "ndjson" {
		return outputErrorCommon(globals, "INVALID_FLAGS", "", "--dry-run-json requires ndjson output", "add --format ndjson or remove --dry-run-json")
	}
	// quiet + text suppresses the only surface the format has
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, "INVALID_FLAGS", "", "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	if f.MaxEvents < 0 {
		return outputErrorCommon(globals, "INVALID_FLAGS", "", "--max-events must be positive")
	}
	return nil
}
