package cli

import (
	"errors"
	"fmt"

	"github.com/mdbg-dev/mdbg/internal/debug"
	"github.com/mdbg-dev/mdbg/internal/output"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so agents always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, op, message string, hint ...string) error {
	h := ""
	if len(hint) > 0 {
		h = hint[0]
	}
	if globals != nil && globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteError(code, op, message, h)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if h != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", h)
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}

// outputEngineError maps a debug.Error onto the stream, preserving its code
// and operation. Errors without one surface as NATIVE_FAILURE.
func outputEngineError(globals *Globals, err error, hint ...string) error {
	var derr *debug.Error
	if errors.As(err, &derr) {
		return outputErrorCommon(globals, string(derr.Code), derr.Op, derr.Message, hint...)
	}
	return outputErrorCommon(globals, string(debug.CodeNativeFailure), "", err.Error(), hint...)
}
