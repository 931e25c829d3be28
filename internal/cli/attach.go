package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/mdbg-dev/mdbg/internal/debug"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// AttachCmd attaches to a running managed process and streams its debug events
type AttachCmd struct {
	PID int `arg:"" help:"Process id of the debuggee"`

	Stream streamFlags `embed:""`
}

// Run executes the attach command
func (c *AttachCmd) Run(globals *Globals) error {
	if err := validateStreamFlags(globals, &c.Stream, false); err != nil {
		return err
	}

	// Fail on a bad pid before opening the backend; the sim target is not a
	// host process, so it skips the check.
	if c.Stream.Backend != "sim" {
		if _, err := nativedbg.FindProcess(c.PID); err != nil {
			if errors.Is(err, nativedbg.ErrProcessNotFound) {
				return outputErrorCommon(globals, string(debug.CodeNotFound), "attach",
					fmt.Sprintf("process %d not found", c.PID),
					"list attachable processes with 'mdbg ps'")
			}
			return outputErrorCommon(globals, string(debug.CodeNativeFailure), "attach", err.Error())
		}
	}

	drv, err := openDriver(c.Stream.Backend, c.PID)
	if err != nil {
		return outputErrorCommon(globals, string(debug.CodeNativeFailure), "attach", err.Error(),
			"try --backend sim, or run 'mdbg doctor'")
	}

	parts := buildEngine(globals, drv)

	// Subscribe before attaching: the module burst a fresh attach replays
	// must land in the feed, not race the subscription.
	feed := newStreamFeed(globals.Config.Defaults.EventBuffer)
	unsub := parts.eng.Subscribe(streamSubscriber(parts, feed))

	sess, err := parts.eng.Attach(context.Background(), c.PID)
	if err != nil {
		unsub()
		parts.close()
		return outputEngineError(globals, err)
	}
	globals.logger.BindSession(func() string { return sess.ID })

	return runStream(globals, &c.Stream, parts, sess, false, feed, unsub)
}
