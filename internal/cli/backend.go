package cli

import (
	"fmt"
	"time"

	"github.com/mdbg-dev/mdbg/internal/breakpoint"
	"github.com/mdbg-dev/mdbg/internal/config"
	"github.com/mdbg-dev/mdbg/internal/debug"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
	"github.com/mdbg-dev/mdbg/internal/nativedbg/sim"
	"github.com/mdbg-dev/mdbg/internal/output"
	"github.com/mdbg-dev/mdbg/internal/session"
	"github.com/mdbg-dev/mdbg/internal/symbols"
	"github.com/mdbg-dev/mdbg/internal/value"
)

// engineParts bundles one assembled debug engine with the collaborators every
// session command needs: the symbol index (fed by module events), the
// breakpoint manager, the session tracker and the cross-session exception
// history.
type engineParts struct {
	eng     *debug.Debugger
	syms    *symbols.Index
	bps     *breakpoint.Manager
	tracker *session.Tracker
	history *output.ExceptionStore

	unsubSyms func()
}

// openDriver picks the debugging backend. The sim backend debugs the built-in
// sample target; pid, when non-zero, becomes the sample target's PID so
// attach-by-pid works against it.
func openDriver(backend string, pid int) (nativedbg.Driver, error) {
	switch backend {
	case "sim":
		target, _ := sim.SampleTarget()
		if pid > 0 {
			target.SetPID(pid)
		}
		return sim.NewDriver(target), nil
	case "native", "":
		drv, err := nativedbg.NewNativeDriver()
		if err != nil {
			return nil, fmt.Errorf("native debugging bridge unavailable: %w", err)
		}
		return drv, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (native or sim)", backend)
	}
}

// buildEngine assembles the engine over drv with the config-driven timeouts
// and value caps. The symbol index subscribes before anything else so module
// symbols are indexed by the time later subscribers see the same event.
func buildEngine(globals *Globals, drv nativedbg.Driver) *engineParts {
	cfg := globals.Config

	syms := symbols.NewIndex()
	eng := debug.New(drv, debug.Options{
		Logger:        globals.logger.Zap(),
		Resolver:      syms,
		LaunchTimeout: config.Duration(cfg.Defaults.LaunchTimeout, 15*time.Second),
		EvalTimeout:   config.Duration(cfg.Defaults.EvalTimeout, 5*time.Second),
		StopTimeout:   config.Duration(cfg.Defaults.PauseTimeout, 3*time.Second),
		Value: value.Options{
			MaxStringLen:  cfg.Defaults.MaxStringLen,
			MaxArrayElems: cfg.Defaults.MaxArrayElems,
			MaxDepth:      value.DefaultOptions().MaxDepth,
			MaxBaseDepth:  value.DefaultOptions().MaxBaseDepth,
		},
	})
	unsubSyms := eng.Subscribe(&debug.Subscriber{
		ModuleLoaded:   syms.AddModule,
		ModuleUnloaded: func(m nativedbg.ModuleInfo) { syms.RemoveModule(m.Path) },
	})

	return &engineParts{
		eng:       eng,
		syms:      syms,
		bps:       breakpoint.NewManager(eng, syms, globals.logger.Zap()),
		tracker:   session.NewTracker(nil),
		history:   output.NewExceptionStore(""),
		unsubSyms: unsubSyms,
	}
}

// close unhooks the collaborators from the engine. Call after the event loop
// has unsubscribed itself, before Disconnect.
func (p *engineParts) close() {
	if p.bps != nil {
		p.bps.Close()
	}
	if p.unsubSyms != nil {
		p.unsubSyms()
		p.unsubSyms = nil
	}
}
