package cli

import "go.uber.org/zap"

// agentLogger wraps zap for verbose internal diagnostics. Stream commands
// bind the live session's ID so interleaved runs stay attributable.
type agentLogger struct {
	sugared   *zap.SugaredLogger
	sessionFn func() string
}

func newAgentLogger(globals *Globals) *agentLogger {
	if globals == nil || !globals.Verbose {
		return &agentLogger{}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	cfg.OutputPaths = []string{"stderr"}
	logger, _ := cfg.Build()
	return &agentLogger{sugared: logger.Sugar()}
}

// BindSession attaches a session ID source; nil detaches it.
func (l *agentLogger) BindSession(fn func() string) {
	if l != nil {
		l.sessionFn = fn
	}
}

func (l *agentLogger) Debug(msg string) {
	if l == nil || l.sugared == nil {
		return
	}
	session := ""
	if l.sessionFn != nil {
		session = l.sessionFn()
	}
	l.sugared.With("session_id", session).Debug(msg)
}

// Zap exposes the underlying logger for the engine, a nop when not verbose.
func (l *agentLogger) Zap() *zap.Logger {
	if l == nil || l.sugared == nil {
		return zap.NewNop()
	}
	return l.sugared.Desugar()
}
