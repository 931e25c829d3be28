package debug

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// resolveCtx carries what the remote-call strategies need to run.
type resolveCtx struct {
	ctx      context.Context
	proc     nativedbg.Process
	threadID int
	timeout  time.Duration
}

// memberStrategy is one way of resolving a member on an object. It reports
// whether it applied; an error from an applied strategy is final and later
// strategies are not consulted.
type memberStrategy struct {
	name string
	fn   func(d *Debugger, rc *resolveCtx, obj nativedbg.ObjectValue, member string) (nativedbg.Value, bool, error)
}

// memberStrategies is the resolution order: direct field, auto-property
// backing field, property getter as a remote call, and for call-shaped
// tokens a no-arg method as a remote call. First match wins.
var memberStrategies = []memberStrategy{
	{"field", resolveField},
	{"backing_field", resolveBackingField},
	{"getter", resolveGetter},
	{"call", resolveCall},
}

// resolvePath walks a dotted member-access expression from its frame root.
func (d *Debugger) resolvePath(ctx context.Context, p nativedbg.Process, threadID, frameIndex int, expr string, timeout time.Duration) (nativedbg.Value, error) {
	const op = "evaluate"

	tokens, err := splitPath(expr)
	if err != nil {
		return nil, err
	}

	frame, err := d.frameAt(op, p, threadID, frameIndex)
	if err != nil {
		return nil, err
	}
	cur, err := resolveRoot(frame, tokens[0])
	if err != nil {
		return nil, err
	}

	rc := &resolveCtx{ctx: ctx, proc: p, threadID: threadID, timeout: timeout}
	path := tokens[0]
	for _, member := range tokens[1:] {
		cur, err = unwrapBoxed(cur)
		if err != nil {
			return nil, wrapf(CodeNativeFailure, op, err, "unwrap `%s`", path)
		}
		if cur == nil || cur.Kind() == nativedbg.KindNull {
			return nil, errf(CodeEvalFailed, op, "cannot access `%s`: `%s` is null", member, path)
		}
		cur, err = d.resolveMember(rc, cur, member, path)
		if err != nil {
			return nil, err
		}
		path += "." + member
	}
	return cur, nil
}

func (d *Debugger) resolveMember(rc *resolveCtx, cur nativedbg.Value, member, path string) (nativedbg.Value, error) {
	const op = "evaluate"

	obj, ok := cur.(nativedbg.ObjectValue)
	if !ok {
		return nil, errf(CodeVariableUnavailable, op,
			"`%s` (%s) has no member `%s`", path, cur.TypeName(), member)
	}
	for _, strat := range memberStrategies {
		v, applied, err := strat.fn(d, rc, obj, member)
		if err != nil {
			return nil, err
		}
		if applied {
			return v, nil
		}
	}
	return nil, errf(CodeVariableUnavailable, op,
		"cannot resolve `%s` on `%s` (%s)", member, path, obj.TypeName())
}

func resolveField(_ *Debugger, _ *resolveCtx, obj nativedbg.ObjectValue, member string) (nativedbg.Value, bool, error) {
	return readField(obj, member)
}

func resolveBackingField(_ *Debugger, _ *resolveCtx, obj nativedbg.ObjectValue, member string) (nativedbg.Value, bool, error) {
	return readField(obj, "<"+member+">k__BackingField")
}

func readField(obj nativedbg.ObjectValue, name string) (nativedbg.Value, bool, error) {
	v, err := obj.Field(name)
	if err != nil {
		if errors.Is(err, nativedbg.ErrFieldNotFound) {
			return nil, false, nil
		}
		return nil, false, wrapf(CodeNativeFailure, "evaluate", err, "read field %s", name)
	}
	return v, true, nil
}

func resolveGetter(d *Debugger, rc *resolveCtx, obj nativedbg.ObjectValue, member string) (nativedbg.Value, bool, error) {
	m, ok := findMethod(obj.Class(), "get_"+member, d.opts.Value.MaxBaseDepth)
	if !ok {
		return nil, false, nil
	}
	v, err := d.remoteCall(rc.ctx, rc.proc, rc.threadID, m, obj, rc.timeout)
	return v, true, err
}

func resolveCall(d *Debugger, rc *resolveCtx, obj nativedbg.ObjectValue, member string) (nativedbg.Value, bool, error) {
	if !strings.HasSuffix(member, "()") {
		return nil, false, nil
	}
	name := strings.TrimSuffix(member, "()")
	if name == "" {
		return nil, false, nil
	}
	m, ok := findMethod(obj.Class(), name, d.opts.Value.MaxBaseDepth)
	if !ok {
		return nil, false, nil
	}
	v, err := d.remoteCall(rc.ctx, rc.proc, rc.threadID, m, obj, rc.timeout)
	return v, true, err
}

// findMethod walks the base-type chain looking for a declared method. The
// walk is a capped loop so a corrupt hierarchy cannot spin forever.
func findMethod(cls nativedbg.Class, name string, maxDepth int) (nativedbg.Method, bool) {
	for c, depth := cls, 0; c != nil && depth < maxDepth; c, depth = c.Base(), depth+1 {
		if m, ok := c.Method(name); ok {
			return m, true
		}
	}
	return nil, false
}

// resolveRoot binds the first path token inside the frame: the receiver,
// then locals, then arguments.
func resolveRoot(frame nativedbg.Frame, name string) (nativedbg.Value, error) {
	const op = "evaluate"

	if name == "this" {
		v, err := frame.This()
		if err != nil {
			return nil, wrapf(CodeNativeFailure, op, err, "read receiver")
		}
		if v == nil {
			return nil, errf(CodeVariableUnavailable, op, "`this` is not available in this frame")
		}
		return v, nil
	}

	locals, err := frame.Locals()
	if err != nil {
		return nil, wrapf(CodeNativeFailure, op, err, "read locals")
	}
	for _, nv := range locals {
		if nv.Name == name {
			return nv.Value, nil
		}
	}
	args, err := frame.Arguments()
	if err != nil {
		return nil, wrapf(CodeNativeFailure, op, err, "read arguments")
	}
	for _, nv := range args {
		if nv.Name == name {
			return nv.Value, nil
		}
	}
	return nil, errf(CodeVariableUnavailable, op, "no local, argument or `this` named `%s`", name)
}

// splitPath tokenizes a dotted expression. Whitespace around separators is
// tolerated; empty segments are not.
func splitPath(expr string) ([]string, error) {
	const op = "evaluate"

	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errf(CodeEvalFailed, op, "empty expression")
	}
	parts := strings.Split(expr, ".")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return nil, errf(CodeEvalFailed, op, "malformed expression %q", expr)
		}
	}
	return parts, nil
}

func unwrapBoxed(v nativedbg.Value) (nativedbg.Value, error) {
	for v != nil && v.Kind() == nativedbg.KindBoxed {
		inner, err := v.(nativedbg.BoxedValue).Unbox()
		if err != nil {
			return nil, err
		}
		v = inner
	}
	return v, nil
}
