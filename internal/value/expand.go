package value

import (
	"fmt"

	"github.com/mdbg-dev/mdbg/internal/domain"
	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// Child is one directly-enumerable member of a composite value.
type Child struct {
	Name  string
	Scope domain.VariableScope
	Value nativedbg.Value
}

// Children enumerates the direct members of v: indexed elements for arrays,
// instance fields for objects. Non-composite values have no children.
func Children(v nativedbg.Value, opts Options) ([]Child, error) {
	v, err := unwrap(v)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	switch v.Kind() {
	case nativedbg.KindArray:
		av := v.(nativedbg.ArrayValue)
		n := av.Len()
		if n > opts.MaxArrayElems {
			n = opts.MaxArrayElems
		}
		out := make([]Child, 0, n)
		for i := 0; i < n; i++ {
			elem, err := av.Element(i)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, Child{
				Name:  fmt.Sprintf("[%d]", i),
				Scope: domain.ScopeElement,
				Value: elem,
			})
		}
		return out, nil

	case nativedbg.KindObject:
		ov := v.(nativedbg.ObjectValue)
		fields := instanceFields(ov.Class(), opts.MaxBaseDepth)
		out := make([]Child, 0, len(fields))
		for _, f := range fields {
			fv, err := ov.Field(f.Name)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			out = append(out, Child{
				Name:  f.Name,
				Scope: domain.ScopeField,
				Value: fv,
			})
		}
		return out, nil

	default:
		return nil, nil
	}
}

// Tree renders v and recursively expands it up to depth levels. A single
// visited-address set spans the whole call: revisiting any address renders a
// circular-reference placeholder instead of descending again, so cyclic
// graphs always terminate.
func Tree(name, path string, scope domain.VariableScope, v nativedbg.Value, depth int, opts Options) (*domain.VariableNode, error) {
	visited := make(map[uint64]bool)
	return tree(name, path, scope, v, depth, opts, visited)
}

func tree(name, path string, scope domain.VariableScope, v nativedbg.Value, depth int, opts Options, visited map[uint64]bool) (*domain.VariableNode, error) {
	v, err := unwrap(v)
	if err != nil {
		return nil, err
	}
	info, err := Format(v, opts)
	if err != nil {
		return nil, err
	}
	node := &domain.VariableNode{
		Variable: domain.Variable{
			Name:       name,
			TypeName:   info.TypeName,
			Value:      info.Display,
			Scope:      scope,
			Expandable: info.Expandable,
			ChildCount: info.ChildCount,
			Path:       path,
		},
	}
	if !info.Expandable || depth <= 0 {
		return node, nil
	}

	if addr := addressOf(v); addr != 0 {
		if visited[addr] {
			node.Value = fmt.Sprintf("{circular reference: %s}", info.TypeName)
			node.Expandable = false
			node.ChildCount = 0
			return node, nil
		}
		visited[addr] = true
	}

	children, err := Children(v, opts)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		childNode, err := tree(c.Name, joinPath(path, c.Name), c.Scope, c.Value, depth-1, opts, visited)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// unwrap peels boxed wrappers so callers only ever see the inner value.
func unwrap(v nativedbg.Value) (nativedbg.Value, error) {
	for v != nil && v.Kind() == nativedbg.KindBoxed {
		inner, err := v.(nativedbg.BoxedValue).Unbox()
		if err != nil {
			return nil, fmt.Errorf("unbox %s: %w", v.TypeName(), err)
		}
		v = inner
	}
	return v, nil
}

func addressOf(v nativedbg.Value) uint64 {
	if v == nil {
		return 0
	}
	return v.Address()
}

// joinPath appends a member name to an access path: indexers attach
// directly, fields get a dot.
func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	if len(name) > 0 && name[0] == '[' {
		return base + name
	}
	return base + "." + name
}
