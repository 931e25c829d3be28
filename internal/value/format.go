// Package value renders debuggee value handles into display strings and
// expands object graphs with cycle detection. Pure over the nativedbg value
// interfaces; no engine state.
package value

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/samber/lo"

	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// Options caps rendering and expansion work. All caps must be positive.
type Options struct {
	MaxStringLen  int // runes shown before truncation
	MaxArrayElems int // elements enumerated per array
	MaxDepth      int // recursive expansion depth
	MaxBaseDepth  int // base-class chain walk cap
}

// DefaultOptions returns the standard caps.
func DefaultOptions() Options {
	return Options{
		MaxStringLen:  100,
		MaxArrayElems: 100,
		MaxDepth:      10,
		MaxBaseDepth:  16,
	}
}

// Info is the rendered summary of one value.
type Info struct {
	Display    string
	TypeName   string
	Expandable bool
	ChildCount int
}

// Format renders a value handle. Deterministic: the same value always yields
// byte-identical output.
func Format(v nativedbg.Value, opts Options) (Info, error) {
	if v == nil {
		return Info{Display: "null"}, nil
	}
	switch v.Kind() {
	case nativedbg.KindNull:
		return Info{Display: "null", TypeName: v.TypeName()}, nil

	case nativedbg.KindBoxed:
		inner, err := v.(nativedbg.BoxedValue).Unbox()
		if err != nil {
			return Info{}, fmt.Errorf("unbox %s: %w", v.TypeName(), err)
		}
		return Format(inner, opts)

	case nativedbg.KindString:
		sv := v.(nativedbg.StringValue)
		text, err := sv.Text(opts.MaxStringLen)
		if err != nil {
			return Info{}, fmt.Errorf("read string: %w", err)
		}
		if sv.Len() > opts.MaxStringLen {
			text += "..."
		}
		return Info{Display: strconv.Quote(text), TypeName: v.TypeName()}, nil

	case nativedbg.KindArray:
		av := v.(nativedbg.ArrayValue)
		n := av.Len()
		count := strconv.Itoa(n)
		if n > opts.MaxArrayElems {
			count = fmt.Sprintf("%d+", opts.MaxArrayElems)
		}
		return Info{
			Display:    fmt.Sprintf("%s[%s]", av.ElementTypeName(), count),
			TypeName:   v.TypeName(),
			Expandable: n > 0,
			ChildCount: lo.Min([]int{n, opts.MaxArrayElems}),
		}, nil

	case nativedbg.KindObject:
		ov := v.(nativedbg.ObjectValue)
		fields := instanceFields(ov.Class(), opts.MaxBaseDepth)
		return Info{
			Display:    fmt.Sprintf("{%s}", v.TypeName()),
			TypeName:   v.TypeName(),
			Expandable: len(fields) > 0,
			ChildCount: len(fields),
		}, nil

	case nativedbg.KindPrimitive:
		pv := v.(nativedbg.PrimitiveValue)
		return Info{Display: formatPrimitive(pv), TypeName: v.TypeName()}, nil

	default:
		return Info{Display: "null", TypeName: v.TypeName()}, nil
	}
}

// instanceFields collects non-static fields across the base-type chain,
// derived-most first, deduplicated by name so shadowing resolves the way
// field reads do. The chain walk is a capped loop, never recursion.
func instanceFields(cls nativedbg.Class, maxBase int) []nativedbg.FieldInfo {
	var all []nativedbg.FieldInfo
	for c, depth := cls, 0; c != nil && depth < maxBase; c, depth = c.Base(), depth+1 {
		all = append(all, c.Fields()...)
	}
	all = lo.Filter(all, func(f nativedbg.FieldInfo, _ int) bool { return !f.Static })
	return lo.UniqBy(all, func(f nativedbg.FieldInfo) string { return f.Name })
}

func formatPrimitive(pv nativedbg.PrimitiveValue) string {
	b := pv.Bytes()
	switch pv.ElementType() {
	case nativedbg.ElemBoolean:
		if len(b) > 0 && b[0] != 0 {
			return "true"
		}
		return "false"
	case nativedbg.ElemChar:
		return strconv.QuoteRune(rune(binary.LittleEndian.Uint16(pad(b, 2))))
	case nativedbg.ElemInt8:
		return strconv.FormatInt(int64(int8(pad(b, 1)[0])), 10)
	case nativedbg.ElemInt16:
		return strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(pad(b, 2)))), 10)
	case nativedbg.ElemInt32:
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(pad(b, 4)))), 10)
	case nativedbg.ElemInt64, nativedbg.ElemNativeInt:
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(pad(b, 8))), 10)
	case nativedbg.ElemUInt8:
		return strconv.FormatUint(uint64(pad(b, 1)[0]), 10)
	case nativedbg.ElemUInt16:
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint16(pad(b, 2))), 10)
	case nativedbg.ElemUInt32:
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(pad(b, 4))), 10)
	case nativedbg.ElemUInt64, nativedbg.ElemNativeUInt:
		return strconv.FormatUint(binary.LittleEndian.Uint64(pad(b, 8)), 10)
	case nativedbg.ElemFloat32:
		f := math.Float32frombits(binary.LittleEndian.Uint32(pad(b, 4)))
		return strconv.FormatFloat(float64(f), 'g', -1, 32)
	case nativedbg.ElemFloat64:
		f := math.Float64frombits(binary.LittleEndian.Uint64(pad(b, 8)))
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		// unrecognized element type: raw bytes as hex, most significant first
		be := make([]byte, len(b))
		for i, x := range b {
			be[len(b)-1-i] = x
		}
		return "0x" + hex.EncodeToString(be)
	}
}

// pad zero-extends b to n bytes so short reads never panic the decoders.
func pad(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
