package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"
	"unsafe"

	"github.com/modern-go/reflect2"

	"github.com/mdbg-dev/mdbg/internal/nativedbg"
)

// Char scripts a System.Char value; plain rune is indistinguishable from
// int32 in Go.
type Char rune

// Boxed scripts a heap-boxed value type.
type Boxed struct {
	V any
}

// classRegistry maps Go types to debuggee class metadata. Display type names
// come from Class registrations; unregistered struct types fall back to the
// Go type string. Field display names come from `sim` struct tags ("name" or
// "name,static"; "-" hides the field), defaulting to the Go field name. An
// embedded struct becomes the base class.
type classRegistry struct {
	mu        sync.Mutex
	byType    map[reflect.Type]*classMeta
	byName    map[string]*classMeta
	nextToken uint32
}

func newClassRegistry() *classRegistry {
	return &classRegistry{
		byType:    map[reflect.Type]*classMeta{},
		byName:    map[string]*classMeta{},
		nextToken: 0x06001000,
	}
}

type classMeta struct {
	reg       *classRegistry
	name      string
	goType    reflect.Type
	fields    []fieldMeta
	baseTyp   reflect.Type
	baseIndex int
	methods   map[string]*methodMeta
}

type fieldMeta struct {
	info    nativedbg.FieldInfo
	goIndex int
}

type methodMeta struct {
	owner *classMeta
	name  string
	token uint32
	fn    MethodFunc
	hang  bool
}

func (m *methodMeta) Name() string { return m.name }

func (m *methodMeta) Token() uint32 { return m.token }

func (r *classRegistry) register(displayName string, sample any) *classMeta {
	t := reflect.TypeOf(sample)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("sim: class %q needs a struct sample", displayName))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	meta := r.metaForLocked(t)
	meta.name = displayName
	r.byName[displayName] = meta
	return meta
}

func (r *classRegistry) method(className, methodName string, fn MethodFunc, hang bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.byName[className]
	if !ok {
		panic(fmt.Sprintf("sim: class %q not registered", className))
	}
	meta.methods[methodName] = &methodMeta{
		owner: meta,
		name:  methodName,
		token: r.nextToken,
		fn:    fn,
		hang:  hang,
	}
	r.nextToken++
}

func (r *classRegistry) metaFor(t reflect.Type) *classMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metaForLocked(t)
}

func (r *classRegistry) metaForLocked(t reflect.Type) *classMeta {
	if meta, ok := r.byType[t]; ok {
		return meta
	}
	meta := &classMeta{
		reg:       r,
		name:      t.String(),
		goType:    t,
		baseIndex: -1,
		methods:   map[string]*methodMeta{},
	}
	r.byType[t] = meta
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && meta.baseTyp == nil {
			meta.baseTyp = sf.Type
			meta.baseIndex = i
			continue
		}
		name := sf.Name
		static := false
		if tag, ok := sf.Tag.Lookup("sim"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "static" {
					static = true
				}
			}
		}
		meta.fields = append(meta.fields, fieldMeta{
			info:    nativedbg.FieldInfo{Name: name, Static: static},
			goIndex: i,
		})
	}
	return meta
}

func (m *classMeta) Name() string { return m.name }

func (m *classMeta) Base() nativedbg.Class {
	if m.baseTyp == nil {
		return nil
	}
	return m.reg.metaFor(m.baseTyp)
}

func (m *classMeta) Fields() []nativedbg.FieldInfo {
	out := make([]nativedbg.FieldInfo, 0, len(m.fields))
	for _, f := range m.fields {
		out = append(out, f.info)
	}
	return out
}

func (m *classMeta) Method(name string) (nativedbg.Method, bool) {
	mm, ok := m.methods[name]
	if !ok {
		return nil, false
	}
	return mm, true
}

// valueOf converts a scripted Go value to a debuggee value handle.
func (p *Process) valueOf(v any) nativedbg.Value {
	return p.target.classes.valueOf(v)
}

func (r *classRegistry) valueOf(v any) nativedbg.Value {
	if v == nil {
		return nullValue{typeName: "System.Object"}
	}
	if bx, ok := v.(Boxed); ok {
		return &boxedValue{inner: r.valueOf(bx.V)}
	}
	if c, ok := v.(Char); ok {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(c))
		return &primValue{elem: nativedbg.ElemChar, typeName: "System.Char", b: b[:], goVal: v}
	}

	rt := reflect.TypeOf(v)
	switch rt.Kind() {
	case reflect.Ptr:
		if reflect.ValueOf(v).IsNil() {
			return nullValue{typeName: r.displayNameFor(rt.Elem())}
		}
		if rt.Elem().Kind() == reflect.Struct {
			return &objectValue{reg: r, cls: r.metaFor(rt.Elem()), val: v, ptr: reflect2.PtrOf(v)}
		}
		return r.valueOf(reflect.ValueOf(v).Elem().Interface())
	case reflect.String:
		return &stringValue{s: v.(string)}
	case reflect.Struct:
		return &objectValue{reg: r, cls: r.metaFor(rt), val: v, ptr: reflect2.PtrOf(v)}
	case reflect.Slice:
		if reflect.ValueOf(v).IsNil() {
			return nullValue{typeName: r.displayNameFor(rt.Elem()) + "[]"}
		}
		return &arrayValue{reg: r, val: v, rt: rt}
	case reflect.Bool:
		b := byte(0)
		if v.(bool) {
			b = 1
		}
		return &primValue{elem: nativedbg.ElemBoolean, typeName: "System.Boolean", b: []byte{b}, goVal: v}
	case reflect.Int8:
		return &primValue{elem: nativedbg.ElemInt8, typeName: "System.SByte", b: []byte{byte(v.(int8))}, goVal: v}
	case reflect.Int16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v.(int16)))
		return &primValue{elem: nativedbg.ElemInt16, typeName: "System.Int16", b: b[:], goVal: v}
	case reflect.Int32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.(int32)))
		return &primValue{elem: nativedbg.ElemInt32, typeName: "System.Int32", b: b[:], goVal: v}
	case reflect.Int64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.(int64)))
		return &primValue{elem: nativedbg.ElemInt64, typeName: "System.Int64", b: b[:], goVal: v}
	case reflect.Int:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(int64(v.(int))))
		return &primValue{elem: nativedbg.ElemInt64, typeName: "System.Int64", b: b[:], goVal: v}
	case reflect.Uint8:
		return &primValue{elem: nativedbg.ElemUInt8, typeName: "System.Byte", b: []byte{v.(uint8)}, goVal: v}
	case reflect.Uint16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v.(uint16))
		return &primValue{elem: nativedbg.ElemUInt16, typeName: "System.UInt16", b: b[:], goVal: v}
	case reflect.Uint32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v.(uint32))
		return &primValue{elem: nativedbg.ElemUInt32, typeName: "System.UInt32", b: b[:], goVal: v}
	case reflect.Uint64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v.(uint64))
		return &primValue{elem: nativedbg.ElemUInt64, typeName: "System.UInt64", b: b[:], goVal: v}
	case reflect.Uint:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.(uint)))
		return &primValue{elem: nativedbg.ElemUInt64, typeName: "System.UInt64", b: b[:], goVal: v}
	case reflect.Uintptr:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.(uintptr)))
		return &primValue{elem: nativedbg.ElemNativeUInt, typeName: "System.UIntPtr", b: b[:], goVal: v}
	case reflect.Float32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v.(float32)))
		return &primValue{elem: nativedbg.ElemFloat32, typeName: "System.Single", b: b[:], goVal: v}
	case reflect.Float64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.(float64)))
		return &primValue{elem: nativedbg.ElemFloat64, typeName: "System.Double", b: b[:], goVal: v}
	default:
		// channels, funcs, maps have no debuggee equivalent
		return nullValue{typeName: "System.Object"}
	}
}

func (r *classRegistry) displayNameFor(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Ptr:
		return r.displayNameFor(t.Elem())
	case reflect.Struct:
		return r.metaFor(t).name
	case reflect.String:
		return "System.String"
	case reflect.Bool:
		return "System.Boolean"
	case reflect.Int8:
		return "System.SByte"
	case reflect.Int16:
		return "System.Int16"
	case reflect.Int32:
		return "System.Int32"
	case reflect.Int64, reflect.Int:
		return "System.Int64"
	case reflect.Uint8:
		return "System.Byte"
	case reflect.Uint16:
		return "System.UInt16"
	case reflect.Uint32:
		return "System.UInt32"
	case reflect.Uint64, reflect.Uint:
		return "System.UInt64"
	case reflect.Float32:
		return "System.Single"
	case reflect.Float64:
		return "System.Double"
	case reflect.Slice:
		return r.displayNameFor(t.Elem()) + "[]"
	default:
		return t.String()
	}
}

type nullValue struct {
	typeName string
}

func (nullValue) Kind() nativedbg.ValueKind { return nativedbg.KindNull }
func (n nullValue) TypeName() string        { return n.typeName }
func (nullValue) Address() uint64           { return 0 }

type primValue struct {
	elem     nativedbg.ElementType
	typeName string
	b        []byte
	goVal    any
}

func (*primValue) Kind() nativedbg.ValueKind            { return nativedbg.KindPrimitive }
func (p *primValue) TypeName() string                   { return p.typeName }
func (*primValue) Address() uint64                      { return 0 }
func (p *primValue) ElementType() nativedbg.ElementType { return p.elem }
func (p *primValue) Bytes() []byte                      { return p.b }

type stringValue struct {
	s string
}

func (*stringValue) Kind() nativedbg.ValueKind { return nativedbg.KindString }
func (*stringValue) TypeName() string          { return "System.String" }
func (*stringValue) Address() uint64           { return 0 }
func (v *stringValue) Len() int                { return utf8.RuneCountInString(v.s) }

func (v *stringValue) Text(max int) (string, error) {
	if max <= 0 || utf8.RuneCountInString(v.s) <= max {
		return v.s, nil
	}
	runes := []rune(v.s)
	return string(runes[:max]), nil
}

type arrayValue struct {
	reg *classRegistry
	val any
	rt  reflect.Type
}

func (*arrayValue) Kind() nativedbg.ValueKind { return nativedbg.KindArray }

func (a *arrayValue) TypeName() string {
	return a.reg.displayNameFor(a.rt.Elem()) + "[]"
}

func (a *arrayValue) Address() uint64 {
	if a.Len() == 0 {
		return 0
	}
	st := reflect2.Type2(a.rt).(reflect2.SliceType)
	return uint64(uintptr(st.UnsafeGetIndex(reflect2.PtrOf(a.val), 0)))
}

func (a *arrayValue) ElementTypeName() string {
	return a.reg.displayNameFor(a.rt.Elem())
}

func (a *arrayValue) Len() int {
	st := reflect2.Type2(a.rt).(reflect2.SliceType)
	return st.UnsafeLengthOf(reflect2.PtrOf(a.val))
}

func (a *arrayValue) Element(i int) (nativedbg.Value, error) {
	if i < 0 || i >= a.Len() {
		return nil, fmt.Errorf("index %d out of range", i)
	}
	st := reflect2.Type2(a.rt).(reflect2.SliceType)
	elemPtr := st.UnsafeGetIndex(reflect2.PtrOf(a.val), i)
	elem := reflect2.Type2(a.rt.Elem()).UnsafeIndirect(elemPtr)
	return a.reg.valueOf(elem), nil
}

type objectValue struct {
	reg *classRegistry
	cls *classMeta
	val any
	ptr unsafe.Pointer
}

func (*objectValue) Kind() nativedbg.ValueKind { return nativedbg.KindObject }
func (o *objectValue) TypeName() string        { return o.cls.name }
func (o *objectValue) Address() uint64         { return uint64(uintptr(o.ptr)) }
func (o *objectValue) Class() nativedbg.Class  { return o.cls }

func (o *objectValue) Field(name string) (nativedbg.Value, error) {
	meta, ptr := o.cls, o.ptr
	for meta != nil {
		for _, fm := range meta.fields {
			if fm.info.Name != name || fm.info.Static {
				continue
			}
			st := reflect2.Type2(meta.goType).(reflect2.StructType)
			f := st.Field(fm.goIndex)
			fv := f.Type().UnsafeIndirect(f.UnsafeGet(ptr))
			return o.reg.valueOf(fv), nil
		}
		if meta.baseTyp == nil {
			break
		}
		st := reflect2.Type2(meta.goType).(reflect2.StructType)
		ptr = st.Field(meta.baseIndex).UnsafeGet(ptr)
		meta = o.reg.metaFor(meta.baseTyp)
	}
	return nil, fmt.Errorf("field %q on %s: %w", name, o.cls.name, nativedbg.ErrFieldNotFound)
}

type boxedValue struct {
	inner nativedbg.Value
}

func (*boxedValue) Kind() nativedbg.ValueKind { return nativedbg.KindBoxed }
func (b *boxedValue) TypeName() string        { return b.inner.TypeName() }
func (*boxedValue) Address() uint64           { return 0 }

func (b *boxedValue) Unbox() (nativedbg.Value, error) { return b.inner, nil }

// GoValue unwraps a sim value handle back to its scripted Go value. Handles
// from other drivers unwrap to nil.
func GoValue(v nativedbg.Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case nullValue:
		return nil
	case *primValue:
		return t.goVal
	case *stringValue:
		return t.s
	case *arrayValue:
		return t.val
	case *objectValue:
		return t.val
	case *boxedValue:
		return GoValue(t.inner)
	default:
		return nil
	}
}
