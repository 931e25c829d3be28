package nativedbg

// ValueKind tags the shape of a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindPrimitive
	KindString
	KindArray
	KindObject
	KindBoxed
)

// ElementType identifies a primitive's native encoding.
type ElementType int

const (
	ElemBoolean ElementType = iota
	ElemChar
	ElemInt8
	ElemUInt8
	ElemInt16
	ElemUInt16
	ElemInt32
	ElemUInt32
	ElemInt64
	ElemUInt64
	ElemFloat32
	ElemFloat64
	ElemNativeInt
	ElemNativeUInt
	ElemUnknown
)

// Value is a handle to one debuggee value. Handles are only valid while the
// process stays suspended; a resume invalidates them all.
type Value interface {
	Kind() ValueKind
	// TypeName is the fully qualified runtime type, e.g. "System.Int32".
	// For null references it is the declared type when known.
	TypeName() string
	// Address is the object identity used for cycle detection. Zero for
	// primitives and null.
	Address() uint64
}

// PrimitiveValue carries the raw little-endian bytes of a primitive.
type PrimitiveValue interface {
	Value
	ElementType() ElementType
	Bytes() []byte
}

// StringValue is an immutable debuggee string.
type StringValue interface {
	Value
	// Len is the length in runes.
	Len() int
	// Text reads up to max runes; max <= 0 reads the whole string.
	Text(max int) (string, error)
}

// ArrayValue is a single-dimension debuggee array.
type ArrayValue interface {
	Value
	ElementTypeName() string
	Len() int
	Element(i int) (Value, error)
}

// ObjectValue is a reference-type instance.
type ObjectValue interface {
	Value
	Class() Class
	// Field reads the named instance field, resolving through the class
	// chain nearest-declared first. ErrFieldNotFound when absent.
	Field(name string) (Value, error)
}

// BoxedValue wraps a value type stored on the heap.
type BoxedValue interface {
	Value
	Unbox() (Value, error)
}

// Class is runtime type metadata. Fields and Method cover members declared
// on this class only; callers walk Base explicitly to search the chain.
type Class interface {
	Name() string
	// Base returns the superclass, or nil at the root of the chain.
	Base() Class
	Fields() []FieldInfo
	Method(name string) (Method, bool)
}

// FieldInfo describes one declared field.
type FieldInfo struct {
	Name   string
	Static bool
}

// Method is an invokable method handle.
type Method interface {
	Name() string
	Token() uint32
}
