package shape

// Type is the semantic type a Location accepts.
type Type uint8

const (
	TypeObject Type = iota
	TypeBool
	TypeInt32
	TypeInt64
	TypeFloat64
)

var typeNames = [...]string{
	TypeObject:  "object",
	TypeBool:    "bool",
	TypeInt32:   "int32",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// IsPrimitive reports whether values of t can be stored unboxed.
func (t Type) IsPrimitive() bool {
	return t != TypeObject && int(t) < len(typeNames)
}

// Width returns the unboxed size of t in bytes, 0 for TypeObject.
func (t Type) Width() int {
	switch t {
	case TypeBool:
		return 1
	case TypeInt32:
		return 4
	case TypeInt64, TypeFloat64:
		return 8
	default:
		return 0
	}
}

// TypeOf classifies a Go value. int is treated as a 64-bit integer and
// float32 as float64; everything else is TypeObject.
func TypeOf(v any) Type {
	switch v.(type) {
	case bool:
		return TypeBool
	case int32:
		return TypeInt32
	case int64, int:
		return TypeInt64
	case float64, float32:
		return TypeFloat64
	default:
		return TypeObject
	}
}

// CastFlags controls which implicit widenings a layout permits when a value
// is stored into a primitive location of a different type.
type CastFlags uint8

const (
	// CastIntToLong lets int32 values be stored in int64 locations.
	CastIntToLong CastFlags = 1 << iota
	// CastIntToDouble lets integer values be stored in float64 locations.
	CastIntToDouble
)

// Join returns the narrowest type that can hold values of both a and b under
// the given casts.
func Join(a, b Type, casts CastFlags) Type {
	if a == b {
		return a
	}
	if isInt(a) && isInt(b) {
		if casts&CastIntToLong != 0 {
			return TypeInt64
		}
		return TypeObject
	}
	if (isInt(a) && b == TypeFloat64) || (a == TypeFloat64 && isInt(b)) {
		if casts&CastIntToDouble != 0 {
			return TypeFloat64
		}
		return TypeObject
	}
	return TypeObject
}

// Accepts reports whether a location of type t can store a value of type v
// without generalization.
func (t Type) Accepts(v Type, casts CastFlags) bool {
	if t == TypeObject || t == v {
		return true
	}
	switch t {
	case TypeInt64:
		return v == TypeInt32 && casts&CastIntToLong != 0
	case TypeFloat64:
		return isInt(v) && casts&CastIntToDouble != 0
	}
	return false
}

func isInt(t Type) bool {
	return t == TypeInt32 || t == TypeInt64
}
