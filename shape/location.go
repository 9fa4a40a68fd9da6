package shape

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/wippyai/objectmodel/errors"
)

// LocationKind tags the storage cell a Location describes.
type LocationKind uint8

const (
	// LocationPrimitive is an unboxed slot in the inline primitive area.
	LocationPrimitive LocationKind = iota
	// LocationObject is a boxed slot in the inline object area.
	LocationObject
	// LocationExtension is a boxed slot in the extension array.
	LocationExtension
	// LocationConstant is a value stored in the shape itself.
	LocationConstant
)

var locationKindNames = [...]string{
	LocationPrimitive: "primitive",
	LocationObject:    "object",
	LocationExtension: "extension",
	LocationConstant:  "constant",
}

func (k LocationKind) String() string {
	if int(k) < len(locationKindNames) {
		return locationKindNames[k]
	}
	return "unknown"
}

// Storage is the per-instance backing store that Locations index into.
type Storage interface {
	PrimitiveArea() []byte
	ObjectArea() []any
	ExtensionArea() []any
}

// Location describes one storage cell. Locations are immutable.
type Location struct {
	constant any
	index    int
	kind     LocationKind
	typ      Type
}

func newPrimitiveLocation(offset int, typ Type) *Location {
	return &Location{kind: LocationPrimitive, index: offset, typ: typ}
}

func newObjectLocation(slot int) *Location {
	return &Location{kind: LocationObject, index: slot, typ: TypeObject}
}

func newExtensionLocation(slot int) *Location {
	return &Location{kind: LocationExtension, index: slot, typ: TypeObject}
}

func newConstantLocation(v any) *Location {
	return &Location{kind: LocationConstant, index: -1, typ: TypeOf(v), constant: v}
}

// Kind returns the location's storage kind.
func (l *Location) Kind() LocationKind { return l.kind }

// Type returns the type the location accepts. Boxed locations accept any
// value and report TypeObject; constant locations report the constant's type.
func (l *Location) Type() Type { return l.typ }

// Index returns the byte offset of a primitive location or the slot index of
// an object or extension location. Constant locations return -1.
func (l *Location) Index() int { return l.index }

// Width returns the number of inline primitive bytes the location occupies.
func (l *Location) Width() int {
	if l.kind != LocationPrimitive {
		return 0
	}
	return l.typ.Width()
}

// Constant returns the value of a constant location.
func (l *Location) Constant() any { return l.constant }

// IsConstant reports whether the value lives in the shape.
func (l *Location) IsConstant() bool { return l.kind == LocationConstant }

// IsPrimitive reports whether the location stores an unboxed value.
func (l *Location) IsPrimitive() bool { return l.kind == LocationPrimitive }

// CanStore reports whether v can be written without generalizing.
func (l *Location) CanStore(v any, casts CastFlags) bool {
	switch l.kind {
	case LocationConstant:
		return valuesEqual(l.constant, v)
	case LocationPrimitive:
		return l.typ.Accepts(TypeOf(v), casts)
	default:
		return true
	}
}

// Equal reports whether two locations describe the same cell.
func (l *Location) Equal(o *Location) bool {
	if l == o {
		return true
	}
	if l == nil || o == nil {
		return false
	}
	if l.kind != o.kind || l.typ != o.typ || l.index != o.index {
		return false
	}
	if l.kind == LocationConstant {
		return valuesEqual(l.constant, o.constant)
	}
	return true
}

func (l *Location) String() string {
	switch l.kind {
	case LocationPrimitive:
		return fmt.Sprintf("primitive(%s@%d)", l.typ, l.index)
	case LocationObject:
		return fmt.Sprintf("object(%d)", l.index)
	case LocationExtension:
		return fmt.Sprintf("extension(%d)", l.index)
	case LocationConstant:
		return fmt.Sprintf("constant(%v)", l.constant)
	default:
		return "unknown"
	}
}

// Get reads the value stored at the location.
func (l *Location) Get(s Storage) (any, error) {
	switch l.kind {
	case LocationConstant:
		return l.constant, nil
	case LocationPrimitive:
		area, err := l.primitiveBytes(s)
		if err != nil {
			return nil, err
		}
		switch l.typ {
		case TypeBool:
			return area[0] != 0, nil
		case TypeInt32:
			return int32(binary.LittleEndian.Uint32(area)), nil
		case TypeInt64:
			return int64(binary.LittleEndian.Uint64(area)), nil
		case TypeFloat64:
			return math.Float64frombits(binary.LittleEndian.Uint64(area)), nil
		}
		return nil, errors.Unsupported(errors.PhaseAccess, "primitive location of type "+l.typ.String())
	case LocationObject:
		area := s.ObjectArea()
		if l.index >= len(area) {
			return nil, errors.OutOfBounds(errors.PhaseAccess, l.index, len(area))
		}
		return area[l.index], nil
	case LocationExtension:
		area := s.ExtensionArea()
		if l.index >= len(area) {
			return nil, errors.OutOfBounds(errors.PhaseAccess, l.index, len(area))
		}
		return area[l.index], nil
	}
	return nil, errors.Unsupported(errors.PhaseAccess, "location kind "+l.kind.String())
}

// GetInt64 reads an integer without boxing when the location is an unboxed
// int32 or int64 slot. Any other representation yields a TypeMismatch error
// so the caller can fall back to Get.
func (l *Location) GetInt64(s Storage) (int64, error) {
	if l.kind == LocationPrimitive {
		switch l.typ {
		case TypeInt64:
			area, err := l.primitiveBytes(s)
			if err != nil {
				return 0, err
			}
			return int64(binary.LittleEndian.Uint64(area)), nil
		case TypeInt32:
			area, err := l.primitiveBytes(s)
			if err != nil {
				return 0, err
			}
			return int64(int32(binary.LittleEndian.Uint32(area))), nil
		}
		return 0, l.mismatch(TypeInt64, l.typ.String())
	}
	v, err := l.Get(s)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	}
	return 0, l.mismatch(TypeInt64, typeName(v))
}

// GetInt32 is the int32 counterpart of GetInt64.
func (l *Location) GetInt32(s Storage) (int32, error) {
	if l.kind == LocationPrimitive {
		if l.typ != TypeInt32 {
			return 0, l.mismatch(TypeInt32, l.typ.String())
		}
		area, err := l.primitiveBytes(s)
		if err != nil {
			return 0, err
		}
		return int32(binary.LittleEndian.Uint32(area)), nil
	}
	v, err := l.Get(s)
	if err != nil {
		return 0, err
	}
	if x, ok := v.(int32); ok {
		return x, nil
	}
	return 0, l.mismatch(TypeInt32, typeName(v))
}

// GetFloat64 is the float64 counterpart of GetInt64.
func (l *Location) GetFloat64(s Storage) (float64, error) {
	if l.kind == LocationPrimitive {
		if l.typ != TypeFloat64 {
			return 0, l.mismatch(TypeFloat64, l.typ.String())
		}
		area, err := l.primitiveBytes(s)
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(area)), nil
	}
	v, err := l.Get(s)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	}
	return 0, l.mismatch(TypeFloat64, typeName(v))
}

// GetBool is the bool counterpart of GetInt64.
func (l *Location) GetBool(s Storage) (bool, error) {
	if l.kind == LocationPrimitive {
		if l.typ != TypeBool {
			return false, l.mismatch(TypeBool, l.typ.String())
		}
		area, err := l.primitiveBytes(s)
		if err != nil {
			return false, err
		}
		return area[0] != 0, nil
	}
	v, err := l.Get(s)
	if err != nil {
		return false, err
	}
	if x, ok := v.(bool); ok {
		return x, nil
	}
	return false, l.mismatch(TypeBool, typeName(v))
}

// Set writes v at the location. It fails with TypeMismatch when the location
// cannot hold v; the storage is left untouched in that case.
func (l *Location) Set(s Storage, v any, casts CastFlags) error {
	switch l.kind {
	case LocationConstant:
		if valuesEqual(l.constant, v) {
			return nil
		}
		return errors.TypeMismatch(errors.PhaseAccess, nil, fmt.Sprintf("constant %v", l.constant), fmt.Sprintf("%v", v))
	case LocationPrimitive:
		if !l.typ.Accepts(TypeOf(v), casts) {
			return l.mismatch(l.typ, typeName(v))
		}
		area, err := l.primitiveBytes(s)
		if err != nil {
			return err
		}
		switch l.typ {
		case TypeBool:
			if v.(bool) {
				area[0] = 1
			} else {
				area[0] = 0
			}
		case TypeInt32:
			binary.LittleEndian.PutUint32(area, uint32(v.(int32)))
		case TypeInt64:
			binary.LittleEndian.PutUint64(area, uint64(toInt64(v)))
		case TypeFloat64:
			binary.LittleEndian.PutUint64(area, math.Float64bits(toFloat64(v)))
		}
		return nil
	case LocationObject:
		area := s.ObjectArea()
		if l.index >= len(area) {
			return errors.OutOfBounds(errors.PhaseAccess, l.index, len(area))
		}
		area[l.index] = v
		return nil
	case LocationExtension:
		area := s.ExtensionArea()
		if l.index >= len(area) {
			return errors.OutOfBounds(errors.PhaseAccess, l.index, len(area))
		}
		area[l.index] = v
		return nil
	}
	return errors.Unsupported(errors.PhaseAccess, "location kind "+l.kind.String())
}

// Clear resets the cell to its zero value so retired slots do not retain
// references.
func (l *Location) Clear(s Storage) {
	switch l.kind {
	case LocationPrimitive:
		if area, err := l.primitiveBytes(s); err == nil {
			clear(area)
		}
	case LocationObject:
		if area := s.ObjectArea(); l.index < len(area) {
			area[l.index] = nil
		}
	case LocationExtension:
		if area := s.ExtensionArea(); l.index < len(area) {
			area[l.index] = nil
		}
	}
}

func (l *Location) primitiveBytes(s Storage) ([]byte, error) {
	area := s.PrimitiveArea()
	end := l.index + l.typ.Width()
	if end > len(area) {
		return nil, errors.OutOfBounds(errors.PhaseAccess, end-1, len(area))
	}
	return area[l.index:end], nil
}

func (l *Location) mismatch(want Type, got string) error {
	e := errors.TypeMismatch(errors.PhaseAccess, nil, want.String(), got)
	e.Detail = l.kind.String() + " location"
	return e
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	}
	return 0
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case int:
		return float64(x)
	}
	return 0
}

// typeName returns "nil" for nil values, avoiding reflect.TypeOf(nil) panic.
func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

func isComparable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}

func valuesEqual(a, b any) (eq bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !isComparable(a) {
		return false
	}
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return constantKey(a) == constantKey(b)
}

// floatBits is the comparable form of a floating-point constant. Equality is
// bitwise: NaN matches itself and -0 differs from +0.
type floatBits struct {
	typ    reflect.Type
	re, im uint64
}

// constantKey returns v in the form used for keying and comparing
// constants.
func constantKey(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return floatBits{typ: rv.Type(), re: math.Float64bits(rv.Float())}
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		return floatBits{typ: rv.Type(), re: math.Float64bits(real(c)), im: math.Float64bits(imag(c))}
	}
	return v
}

// constantValue reverses constantKey.
func constantValue(k any) any {
	b, ok := k.(floatBits)
	if !ok {
		return k
	}
	rv := reflect.New(b.typ).Elem()
	switch rv.Kind() {
	case reflect.Complex64, reflect.Complex128:
		rv.SetComplex(complex(math.Float64frombits(b.re), math.Float64frombits(b.im)))
	default:
		rv.SetFloat(math.Float64frombits(b.re))
	}
	return rv.Interface()
}

// isNaN reports whether v is a floating-point value with a NaN part.
func isNaN(v any) bool {
	b, ok := constantKey(v).(floatBits)
	if !ok {
		return false
	}
	return math.IsNaN(math.Float64frombits(b.re)) || math.IsNaN(math.Float64frombits(b.im))
}
