package shape

import (
	"fmt"

	"github.com/wippyai/objectmodel/shape/internal/slots"
)

// StorageSize is the storage a shape's properties occupy.
type StorageSize struct {
	PrimitiveBytes int
	ObjectSlots    int
	ExtensionSlots int
}

// Covers reports whether s is at least as large as o in every area.
func (s StorageSize) Covers(o StorageSize) bool {
	return s.PrimitiveBytes >= o.PrimitiveBytes &&
		s.ObjectSlots >= o.ObjectSlots &&
		s.ExtensionSlots >= o.ExtensionSlots
}

// Less orders sizes by primitive bytes, then object slots, then extension
// slots. Along one allocation chain this is allocation order.
func (s StorageSize) Less(o StorageSize) bool {
	if s.PrimitiveBytes != o.PrimitiveBytes {
		return s.PrimitiveBytes < o.PrimitiveBytes
	}
	if s.ObjectSlots != o.ObjectSlots {
		return s.ObjectSlots < o.ObjectSlots
	}
	return s.ExtensionSlots < o.ExtensionSlots
}

func (s StorageSize) String() string {
	return fmt.Sprintf("{prim:%d obj:%d ext:%d}", s.PrimitiveBytes, s.ObjectSlots, s.ExtensionSlots)
}

// Allocator assigns Locations for a layout. It is a pure function of the
// storage already in use; it never mutates a shape.
type Allocator struct {
	primitiveCap int
	objectCap    int
	casts        CastFlags
	constants    bool
}

// Casts returns the implicit casts the allocator's layout permits.
func (a *Allocator) Casts() CastFlags { return a.casts }

// Allocate returns the Location for a new property and the storage size
// after placing it. A constant is folded into the shape when the layout
// permits it; otherwise the property is placed by the constant's type.
func (a *Allocator) Allocate(size StorageSize, typ Type, constant any, hasConstant bool) (*Location, StorageSize) {
	if hasConstant {
		if a.constants {
			return a.ConstantLocation(constant), size
		}
		typ = TypeOf(constant)
	}
	return a.LocationForType(size, typ)
}

// ConstantLocation returns a location holding v in the shape.
func (a *Allocator) ConstantLocation(v any) *Location {
	return newConstantLocation(v)
}

// LocationForType places a value of typ. Primitive types take the next
// naturally aligned inline primitive slot; when that area is full, or for
// TypeObject, the value is boxed in the next inline object slot and then in
// the extension array.
func (a *Allocator) LocationForType(size StorageSize, typ Type) (*Location, StorageSize) {
	if typ.IsPrimitive() {
		if off, ok := slots.Place(size.PrimitiveBytes, typ.Width(), a.primitiveCap); ok {
			size.PrimitiveBytes = off + typ.Width()
			return newPrimitiveLocation(off, typ), size
		}
	}
	if size.ObjectSlots < a.objectCap {
		loc := newObjectLocation(size.ObjectSlots)
		size.ObjectSlots++
		return loc, size
	}
	loc := newExtensionLocation(size.ExtensionSlots)
	size.ExtensionSlots++
	return loc, size
}

// LocationForValue places a value of v's type.
func (a *Allocator) LocationForValue(size StorageSize, v any) (*Location, StorageSize) {
	return a.LocationForType(size, TypeOf(v))
}

// Generalize returns a location able to hold every value old could hold and
// values of type typ. It reports false when old already accepts typ.
func (a *Allocator) Generalize(size StorageSize, old *Location, typ Type) (*Location, StorageSize, bool) {
	target, changed := a.generalizedType(old, typ)
	if !changed {
		return old, size, false
	}
	loc, next := a.LocationForType(size, target)
	return loc, next, true
}

func (a *Allocator) generalizedType(old *Location, typ Type) (Type, bool) {
	switch old.kind {
	case LocationConstant:
		return Join(TypeOf(old.constant), typ, a.casts), true
	case LocationPrimitive:
		if old.typ.Accepts(typ, a.casts) {
			return old.typ, false
		}
		return Join(old.typ, typ, a.casts), true
	default:
		return TypeObject, false
	}
}
