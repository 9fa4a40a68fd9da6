package pointer

import (
	"fmt"

	"github.com/wippyai/objectmodel"
	"github.com/wippyai/objectmodel/errors"
	"github.com/wippyai/objectmodel/object"
	"github.com/wippyai/objectmodel/shape"
)

// Pointer is either a NativePointer or a ManagedPointer.
type Pointer interface {
	fmt.Stringer
	pointer()
}

// NativePointer addresses native linear memory.
type NativePointer struct {
	Memory objectmodel.Memory
	Addr   uint32
}

func (NativePointer) pointer() {}

func (p NativePointer) String() string {
	return fmt.Sprintf("native(0x%x)", p.Addr)
}

// address returns Addr+offset, rejecting wraparound.
func (p NativePointer) address(offset int64) (uint32, error) {
	if p.Memory == nil {
		return 0, errors.NilPointer(errors.PhasePointer, "native memory")
	}
	addr := int64(p.Addr) + offset
	if offset < 0 || addr > int64(^uint32(0)) {
		return 0, errors.New(errors.PhasePointer, errors.KindOutOfBounds).
			Detail("address 0x%x%+d", p.Addr, offset).
			Build()
	}
	return uint32(addr), nil
}

// ManagedPointer addresses a property of a DynamicObject. With a nil Key,
// the target is the unboxed property whose slot starts at Offset plus the
// access offset.
type ManagedPointer struct {
	Object *object.DynamicObject
	Key    any
	Offset int64
}

func (ManagedPointer) pointer() {}

func (p ManagedPointer) String() string {
	if p.Key != nil {
		return fmt.Sprintf("managed(%v)", p.Key)
	}
	return fmt.Sprintf("managed(+%d)", p.Offset)
}

// resolve returns the key and location the pointer designates.
func (p ManagedPointer) resolve(offset int64) (any, *shape.Location, error) {
	if p.Object == nil {
		return nil, nil, errors.NilPointer(errors.PhasePointer, "managed object")
	}
	sh := p.Object.Shape()
	if p.Key != nil {
		if offset != 0 {
			return nil, nil, errors.New(errors.PhasePointer, errors.KindUnsupported).
				Key(p.Key).
				Detail("offset %d on a keyed pointer", offset).
				Build()
		}
		loc, ok := sh.Location(p.Key)
		if !ok {
			return nil, nil, errors.NoSuchProperty(errors.PhasePointer, p.Key)
		}
		return p.Key, loc, nil
	}
	at := p.Offset + offset
	prop, ok := sh.PrimitiveAt(int(at))
	if at < 0 || !ok {
		return nil, nil, errors.New(errors.PhasePointer, errors.KindNoSuchProperty).
			Detail("no unboxed property at offset %d", at).
			Build()
	}
	return prop.Key(), prop.Location(), nil
}
