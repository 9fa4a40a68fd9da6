package pointer

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/objectmodel/errors"
)

// Specialization identifies one path of a load or store node.
type Specialization uint8

const (
	SpecNative Specialization = 1 << iota
	SpecManaged
	SpecManagedGeneric
)

func (s Specialization) String() string {
	switch s {
	case 0:
		return "uninitialized"
	case SpecNative:
		return "native"
	case SpecManaged:
		return "managed"
	case SpecManagedGeneric:
		return "managed-generic"
	}
	var out string
	for _, one := range []Specialization{SpecNative, SpecManaged, SpecManagedGeneric} {
		if s&one != 0 {
			if out != "" {
				out += "|"
			}
			out += one.String()
		}
	}
	return out
}

type specState struct {
	bits atomic.Uint32
}

func (s *specState) activate(spec Specialization) {
	for {
		old := s.bits.Load()
		next := old | uint32(spec)
		if old == next || s.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// rewrite replaces the typed managed path with the generic one.
func (s *specState) rewrite() bool {
	for {
		old := s.bits.Load()
		next := (old &^ uint32(SpecManaged)) | uint32(SpecManagedGeneric)
		if old == next {
			return false
		}
		if s.bits.CompareAndSwap(old, next) {
			return true
		}
	}
}

func (s *specState) has(spec Specialization) bool {
	return s.bits.Load()&uint32(spec) != 0
}

func (s *specState) get() Specialization {
	return Specialization(s.bits.Load())
}

// I64LoadNode loads 64-bit integers through a Pointer. Native pointers read
// linear memory. Managed pointers read the property unboxed until the first
// read finds another representation; the node then rewrites itself to the
// generic managed path for good. Nodes are safe for concurrent use.
type I64LoadNode struct {
	state specState
}

// NewI64LoadNode creates an uninitialized load node.
func NewI64LoadNode() *I64LoadNode {
	return &I64LoadNode{}
}

// Specializations returns the paths the node has activated.
func (n *I64LoadNode) Specializations() Specialization { return n.state.get() }

// Execute performs a typed load. A TypeMismatch error carries the value
// read by the generic path in its Value field; after it the node only takes
// the generic path, which yields TypeMismatch for non-integer values.
func (n *I64LoadNode) Execute(p Pointer, offset int64) (int64, error) {
	switch ptr := p.(type) {
	case NativePointer:
		n.state.activate(SpecNative)
		addr, err := ptr.address(offset)
		if err != nil {
			return 0, err
		}
		v, err := ptr.Memory.ReadU64(addr)
		return int64(v), err

	case ManagedPointer:
		if n.state.has(SpecManagedGeneric) {
			v, err := n.managedGeneric(ptr, offset)
			if err != nil {
				return 0, err
			}
			return unboxInt64(v)
		}
		n.state.activate(SpecManaged)
		key, loc, err := ptr.resolve(offset)
		if err != nil {
			return 0, err
		}
		v, err := loc.GetInt64(ptr.Object)
		if err == nil {
			return v, nil
		}
		if !errors.IsKind(err, errors.KindTypeMismatch) {
			return 0, err
		}
		if n.state.rewrite() {
			Logger().Debug("i64 load rewritten to generic managed path",
				zap.Stringer("pointer", ptr),
				zap.Any("key", key))
		}
		generic, gerr := loc.Get(ptr.Object)
		if gerr != nil {
			return 0, gerr
		}
		return 0, errors.New(errors.PhasePointer, errors.KindTypeMismatch).
			Key(key).
			Want("int64").
			Value(generic).
			Cause(err).
			Build()

	case nil:
		return 0, errors.NilPointer(errors.PhasePointer, "pointer")
	}
	return 0, errors.Unsupported(errors.PhasePointer, "pointer "+p.String())
}

// ExecuteGeneric performs an untyped load. Native pointers yield int64;
// managed pointers yield the property value as stored.
func (n *I64LoadNode) ExecuteGeneric(p Pointer, offset int64) (any, error) {
	switch ptr := p.(type) {
	case NativePointer:
		return n.Execute(ptr, offset)
	case ManagedPointer:
		n.state.activate(SpecManagedGeneric)
		return n.managedGeneric(ptr, offset)
	case nil:
		return nil, errors.NilPointer(errors.PhasePointer, "pointer")
	}
	return nil, errors.Unsupported(errors.PhasePointer, "pointer "+p.String())
}

// Load tries the typed path and falls back to the generic one when the
// target holds another representation.
func (n *I64LoadNode) Load(p Pointer, offset int64) (any, error) {
	v, err := n.Execute(p, offset)
	if err == nil {
		return v, nil
	}
	if !errors.IsKind(err, errors.KindTypeMismatch) {
		return nil, err
	}
	return n.ExecuteGeneric(p, offset)
}

func (n *I64LoadNode) managedGeneric(ptr ManagedPointer, offset int64) (any, error) {
	_, loc, err := ptr.resolve(offset)
	if err != nil {
		return nil, err
	}
	return loc.Get(ptr.Object)
}

func unboxInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	}
	return 0, errors.New(errors.PhasePointer, errors.KindTypeMismatch).
		Want("int64").
		Value(v).
		Build()
}

// I64StoreNode stores 64-bit integers through a Pointer. Managed stores go
// through DynamicObject.Set, so a property that cannot hold an integer is
// generalized rather than rejected.
type I64StoreNode struct {
	state specState
}

// NewI64StoreNode creates an uninitialized store node.
func NewI64StoreNode() *I64StoreNode {
	return &I64StoreNode{}
}

// Specializations returns the paths the node has activated.
func (n *I64StoreNode) Specializations() Specialization { return n.state.get() }

// Execute stores v.
func (n *I64StoreNode) Execute(p Pointer, offset int64, v int64) error {
	switch ptr := p.(type) {
	case NativePointer:
		n.state.activate(SpecNative)
		addr, err := ptr.address(offset)
		if err != nil {
			return err
		}
		return ptr.Memory.WriteU64(addr, uint64(v))
	case ManagedPointer:
		n.state.activate(SpecManaged)
		key, _, err := ptr.resolve(offset)
		if err != nil {
			return err
		}
		return ptr.Object.Set(key, v)
	case nil:
		return errors.NilPointer(errors.PhasePointer, "pointer")
	}
	return errors.Unsupported(errors.PhasePointer, "pointer "+p.String())
}

// ExecuteGeneric stores an arbitrary value. Native memory only accepts
// integers.
func (n *I64StoreNode) ExecuteGeneric(p Pointer, offset int64, v any) error {
	switch ptr := p.(type) {
	case NativePointer:
		i, err := unboxInt64(v)
		if err != nil {
			return err
		}
		return n.Execute(ptr, offset, i)
	case ManagedPointer:
		n.state.activate(SpecManagedGeneric)
		key, _, err := ptr.resolve(offset)
		if err != nil {
			return err
		}
		return ptr.Object.Set(key, v)
	case nil:
		return errors.NilPointer(errors.PhasePointer, "pointer")
	}
	return errors.Unsupported(errors.PhasePointer, "pointer "+p.String())
}
