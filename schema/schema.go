package schema

import (
	"fmt"
	"math"

	"go.bytecodealliance.org/wit"
	"go.uber.org/multierr"

	"github.com/wippyai/objectmodel"
	"github.com/wippyai/objectmodel/errors"
	"github.com/wippyai/objectmodel/object"
	"github.com/wippyai/objectmodel/shape"
)

// Field is one record field placed in native memory.
type Field struct {
	Name   string
	Type   wit.Type
	Kind   shape.Type
	Offset uint32
	Size   uint32
	Align  uint32
}

// Record is the Canonical ABI layout of a WIT record.
type Record struct {
	Fields []Field
	Size   uint32
	Align  uint32
}

// TypeOf returns the property type a WIT type is stored as.
func TypeOf(t wit.Type) shape.Type {
	switch underlying(t).(type) {
	case wit.Bool:
		return shape.TypeBool
	case wit.U8, wit.S8, wit.U16, wit.S16, wit.S32, wit.Char:
		return shape.TypeInt32
	case wit.U32, wit.U64, wit.S64:
		return shape.TypeInt64
	case wit.F32, wit.F64:
		return shape.TypeFloat64
	default:
		return shape.TypeObject
	}
}

// underlying resolves type aliases.
func underlying(t wit.Type) wit.Type {
	for {
		td, ok := t.(*wit.TypeDef)
		if !ok {
			return t
		}
		inner, ok := td.Kind.(wit.Type)
		if !ok {
			return t
		}
		t = inner
	}
}

func sizeAlign(t wit.Type) (size, align uint32, ok bool) {
	switch underlying(t).(type) {
	case wit.U8, wit.S8, wit.Bool:
		return 1, 1, true
	case wit.U16, wit.S16:
		return 2, 2, true
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return 4, 4, true
	case wit.U64, wit.S64, wit.F64:
		return 8, 8, true
	case wit.String:
		return 8, 4, true // [ptr: u32, len: u32]
	default:
		return 0, 0, false
	}
}

// Calculate lays rec out per the Canonical ABI. Fields of types this
// package cannot decode are reported together.
func Calculate(rec *wit.Record) (Record, error) {
	if rec == nil {
		return Record{}, errors.NilPointer(errors.PhaseSchema, "record")
	}
	out := Record{Align: 1}
	var offset uint32
	var err error
	for _, f := range rec.Fields {
		size, align, ok := sizeAlign(f.Type)
		if !ok {
			err = multierr.Append(err, errors.New(errors.PhaseSchema, errors.KindUnsupported).
				Path(f.Name).
				Got(typeName(f.Type)).
				Detail("field type").
				Build())
			continue
		}
		offset = alignTo(offset, align)
		out.Fields = append(out.Fields, Field{
			Name:   f.Name,
			Type:   f.Type,
			Kind:   TypeOf(f.Type),
			Offset: offset,
			Size:   size,
			Align:  align,
		})
		if align > out.Align {
			out.Align = align
		}
		offset += size
	}
	if err != nil {
		return Record{}, err
	}
	out.Size = alignTo(offset, out.Align)
	return out, nil
}

func alignTo(offset, align uint32) uint32 {
	return (offset + align - 1) &^ (align - 1)
}

func typeName(t wit.Type) string {
	switch v := t.(type) {
	case nil:
		return "nil"
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		return fmt.Sprintf("%T", v.Kind)
	default:
		return fmt.Sprintf("%T", t)
	}
}

// FromRecord returns a shape of the layout named name with one property
// per field of rec, in declaration order.
func FromRecord(f *shape.Factory, name string, rec *wit.Record, cfg *shape.Config) (*shape.Shape, error) {
	b, err := Bind(f, name, rec, cfg)
	if err != nil {
		return nil, err
	}
	return b.Shape, nil
}

// Binding ties a record's memory layout to its shape.
//
// String fields are held by reference: Decode copies the bytes the record
// points at, and Encode leaves the pointer and length in place. Binding
// never allocates guest memory, so Encode rejects a string that differs
// from the one the target record already references.
type Binding struct {
	Name   string
	Record Record
	Shape  *shape.Shape
}

// Bind computes rec's layout and builds its shape in f.
func Bind(f *shape.Factory, name string, rec *wit.Record, cfg *shape.Config) (*Binding, error) {
	if f == nil {
		return nil, errors.NilPointer(errors.PhaseSchema, "factory")
	}
	info, err := Calculate(rec)
	if err != nil {
		return nil, err
	}
	l, err := f.CreateLayout(name, cfg)
	if err != nil {
		return nil, err
	}
	s, err := l.CreateShape(shape.ShapeOptions{DynamicType: name})
	if err != nil {
		return nil, err
	}
	for _, fld := range info.Fields {
		s, err = s.AddProperty(fld.Name, fld.Kind, 0)
		if err != nil {
			return nil, errors.New(errors.PhaseSchema, errors.KindInvalidInput).
				Path(name, fld.Name).
				Cause(err).
				Build()
		}
	}
	return &Binding{Name: name, Record: info, Shape: s}, nil
}

// Decode reads a record at addr into a new object.
func (b *Binding) Decode(mem objectmodel.Memory, addr uint32) (*object.DynamicObject, error) {
	if err := b.checkRange(addr); err != nil {
		return nil, err
	}
	o, err := object.New(b.Shape)
	if err != nil {
		return nil, err
	}
	for _, f := range b.Record.Fields {
		v, err := readField(mem, addr+f.Offset, f.Type)
		if err != nil {
			return nil, b.fieldError(f, err)
		}
		if err := o.Set(f.Name, v); err != nil {
			return nil, b.fieldError(f, err)
		}
	}
	return o, nil
}

// Encode writes o's fields to the record at addr.
func (b *Binding) Encode(mem objectmodel.Memory, addr uint32, o *object.DynamicObject) error {
	if err := b.checkRange(addr); err != nil {
		return err
	}
	for _, f := range b.Record.Fields {
		v, ok := o.Get(f.Name)
		if !ok {
			return b.fieldError(f, errors.NoSuchProperty(errors.PhaseSchema, f.Name))
		}
		if err := writeField(mem, addr+f.Offset, f.Type, v); err != nil {
			return b.fieldError(f, err)
		}
	}
	return nil
}

// checkRange rejects a record at addr that would wrap the 32-bit address
// space.
func (b *Binding) checkRange(addr uint32) error {
	if uint64(addr)+uint64(b.Record.Size) > math.MaxUint32+1 {
		return errors.New(errors.PhaseSchema, errors.KindOutOfBounds).
			Path(b.Name).
			Value(addr).
			Detail("record of %d bytes at 0x%x wraps the address space", b.Record.Size, addr).
			Build()
	}
	return nil
}

func (b *Binding) fieldError(f Field, cause error) error {
	kind, ok := errors.KindOf(cause)
	if !ok {
		kind = errors.KindInvalidInput
	}
	err := errors.Wrap(errors.PhaseSchema, kind, cause, "")
	err.Path = []string{b.Name, f.Name}
	return err
}

func readField(mem objectmodel.Memory, addr uint32, t wit.Type) (any, error) {
	switch underlying(t).(type) {
	case wit.Bool:
		v, err := mem.ReadU8(addr)
		return v != 0, err
	case wit.U8:
		v, err := mem.ReadU8(addr)
		return int32(v), err
	case wit.S8:
		v, err := mem.ReadU8(addr)
		return int32(int8(v)), err
	case wit.U16:
		v, err := mem.ReadU16(addr)
		return int32(v), err
	case wit.S16:
		v, err := mem.ReadU16(addr)
		return int32(int16(v)), err
	case wit.S32, wit.Char:
		v, err := mem.ReadU32(addr)
		return int32(v), err
	case wit.U32:
		v, err := mem.ReadU32(addr)
		return int64(v), err
	case wit.U64, wit.S64:
		v, err := mem.ReadU64(addr)
		return int64(v), err
	case wit.F32:
		v, err := mem.ReadU32(addr)
		return float64(math.Float32frombits(v)), err
	case wit.F64:
		v, err := mem.ReadU64(addr)
		return math.Float64frombits(v), err
	case wit.String:
		ptr, err := mem.ReadU32(addr)
		if err != nil {
			return nil, err
		}
		n, err := mem.ReadU32(addr + 4)
		if err != nil {
			return nil, err
		}
		if uint64(ptr)+uint64(n) > math.MaxUint32+1 {
			return nil, errors.New(errors.PhaseSchema, errors.KindOutOfBounds).
				Value(ptr).
				Detail("string of %d bytes at 0x%x wraps the address space", n, ptr).
				Build()
		}
		data, err := mem.Read(ptr, n)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return nil, errors.Unsupported(errors.PhaseSchema, "field type "+typeName(t))
}

func writeField(mem objectmodel.Memory, addr uint32, t wit.Type, v any) error {
	switch underlying(t).(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch("bool", v)
		}
		var u uint8
		if b {
			u = 1
		}
		return mem.WriteU8(addr, u)
	case wit.U8, wit.S8:
		i, err := toInt64(v)
		if err != nil {
			return err
		}
		return mem.WriteU8(addr, uint8(i))
	case wit.U16, wit.S16:
		i, err := toInt64(v)
		if err != nil {
			return err
		}
		return mem.WriteU16(addr, uint16(i))
	case wit.U32, wit.S32, wit.Char:
		i, err := toInt64(v)
		if err != nil {
			return err
		}
		return mem.WriteU32(addr, uint32(i))
	case wit.U64, wit.S64:
		i, err := toInt64(v)
		if err != nil {
			return err
		}
		return mem.WriteU64(addr, uint64(i))
	case wit.F32:
		f, ok := v.(float64)
		if !ok {
			return mismatch("float64", v)
		}
		return mem.WriteU32(addr, math.Float32bits(float32(f)))
	case wit.F64:
		f, ok := v.(float64)
		if !ok {
			return mismatch("float64", v)
		}
		return mem.WriteU64(addr, math.Float64bits(f))
	case wit.String:
		s, ok := v.(string)
		if !ok {
			return mismatch("string", v)
		}
		cur, err := readField(mem, addr, t)
		if err != nil {
			return err
		}
		if cur.(string) != s {
			return errors.New(errors.PhaseSchema, errors.KindUnsupported).
				Want(fmt.Sprintf("%q", cur)).
				Got(fmt.Sprintf("%q", s)).
				Detail("string differs from the referenced bytes and encoding does not allocate").
				Build()
		}
		return nil
	}
	return errors.Unsupported(errors.PhaseSchema, "field type "+typeName(t))
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	}
	return 0, mismatch("integer", v)
}

func mismatch(want string, v any) error {
	e := errors.TypeMismatch(errors.PhaseSchema, nil, want, fmt.Sprintf("%T", v))
	e.Value = v
	return e
}
