package pointer

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/objectmodel/errors"
	"github.com/wippyai/objectmodel/object"
	"github.com/wippyai/objectmodel/shape"
)

// memoryModule is a core wasm module exporting one page of memory as "memory".
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
}

func newMemory(t *testing.T) *WazeroMemory {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })

	mod, err := r.Instantiate(ctx, memoryModule)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	mem := mod.Memory()
	if mem == nil {
		t.Fatal("module has no memory")
	}
	return NewWazeroMemory(mem)
}

func newObject(t *testing.T, kv ...any) *object.DynamicObject {
	t.Helper()
	l, err := shape.NewFactory().CreateLayout(t.Name(), nil)
	if err != nil {
		t.Fatal(err)
	}
	root, err := l.CreateShape(shape.ShapeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	o, err := object.New(root)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if err := o.Set(kv[i], kv[i+1]); err != nil {
			t.Fatal(err)
		}
	}
	return o
}

func TestWazeroMemory(t *testing.T) {
	m := newMemory(t)
	if m.Size() != 65536 {
		t.Fatalf("Size = %d", m.Size())
	}
	if err := m.WriteU8(0, 0xab); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteU16(2, 0xbeef); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteU32(4, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteU64(8, 0x0102030405060708); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.ReadU8(0); v != 0xab {
		t.Errorf("ReadU8 = %x", v)
	}
	if v, _ := m.ReadU16(2); v != 0xbeef {
		t.Errorf("ReadU16 = %x", v)
	}
	if v, _ := m.ReadU32(4); v != 0xdeadbeef {
		t.Errorf("ReadU32 = %x", v)
	}
	if v, _ := m.ReadU64(8); v != 0x0102030405060708 {
		t.Errorf("ReadU64 = %x", v)
	}
	data, err := m.Read(8, 2)
	if err != nil || data[0] != 0x08 || data[1] != 0x07 {
		t.Errorf("Read = %v, %v", data, err)
	}

	if _, err := m.ReadU64(65532); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("ReadU64 past end = %v", err)
	}
	if err := m.Write(65535, []byte{1, 2}); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("Write past end = %v", err)
	}
}

func TestI64Load_Native(t *testing.T) {
	m := newMemory(t)
	_ = m.WriteU64(24, uint64(0xffffffffffffff85)) // -123

	n := NewI64LoadNode()
	v, err := n.Execute(NativePointer{Memory: m, Addr: 16}, 8)
	if err != nil || v != -123 {
		t.Fatalf("Execute = %d, %v", v, err)
	}
	if n.Specializations() != SpecNative {
		t.Fatalf("specializations = %s", n.Specializations())
	}
	if _, err := n.Execute(NativePointer{Memory: m, Addr: 65530}, 0); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Fatalf("out of bounds = %v", err)
	}
	if _, err := n.Execute(NativePointer{Addr: 0}, 0); !errors.IsKind(err, errors.KindNilPointer) {
		t.Fatalf("nil memory = %v", err)
	}
}

func TestI64Load_ManagedTypedThenGeneric(t *testing.T) {
	o := newObject(t, "n", int64(42), "s", "text")
	n := NewI64LoadNode()

	v, err := n.Execute(ManagedPointer{Object: o, Key: "n"}, 0)
	if err != nil || v != 42 {
		t.Fatalf("Execute = %d, %v", v, err)
	}
	if n.Specializations() != SpecManaged {
		t.Fatalf("specializations = %s", n.Specializations())
	}

	_, err = n.Execute(ManagedPointer{Object: o, Key: "s"}, 0)
	if !stderrors.Is(err, errors.ErrTypeMismatch) {
		t.Fatalf("Execute on string = %v", err)
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Value != "text" {
		t.Fatalf("mismatch does not carry the generic value: %v", err)
	}
	if n.Specializations() != SpecManagedGeneric {
		t.Fatalf("node not rewritten: %s", n.Specializations())
	}

	v, err = n.Execute(ManagedPointer{Object: o, Key: "n"}, 0)
	if err != nil || v != 42 {
		t.Fatalf("generic path Execute = %d, %v", v, err)
	}

	g, err := n.Load(ManagedPointer{Object: o, Key: "s"}, 0)
	if err != nil || g != "text" {
		t.Fatalf("Load = %v, %v", g, err)
	}
}

func TestI64Load_ManagedOffset(t *testing.T) {
	o := newObject(t, "flag", true, "count", int64(9))
	n := NewI64LoadNode()
	v, err := n.Execute(ManagedPointer{Object: o}, 8)
	if err != nil || v != 9 {
		t.Fatalf("Execute at +8 = %d, %v", v, err)
	}
	if _, err := n.Execute(ManagedPointer{Object: o, Offset: 4}, 0); !errors.IsKind(err, errors.KindNoSuchProperty) {
		t.Fatalf("Execute at +4 = %v", err)
	}
	if _, err := n.Execute(ManagedPointer{Object: o, Key: "count"}, 8); !errors.IsKind(err, errors.KindUnsupported) {
		t.Fatalf("offset on keyed pointer = %v", err)
	}
	if _, err := n.Execute(nil, 0); !errors.IsKind(err, errors.KindNilPointer) {
		t.Fatalf("nil pointer = %v", err)
	}
}

func TestI64Load_Generic(t *testing.T) {
	m := newMemory(t)
	_ = m.WriteU64(0, 77)
	o := newObject(t, "f", 2.5)
	n := NewI64LoadNode()

	v, err := n.ExecuteGeneric(NativePointer{Memory: m}, 0)
	if err != nil || v != int64(77) {
		t.Fatalf("native generic = %v, %v", v, err)
	}
	v, err = n.ExecuteGeneric(ManagedPointer{Object: o, Key: "f"}, 0)
	if err != nil || v != 2.5 {
		t.Fatalf("managed generic = %v, %v", v, err)
	}
	if n.Specializations() != SpecNative|SpecManagedGeneric {
		t.Fatalf("specializations = %s", n.Specializations())
	}
}

func TestI64Store(t *testing.T) {
	m := newMemory(t)
	o := newObject(t, "n", int64(1), "s", "text")
	store := NewI64StoreNode()
	load := NewI64LoadNode()

	if err := store.Execute(NativePointer{Memory: m, Addr: 32}, 8, -5); err != nil {
		t.Fatal(err)
	}
	if v, _ := load.Execute(NativePointer{Memory: m, Addr: 40}, 0); v != -5 {
		t.Fatalf("native round trip = %d", v)
	}

	if err := store.Execute(ManagedPointer{Object: o, Key: "n"}, 0, 11); err != nil {
		t.Fatal(err)
	}
	if v, _ := o.GetInt64("n"); v != 11 {
		t.Fatalf("n = %d", v)
	}
	if err := store.Execute(ManagedPointer{Object: o, Key: "s"}, 0, 12); err != nil {
		t.Fatal(err)
	}
	if v, _ := o.Get("s"); v != int64(12) {
		t.Fatalf("s = %v", v)
	}

	if err := store.ExecuteGeneric(NativePointer{Memory: m}, 0, "x"); !errors.IsKind(err, errors.KindTypeMismatch) {
		t.Fatalf("storing a string natively = %v", err)
	}
	if err := store.ExecuteGeneric(ManagedPointer{Object: o, Key: "n"}, 0, "str"); err != nil {
		t.Fatal(err)
	}
	if v, _ := o.Get("n"); v != "str" {
		t.Fatalf("n = %v", v)
	}
	if store.Specializations() != SpecNative|SpecManaged|SpecManagedGeneric {
		t.Fatalf("specializations = %s", store.Specializations())
	}
}

func TestSpecializationString(t *testing.T) {
	tests := map[Specialization]string{
		0:                                "uninitialized",
		SpecNative:                       "native",
		SpecNative | SpecManaged:         "native|managed",
		SpecManaged | SpecManagedGeneric: "managed|managed-generic",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d: %q, want %q", s, got, want)
		}
	}
}
