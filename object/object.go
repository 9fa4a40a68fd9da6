package object

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/objectmodel/errors"
	"github.com/wippyai/objectmodel/shape"
)

// DynamicObject is an instance whose property set is described by a Shape.
// Values live in three areas sized by the shape's layout: unboxed
// primitives, inline boxed slots and a growable extension array.
//
// A DynamicObject is not safe for concurrent mutation.
type DynamicObject struct {
	shape *shape.Shape
	prim  []byte
	obj   []any
	ext   []any
}

var _ shape.Storage = (*DynamicObject)(nil)

// New creates an instance of s. Properties of s other than constants start
// at their zero value.
func New(s *shape.Shape) (*DynamicObject, error) {
	if s == nil {
		return nil, errors.NilPointer(errors.PhaseAccess, "shape")
	}
	l := s.Layout()
	return &DynamicObject{
		shape: s,
		prim:  make([]byte, l.InlinePrimitiveBytes()),
		obj:   make([]any, l.InlineObjectSlots()),
		ext:   make([]any, s.Size().ExtensionSlots),
	}, nil
}

func (o *DynamicObject) PrimitiveArea() []byte { return o.prim }
func (o *DynamicObject) ObjectArea() []any     { return o.obj }
func (o *DynamicObject) ExtensionArea() []any  { return o.ext }

// Shape returns the current shape.
func (o *DynamicObject) Shape() *shape.Shape { return o.shape }

// Has reports whether key is present.
func (o *DynamicObject) Has(key any) bool { return o.shape.Has(key) }

// Keys returns the visible keys in insertion order.
func (o *DynamicObject) Keys() []any { return o.shape.Keys() }

// Get returns the value of key.
func (o *DynamicObject) Get(key any) (any, bool) {
	loc, ok := o.shape.Location(key)
	if !ok {
		return nil, false
	}
	v, err := loc.Get(o)
	if err != nil {
		return nil, false
	}
	return v, true
}

// GetInt64 reads key as an integer without boxing. A TypeMismatch error
// means the property holds another representation; use Get instead.
func (o *DynamicObject) GetInt64(key any) (int64, error) {
	loc, err := o.location(key)
	if err != nil {
		return 0, err
	}
	v, err := loc.GetInt64(o)
	return v, withKey(err, key)
}

// GetFloat64 is the float64 counterpart of GetInt64.
func (o *DynamicObject) GetFloat64(key any) (float64, error) {
	loc, err := o.location(key)
	if err != nil {
		return 0, err
	}
	v, err := loc.GetFloat64(o)
	return v, withKey(err, key)
}

// GetBool is the bool counterpart of GetInt64.
func (o *DynamicObject) GetBool(key any) (bool, error) {
	loc, err := o.location(key)
	if err != nil {
		return false, err
	}
	v, err := loc.GetBool(o)
	return v, withKey(err, key)
}

func (o *DynamicObject) location(key any) (*shape.Location, error) {
	loc, ok := o.shape.Location(key)
	if !ok {
		return nil, errors.NoSuchProperty(errors.PhaseAccess, key)
	}
	return loc, nil
}

// Set writes v to key. A new key is added; a value the current location
// cannot hold generalizes it first. Read-only properties reject the write.
func (o *DynamicObject) Set(key any, v any) error {
	p, ok := o.shape.Lookup(key)
	if !ok {
		next, err := o.shape.AddPropertyValue(key, v, 0)
		if err != nil {
			return err
		}
		return o.reshapeAndStore(next, key, v)
	}
	if p.IsReadOnly() {
		return errors.ReadOnly(errors.PhaseAccess, key)
	}
	casts := o.shape.Layout().ImplicitCasts()
	if p.Location().CanStore(v, casts) {
		return withKey(p.Location().Set(o, v, casts), key)
	}
	next, err := o.shape.ChangeLocation(key, v)
	if err != nil {
		return err
	}
	return o.reshapeAndStore(next, key, v)
}

// Define adds or redefines key with v and flags, bypassing the read-only
// check. FlagConstant requests a constant location.
func (o *DynamicObject) Define(key any, v any, flags shape.Flags) error {
	next, err := o.shape.DefineProperty(key, v, flags)
	if err != nil {
		return err
	}
	return o.reshapeAndStore(next, key, v)
}

func (o *DynamicObject) reshapeAndStore(next *shape.Shape, key, v any) error {
	if err := o.Migrate(next); err != nil {
		return err
	}
	loc, _ := next.Location(key)
	if loc.IsConstant() {
		return nil
	}
	return withKey(loc.Set(o, v, next.Layout().ImplicitCasts()), key)
}

// Delete removes key.
func (o *DynamicObject) Delete(key any) error {
	next, err := o.shape.RemoveProperty(key)
	if err != nil {
		return err
	}
	return o.Migrate(next)
}

// SetShapeFlags replaces the shape flags word.
func (o *DynamicObject) SetShapeFlags(flags uint32) error {
	next, err := o.shape.SetFlags(flags)
	if err != nil {
		return err
	}
	o.shape = next
	return nil
}

// Migrate moves the object to target, a shape of the same transition graph.
// Values are carried over by key; keys absent from the current shape start
// at their zero value. On error the object is unchanged.
func (o *DynamicObject) Migrate(target *shape.Shape) error {
	if target == nil {
		return errors.NilPointer(errors.PhaseAccess, "target shape")
	}
	if target == o.shape {
		return nil
	}
	if !o.shape.IsRelated(target) {
		return errors.New(errors.PhaseAccess, errors.KindInvalidInput).
			Detail("shape %d and shape %d belong to different layouts", o.shape.ID(), target.ID()).
			Build()
	}
	if o.sameLocations(target) {
		o.retireDropped(target)
		o.growExtensions(target.Size().ExtensionSlots)
		o.shape = target
		return nil
	}

	fresh := &DynamicObject{
		shape: target,
		prim:  make([]byte, len(o.prim)),
		obj:   make([]any, len(o.obj)),
		ext:   make([]any, target.Size().ExtensionSlots),
	}
	casts := target.Layout().ImplicitCasts()
	for _, p := range target.Properties() {
		if p.IsConstant() {
			continue
		}
		from, ok := o.shape.Location(p.Key())
		if !ok {
			continue
		}
		v, err := from.Get(o)
		if err != nil {
			return withKey(err, p.Key())
		}
		if err := p.Location().Set(fresh, v, casts); err != nil {
			return withKey(err, p.Key())
		}
	}
	Logger().Debug("object relocated",
		zap.Uint64("from", o.shape.ID()),
		zap.Uint64("to", target.ID()))
	*o = *fresh
	return nil
}

// sameLocations reports whether every stored property of target already
// lives at the same location in the current shape.
func (o *DynamicObject) sameLocations(target *shape.Shape) bool {
	for _, p := range target.Properties() {
		if p.IsConstant() {
			continue
		}
		from, ok := o.shape.Location(p.Key())
		if !ok {
			continue
		}
		if !from.Equal(p.Location()) {
			return false
		}
	}
	return true
}

// retireDropped clears cells of properties target no longer has, so they
// can be reused and do not retain references.
func (o *DynamicObject) retireDropped(target *shape.Shape) {
	for _, p := range o.shape.Properties() {
		if !target.Has(p.Key()) {
			p.Location().Clear(o)
		}
	}
}

func (o *DynamicObject) growExtensions(n int) {
	if n <= len(o.ext) {
		return
	}
	if n <= cap(o.ext) {
		o.ext = o.ext[:n]
		return
	}
	grown := make([]any, n, n+n/2)
	copy(grown, o.ext)
	o.ext = grown
}

// Snapshot returns the visible properties as a map.
func (o *DynamicObject) Snapshot() map[any]any {
	out := make(map[any]any)
	for _, p := range o.shape.Properties() {
		if p.IsHidden() {
			continue
		}
		if v, err := p.Location().Get(o); err == nil {
			out[p.Key()] = v
		}
	}
	return out
}

func (o *DynamicObject) String() string {
	return fmt.Sprintf("object%v", o.Snapshot())
}

// withKey attaches key to an error produced by a Location.
func withKey(err error, key any) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*errors.Error); ok && e.Key == "" {
		e.Key = fmt.Sprint(key)
	}
	return err
}
