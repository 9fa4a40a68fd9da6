package shape

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/objectmodel/assumption"
	"github.com/wippyai/objectmodel/errors"
)

// OpKind labels a transition edge.
type OpKind uint8

const (
	OpAddProperty OpKind = iota
	OpRemoveProperty
	OpSetFlags
	OpSetPropertyFlags
	OpChangeLocation
)

var opKindNames = [...]string{
	OpAddProperty:      "add",
	OpRemoveProperty:   "remove",
	OpSetFlags:         "set-flags",
	OpSetPropertyFlags: "set-property-flags",
	OpChangeLocation:   "change-location",
}

func (k OpKind) String() string {
	if int(k) < len(opKindNames) {
		return opKindNames[k]
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Operation describes a transition request.
type Operation struct {
	Kind OpKind
	Key  any
	// Type is the requested type for OpAddProperty and the type the new
	// location must accept for OpChangeLocation.
	Type Type
	// Value is the constant value when Constant is set.
	Value    any
	Constant bool
	// Flags are the property flags for OpAddProperty and OpSetPropertyFlags.
	Flags Flags
	// ShapeFlags is the new flags word for OpSetFlags.
	ShapeFlags uint32
}

func (op Operation) String() string {
	switch op.Kind {
	case OpAddProperty:
		if op.Constant {
			return fmt.Sprintf("add %v=const(%v) [%s]", op.Key, op.Value, op.Flags)
		}
		return fmt.Sprintf("add %v:%s [%s]", op.Key, op.Type, op.Flags)
	case OpRemoveProperty:
		return fmt.Sprintf("remove %v", op.Key)
	case OpSetFlags:
		return fmt.Sprintf("set-flags 0x%x", op.ShapeFlags)
	case OpSetPropertyFlags:
		return fmt.Sprintf("set-property-flags %v [%s]", op.Key, op.Flags)
	case OpChangeLocation:
		return fmt.Sprintf("change-location %v:%s", op.Key, op.Type)
	}
	return op.Kind.String()
}

// transitionKey is the comparable edge label of an Operation.
type transitionKey struct {
	key         any
	constant    any
	shapeFlags  uint32
	flags       Flags
	kind        OpKind
	typ         Type
	hasConstant bool
}

func (op Operation) edgeKey() transitionKey {
	tk := transitionKey{kind: op.Kind, key: op.Key}
	switch op.Kind {
	case OpAddProperty:
		tk.flags = op.Flags
		if op.Constant {
			tk.hasConstant = true
			tk.constant = constantKey(op.Value)
			tk.typ = TypeOf(op.Value)
		} else {
			tk.typ = op.Type
		}
	case OpSetFlags:
		tk.shapeFlags = op.ShapeFlags
	case OpSetPropertyFlags:
		tk.flags = op.Flags
	case OpChangeLocation:
		tk.typ = op.Type
	}
	return tk
}

func (tk transitionKey) operation() Operation {
	return Operation{
		Kind:       tk.kind,
		Key:        tk.key,
		Type:       tk.typ,
		Value:      constantValue(tk.constant),
		Constant:   tk.hasConstant,
		Flags:      tk.flags,
		ShapeFlags: tk.shapeFlags,
	}
}

// Transition returns the shape reached from s by op. Repeating the same
// operation on the same shape returns the same child. On error s and its
// transition map are unchanged.
func (s *Shape) Transition(op Operation) (*Shape, error) {
	if err := s.validate(op); err != nil {
		return nil, err
	}
	steps, err := s.normalize(op)
	if err != nil {
		return nil, err
	}
	cur := s
	for _, step := range steps {
		cur, err = cur.apply(step)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func (s *Shape) apply(op Operation) (*Shape, error) {
	tk := op.edgeKey()
	s.mu.RLock()
	child, ok := s.transitions[tk]
	s.mu.RUnlock()
	if ok {
		return child, nil
	}

	candidate, err := s.derive(op)
	if err != nil {
		return nil, err
	}
	target, created := s.tree.intern(candidate)
	return s.publish(tk, op, target, created), nil
}

// publish links target under tk unless another goroutine got there first,
// in which case the earlier edge wins.
func (s *Shape) publish(tk transitionKey, op Operation, target *Shape, created bool) *Shape {
	s.mu.Lock()
	if existing, ok := s.transitions[tk]; ok {
		s.mu.Unlock()
		return existing
	}
	if s.transitions == nil {
		s.transitions = make(map[transitionKey]*Shape)
	}
	s.transitions[tk] = target
	s.edges = append(s.edges, tk)
	first := len(s.edges) == 1
	leaf := s.leaf
	var constant *assumption.Assumption
	if tk.kind == OpChangeLocation {
		constant = s.constants[tk.key]
	}
	s.mu.Unlock()

	if first && leaf != nil {
		leaf.Invalidate("transition published")
	}
	if constant != nil {
		constant.Invalidate(fmt.Sprintf("property %v generalized", tk.key))
	}

	Logger().Debug("transition published",
		zap.Uint64("from", s.id),
		zap.Uint64("to", target.id),
		zap.Stringer("op", op),
		zap.Bool("new_shape", created))
	return target
}

func (s *Shape) validate(op Operation) error {
	if op.Kind > OpChangeLocation {
		return errors.InvalidInput(errors.PhaseTransition, "unknown operation "+op.Kind.String())
	}
	if op.Kind != OpSetFlags {
		if op.Key == nil || !isComparable(op.Key) || isNaN(op.Key) {
			return errors.New(errors.PhaseTransition, errors.KindInvalidInput).
				Key(op.Key).
				Detail("property key must be a non-nil comparable value other than NaN").
				Build()
		}
	}
	if op.Type > TypeFloat64 {
		return errors.InvalidInput(errors.PhaseTransition, "unknown type "+op.Type.String())
	}
	switch op.Kind {
	case OpAddProperty:
		if op.Constant && !isComparable(op.Value) {
			return errors.New(errors.PhaseTransition, errors.KindInvalidInput).
				Key(op.Key).
				Got(typeName(op.Value)).
				Detail("constant value must be comparable").
				Build()
		}
	case OpRemoveProperty, OpSetPropertyFlags, OpChangeLocation:
		if !s.Has(op.Key) {
			return errors.NoSuchProperty(errors.PhaseTransition, op.Key)
		}
	}
	return nil
}

// normalize rewrites op into the edges that realize it. An empty result
// means op does not change s.
func (s *Shape) normalize(op Operation) ([]Operation, error) {
	casts := s.tree.layout.cfg.ImplicitCasts
	switch op.Kind {
	case OpAddProperty:
		p, ok := s.Lookup(op.Key)
		if !ok {
			return []Operation{op}, nil
		}
		var steps []Operation
		loc := p.location
		if op.Constant {
			if !loc.CanStore(op.Value, casts) {
				steps = append(steps, Operation{Kind: OpChangeLocation, Key: op.Key, Type: TypeOf(op.Value)})
			}
		} else if loc.IsConstant() || !loc.typ.Accepts(op.Type, casts) {
			steps = append(steps, Operation{Kind: OpChangeLocation, Key: op.Key, Type: op.Type})
		}
		if (op.Flags &^ FlagConstant) != (p.flags &^ FlagConstant) {
			steps = append(steps, Operation{Kind: OpSetPropertyFlags, Key: op.Key, Flags: op.Flags})
		}
		return steps, nil
	case OpSetFlags:
		if op.ShapeFlags == s.flags {
			return nil, nil
		}
	case OpSetPropertyFlags:
		p, _ := s.Lookup(op.Key)
		op.Flags &^= FlagConstant
		if op.Flags == p.flags&^FlagConstant {
			return nil, nil
		}
	case OpChangeLocation:
		p, _ := s.Lookup(op.Key)
		if !p.location.IsConstant() && p.location.typ.Accepts(op.Type, casts) {
			return nil, nil
		}
	}
	return []Operation{op}, nil
}

// derive builds the candidate child of s for op. It never touches s.
func (s *Shape) derive(op Operation) (*Shape, error) {
	alloc := s.tree.layout.allocator
	switch op.Kind {
	case OpAddProperty:
		loc, next := alloc.Allocate(s.size, op.Type, op.Value, op.Constant)
		mark := s.size
		if loc.IsConstant() {
			mark = StorageSize{}
		}
		props := append(s.Properties(), NewProperty(op.Key, loc, op.Flags))
		marks := append(s.copyMarks(), mark)
		return newShape(s.tree, s, s.flags, props, marks, next), nil

	case OpRemoveProperty:
		return s.deriveRemove(op.Key), nil

	case OpSetFlags:
		return newShape(s.tree, s, op.ShapeFlags, s.Properties(), s.copyMarks(), s.size), nil

	case OpSetPropertyFlags:
		i, _ := s.indexOf(op.Key)
		props := s.Properties()
		props[i] = props[i].WithFlags(op.Flags)
		return newShape(s.tree, s, s.flags, props, s.copyMarks(), s.size), nil

	case OpChangeLocation:
		i, _ := s.indexOf(op.Key)
		old := s.properties[i]
		loc, next, changed := alloc.Generalize(s.size, old.location, op.Type)
		if !changed {
			return nil, errors.New(errors.PhaseTransition, errors.KindInvalidInput).
				Key(op.Key).
				Detail("location %s already accepts %s", old.location, op.Type).
				Build()
		}
		props := s.Properties()
		props[i] = old.WithLocation(loc)
		marks := s.copyMarks()
		marks[i] = s.size
		return newShape(s.tree, s, s.flags, props, marks, next), nil
	}
	return nil, errors.InvalidInput(errors.PhaseTransition, "unknown operation "+op.Kind.String())
}

func (s *Shape) deriveRemove(key any) *Shape {
	i, _ := s.indexOf(key)
	removed := s.properties[i]
	props := make([]*Property, 0, len(s.properties)-1)
	marks := make([]StorageSize, 0, len(s.properties)-1)
	for j, p := range s.properties {
		if j != i {
			props = append(props, p)
			marks = append(marks, s.marks[j])
		}
	}
	if removed.IsConstant() || s.tree.layout.cfg.Compaction == CompactionTombstone {
		return newShape(s.tree, s, s.flags, props, marks, s.size)
	}

	// Rewind storage to where the removed property was placed and re-place
	// everything allocated after it, in allocation order.
	from := s.marks[i]
	var later []int
	for j, p := range props {
		if !p.IsConstant() && marks[j] != from && marks[j].Covers(from) {
			later = append(later, j)
		}
	}
	sort.Slice(later, func(a, b int) bool { return marks[later[a]].Less(marks[later[b]]) })

	alloc := s.tree.layout.allocator
	size := from
	for _, j := range later {
		loc, next := alloc.LocationForType(size, props[j].location.typ)
		props[j] = props[j].WithLocation(loc)
		marks[j] = size
		size = next
	}
	return newShape(s.tree, s, s.flags, props, marks, size)
}

func (s *Shape) copyMarks() []StorageSize {
	out := make([]StorageSize, len(s.marks))
	copy(out, s.marks)
	return out
}

// AddProperty adds key with a location for typ.
func (s *Shape) AddProperty(key any, typ Type, flags Flags) (*Shape, error) {
	return s.Transition(Operation{Kind: OpAddProperty, Key: key, Type: typ, Flags: flags})
}

// AddPropertyValue adds key with a location for v's type.
func (s *Shape) AddPropertyValue(key any, v any, flags Flags) (*Shape, error) {
	return s.AddProperty(key, TypeOf(v), flags)
}

// AddConstantProperty adds key with v stored in the shape. Layouts with
// constants disabled place it like AddPropertyValue.
func (s *Shape) AddConstantProperty(key any, v any, flags Flags) (*Shape, error) {
	return s.Transition(Operation{Kind: OpAddProperty, Key: key, Type: TypeOf(v), Value: v, Constant: true, Flags: flags})
}

// DefineProperty makes s describe key holding v with flags: adds it,
// leaves s unchanged, or generalizes and re-flags an existing property.
// FlagConstant in flags requests a constant location.
func (s *Shape) DefineProperty(key any, v any, flags Flags) (*Shape, error) {
	if flags&FlagConstant != 0 {
		return s.AddConstantProperty(key, v, flags)
	}
	return s.AddPropertyValue(key, v, flags)
}

// RemoveProperty removes key. Absent keys fail with NoSuchProperty.
func (s *Shape) RemoveProperty(key any) (*Shape, error) {
	return s.Transition(Operation{Kind: OpRemoveProperty, Key: key})
}

// SetFlags replaces the shape flags word.
func (s *Shape) SetFlags(flags uint32) (*Shape, error) {
	return s.Transition(Operation{Kind: OpSetFlags, ShapeFlags: flags})
}

// SetPropertyFlags replaces the flags of an existing property.
func (s *Shape) SetPropertyFlags(key any, flags Flags) (*Shape, error) {
	return s.Transition(Operation{Kind: OpSetPropertyFlags, Key: key, Flags: flags})
}

// ChangeLocation generalizes key so its location can also hold v. It
// returns s when the current location already can.
func (s *Shape) ChangeLocation(key any, v any) (*Shape, error) {
	p, ok := s.Lookup(key)
	if !ok {
		return nil, errors.NoSuchProperty(errors.PhaseTransition, key)
	}
	if p.location.CanStore(v, s.tree.layout.cfg.ImplicitCasts) {
		return s, nil
	}
	return s.Transition(Operation{Kind: OpChangeLocation, Key: key, Type: TypeOf(v)})
}
