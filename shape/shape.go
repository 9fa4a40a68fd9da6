package shape

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wippyai/objectmodel/assumption"
)

// Shape is an immutable descriptor of an object's ordered property set and
// storage footprint. The only mutable state is the outgoing transition map
// and the lazily created assumptions.
type Shape struct {
	tree       *tree
	parent     *Shape
	properties []*Property
	marks      []StorageSize
	index      map[any]int
	size       StorageSize
	flags      uint32
	depth      int
	digest     uint64
	id         uint64

	leaf *assumption.Assumption

	mu          sync.RWMutex
	transitions map[transitionKey]*Shape
	edges       []transitionKey
	constants   map[any]*assumption.Assumption
}

func newRootShape(t *tree, flags uint32) *Shape {
	return newShape(t, nil, flags, nil, nil, StorageSize{})
}

func newShape(t *tree, parent *Shape, flags uint32, props []*Property, marks []StorageSize, size StorageSize) *Shape {
	s := &Shape{
		tree:       t,
		parent:     parent,
		properties: props,
		marks:      marks,
		size:       size,
		flags:      flags,
		index:      make(map[any]int, len(props)),
		digest:     digest(flags, size, props, marks),
	}
	if parent != nil {
		s.depth = parent.depth + 1
	}
	for i, p := range props {
		s.index[p.key] = i
	}
	return s
}

// Lookup returns the property for key.
func (s *Shape) Lookup(key any) (*Property, bool) {
	i, ok := s.indexOf(key)
	if !ok {
		return nil, false
	}
	return s.properties[i], true
}

// Location returns the storage location of key.
func (s *Shape) Location(key any) (*Location, bool) {
	p, ok := s.Lookup(key)
	if !ok {
		return nil, false
	}
	return p.location, true
}

// Has reports whether the shape has a property for key.
func (s *Shape) Has(key any) bool {
	_, ok := s.indexOf(key)
	return ok
}

func (s *Shape) indexOf(key any) (int, bool) {
	if !isComparable(key) {
		return 0, false
	}
	i, ok := s.index[key]
	return i, ok
}

// Properties returns the properties in insertion order.
func (s *Shape) Properties() []*Property {
	out := make([]*Property, len(s.properties))
	copy(out, s.properties)
	return out
}

// Keys returns the visible property keys in insertion order.
func (s *Shape) Keys() []any {
	keys := make([]any, 0, len(s.properties))
	for _, p := range s.properties {
		if !p.IsHidden() {
			keys = append(keys, p.key)
		}
	}
	return keys
}

// PropertyCount returns the number of properties, hidden ones included.
func (s *Shape) PropertyCount() int { return len(s.properties) }

// Size returns the storage the shape's instances need.
func (s *Shape) Size() StorageSize { return s.size }

// Flags returns the shape flags word.
func (s *Shape) Flags() uint32 { return s.flags }

// DynamicType returns the root's type tag.
func (s *Shape) DynamicType() any { return s.tree.dynamicType }

// SharedData returns the root's shared metadata.
func (s *Shape) SharedData() any { return s.tree.sharedData }

// Layout returns the layout that owns the shape's transition graph.
func (s *Shape) Layout() *Layout { return s.tree.layout }

// Allocator returns the layout's allocator.
func (s *Shape) Allocator() *Allocator { return s.tree.layout.allocator }

// Parent returns the shape this one was first derived from, nil for a root.
func (s *Shape) Parent() *Shape { return s.parent }

// Root returns the root of the shape's transition graph.
func (s *Shape) Root() *Shape {
	r := s
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// IsRoot reports whether the shape has no parent.
func (s *Shape) IsRoot() bool { return s.parent == nil }

// ID returns an identifier unique within the layout.
func (s *Shape) ID() uint64 { return s.id }

// Depth returns the number of transitions from the root on the first path
// that produced the shape.
func (s *Shape) Depth() int { return s.depth }

// GraphSize returns the number of distinct shapes in the transition graph.
func (s *Shape) GraphSize() int { return s.tree.size() }

// IsRelated reports whether both shapes belong to the same transition graph.
func (s *Shape) IsRelated(o *Shape) bool {
	return o != nil && s.tree == o.tree
}

// SingleContextAssumption returns the assumption shared by every shape of
// the root.
func (s *Shape) SingleContextAssumption() *assumption.Assumption {
	return s.tree.singleContext
}

// LeafAssumption is valid while the shape has no outgoing transitions.
func (s *Shape) LeafAssumption() *assumption.Assumption {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaf == nil {
		s.leaf = assumption.New(fmt.Sprintf("leaf shape %d", s.id))
		if len(s.transitions) > 0 {
			s.leaf.Invalidate("shape has transitions")
		}
	}
	return s.leaf
}

// PropertyAssumption is valid while no object with this shape has moved key
// out of its constant location. Keys that are not constant in this shape get
// an invalid assumption.
func (s *Shape) PropertyAssumption(key any) *assumption.Assumption {
	p, ok := s.Lookup(key)
	if !ok || !p.IsConstant() {
		return assumption.NeverValid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.constants[key]; ok {
		return a
	}
	if s.constants == nil {
		s.constants = make(map[any]*assumption.Assumption)
	}
	a := assumption.New(fmt.Sprintf("constant %v in shape %d", key, s.id))
	for _, tk := range s.edges {
		if tk.kind == OpChangeLocation && tk.key == key {
			a.Invalidate("property generalized")
		}
	}
	s.constants[key] = a
	return a
}

// TransitionCount returns the number of published outgoing edges.
func (s *Shape) TransitionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Edge is one published outgoing transition.
type Edge struct {
	Op     Operation
	Target *Shape
}

// Transitions returns a snapshot of the outgoing edges in publication order.
func (s *Shape) Transitions() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, len(s.edges))
	for i, k := range s.edges {
		out[i] = Edge{Op: k.operation(), Target: s.transitions[k]}
	}
	return out
}

// PrimitiveAt returns the property whose unboxed slot starts at offset.
func (s *Shape) PrimitiveAt(offset int) (*Property, bool) {
	for _, p := range s.properties {
		if p.location.kind == LocationPrimitive && p.location.index == offset {
			return p, true
		}
	}
	return nil, false
}

// Equal reports structural equality. Within one transition graph, equal
// shapes are the same object.
func (s *Shape) Equal(o *Shape) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	return s.structurallyEqual(o)
}

func (s *Shape) structurallyEqual(o *Shape) bool {
	if s.tree != o.tree || s.flags != o.flags || s.size != o.size ||
		s.digest != o.digest || len(s.properties) != len(o.properties) {
		return false
	}
	for i, p := range s.properties {
		if !p.Equal(o.properties[i]) || s.marks[i] != o.marks[i] {
			return false
		}
	}
	return true
}

func (s *Shape) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "shape#%d{", s.id)
	for i, p := range s.properties {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString("}")
	if s.flags != 0 {
		fmt.Fprintf(&b, " flags=0x%x", s.flags)
	}
	b.WriteString(" size=")
	b.WriteString(s.size.String())
	return b.String()
}

// Walk visits s and every shape reachable through published transitions,
// each once, in depth-first publication order.
func (s *Shape) Walk(fn func(depth int, via *Edge, sh *Shape) bool) {
	seen := make(map[*Shape]bool)
	var visit func(depth int, via *Edge, sh *Shape) bool
	visit = func(depth int, via *Edge, sh *Shape) bool {
		if seen[sh] {
			return true
		}
		seen[sh] = true
		if !fn(depth, via, sh) {
			return false
		}
		for _, e := range sh.Transitions() {
			if !visit(depth+1, &e, e.Target) {
				return false
			}
		}
		return true
	}
	visit(0, nil, s)
}
