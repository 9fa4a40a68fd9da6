// Package shape implements shape-based object layouts.
//
// A Shape is an immutable descriptor of an object's ordered property set and
// of where each property's value lives. Objects that went through the same
// property history share one Shape, so shape identity is a valid
// representation check:
//
//	layout, _ := shape.CreateLayout("Point", nil)
//	root, _ := layout.CreateShape(shape.ShapeOptions{
//	    Constants: []shape.ConstantProperty{{Key: "type", Value: "Point"}},
//	})
//	s1, _ := root.AddProperty("x", shape.TypeInt64, 0)
//	s2, _ := root.AddProperty("x", shape.TypeInt64, 0)
//	// s1 == s2
//
// # Storage
//
// Instances carry three areas. A Location names one cell:
//
//	Kind        Cell                              Boxed
//	───────────────────────────────────────────────────────
//	primitive   byte offset in the inline area    no
//	object      inline reference slot             yes
//	extension   slot in the growable array        yes
//	constant    value stored in the shape         n/a
//
// The Allocator fills the primitive area first (each value naturally
// aligned to its width), then inline object slots, then extension slots.
// It is a pure function of the storage already in use, so every object that
// takes the same edge converges on the same locations.
//
// # Transitions
//
// Shape.Transition derives a child for an Operation (add, remove, set
// flags, set property flags, change location). The first derivation of an
// edge consults the Allocator, interns the result in the root's
// hash-consing table and publishes the edge; later calls return the cached
// child. Publication is first-writer-wins: goroutines racing on the same
// edge all observe the same child.
//
// Adding a key that already exists is a no-op when its location and flags
// fit, and otherwise degrades to change-location and set-property-flags.
// Removing an absent key fails with NoSuchProperty.
//
// # Compaction
//
// With CompactionReuse (the default) removing a property re-places every
// property allocated after it, starting from the removed property's slot.
// Adding then removing a key returns the original shape. CompactionTombstone
// keeps the storage size and leaves the slot unused.
//
// # Assumptions
//
// Each root carries a single-context assumption shared by its graph. A
// shape's LeafAssumption is invalidated when its first transition is
// published, and PropertyAssumption(key) when a constant property is
// generalized away from that shape.
//
// # Thread Safety
//
// Published shapes are safe for concurrent use. The transition map and the
// interning table are the only mutable state and are guarded internally.
package shape
