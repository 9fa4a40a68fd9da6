// Package objectmodel provides a shape-based object layout engine for
// dynamically typed objects embedded in a Go host.
//
// Every object carries a reference to an immutable Shape that describes its
// property set and where each property value lives. Objects that went through
// the same sequence of property additions and removals share one Shape
// instance, so comparing shapes by pointer is a complete representation check.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	objectmodel/     Root package with the native Memory interface
//	├── assumption/  Revocable validity tokens with synchronous invalidation
//	├── shape/       Locations, allocator, properties, shapes, transitions, layouts
//	├── object/      DynamicObject instances backed by shape-described storage
//	├── access/      Per-site inline caches with typed fast paths
//	├── pointer/     Typed loads and stores over native and managed pointers
//	├── schema/      Pre-shaped layouts derived from WIT record types
//	├── errors/      Structured error types
//	└── cmd/shapes/  Transition graph explorer
//
// # Quick Start
//
// Create a layout, a root shape with a constant property, and two objects:
//
//	factory := shape.NewFactory()
//	layout, err := factory.CreateLayout("Point", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	root, err := layout.CreateShape(shape.ShapeOptions{
//	    Constants: []shape.ConstantProperty{{Key: "type", Value: "Point"}},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p1, _ := object.New(root)
//	p2, _ := object.New(root)
//	p1.Set("x", int64(1))
//	p2.Set("x", int64(2))
//	fmt.Println(p1.Shape() == p2.Shape()) // true
//
// # Storage
//
// Each shape assigns every property one Location:
//
//   - Primitive: an unboxed, naturally aligned slot in the inline byte area
//   - Object: a boxed inline reference slot
//   - Extension: a slot in the append-only per-object extension array
//   - Constant: a value stored in the shape and shared by all instances
//
// Writing a value that a Location cannot hold generalizes the property to a
// wider Location through a transition; previously published shapes never change.
//
// # Thread Safety
//
// Shapes, Layouts, the Factory and Assumptions are safe for concurrent use.
// Racing transitions from the same shape converge on one child. DynamicObject
// storage is owned by its instance and is NOT synchronized.
package objectmodel
