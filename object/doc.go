// Package object provides DynamicObject, an instance whose storage is
// described by a shape.Shape.
//
// Reads resolve the key through the current shape to a Location and read
// the instance's storage there. Writes either store in place or move the
// object to a new shape first:
//
//	obj, _ := object.New(root)
//	obj.Set("x", int64(3))   // add: root -> {x}
//	obj.Set("x", int64(4))   // in place
//	obj.Set("x", "three")    // generalize x to a boxed slot
//
// Objects with the same property history share a shape, so the shape
// pointer is a cheap representation check for caches built on top (see
// package access).
package object
