// Package slots provides packing arithmetic for inline storage areas.
//
// Primitive values are placed at naturally aligned byte offsets: a value of
// width w starts at a multiple of w. This keeps typed loads aligned and makes
// the offset of a property a pure function of the area's current fill level.
//
// This package is internal to the shape package.
package slots
