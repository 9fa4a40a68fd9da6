// Package access provides per-site inline caches over DynamicObject.
//
// A site remembers, for each shape it has seen, where its key lives. Each
// cached entry carries a small tag describing the representation (unboxed
// int64, unboxed int32, unboxed float64, shape constant, or generic) and the
// typed readers dispatch on that tag directly:
//
//	site := access.NewGetSite("x")
//	n, err := site.GetInt64(obj)
//	if errors.IsKind(err, errors.KindTypeMismatch) {
//	    v, err := site.Get(obj) // boxed fallback
//	}
//
// Sites go from uninitialized to monomorphic to polymorphic (up to
// MaxPolymorphic shapes) to megamorphic, where they stop caching. Entries
// for constant properties are guarded by the shape's PropertyAssumption;
// once it is invalidated the entry is discarded and rebuilt.
package access
