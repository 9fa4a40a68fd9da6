// Package schema derives object layouts from WIT record types.
//
// A record's fields become the properties of a pre-shaped root, in
// declaration order, each with the storage type its WIT type maps to:
//
//	WIT type                  Property type
//	──────────────────────────────────────
//	bool                      bool
//	u8 s8 u16 s16 s32 char    int32
//	u32 u64 s64               int64
//	f32 f64                   float64
//	string                    object (Go string)
//
// A Binding also knows the Canonical ABI memory layout of the record, so
// objects can be decoded from and encoded to native linear memory.
package schema
