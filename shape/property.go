package shape

import (
	"fmt"
	"strings"
)

// Flags is the per-property metadata bitset.
type Flags uint32

const (
	// FlagReadOnly rejects writes through DynamicObject.Set.
	FlagReadOnly Flags = 1 << iota
	// FlagHidden excludes the property from key enumeration.
	FlagHidden
	// FlagConstant marks a property whose value lives in the shape.
	FlagConstant
)

func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	var parts []string
	if f&FlagReadOnly != 0 {
		parts = append(parts, "ro")
	}
	if f&FlagHidden != 0 {
		parts = append(parts, "hidden")
	}
	if f&FlagConstant != 0 {
		parts = append(parts, "const")
	}
	if rest := f &^ (FlagReadOnly | FlagHidden | FlagConstant); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Property is an immutable (key, location, flags) triple.
type Property struct {
	key      any
	location *Location
	flags    Flags
}

// NewProperty creates a property. FlagConstant is kept in sync with the
// location kind.
func NewProperty(key any, loc *Location, flags Flags) *Property {
	if loc.IsConstant() {
		flags |= FlagConstant
	} else {
		flags &^= FlagConstant
	}
	return &Property{key: key, location: loc, flags: flags}
}

func (p *Property) Key() any            { return p.key }
func (p *Property) Location() *Location { return p.location }
func (p *Property) Flags() Flags        { return p.flags }
func (p *Property) IsReadOnly() bool    { return p.flags&FlagReadOnly != 0 }
func (p *Property) IsHidden() bool      { return p.flags&FlagHidden != 0 }
func (p *Property) IsConstant() bool    { return p.location.IsConstant() }

// WithLocation returns a copy of p stored at loc.
func (p *Property) WithLocation(loc *Location) *Property {
	return NewProperty(p.key, loc, p.flags)
}

// WithFlags returns a copy of p with the given flags.
func (p *Property) WithFlags(flags Flags) *Property {
	return NewProperty(p.key, p.location, flags)
}

// Equal reports whether two properties have the same key, location and flags.
func (p *Property) Equal(o *Property) bool {
	if p == o {
		return true
	}
	if p == nil || o == nil {
		return false
	}
	return p.flags == o.flags && valuesEqual(p.key, o.key) && p.location.Equal(o.location)
}

func (p *Property) String() string {
	return fmt.Sprintf("%v:%s[%s]", p.key, p.location, p.flags)
}
