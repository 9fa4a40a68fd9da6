package access

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/wippyai/objectmodel/assumption"
	"github.com/wippyai/objectmodel/errors"
	"github.com/wippyai/objectmodel/object"
	"github.com/wippyai/objectmodel/shape"
)

// MaxPolymorphic is the number of shapes a site caches before it goes
// megamorphic.
const MaxPolymorphic = 4

// State is the inline cache state of a site.
type State uint8

const (
	StateUninitialized State = iota
	StateMonomorphic         // one shape cached
	StatePolymorphic         // up to MaxPolymorphic shapes cached
	StateMegamorphic         // too many shapes, always resolve through the shape
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMonomorphic:
		return "monomorphic"
	case StatePolymorphic:
		return "polymorphic"
	case StateMegamorphic:
		return "megamorphic"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Stats holds counters for one site.
type Stats struct {
	Hits               uint64
	Misses             uint64
	MonomorphicHits    uint64
	PolymorphicHits    uint64
	MegamorphicLookups uint64
	Invalidations      uint64
}

func (s Stats) String() string {
	total := s.Hits + s.Misses
	if total == 0 {
		return "no activity"
	}
	return fmt.Sprintf("hits %d (%.1f%%), misses %d, mono %d, poly %d, mega %d, invalidated %d",
		s.Hits, float64(s.Hits)/float64(total)*100, s.Misses,
		s.MonomorphicHits, s.PolymorphicHits, s.MegamorphicLookups, s.Invalidations)
}

// readKind tags how an entry's value is read. The typed fast paths switch
// on it instead of going through the Location.
type readKind uint8

const (
	readGeneric readKind = iota
	readInt64
	readInt32
	readFloat64
	readConstant
)

type getEntry struct {
	shape    *shape.Shape
	loc      *shape.Location
	guard    *assumption.Assumption
	constant any
	offset   int
	kind     readKind
}

// GetSite is the inline cache of one property read site. A site is not
// safe for concurrent use; give each goroutine its own.
type GetSite struct {
	key     any
	entries [MaxPolymorphic]getEntry
	n       int
	state   State
	stats   Stats
}

// NewGetSite creates a read site for key.
func NewGetSite(key any) *GetSite {
	return &GetSite{key: key}
}

// Key returns the property key the site reads.
func (s *GetSite) Key() any { return s.key }

// State returns the cache state.
func (s *GetSite) State() State { return s.state }

// Stats returns the site's counters.
func (s *GetSite) Stats() Stats { return s.stats }

// Reset drops every cached entry. Counters are kept.
func (s *GetSite) Reset() {
	s.state = StateUninitialized
	s.n = 0
	s.entries = [MaxPolymorphic]getEntry{}
}

// Get reads the property generically. Absent keys fail with NoSuchProperty.
func (s *GetSite) Get(o *object.DynamicObject) (any, error) {
	e, err := s.lookup(o)
	if err != nil {
		return nil, err
	}
	if e.kind == readConstant {
		return e.constant, nil
	}
	return e.loc.Get(o)
}

// GetInt64 reads the property as an integer without boxing. TypeMismatch
// means the property is not stored as an integer at this shape.
func (s *GetSite) GetInt64(o *object.DynamicObject) (int64, error) {
	e, err := s.lookup(o)
	if err != nil {
		return 0, err
	}
	prim := o.PrimitiveArea()
	switch e.kind {
	case readInt64:
		return int64(binary.LittleEndian.Uint64(prim[e.offset:])), nil
	case readInt32:
		return int64(int32(binary.LittleEndian.Uint32(prim[e.offset:]))), nil
	case readConstant:
		if v, ok := e.constant.(int64); ok {
			return v, nil
		}
	}
	v, err := e.loc.GetInt64(o)
	return v, s.mismatch(err, "int64", e.loc)
}

// GetFloat64 is the float64 counterpart of GetInt64.
func (s *GetSite) GetFloat64(o *object.DynamicObject) (float64, error) {
	e, err := s.lookup(o)
	if err != nil {
		return 0, err
	}
	switch e.kind {
	case readFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(o.PrimitiveArea()[e.offset:])), nil
	case readConstant:
		if v, ok := e.constant.(float64); ok {
			return v, nil
		}
	}
	v, err := e.loc.GetFloat64(o)
	return v, s.mismatch(err, "float64", e.loc)
}

func (s *GetSite) mismatch(err error, want string, loc *shape.Location) error {
	if err == nil || !errors.IsKind(err, errors.KindTypeMismatch) {
		return err
	}
	return errors.New(errors.PhaseAccess, errors.KindTypeMismatch).
		Key(s.key).
		Want(want).
		Got(loc.String()).
		Cause(err).
		Build()
}

// GetInt64OrGeneric tries the unboxed integer read and falls back to Get
// when the property holds another representation.
func (s *GetSite) GetInt64OrGeneric(o *object.DynamicObject) (any, error) {
	v, err := s.GetInt64(o)
	if err == nil {
		return v, nil
	}
	if !errors.IsKind(err, errors.KindTypeMismatch) {
		return nil, err
	}
	return s.Get(o)
}

// lookup returns the entry for o's shape, filling the cache on a miss.
func (s *GetSite) lookup(o *object.DynamicObject) (*getEntry, error) {
	sh := o.Shape()
	for i := 0; i < s.n; i++ {
		e := &s.entries[i]
		if e.shape != sh {
			continue
		}
		if e.guard != nil {
			if err := e.guard.Check(); err != nil {
				s.discard(i, err)
				break
			}
		}
		s.stats.Hits++
		if s.state == StateMonomorphic {
			s.stats.MonomorphicHits++
			return e, nil
		}
		s.stats.PolymorphicHits++
		if i > 0 {
			hit := *e
			copy(s.entries[1:i+1], s.entries[0:i])
			s.entries[0] = hit
		}
		return &s.entries[0], nil
	}

	s.stats.Misses++
	loc, ok := sh.Location(s.key)
	if !ok {
		return nil, errors.NoSuchProperty(errors.PhaseAccess, s.key)
	}
	e := newGetEntry(sh, s.key, loc)
	if s.state == StateMegamorphic {
		s.stats.MegamorphicLookups++
		return &e, nil
	}
	return s.update(e), nil
}

func newGetEntry(sh *shape.Shape, key any, loc *shape.Location) getEntry {
	e := getEntry{shape: sh, loc: loc, offset: loc.Index()}
	switch {
	case loc.IsConstant():
		e.kind = readConstant
		e.constant = loc.Constant()
		if guard := sh.PropertyAssumption(key); guard.IsValid() {
			e.guard = guard
		}
	case loc.IsPrimitive() && loc.Type() == shape.TypeInt64:
		e.kind = readInt64
	case loc.IsPrimitive() && loc.Type() == shape.TypeInt32:
		e.kind = readInt32
	case loc.IsPrimitive() && loc.Type() == shape.TypeFloat64:
		e.kind = readFloat64
	}
	return e
}

func (s *GetSite) update(e getEntry) *getEntry {
	if s.n < MaxPolymorphic {
		s.entries[s.n] = e
		s.n++
		if s.n == 1 {
			s.state = StateMonomorphic
		} else {
			s.state = StatePolymorphic
		}
		return &s.entries[s.n-1]
	}
	Logger().Debug("read site megamorphic", zap.Any("key", s.key))
	s.state = StateMegamorphic
	s.n = 0
	s.entries = [MaxPolymorphic]getEntry{}
	s.stats.MegamorphicLookups++
	return &e
}

// discard drops an entry whose guard was invalidated.
func (s *GetSite) discard(i int, cause error) {
	Logger().Debug("read site entry invalidated",
		zap.Any("key", s.key),
		zap.Uint64("shape", s.entries[i].shape.ID()),
		zap.Error(cause))
	s.stats.Invalidations++
	copy(s.entries[i:s.n], s.entries[i+1:s.n])
	s.n--
	s.entries[s.n] = getEntry{}
	switch s.n {
	case 0:
		s.state = StateUninitialized
	case 1:
		s.state = StateMonomorphic
	}
}

type setEntry struct {
	from *shape.Shape
	to   *shape.Shape
	// prev is the key's location in from, nil when the write added it.
	prev *shape.Location
	loc  *shape.Location
}

// matches reports whether the entry describes what a write of v does to an
// object of shape from.
func (e *setEntry) matches(from *shape.Shape, v any, casts shape.CastFlags) bool {
	if e.from != from || !e.loc.CanStore(v, casts) {
		return false
	}
	// A cached generalization only applies to values the old location
	// cannot hold; others are written in place.
	return e.prev == nil || e.to == e.from || !e.prev.CanStore(v, casts)
}

// SetSite is the inline cache of one property write site. It remembers the
// shape each write moved the object to, so repeated adds skip the
// transition lookup. A site is not safe for concurrent use.
type SetSite struct {
	key     any
	entries [MaxPolymorphic]setEntry
	n       int
	state   State
	stats   Stats
}

// NewSetSite creates a write site for key.
func NewSetSite(key any) *SetSite {
	return &SetSite{key: key}
}

// Key returns the property key the site writes.
func (s *SetSite) Key() any { return s.key }

// State returns the cache state.
func (s *SetSite) State() State { return s.state }

// Stats returns the site's counters.
func (s *SetSite) Stats() Stats { return s.stats }

// Reset drops every cached entry. Counters are kept.
func (s *SetSite) Reset() {
	s.state = StateUninitialized
	s.n = 0
	s.entries = [MaxPolymorphic]setEntry{}
}

// Set writes v to the site's key on o.
func (s *SetSite) Set(o *object.DynamicObject, v any) error {
	from := o.Shape()
	casts := from.Layout().ImplicitCasts()
	for i := 0; i < s.n; i++ {
		e := &s.entries[i]
		if !e.matches(from, v, casts) {
			continue
		}
		s.stats.Hits++
		if s.state == StateMonomorphic {
			s.stats.MonomorphicHits++
		} else {
			s.stats.PolymorphicHits++
		}
		if e.to != from {
			if err := o.Migrate(e.to); err != nil {
				return err
			}
		}
		return e.loc.Set(o, v, casts)
	}

	s.stats.Misses++
	prev, _ := from.Location(s.key)
	if err := o.Set(s.key, v); err != nil {
		return err
	}
	if s.state == StateMegamorphic {
		s.stats.MegamorphicLookups++
		return nil
	}
	to := o.Shape()
	loc, _ := to.Location(s.key)
	if s.n < MaxPolymorphic {
		s.entries[s.n] = setEntry{from: from, to: to, prev: prev, loc: loc}
		s.n++
		if s.n == 1 {
			s.state = StateMonomorphic
		} else {
			s.state = StatePolymorphic
		}
		return nil
	}
	Logger().Debug("write site megamorphic", zap.Any("key", s.key))
	s.state = StateMegamorphic
	s.n = 0
	s.entries = [MaxPolymorphic]setEntry{}
	return nil
}
