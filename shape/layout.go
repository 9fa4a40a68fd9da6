package shape

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/objectmodel/assumption"
	"github.com/wippyai/objectmodel/errors"
)

// Hard storage caps. A Config asking for more fails at layout creation.
const (
	MaxInlinePrimitiveBytes = 4096
	MaxInlineObjectSlots    = 1024
	MaxPropertiesLimit      = 1 << 20
)

const (
	defaultInlinePrimitiveBytes = 32
	defaultInlineObjectSlots    = 4
	defaultMaxProperties        = 1 << 16
)

// Compaction selects what a RemoveProperty transition does with the
// storage the removed property occupied.
type Compaction uint8

const (
	// CompactionReuse re-allocates every property placed after the removed
	// one, so its slot and later extension indices are reused. Adding and
	// then removing a key returns the original shape.
	CompactionReuse Compaction = iota
	// CompactionTombstone retires the slot. Storage size never shrinks.
	CompactionTombstone
)

func (c Compaction) String() string {
	switch c {
	case CompactionReuse:
		return "reuse"
	case CompactionTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("compaction(%d)", uint8(c))
	}
}

// Config holds configuration for layout creation
type Config struct {
	// InlinePrimitiveBytes is the size of the unboxed inline area.
	// 0 means default (32). Negative disables unboxed storage.
	InlinePrimitiveBytes int

	// InlineObjectSlots is the number of inline boxed slots.
	// 0 means default (4). Negative disables inline boxed slots.
	InlineObjectSlots int

	// MaxProperties caps the constant set a root shape is built with.
	// Property adds are never capped; extension storage is unbounded.
	// 0 means default (65536).
	MaxProperties int

	// ImplicitCasts lists the widenings permitted when storing a value into
	// a primitive location of a different type.
	ImplicitCasts CastFlags

	// DisableConstants stores constant properties per instance instead of
	// folding them into the shape.
	DisableConstants bool

	// Compaction selects the RemoveProperty policy.
	Compaction Compaction
}

// resolved returns a copy with defaults applied. It reports every limit the
// configuration exceeds.
func (c *Config) resolved() (Config, error) {
	var out Config
	if c != nil {
		out = *c
	}
	switch {
	case out.InlinePrimitiveBytes == 0:
		out.InlinePrimitiveBytes = defaultInlinePrimitiveBytes
	case out.InlinePrimitiveBytes < 0:
		out.InlinePrimitiveBytes = 0
	}
	switch {
	case out.InlineObjectSlots == 0:
		out.InlineObjectSlots = defaultInlineObjectSlots
	case out.InlineObjectSlots < 0:
		out.InlineObjectSlots = 0
	}
	if out.MaxProperties <= 0 {
		out.MaxProperties = defaultMaxProperties
	}

	var err error
	if out.InlinePrimitiveBytes > MaxInlinePrimitiveBytes {
		err = multierr.Append(err, errors.LayoutExhausted(errors.PhaseLayout,
			"inline primitive area %d exceeds %d bytes", out.InlinePrimitiveBytes, MaxInlinePrimitiveBytes))
	}
	if out.InlineObjectSlots > MaxInlineObjectSlots {
		err = multierr.Append(err, errors.LayoutExhausted(errors.PhaseLayout,
			"inline object slots %d exceed %d", out.InlineObjectSlots, MaxInlineObjectSlots))
	}
	if out.MaxProperties > MaxPropertiesLimit {
		err = multierr.Append(err, errors.LayoutExhausted(errors.PhaseLayout,
			"max properties %d exceeds %d", out.MaxProperties, MaxPropertiesLimit))
	}
	if out.Compaction > CompactionTombstone {
		err = multierr.Append(err, errors.InvalidInput(errors.PhaseLayout,
			"unknown compaction policy "+out.Compaction.String()))
	}
	return out, err
}

// Layout is the per-template shape factory. It owns the transition graphs
// of every root it creates.
type Layout struct {
	key       any
	cfg       Config
	allocator *Allocator
	roots     sync.Map // rootKey -> *Shape
	nextID    atomic.Uint64
}

// ConstantProperty is one entry of the constant set baked into a root shape.
type ConstantProperty struct {
	Key   any
	Value any
	Flags Flags
}

// ShapeOptions describes a root shape.
type ShapeOptions struct {
	// DynamicType is a shape-level type tag shared by all instances.
	DynamicType any
	// SharedData is shape-level metadata shared by all instances.
	SharedData any
	// Flags is the initial shape flags word.
	Flags uint32
	// Constants are added in order, each as a constant property.
	Constants []ConstantProperty
	// SingleContext is attached to every shape of the root. Nil means a
	// fresh assumption per root.
	SingleContext *assumption.Assumption
}

type rootKey struct {
	dynamicType   any
	sharedData    any
	singleContext *assumption.Assumption
	flags         uint32
}

func newLayout(key any, cfg Config) *Layout {
	return &Layout{
		key: key,
		cfg: cfg,
		allocator: &Allocator{
			primitiveCap: cfg.InlinePrimitiveBytes,
			objectCap:    cfg.InlineObjectSlots,
			casts:        cfg.ImplicitCasts,
			constants:    !cfg.DisableConstants,
		},
	}
}

// Key returns the template identity the layout was created for.
func (l *Layout) Key() any { return l.key }

// Config returns the resolved configuration.
func (l *Layout) Config() Config { return l.cfg }

// Allocator returns the layout's location allocator.
func (l *Layout) Allocator() *Allocator { return l.allocator }

// ImplicitCasts returns the widenings the layout permits.
func (l *Layout) ImplicitCasts() CastFlags { return l.cfg.ImplicitCasts }

// InlinePrimitiveBytes returns the size instances allocate for the inline
// primitive area.
func (l *Layout) InlinePrimitiveBytes() int { return l.cfg.InlinePrimitiveBytes }

// InlineObjectSlots returns the number of inline boxed slots instances
// allocate.
func (l *Layout) InlineObjectSlots() int { return l.cfg.InlineObjectSlots }

// CreateShape returns the root shape for opts, with the constant set applied
// in the given order. Equal options return the same shape.
func (l *Layout) CreateShape(opts ShapeOptions) (*Shape, error) {
	if len(opts.Constants) > l.cfg.MaxProperties {
		return nil, errors.LayoutExhausted(errors.PhaseLayout,
			"%d constant properties exceed the limit of %d", len(opts.Constants), l.cfg.MaxProperties)
	}
	if len(opts.Constants) > 0 && l.cfg.DisableConstants {
		return nil, errors.Unsupported(errors.PhaseLayout, "constant properties on a layout with constants disabled")
	}
	if !isComparable(opts.DynamicType) || !isComparable(opts.SharedData) {
		return nil, errors.InvalidInput(errors.PhaseLayout, "dynamic type and shared data must be comparable")
	}

	rk := rootKey{
		dynamicType:   opts.DynamicType,
		sharedData:    opts.SharedData,
		singleContext: opts.SingleContext,
		flags:         opts.Flags,
	}
	root, ok := l.loadRoot(rk)
	if !ok {
		root = l.newRoot(rk)
	}

	s := root
	for _, c := range opts.Constants {
		next, err := s.AddConstantProperty(c.Key, c.Value, c.Flags)
		if err != nil {
			return nil, errors.New(errors.PhaseLayout, errors.KindInvalidInput).
				Key(c.Key).
				Detail("constant property").
				Cause(err).
				Build()
		}
		s = next
	}
	return s, nil
}

func (l *Layout) loadRoot(rk rootKey) (*Shape, bool) {
	v, ok := l.roots.Load(rk)
	if !ok {
		return nil, false
	}
	return v.(*Shape), true
}

func (l *Layout) newRoot(rk rootKey) *Shape {
	single := rk.singleContext
	if single == nil {
		single = assumption.New("single context")
	}
	t := newTree(l, rk.dynamicType, rk.sharedData, single)
	candidate := newRootShape(t, rk.flags)
	t.register(candidate)
	actual, loaded := l.roots.LoadOrStore(rk, candidate)
	root := actual.(*Shape)
	if !loaded {
		Logger().Debug("root shape created",
			zap.Any("layout", l.key),
			zap.Any("dynamic_type", rk.dynamicType),
			zap.Uint64("id", root.id))
	}
	return root
}

// Roots returns the root shapes created so far, ordered by ID.
func (l *Layout) Roots() []*Shape {
	var roots []*Shape
	l.roots.Range(func(_, v any) bool {
		roots = append(roots, v.(*Shape))
		return true
	})
	sort.Slice(roots, func(i, j int) bool { return roots[i].id < roots[j].id })
	return roots
}

func (l *Layout) String() string {
	return fmt.Sprintf("layout(%v)", l.key)
}

// SortConstants turns a constant map into the canonical ordered slice that
// CreateShape expects. Keys are ordered by their formatted representation,
// then by type name.
func SortConstants[K comparable](m map[K]ConstantProperty) []ConstantProperty {
	out := make([]ConstantProperty, 0, len(m))
	for k, c := range m {
		c.Key = k
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := fmt.Sprint(out[i].Key), fmt.Sprint(out[j].Key)
		if a != b {
			return a < b
		}
		return typeName(out[i].Key) < typeName(out[j].Key)
	})
	return out
}

// Factory creates and memoizes layouts by template key.
type Factory struct {
	layouts sync.Map // key -> *Layout
}

// NewFactory creates an empty layout factory.
func NewFactory() *Factory {
	return &Factory{}
}

// CreateLayout returns the layout for key, creating it on first use. The
// configuration of the first successful call wins; later calls return the
// cached layout. A nil cfg uses defaults.
func (f *Factory) CreateLayout(key any, cfg *Config) (*Layout, error) {
	if key == nil || !isComparable(key) {
		return nil, errors.InvalidInput(errors.PhaseLayout, "layout key must be a non-nil comparable value")
	}
	if v, ok := f.layouts.Load(key); ok {
		return v.(*Layout), nil
	}
	resolved, err := cfg.resolved()
	if err != nil {
		return nil, err
	}
	actual, loaded := f.layouts.LoadOrStore(key, newLayout(key, resolved))
	if !loaded {
		Logger().Debug("layout created",
			zap.Any("key", key),
			zap.Int("inline_primitive_bytes", resolved.InlinePrimitiveBytes),
			zap.Int("inline_object_slots", resolved.InlineObjectSlots),
			zap.Stringer("compaction", resolved.Compaction))
	}
	return actual.(*Layout), nil
}

// Layout returns the layout created for key, if any.
func (f *Factory) Layout(key any) (*Layout, bool) {
	if key == nil || !isComparable(key) {
		return nil, false
	}
	v, ok := f.layouts.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Layout), true
}

// Layouts returns every layout the factory has created.
func (f *Factory) Layouts() []*Layout {
	var out []*Layout
	f.layouts.Range(func(_, v any) bool {
		out = append(out, v.(*Layout))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i].key) < fmt.Sprint(out[j].key) })
	return out
}

var defaultFactory = NewFactory()

// DefaultFactory returns the process-wide layout factory.
func DefaultFactory() *Factory { return defaultFactory }

// CreateLayout creates a layout in the process-wide factory.
func CreateLayout(key any, cfg *Config) (*Layout, error) {
	return defaultFactory.CreateLayout(key, cfg)
}
