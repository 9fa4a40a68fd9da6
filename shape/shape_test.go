package shape

import (
	stderrors "errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/wippyai/objectmodel/errors"
)

func mustShape(t *testing.T) func(*Shape, error) *Shape {
	return func(s *Shape, err error) *Shape {
		t.Helper()
		if err != nil {
			t.Fatalf("transition failed: %v", err)
		}
		return s
	}
}

func TestShape_PointScenario(t *testing.T) {
	l := newTestLayout(t, nil)
	r, err := l.CreateShape(ShapeOptions{
		DynamicType: "Point",
		Constants:   []ConstantProperty{{Key: "type", Value: "Point", Flags: FlagConstant}},
	})
	if err != nil {
		t.Fatal(err)
	}

	p, ok := r.Lookup("type")
	if !ok || p.Location().Kind() != LocationConstant || p.Location().Constant() != "Point" {
		t.Fatalf("type = %v", p)
	}

	s1 := mustShape(t)(r.AddProperty("x", TypeInt64, 0))
	loc, _ := s1.Location("x")
	if loc.Kind() != LocationPrimitive || loc.Type() != TypeInt64 {
		t.Fatalf("x at %s, want inline int64", loc)
	}

	other := mustShape(t)(r.AddProperty("x", TypeInt64, 0))
	if other != s1 {
		t.Fatal("identical add from the same root produced a different shape")
	}

	s2 := mustShape(t)(s1.AddProperty("y", TypeInt64, 0))
	s3 := mustShape(t)(s2.RemoveProperty("x"))
	if s3 == r {
		t.Fatal("removing x returned to the root while y is still present")
	}
	keys := s3.Keys()
	if len(keys) != 2 || keys[0] != "type" || keys[1] != "y" {
		t.Fatalf("keys after removing x = %v, want [type y]", keys)
	}
	if s3.Has("x") {
		t.Fatal("x still present")
	}

	direct := mustShape(t)(r.AddProperty("y", TypeInt64, 0))
	if s3 != direct {
		t.Fatalf("compacted shape %s differs from direct shape %s", s3, direct)
	}
}

func TestShape_StructuralSharing(t *testing.T) {
	root := newTestRoot(t, nil)
	type step struct {
		remove bool
		key    string
		typ    Type
	}
	seq := []step{
		{key: "a", typ: TypeInt32},
		{key: "b", typ: TypeObject},
		{key: "c", typ: TypeFloat64},
		{remove: true, key: "a"},
		{key: "d", typ: TypeBool},
		{remove: true, key: "c"},
	}
	run := func() *Shape {
		s := root
		for _, st := range seq {
			var err error
			if st.remove {
				s, err = s.RemoveProperty(st.key)
			} else {
				s, err = s.AddProperty(st.key, st.typ, 0)
			}
			if err != nil {
				t.Fatalf("%+v: %v", st, err)
			}
		}
		return s
	}
	s1, s2 := run(), run()
	if s1 != s2 {
		t.Fatal("same sequence produced different shapes")
	}
	if got := fmt.Sprint(s1.Keys()); got != "[b d]" {
		t.Fatalf("keys = %s", got)
	}
}

func TestShape_ConcurrentTransitions(t *testing.T) {
	root := newTestRoot(t, nil)
	const workers = 32

	results := make([]*Shape, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			s := root
			for _, k := range []string{"a", "b", "c", "d"} {
				next, err := s.AddProperty(k, TypeInt64, 0)
				if err != nil {
					t.Error(err)
					return
				}
				s = next
			}
			next, err := s.RemoveProperty("b")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = next
		}(i)
	}
	close(start)
	wg.Wait()

	for i, s := range results {
		if s != results[0] {
			t.Fatalf("worker %d got %v, worker 0 got %v", i, s, results[0])
		}
	}
	if root.TransitionCount() != 1 {
		t.Fatalf("root has %d edges, want 1", root.TransitionCount())
	}
}

func TestShape_Immutability(t *testing.T) {
	root := newTestRoot(t, nil)
	s := mustShape(t)(root.AddProperty("a", TypeInt64, 0))
	s = mustShape(t)(s.AddProperty("b", TypeObject, FlagHidden))

	before := s.Properties()
	size := s.Size()

	mustShape(t)(s.AddProperty("c", TypeBool, 0))
	mustShape(t)(s.RemoveProperty("a"))
	mustShape(t)(s.ChangeLocation("a", "boxed"))
	mustShape(t)(s.SetPropertyFlags("b", FlagReadOnly))
	mustShape(t)(s.SetFlags(7))

	after := s.Properties()
	if len(before) != len(after) || s.Size() != size {
		t.Fatal("shape changed after transitions")
	}
	for i := range before {
		if before[i] != after[i] || !before[i].Equal(after[i]) {
			t.Fatalf("property %d changed: %s -> %s", i, before[i], after[i])
		}
	}
	if s.TransitionCount() != 5 {
		t.Fatalf("TransitionCount = %d, want 5", s.TransitionCount())
	}
}

func TestShape_RoundTrip(t *testing.T) {
	t.Run("reuse", func(t *testing.T) {
		root := newTestRoot(t, nil)
		base := mustShape(t)(root.AddProperty("a", TypeObject, 0))
		added := mustShape(t)(base.AddProperty("k", TypeInt64, 0))
		back := mustShape(t)(added.RemoveProperty("k"))
		if back != base {
			t.Fatalf("round trip returned %s, want %s", back, base)
		}
		if back.Parent() != root {
			t.Fatal("round trip replaced the original parent link")
		}
	})

	t.Run("tombstone", func(t *testing.T) {
		root := newTestRoot(t, &Config{Compaction: CompactionTombstone})
		base := mustShape(t)(root.AddProperty("a", TypeObject, 0))
		added := mustShape(t)(base.AddProperty("k", TypeInt64, 0))
		back := mustShape(t)(added.RemoveProperty("k"))
		if back == base {
			t.Fatal("tombstone round trip reclaimed the slot")
		}
		if _, ok := back.Lookup("k"); ok {
			t.Fatal("removed key still visible")
		}
		if back.Size() != added.Size() {
			t.Fatalf("size %s, want %s", back.Size(), added.Size())
		}
		if !back.Size().Covers(base.Size()) {
			t.Fatal("tombstone shrank storage")
		}
	})
}

func TestShape_ReuseCompactsExtensions(t *testing.T) {
	root := newTestRoot(t, &Config{InlinePrimitiveBytes: -1, InlineObjectSlots: -1})
	s := root
	for _, k := range []string{"a", "b", "c"} {
		s = mustShape(t)(s.AddProperty(k, TypeObject, 0))
	}
	s = mustShape(t)(s.RemoveProperty("a"))
	for i, k := range []string{"b", "c"} {
		loc, _ := s.Location(k)
		if loc.Kind() != LocationExtension || loc.Index() != i {
			t.Fatalf("%s at %s, want extension(%d)", k, loc, i)
		}
	}
	if s.Size().ExtensionSlots != 2 {
		t.Fatalf("size = %s", s.Size())
	}
}

func TestShape_ReuseKeepsGeneralizedSlots(t *testing.T) {
	root := newTestRoot(t, &Config{InlinePrimitiveBytes: -1, InlineObjectSlots: 8})
	s := mustShape(t)(root.AddProperty("a", TypeObject, 0))
	s = mustShape(t)(s.AddProperty("b", TypeObject, 0))
	s = mustShape(t)(s.ChangeLocation("a", "x"))
	// a is boxed, so its location does not change.
	locA, _ := s.Location("a")
	if locA.Index() != 0 {
		t.Fatalf("a at %s", locA)
	}

	c := mustShape(t)(root.AddConstantProperty("c", int64(1), 0))
	c = mustShape(t)(c.AddProperty("d", TypeObject, 0))
	c = mustShape(t)(c.AddProperty("e", TypeObject, 0))
	c = mustShape(t)(c.ChangeLocation("c", "moved"))
	c = mustShape(t)(c.RemoveProperty("d"))

	locs := map[string]*Location{}
	for _, k := range []string{"c", "e"} {
		locs[k], _ = c.Location(k)
	}
	if locs["c"].Equal(locs["e"]) {
		t.Fatalf("c and e share %s", locs["c"])
	}
	if locs["e"].Index() != 0 || locs["c"].Index() != 1 {
		t.Fatalf("c at %s, e at %s", locs["c"], locs["e"])
	}
}

func TestShape_AddExisting(t *testing.T) {
	root := newTestRoot(t, nil)
	s := mustShape(t)(root.AddPropertyValue("a", int64(1), 0))

	if same := mustShape(t)(s.DefineProperty("a", int64(2), 0)); same != s {
		t.Fatal("redefining with a fitting value should be a no-op")
	}

	ro := mustShape(t)(s.DefineProperty("a", int64(2), FlagReadOnly))
	p, _ := ro.Lookup("a")
	orig, _ := s.Lookup("a")
	if !p.IsReadOnly() || !p.Location().Equal(orig.Location()) {
		t.Fatalf("flag change: %s", p)
	}

	boxed := mustShape(t)(s.DefineProperty("a", "str", 0))
	loc, _ := boxed.Location("a")
	if loc.Kind() != LocationObject {
		t.Fatalf("a at %s after storing a string", loc)
	}
	if boxed.PropertyCount() != 1 {
		t.Fatalf("PropertyCount = %d", boxed.PropertyCount())
	}
}

func TestShape_Generalize(t *testing.T) {
	t.Run("boxes without casts", func(t *testing.T) {
		root := newTestRoot(t, nil)
		s := mustShape(t)(root.AddProperty("n", TypeInt32, 0))
		g := mustShape(t)(s.ChangeLocation("n", int64(1)))
		loc, _ := g.Location("n")
		if loc.Kind() != LocationObject {
			t.Fatalf("n at %s, want object slot", loc)
		}
		if mustShape(t)(s.ChangeLocation("n", int32(5))) != s {
			t.Fatal("fitting value should not generalize")
		}
	})

	t.Run("widens with casts", func(t *testing.T) {
		root := newTestRoot(t, &Config{ImplicitCasts: CastIntToLong})
		s := mustShape(t)(root.AddProperty("n", TypeInt32, 0))
		g := mustShape(t)(s.ChangeLocation("n", int64(1)))
		loc, _ := g.Location("n")
		if loc.Kind() != LocationPrimitive || loc.Type() != TypeInt64 || loc.Index() != 8 {
			t.Fatalf("n at %s, want int64 at 8", loc)
		}
		if g.Size().PrimitiveBytes != 16 {
			t.Fatalf("size = %s", g.Size())
		}
	})
}

func TestShape_Errors(t *testing.T) {
	root := newTestRoot(t, nil)

	if _, err := root.RemoveProperty("missing"); !stderrors.Is(err, errors.ErrNoSuchProperty) {
		t.Errorf("RemoveProperty missing = %v", err)
	}
	if _, err := root.SetPropertyFlags("missing", FlagHidden); !stderrors.Is(err, errors.ErrNoSuchProperty) {
		t.Errorf("SetPropertyFlags missing = %v", err)
	}
	if _, err := root.ChangeLocation("missing", 1); !stderrors.Is(err, errors.ErrNoSuchProperty) {
		t.Errorf("ChangeLocation missing = %v", err)
	}
	if _, err := root.AddProperty([]int{1}, TypeObject, 0); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("slice key = %v", err)
	}
	if _, err := root.AddProperty(nil, TypeObject, 0); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("nil key = %v", err)
	}
	if _, err := root.AddConstantProperty("k", []int{1}, 0); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("slice constant = %v", err)
	}
	if root.TransitionCount() != 0 {
		t.Fatal("failed transitions published edges")
	}
}

func TestShape_AddNeverExhausts(t *testing.T) {
	root := newTestRoot(t, &Config{MaxProperties: 2, InlinePrimitiveBytes: -1, InlineObjectSlots: -1})
	s := root
	for i := 0; i < 10; i++ {
		s = mustShape(t)(s.AddProperty(i, TypeInt64, 0))
	}
	if s.PropertyCount() != 10 || s.Size().ExtensionSlots != 10 {
		t.Fatalf("count %d size %s", s.PropertyCount(), s.Size())
	}
	loc, _ := s.Location(9)
	if loc.Kind() != LocationExtension || loc.Index() != 9 {
		t.Fatalf("last property at %s", loc)
	}
}

func TestShape_Flags(t *testing.T) {
	root := newTestRoot(t, nil)
	s := mustShape(t)(root.SetFlags(3))
	if s.Flags() != 3 || s == root {
		t.Fatalf("Flags = %d", s.Flags())
	}
	if mustShape(t)(s.SetFlags(3)) != s {
		t.Fatal("setting the same flags should be a no-op")
	}
	if mustShape(t)(s.SetFlags(0)) != root {
		t.Fatal("restoring the flags should return the root")
	}

	a := mustShape(t)(root.AddProperty("a", TypeObject, 0))
	h := mustShape(t)(a.SetPropertyFlags("a", FlagHidden))
	if len(h.Keys()) != 0 || h.PropertyCount() != 1 {
		t.Fatalf("hidden property visible: %v", h.Keys())
	}
}

func TestShape_LeafAssumption(t *testing.T) {
	root := newTestRoot(t, nil)
	s := mustShape(t)(root.AddProperty("a", TypeObject, 0))
	leaf := s.LeafAssumption()
	if !leaf.IsValid() {
		t.Fatal("fresh shape should be a leaf")
	}
	mustShape(t)(s.AddProperty("b", TypeObject, 0))
	if leaf.IsValid() {
		t.Fatal("leaf assumption survived the first transition")
	}
	if root.LeafAssumption().IsValid() {
		t.Fatal("root with transitions reported as leaf")
	}
}

func TestShape_PropertyAssumption(t *testing.T) {
	l := newTestLayout(t, nil)
	r, _ := l.CreateShape(ShapeOptions{Constants: []ConstantProperty{{Key: "type", Value: "Point"}}})

	a := r.PropertyAssumption("type")
	if !a.IsValid() {
		t.Fatal("constant property assumption should start valid")
	}
	if r.PropertyAssumption("type") != a {
		t.Fatal("PropertyAssumption not cached")
	}

	mustShape(t)(r.AddProperty("x", TypeInt64, 0))
	if !a.IsValid() {
		t.Fatal("unrelated transition invalidated the constant")
	}

	g := mustShape(t)(r.ChangeLocation("type", "Line"))
	if a.IsValid() {
		t.Fatal("generalizing the constant did not invalidate its assumption")
	}
	if g.PropertyAssumption("type").IsValid() {
		t.Fatal("non-constant property reported as constant")
	}
	if r.PropertyAssumption("type").IsValid() {
		t.Fatal("assumption revalidated")
	}
}

func TestShape_TransitionsAndWalk(t *testing.T) {
	root := newTestRoot(t, nil)
	a := mustShape(t)(root.AddProperty("a", TypeInt64, 0))
	b := mustShape(t)(root.AddProperty("b", TypeInt64, 0))
	ab := mustShape(t)(a.AddProperty("b", TypeInt64, 0))

	edges := root.Transitions()
	if len(edges) != 2 || edges[0].Target != a || edges[1].Target != b {
		t.Fatalf("edges = %v", edges)
	}
	if edges[0].Op.Kind != OpAddProperty || edges[0].Op.Key != "a" || edges[0].Op.Type != TypeInt64 {
		t.Fatalf("edge op = %s", edges[0].Op)
	}

	var visited []*Shape
	root.Walk(func(depth int, via *Edge, s *Shape) bool {
		if (depth == 0) != (via == nil) {
			t.Errorf("depth %d with edge %v", depth, via)
		}
		visited = append(visited, s)
		return true
	})
	if len(visited) != 4 || visited[2] != ab {
		t.Fatalf("visited %d shapes", len(visited))
	}
	if root.GraphSize() != 4 {
		t.Fatalf("GraphSize = %d", root.GraphSize())
	}
	if a.ID() == b.ID() || a.ID() == 0 || root.ID() == 0 {
		t.Fatal("shape IDs not unique")
	}
}

func TestShape_PrimitiveAt(t *testing.T) {
	root := newTestRoot(t, nil)
	s := mustShape(t)(root.AddProperty("flag", TypeBool, 0))
	s = mustShape(t)(s.AddProperty("n", TypeInt64, 0))
	p, ok := s.PrimitiveAt(8)
	if !ok || p.Key() != "n" {
		t.Fatalf("PrimitiveAt(8) = %v", p)
	}
	if _, ok := s.PrimitiveAt(4); ok {
		t.Fatal("PrimitiveAt(4) found a property")
	}
}

type celsius float64

func TestShape_FloatConstants(t *testing.T) {
	t.Run("nan", func(t *testing.T) {
		root := newTestRoot(t, nil)
		first := mustShape(t)(root.AddConstantProperty("k", math.NaN(), 0))
		for i := 0; i < 3; i++ {
			if again := mustShape(t)(root.AddConstantProperty("k", math.NaN(), 0)); again != first {
				t.Fatalf("repeat %d returned a different child", i)
			}
		}
		if root.TransitionCount() != 1 || root.GraphSize() != 2 {
			t.Fatalf("edges %d graph %d", root.TransitionCount(), root.GraphSize())
		}
		if same := mustShape(t)(first.AddConstantProperty("k", math.NaN(), 0)); same != first {
			t.Fatal("re-adding the same NaN constant changed the shape")
		}
		if v, ok := root.Transitions()[0].Op.Value.(float64); !ok || !math.IsNaN(v) {
			t.Fatalf("edge value = %v", root.Transitions()[0].Op.Value)
		}
	})

	t.Run("signed zero", func(t *testing.T) {
		root := newTestRoot(t, nil)
		pos := mustShape(t)(root.AddConstantProperty("k", 0.0, 0))
		neg := mustShape(t)(root.AddConstantProperty("k", math.Copysign(0, -1), 0))
		if pos == neg {
			t.Fatal("-0 reused the +0 edge")
		}
		loc, _ := neg.Location("k")
		if v := loc.Constant().(float64); !math.Signbit(v) {
			t.Fatalf("constant lost its sign: %v", v)
		}
		if again := mustShape(t)(root.AddConstantProperty("k", math.Copysign(0, -1), 0)); again != neg {
			t.Fatal("-0 constant is not deterministic")
		}
	})

	t.Run("named type", func(t *testing.T) {
		root := newTestRoot(t, nil)
		s := mustShape(t)(root.AddConstantProperty("k", celsius(21.5), 0))
		if v, ok := root.Transitions()[0].Op.Value.(celsius); !ok || v != 21.5 {
			t.Fatalf("edge value = %#v", root.Transitions()[0].Op.Value)
		}
		if mustShape(t)(root.AddConstantProperty("k", 21.5, 0)) == s {
			t.Fatal("float64 constant matched a celsius constant")
		}
	})

	t.Run("nan key", func(t *testing.T) {
		root := newTestRoot(t, nil)
		if _, err := root.AddProperty(math.NaN(), TypeObject, 0); !errors.IsKind(err, errors.KindInvalidInput) {
			t.Fatalf("err = %v, want InvalidInput", err)
		}
	})
}
