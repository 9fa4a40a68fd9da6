package shape

import (
	"hash/maphash"
	"sync"

	"github.com/wippyai/objectmodel/assumption"
)

var digestSeed = maphash.MakeSeed()

// tree is the transition graph of one root shape. It owns the hash-consing
// table that guarantees a single Shape per structural equivalence class.
type tree struct {
	layout        *Layout
	dynamicType   any
	sharedData    any
	singleContext *assumption.Assumption

	mu     sync.Mutex
	shapes map[uint64][]*Shape
	count  int
}

func newTree(l *Layout, dynamicType, sharedData any, single *assumption.Assumption) *tree {
	return &tree{
		layout:        l,
		dynamicType:   dynamicType,
		sharedData:    sharedData,
		singleContext: single,
		shapes:        make(map[uint64][]*Shape),
	}
}

// register adds a shape that is known to be new. Used for roots.
func (t *tree) register(s *Shape) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.id = t.layout.nextID.Add(1)
	t.shapes[s.digest] = append(t.shapes[s.digest], s)
	t.count++
}

// intern returns the registered shape structurally equal to candidate, or
// registers candidate. The boolean reports whether candidate was registered.
func (t *tree) intern(candidate *Shape) (*Shape, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.shapes[candidate.digest] {
		if s.structurallyEqual(candidate) {
			return s, false
		}
	}
	candidate.id = t.layout.nextID.Add(1)
	t.shapes[candidate.digest] = append(t.shapes[candidate.digest], candidate)
	t.count++
	return candidate, true
}

// size returns the number of distinct shapes in the graph.
func (t *tree) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// digest hashes everything structurallyEqual compares. Keys and constants
// are comparable, checked before a candidate is built.
func digest(flags uint32, size StorageSize, props []*Property, marks []StorageSize) uint64 {
	var h maphash.Hash
	h.SetSeed(digestSeed)
	writeInt(&h, int(flags))
	writeSize(&h, size)
	for i, p := range props {
		maphash.WriteComparable(&h, p.key)
		writeInt(&h, int(p.flags))
		writeInt(&h, int(p.location.kind))
		writeInt(&h, int(p.location.typ))
		writeInt(&h, p.location.index)
		if p.location.kind == LocationConstant {
			maphash.WriteComparable(&h, constantKey(p.location.constant))
		}
		writeSize(&h, marks[i])
	}
	return h.Sum64()
}

func writeSize(h *maphash.Hash, s StorageSize) {
	writeInt(h, s.PrimitiveBytes)
	writeInt(h, s.ObjectSlots)
	writeInt(h, s.ExtensionSlots)
}

func writeInt(h *maphash.Hash, v int) {
	var buf [8]byte
	u := uint64(v)
	for i := range buf {
		buf[i] = byte(u >> (8 * i))
	}
	h.Write(buf[:])
}
