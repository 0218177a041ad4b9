package rbtree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkInvariants verifies the red-black and ordering properties over
// the whole tree: correct parent links, black root, no red-red edge,
// uniform black-height, and strictly increasing non-overlapping ranges.
func checkInvariants(t *testing.T, tree *Tree) {
	t.Helper()

	if tree.root == Nil {
		require.Equal(t, 0, tree.count, "empty tree with nonzero count")
		return
	}
	require.Equal(t, black, tree.arena[tree.root].color, "root must be black")
	require.Equal(t, Nil, tree.arena[tree.root].parent, "root must have no parent")

	seen := 0
	var walk func(h Handle) int
	walk = func(h Handle) int {
		if h == Nil {
			return 1 // nil children count as black
		}
		seen++
		n := tree.arena[h]
		if n.left != Nil {
			require.Equal(t, h, tree.arena[n.left].parent, "left child parent link broken at %v", n.item)
			require.Less(t, tree.arena[n.left].item.Start, n.item.Start, "left child out of order at %v", n.item)
		}
		if n.right != Nil {
			require.Equal(t, h, tree.arena[n.right].parent, "right child parent link broken at %v", n.item)
			require.Greater(t, tree.arena[n.right].item.Start, n.item.Start, "right child out of order at %v", n.item)
		}
		if n.color == red {
			require.Equal(t, black, tree.colorOf(n.left), "red-red edge below %v", n.item)
			require.Equal(t, black, tree.colorOf(n.right), "red-red edge below %v", n.item)
		}
		leftBH := walk(n.left)
		rightBH := walk(n.right)
		require.Equal(t, leftBH, rightBH, "black-height differs under %v", n.item)
		if n.color == black {
			return leftBH + 1
		}
		return leftBH
	}
	walk(tree.root)
	require.Equal(t, tree.count, seen, "count does not match reachable nodes")

	// In-order ranges must be strictly increasing and non-overlapping.
	prevEnd := uint64(0)
	tree.Ascend(func(it Item) bool {
		require.GreaterOrEqual(t, it.Start, prevEnd, "overlapping ranges at %v", it)
		require.Less(t, it.Start, it.End, "empty range %v", it)
		prevEnd = it.End
		return true
	})
}

func insertRange(t *testing.T, tree *Tree, start, end uint64) Handle {
	t.Helper()
	h := tree.Alloc(Item{Start: start, End: end, Payload: start})
	tree.Insert(h)
	return h
}

func TestTree_Empty(t *testing.T) {
	tree := New()
	assert.Equal(t, 0, tree.Len())
	assert.Equal(t, Nil, tree.Min())
	assert.Equal(t, Nil, tree.Find(42))
	checkInvariants(t, tree)
}

func TestTree_InsertAscending(t *testing.T) {
	tree := New()
	for i := uint64(0); i < 64; i++ {
		insertRange(t, tree, i*0x1000, (i+1)*0x1000)
		checkInvariants(t, tree)
	}
	assert.Equal(t, 64, tree.Len())

	var got []uint64
	tree.Ascend(func(it Item) bool {
		got = append(got, it.Start)
		return true
	})
	require.Len(t, got, 64)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
}

func TestTree_InsertDescending(t *testing.T) {
	tree := New()
	for i := uint64(64); i > 0; i-- {
		insertRange(t, tree, i*0x1000, (i+1)*0x1000)
		checkInvariants(t, tree)
	}
	assert.Equal(t, 64, tree.Len())
	assert.Equal(t, uint64(0x1000), tree.Item(tree.Min()).Start)
}

func TestTree_FindAndSuccessor(t *testing.T) {
	tree := New()
	starts := []uint64{0x5000, 0x1000, 0x9000, 0x3000, 0x7000}
	for _, s := range starts {
		insertRange(t, tree, s, s+0x1000)
	}

	h := tree.Find(0x3000)
	require.NotEqual(t, Nil, h)
	assert.Equal(t, uint64(0x3000), tree.Item(h).Start)
	assert.Equal(t, Nil, tree.Find(0x4000))

	// Walk the whole tree by successor.
	var order []uint64
	for h := tree.Min(); h != Nil; h = tree.Successor(h) {
		order = append(order, tree.Item(h).Start)
	}
	assert.Equal(t, []uint64{0x1000, 0x3000, 0x5000, 0x7000, 0x9000}, order)
}

func TestTree_DeleteLeafAndRoot(t *testing.T) {
	tree := New()
	insertRange(t, tree, 0x2000, 0x3000)
	leaf := insertRange(t, tree, 0x1000, 0x2000)

	tree.Delete(leaf)
	checkInvariants(t, tree)
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, Nil, tree.Find(0x1000))

	tree.Delete(tree.Find(0x2000))
	checkInvariants(t, tree)
	assert.Equal(t, 0, tree.Len())
	assert.Equal(t, Nil, tree.root)
}

func TestTree_DeleteTwoChildren(t *testing.T) {
	tree := New()
	for _, s := range []uint64{0x4000, 0x2000, 0x6000, 0x1000, 0x3000, 0x5000, 0x7000} {
		insertRange(t, tree, s, s+0x1000)
	}

	// 0x4000 has two children; its successor's value moves into place.
	tree.Delete(tree.Find(0x4000))
	checkInvariants(t, tree)
	assert.Equal(t, Nil, tree.Find(0x4000))
	require.NotEqual(t, Nil, tree.Find(0x5000))
	assert.Equal(t, 6, tree.Len())
}

func TestTree_ArenaSlotReuse(t *testing.T) {
	tree := New()
	h1 := insertRange(t, tree, 0x1000, 0x2000)
	tree.Delete(h1)

	h2 := insertRange(t, tree, 0x2000, 0x3000)
	assert.Equal(t, h1, h2, "freed arena slot should be recycled")
	checkInvariants(t, tree)
}

func TestTree_AllocWithoutInsert(t *testing.T) {
	tree := New()
	h := tree.Alloc(Item{Start: 0x1000, End: 0x2000})
	assert.Equal(t, 0, tree.Len(), "Alloc must not link the node")
	tree.Dealloc(h)
	checkInvariants(t, tree)
}

func TestTree_PanicsOnBadUse(t *testing.T) {
	tree := New()
	insertRange(t, tree, 0x1000, 0x2000)

	assert.Panics(t, func() {
		h := tree.Alloc(Item{Start: 0x1000, End: 0x3000})
		tree.Insert(h) // duplicate key
	})
	assert.Panics(t, func() { tree.Alloc(Item{Start: 5, End: 5}) })
	assert.Panics(t, func() { tree.Item(Nil) })
}

func TestTree_RandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tree := New()
	model := map[uint64]bool{}

	for i := 0; i < 3000; i++ {
		if len(model) == 0 || rng.Intn(3) != 0 {
			start := uint64(rng.Intn(10000)) * 0x1000
			if model[start] {
				continue
			}
			insertRange(t, tree, start, start+0x1000)
			model[start] = true
		} else {
			var victim uint64
			for k := range model {
				victim = k
				break
			}
			tree.Delete(tree.Find(victim))
			delete(model, victim)
		}

		if i%50 == 0 {
			checkInvariants(t, tree)
			require.Equal(t, len(model), tree.Len())
		}
	}
	checkInvariants(t, tree)

	want := make([]uint64, 0, len(model))
	for k := range model {
		want = append(want, k)
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	got := make([]uint64, 0, tree.Len())
	tree.Ascend(func(it Item) bool {
		got = append(got, it.Start)
		return true
	})
	assert.Equal(t, want, got)
}

func BenchmarkInsertDelete(b *testing.B) {
	tree := New()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := uint64(i) * 0x1000
		h := tree.Alloc(Item{Start: start, End: start + 0x1000})
		tree.Insert(h)
		if i%2 == 1 {
			tree.Delete(tree.Find(start - 0x1000))
		}
	}
}
