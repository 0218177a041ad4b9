// Package rbtree implements the ordered set of live address regions as an
// arena-backed red-black tree keyed by range start.
//
// Nodes are addressed by Handle (an index into the arena) rather than by
// pointer, so rotations and deletion splices only ever rewrite integer
// fields. Handle 0 is reserved as the shared nil sentinel and counts as
// black everywhere.
package rbtree

import "fmt"

// Handle references a node slot in the tree's arena. The zero Handle is
// the nil sentinel and never refers to a live node.
type Handle uint32

// Nil is the null handle.
const Nil Handle = 0

type color bool

const (
	red   color = false
	black color = true
)

// Item is the value stored at each node: a half-open virtual address
// range plus the payload-space base address of its backing buffer.
// Start is the tree key; Payload belongs to a separate address space and
// is never compared against Start.
type Item struct {
	Start   uint64
	End     uint64
	Payload uint64
}

func (it Item) String() string {
	return fmt.Sprintf("[%#x, %#x)", it.Start, it.End)
}

type node struct {
	item   Item
	parent Handle
	left   Handle
	right  Handle
	color  color
}

// Tree is a red-black tree of non-overlapping regions ordered by Start.
// It never allocates payload memory and performs no I/O; all operations
// are total given valid handles. It is not thread-safe.
type Tree struct {
	arena []node   // slot 0 is the nil sentinel
	gaps  []Handle // recycled arena slots
	root  Handle
	count int
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{arena: make([]node, 1), root: Nil}
}

// Len returns the number of live nodes.
func (t *Tree) Len() int { return t.count }

// Item returns the value stored at h.
func (t *Tree) Item(h Handle) Item {
	t.mustLive(h)
	return t.arena[h].item
}

// Alloc reserves an arena slot holding item and returns its handle. The
// node is not part of the tree until Insert is called with it.
func (t *Tree) Alloc(item Item) Handle {
	if item.Start >= item.End {
		panic("rbtree: item with empty or inverted range")
	}
	var h Handle
	if n := len(t.gaps); n > 0 {
		h = t.gaps[n-1]
		t.gaps = t.gaps[:n-1]
	} else {
		t.arena = append(t.arena, node{})
		h = Handle(len(t.arena) - 1)
	}
	t.arena[h] = node{item: item}
	return h
}

// Dealloc returns an unlinked slot to the arena. Only for nodes that were
// Alloc'd but never inserted; Delete releases linked nodes itself.
func (t *Tree) Dealloc(h Handle) {
	t.mustLive(h)
	t.release(h)
}

func (t *Tree) release(h Handle) {
	t.arena[h] = node{}
	t.gaps = append(t.gaps, h)
}

func (t *Tree) mustLive(h Handle) {
	if h == Nil || int(h) >= len(t.arena) {
		panic(fmt.Sprintf("rbtree: invalid handle %d", h))
	}
}

// Min returns the handle of the node with the smallest Start, or Nil if
// the tree is empty.
func (t *Tree) Min() Handle {
	return t.minimum(t.root)
}

func (t *Tree) minimum(h Handle) Handle {
	if h == Nil {
		return Nil
	}
	for t.arena[h].left != Nil {
		h = t.arena[h].left
	}
	return h
}

// Successor returns the handle of the node with the smallest Start
// greater than h's, or Nil if h is the maximum.
func (t *Tree) Successor(h Handle) Handle {
	t.mustLive(h)
	if r := t.arena[h].right; r != Nil {
		return t.minimum(r)
	}
	p := t.arena[h].parent
	for p != Nil && h == t.arena[p].right {
		h = p
		p = t.arena[p].parent
	}
	return p
}

// Find returns the handle of the node whose key equals start, or Nil.
func (t *Tree) Find(start uint64) Handle {
	h := t.root
	for h != Nil {
		switch k := t.arena[h].item.Start; {
		case start < k:
			h = t.arena[h].left
		case start > k:
			h = t.arena[h].right
		default:
			return h
		}
	}
	return Nil
}

// Ascend calls fn for each item in increasing Start order until fn
// returns false.
func (t *Tree) Ascend(fn func(Item) bool) {
	for h := t.Min(); h != Nil; h = t.Successor(h) {
		if !fn(t.arena[h].item) {
			return
		}
	}
}

// Insert links an Alloc'd node into the tree and rebalances. The caller
// must already have established that the node's range does not overlap
// any live region; a duplicate Start key is a programming error.
func (t *Tree) Insert(h Handle) {
	t.mustLive(h)
	key := t.arena[h].item.Start

	parent := Nil
	cursor := t.root
	for cursor != Nil {
		parent = cursor
		switch k := t.arena[cursor].item.Start; {
		case key < k:
			cursor = t.arena[cursor].left
		case key > k:
			cursor = t.arena[cursor].right
		default:
			panic(fmt.Sprintf("rbtree: duplicate key %#x", key))
		}
	}

	t.arena[h].parent = parent
	t.arena[h].left = Nil
	t.arena[h].right = Nil
	t.arena[h].color = red
	if parent == Nil {
		t.root = h
	} else if key < t.arena[parent].item.Start {
		t.arena[parent].left = h
	} else {
		t.arena[parent].right = h
	}
	t.count++
	t.insertFixup(h)
}

func (t *Tree) insertFixup(h Handle) {
	for t.colorOf(t.arena[h].parent) == red {
		parent := t.arena[h].parent
		grand := t.arena[parent].parent
		if parent == t.arena[grand].left {
			uncle := t.arena[grand].right
			if t.colorOf(uncle) == red {
				// Red uncle: push the violation up two levels.
				t.arena[parent].color = black
				t.arena[uncle].color = black
				t.arena[grand].color = red
				h = grand
				continue
			}
			if h == t.arena[parent].right {
				h = parent
				t.rotateLeft(h)
				parent = t.arena[h].parent
			}
			t.arena[parent].color = black
			t.arena[grand].color = red
			t.rotateRight(grand)
		} else {
			uncle := t.arena[grand].left
			if t.colorOf(uncle) == red {
				t.arena[parent].color = black
				t.arena[uncle].color = black
				t.arena[grand].color = red
				h = grand
				continue
			}
			if h == t.arena[parent].left {
				h = parent
				t.rotateRight(h)
				parent = t.arena[h].parent
			}
			t.arena[parent].color = black
			t.arena[grand].color = red
			t.rotateLeft(grand)
		}
	}
	t.arena[t.root].color = black
}

// Delete unlinks the node at h, rebalances, and returns the slot to the
// arena. The handle is invalid afterwards.
func (t *Tree) Delete(h Handle) {
	t.mustLive(h)

	// Two children: move the successor's value into h and splice the
	// successor instead. Only the Item moves; h keeps its identity.
	splice := h
	if t.arena[h].left != Nil && t.arena[h].right != Nil {
		splice = t.minimum(t.arena[h].right)
		t.arena[h].item = t.arena[splice].item
	}

	child := t.arena[splice].left
	if child == Nil {
		child = t.arena[splice].right
	}
	spliceColor := t.arena[splice].color
	t.transplant(splice, child)
	if spliceColor == black {
		t.deleteFixup(child)
	}

	t.release(splice)
	t.count--
	// The sentinel's parent may have been borrowed by transplant during
	// fixup; clear it so stale links never leak into later operations.
	t.arena[Nil] = node{}
}

// transplant replaces the subtree rooted at u with the one rooted at v.
// v may be Nil, in which case the sentinel's parent is set so that
// deleteFixup can still navigate upward from it.
func (t *Tree) transplant(u, v Handle) {
	p := t.arena[u].parent
	if p == Nil {
		t.root = v
	} else if u == t.arena[p].left {
		t.arena[p].left = v
	} else {
		t.arena[p].right = v
	}
	t.arena[v].parent = p
}

func (t *Tree) deleteFixup(h Handle) {
	for h != t.root && t.colorOf(h) == black {
		parent := t.arena[h].parent
		if h == t.arena[parent].left {
			sib := t.arena[parent].right
			if t.colorOf(sib) == red {
				t.arena[sib].color = black
				t.arena[parent].color = red
				t.rotateLeft(parent)
				sib = t.arena[parent].right
			}
			if t.colorOf(t.arena[sib].left) == black && t.colorOf(t.arena[sib].right) == black {
				t.arena[sib].color = red
				h = parent
				continue
			}
			if t.colorOf(t.arena[sib].right) == black {
				t.arena[t.arena[sib].left].color = black
				t.arena[sib].color = red
				t.rotateRight(sib)
				sib = t.arena[parent].right
			}
			t.arena[sib].color = t.arena[parent].color
			t.arena[parent].color = black
			t.arena[t.arena[sib].right].color = black
			t.rotateLeft(parent)
			h = t.root
		} else {
			sib := t.arena[parent].left
			if t.colorOf(sib) == red {
				t.arena[sib].color = black
				t.arena[parent].color = red
				t.rotateRight(parent)
				sib = t.arena[parent].left
			}
			if t.colorOf(t.arena[sib].left) == black && t.colorOf(t.arena[sib].right) == black {
				t.arena[sib].color = red
				h = parent
				continue
			}
			if t.colorOf(t.arena[sib].left) == black {
				t.arena[t.arena[sib].right].color = black
				t.arena[sib].color = red
				t.rotateLeft(sib)
				sib = t.arena[parent].left
			}
			t.arena[sib].color = t.arena[parent].color
			t.arena[parent].color = black
			t.arena[t.arena[sib].left].color = black
			t.rotateRight(parent)
			h = t.root
		}
	}
	if h != Nil {
		t.arena[h].color = black
	}
}

func (t *Tree) colorOf(h Handle) color {
	if h == Nil {
		return black
	}
	return t.arena[h].color
}

// rotateLeft lifts h's right child into h's place. The in-order sequence
// is unchanged.
//
//	  h              c
//	a   c    =>    h   y
//	  x y        a x
func (t *Tree) rotateLeft(h Handle) {
	c := t.arena[h].right
	t.arena[h].right = t.arena[c].left
	if t.arena[c].left != Nil {
		t.arena[t.arena[c].left].parent = h
	}
	t.arena[c].parent = t.arena[h].parent
	p := t.arena[h].parent
	if p == Nil {
		t.root = c
	} else if h == t.arena[p].left {
		t.arena[p].left = c
	} else {
		t.arena[p].right = c
	}
	t.arena[c].left = h
	t.arena[h].parent = c
}

// rotateRight is the mirror of rotateLeft.
func (t *Tree) rotateRight(h Handle) {
	c := t.arena[h].left
	t.arena[h].left = t.arena[c].right
	if t.arena[c].right != Nil {
		t.arena[t.arena[c].right].parent = h
	}
	t.arena[c].parent = t.arena[h].parent
	p := t.arena[h].parent
	if p == Nil {
		t.root = c
	} else if h == t.arena[p].right {
		t.arena[p].right = c
	} else {
		t.arena[p].left = c
	}
	t.arena[c].right = h
	t.arena[h].parent = c
}
