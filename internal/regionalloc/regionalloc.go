// Package regionalloc hands out non-overlapping, page-aligned address
// ranges from a bounded virtual address space, first-fit in address
// order. Live regions are tracked in an arena-backed red-black tree; the
// backing buffer for each region lives in a separate payload address
// space with its own reverse-lookup index, so a caller's pointer can be
// resolved back to its owning region without touching the key-ordered
// search path.
package regionalloc

import (
	"fmt"
	"iter"

	"github.com/google/btree"

	"github.com/garethgeorge/govaspace/internal/rbtree"
)

// Ptr is an opaque payload-space address returned by Allocate. The zero
// Ptr never refers to a live allocation.
type Ptr uint64

const NilPtr Ptr = 0

// Config fixes an allocator's address space at construction.
type Config struct {
	PageSize uint64 // must be a power of two
	Start    uint64 // inclusive, page aligned
	End      uint64 // exclusive, page aligned, > Start
}

func (c Config) Validate() error {
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page size %#x is not a power of two", c.PageSize)
	}
	if c.Start >= c.End {
		return fmt.Errorf("address space [%#x, %#x) is empty or inverted", c.Start, c.End)
	}
	if c.Start%c.PageSize != 0 || c.End%c.PageSize != 0 {
		return fmt.Errorf("address space [%#x, %#x) is not aligned to page size %#x", c.Start, c.End, c.PageSize)
	}
	return nil
}

// Region is a caller-visible view of one live allocation.
type Region struct {
	Start uint64
	End   uint64
	Ptr   Ptr
}

func (r Region) Size() uint64 {
	return r.End - r.Start
}

// payloadSpan is one entry of the reverse-lookup index, keyed by the
// payload-space base address of a live buffer.
type payloadSpan struct {
	base  uint64
	size  uint64
	start uint64 // virtual Start key of the owning region
	data  []byte
}

// Allocator is a first-fit interval allocator over one address space.
// It is not thread-safe; see Locked.
type Allocator struct {
	TotalSpace     uint64
	FreeSpace      uint64
	AllocatedSpace uint64

	cfg      Config
	tree     *rbtree.Tree
	payloads *btree.BTreeG[payloadSpan]
	provider BufferProvider
}

// New creates an allocator with heap-backed buffers.
func New(cfg Config) (*Allocator, error) {
	return NewWithProvider(cfg, NewHeapProvider())
}

// NewWithProvider creates an allocator that obtains backing buffers from
// the given provider.
func NewWithProvider(cfg Config, provider BufferProvider) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	total := cfg.End - cfg.Start
	return &Allocator{
		TotalSpace: total,
		FreeSpace:  total,
		cfg:        cfg,
		tree:       rbtree.New(),
		payloads: btree.NewG[payloadSpan](32, func(a, b payloadSpan) bool {
			return a.base < b.base
		}),
		provider: provider,
	}, nil
}

// Config returns the address space bounds the allocator was built with.
func (a *Allocator) Config() Config { return a.cfg }

// Len returns the number of live regions.
func (a *Allocator) Len() int { return a.tree.Len() }

// roundToPages rounds size up to the next page boundary. A zero size or
// a size that overflows when rounded is reported as ErrInvalidSize.
func (a *Allocator) roundToPages(size uint64) (uint64, error) {
	if size == 0 {
		return 0, ErrInvalidSize
	}
	rounded := (size + a.cfg.PageSize - 1) &^ (a.cfg.PageSize - 1)
	if rounded < size {
		return 0, ErrInvalidSize
	}
	return rounded, nil
}

// Allocate reserves the first gap of at least size bytes (rounded up to
// the page size) and returns a pointer to its backing buffer.
func (a *Allocator) Allocate(size uint64) (Ptr, error) {
	size, err := a.roundToPages(size)
	if err != nil {
		return NilPtr, err
	}

	// First-fit: walk regions in address order tracking the end of the
	// previous one as the candidate start.
	candidate := a.cfg.Start
	found := false
	a.tree.Ascend(func(it rbtree.Item) bool {
		if it.Start-candidate >= size {
			found = true
			return false
		}
		candidate = it.End
		return true
	})
	if !found && a.cfg.End-candidate < size {
		return NilPtr, ErrOutOfAddressSpace
	}

	buf, err := a.provider.Obtain(size)
	if err != nil {
		return NilPtr, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	a.insertRegion(candidate, candidate+size, buf)
	return Ptr(buf.Base), nil
}

// Reserve places a region at an exact page-aligned address if the range
// [start, start+size) is within bounds and entirely free.
func (a *Allocator) Reserve(start, size uint64) (Ptr, error) {
	size, err := a.roundToPages(size)
	if err != nil {
		return NilPtr, err
	}
	if start%a.cfg.PageSize != 0 {
		return NilPtr, ErrInvalidSize
	}
	if start < a.cfg.Start || start > a.cfg.End || a.cfg.End-start < size {
		return NilPtr, ErrOutOfAddressSpace
	}
	end := start + size

	conflict := false
	a.tree.Ascend(func(it rbtree.Item) bool {
		if it.Start >= end {
			return false
		}
		if it.End > start {
			conflict = true
			return false
		}
		return true
	})
	if conflict {
		return NilPtr, ErrRangeBusy
	}

	buf, err := a.provider.Obtain(size)
	if err != nil {
		return NilPtr, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	a.insertRegion(start, end, buf)
	return Ptr(buf.Base), nil
}

func (a *Allocator) insertRegion(start, end uint64, buf Buffer) {
	h := a.tree.Alloc(rbtree.Item{Start: start, End: end, Payload: buf.Base})
	a.tree.Insert(h)
	a.payloads.ReplaceOrInsert(payloadSpan{
		base:  buf.Base,
		size:  end - start,
		start: start,
		data:  buf.Data,
	})
	a.FreeSpace -= end - start
	a.AllocatedSpace += end - start
}

// Free releases the region owning p. A nil pointer is a no-op; a pointer
// that does not fall inside any live buffer (including one freed
// already) is reported as ErrInvalidFree and leaves all state untouched.
func (a *Allocator) Free(p Ptr) error {
	if p == NilPtr {
		return nil
	}
	span, ok := a.lookupSpan(uint64(p))
	if !ok {
		return ErrInvalidFree
	}

	h := a.tree.Find(span.start)
	if h == rbtree.Nil {
		panic(fmt.Sprintf("regionalloc: payload index entry %#x has no region at %#x", span.base, span.start))
	}
	a.tree.Delete(h)
	a.payloads.Delete(span)
	a.FreeSpace += span.size
	a.AllocatedSpace -= span.size

	if err := a.provider.Release(Buffer{Base: span.base, Data: span.data}); err != nil {
		return fmt.Errorf("release buffer %#x: %w", span.base, err)
	}
	return nil
}

// Bytes returns the live buffer bytes from p to the end of its region.
// For a Ptr returned by Allocate this is the whole backing buffer.
func (a *Allocator) Bytes(p Ptr) ([]byte, error) {
	span, ok := a.lookupSpan(uint64(p))
	if !ok {
		return nil, ErrInvalidFree
	}
	return span.data[uint64(p)-span.base:], nil
}

// lookupSpan resolves a payload-space address, possibly interior, to the
// span containing it.
func (a *Allocator) lookupSpan(addr uint64) (payloadSpan, bool) {
	var span payloadSpan
	var found bool
	a.payloads.DescendLessOrEqual(payloadSpan{base: addr}, func(item payloadSpan) bool {
		if addr-item.base < item.size {
			span = item
			found = true
		}
		return false
	})
	return span, found
}

// Regions yields live regions in increasing address order.
func (a *Allocator) Regions() iter.Seq[Region] {
	return func(yield func(Region) bool) {
		a.tree.Ascend(func(it rbtree.Item) bool {
			return yield(Region{Start: it.Start, End: it.End, Ptr: Ptr(it.Payload)})
		})
	}
}
