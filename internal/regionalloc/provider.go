package regionalloc

import "fmt"

// Buffer is a backing buffer for one region. Base is the buffer's
// address in the provider's payload space; it has no relationship to the
// virtual address the region occupies.
type Buffer struct {
	Base uint64
	Data []byte
}

// BufferProvider obtains and releases backing buffers. Base addresses
// handed out for live buffers must be non-zero and non-overlapping so
// that interior pointers resolve to exactly one buffer.
type BufferProvider interface {
	Obtain(size uint64) (Buffer, error)
	Release(b Buffer) error
}

// HeapProvider backs buffers with ordinary heap slices and assigns Base
// addresses from a monotonic counter. Addresses are never reused, which
// keeps stale pointers detectable for the lifetime of the provider.
type HeapProvider struct {
	next uint64
	live int
}

var _ BufferProvider = (*HeapProvider)(nil)

// heapBase is the first payload address a HeapProvider hands out. Kept
// away from zero so NilPtr can never alias a live buffer.
const heapBase = 1 << 12

func NewHeapProvider() *HeapProvider {
	return &HeapProvider{next: heapBase}
}

func (p *HeapProvider) Obtain(size uint64) (Buffer, error) {
	if size == 0 {
		return Buffer{}, fmt.Errorf("obtain: zero-sized buffer")
	}
	if p.next+size < p.next {
		return Buffer{}, fmt.Errorf("obtain: payload address space exhausted")
	}
	b := Buffer{Base: p.next, Data: make([]byte, size)}
	p.next += size
	p.live++
	return b, nil
}

func (p *HeapProvider) Release(b Buffer) error {
	if p.live == 0 {
		return fmt.Errorf("release: no live buffers")
	}
	p.live--
	return nil
}

// Live returns the number of buffers obtained and not yet released.
func (p *HeapProvider) Live() int { return p.live }
