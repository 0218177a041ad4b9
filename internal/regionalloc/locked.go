package regionalloc

import "sync"

// Locked serializes access to an Allocator with a single mutex held for
// the whole of each operation, so a gap found during search cannot be
// raced by a concurrent allocation.
type Locked struct {
	mu sync.Mutex
	a  *Allocator
}

// Locked wraps the allocator for use by concurrent callers. The
// unwrapped allocator must not be used afterwards.
func (a *Allocator) Locked() *Locked {
	return &Locked{a: a}
}

func (l *Locked) Allocate(size uint64) (Ptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Allocate(size)
}

func (l *Locked) Reserve(start, size uint64) (Ptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Reserve(start, size)
}

func (l *Locked) Free(p Ptr) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Free(p)
}

func (l *Locked) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Len()
}

// Regions returns a point-in-time copy of the live regions in address
// order.
func (l *Locked) Regions() []Region {
	l.mu.Lock()
	defer l.mu.Unlock()
	regions := make([]Region, 0, l.a.Len())
	for r := range l.a.Regions() {
		regions = append(regions, r)
	}
	return regions
}
