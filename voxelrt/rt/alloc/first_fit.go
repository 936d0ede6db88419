package alloc

import "fmt"

// FirstFitAllocator takes the first free block, in offset order, that can
// hold the request.
type FirstFitAllocator struct {
	pool
}

var _ Strategy = (*FirstFitAllocator)(nil)

func NewFirstFitAllocator(total uint64) *FirstFitAllocator {
	return &FirstFitAllocator{pool: newPool(total, firstFit)}
}

func firstFit(free []FreeBlock, size uint64) int {
	for i, b := range free {
		if b.Size >= size {
			return i
		}
	}
	return -1
}

func (a *FirstFitAllocator) String() string {
	return fmt.Sprintf("FirstFitAllocator{total: %d, allocated: %d, free_list: %d}", a.total, len(a.allocated), len(a.free))
}
