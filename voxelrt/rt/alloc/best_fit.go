package alloc

import "fmt"

// BestFitAllocator scans every free block and takes the smallest one that
// can hold the request; the first one seen wins a tie.
type BestFitAllocator struct {
	pool
}

var _ Strategy = (*BestFitAllocator)(nil)

func NewBestFitAllocator(total uint64) *BestFitAllocator {
	return &BestFitAllocator{pool: newPool(total, bestFit)}
}

func bestFit(free []FreeBlock, size uint64) int {
	best := -1
	for i, b := range free {
		if b.Size < size {
			continue
		}
		if best < 0 || b.Size < free[best].Size {
			best = i
		}
	}
	return best
}

func (a *BestFitAllocator) String() string {
	return fmt.Sprintf("BestFitAllocator{total: %d, allocated: %d, free_list: %d}", a.total, len(a.allocated), len(a.free))
}

// Kind names a linear strategy in configuration.
type Kind string

const (
	KindFirstFit Kind = "first_fit"
	KindBestFit  Kind = "best_fit"
)

// New builds a linear allocator of the given kind.
func New(kind Kind, total uint64) (Strategy, error) {
	switch kind {
	case KindFirstFit, "":
		return NewFirstFitAllocator(total), nil
	case KindBestFit:
		return NewBestFitAllocator(total), nil
	}
	return nil, fmt.Errorf("unknown allocation strategy %q", kind)
}
