// Package alloc places variable-sized chunk data inside fixed-size GPU
// buffers (linear first-fit / best-fit pools) and 3-D atlases (shelf packer).
//
// None of the allocators lock internally; callers sharing one across
// goroutines wrap it in their own mutex.
package alloc

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotEnoughMemory = errors.New("not enough free memory")
	ErrResizeNoSpace   = errors.New("not enough free memory to resize")
	ErrIDNotFound      = errors.New("allocation id not found")
)

// Allocation is a live range in a linear pool. Offset is a snapshot: it
// may change after Cleanup or Resize, so hold on to ID and re-query with
// Lookup.
type Allocation struct {
	ID     uint64
	Offset uint64
	Size   uint64
}

func (a Allocation) End() uint64 { return a.Offset + a.Size }

// FreeBlock is a contiguous unallocated range.
type FreeBlock struct {
	Offset uint64
	Size   uint64
}

func (b FreeBlock) End() uint64 { return b.Offset + b.Size }

// Strategy is the contract shared by the linear allocators.
type Strategy interface {
	Allocate(size uint64) (Allocation, error)
	Lookup(id uint64) (Allocation, bool)
	Deallocate(id uint64) error
	// Cleanup compacts live allocations towards offset 0, keeping their
	// relative offset order, and leaves one trailing free block.
	Cleanup()
	Reset()
	// Resize grows or shrinks an allocation, moving it only when it cannot
	// change size in place.
	Resize(id uint64, size uint64) (Allocation, error)

	TotalSize() uint64
	FreeSize() uint64
	FreeBlocks() []FreeBlock
	Allocations() []Allocation
	Validate() error
}

// pickFunc chooses a free-list index able to hold size bytes, or -1.
type pickFunc func(free []FreeBlock, size uint64) int

// pool is the bookkeeping shared by FirstFitAllocator and BestFitAllocator;
// they only differ in how a free block is picked.
type pool struct {
	total     uint64
	allocated map[uint64]Allocation
	free      []FreeBlock
	nextID    uint64
	pick      pickFunc
}

func newPool(total uint64, pick pickFunc) pool {
	return pool{
		total:     total,
		allocated: make(map[uint64]Allocation),
		free:      []FreeBlock{{Offset: 0, Size: total}},
		nextID:    1,
		pick:      pick,
	}
}

// takeFrom carves size bytes off the front of free[i] and returns the offset.
func (p *pool) takeFrom(i int, size uint64) uint64 {
	off := p.free[i].Offset
	if p.free[i].Size == size {
		p.free = append(p.free[:i], p.free[i+1:]...)
	} else {
		p.free[i].Offset += size
		p.free[i].Size -= size
	}
	return off
}

func (p *pool) Allocate(size uint64) (Allocation, error) {
	i := p.pick(p.free, size)
	if i < 0 {
		return Allocation{}, ErrNotEnoughMemory
	}
	a := Allocation{ID: p.nextID, Offset: p.takeFrom(i, size), Size: size}
	p.nextID++
	p.allocated[a.ID] = a
	return a, nil
}

func (p *pool) Lookup(id uint64) (Allocation, bool) {
	a, ok := p.allocated[id]
	return a, ok
}

func (p *pool) Deallocate(id uint64) error {
	a, ok := p.allocated[id]
	if !ok {
		return ErrIDNotFound
	}
	delete(p.allocated, id)
	p.free = append(p.free, FreeBlock{Offset: a.Offset, Size: a.Size})
	p.coalesce()
	return nil
}

// coalesce sorts the free list by offset and merges touching blocks.
func (p *pool) coalesce() {
	sort.Slice(p.free, func(i, j int) bool { return p.free[i].Offset < p.free[j].Offset })
	merged := p.free[:0]
	for _, b := range p.free {
		if b.Size == 0 {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].End() == b.Offset {
			merged[n-1].Size += b.Size
			continue
		}
		merged = append(merged, b)
	}
	p.free = merged
}

func (p *pool) Cleanup() {
	live := p.sortedByOffset()
	var cur uint64
	for _, a := range live {
		a.Offset = cur
		p.allocated[a.ID] = a
		cur += a.Size
	}
	p.free = p.free[:0]
	if cur < p.total {
		p.free = append(p.free, FreeBlock{Offset: cur, Size: p.total - cur})
	}
}

func (p *pool) Reset() {
	p.allocated = make(map[uint64]Allocation)
	p.free = []FreeBlock{{Offset: 0, Size: p.total}}
	p.nextID = 1
}

func (p *pool) Resize(id uint64, size uint64) (Allocation, error) {
	a, ok := p.allocated[id]
	if !ok {
		return Allocation{}, ErrIDNotFound
	}
	switch {
	case size == a.Size:
		return a, nil

	case size < a.Size:
		p.free = append(p.free, FreeBlock{Offset: a.Offset + size, Size: a.Size - size})
		a.Size = size
		p.allocated[id] = a
		p.coalesce()
		return a, nil
	}

	grow := size - a.Size
	for i, b := range p.free {
		if b.Offset == a.End() && b.Size >= grow {
			p.takeFrom(i, grow)
			a.Size = size
			p.allocated[id] = a
			return a, nil
		}
	}

	i := p.pick(p.free, size)
	if i < 0 {
		return Allocation{}, ErrResizeNoSpace
	}
	newOff := p.takeFrom(i, size)
	p.free = append(p.free, FreeBlock{Offset: a.Offset, Size: a.Size})
	p.coalesce()
	a.Offset = newOff
	a.Size = size
	p.allocated[id] = a
	return a, nil
}

func (p *pool) TotalSize() uint64 { return p.total }

func (p *pool) FreeSize() uint64 {
	var n uint64
	for _, b := range p.free {
		n += b.Size
	}
	return n
}

// FreeBlocks returns a copy of the free list in its current order.
func (p *pool) FreeBlocks() []FreeBlock {
	out := make([]FreeBlock, len(p.free))
	copy(out, p.free)
	return out
}

// Allocations returns a copy of all live allocations sorted by offset.
func (p *pool) Allocations() []Allocation {
	return p.sortedByOffset()
}

func (p *pool) sortedByOffset() []Allocation {
	out := make([]Allocation, 0, len(p.allocated))
	for _, a := range p.allocated {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Validate checks that free blocks and live allocations tile [0, total)
// exactly, with no gap and no overlap.
func (p *pool) Validate() error {
	type span struct {
		off, size uint64
		what      string
	}
	spans := make([]span, 0, len(p.free)+len(p.allocated))
	for _, b := range p.free {
		if b.Size > 0 {
			spans = append(spans, span{b.Offset, b.Size, "free"})
		}
	}
	for _, a := range p.allocated {
		if a.Size > 0 {
			spans = append(spans, span{a.Offset, a.Size, fmt.Sprintf("alloc %d", a.ID)})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].off < spans[j].off })

	var cur uint64
	for _, s := range spans {
		if s.off < cur {
			return fmt.Errorf("%s at %d overlaps previous range ending at %d", s.what, s.off, cur)
		}
		if s.off > cur {
			return fmt.Errorf("gap [%d, %d) is neither free nor allocated", cur, s.off)
		}
		cur = s.off + s.size
	}
	if cur != p.total {
		return fmt.Errorf("ranges end at %d, pool size is %d", cur, p.total)
	}
	return nil
}
