package alloc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

var (
	ErrZeroDim     = errors.New("size must be non-zero in every dimension")
	ErrDimTooLarge = errors.New("allocation does not fit inside the atlas")
	ErrAtlasFull   = errors.New("atlas is full")
)

// AtlasAllocation is a box [Offset, Offset+Dim) inside the atlas.
type AtlasAllocation struct {
	ID     uint64
	Offset core.UVec3
	Dim    core.UVec3
}

// AtlasAllocator is a forward-only shelf packer over a 3-D atlas. Boxes
// are laid left to right along X; a box that overflows X opens a new row
// (Y advances by the tallest box of the row), and a row that overflows Y
// opens a new slice (Z advances by the deepest box of the slice). Freed
// space is only reused after Cleanup.
type AtlasAllocator struct {
	dim core.UVec3

	cursor      core.UVec3
	rowHeight   uint32
	sliceDepth  uint32
	allocations map[uint64]AtlasAllocation
	nextID      uint64
}

func NewAtlasAllocator(dim core.UVec3) *AtlasAllocator {
	return &AtlasAllocator{
		dim:         dim,
		allocations: make(map[uint64]AtlasAllocation),
		nextID:      1,
	}
}

func (a *AtlasAllocator) Dim() core.UVec3 { return a.dim }

func (a *AtlasAllocator) Len() int { return len(a.allocations) }

func (a *AtlasAllocator) Allocate(dim core.UVec3) (AtlasAllocation, error) {
	if dim.AnyZero() {
		return AtlasAllocation{}, ErrZeroDim
	}
	if !dim.FitsIn(a.dim) {
		return AtlasAllocation{}, fmt.Errorf("%w: %v > %v", ErrDimTooLarge, dim, a.dim)
	}
	off, ok := a.place(dim)
	if !ok {
		return AtlasAllocation{}, ErrAtlasFull
	}
	alloc := AtlasAllocation{ID: a.nextID, Offset: off, Dim: dim}
	a.nextID++
	a.allocations[alloc.ID] = alloc
	return alloc, nil
}

// place runs one step of the shelf algorithm. The cursor is only advanced
// when the box fits.
func (a *AtlasAllocator) place(dim core.UVec3) (core.UVec3, bool) {
	cur, rh, sd := a.cursor, a.rowHeight, a.sliceDepth

	if cur.X+dim.X > a.dim.X {
		cur.X = 0
		cur.Y += rh
		rh = 0
	}
	if cur.Y+dim.Y > a.dim.Y {
		if sd == 0 {
			sd = 1
		}
		cur = core.UVec3{X: 0, Y: 0, Z: cur.Z + sd}
		rh = 0
		sd = 0
	}
	if cur.X+dim.X > a.dim.X || cur.Y+dim.Y > a.dim.Y || cur.Z+dim.Z > a.dim.Z {
		return core.UVec3{}, false
	}

	off := cur
	cur.X += dim.X
	a.cursor = cur
	a.rowHeight = max(rh, dim.Y)
	a.sliceDepth = max(sd, dim.Z)
	return off, true
}

func (a *AtlasAllocator) Lookup(id uint64) (AtlasAllocation, bool) {
	alloc, ok := a.allocations[id]
	return alloc, ok
}

// Deallocate drops the bookkeeping for id. The space is not reusable until
// Cleanup.
func (a *AtlasAllocator) Deallocate(id uint64) error {
	if _, ok := a.allocations[id]; !ok {
		return ErrIDNotFound
	}
	delete(a.allocations, id)
	return nil
}

// Cleanup re-packs every live allocation from the atlas origin in
// ascending id order. If re-packing ever failed the previous layout is
// restored untouched.
func (a *AtlasAllocator) Cleanup() {
	live := a.Allocations()

	savedCursor, savedRow, savedSlice := a.cursor, a.rowHeight, a.sliceDepth
	a.cursor, a.rowHeight, a.sliceDepth = core.UVec3{}, 0, 0

	placed := make([]AtlasAllocation, 0, len(live))
	for _, alloc := range live {
		off, ok := a.place(alloc.Dim)
		if !ok {
			a.cursor, a.rowHeight, a.sliceDepth = savedCursor, savedRow, savedSlice
			return
		}
		alloc.Offset = off
		placed = append(placed, alloc)
	}
	for _, alloc := range placed {
		a.allocations[alloc.ID] = alloc
	}
}

func (a *AtlasAllocator) Reset() {
	a.allocations = make(map[uint64]AtlasAllocation)
	a.cursor = core.UVec3{}
	a.rowHeight = 0
	a.sliceDepth = 0
	a.nextID = 1
}

// Allocations returns live allocations sorted by id.
func (a *AtlasAllocator) Allocations() []AtlasAllocation {
	out := make([]AtlasAllocation, 0, len(a.allocations))
	for _, alloc := range a.allocations {
		out = append(out, alloc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
