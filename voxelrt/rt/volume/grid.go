package volume

import (
	"github.com/gekko3d/voxbuild/voxelrt/rt/core"
)

// Writer receives voxels from the primitive fills.
type Writer interface {
	SetVoxel(x, y, z int, value uint32)
}

// DenseGrid is a host-side voxel box with the atlas memory layout: one
// u32 per voxel, x-fastest, 0 meaning empty.
type DenseGrid struct {
	Dim  core.UVec3
	Data []uint32
}

func NewDenseGrid(dim core.UVec3) *DenseGrid {
	return &DenseGrid{Dim: dim, Data: make([]uint32, dim.Volume())}
}

func (g *DenseGrid) inside(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < int(g.Dim.X) && y < int(g.Dim.Y) && z < int(g.Dim.Z)
}

func (g *DenseGrid) index(x, y, z int) int {
	return x + y*int(g.Dim.X) + z*int(g.Dim.X)*int(g.Dim.Y)
}

// SetVoxel ignores coordinates outside the grid.
func (g *DenseGrid) SetVoxel(x, y, z int, value uint32) {
	if g.inside(x, y, z) {
		g.Data[g.index(x, y, z)] = value
	}
}

func (g *DenseGrid) Voxel(x, y, z int) uint32 {
	if !g.inside(x, y, z) {
		return 0
	}
	return g.Data[g.index(x, y, z)]
}

// Row aliases the x-row at (y, z).
func (g *DenseGrid) Row(y, z uint32) []uint32 {
	start := g.index(0, int(y), int(z))
	return g.Data[start : start+int(g.Dim.X)]
}

// Count returns the number of non-empty voxels.
func (g *DenseGrid) Count() int {
	n := 0
	for _, v := range g.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Slice returns the z-th XY plane.
func (g *DenseGrid) Slice(z uint32) []uint32 {
	plane := int(g.Dim.X) * int(g.Dim.Y)
	return g.Data[int(z)*plane : int(z+1)*plane]
}
