package builder

import (
	"math/bits"

	"github.com/gekko3d/voxbuild/voxelrt/rt/kernels"
)

// OctreeVoxel looks up (x, y, z) in a chunk's octree entries. Zero means
// empty.
func OctreeVoxel(entries []uint32, levels, x, y, z uint32) uint32 {
	coord := kernels.PackCoord(x, y, z)
	var base uint32
	for j := uint32(0); j < levels; j++ {
		idx := base + kernels.OctreeChild(coord, levels-1-j)
		if int(idx) >= len(entries) {
			return 0
		}
		e := entries[idx]
		if j == levels-1 {
			return e
		}
		if e&kernels.OctreeOccupied == 0 {
			return 0
		}
		base = e & kernels.PtrMask
	}
	return 0
}

// Voxel looks up (x, y, z) in the chunk. Zero means empty.
func (c *ContreeChunk) Voxel(x, y, z uint32) uint32 {
	if len(c.Nodes) < kernels.NodeWords {
		return 0
	}
	node := uint32(0)
	for d := uint32(0); d+1 < c.Levels; d++ {
		shift := 2 * (c.Levels - 2 - d)
		b := kernels.ContreeChild(x>>shift&3, y>>shift&3, z>>shift&3)
		mask := uint64(c.Nodes[node*kernels.NodeWords]) | uint64(c.Nodes[node*kernels.NodeWords+1])<<32
		if mask&(1<<b) == 0 {
			return 0
		}
		rank := uint32(bits.OnesCount64(mask & (1<<b - 1)))
		ptr := c.Nodes[node*kernels.NodeWords+2]
		if ptr&kernels.ContreeLeafFlag != 0 {
			i := ptr&kernels.PtrMask - c.LeafOffset + rank
			if int(i) >= len(c.Leaves) {
				return 0
			}
			return c.Leaves[i]
		}
		node = ptr - c.NodeOffset + rank
		if int(node*kernels.NodeWords) >= len(c.Nodes) {
			return 0
		}
	}
	return 0
}
